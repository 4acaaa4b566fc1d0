package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
	"github.com/naka-gawa/year-review/internal/pager"
)

const (
	maxRateLimitRetries = 3
	maxRetryAfter       = time.Minute
)

// jsonClient issues authorized JSON calls against one provider's REST API.
// Responses with status 429 are retried with exponential backoff.
type jsonClient struct {
	provider   domain.Provider
	baseURL    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	sleep      pager.SleepFunc
	logger     logrus.FieldLogger
}

func newJSONClient(provider domain.Provider, baseURL string, httpClient *http.Client, logger logrus.FieldLogger) *jsonClient {
	return &jsonClient{
		provider:   provider,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return backoff.WithMaxRetries(b, maxRateLimitRetries)
		},
		sleep:  pager.Sleep,
		logger: logger,
	}
}

func (c *jsonClient) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, out)
}

func (c *jsonClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return backoff.Permanent(apperrors.NewInternalError("build request", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(classify(c.provider, 0, method+" "+path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			c.logger.WithFields(logrus.Fields{"provider": c.provider, "path": path, "retry_after": wait}).Warn("Rate limited, backing off...")
			if wait > 0 {
				if err := c.sleep(ctx, wait); err != nil {
					return backoff.Permanent(err)
				}
			}
			return apperrors.NewProviderFetchError(string(c.provider), resp.StatusCode, method+" "+path+": rate limited", nil)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(classify(c.provider, resp.StatusCode, method+" "+path, fmt.Errorf("%s", strings.TrimSpace(string(snippet)))))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(apperrors.NewMalformedResponseError(string(c.provider), "decode "+path, err))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return 0
	}
	wait := time.Duration(seconds) * time.Second
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}
