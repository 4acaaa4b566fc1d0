// Package gateway provides one adapter per external provider, each turning
// the provider's REST or GraphQL API into normalized year statistics.
package gateway

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

// Provider is the capability every adapter implements.
type Provider interface {
	Name() domain.Provider
	// Identity returns the authenticated account. It doubles as the
	// credential validation call.
	Identity(ctx context.Context) (*domain.Identity, error)
	YearStats(ctx context.Context, year int) (*domain.YearStats, error)
}

// TokenSourcer hands out per-provider token sources. *credential.Store implements it.
type TokenSourcer interface {
	TokenSource(ctx context.Context, provider domain.Provider) oauth2.TokenSource
}

// contextTokenSource can bound token retrieval, including a renewal, by
// the context of the request that needs the token.
type contextTokenSource interface {
	TokenContext(ctx context.Context) (*oauth2.Token, error)
}

// tokenFor returns a token for a request made under ctx.
func tokenFor(ctx context.Context, source oauth2.TokenSource) (*oauth2.Token, error) {
	if scoped, ok := source.(contextTokenSource); ok {
		return scoped.TokenContext(ctx)
	}
	return source.Token()
}

type requestTokenSource struct {
	ctx    context.Context
	source oauth2.TokenSource
}

func (r requestTokenSource) Token() (*oauth2.Token, error) {
	return tokenFor(r.ctx, r.source)
}

// authTransport is an oauth2.Transport whose token is obtained under each
// request's context.
type authTransport struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	inner := &oauth2.Transport{
		Base:   t.base,
		Source: requestTokenSource{ctx: req.Context(), source: t.source},
	}
	return inner.RoundTrip(req)
}

// newAuthClient returns an HTTP client that authorizes every request with
// a token from source, on top of base.
func newAuthClient(source oauth2.TokenSource, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &authTransport{source: source, base: base},
	}
}

// classify turns a failed call into the error taxonomy. Credential errors
// raised by the token source pass through untouched.
func classify(provider domain.Provider, status int, message string, err error) error {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	switch status {
	case http.StatusUnauthorized:
		return apperrors.NewReauthorizationRequiredError(string(provider), message+": credential rejected")
	}
	return apperrors.NewProviderFetchError(string(provider), status, message, err)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
