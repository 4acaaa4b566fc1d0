package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

func setupTestSlack(t *testing.T, handler http.Handler) (*SlackGateway, *test.Hook, *httptest.Server) {
	server := httptest.NewServer(handler)
	logger, hook := test.NewNullLogger()
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "xoxp-test"})
	return NewSlackGateway(source, SlackOptions{BaseURL: server.URL, PageDelay: time.Millisecond}, logger), hook, server
}

func slackIdentityHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "user_id": "U1", "user": "ada", "team": "T"}`)
	})
	mux.HandleFunc("/users.info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "user": {"real_name": "Ada Lovelace", "profile": {"email": "ada@example.com"}}}`)
	})
}

func TestSlackGateway_YearStats(t *testing.T) {
	mux := http.NewServeMux()
	slackIdentityHandlers(mux)
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "public_channel,private_channel", r.URL.Query().Get("types"))
		fmt.Fprint(w, `{"ok": true, "channels": [
			{"id": "C1", "name": "general", "is_member": true},
			{"id": "C2", "name": "random", "is_member": false}
		], "response_metadata": {"next_cursor": ""}}`)
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "C1", r.URL.Query().Get("channel"))
		assert.Equal(t, "1704067200", r.URL.Query().Get("oldest"))
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "user": "U1", "ts": "1709290000.000100"},
			{"type": "message", "user": "U1", "ts": "1709290100.000200"},
			{"type": "message", "user": "U1", "ts": "1717200000.000300"},
			{"type": "message", "user": "U1", "ts": "1717200100.000400"},
			{"type": "message", "user": "U2", "ts": "1717200200.000500"},
			{"type": "message", "subtype": "channel_join", "user": "U1", "ts": "1717200300.000600"}
		]}`)
	})

	gateway, _, server := setupTestSlack(t, mux)
	defer server.Close()

	stats, err := gateway.YearStats(context.Background(), 2024)
	require.NoError(t, err)

	assert.Equal(t, domain.Identity{ID: "U1", Name: "Ada Lovelace", Email: "ada@example.com", Handle: "ada"}, stats.Identity)
	assert.Equal(t, 4, stats.TotalCount)
	assert.Equal(t, stats.TotalCount, stats.Monthly.Sum())
	assert.Equal(t, 2, stats.Monthly[2])
	assert.Equal(t, 2, stats.Monthly[5])
	assert.Equal(t, []domain.TopEntry{{Label: "general", Count: 4}}, stats.TopEntities)
	assert.Equal(t, &domain.ChatStats{TotalMessages: 4, ChannelsParticipated: 1, TotalChannels: 1}, stats.Chat)
	assert.Equal(t, 0.0, stats.AveragePerDay)
}

func TestSlackGateway_MessageCap(t *testing.T) {
	mux := http.NewServeMux()
	slackIdentityHandlers(mux)
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "channels": [{"id": "C1", "name": "general", "is_member": true}]}`)
	})
	var calls int32
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"ok": true, "has_more": true, "response_metadata": {"next_cursor": "c%d"}, "messages": [
			{"type": "message", "user": "U1", "ts": "1709290000.000100"},
			{"type": "message", "user": "U1", "ts": "1709290001.000100"},
			{"type": "message", "user": "U1", "ts": "1709290002.000100"}
		]}`, n)
	})

	gateway, _, server := setupTestSlack(t, mux)
	defer server.Close()
	gateway.opts.MessageCap = 5

	stats, err := gateway.YearStats(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 5, stats.TotalCount)
}

func TestSlackGateway_Failures(t *testing.T) {
	testCases := []struct {
		name          string
		list          string
		history       string
		expectedCode  apperrors.ErrCode
		expectedTotal int
		expectWarning bool
	}{
		{
			name:         "revoked token",
			list:         `{"ok": false, "error": "token_revoked"}`,
			expectedCode: apperrors.ErrCodeReauthorizationRequired,
		},
		{
			name:         "listing fails without data",
			list:         `{"ok": false, "error": "ratelimited"}`,
			expectedCode: apperrors.ErrCodeProviderFetch,
		},
		{
			name:          "one channel fails",
			list:          `{"ok": true, "channels": [{"id": "C1", "name": "general", "is_member": true}, {"id": "C2", "name": "secret", "is_member": true}]}`,
			history:       `{"ok": false, "error": "channel_not_found"}`,
			expectedTotal: 1,
			expectWarning: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			slackIdentityHandlers(mux)
			mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.list)
			})
			mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("channel") == "C2" {
					fmt.Fprint(w, tc.history)
					return
				}
				fmt.Fprint(w, `{"ok": true, "messages": [{"type": "message", "user": "U1", "ts": "1709290000.000100"}]}`)
			})

			gateway, hook, server := setupTestSlack(t, mux)
			defer server.Close()

			stats, err := gateway.YearStats(context.Background(), 2024)
			if tc.expectedCode != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectedCode, apperrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedTotal, stats.TotalCount)
			assert.Equal(t, tc.expectWarning, hasWarning(hook))
		})
	}
}

func TestParseSlackTS(t *testing.T) {
	ts, err := parseSlackTS("1709290000.000200")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 1, 10, 46, 40, 200000, time.UTC), ts)

	_, err = parseSlackTS("not-a-ts")
	assert.Error(t, err)
}
