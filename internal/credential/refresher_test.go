package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthRefresher_Refresh(t *testing.T) {
	testCases := []struct {
		name            string
		status          int
		body            string
		expectErr       bool
		expectToken     string
		expectRotated   string
		expectLifetimeS float64
	}{
		{
			name:            "returns the new access token and lifetime",
			status:          http.StatusOK,
			body:            `{"access_token":"ya29.new","token_type":"Bearer","expires_in":3599}`,
			expectToken:     "ya29.new",
			expectLifetimeS: 3599,
		},
		{
			name:            "defaults lifetime when expires_in is missing",
			status:          http.StatusOK,
			body:            `{"access_token":"ya29.new","token_type":"Bearer"}`,
			expectToken:     "ya29.new",
			expectLifetimeS: DefaultLifetime.Seconds(),
		},
		{
			name:            "reports a rotated refresh token",
			status:          http.StatusOK,
			body:            `{"access_token":"ya29.new","refresh_token":"1//rotated","expires_in":600}`,
			expectToken:     "ya29.new",
			expectRotated:   "1//rotated",
			expectLifetimeS: 600,
		},
		{
			name:      "provider error",
			status:    http.StatusBadRequest,
			body:      `{"error":"invalid_grant"}`,
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
				assert.Equal(t, "1//refresh", r.PostForm.Get("refresh_token"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			refresher := NewGoogleRefresher("client-id", "client-secret", server.URL).WithHTTPClient(server.Client())

			renewal, err := refresher.Refresh(context.Background(), "1//refresh")
			if tc.expectErr {
				assert.Error(t, err)
				assert.Nil(t, renewal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectToken, renewal.AccessToken)
			assert.Equal(t, tc.expectRotated, renewal.RefreshToken)
			assert.InDelta(t, tc.expectLifetimeS, renewal.Lifetime.Seconds(), 5)
		})
	}
}
