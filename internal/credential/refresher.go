package credential

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// DefaultLifetime is assumed when the token endpoint omits expires_in.
const DefaultLifetime = 3600 * time.Second

// Renewal is a freshly issued access credential.
type Renewal struct {
	AccessToken string
	// RefreshToken is set when the issuer rotated the renewal credential.
	RefreshToken string
	Lifetime     time.Duration
}

// Refresher exchanges a renewal credential for a new access credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Renewal, error)
}

// OAuthRefresher renews tokens with the OAuth2 refresh-token grant.
type OAuthRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewGoogleRefresher returns a refresher for Google's token endpoint.
// tokenURL overrides the endpoint when non-empty.
func NewGoogleRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	endpoint := endpoints.Google
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	return NewOAuthRefresher(&oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
	})
}

// NewOAuthRefresher creates a refresher for an arbitrary OAuth2 config.
func NewOAuthRefresher(config *oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{
		config: config,
		now:    time.Now,
	}
}

// WithHTTPClient makes the refresher issue requests through client.
func (r *OAuthRefresher) WithHTTPClient(client *http.Client) *OAuthRefresher {
	r.httpClient = client
	return r
}

// Refresh implements Refresher.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*Renewal, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	// Expiry is left zero so the source always hits the token endpoint.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned an empty access token")
	}

	lifetime := DefaultLifetime
	if !tok.Expiry.IsZero() {
		lifetime = tok.Expiry.Sub(r.now())
	}
	renewal := &Renewal{
		AccessToken: tok.AccessToken,
		Lifetime:    lifetime,
	}
	if tok.RefreshToken != refreshToken {
		renewal.RefreshToken = tok.RefreshToken
	}
	return renewal, nil
}
