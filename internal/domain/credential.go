package domain

import "time"

// Credential is a provider access credential. ExpiresAt is nil when the
// provider did not declare a lifetime.
type Credential struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential is past its expiry at now.
// An unknown expiry counts as expired.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Before(*c.ExpiresAt)
}
