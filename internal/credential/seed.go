package credential

import (
	"context"

	"github.com/naka-gawa/year-review/internal/domain"
)

// Seed stores a credential supplied out of band, such as from the
// environment. A credential already stored with the same tokens is kept so
// that renewed access tokens survive restarts. It reports whether the
// store changed.
func (s *Store) Seed(ctx context.Context, provider domain.Provider, access, refresh string) (bool, error) {
	if access == "" && refresh == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.load(ctx, provider)
	if err != nil {
		return false, err
	}
	if ok {
		if refresh != "" && current.RefreshToken == refresh {
			return false, nil
		}
		if refresh == "" && current.AccessToken == access {
			return false, nil
		}
	}

	// The expiry is unknown, so renewable providers exchange the refresh
	// token on first use.
	cred := domain.Credential{AccessToken: access, RefreshToken: refresh}
	if err := s.save(ctx, provider, cred); err != nil {
		return false, err
	}
	s.logger.WithField("provider", provider).Debug("Credential seeded")
	return true, nil
}
