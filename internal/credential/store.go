// Package credential owns provider credentials: their storage, expiry
// checks and renewal.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

// DefaultRefreshMargin is subtracted from a provider-declared lifetime so a
// token is renewed before the edge of its expiry.
const DefaultRefreshMargin = 300 * time.Second

// Store holds one credential per provider. It is constructed once per
// process and handed to the gateways; callers only ever get copies.
type Store struct {
	mu         sync.Mutex
	creds      map[domain.Provider]domain.Credential
	persister  Persister
	refreshers map[domain.Provider]Refresher
	margin     time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithPersister backs the store with durable storage.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithRefresher registers the renewal path for a provider.
func WithRefresher(provider domain.Provider, r Refresher) Option {
	return func(s *Store) { s.refreshers[provider] = r }
}

// WithMargin overrides DefaultRefreshMargin.
func WithMargin(margin time.Duration) Option {
	return func(s *Store) { s.margin = margin }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store. Without a persister credentials live in memory only.
func NewStore(opts ...Option) *Store {
	s := &Store{
		creds:      make(map[domain.Provider]domain.Credential),
		refreshers: make(map[domain.Provider]Refresher),
		margin:     DefaultRefreshMargin,
		now:        time.Now,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persister == nil {
		s.persister = NewMemoryPersister()
	}
	return s
}

// Get returns a copy of the stored credential.
func (s *Store) Get(ctx context.Context, provider domain.Provider) (domain.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, provider)
}

// Set stores cred for provider, replacing any previous credential.
func (s *Store) Set(ctx context.Context, provider domain.Provider, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, provider, cred)
}

// SetWithLifetime stores an access credential declared valid for lifetime,
// applying the refresh margin.
func (s *Store) SetWithLifetime(ctx context.Context, provider domain.Provider, access, refresh string, lifetime time.Duration) error {
	expiresAt := s.expiry(lifetime)
	return s.Set(ctx, provider, domain.Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    &expiresAt,
	})
}

// Clear removes every credential held for provider.
func (s *Store) Clear(ctx context.Context, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear(ctx, provider)
}

// IsExpired reports whether the stored credential is expired. Missing
// credentials and unknown expiries count as expired.
func (s *Store) IsExpired(ctx context.Context, provider domain.Provider) bool {
	cred, ok, err := s.Get(ctx, provider)
	if err != nil || !ok {
		return true
	}
	return cred.Expired(s.now())
}

// Connected reports whether a credential is stored for provider.
func (s *Store) Connected(ctx context.Context, provider domain.Provider) bool {
	_, ok, err := s.Get(ctx, provider)
	return err == nil && ok
}

// EnsureValid returns a usable access token for provider, renewing it when
// it has expired. A failed or impossible renewal clears the provider and
// returns a credential expired error; the stale token is never returned.
//
// Static providers are returned as-is unless they carry an explicit
// expiry in the past. Their validity is established by the gateway's
// identity call. A renewable provider with no refresher registered cannot
// renew, so its expired credential is cleared.
func (s *Store) EnsureValid(ctx context.Context, provider domain.Provider) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok, err := s.load(ctx, provider)
	if err != nil {
		return "", apperrors.NewInternalError("load credential", err)
	}
	if !ok || (cred.AccessToken == "" && cred.RefreshToken == "") {
		return "", apperrors.NewNotConnectedError(string(provider))
	}

	now := s.now()
	refresher, registered := s.refreshers[provider]
	if !registered && !provider.Renewable() {
		if cred.AccessToken == "" {
			return "", apperrors.NewNotConnectedError(string(provider))
		}
		if cred.ExpiresAt != nil && cred.Expired(now) {
			s.clearQuietly(ctx, provider)
			return "", apperrors.NewReauthorizationRequiredError(string(provider), "static credential expired")
		}
		return cred.AccessToken, nil
	}

	if !cred.Expired(now) {
		return cred.AccessToken, nil
	}

	log := s.logger.WithField("provider", provider)
	if cred.RefreshToken == "" {
		log.Warn("Credential expired and no refresh token is available")
		s.clearQuietly(ctx, provider)
		return "", apperrors.NewCredentialExpiredError(string(provider), "credential expired and no refresh token available", nil)
	}

	if refresher == nil {
		log.Warn("Credential expired and no refresher is configured")
		s.clearQuietly(ctx, provider)
		return "", apperrors.NewCredentialExpiredError(string(provider), "credential expired and renewal is not configured", nil)
	}

	log.Debug("Renewing expired credential...")
	renewal, err := refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.WithError(err).Warn("Credential renewal interrupted")
			return "", ctxErr
		}
		log.WithError(err).Warn("Credential renewal failed")
		s.clearQuietly(ctx, provider)
		return "", apperrors.NewCredentialExpiredError(string(provider), "credential renewal failed", err)
	}

	expiresAt := s.expiry(renewal.Lifetime)
	renewed := domain.Credential{
		AccessToken:  renewal.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    &expiresAt,
	}
	if renewal.RefreshToken != "" {
		renewed.RefreshToken = renewal.RefreshToken
	}
	if err := s.save(ctx, provider, renewed); err != nil {
		return "", apperrors.NewInternalError("save renewed credential", err)
	}
	log.Debug("Credential renewed.")
	return renewed.AccessToken, nil
}

// TokenSource adapts EnsureValid to oauth2 so gateways can use an
// oauth2.Transport for every request. Token uses ctx; TokenContext lets a
// transport bound a renewal by the request's own context instead.
func (s *Store) TokenSource(ctx context.Context, provider domain.Provider) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: s, provider: provider}
}

type storeTokenSource struct {
	ctx      context.Context
	store    *Store
	provider domain.Provider
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	return ts.TokenContext(ts.ctx)
}

func (ts *storeTokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	access, err := ts.store.EnsureValid(ctx, ts.provider)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

func (s *Store) expiry(lifetime time.Duration) time.Time {
	return s.now().Add(lifetime - s.margin)
}

func (s *Store) load(ctx context.Context, provider domain.Provider) (domain.Credential, bool, error) {
	if cred, ok := s.creds[provider]; ok {
		return cred, true, nil
	}
	cred, ok, err := s.persister.Load(ctx, provider)
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("failed to load %s credential: %w", provider, err)
	}
	if ok {
		s.creds[provider] = cred
	}
	return cred, ok, nil
}

func (s *Store) save(ctx context.Context, provider domain.Provider, cred domain.Credential) error {
	if err := s.persister.Save(ctx, provider, cred); err != nil {
		return fmt.Errorf("failed to save %s credential: %w", provider, err)
	}
	s.creds[provider] = cred
	return nil
}

func (s *Store) clear(ctx context.Context, provider domain.Provider) error {
	delete(s.creds, provider)
	if err := s.persister.Delete(ctx, provider); err != nil {
		return fmt.Errorf("failed to delete %s credential: %w", provider, err)
	}
	return nil
}

func (s *Store) clearQuietly(ctx context.Context, provider domain.Provider) {
	if err := s.clear(ctx, provider); err != nil {
		s.logger.WithError(err).WithField("provider", provider).Error("Failed to clear credential")
	}
}
