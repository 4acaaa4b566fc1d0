// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
	"github.com/naka-gawa/year-review/internal/gateway"
)

const (
	DefaultTimeout     = 5 * time.Minute
	DefaultConcurrency = 4
	firstSupportedYear = 2000
)

// CredentialClearer drops a provider's stored credential.
type CredentialClearer interface {
	Clear(ctx context.Context, provider domain.Provider) error
}

// Aggregator is the use case for building a year in review.
// It runs every provider adapter concurrently and keeps their outcomes isolated.
type Aggregator struct {
	providers   map[domain.Provider]gateway.Provider
	store       CredentialClearer
	timeout     time.Duration
	concurrency int
	now         func() time.Time
	logger      logrus.FieldLogger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTimeout bounds a whole Aggregate call.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithConcurrency limits how many providers are fetched at once.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) { a.concurrency = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(providers []gateway.Provider, store CredentialClearer, logger logrus.FieldLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers:   make(map[domain.Provider]gateway.Provider, len(providers)),
		store:       store,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      logger,
	}
	for _, p := range providers {
		a.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds the report for year. An empty providers list means every
// supported provider. A provider that fails is reported unavailable with the
// reason; it never appears as a zeroed report.
func (a *Aggregator) Aggregate(ctx context.Context, year int, providers []domain.Provider) (*domain.Report, error) {
	if year < firstSupportedYear || year > a.now().Year()+1 {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unsupported year %d", year))
	}
	if len(providers) == 0 {
		providers = domain.AllProviders
	}
	for _, p := range providers {
		if !p.Valid() {
			return nil, apperrors.NewBadRequestError(fmt.Sprintf("unknown provider %q", p))
		}
	}

	a.logger.WithFields(logrus.Fields{"year": year, "providers": providers}).Info("Usecase: Starting year in review aggregation...")
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	reports := make([]domain.ProviderReport, len(providers))
	var eg errgroup.Group
	if a.concurrency > 0 {
		eg.SetLimit(a.concurrency)
	}
	for i, p := range providers {
		i, p := i, p
		eg.Go(func() error {
			reports[i] = a.collect(ctx, p, year)
			return nil
		})
	}
	_ = eg.Wait()

	a.logger.Info("Usecase: Aggregation complete.")
	return &domain.Report{
		ID:          uuid.NewString(),
		Year:        year,
		GeneratedAt: a.now().UTC(),
		Providers:   reports,
	}, nil
}

// Disconnect forgets the stored credential of provider.
func (a *Aggregator) Disconnect(ctx context.Context, provider domain.Provider) error {
	if !provider.Valid() {
		return apperrors.NewBadRequestError(fmt.Sprintf("unknown provider %q", provider))
	}
	if err := a.store.Clear(ctx, provider); err != nil {
		return apperrors.NewInternalError("clear credential", err)
	}
	a.logger.WithField("provider", provider).Info("Provider disconnected")
	return nil
}

func (a *Aggregator) collect(ctx context.Context, p domain.Provider, year int) domain.ProviderReport {
	logger := a.logger.WithField("provider", p)
	adapter, ok := a.providers[p]
	if !ok {
		return unavailable(p, apperrors.NewNotConnectedError(string(p)), true)
	}

	stats, err := adapter.YearStats(ctx, year)
	if err != nil {
		disconnected := false
		if apperrors.IsCredential(err) {
			disconnected = true
			if clearErr := a.store.Clear(ctx, p); clearErr != nil {
				logger.WithError(clearErr).Error("Failed to clear credential")
			}
		}
		logger.WithError(err).Warn("Provider unavailable")
		return unavailable(p, err, disconnected)
	}

	logger.WithField("total", stats.TotalCount).Info("Provider data fetched successfully.")
	return domain.ProviderReport{
		Provider: p,
		Status:   domain.StatusAvailable,
		Stats:    stats,
	}
}

func unavailable(p domain.Provider, err error, disconnected bool) domain.ProviderReport {
	message := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		message = appErr.Message
	}
	return domain.ProviderReport{
		Provider:     p,
		Status:       domain.StatusUnavailable,
		Reason:       string(apperrors.CodeOf(err)),
		Message:      message,
		Disconnected: disconnected,
	}
}
