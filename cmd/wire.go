package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/naka-gawa/year-review/internal/config"
	"github.com/naka-gawa/year-review/internal/credential"
	"github.com/naka-gawa/year-review/internal/domain"
	"github.com/naka-gawa/year-review/internal/gateway"
	"github.com/naka-gawa/year-review/internal/usecase"
)

// app bundles the long-lived dependencies of a command.
type app struct {
	persister  credential.Persister
	store      *credential.Store
	aggregator *usecase.Aggregator
}

// newApp wires storage, credentials and every provider adapter from cfg.
func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	persister, err := credential.NewPersister(ctx, credential.Backend(cfg.Storage.Backend), cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential storage: %w", err)
	}

	opts := []credential.Option{
		credential.WithPersister(persister),
		credential.WithLogger(log),
	}
	if cfg.Google.ClientID != "" {
		refresher := credential.NewGoogleRefresher(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenURL)
		opts = append(opts, credential.WithRefresher(domain.ProviderGoogle, refresher))
	}
	store := credential.NewStore(opts...)

	if err := seedCredentials(ctx, store, cfg); err != nil {
		persister.Close()
		return nil, err
	}

	providers, err := newProviders(ctx, store, cfg, log)
	if err != nil {
		persister.Close()
		return nil, err
	}

	aggregator := usecase.NewAggregator(providers, store, log,
		usecase.WithTimeout(cfg.Timeout),
		usecase.WithConcurrency(cfg.Concurrency),
	)
	return &app{persister: persister, store: store, aggregator: aggregator}, nil
}

func (a *app) Close() error {
	return a.persister.Close()
}

// seedCredentials copies tokens from the configuration into the store.
func seedCredentials(ctx context.Context, store *credential.Store, cfg *config.Config) error {
	seeds := []struct {
		provider domain.Provider
		access   string
		refresh  string
	}{
		{domain.ProviderGitHub, cfg.GitHub.Token, ""},
		{domain.ProviderGoogle, cfg.Google.AccessToken, cfg.Google.RefreshToken},
		{domain.ProviderSlack, cfg.Slack.Token, ""},
		{domain.ProviderLinear, cfg.Linear.APIKey, ""},
	}
	var errs []error
	for _, s := range seeds {
		if _, err := store.Seed(ctx, s.provider, s.access, s.refresh); err != nil {
			errs = append(errs, fmt.Errorf("failed to seed %s credential: %w", s.provider, err))
		}
	}
	return errors.Join(errs...)
}

func newProviders(ctx context.Context, store gateway.TokenSourcer, cfg *config.Config, log *logrus.Logger) ([]gateway.Provider, error) {
	github, err := gateway.NewGitHubGateway(store.TokenSource(ctx, domain.ProviderGitHub), gateway.GitHubOptions{
		BaseURL:        cfg.GitHub.BaseURL,
		GraphQLURL:     cfg.GitHub.GraphQLURL,
		MaxRepos:       cfg.GitHub.MaxRepos,
		RepoListLimit:  cfg.GitHub.RepoListLimit,
		MaxCommitPages: cfg.GitHub.MaxCommitPages,
		PageDelay:      cfg.GitHub.PageDelay,
	}, log.WithField("provider", domain.ProviderGitHub))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}

	google := gateway.NewGoogleGateway(store.TokenSource(ctx, domain.ProviderGoogle), gateway.GoogleOptions{
		BaseURL:           cfg.Google.BaseURL,
		SampleSize:        cfg.Google.SampleSize,
		SampleDelay:       cfg.Google.SampleDelay,
		CalendarMaxPages:  cfg.Google.CalendarMaxPages,
		CalendarPageDelay: cfg.Google.CalendarPageDelay,
	}, log.WithField("provider", domain.ProviderGoogle))

	slack := gateway.NewSlackGateway(store.TokenSource(ctx, domain.ProviderSlack), gateway.SlackOptions{
		BaseURL:     cfg.Slack.BaseURL,
		MaxChannels: cfg.Slack.MaxChannels,
		MessageCap:  cfg.Slack.MessageCap,
		PageDelay:   cfg.Slack.PageDelay,
	}, log.WithField("provider", domain.ProviderSlack))

	linear := gateway.NewLinearGateway(store.TokenSource(ctx, domain.ProviderLinear), gateway.LinearOptions{
		URL:       cfg.Linear.URL,
		MaxPages:  cfg.Linear.MaxPages,
		PageDelay: cfg.Linear.PageDelay,
	}, log.WithField("provider", domain.ProviderLinear))

	return []gateway.Provider{github, google, slack, linear}, nil
}
