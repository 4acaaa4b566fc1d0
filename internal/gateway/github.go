package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
	"github.com/naka-gawa/year-review/internal/pager"
)

const (
	DefaultGitHubMaxRepos       = 15
	DefaultGitHubRepoListLimit  = 100
	DefaultGitHubMaxCommitPages = 10
	DefaultGitHubPageDelay      = 100 * time.Millisecond
	githubPerPage               = 100
)

// GitHubOptions tunes the GitHub adapter. Zero values fall back to defaults.
type GitHubOptions struct {
	// BaseURL overrides the REST endpoint, e.g. for GitHub Enterprise.
	BaseURL    string
	// GraphQLURL overrides the GraphQL endpoint.
	GraphQLURL string

	MaxRepos       int
	RepoListLimit  int
	MaxCommitPages int
	PageDelay      time.Duration
}

func (o GitHubOptions) withDefaults() GitHubOptions {
	if o.MaxRepos <= 0 {
		o.MaxRepos = DefaultGitHubMaxRepos
	}
	if o.RepoListLimit <= 0 {
		o.RepoListLimit = DefaultGitHubRepoListLimit
	}
	if o.MaxCommitPages <= 0 {
		o.MaxCommitPages = DefaultGitHubMaxCommitPages
	}
	if o.PageDelay <= 0 {
		o.PageDelay = DefaultGitHubPageDelay
	}
	return o
}

// GitHubGateway reports commits, pull requests and issues for the
// authenticated GitHub user.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	opts          GitHubOptions
	logger        logrus.FieldLogger
}

// searchCountQuery only asks for the number of matching issues or PRs.
type searchCountQuery struct {
	Search struct {
		IssueCount githubv4.Int
	} `graphql:"search(query: $query, type: ISSUE, first: 1)"`
}

// NewGitHubGateway creates a GitHubGateway authorized by source.
func NewGitHubGateway(source oauth2.TokenSource, opts GitHubOptions, logger logrus.FieldLogger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	httpClient := newAuthClient(source, rateLimitWaiter)

	restClient := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		restClient.BaseURL = baseURL
	}
	graphqlClient := githubv4.NewClient(httpClient)
	if opts.GraphQLURL != "" {
		graphqlClient = githubv4.NewEnterpriseClient(opts.GraphQLURL, httpClient)
	}

	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		opts:          opts.withDefaults(),
		logger:        logger,
	}, nil
}

func (g *GitHubGateway) Name() domain.Provider { return domain.ProviderGitHub }

func (g *GitHubGateway) Identity(ctx context.Context) (*domain.Identity, error) {
	user, resp, err := g.restClient.Users.Get(ctx, "")
	if err != nil {
		return nil, g.fetchError(resp, "get authenticated user", err)
	}
	return &domain.Identity{
		ID:     fmt.Sprintf("%d", user.GetID()),
		Name:   firstNonEmpty(user.GetName(), user.GetLogin()),
		Email:  user.GetEmail(),
		Handle: user.GetLogin(),
	}, nil
}

func (g *GitHubGateway) YearStats(ctx context.Context, year int) (*domain.YearStats, error) {
	identity, err := g.Identity(ctx)
	if err != nil {
		return nil, err
	}
	login := identity.Handle

	var (
		repos        []*github.Repository
		pullRequests int
		issues       int
		unavailable  []string
		mu           sync.Mutex
	)
	// A failed search count only drops that figure.
	count := func(ctx context.Context, name, query string, out *int) error {
		n, err := g.searchCount(ctx, query)
		if err != nil {
			if apperrors.IsCredential(err) {
				return err
			}
			g.logger.WithError(err).WithField("count", name).Warn("Search count unavailable")
			mu.Lock()
			unavailable = append(unavailable, name)
			mu.Unlock()
			return nil
		}
		*out = n
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		repos, err = g.listRepositories(egCtx)
		return err
	})
	eg.Go(func() error {
		return count(egCtx, "pull_requests", fmt.Sprintf("author:%s type:pr created:%d-01-01..%d-12-31", login, year, year), &pullRequests)
	})
	eg.Go(func() error {
		return count(egCtx, "issues", fmt.Sprintf("author:%s type:issue created:%d-01-01..%d-12-31", login, year, year), &issues)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(unavailable)

	start, end := domain.YearRange(year)
	probe := repos[:minInt(len(repos), g.opts.MaxRepos)]

	var monthly domain.MonthlyHistogram
	total := 0
	entries := make([]domain.TopEntry, 0, len(probe))
	coverage := domain.NewCoverage(len(repos), g.opts.MaxRepos)
	for i, repo := range probe {
		g.logger.WithFields(logrus.Fields{"repo": repo.GetFullName(), "index": i + 1, "of": len(probe)}).Debug("Fetching commits...")
		commits, truncated, err := g.listCommits(ctx, repo, login, start, end)
		if truncated {
			g.logger.WithField("repo", repo.GetFullName()).Warn("Commit listing stopped at the page cap")
			coverage.WithPageCap(g.opts.MaxCommitPages)
		}
		if err != nil {
			if apperrors.IsCredential(err) {
				return nil, err
			}
			g.logger.WithError(err).WithField("repo", repo.GetFullName()).Warn("Skipping repository, commits unavailable")
			continue
		}

		authored := 0
		for _, commit := range commits {
			if !authoredBy(commit, login) {
				continue
			}
			authored++
			monthly.Add(commit.GetCommit().GetAuthor().GetDate().Time, year)
		}
		total += authored
		entries = append(entries, domain.TopEntry{
			Label:    repo.GetName(),
			FullName: repo.GetFullName(),
			Count:    authored,
			Language: repo.GetLanguage(),
			Private:  repo.GetPrivate(),
		})
	}
	g.logger.WithFields(logrus.Fields{"commits": total, "repos": len(probe)}).Info("Completed fetching GitHub data.")

	return &domain.YearStats{
		Provider:       domain.ProviderGitHub,
		Year:           year,
		Identity:       *identity,
		TotalCount:     total,
		Monthly:        monthly,
		TopEntities:    domain.RankTop(entries, domain.DefaultTopN),
		AveragePerWeek: domain.Average(total, domain.WeeksPerYear, 1),
		Coverage:       coverage,
		Unavailable:    unavailable,
		Code: &domain.CodeStats{
			Commits:      total,
			PullRequests: pullRequests,
			Issues:       issues,
			Repositories: len(repos),
		},
	}, nil
}

// listRepositories returns the user's owned and collaborated repositories,
// most recently updated first.
func (g *GitHubGateway) listRepositories(ctx context.Context) ([]*github.Repository, error) {
	fetch := func(ctx context.Context, cursor string) (pager.Page[*github.Repository], error) {
		page := pager.PageNumber(cursor)
		opts := &github.RepositoryListByAuthenticatedUserOptions{
			Affiliation: "owner,collaborator",
			Sort:        "updated",
			ListOptions: github.ListOptions{Page: page, PerPage: githubPerPage},
		}
		repos, resp, err := g.restClient.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return pager.Page[*github.Repository]{}, g.fetchError(resp, "list repositories", err)
		}
		return pager.Page[*github.Repository]{Items: repos, Next: pager.NextOffset(page, githubPerPage, len(repos))}, nil
	}
	repos, err := pager.New(fetch,
		pager.WithProvider(string(domain.ProviderGitHub)),
		pager.WithLimit(g.opts.RepoListLimit),
		pager.WithPacer(pager.NewPacer(g.opts.PageDelay)),
	).Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(repos) > g.opts.RepoListLimit {
		repos = repos[:g.opts.RepoListLimit]
	}
	return repos, nil
}

// listCommits returns the commits in repo authored by login within [since, until],
// and whether the page cap cut the listing short. An empty repository
// yields no commits.
func (g *GitHubGateway) listCommits(ctx context.Context, repo *github.Repository, login string, since, until time.Time) ([]*github.RepositoryCommit, bool, error) {
	owner, name := repo.GetOwner().GetLogin(), repo.GetName()
	fetch := func(ctx context.Context, cursor string) (pager.Page[*github.RepositoryCommit], error) {
		page := pager.PageNumber(cursor)
		opts := &github.CommitsListOptions{
			Author:      login,
			Since:       since,
			Until:       until,
			ListOptions: github.ListOptions{Page: page, PerPage: githubPerPage},
		}
		commits, resp, err := g.restClient.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return pager.Page[*github.RepositoryCommit]{}, nil
			}
			return pager.Page[*github.RepositoryCommit]{}, g.fetchError(resp, "list commits for "+repo.GetFullName(), err)
		}
		return pager.Page[*github.RepositoryCommit]{Items: commits, Next: pager.NextOffset(page, githubPerPage, len(commits))}, nil
	}
	p := pager.New(fetch,
		pager.WithProvider(string(domain.ProviderGitHub)),
		pager.WithMaxPages(g.opts.MaxCommitPages),
		pager.WithPacer(pager.NewPacer(g.opts.PageDelay)),
	)
	commits, err := p.Collect(ctx)
	return commits, p.Truncated(), err
}

func (g *GitHubGateway) searchCount(ctx context.Context, query string) (int, error) {
	var q searchCountQuery
	variables := map[string]interface{}{"query": githubv4.String(query)}
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		return 0, classify(domain.ProviderGitHub, 0, "failed to execute GraphQL search count", err)
	}
	return int(q.Search.IssueCount), nil
}

func (g *GitHubGateway) fetchError(resp *github.Response, message string, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return classify(domain.ProviderGitHub, status, message, err)
}

// authoredBy reports whether the commit's author or committer is login.
func authoredBy(commit *github.RepositoryCommit, login string) bool {
	return strings.EqualFold(commit.GetAuthor().GetLogin(), login) ||
		strings.EqualFold(commit.GetCommitter().GetLogin(), login)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
