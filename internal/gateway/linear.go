package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/shurcooL/graphql"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
	"github.com/naka-gawa/year-review/internal/pager"
)

const (
	DefaultLinearURL       = "https://api.linear.app/graphql"
	DefaultLinearMaxPages  = 10
	DefaultLinearPageDelay = 100 * time.Millisecond
)

// LinearOptions tunes the Linear adapter. Zero values fall back to defaults.
type LinearOptions struct {
	URL       string
	MaxPages  int
	PageDelay time.Duration
}

func (o LinearOptions) withDefaults() LinearOptions {
	if o.URL == "" {
		o.URL = DefaultLinearURL
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultLinearMaxPages
	}
	if o.PageDelay <= 0 {
		o.PageDelay = DefaultLinearPageDelay
	}
	return o
}

// LinearGateway reports issues the viewer created and completed.
type LinearGateway struct {
	client *graphql.Client
	opts   LinearOptions
	logger logrus.FieldLogger
}

type linearViewerQuery struct {
	Viewer struct {
		ID    graphql.String
		Name  graphql.String
		Email graphql.String
	}
}

type linearIssue struct {
	ID          graphql.String
	Title       graphql.String
	CreatedAt   graphql.String
	CompletedAt *graphql.String
	Creator     *linearUserRef
	Assignee    *linearUserRef
	Project     *struct {
		ID   graphql.String
		Name graphql.String
	}
}

type linearUserRef struct {
	ID graphql.String
}

// is reports whether the reference points at the user with id.
func (r *linearUserRef) is(id string) bool {
	return r != nil && id != "" && string(r.ID) == id
}

type linearIssueConnection struct {
	Nodes    []linearIssue
	PageInfo struct {
		HasNextPage graphql.Boolean
		EndCursor   *graphql.String
	}
}

type linearCreatedIssuesQuery struct {
	Issues linearIssueConnection `graphql:"issues(filter: {creator: {isMe: {eq: true}}}, first: 100, after: $cursor)"`
}

type linearAssignedIssuesQuery struct {
	Issues linearIssueConnection `graphql:"issues(filter: {assignee: {isMe: {eq: true}}}, first: 100, after: $cursor)"`
}

// linearTransport sends the API key as-is in the Authorization header and
// maps rejected keys to a reauthorization error.
type linearTransport struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

func (t *linearTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := tokenFor(req.Context(), t.source)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", token.AccessToken)

	resp, err := t.base.RoundTrip(authed)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, apperrors.NewReauthorizationRequiredError(string(domain.ProviderLinear), "api key rejected")
	}
	return resp, nil
}

// NewLinearGateway creates a LinearGateway authorized by source.
func NewLinearGateway(source oauth2.TokenSource, opts LinearOptions, logger logrus.FieldLogger) *LinearGateway {
	opts = opts.withDefaults()
	httpClient := &http.Client{Transport: &linearTransport{source: source, base: http.DefaultTransport}}
	return &LinearGateway{
		client: graphql.NewClient(opts.URL, httpClient),
		opts:   opts,
		logger: logger,
	}
}

func (g *LinearGateway) Name() domain.Provider { return domain.ProviderLinear }

func (g *LinearGateway) Identity(ctx context.Context) (*domain.Identity, error) {
	var q linearViewerQuery
	if err := g.client.Query(ctx, &q, nil); err != nil {
		return nil, classify(domain.ProviderLinear, 0, "failed to query viewer", err)
	}
	return &domain.Identity{
		ID:    string(q.Viewer.ID),
		Name:  firstNonEmpty(string(q.Viewer.Name), string(q.Viewer.Email)),
		Email: string(q.Viewer.Email),
	}, nil
}

func (g *LinearGateway) YearStats(ctx context.Context, year int) (*domain.YearStats, error) {
	identity, err := g.Identity(ctx)
	if err != nil {
		return nil, err
	}

	created, createdTruncated, err := g.issues(ctx, func(ctx context.Context, vars map[string]interface{}) (linearIssueConnection, error) {
		var q linearCreatedIssuesQuery
		err := g.client.Query(ctx, &q, vars)
		return q.Issues, err
	})
	if err != nil {
		return nil, err
	}
	assigned, assignedTruncated, err := g.issues(ctx, func(ctx context.Context, vars map[string]interface{}) (linearIssueConnection, error) {
		var q linearAssignedIssuesQuery
		err := g.client.Query(ctx, &q, vars)
		return q.Issues, err
	})
	if err != nil {
		return nil, err
	}

	var createdByMonth domain.MonthlyHistogram
	for _, issue := range created {
		if !issue.Creator.is(identity.ID) {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, string(issue.CreatedAt))
		if err != nil {
			g.logger.WithError(err).WithField("issue", issue.ID).Debug("Skipping issue with unreadable createdAt")
			continue
		}
		createdByMonth.Add(createdAt.UTC(), year)
	}

	var completedByMonth domain.MonthlyHistogram
	projects := domain.NewCounter()
	for _, issue := range assigned {
		if issue.CompletedAt == nil || !issue.Assignee.is(identity.ID) {
			continue
		}
		completedAt, err := time.Parse(time.RFC3339, string(*issue.CompletedAt))
		if err != nil || !completedByMonth.Add(completedAt.UTC(), year) {
			continue
		}
		if issue.Project != nil && issue.Project.Name != "" {
			projects.Inc(string(issue.Project.Name))
		}
	}

	completed := completedByMonth.Sum()
	g.logger.WithFields(logrus.Fields{"created": createdByMonth.Sum(), "completed": completed}).Info("Completed fetching Linear data.")

	var coverage *domain.Coverage
	if createdTruncated || assignedTruncated {
		g.logger.WithField("max_pages", g.opts.MaxPages).Warn("Issue listing stopped at the page cap, counts are a lower bound")
		coverage = coverage.WithPageCap(g.opts.MaxPages)
	}

	return &domain.YearStats{
		Provider:       domain.ProviderLinear,
		Year:           year,
		Identity:       *identity,
		TotalCount:     completed,
		Monthly:        completedByMonth,
		TopEntities:    domain.RankTop(projects.Entries(), domain.DefaultTopN),
		AveragePerWeek: domain.Average(completed, domain.WeeksPerYear, 1),
		Coverage:       coverage,
		Tracker: &domain.TrackerStats{
			IssuesCreated:   createdByMonth.Sum(),
			IssuesCompleted: completed,
			CreatedByMonth:  createdByMonth,
		},
	}, nil
}

type issueQueryFunc func(ctx context.Context, vars map[string]interface{}) (linearIssueConnection, error)

// issues follows the connection cursor of one issue query. It reports
// whether the page cap cut the listing short.
func (g *LinearGateway) issues(ctx context.Context, query issueQueryFunc) ([]linearIssue, bool, error) {
	fetch := func(ctx context.Context, cursor string) (pager.Page[linearIssue], error) {
		vars := map[string]interface{}{"cursor": (*graphql.String)(nil)}
		if cursor != "" {
			vars["cursor"] = graphql.NewString(graphql.String(cursor))
		}
		conn, err := query(ctx, vars)
		if err != nil {
			return pager.Page[linearIssue]{}, classify(domain.ProviderLinear, 0, "failed to query issues", err)
		}
		next := ""
		if conn.PageInfo.HasNextPage && conn.PageInfo.EndCursor != nil {
			next = string(*conn.PageInfo.EndCursor)
		}
		return pager.Page[linearIssue]{Items: conn.Nodes, Next: next}, nil
	}

	p := pager.New(fetch,
		pager.WithProvider(string(domain.ProviderLinear)),
		pager.WithMaxPages(g.opts.MaxPages),
		pager.WithPacer(pager.NewPacer(g.opts.PageDelay)),
	)
	issues, err := p.Collect(ctx)
	return issues, p.Truncated(), err
}
