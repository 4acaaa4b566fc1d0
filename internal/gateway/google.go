package gateway

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
	"github.com/naka-gawa/year-review/internal/pager"
)

const (
	DefaultGoogleBaseURL     = "https://www.googleapis.com"
	DefaultMailSampleSize    = 50
	DefaultMailSampleDelay   = 50 * time.Millisecond
	DefaultCalendarMaxPages  = 20
	DefaultCalendarPageDelay = 100 * time.Millisecond
	mailListPageSize         = 500
	calendarPageSize         = 2500
	calendarDateLayout       = "2006-01-02"
	mailDateHeader           = "Date"
)

// GoogleOptions tunes the Google adapter. Zero values fall back to defaults.
type GoogleOptions struct {
	BaseURL           string
	SampleSize        int
	SampleDelay       time.Duration
	CalendarMaxPages  int
	CalendarPageDelay time.Duration
}

func (o GoogleOptions) withDefaults() GoogleOptions {
	if o.BaseURL == "" {
		o.BaseURL = DefaultGoogleBaseURL
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultMailSampleSize
	}
	if o.SampleDelay <= 0 {
		o.SampleDelay = DefaultMailSampleDelay
	}
	if o.CalendarMaxPages <= 0 {
		o.CalendarMaxPages = DefaultCalendarMaxPages
	}
	if o.CalendarPageDelay <= 0 {
		o.CalendarPageDelay = DefaultCalendarPageDelay
	}
	return o
}

// GoogleGateway reports calendar events and mail volume. Calendar events
// are the primary series; mail months are extrapolated from a sample.
type GoogleGateway struct {
	client *jsonClient
	opts   GoogleOptions
	logger logrus.FieldLogger
}

type googleUserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type gmailMessageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	ResultSizeEstimate int `json:"resultSizeEstimate"`
}

type gmailMessage struct {
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

type calendarEventList struct {
	Items         []calendarEvent `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
}

type calendarEvent struct {
	Status string        `json:"status"`
	Start  calendarPoint `json:"start"`
	End    calendarPoint `json:"end"`
}

type calendarPoint struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

// NewGoogleGateway creates a GoogleGateway authorized by source.
func NewGoogleGateway(source oauth2.TokenSource, opts GoogleOptions, logger logrus.FieldLogger) *GoogleGateway {
	opts = opts.withDefaults()
	return &GoogleGateway{
		client: newJSONClient(domain.ProviderGoogle, opts.BaseURL, newAuthClient(source, nil), logger),
		opts:   opts,
		logger: logger,
	}
}

func (g *GoogleGateway) Name() domain.Provider { return domain.ProviderGoogle }

func (g *GoogleGateway) Identity(ctx context.Context) (*domain.Identity, error) {
	var info googleUserInfo
	if err := g.client.get(ctx, "/oauth2/v2/userinfo", nil, &info); err != nil {
		return nil, err
	}
	return &domain.Identity{
		ID:    info.ID,
		Name:  firstNonEmpty(info.Name, info.Email),
		Email: info.Email,
	}, nil
}

func (g *GoogleGateway) YearStats(ctx context.Context, year int) (*domain.YearStats, error) {
	identity, err := g.Identity(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mailStats   domain.MailStats
		calendar    *calendarSummary
		unavailable []string
		mu          sync.Mutex
	)
	// A failed mail series only drops that series.
	series := func(ctx context.Context, name, box string, out *domain.MailSeries) error {
		query := fmt.Sprintf("in:%s after:%d/01/01 before:%d/01/01", box, year, year+1)
		result, err := g.mailSeries(ctx, query, year)
		if err != nil {
			if apperrors.IsCredential(err) || ctx.Err() != nil {
				return err
			}
			g.logger.WithError(err).WithField("series", name).Warn("Mail series unavailable")
			mu.Lock()
			unavailable = append(unavailable, name)
			mu.Unlock()
			return nil
		}
		*out = result
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return series(egCtx, "mail.sent", "sent", &mailStats.Sent)
	})
	eg.Go(func() error {
		return series(egCtx, "mail.received", "inbox", &mailStats.Received)
	})
	eg.Go(func() error {
		var err error
		calendar, err = g.calendar(egCtx, year)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(unavailable)
	g.logger.WithFields(logrus.Fields{"events": calendar.stats.TotalEvents, "sent": mailStats.Sent.Total}).Info("Completed fetching Google data.")

	var coverage *domain.Coverage
	if calendar.truncated {
		coverage = coverage.WithPageCap(g.opts.CalendarMaxPages)
	}

	return &domain.YearStats{
		Provider:       domain.ProviderGoogle,
		Year:           year,
		Identity:       *identity,
		TotalCount:     calendar.stats.TotalEvents,
		Monthly:        calendar.monthly,
		TopEntities:    []domain.TopEntry{},
		AveragePerWeek: domain.Average(calendar.stats.TotalEvents, domain.WeeksPerYear, 0),
		Coverage:       coverage,
		Unavailable:    unavailable,
		Mail:           &mailStats,
		Calendar:       &calendar.stats,
	}, nil
}

// mailSeries reads the provider's total for query and builds the month
// distribution from the first SampleSize messages.
func (g *GoogleGateway) mailSeries(ctx context.Context, query string, year int) (domain.MailSeries, error) {
	var list gmailMessageList
	params := url.Values{"q": {query}, "maxResults": {strconv.Itoa(mailListPageSize)}}
	if err := g.client.get(ctx, "/gmail/v1/users/me/messages", params, &list); err != nil {
		return domain.MailSeries{}, err
	}

	sample := list.Messages[:minInt(len(list.Messages), g.opts.SampleSize)]
	pacer := pager.NewPacer(g.opts.SampleDelay)
	var sampled domain.MonthlyHistogram
	fetched := 0
	for i, m := range sample {
		if i > 0 {
			if err := pacer.Wait(ctx); err != nil {
				return domain.MailSeries{}, err
			}
		}
		sent, err := g.messageDate(ctx, m.ID)
		if err != nil {
			if apperrors.IsCredential(err) {
				return domain.MailSeries{}, err
			}
			g.logger.WithError(err).WithField("message", m.ID).Debug("Skipping unreadable message")
			continue
		}
		fetched++
		sampled.Add(sent, year)
	}

	total := list.ResultSizeEstimate
	return domain.MailSeries{
		Total:            total,
		SampleSize:       fetched,
		EstimatedMonthly: sampled.Scale(total, fetched),
		AveragePerDay:    domain.Average(total, domain.DaysPerYear, 0),
	}, nil
}

// messageDate returns the Date header of one message in its own offset.
func (g *GoogleGateway) messageDate(ctx context.Context, id string) (time.Time, error) {
	var msg gmailMessage
	params := url.Values{"format": {"metadata"}, "metadataHeaders": {mailDateHeader}}
	if err := g.client.get(ctx, "/gmail/v1/users/me/messages/"+url.PathEscape(id), params, &msg); err != nil {
		return time.Time{}, err
	}
	for _, h := range msg.Payload.Headers {
		if h.Name != mailDateHeader {
			continue
		}
		t, err := mail.ParseDate(h.Value)
		if err != nil {
			return time.Time{}, apperrors.NewMalformedResponseError(string(domain.ProviderGoogle), "parse message date", err)
		}
		return t, nil
	}
	return time.Time{}, apperrors.NewMalformedResponseError(string(domain.ProviderGoogle), "message has no date header", nil)
}

type calendarSummary struct {
	monthly   domain.MonthlyHistogram
	stats     domain.CalendarStats
	truncated bool
}

// calendar walks every event of the primary calendar in year. Only events
// that start inside year are counted, so the histogram sums to the total.
func (g *GoogleGateway) calendar(ctx context.Context, year int) (*calendarSummary, error) {
	start, end := domain.YearRange(year)
	fetch := func(ctx context.Context, cursor string) (pager.Page[calendarEvent], error) {
		params := url.Values{
			"timeMin":      {start.Format(time.RFC3339)},
			"timeMax":      {end.Format(time.RFC3339)},
			"maxResults":   {strconv.Itoa(calendarPageSize)},
			"singleEvents": {"true"},
			"orderBy":      {"startTime"},
		}
		if cursor != "" {
			params.Set("pageToken", cursor)
		}
		var list calendarEventList
		if err := g.client.get(ctx, "/calendar/v3/calendars/primary/events", params, &list); err != nil {
			return pager.Page[calendarEvent]{}, err
		}
		return pager.Page[calendarEvent]{Items: list.Items, Next: list.NextPageToken}, nil
	}
	p := pager.New(fetch,
		pager.WithProvider(string(domain.ProviderGoogle)),
		pager.WithMaxPages(g.opts.CalendarMaxPages),
		pager.WithPacer(pager.NewPacer(g.opts.CalendarPageDelay)),
	)
	events, err := p.Collect(ctx)
	if err != nil {
		return nil, err
	}

	summary := &calendarSummary{truncated: p.Truncated()}
	if summary.truncated {
		g.logger.WithField("max_pages", g.opts.CalendarMaxPages).Warn("Calendar listing stopped at the page cap")
	}
	days := domain.NewCounter()
	var minutes float64
	for _, ev := range events {
		if ev.Status == "cancelled" {
			continue
		}
		begin, timed, ok := ev.Start.parse()
		if !ok || !summary.monthly.Add(begin, year) {
			continue
		}
		summary.stats.TotalEvents++
		days.Inc(begin.Format(calendarDateLayout))
		if finish, endTimed, ok := ev.End.parse(); ok && timed && endTimed && finish.After(begin) {
			summary.stats.TimedEvents++
			minutes += finish.Sub(begin).Minutes()
		}
	}

	summary.stats.TotalDurationMinutes = domain.RoundTo(minutes, 0)
	summary.stats.TotalDurationHours = domain.RoundTo(minutes/60, 0)
	if summary.stats.TotalEvents > 0 {
		summary.stats.AverageDurationMinutes = domain.RoundTo(minutes/float64(summary.stats.TotalEvents), 0)
	}
	if date, count, ok := days.Max(); ok {
		summary.stats.BusiestDay = &domain.BusiestDay{Date: date, Count: count}
	}
	return summary, nil
}

// parse returns the instant of p and whether it carries a time of day.
// All-day dates are read as UTC midnight.
func (p calendarPoint) parse() (time.Time, bool, bool) {
	if p.DateTime != "" {
		t, err := time.Parse(time.RFC3339, p.DateTime)
		return t, true, err == nil
	}
	if p.Date != "" {
		t, err := time.Parse(calendarDateLayout, p.Date)
		return t, false, err == nil
	}
	return time.Time{}, false, false
}
