package gateway

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
	"github.com/naka-gawa/year-review/internal/pager"
)

const (
	DefaultSlackBaseURL     = "https://slack.com/api"
	DefaultSlackMaxChannels = 20
	DefaultSlackMessageCap  = 1000
	DefaultSlackPageDelay   = 200 * time.Millisecond
	slackPageSize           = 200
	slackConversationTypes  = "public_channel,private_channel"
)

// authErrors are Slack error codes that mean the token is no longer usable.
var authErrors = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"token_revoked":    true,
	"token_expired":    true,
	"account_inactive": true,
}

// SlackOptions tunes the Slack adapter. Zero values fall back to defaults.
type SlackOptions struct {
	BaseURL     string
	MaxChannels int
	MessageCap  int
	PageDelay   time.Duration
}

func (o SlackOptions) withDefaults() SlackOptions {
	if o.BaseURL == "" {
		o.BaseURL = DefaultSlackBaseURL
	}
	if o.MaxChannels <= 0 {
		o.MaxChannels = DefaultSlackMaxChannels
	}
	if o.MessageCap <= 0 {
		o.MessageCap = DefaultSlackMessageCap
	}
	if o.PageDelay <= 0 {
		o.PageDelay = DefaultSlackPageDelay
	}
	return o
}

// SlackGateway reports messages the authenticated user posted in the
// channels they are a member of.
type SlackGateway struct {
	client *jsonClient
	opts   SlackOptions
	logger logrus.FieldLogger
}

type slackEnvelope struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (e *slackEnvelope) envelope() *slackEnvelope { return e }

type slackResponse interface {
	envelope() *slackEnvelope
}

type slackAuthTest struct {
	slackEnvelope
	UserID string `json:"user_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
}

type slackUserInfo struct {
	slackEnvelope
	User struct {
		RealName string `json:"real_name"`
		Profile  struct {
			Email string `json:"email"`
		} `json:"profile"`
	} `json:"user"`
}

type slackChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsMember  bool   `json:"is_member"`
	IsPrivate bool   `json:"is_private"`
}

type slackConversations struct {
	slackEnvelope
	Channels []slackChannel `json:"channels"`
}

type slackMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	User    string `json:"user"`
	TS      string `json:"ts"`
}

type slackHistory struct {
	slackEnvelope
	Messages []slackMessage `json:"messages"`
	HasMore  bool           `json:"has_more"`
}

// NewSlackGateway creates a SlackGateway authorized by source.
func NewSlackGateway(source oauth2.TokenSource, opts SlackOptions, logger logrus.FieldLogger) *SlackGateway {
	opts = opts.withDefaults()
	return &SlackGateway{
		client: newJSONClient(domain.ProviderSlack, opts.BaseURL, newAuthClient(source, nil), logger),
		opts:   opts,
		logger: logger,
	}
}

func (g *SlackGateway) Name() domain.Provider { return domain.ProviderSlack }

func (g *SlackGateway) Identity(ctx context.Context) (*domain.Identity, error) {
	var auth slackAuthTest
	if err := g.call(ctx, "auth.test", nil, &auth); err != nil {
		return nil, err
	}
	identity := &domain.Identity{ID: auth.UserID, Name: auth.User, Handle: auth.User}

	var info slackUserInfo
	if err := g.call(ctx, "users.info", url.Values{"user": {auth.UserID}}, &info); err != nil {
		if apperrors.IsCredential(err) {
			return nil, err
		}
		g.logger.WithError(err).Debug("Falling back to the auth handle for the display name")
		return identity, nil
	}
	identity.Name = firstNonEmpty(info.User.RealName, auth.User)
	identity.Email = info.User.Profile.Email
	return identity, nil
}

func (g *SlackGateway) YearStats(ctx context.Context, year int) (*domain.YearStats, error) {
	identity, err := g.Identity(ctx)
	if err != nil {
		return nil, err
	}

	channels, err := g.memberChannels(ctx)
	if err != nil {
		return nil, err
	}

	start, end := domain.YearRange(year)
	probe := channels[:minInt(len(channels), g.opts.MaxChannels)]
	pacer := pager.NewPacer(g.opts.PageDelay)

	var monthly domain.MonthlyHistogram
	total, participated := 0, 0
	entries := make([]domain.TopEntry, 0, len(probe))
	for i, channel := range probe {
		if i > 0 {
			if err := pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
		messages, err := g.userMessages(ctx, channel, identity.ID, start, end)
		if err != nil {
			if apperrors.IsCredential(err) {
				return nil, err
			}
			g.logger.WithError(err).WithField("channel", channel.Name).Warn("Skipping channel, history unavailable")
			continue
		}

		count := 0
		for _, m := range messages {
			if monthly.Add(m, year) {
				count++
			}
		}
		if count > 0 {
			participated++
		}
		total += count
		entries = append(entries, domain.TopEntry{Label: channel.Name, Count: count, Private: channel.IsPrivate})
	}
	g.logger.WithFields(logrus.Fields{"messages": total, "channels": len(probe)}).Info("Completed fetching Slack data.")

	return &domain.YearStats{
		Provider:      domain.ProviderSlack,
		Year:          year,
		Identity:      *identity,
		TotalCount:    total,
		Monthly:       monthly,
		TopEntities:   domain.RankTop(entries, domain.DefaultTopN),
		AveragePerDay: domain.Average(total, domain.DaysPerYear, 0),
		Coverage:      domain.NewCoverage(len(channels), g.opts.MaxChannels),
		Chat: &domain.ChatStats{
			TotalMessages:        total,
			ChannelsParticipated: participated,
			TotalChannels:        len(channels),
		},
	}, nil
}

// memberChannels lists the public and private channels the user belongs
// to. When listing breaks after some pages the channels seen so far are used.
func (g *SlackGateway) memberChannels(ctx context.Context) ([]slackChannel, error) {
	fetch := func(ctx context.Context, cursor string) (pager.Page[slackChannel], error) {
		params := url.Values{
			"types": {slackConversationTypes},
			"limit": {strconv.Itoa(slackPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp slackConversations
		if err := g.call(ctx, "conversations.list", params, &resp); err != nil {
			return pager.Page[slackChannel]{}, err
		}
		members := make([]slackChannel, 0, len(resp.Channels))
		for _, c := range resp.Channels {
			if c.IsMember {
				members = append(members, c)
			}
		}
		return pager.Page[slackChannel]{Items: members, Next: resp.ResponseMetadata.NextCursor}, nil
	}

	channels, err := pager.New(fetch,
		pager.WithProvider(string(domain.ProviderSlack)),
		pager.WithPacer(pager.NewPacer(g.opts.PageDelay)),
	).Collect(ctx)
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok || !appErr.Partial {
			return nil, err
		}
		g.logger.WithError(err).WithField("channels", len(channels)).Warn("Channel listing incomplete, continuing with partial list")
	}
	return channels, nil
}

// userMessages returns the timestamps of plain messages posted by userID
// in channel between start and end, up to the per-channel cap.
func (g *SlackGateway) userMessages(ctx context.Context, channel slackChannel, userID string, start, end time.Time) ([]time.Time, error) {
	fetch := func(ctx context.Context, cursor string) (pager.Page[time.Time], error) {
		params := url.Values{
			"channel": {channel.ID},
			"oldest":  {strconv.FormatInt(start.Unix(), 10)},
			"latest":  {strconv.FormatInt(end.Unix(), 10)},
			"limit":   {strconv.Itoa(slackPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp slackHistory
		if err := g.call(ctx, "conversations.history", params, &resp); err != nil {
			return pager.Page[time.Time]{}, err
		}
		var stamps []time.Time
		for _, m := range resp.Messages {
			if m.Type != "message" || m.Subtype != "" || m.User != userID {
				continue
			}
			ts, err := parseSlackTS(m.TS)
			if err != nil {
				return pager.Page[time.Time]{}, apperrors.NewMalformedResponseError(string(domain.ProviderSlack), "parse message ts", err)
			}
			stamps = append(stamps, ts)
		}
		next := ""
		if resp.HasMore {
			next = resp.ResponseMetadata.NextCursor
		}
		return pager.Page[time.Time]{Items: stamps, Next: next}, nil
	}

	stamps, err := pager.New(fetch,
		pager.WithProvider(string(domain.ProviderSlack)),
		pager.WithLimit(g.opts.MessageCap),
		pager.WithPacer(pager.NewPacer(g.opts.PageDelay)),
	).Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(stamps) > g.opts.MessageCap {
		stamps = stamps[:g.opts.MessageCap]
	}
	return stamps, nil
}

// call invokes a Slack Web API method and checks the ok flag.
func (g *SlackGateway) call(ctx context.Context, method string, params url.Values, out slackResponse) error {
	if err := g.client.get(ctx, "/"+method, params, out); err != nil {
		return err
	}
	env := out.envelope()
	if env.OK {
		return nil
	}
	if authErrors[env.Error] {
		return apperrors.NewReauthorizationRequiredError(string(domain.ProviderSlack), method+": "+env.Error)
	}
	return apperrors.NewProviderFetchError(string(domain.ProviderSlack), 0, method+": "+env.Error, nil)
}

// parseSlackTS converts a message ts such as "1709290000.000200" to UTC.
func parseSlackTS(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if fracPart != "" {
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	return time.Unix(sec, nsec).UTC(), nil
}
