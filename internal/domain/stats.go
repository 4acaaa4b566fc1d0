// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// Provider identifies one external platform contributing to the review.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
	ProviderSlack  Provider = "slack"
	ProviderLinear Provider = "linear"
)

// AllProviders lists every supported provider in report order.
var AllProviders = []Provider{ProviderGitHub, ProviderGoogle, ProviderSlack, ProviderLinear}

// Valid reports whether p names a supported provider.
func (p Provider) Valid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// Renewable reports whether p issues short-lived access tokens that are
// exchanged through a refresh token.
func (p Provider) Renewable() bool {
	return p == ProviderGoogle
}

// Identity is the account whose activity is being summarized.
type Identity struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// Coverage describes a bounded fan-out. When LowerBound is set the counts
// only cover Probed out of Available sub-resources. PageCap is set when a
// listing stopped at its page cap with more pages left.
type Coverage struct {
	Probed     int  `json:"probed"`
	Available  int  `json:"available"`
	Cap        int  `json:"cap"`
	PageCap    int  `json:"page_cap,omitempty"`
	LowerBound bool `json:"lower_bound"`
}

// WithPageCap marks c as a lower bound cut by a page cap of maxPages,
// allocating c when nil.
func (c *Coverage) WithPageCap(maxPages int) *Coverage {
	if c == nil {
		c = &Coverage{}
	}
	c.PageCap = maxPages
	c.LowerBound = true
	return c
}

// NewCoverage builds the coverage note for probing at most limit of available items.
func NewCoverage(available, limit int) *Coverage {
	probed := available
	if limit > 0 && probed > limit {
		probed = limit
	}
	return &Coverage{
		Probed:     probed,
		Available:  available,
		Cap:        limit,
		LowerBound: true,
	}
}

// YearStats is the normalized per-provider report. It is the only entity
// handed to the presentation layer.
type YearStats struct {
	Provider Provider `json:"provider"`
	Year     int      `json:"year"`
	Identity Identity `json:"identity"`

	// TotalCount is the primary activity count for the provider.
	TotalCount int              `json:"total_count"`
	Monthly    MonthlyHistogram `json:"monthly"`
	// MonthlyEstimated is set when Monthly was extrapolated from a sample.
	MonthlyEstimated bool       `json:"monthly_estimated"`
	TopEntities      []TopEntry `json:"top_entities"`

	AveragePerDay  float64 `json:"average_per_day,omitempty"`
	AveragePerWeek float64 `json:"average_per_week,omitempty"`

	Coverage *Coverage `json:"coverage,omitempty"`
	// Unavailable names sub-resources that could not be retrieved. Their
	// figures are left at zero and the rest of the report stands.
	Unavailable []string `json:"unavailable,omitempty"`

	Code     *CodeStats     `json:"code,omitempty"`
	Mail     *MailStats     `json:"mail,omitempty"`
	Calendar *CalendarStats `json:"calendar,omitempty"`
	Chat     *ChatStats     `json:"chat,omitempty"`
	Tracker  *TrackerStats  `json:"tracker,omitempty"`
}

// CodeStats holds code-hosting specific figures.
type CodeStats struct {
	Commits      int `json:"commits"`
	PullRequests int `json:"pull_requests"`
	Issues       int `json:"issues"`
	Repositories int `json:"repositories"`
}

// MailSeries keeps the provider-reported total apart from the month
// distribution, which is extrapolated from SampleSize fetched messages.
type MailSeries struct {
	Total            int              `json:"total"`
	SampleSize       int              `json:"sample_size"`
	EstimatedMonthly MonthlyHistogram `json:"estimated_monthly"`
	AveragePerDay    float64          `json:"average_per_day"`
}

// MailStats holds sent and received mail figures.
type MailStats struct {
	Sent     MailSeries `json:"sent"`
	Received MailSeries `json:"received"`
}

// BusiestDay is the calendar date with the most events.
type BusiestDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CalendarStats holds calendar specific figures.
type CalendarStats struct {
	TotalEvents            int         `json:"total_events"`
	TimedEvents            int         `json:"timed_events"`
	TotalDurationMinutes   float64     `json:"total_duration_minutes"`
	TotalDurationHours     float64     `json:"total_duration_hours"`
	AverageDurationMinutes float64     `json:"average_duration_minutes"`
	BusiestDay             *BusiestDay `json:"busiest_day,omitempty"`
}

// ChatStats holds team-chat specific figures.
type ChatStats struct {
	TotalMessages        int `json:"total_messages"`
	ChannelsParticipated int `json:"channels_participated"`
	TotalChannels        int `json:"total_channels"`
}

// TrackerStats holds issue-tracker specific figures.
type TrackerStats struct {
	IssuesCreated   int              `json:"issues_created"`
	IssuesCompleted int              `json:"issues_completed"`
	CreatedByMonth  MonthlyHistogram `json:"created_by_month"`
}

// Status of a provider within a report.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// ProviderReport wraps one provider's outcome so the presentation layer
// can tell "no activity" apart from "could not retrieve".
type ProviderReport struct {
	Provider     Provider   `json:"provider"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	Message      string     `json:"message,omitempty"`
	Disconnected bool       `json:"disconnected,omitempty"`
	Stats        *YearStats `json:"stats,omitempty"`
}

// Report is the year in review across all requested providers.
type Report struct {
	ID          string           `json:"id"`
	Year        int              `json:"year"`
	GeneratedAt time.Time        `json:"generated_at"`
	Providers   []ProviderReport `json:"providers"`
}

// Lookup returns the report for provider p, if present.
func (r *Report) Lookup(p Provider) (ProviderReport, bool) {
	for _, pr := range r.Providers {
		if pr.Provider == p {
			return pr, true
		}
	}
	return ProviderReport{}, false
}
