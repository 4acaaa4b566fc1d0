// Package pager drives paginated, rate-limited retrieval against provider
// APIs as a lazy sequence of record batches.
package pager

import (
	"context"
	"errors"
	"strconv"

	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

// Done is returned by Next when the sequence is exhausted.
var Done = errors.New("no more pages")

// Page is one batch of records plus the cursor to continue from.
// An empty Next terminates the sequence.
type Page[T any] struct {
	Items []T
	Next  string
}

// FetchFunc issues one call for cursor. The first call receives the
// initial cursor, which is empty unless WithCursor was given.
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

type settings struct {
	provider string
	pacer    *Pacer
	limit    int
	maxPages int
	cursor   string
}

// Option configures a Pager.
type Option func(*settings)

// WithProvider tags fetch errors with the provider name.
func WithProvider(provider string) Option {
	return func(s *settings) { s.provider = provider }
}

// WithPacer inserts the pacer's delay between consecutive calls.
func WithPacer(p *Pacer) Option {
	return func(s *settings) { s.pacer = p }
}

// WithLimit stops once at least limit records were fetched.
func WithLimit(limit int) Option {
	return func(s *settings) { s.limit = limit }
}

// WithMaxPages stops after n calls.
func WithMaxPages(n int) Option {
	return func(s *settings) { s.maxPages = n }
}

// WithCursor sets the cursor of the first call.
func WithCursor(cursor string) Option {
	return func(s *settings) { s.cursor = cursor }
}

// Pager is a finite, non-restartable sequence of batches. Calls are
// strictly sequential: page N+1 is requested only after page N returned.
type Pager[T any] struct {
	fetch   FetchFunc[T]
	opts    settings
	cursor    string
	pages     int
	fetched   int
	done      bool
	truncated bool
}

// New creates a Pager around fetch.
func New[T any](fetch FetchFunc[T], opts ...Option) *Pager[T] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	s.pacer.Reset()
	return &Pager[T]{
		fetch:  fetch,
		opts:   s,
		cursor: s.cursor,
	}
}

// Next returns the next batch, or Done. A failed call ends the sequence
// with a provider fetch error whose Partial flag tells whether earlier
// batches were returned.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if p.done {
		return nil, Done
	}
	if p.pages > 0 {
		if err := p.opts.pacer.Wait(ctx); err != nil {
			p.done = true
			if errors.Is(err, ErrStop) {
				p.truncated = true
				return nil, Done
			}
			return nil, err
		}
	}

	page, err := p.fetch(ctx, p.cursor)
	if err != nil {
		p.done = true
		return nil, apperrors.MarkPartial(p.opts.provider, err, p.pages > 0)
	}

	p.pages++
	p.fetched += len(page.Items)
	p.cursor = page.Next
	if page.Next == "" {
		p.done = true
	} else if (p.opts.limit > 0 && p.fetched >= p.opts.limit) ||
		(p.opts.maxPages > 0 && p.pages >= p.opts.maxPages) {
		p.done = true
		p.truncated = true
	}
	return page.Items, nil
}

// Collect drains the pager. On failure it returns the records accumulated
// so far together with the error.
func (p *Pager[T]) Collect(ctx context.Context) ([]T, error) {
	var all []T
	for {
		batch, err := p.Next(ctx)
		if errors.Is(err, Done) {
			return all, nil
		}
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
	}
}

// Pages returns the number of successful calls so far.
func (p *Pager[T]) Pages() int { return p.pages }

// Truncated reports whether a limit or page cap ended the sequence while
// the provider still had more pages.
func (p *Pager[T]) Truncated() bool { return p.truncated }

// PageNumber decodes an offset cursor. The empty cursor is page 1.
func PageNumber(cursor string) int {
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NextOffset returns the cursor following page for offset pagination. A
// page that is not full is the last one.
func NextOffset(page, perPage, got int) string {
	if got < perPage {
		return ""
	}
	return strconv.Itoa(page + 1)
}
