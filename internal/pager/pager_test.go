package pager

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

// recordingSleep records requested delays without sleeping.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

// cursorFetcher serves pages keyed by cursor and records the calls.
func cursorFetcher(pages map[string]Page[int], calls *[]string) FetchFunc[int] {
	return func(_ context.Context, cursor string) (Page[int], error) {
		*calls = append(*calls, cursor)
		page, ok := pages[cursor]
		if !ok {
			return Page[int]{}, apperrors.NewProviderFetchError("test", http.StatusInternalServerError, "unknown cursor", nil)
		}
		return page, nil
	}
}

func TestPager_FollowsCursorUntilEmpty(t *testing.T) {
	var calls []string
	pages := map[string]Page[int]{
		"":   {Items: []int{1, 2}, Next: "c2"},
		"c2": {Items: []int{3}, Next: "c3"},
		"c3": {Items: []int{4}, Next: ""},
	}
	sleeper := &recordingSleep{}
	p := New(cursorFetcher(pages, &calls),
		WithPacer(NewPacerWithBackOff(backoff.NewConstantBackOff(200*time.Millisecond), sleeper.sleep)))

	items, err := p.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, items)
	assert.Equal(t, []string{"", "c2", "c3"}, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays, "delay only between calls")
	assert.Equal(t, 3, p.Pages())
	assert.False(t, p.Truncated())

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, Done, "sequence is not restartable")
}

func TestPager_StopsAtRecordLimit(t *testing.T) {
	var calls []string
	pages := map[string]Page[int]{
		"":  {Items: []int{1, 2, 3}, Next: "b"},
		"b": {Items: []int{4, 5, 6}, Next: "c"},
		"c": {Items: []int{7, 8, 9}, Next: "d"},
	}
	p := New(cursorFetcher(pages, &calls), WithLimit(5))

	items, err := p.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, items)
	assert.Equal(t, []string{"", "b"}, calls)
	assert.True(t, p.Truncated())
}

func TestPager_StopsAtMaxPages(t *testing.T) {
	var calls []string
	pages := map[string]Page[int]{
		"1": {Items: []int{1}, Next: "2"},
		"2": {Items: []int{2}, Next: "3"},
	}
	p := New(cursorFetcher(pages, &calls), WithCursor("1"), WithMaxPages(1))

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, items)
	assert.Equal(t, []string{"1"}, calls)
	assert.True(t, p.Truncated())
}

func TestPager_CapOnLastPageIsNotTruncated(t *testing.T) {
	var calls []string
	pages := map[string]Page[int]{
		"":  {Items: []int{1}, Next: "b"},
		"b": {Items: []int{2}, Next: ""},
	}
	p := New(cursorFetcher(pages, &calls), WithMaxPages(2), WithLimit(2))

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, items)
	assert.False(t, p.Truncated())
}

func TestPager_ErrorCarriesPartialFlag(t *testing.T) {
	testCases := []struct {
		name          string
		pages         map[string]Page[int]
		expectItems   []int
		expectPartial bool
	}{
		{
			name:          "failure on first call has no partial results",
			pages:         map[string]Page[int]{},
			expectItems:   nil,
			expectPartial: false,
		},
		{
			name: "failure after a successful batch is partial",
			pages: map[string]Page[int]{
				"": {Items: []int{1, 2}, Next: "missing"},
			},
			expectItems:   []int{1, 2},
			expectPartial: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls []string
			p := New(cursorFetcher(tc.pages, &calls), WithProvider("test"))

			items, err := p.Collect(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.expectItems, items)

			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeProviderFetch, appErr.Code)
			assert.Equal(t, http.StatusInternalServerError, appErr.Status)
			assert.Equal(t, tc.expectPartial, appErr.Partial)
		})
	}
}

func TestPager_ForeignErrorIsWrapped(t *testing.T) {
	p := New(func(context.Context, string) (Page[int], error) {
		return Page[int]{}, errors.New("connection reset")
	}, WithProvider("slack"))

	_, err := p.Next(context.Background())
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "slack", appErr.Provider)
	assert.Equal(t, apperrors.ErrCodeProviderFetch, appErr.Code)
}

func TestPager_PacingStopEndsSequence(t *testing.T) {
	var calls []string
	pages := map[string]Page[int]{
		"":  {Items: []int{1}, Next: "b"},
		"b": {Items: []int{2}, Next: "c"},
		"c": {Items: []int{3}, Next: ""},
	}
	strategy := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 1)
	sleeper := &recordingSleep{}
	p := New(cursorFetcher(pages, &calls), WithPacer(NewPacerWithBackOff(strategy, sleeper.sleep)))

	items, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, items)
	assert.Len(t, sleeper.delays, 1)
	assert.True(t, p.Truncated())
}

func TestPager_ResetsSharedPacer(t *testing.T) {
	strategy := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 1)
	sleeper := &recordingSleep{}
	pacer := NewPacerWithBackOff(strategy, sleeper.sleep)

	for i := 0; i < 2; i++ {
		var calls []string
		pages := map[string]Page[int]{
			"":  {Items: []int{1}, Next: "b"},
			"b": {Items: []int{2}, Next: ""},
		}
		items, err := New(cursorFetcher(pages, &calls), WithPacer(pacer)).Collect(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, items, "run %d", i)
	}
	assert.Len(t, sleeper.delays, 2)
}

func TestPager_CancelledDuringPacing(t *testing.T) {
	var calls []string
	pages := map[string]Page[int]{
		"":  {Items: []int{1}, Next: "b"},
		"b": {Items: []int{2}, Next: ""},
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := New(cursorFetcher(pages, &calls), WithPacer(NewPacer(time.Hour)))

	_, err := p.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{""}, calls)
}

func TestOffsetCursor(t *testing.T) {
	assert.Equal(t, 1, PageNumber(""))
	assert.Equal(t, 3, PageNumber("3"))
	assert.Equal(t, 1, PageNumber("garbage"))

	assert.Equal(t, "2", NextOffset(1, 100, 100))
	assert.Equal(t, "", NextOffset(1, 100, 42))
}
