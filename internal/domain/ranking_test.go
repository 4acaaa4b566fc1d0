package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRankTop(t *testing.T) {
	testCases := []struct {
		name     string
		input    []TopEntry
		n        int
		expected []TopEntry
	}{
		{
			name: "orders by count and keeps ties in input order",
			input: []TopEntry{
				{Label: "a", Count: 2},
				{Label: "b", Count: 5},
				{Label: "c", Count: 2},
				{Label: "d", Count: 5},
			},
			n: 5,
			expected: []TopEntry{
				{Label: "b", Count: 5},
				{Label: "d", Count: 5},
				{Label: "a", Count: 2},
				{Label: "c", Count: 2},
			},
		},
		{
			name: "truncates to n and drops empty entries",
			input: []TopEntry{
				{Label: "a", Count: 1}, {Label: "b", Count: 2}, {Label: "c", Count: 3},
				{Label: "d", Count: 4}, {Label: "e", Count: 5}, {Label: "f", Count: 6},
				{Label: "g", Count: 0},
			},
			n: 5,
			expected: []TopEntry{
				{Label: "f", Count: 6}, {Label: "e", Count: 5}, {Label: "d", Count: 4},
				{Label: "c", Count: 3}, {Label: "b", Count: 2},
			},
		},
		{
			name:     "empty input",
			input:    nil,
			n:        5,
			expected: []TopEntry{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ranked := RankTop(tc.input, tc.n)
			assert.Equal(t, tc.expected, ranked)
			assert.LessOrEqual(t, len(ranked), tc.n)
			for i := 1; i < len(ranked); i++ {
				assert.GreaterOrEqual(t, ranked[i-1].Count, ranked[i].Count)
			}
		})
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	for _, label := range []string{"2024-03-01", "2024-03-02", "2024-03-02", "2024-03-01", "2024-03-05"} {
		c.Inc(label)
	}

	assert.Equal(t, []TopEntry{
		{Label: "2024-03-01", Count: 2},
		{Label: "2024-03-02", Count: 2},
		{Label: "2024-03-05", Count: 1},
	}, c.Entries())

	label, count, ok := c.Max()
	assert.True(t, ok)
	assert.Equal(t, "2024-03-01", label, "ties go to the first encountered label")
	assert.Equal(t, 2, count)

	_, _, ok = NewCounter().Max()
	assert.False(t, ok)
}

func TestCredential_Expired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	assert.True(t, Credential{AccessToken: "x"}.Expired(now), "unknown expiry is expired")
	assert.False(t, Credential{AccessToken: "x", ExpiresAt: &later}.Expired(now))
	assert.True(t, Credential{AccessToken: "x", ExpiresAt: &earlier}.Expired(now))
	assert.True(t, Credential{AccessToken: "x", ExpiresAt: &now}.Expired(now))
}

func TestProvider_Valid(t *testing.T) {
	assert.True(t, ProviderGitHub.Valid())
	assert.True(t, Provider("linear").Valid())
	assert.False(t, Provider("jira").Valid())
}

func TestProvider_Renewable(t *testing.T) {
	assert.True(t, ProviderGoogle.Renewable())
	assert.False(t, ProviderGitHub.Renewable())
	assert.False(t, ProviderSlack.Renewable())
}

func TestCoverage_WithPageCap(t *testing.T) {
	var none *Coverage
	assert.Equal(t, &Coverage{PageCap: 10, LowerBound: true}, none.WithPageCap(10))

	probed := &Coverage{Probed: 3, Available: 3, Cap: 15}
	assert.Equal(t, &Coverage{Probed: 3, Available: 3, Cap: 15, PageCap: 2, LowerBound: true}, probed.WithPageCap(2))
}
