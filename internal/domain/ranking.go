package domain

import "sort"

// DefaultTopN is the size of every top-N breakdown.
const DefaultTopN = 5

// TopEntry is one ranked sub-resource (repository, channel, project).
type TopEntry struct {
	Label    string `json:"label"`
	FullName string `json:"full_name,omitempty"`
	Count    int    `json:"count"`
	Language string `json:"language,omitempty"`
	Private  bool   `json:"private,omitempty"`
}

// RankTop orders entries by descending count and keeps at most n of them.
// Entries with equal counts keep their input order. Zero-count entries are dropped.
func RankTop(entries []TopEntry, n int) []TopEntry {
	ranked := make([]TopEntry, 0, len(entries))
	for _, e := range entries {
		if e.Count > 0 {
			ranked = append(ranked, e)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Counter tallies labels while remembering the order in which they first appeared.
type Counter struct {
	order  []string
	counts map[string]int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Inc adds one to label.
func (c *Counter) Inc(label string) {
	if _, ok := c.counts[label]; !ok {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

// Entries returns one TopEntry per label in first-seen order.
func (c *Counter) Entries() []TopEntry {
	entries := make([]TopEntry, 0, len(c.order))
	for _, label := range c.order {
		entries = append(entries, TopEntry{Label: label, Count: c.counts[label]})
	}
	return entries
}

// Max returns the label with the highest count. Ties go to the label seen first.
func (c *Counter) Max() (string, int, bool) {
	best, bestCount := "", 0
	for _, label := range c.order {
		if n := c.counts[label]; n > bestCount {
			best, bestCount = label, n
		}
	}
	return best, bestCount, bestCount > 0
}
