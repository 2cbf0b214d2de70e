package updater

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Outcome classifies one update request.
type Outcome string

const (
	// OutcomePass is a request answered with an expected status.
	OutcomePass Outcome = "pass"

	// OutcomeBadStatus is a request answered with any other status.
	OutcomeBadStatus Outcome = "bad-status"

	// OutcomeError is a request that got no answer, or whose body could
	// not be rendered.
	OutcomeError Outcome = "error"

	// OutcomeSkipped is a job never sent because the run was canceled.
	OutcomeSkipped Outcome = "skipped"
)

// Tally counts outcomes. The zero value is ready to use and safe for
// concurrent use.
type Tally struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

// Add records one outcome.
func (t *Tally) Add(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = make(map[Outcome]int)
	}
	t.counts[o]++
}

// Count returns the number of o recorded.
func (t *Tally) Count(o Outcome) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[o]
}

// Total returns the number of outcomes recorded.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Counts returns a copy of the counters.
func (t *Tally) Counts() map[Outcome]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.counts)
}

// AllPassed reports whether exactly n outcomes were recorded and every one
// of them passed.
func (t *Tally) AllPassed(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n == 0 {
		return len(t.counts) == 0
	}
	return len(t.counts) == 1 && t.counts[OutcomePass] == n
}

// String renders the counters sorted by outcome, e.g. "pass=150".
func (t *Tally) String() string {
	counts := t.Counts()
	keys := slices.Sorted(maps.Keys(counts))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
