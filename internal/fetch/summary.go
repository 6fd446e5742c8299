package fetch

import (
	"fmt"
	"sort"
	"sync"

	"novelhub/pkg/models"
)

// Run stages reported by AbortError.
const (
	StageInit     = "init"
	StageInfo     = "info"
	StageCatalog  = "catalog"
	StageFetching = "fetching"
)

// Skip reasons.
const (
	ReasonFetchFailed   = "fetch failed"
	ReasonMergeDeclined = "merge declined"
)

// AbortError stops a run. Nothing after Stage was attempted.
type AbortError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *AbortError) Error() string {
	msg := "fetch aborted at " + e.Stage
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() error { return e.Err }

// Skip is one chapter a run left unchanged. A later update run retries it.
type Skip struct {
	ChapterID string
	Title     string
	Reason    string
	Err       error

	pos int
}

func (s Skip) String() string {
	if s.Title != "" && s.Title != s.ChapterID {
		return fmt.Sprintf("%s (%s): %s", s.Title, s.ChapterID, s.Reason)
	}
	return fmt.Sprintf("%s: %s", s.ChapterID, s.Reason)
}

// Summary reports a completed run.
type Summary struct {
	RunID   string
	Work    models.Address
	Policy  Policy
	Created bool
	// CatalogMerged is set when drift was resolved through the merge resolver.
	CatalogMerged bool

	Fetched        int
	SkippedFetch   int
	SkippedPresent int
	MergeDeclined  int
	// Unchanged counts diff-policy chapters whose fetched body matched the stored one.
	Unchanged int

	Skips []Skip
}

func (s *Summary) String() string {
	return fmt.Sprintf("%s: fetched %d, present %d, unchanged %d, failed %d, merge declined %d",
		s.Work, s.Fetched, s.SkippedPresent, s.Unchanged, s.SkippedFetch, s.MergeDeclined)
}

// tally collects per-chapter outcomes from every worker.
type tally struct {
	mu  sync.Mutex
	sum *Summary
}

func (t *tally) fetched() {
	t.mu.Lock()
	t.sum.Fetched++
	t.mu.Unlock()
}

func (t *tally) unchanged() {
	t.mu.Lock()
	t.sum.Unchanged++
	t.mu.Unlock()
}

func (t *tally) skip(s Skip) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch s.Reason {
	case ReasonFetchFailed:
		t.sum.SkippedFetch++
	case ReasonMergeDeclined:
		t.sum.MergeDeclined++
	}
	t.sum.Skips = append(t.sum.Skips, s)
}

// finish orders skips by catalog position.
func (t *tally) finish() *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	sort.SliceStable(t.sum.Skips, func(i, j int) bool { return t.sum.Skips[i].pos < t.sum.Skips[j].pos })
	return t.sum
}
