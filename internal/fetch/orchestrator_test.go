package fetch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"novelhub/internal/local"
	"novelhub/internal/merge"
	"novelhub/internal/remote"
	"novelhub/pkg/database"
	"novelhub/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var book = models.MustParseAddress("fake/book")

func threeChapters() models.Toc {
	return models.NewCatalogMaker().Vol("V1").Chap("c1", "One").Chap("c2", "Two").Chap("c3", "Three").Toc()
}

func bodies(cids ...string) map[string]string {
	out := make(map[string]string, len(cids))
	for _, cid := range cids {
		out[cid] = "remote " + cid
	}
	return out
}

func sequential(p Policy) Options {
	return Options{Policy: p, Workers: 1, Retry: 1}
}

func newTestOrchestrator(store Store, rm remote.Remote, merger merge.Resolver) *Orchestrator {
	return NewOrchestrator(store, remote.NewRegistry(rm), merger, nil)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.NoError(t, Options{}.Validate())
	assert.NoError(t, Options{Policy: PolicyFlush, Workers: 8}.Validate())
	assert.NoError(t, Options{Policy: PolicyDiff, Workers: 1}.Validate())

	assert.ErrorIs(t, Options{Policy: "merge"}.Validate(), ErrConfig)
	assert.ErrorIs(t, Options{Policy: PolicyDiff, Workers: 2}.Validate(), ErrConfig)
	assert.ErrorIs(t, Options{Retry: -1}.Validate(), ErrConfig)
	assert.ErrorIs(t, Options{Interval: -1}.Validate(), ErrConfig)
	assert.ErrorIs(t, Options{Workers: -3}.Validate(), ErrConfig)
}

func TestDiffWithWorkersRejectedBeforeNetwork(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	o := newTestOrchestrator(store, rm, merge.PreferNew)

	_, err := o.Run(context.Background(), book, Options{Policy: PolicyDiff, Workers: 2})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Zero(t, rm.networkCalls())
	assert.False(t, store.exists(book))
}

func TestUnknownRemote(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), newFakeRemote(threeChapters(), nil), nil)
	_, err := o.Run(context.Background(), models.MustParseAddress("other/book"), sequential(PolicyUpdate))
	assert.ErrorIs(t, err, remote.ErrRemoteNotFound)
}

func TestFirstFetchInitializesWork(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	rec := &recorder{}
	o := newTestOrchestrator(store, rm, nil)
	o.Observer = rec

	sum, err := o.Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	assert.True(t, sum.Created)
	assert.Equal(t, 3, sum.Fetched)
	assert.NotEmpty(t, sum.RunID)

	r := store.record(book)
	assert.Equal(t, "Remote Title", r.info.Title)
	assert.Equal(t, "fake", r.info.Source)
	assert.True(t, threeChapters().Catalog.Equal(r.catalog))
	assert.Equal(t, bodies("c1", "c2", "c3"), r.chapters)

	assert.Equal(t, []string{
		models.EventRunStarted,
		models.EventChapterSaved, models.EventChapterSaved, models.EventChapterSaved,
		models.EventRunDone,
	}, rec.types())
	for _, ev := range rec.events {
		assert.Equal(t, sum.RunID, ev.RunID)
		assert.Equal(t, "fake/book", ev.Work)
		if ev.Type == models.EventChapterSaved {
			assert.True(t, ev.New)
		}
	}
}

func TestInitRollsBackWhenInfoFails(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), nil)
	rm.infoErr = &remote.FetchError{Source: "fake", Reason: "down"}
	o := newTestOrchestrator(store, rm, nil)

	_, err := o.Run(context.Background(), book, sequential(PolicyUpdate))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageInfo, abort.Stage)
	assert.ErrorIs(t, err, remote.ErrFetch)
	assert.False(t, store.exists(book))
	assert.Equal(t, []string{"fake/book"}, store.removed)
}

func TestInitRollsBackWhenCatalogFails(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), nil)
	rm.catalogErr = &remote.FetchError{Source: "fake", Reason: "down"}
	o := newTestOrchestrator(store, rm, nil)

	_, err := o.Run(context.Background(), book, sequential(PolicyUpdate))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageCatalog, abort.Stage)
	assert.False(t, store.exists(book))
}

func TestInitDeclined(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), bodies("c1"))
	o := newTestOrchestrator(store, rm, nil)
	var asked models.Info
	o.Confirm = func(info models.Info) bool {
		asked = info
		return false
	}

	_, err := o.Run(context.Background(), book, sequential(PolicyUpdate))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "declined", abort.Reason)
	assert.Equal(t, "Remote Title", asked.Title)
	assert.False(t, store.exists(book))
	assert.Empty(t, rm.contentCalls())
}

func TestCatalogFailureKeepsExistingWork(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), nil)
	rm := newFakeRemote(threeChapters(), nil)
	rm.catalogErr = &remote.FetchError{Source: "fake", Reason: "down"}

	_, err := newTestOrchestrator(store, rm, nil).Run(context.Background(), book, sequential(PolicyUpdate))
	assert.ErrorIs(t, err, remote.ErrFetch)
	assert.True(t, store.exists(book))
}

func TestUpdateNeverFetchesPresentChapters(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), map[string]string{"c1": "local c1", "c3": "local c3"})
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))

	sum, err := newTestOrchestrator(store, rm, nil).Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, rm.contentCalls())
	assert.Equal(t, 2, sum.SkippedPresent)
	assert.Equal(t, 1, sum.Fetched)
	assert.Equal(t, map[string]string{"c1": "local c1", "c2": "remote c2", "c3": "local c3"}, store.record(book).chapters)
}

func TestUpdateRerunIsIdempotent(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	o := newTestOrchestrator(store, rm, nil)

	_, err := o.Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	sum, err := o.Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	assert.False(t, sum.Created)
	assert.Zero(t, sum.Fetched)
	assert.Equal(t, 3, sum.SkippedPresent)
	assert.Len(t, rm.contentCalls(), 3)
}

func TestFlushOverwritesEverything(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), map[string]string{"c1": "local c1", "c2": "remote c2"})
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	rec := &recorder{}
	o := newTestOrchestrator(store, rm, nil)
	o.Observer = rec

	sum, err := o.Run(context.Background(), book, sequential(PolicyFlush))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Fetched)
	assert.Equal(t, []string{"c1", "c2", "c3"}, rm.contentCalls())

	r := store.record(book)
	assert.Equal(t, bodies("c1", "c2", "c3"), r.chapters)
	assert.Equal(t, map[string]int{"c1": 1, "c2": 1, "c3": 1}, r.writes)

	var newFlags []bool
	for _, ev := range rec.events {
		if ev.Type == models.EventChapterSaved {
			newFlags = append(newFlags, ev.New)
		}
	}
	assert.Equal(t, []bool{false, false, true}, newFlags)
}

func TestDiffEqualBodiesSkipMerge(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), bodies("c1", "c2", "c3"))
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	m := &scripted{fn: func(_, n string) (string, error) { return n, nil }}

	sum, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, sequential(PolicyDiff))
	require.NoError(t, err)
	assert.Zero(t, m.calls)
	assert.Equal(t, 3, sum.Unchanged)
	assert.Zero(t, sum.Fetched)
	assert.Empty(t, store.record(book).writes)
}

func TestDiffMergesChangedBodies(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), map[string]string{"c1": "remote c1", "c2": "old c2"})
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	m := &scripted{fn: func(o, n string) (string, error) { return o + "+" + n, nil }}

	sum, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, sequential(PolicyDiff))
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, 2, sum.Fetched)

	r := store.record(book)
	assert.Equal(t, "old c2+remote c2", r.chapters["c2"])
	assert.Equal(t, "remote c3", r.chapters["c3"])
	assert.Zero(t, r.writes["c1"])
}

func TestDiffDeclinedLeavesChapterAndContinues(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), map[string]string{"c1": "old c1", "c2": "old c2"})
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	m := &scripted{fn: func(o, n string) (string, error) {
		if o == "old c1" {
			return "", &merge.MergeError{Status: 1}
		}
		return n, nil
	}}

	sum, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, sequential(PolicyDiff))
	require.NoError(t, err)
	assert.Equal(t, 2, m.calls)
	assert.Equal(t, 1, sum.MergeDeclined)
	require.Len(t, sum.Skips, 1)
	assert.Equal(t, "c1", sum.Skips[0].ChapterID)
	assert.Equal(t, "One", sum.Skips[0].Title)
	assert.Equal(t, ReasonMergeDeclined, sum.Skips[0].Reason)

	r := store.record(book)
	assert.Equal(t, "old c1", r.chapters["c1"])
	assert.Equal(t, "remote c2", r.chapters["c2"])
	assert.Equal(t, "remote c3", r.chapters["c3"])
}

func TestFetchFailureSkipsOnlyThatChapter(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	rm.fail["c2"] = true

	sum, err := newTestOrchestrator(store, rm, nil).Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	require.Len(t, sum.Skips, 1)
	assert.Equal(t, "c2", sum.Skips[0].ChapterID)
	assert.Equal(t, ReasonFetchFailed, sum.Skips[0].Reason)
	assert.ErrorIs(t, sum.Skips[0].Err, remote.ErrFetch)
	assert.Equal(t, 1, sum.SkippedFetch)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, map[string]string{"c1": "remote c1", "c3": "remote c3"}, store.record(book).chapters)
}

func TestFetchRetriesBeforeSkipping(t *testing.T) {
	store := newMemStore()
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	rm.fail["c2"] = true

	opts := sequential(PolicyUpdate)
	opts.Retry = 3
	sum, err := newTestOrchestrator(store, rm, nil).Run(context.Background(), book, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c2", "c2", "c3"}, rm.contentCalls())
	assert.Equal(t, 1, sum.SkippedFetch)
}

func TestCatalogDriftDeclinedAborts(t *testing.T) {
	store := newMemStore()
	stored := models.NewCatalogMaker().Vol("V1").Chap("a", "A").Chap("b", "B").Toc()
	store.seed(book, stored, nil)
	updated := models.NewCatalogMaker().Vol("V1").Chap("a", "A").Toc()
	rm := newFakeRemote(updated, bodies("a"))
	m := &scripted{fn: func(string, string) (string, error) { return "", &merge.MergeError{Status: 1} }}
	rec := &recorder{}
	o := newTestOrchestrator(store, rm, m)
	o.Observer = rec

	_, err := o.Run(context.Background(), book, sequential(PolicyFlush))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageCatalog, abort.Stage)
	assert.Equal(t, "catalog merge declined", abort.Reason)
	assert.ErrorIs(t, err, merge.ErrMergeFailed)

	assert.Equal(t, 1, m.calls)
	assert.Empty(t, rm.contentCalls())
	assert.True(t, stored.Catalog.Equal(store.record(book).catalog))
	assert.Equal(t, models.EventRunAborted, rec.types()[len(rec.types())-1])
}

func TestCatalogDriftResolved(t *testing.T) {
	store := newMemStore()
	stored := models.NewCatalogMaker().Vol("V1").Chap("a", "A").Chap("b", "B").Toc()
	store.seed(book, stored, map[string]string{"a": "remote a", "b": "local b"})
	updated := models.NewCatalogMaker().Vol("V1").Chap("a", "A").Chap("c", "C").Toc()
	rm := newFakeRemote(updated, bodies("a", "c"))

	// Keep everything from both sides.
	m := &scripted{fn: func(o, n string) (string, error) {
		return "# V1\n. A (a)\n. B (b)\n. C (c)", nil
	}}

	sum, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	assert.True(t, sum.CatalogMerged)
	assert.Equal(t, []string{"c"}, rm.contentCalls())

	want := models.NewCatalogMaker().Vol("V1").Chap("a", "").Chap("b", "").Chap("c", "").Catalog()
	assert.True(t, want.Equal(store.record(book).catalog))
	assert.Equal(t, "C", store.record(book).titles["c"])
}

func TestCatalogAdditionsNeedNoMerge(t *testing.T) {
	store := newMemStore()
	store.seed(book, models.NewCatalogMaker().Vol("V1").Chap("c1", "One").Toc(), nil)
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	m := &scripted{fn: func(string, string) (string, error) { return "", errors.New("unexpected") }}

	sum, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, sequential(PolicyUpdate))
	require.NoError(t, err)
	assert.Zero(t, m.calls)
	assert.False(t, sum.CatalogMerged)
	assert.True(t, threeChapters().Catalog.Equal(store.record(book).catalog))
}

func TestMalformedMergedCatalogIsHardError(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), nil)
	rm := newFakeRemote(models.NewCatalogMaker().Vol("V1").Toc(), nil)
	m := &scripted{fn: func(string, string) (string, error) { return ". orphan (x)", nil }}

	_, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, sequential(PolicyUpdate))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageCatalog, abort.Stage)
	assert.NotErrorIs(t, err, merge.ErrMergeFailed)
	assert.True(t, threeChapters().Catalog.Equal(store.record(book).catalog))
}

func TestConcurrentProcessesEachTargetOnce(t *testing.T) {
	maker := models.NewCatalogMaker()
	var cids []string
	for v := 0; v < 4; v++ {
		maker.Vol(fmt.Sprintf("V%d", v))
		for c := 0; c < 25; c++ {
			cid := fmt.Sprintf("%d-%d", v, c)
			cids = append(cids, cid)
			maker.Chap(cid, "")
		}
	}
	store := newMemStore()
	rm := newFakeRemote(maker.Toc(), bodies(cids...))
	rm.fail["2-7"] = true
	rm.fail["0-0"] = true

	sum, err := newTestOrchestrator(store, rm, nil).Run(context.Background(), book, Options{Policy: PolicyFlush, Workers: 6, Retry: 1})
	require.NoError(t, err)

	calls := rm.contentCalls()
	sort.Strings(calls)
	want := append([]string(nil), cids...)
	sort.Strings(want)
	assert.Equal(t, want, calls)

	assert.Equal(t, 98, sum.Fetched)
	require.Len(t, sum.Skips, 2)
	assert.Equal(t, "0-0", sum.Skips[0].ChapterID)
	assert.Equal(t, "2-7", sum.Skips[1].ChapterID)
	assert.Len(t, store.record(book).chapters, 98)
	// the work is new, so every successful Open is a worker handle
	assert.Equal(t, 6, store.opens)
}

func TestCursorHandsOutEachTargetOnce(t *testing.T) {
	targets := make([]target, 1000)
	for i := range targets {
		targets[i] = target{pos: i, cid: fmt.Sprint(i)}
	}
	cur := &cursor{targets: targets}

	seen := make(chan int, len(targets))
	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				tg, ok := cur.pop()
				if !ok {
					return
				}
				seen <- tg.pos
			}
		}()
	}
	for w := 0; w < 8; w++ {
		<-done
	}
	close(seen)

	got := make([]bool, len(targets))
	n := 0
	for pos := range seen {
		assert.False(t, got[pos], "target %d dispatched twice", pos)
		got[pos] = true
		n++
	}
	assert.Equal(t, len(targets), n)
}

func TestInfoOnlyMergesMetadata(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), nil)
	rm := newFakeRemote(threeChapters(), bodies("c1"))
	m := &scripted{fn: func(_, n string) (string, error) { return n, nil }}

	sum, err := newTestOrchestrator(store, rm, m).Run(context.Background(), book, Options{Policy: PolicyUpdate, InfoOnly: true})
	require.NoError(t, err)
	assert.Zero(t, sum.Fetched)
	assert.Equal(t, 1, m.calls)
	assert.Empty(t, rm.contentCalls())
	assert.Equal(t, "Remote Title", store.record(book).info.Title)
}

func TestInfoOnlyDeclined(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), nil)
	rm := newFakeRemote(threeChapters(), nil)

	_, err := newTestOrchestrator(store, rm, nil).Run(context.Background(), book, Options{InfoOnly: true})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageInfo, abort.Stage)
	assert.Equal(t, "Stored", store.record(book).info.Title)
}

func TestCancelledRunAborts(t *testing.T) {
	store := newMemStore()
	store.seed(book, threeChapters(), nil)
	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	o := newTestOrchestrator(store, rm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	o.Observer = ObserverFunc(func(ev models.FetchEvent) {
		if ev.Type == models.EventChapterSaved {
			cancel()
		}
	})

	_, err := o.Run(ctx, book, sequential(PolicyUpdate))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageFetching, abort.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, map[string]string{"c1": "remote c1"}, store.record(book).chapters)
}

func TestRunAgainstSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	db, err := database.OpenMigrated(database.Config{Path: filepath.Join(dir, "fetch.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := local.NewStore(db, filepath.Join(dir, "locks"))

	rm := newFakeRemote(threeChapters(), bodies("c1", "c2", "c3"))
	o := newTestOrchestrator(LocalStore{store}, rm, nil)

	sum, err := o.Run(context.Background(), book, Options{Policy: PolicyFlush, Workers: 3, Retry: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Fetched)

	w, err := store.Open(context.Background(), book)
	require.NoError(t, err)
	body, err := w.GetChap(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, "remote c2", body)

	unlock, err := store.Lock(book)
	require.NoError(t, err)
	defer unlock()
	_, err = o.Run(context.Background(), book, sequential(PolicyUpdate))
	assert.ErrorIs(t, err, local.ErrLocked)
}
