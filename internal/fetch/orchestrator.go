// Package fetch reconciles a stored work with its remote source: it syncs the
// catalog, selects the chapters a policy asks for and fetches them either in
// order or through a fixed pool of workers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"novelhub/internal/catalog"
	"novelhub/internal/local"
	"novelhub/internal/merge"
	"novelhub/internal/remote"
	"novelhub/pkg/models"
)

type Orchestrator struct {
	Store   Store
	Remotes *remote.Registry
	// Merger resolves catalog drift, info refreshes and diff-policy changes.
	// Nil declines every merge.
	Merger   merge.Resolver
	Logger   *zap.Logger
	Observer Observer
	// Confirm is asked before a new work is kept. Nil accepts.
	Confirm func(info models.Info) bool
}

func NewOrchestrator(store Store, remotes *remote.Registry, merger merge.Resolver, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{Store: store, Remotes: remotes, Merger: merger, Logger: logger}
}

// run carries the state of one Run call.
type run struct {
	*Orchestrator
	id     string
	addr   models.Address
	opts   Options
	remote remote.Remote
	log    *zap.Logger
	tally  *tally
}

// Run mirrors addr into the store. It returns a *Summary when the run reaches
// the end of its target chapters, even if some chapters were skipped, and an
// *AbortError when the run stopped early.
func (o *Orchestrator) Run(ctx context.Context, addr models.Address, opts Options) (*Summary, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Policy, _ = ParsePolicy(string(opts.Policy))

	rm, err := o.Remotes.Get(addr.Source())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", addr, err)
	}

	r := &run{
		Orchestrator: o,
		id:           uuid.NewString(),
		addr:         addr,
		opts:         opts,
		remote:       remote.WithRetry(rm, opts.Retry, opts.Interval, o.logger()),
	}
	r.log = o.logger().With(
		zap.String("run_id", r.id),
		zap.String("work", addr.String()),
		zap.String("policy", string(opts.Policy)))
	r.tally = &tally{sum: &Summary{RunID: r.id, Work: addr, Policy: opts.Policy}}

	if locker, ok := o.Store.(Locker); ok {
		unlock, err := locker.Lock(addr)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", addr, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				r.log.Warn("release lock", zap.Error(err))
			}
		}()
	}

	r.emit(models.FetchEvent{Type: models.EventRunStarted})
	sum, err := r.execute(ctx)
	if err != nil {
		var abort *AbortError
		if errors.As(err, &abort) {
			r.log.Error("run aborted", zap.String("stage", abort.Stage), zap.String("reason", abort.Reason), zap.Error(abort.Err))
			r.emit(models.FetchEvent{Type: models.EventRunAborted, Stage: abort.Stage, Reason: abort.Reason})
		}
		return nil, err
	}
	r.log.Info("run done",
		zap.Int("fetched", sum.Fetched),
		zap.Int("present", sum.SkippedPresent),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("failed", sum.SkippedFetch),
		zap.Int("merge_declined", sum.MergeDeclined))
	r.emit(models.FetchEvent{Type: models.EventRunDone})
	return sum, nil
}

func (r *run) execute(ctx context.Context) (*Summary, error) {
	w, created, err := r.openOrInit(ctx)
	if err != nil {
		return nil, err
	}
	r.tally.sum.Created = created

	if r.opts.InfoOnly && !created {
		if err := r.refreshInfo(ctx, w); err != nil {
			return nil, err
		}
		return r.tally.finish(), nil
	}

	if err := r.syncCatalog(ctx, w, created); err != nil {
		return nil, err
	}

	targets, titles, err := r.selectTargets(ctx, w)
	if err != nil {
		return nil, &AbortError{Stage: StageFetching, Reason: "select targets", Err: err}
	}

	if r.opts.Concurrent() {
		err = r.fetchConcurrent(ctx, targets, titles)
	} else {
		err = r.fetchSequential(ctx, w, targets, titles)
	}
	if err != nil {
		return nil, &AbortError{Stage: StageFetching, Err: err}
	}
	return r.tally.finish(), nil
}

// openOrInit opens the stored work, creating it on first fetch. A new record
// is removed again when its metadata cannot be obtained or is not confirmed.
func (r *run) openOrInit(ctx context.Context) (Work, bool, error) {
	w, err := r.Store.Open(ctx, r.addr)
	if err == nil {
		return w, false, nil
	}
	if !errors.Is(err, local.ErrNotFound) {
		return nil, false, &AbortError{Stage: StageInit, Reason: "open local work", Err: err}
	}

	r.log.Info("initializing local work")
	w, err = r.Store.Init(ctx, r.addr)
	if err != nil {
		return nil, false, &AbortError{Stage: StageInit, Reason: "create local work", Err: err}
	}

	info, err := r.remote.Info(ctx, r.addr)
	if err != nil {
		return nil, false, r.rollback(ctx, &AbortError{Stage: StageInfo, Reason: "get info", Err: err})
	}
	if r.Confirm != nil && !r.Confirm(info) {
		return nil, false, r.rollback(ctx, &AbortError{Stage: StageInit, Reason: "declined"})
	}
	if err := w.SetInfo(ctx, info); err != nil {
		return nil, false, r.rollback(ctx, &AbortError{Stage: StageInit, Reason: "save info", Err: err})
	}
	return w, true, nil
}

func (r *run) rollback(ctx context.Context, abort *AbortError) error {
	// The run context may already be done; removal must still happen.
	if err := r.Store.Remove(context.WithoutCancel(ctx), r.addr); err != nil {
		r.log.Error("rollback new work", zap.Error(err))
		return errors.Join(abort, fmt.Errorf("rollback %s: %w", r.addr, err))
	}
	return abort
}

func (r *run) refreshInfo(ctx context.Context, w Work) error {
	fetched, err := r.remote.Info(ctx, r.addr)
	if err != nil {
		return &AbortError{Stage: StageInfo, Reason: "get info", Err: err}
	}
	stored, err := w.Info(ctx)
	if err != nil {
		return &AbortError{Stage: StageInfo, Reason: "read stored info", Err: err}
	}
	merged, err := merge.Info(ctx, r.merger(), stored, fetched)
	if err != nil {
		if errors.Is(err, merge.ErrMergeFailed) {
			return &AbortError{Stage: StageInfo, Reason: "info merge declined", Err: err}
		}
		return &AbortError{Stage: StageInfo, Err: err}
	}
	if err := w.SetInfo(ctx, merged); err != nil {
		return &AbortError{Stage: StageInfo, Reason: "save info", Err: err}
	}
	r.log.Info("info updated")
	return nil
}

// syncCatalog persists the remote catalog, routing it through the merge
// resolver first when it would drop stored volumes or chapters.
func (r *run) syncCatalog(ctx context.Context, w Work, created bool) error {
	fail := func(reason string, err error) error {
		abort := &AbortError{Stage: StageCatalog, Reason: reason, Err: err}
		if created {
			return r.rollback(ctx, abort)
		}
		return abort
	}

	toc, err := r.remote.Catalog(ctx, r.addr)
	if err != nil {
		return fail("get catalog", err)
	}
	stored, err := w.Catalog(ctx)
	if err != nil {
		return fail("read stored catalog", err)
	}
	storedTitles, err := w.Titles(ctx)
	if err != nil {
		return fail("read stored titles", err)
	}

	titles := storedTitles.Overlay(toc.Titles)
	if catalog.HasLostContent(stored, toc.Catalog, titles) {
		r.log.Warn("remote catalog lost content, merging")
		merged, err := merge.Catalog(ctx, r.merger(), stored, toc.Catalog, titles)
		if err != nil {
			if errors.Is(err, merge.ErrMergeFailed) {
				return fail("catalog merge declined", err)
			}
			return fail("catalog merge", err)
		}
		toc.Catalog = merged
		r.tally.sum.CatalogMerged = true
		r.emit(models.FetchEvent{Type: models.EventCatalogMerged})
	}

	if err := w.SetCatalog(ctx, toc); err != nil {
		return fail("save catalog", err)
	}
	return nil
}

// selectTargets returns the chapters the policy fetches, in catalog order.
func (r *run) selectTargets(ctx context.Context, w Work) ([]target, models.TitleIndex, error) {
	spine, err := w.Spine(ctx)
	if err != nil {
		return nil, nil, err
	}
	titles, err := w.Titles(ctx)
	if err != nil {
		return nil, nil, err
	}

	targets := make([]target, 0, len(spine))
	for i, cid := range spine {
		if r.opts.Policy == PolicyUpdate {
			has, err := w.HasChap(ctx, cid)
			if err != nil {
				return nil, nil, err
			}
			if has {
				r.tally.sum.SkippedPresent++
				continue
			}
		}
		targets = append(targets, target{pos: i, cid: cid})
	}
	r.log.Info("targets selected", zap.Int("chapters", len(spine)), zap.Int("targets", len(targets)))
	return targets, titles, nil
}

func (r *run) merger() merge.Resolver {
	if r.Merger == nil {
		return merge.Decline
	}
	return r.Merger
}

func (r *run) emit(ev models.FetchEvent) {
	if r.Observer == nil {
		return
	}
	ev.RunID = r.id
	ev.Work = r.addr.String()
	ev.At = time.Now()
	r.Observer.Observe(ev)
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

type target struct {
	pos int
	cid string
}

// cursor hands out targets to workers. pop is the only shared mutable state
// of a concurrent run.
type cursor struct {
	mu      sync.Mutex
	targets []target
	next    int
}

func (c *cursor) pop() (target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.targets) {
		return target{}, false
	}
	t := c.targets[c.next]
	c.next++
	return t, true
}

func (r *run) fetchSequential(ctx context.Context, w Work, targets []target, titles models.TitleIndex) error {
	for _, t := range targets {
		if err := r.process(ctx, w, t, titles); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) fetchConcurrent(ctx context.Context, targets []target, titles models.TitleIndex) error {
	cur := &cursor{targets: targets}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Workers; i++ {
		i := i
		g.Go(func() error {
			w, err := r.Store.Open(ctx, r.addr)
			if err != nil {
				return fmt.Errorf("worker %d: open local work: %w", i, err)
			}
			for {
				t, ok := cur.pop()
				if !ok {
					return nil
				}
				if err := r.process(ctx, w, t, titles); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// process fetches and saves one chapter. Fetch failures and declined merges
// are recorded as skips; anything else stops the run.
func (r *run) process(ctx context.Context, w Work, t target, titles models.TitleIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	title := titles.Title(t.cid)
	log := r.log.With(zap.String("chapter", t.cid), zap.String("title", title))

	content, err := r.remote.Content(ctx, r.addr, t.cid)
	if err != nil {
		if !errors.Is(err, remote.ErrFetch) {
			return fmt.Errorf("chapter %s: %w", t.cid, err)
		}
		log.Warn("chapter skipped", zap.String("reason", ReasonFetchFailed), zap.Error(err))
		r.skip(Skip{ChapterID: t.cid, Title: title, Reason: ReasonFetchFailed, Err: err, pos: t.pos})
		return nil
	}

	stored, err := w.GetChap(ctx, t.cid)
	isNew := errors.Is(err, local.ErrChapMissing)
	if err != nil && !isNew {
		return fmt.Errorf("chapter %s: read stored: %w", t.cid, err)
	}

	if r.opts.Policy == PolicyDiff && !isNew {
		if stored == content {
			r.tally.unchanged()
			return nil
		}
		log.Info("chapter content changed, merging")
		merged, err := r.merger().Resolve(ctx, stored, content)
		if err != nil {
			if !errors.Is(err, merge.ErrMergeFailed) {
				return fmt.Errorf("chapter %s: merge: %w", t.cid, err)
			}
			log.Warn("chapter skipped", zap.String("reason", ReasonMergeDeclined), zap.Error(err))
			r.skip(Skip{ChapterID: t.cid, Title: title, Reason: ReasonMergeDeclined, Err: err, pos: t.pos})
			return nil
		}
		content = merged
	}

	if err := w.SetChap(ctx, t.cid, content); err != nil {
		return fmt.Errorf("chapter %s: save: %w", t.cid, err)
	}
	r.tally.fetched()
	log.Debug("chapter saved", zap.Bool("new", isNew))
	r.emit(models.FetchEvent{Type: models.EventChapterSaved, ChapterID: t.cid, Title: title, New: isNew})
	return nil
}

func (r *run) skip(s Skip) {
	r.tally.skip(s)
	r.emit(models.FetchEvent{Type: models.EventChapterSkipped, ChapterID: s.ChapterID, Title: s.Title, Reason: s.Reason})
}
