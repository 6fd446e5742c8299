package fetch

import (
	"context"
	"fmt"
	"sync"

	"novelhub/internal/local"
	"novelhub/internal/remote"
	"novelhub/pkg/models"
)

// memStore is an in-memory Store. Every Open returns a fresh handle on the
// same record, like the sqlite store.
type memStore struct {
	mu      sync.Mutex
	works   map[string]*memRecord
	opens   int
	removed []string
}

type memRecord struct {
	info     models.Info
	catalog  models.Catalog
	titles   models.TitleIndex
	chapters map[string]string
	writes   map[string]int
}

func newMemStore() *memStore {
	return &memStore{works: make(map[string]*memRecord)}
}

// seed creates a stored work with the given catalog and chapter bodies.
func (s *memStore) seed(addr models.Address, toc models.Toc, chapters map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &memRecord{
		info:     models.Info{Source: addr.Source(), NID: addr.NID(), Title: "Stored"},
		catalog:  toc.Catalog.Clone(),
		titles:   models.TitleIndex{}.Overlay(toc.Titles),
		chapters: make(map[string]string),
		writes:   make(map[string]int),
	}
	for k, v := range chapters {
		rec.chapters[k] = v
	}
	s.works[addr.String()] = rec
}

func (s *memStore) Init(_ context.Context, addr models.Address) (Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.works[addr.String()]; ok {
		return nil, local.ErrAlreadyExists
	}
	s.works[addr.String()] = &memRecord{
		titles:   models.TitleIndex{},
		chapters: make(map[string]string),
		writes:   make(map[string]int),
	}
	return &memWork{store: s, addr: addr}, nil
}

func (s *memStore) Open(_ context.Context, addr models.Address) (Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.works[addr.String()]; !ok {
		return nil, fmt.Errorf("open %s: %w", addr, local.ErrNotFound)
	}
	s.opens++
	return &memWork{store: s, addr: addr}, nil
}

func (s *memStore) Remove(_ context.Context, addr models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.works, addr.String())
	s.removed = append(s.removed, addr.String())
	return nil
}

func (s *memStore) exists(addr models.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.works[addr.String()]
	return ok
}

func (s *memStore) record(addr models.Address) *memRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.works[addr.String()]
}

type memWork struct {
	store *memStore
	addr  models.Address
}

func (w *memWork) rec() *memRecord { return w.store.works[w.addr.String()] }

func (w *memWork) Address() models.Address { return w.addr }

func (w *memWork) Info(context.Context) (models.Info, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.rec().info, nil
}

func (w *memWork) SetInfo(_ context.Context, info models.Info) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.rec().info = info
	return nil
}

func (w *memWork) Catalog(context.Context) (models.Catalog, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.rec().catalog.Clone(), nil
}

func (w *memWork) SetCatalog(_ context.Context, toc models.Toc) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	rec := w.rec()
	rec.catalog = toc.Catalog.Clone()
	rec.titles = rec.titles.Overlay(toc.Titles)
	return nil
}

func (w *memWork) Spine(context.Context) ([]string, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.rec().catalog.Spine(), nil
}

func (w *memWork) Titles(context.Context) (models.TitleIndex, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return models.TitleIndex{}.Overlay(w.rec().titles), nil
}

func (w *memWork) HasChap(_ context.Context, cid string) (bool, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	_, ok := w.rec().chapters[cid]
	return ok, nil
}

func (w *memWork) GetChap(_ context.Context, cid string) (string, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	body, ok := w.rec().chapters[cid]
	if !ok {
		return "", local.ErrChapMissing
	}
	return body, nil
}

func (w *memWork) SetChap(_ context.Context, cid, content string) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	rec := w.rec()
	rec.chapters[cid] = content
	rec.writes[cid]++
	return nil
}

// fakeRemote serves a fixed toc and bodies and records every content request.
type fakeRemote struct {
	name   string
	info   models.Info
	toc    models.Toc
	bodies map[string]string
	fail   map[string]bool

	infoErr    error
	catalogErr error

	mu      sync.Mutex
	calls   []string
	network int
}

func newFakeRemote(toc models.Toc, bodies map[string]string) *fakeRemote {
	return &fakeRemote{
		name:   "fake",
		info:   models.Info{Title: "Remote Title", Author: "Someone"},
		toc:    toc,
		bodies: bodies,
		fail:   map[string]bool{},
	}
}

func (f *fakeRemote) Name() string { return f.name }

func (f *fakeRemote) Info(_ context.Context, addr models.Address) (models.Info, error) {
	f.mu.Lock()
	f.network++
	f.mu.Unlock()
	if f.infoErr != nil {
		return models.Info{}, f.infoErr
	}
	info := f.info
	info.Source, info.NID = addr.Source(), addr.NID()
	return info, nil
}

func (f *fakeRemote) Catalog(context.Context, models.Address) (models.Toc, error) {
	f.mu.Lock()
	f.network++
	f.mu.Unlock()
	if f.catalogErr != nil {
		return models.Toc{}, f.catalogErr
	}
	return models.Toc{Catalog: f.toc.Catalog.Clone(), Titles: models.TitleIndex{}.Overlay(f.toc.Titles)}, nil
}

func (f *fakeRemote) Content(_ context.Context, _ models.Address, cid string) (string, error) {
	f.mu.Lock()
	f.network++
	f.calls = append(f.calls, cid)
	f.mu.Unlock()
	if f.fail[cid] {
		return "", &remote.FetchError{Source: f.name, ChapterID: cid, Reason: "unavailable"}
	}
	return f.bodies[cid], nil
}

func (f *fakeRemote) contentCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.network
}

// scripted counts merge calls and answers with fn.
type scripted struct {
	mu    sync.Mutex
	calls int
	fn    func(oldText, newText string) (string, error)
}

func (s *scripted) Resolve(_ context.Context, oldText, newText string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(oldText, newText)
}

type recorder struct {
	mu     sync.Mutex
	events []models.FetchEvent
}

func (r *recorder) Observe(ev models.FetchEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
