// Package remote defines the remote source adapters a work is mirrored from.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"novelhub/pkg/models"
)

var (
	ErrRemoteNotFound = errors.New("remote not found")
	// ErrFetch is matched by every *FetchError.
	ErrFetch = errors.New("fetch failed")
)

// FetchError is a failed remote request. ChapterID is empty for info and catalog requests.
type FetchError struct {
	Source    string
	ChapterID string
	Reason    string
	Err       error
}

func (e *FetchError) Error() string {
	msg := e.Source + ": fetch"
	if e.ChapterID != "" {
		msg += " chapter " + e.ChapterID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Remote is implemented by each source a work can be mirrored from.
type Remote interface {
	Name() string
	Info(ctx context.Context, addr models.Address) (models.Info, error)
	Catalog(ctx context.Context, addr models.Address) (models.Toc, error)
	Content(ctx context.Context, addr models.Address, cid string) (string, error)
}

// Registry resolves remotes by the source part of an address.
type Registry struct {
	mu      sync.RWMutex
	remotes map[string]Remote
}

func NewRegistry(remotes ...Remote) *Registry {
	r := &Registry{remotes: make(map[string]Remote)}
	for _, rm := range remotes {
		r.Register(rm)
	}
	return r
}

// Register adds rm under rm.Name(), replacing any previous remote of that name.
func (r *Registry) Register(rm Remote) {
	r.mu.Lock()
	r.remotes[rm.Name()] = rm
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Remote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.remotes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}
	return rm, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.remotes))
	for name := range r.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkToc rejects catalogs whose chapter ids cannot round-trip through the
// flattened catalog form.
func checkToc(source string, toc models.Toc) error {
	for _, cid := range toc.Catalog.Spine() {
		if !models.ValidChapterID(cid) {
			return &FetchError{Source: source, Reason: fmt.Sprintf("unusable chapter id %q", cid)}
		}
	}
	return nil
}
