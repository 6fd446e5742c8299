package fetch

import (
	"context"

	"novelhub/internal/local"
	"novelhub/pkg/models"
)

// Work is a handle on one stored work. Handles are not shared between workers.
type Work interface {
	Address() models.Address
	Info(ctx context.Context) (models.Info, error)
	SetInfo(ctx context.Context, info models.Info) error
	Catalog(ctx context.Context) (models.Catalog, error)
	SetCatalog(ctx context.Context, toc models.Toc) error
	Spine(ctx context.Context) ([]string, error)
	Titles(ctx context.Context) (models.TitleIndex, error)
	HasChap(ctx context.Context, cid string) (bool, error)
	GetChap(ctx context.Context, cid string) (string, error)
	SetChap(ctx context.Context, cid, content string) error
}

// Store opens work handles. Open must fail with local.ErrNotFound for unknown
// addresses and GetChap with local.ErrChapMissing for absent chapters.
type Store interface {
	Init(ctx context.Context, addr models.Address) (Work, error)
	Open(ctx context.Context, addr models.Address) (Work, error)
	Remove(ctx context.Context, addr models.Address) error
}

// Locker is implemented by stores that can hold a per-work lock for the run.
type Locker interface {
	Lock(addr models.Address) (unlock func() error, err error)
}

// LocalStore adapts *local.Store to Store and Locker.
type LocalStore struct {
	*local.Store
}

func (s LocalStore) Init(ctx context.Context, addr models.Address) (Work, error) {
	w, err := s.Store.Init(ctx, addr)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s LocalStore) Open(ctx context.Context, addr models.Address) (Work, error) {
	w, err := s.Store.Open(ctx, addr)
	if err != nil {
		return nil, err
	}
	return w, nil
}
