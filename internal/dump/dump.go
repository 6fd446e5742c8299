// Package dump writes a stored work out of the store, either as one text
// file or in the folder layout the folder remote reads.
package dump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"novelhub/pkg/models"
)

var ErrDumperNotFound = errors.New("dumper not found")

const filePerms = 0o644

// Source is the read side of a stored work.
type Source interface {
	Address() models.Address
	Info(ctx context.Context) (models.Info, error)
	Catalog(ctx context.Context) (models.Catalog, error)
	Titles(ctx context.Context) (models.TitleIndex, error)
	GetChap(ctx context.Context, cid string) (string, error)
}

// Result describes one finished dump.
type Result struct {
	Path     string
	Chapters int
	// Missing lists catalog chapters without a stored body, in catalog order.
	Missing []string
}

type Dumper interface {
	Name() string
	Dump(ctx context.Context, src Source, destDir string) (Result, error)
}

var dumpers = map[string]Dumper{}

func register(d Dumper) { dumpers[d.Name()] = d }

func Get(name string) (Dumper, error) {
	d, ok := dumpers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrDumperNotFound, name, strings.Join(Names(), ", "))
	}
	return d, nil
}

func Names() []string {
	names := make([]string, 0, len(dumpers))
	for name := range dumpers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot is everything a dumper needs, read up front.
type snapshot struct {
	info    models.Info
	catalog models.Catalog
	titles  models.TitleIndex
}

func read(ctx context.Context, src Source) (snapshot, error) {
	var s snapshot
	var err error
	if s.info, err = src.Info(ctx); err != nil {
		return s, fmt.Errorf("dump %s: %w", src.Address(), err)
	}
	if s.catalog, err = src.Catalog(ctx); err != nil {
		return s, fmt.Errorf("dump %s: %w", src.Address(), err)
	}
	if s.titles, err = src.Titles(ctx); err != nil {
		return s, fmt.Errorf("dump %s: %w", src.Address(), err)
	}
	return s, nil
}

func writeFile(path, content string) error {
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	// atomic.WriteFile keeps the temp file's 0600 mode for new files.
	if err := os.Chmod(path, filePerms); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
