// Package local persists mirrored works in SQLite: metadata, catalog,
// chapter titles and chapter bodies.
package local

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"

	"novelhub/pkg/models"
)

var (
	ErrNotFound      = errors.New("local work not found")
	ErrAlreadyExists = errors.New("local work already exists")
	ErrChapMissing   = errors.New("chapter not stored")
	ErrLocked        = errors.New("work is locked by another run")
)

type Store struct {
	DB      *sql.DB
	LockDir string
}

// NewStore wraps a migrated database. lockDir holds per-work lock files.
func NewStore(db *sql.DB, lockDir string) *Store {
	return &Store{DB: db, LockDir: lockDir}
}

// Init creates an empty record for addr.
func (s *Store) Init(ctx context.Context, addr models.Address) (*Work, error) {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO works (source, nid) VALUES (?, ?)
	`, addr.Source(), addr.NID())
	if err != nil {
		if isConstraint(err) {
			return nil, fmt.Errorf("init %s: %w", addr, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("init %s: %w", addr, err)
	}
	return &Work{store: s, addr: addr}, nil
}

// Open returns a new handle for an existing record. Every call returns an
// independent handle; handles are cheap and hold no connection.
func (s *Store) Open(ctx context.Context, addr models.Address) (*Work, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM works WHERE source = ? AND nid = ?
	`, addr.Source(), addr.NID()).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("open %s: %w", addr, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", addr, err)
	}
	return &Work{store: s, addr: addr}, nil
}

// Remove deletes the record and everything stored under it.
func (s *Store) Remove(ctx context.Context, addr models.Address) error {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM works WHERE source = ? AND nid = ?
	`, addr.Source(), addr.NID())
	if err != nil {
		return fmt.Errorf("remove %s: %w", addr, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove %s: %w", addr, ErrNotFound)
	}
	return nil
}

// List returns every stored work ordered by address.
func (s *Store) List(ctx context.Context) ([]models.WorkSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT w.source, w.nid, w.info, w.catalog, w.updated_at,
		       (SELECT COUNT(*) FROM chapters c WHERE c.source = w.source AND c.nid = w.nid)
		FROM works w
		ORDER BY w.source, w.nid
	`)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close()

	var out []models.WorkSummary
	for rows.Next() {
		var (
			source, nid         string
			infoJSON, catalogJS string
			updated             time.Time
			stored              int
		)
		if err := rows.Scan(&source, &nid, &infoJSON, &catalogJS, &updated, &stored); err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		addr, err := models.NewAddress(source, nid)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}

		var info models.Info
		_ = json.Unmarshal([]byte(infoJSON), &info)
		var cat models.Catalog
		_ = json.Unmarshal([]byte(catalogJS), &cat)

		out = append(out, models.WorkSummary{
			Address:  addr,
			Title:    info.Title,
			Author:   info.Author,
			Chapters: len(cat.Spine()),
			Stored:   stored,
			Updated:  updated,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Lock takes the exclusive run lock for addr. The returned func releases it.
func (s *Store) Lock(addr models.Address) (func() error, error) {
	if err := os.MkdirAll(s.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	path := filepath.Join(s.LockDir, addr.Source()+"_"+addr.NID()+".lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", addr, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", addr, ErrLocked)
	}
	return fl.Unlock, nil
}

// SetStatus stores v as JSON under key.
func (s *Store) SetStatus(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("status %s: encode: %w", key, err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO status (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(b))
	if err != nil {
		return fmt.Errorf("status %s: %w", key, err)
	}
	return nil
}

// Status decodes the value under key into out, or returns ErrNotFound.
func (s *Store) Status(ctx context.Context, key string, out any) error {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM status WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("status %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("status %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("status %s: decode: %w", key, err)
	}
	return nil
}

// Digest is the hex blake2b-256 of a chapter body.
func Digest(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
