package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"novelhub/pkg/models"
)

// Work is a handle on one stored work. Each chapter write is its own
// statement, so an interrupted run keeps every chapter saved before it.
type Work struct {
	store *Store
	addr  models.Address
}

func (w *Work) Address() models.Address { return w.addr }

func (w *Work) Info(ctx context.Context) (models.Info, error) {
	var raw string
	if err := w.scanWork(ctx, "info", &raw); err != nil {
		return models.Info{}, err
	}
	var info models.Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return models.Info{}, fmt.Errorf("%s: decode info: %w", w.addr, err)
	}
	return info, nil
}

func (w *Work) SetInfo(ctx context.Context, info models.Info) error {
	info.Source, info.NID = w.addr.Source(), w.addr.NID()
	b, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("%s: encode info: %w", w.addr, err)
	}
	return w.updateWork(ctx, "info", string(b))
}

func (w *Work) Catalog(ctx context.Context) (models.Catalog, error) {
	var raw string
	if err := w.scanWork(ctx, "catalog", &raw); err != nil {
		return nil, err
	}
	var c models.Catalog
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("%s: decode catalog: %w", w.addr, err)
	}
	return c, nil
}

// SetCatalog stores the catalog and upserts the chapter titles that come with it.
// Titles of chapters no longer in the catalog are kept.
func (w *Work) SetCatalog(ctx context.Context, toc models.Toc) error {
	if toc.Catalog == nil {
		toc.Catalog = models.Catalog{}
	}
	b, err := json.Marshal(toc.Catalog)
	if err != nil {
		return fmt.Errorf("%s: encode catalog: %w", w.addr, err)
	}

	tx, err := w.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE works SET catalog = ?, updated_at = CURRENT_TIMESTAMP
		WHERE source = ? AND nid = ?
	`, string(b), w.addr.Source(), w.addr.NID()); err != nil {
		return fmt.Errorf("%s: update catalog: %w", w.addr, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chapter_titles (source, nid, cid, title)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, nid, cid) DO UPDATE SET title = excluded.title
	`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	for cid, title := range toc.Titles {
		if _, err := stmt.ExecContext(ctx, w.addr.Source(), w.addr.NID(), cid, title); err != nil {
			return fmt.Errorf("exec upsert for %s: %w", cid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Spine lists the catalog's chapter ids in reading order.
func (w *Work) Spine(ctx context.Context) ([]string, error) {
	c, err := w.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.Spine(), nil
}

func (w *Work) Titles(ctx context.Context) (models.TitleIndex, error) {
	rows, err := w.store.DB.QueryContext(ctx, `
		SELECT cid, title FROM chapter_titles WHERE source = ? AND nid = ?
	`, w.addr.Source(), w.addr.NID())
	if err != nil {
		return nil, fmt.Errorf("%s: titles: %w", w.addr, err)
	}
	defer rows.Close()

	out := models.TitleIndex{}
	for rows.Next() {
		var cid, title string
		if err := rows.Scan(&cid, &title); err != nil {
			return nil, fmt.Errorf("%s: titles scan: %w", w.addr, err)
		}
		out[cid] = title
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (w *Work) HasChap(ctx context.Context, cid string) (bool, error) {
	var one int
	err := w.store.DB.QueryRowContext(ctx, `
		SELECT 1 FROM chapters WHERE source = ? AND nid = ? AND cid = ?
	`, w.addr.Source(), w.addr.NID(), cid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: has %s: %w", w.addr, cid, err)
	}
	return true, nil
}

func (w *Work) GetChap(ctx context.Context, cid string) (string, error) {
	var content string
	err := w.store.DB.QueryRowContext(ctx, `
		SELECT content FROM chapters WHERE source = ? AND nid = ? AND cid = ?
	`, w.addr.Source(), w.addr.NID(), cid).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: chapter %s: %w", w.addr, cid, ErrChapMissing)
	}
	if err != nil {
		return "", fmt.Errorf("%s: chapter %s: %w", w.addr, cid, err)
	}
	return content, nil
}

// ChapDigest returns the stored body's digest without loading the body.
func (w *Work) ChapDigest(ctx context.Context, cid string) (string, error) {
	var digest string
	err := w.store.DB.QueryRowContext(ctx, `
		SELECT digest FROM chapters WHERE source = ? AND nid = ? AND cid = ?
	`, w.addr.Source(), w.addr.NID(), cid).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: chapter %s: %w", w.addr, cid, ErrChapMissing)
	}
	if err != nil {
		return "", fmt.Errorf("%s: chapter %s: %w", w.addr, cid, err)
	}
	return digest, nil
}

// SetChap writes one chapter body atomically, replacing any previous body.
func (w *Work) SetChap(ctx context.Context, cid, content string) error {
	_, err := w.store.DB.ExecContext(ctx, `
		INSERT INTO chapters (source, nid, cid, content, digest, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(source, nid, cid) DO UPDATE SET
		  content = excluded.content,
		  digest = excluded.digest,
		  updated_at = CURRENT_TIMESTAMP
	`, w.addr.Source(), w.addr.NID(), cid, content, Digest(content))
	if err != nil {
		return fmt.Errorf("%s: save %s: %w", w.addr, cid, err)
	}
	return nil
}

func (w *Work) scanWork(ctx context.Context, column string, dest *string) error {
	err := w.store.DB.QueryRowContext(ctx,
		`SELECT `+column+` FROM works WHERE source = ? AND nid = ?`,
		w.addr.Source(), w.addr.NID()).Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", w.addr, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: read %s: %w", w.addr, column, err)
	}
	return nil
}

func (w *Work) updateWork(ctx context.Context, column, value string) error {
	res, err := w.store.DB.ExecContext(ctx,
		`UPDATE works SET `+column+` = ?, updated_at = CURRENT_TIMESTAMP WHERE source = ? AND nid = ?`,
		value, w.addr.Source(), w.addr.NID())
	if err != nil {
		return fmt.Errorf("%s: update %s: %w", w.addr, column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", w.addr, ErrNotFound)
	}
	return nil
}
