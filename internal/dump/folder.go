package dump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"novelhub/internal/local"
	"novelhub/internal/remote"
	"novelhub/pkg/models"
)

func init() { register(Folder{}) }

// Folder writes <dest>/<nid>/ in the layout remote.Folder reads, so a dumped
// work can be fetched again under another source name.
type Folder struct{}

func (Folder) Name() string { return "folder" }

func (Folder) Dump(ctx context.Context, src Source, destDir string) (Result, error) {
	snap, err := read(ctx, src)
	if err != nil {
		return Result{}, err
	}
	workDir := filepath.Join(destDir, src.Address().NID())
	res := Result{Path: workDir}

	if err := os.MkdirAll(filepath.Join(workDir, remote.FolderChapterDir), 0o755); err != nil {
		return Result{}, err
	}

	info, err := yaml.Marshal(snap.info)
	if err != nil {
		return Result{}, fmt.Errorf("encode info: %w", err)
	}
	if err := writeFile(filepath.Join(workDir, remote.FolderInfoFile), string(info)); err != nil {
		return Result{}, err
	}

	cat, err := remote.EncodeFolderCatalog(models.Toc{Catalog: snap.catalog, Titles: snap.titles})
	if err != nil {
		return Result{}, fmt.Errorf("encode catalog: %w", err)
	}
	if err := writeFile(filepath.Join(workDir, remote.FolderCatalogFile), string(cat)); err != nil {
		return Result{}, err
	}

	for _, cid := range snap.catalog.Spine() {
		if filepath.Base(cid) != cid {
			return Result{}, fmt.Errorf("dump %s: chapter id %q is not a file name", src.Address(), cid)
		}
		body, err := src.GetChap(ctx, cid)
		if errors.Is(err, local.ErrChapMissing) {
			res.Missing = append(res.Missing, cid)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if err := writeFile(remote.ChapterFile(workDir, cid), body); err != nil {
			return Result{}, err
		}
		res.Chapters++
	}
	return res, nil
}
