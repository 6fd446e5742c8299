package dump

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"novelhub/internal/local"
)

func init() { register(Txt{}) }

// Txt writes the whole work into <dest>/<source>_<nid>.txt.
//
//	Title
//	Author
//
//	# Volume
//
//	## Chapter title
//
//	body
type Txt struct{}

func (Txt) Name() string { return "txt" }

func (Txt) Dump(ctx context.Context, src Source, destDir string) (Result, error) {
	snap, err := read(ctx, src)
	if err != nil {
		return Result{}, err
	}
	addr := src.Address()
	res := Result{Path: filepath.Join(destDir, addr.Source()+"_"+addr.NID()+".txt")}

	var b strings.Builder
	b.WriteString(firstNonEmpty(snap.info.Title, addr.String()))
	b.WriteString("\n")
	if snap.info.Author != "" {
		b.WriteString(snap.info.Author + "\n")
	}
	if snap.info.Intro != "" {
		b.WriteString("\n" + strings.TrimSpace(snap.info.Intro) + "\n")
	}

	for _, vol := range snap.catalog {
		b.WriteString("\n# " + vol.Name + "\n")
		for _, cid := range vol.CIDs {
			body, err := src.GetChap(ctx, cid)
			if errors.Is(err, local.ErrChapMissing) {
				res.Missing = append(res.Missing, cid)
				continue
			}
			if err != nil {
				return Result{}, err
			}
			b.WriteString("\n## " + snap.titles.Title(cid) + "\n\n")
			b.WriteString(strings.TrimRight(body, "\n") + "\n")
			res.Chapters++
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, err
	}
	if err := writeFile(res.Path, b.String()); err != nil {
		return Result{}, err
	}
	return res, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
