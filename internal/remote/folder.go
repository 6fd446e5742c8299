package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"novelhub/pkg/models"
)

// Folder layout, one directory per work:
//
//	<dir>/<nid>/info.yaml
//	<dir>/<nid>/catalog.yaml
//	<dir>/<nid>/chapters/<cid>.txt
const (
	FolderInfoFile    = "info.yaml"
	FolderCatalogFile = "catalog.yaml"
	FolderChapterDir  = "chapters"
)

// FolderVolume is one volume entry of catalog.yaml.
type FolderVolume struct {
	Name     string          `yaml:"name"`
	Chapters []FolderChapter `yaml:"chapters"`
}

type FolderChapter struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title,omitempty"`
}

// EncodeFolderCatalog renders toc as catalog.yaml.
func EncodeFolderCatalog(toc models.Toc) ([]byte, error) {
	vols := make([]FolderVolume, 0, len(toc.Catalog))
	for _, v := range toc.Catalog {
		fv := FolderVolume{Name: v.Name, Chapters: make([]FolderChapter, 0, len(v.CIDs))}
		for _, cid := range v.CIDs {
			fv.Chapters = append(fv.Chapters, FolderChapter{ID: cid, Title: toc.Titles[cid]})
		}
		vols = append(vols, fv)
	}
	return yaml.Marshal(vols)
}

// DecodeFolderCatalog parses catalog.yaml.
func DecodeFolderCatalog(b []byte) (models.Toc, error) {
	var vols []FolderVolume
	if err := yaml.Unmarshal(b, &vols); err != nil {
		return models.Toc{}, err
	}
	m := models.NewCatalogMaker()
	for _, fv := range vols {
		m.Vol(fv.Name)
		for _, ch := range fv.Chapters {
			m.Chap(ch.ID, ch.Title)
		}
	}
	toc := m.Toc()
	if toc.Catalog == nil {
		toc.Catalog = models.Catalog{}
	}
	return toc, nil
}

// ChapterFile is the path of a chapter body inside a work directory.
func ChapterFile(workDir, cid string) string {
	return filepath.Join(workDir, FolderChapterDir, cid+".txt")
}

// Folder reads works laid out on disk, e.g. by `export-mirror` or `dump -f folder`.
type Folder struct {
	RemoteName string
	Dir        string
}

func NewFolder(name, dir string) *Folder {
	return &Folder{RemoteName: name, Dir: dir}
}

func (f *Folder) Name() string { return f.RemoteName }

func (f *Folder) Info(_ context.Context, addr models.Address) (models.Info, error) {
	b, err := f.read(addr, "", FolderInfoFile)
	if err != nil {
		return models.Info{}, err
	}
	var info models.Info
	if err := yaml.Unmarshal(b, &info); err != nil {
		return models.Info{}, &FetchError{Source: f.RemoteName, Reason: "decode " + FolderInfoFile, Err: err}
	}
	info.Source, info.NID = addr.Source(), addr.NID()
	return info, nil
}

func (f *Folder) Catalog(_ context.Context, addr models.Address) (models.Toc, error) {
	b, err := f.read(addr, "", FolderCatalogFile)
	if err != nil {
		return models.Toc{}, err
	}
	toc, err := DecodeFolderCatalog(b)
	if err != nil {
		return models.Toc{}, &FetchError{Source: f.RemoteName, Reason: "decode " + FolderCatalogFile, Err: err}
	}
	if err := checkToc(f.RemoteName, toc); err != nil {
		return models.Toc{}, err
	}
	return toc, nil
}

func (f *Folder) Content(_ context.Context, addr models.Address, cid string) (string, error) {
	if !safeName(cid) {
		return "", &FetchError{Source: f.RemoteName, ChapterID: cid, Reason: "unusable chapter id"}
	}
	b, err := f.read(addr, cid, filepath.Join(FolderChapterDir, cid+".txt"))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f *Folder) read(addr models.Address, cid, name string) ([]byte, error) {
	if nid := addr.NID(); nid == "." || nid == ".." || filepath.Base(nid) != nid {
		return nil, &FetchError{Source: f.RemoteName, ChapterID: cid, Reason: fmt.Sprintf("unusable work id %q", nid)}
	}
	b, err := os.ReadFile(filepath.Join(f.Dir, addr.NID(), name))
	if err != nil {
		reason := "read " + name
		if errors.Is(err, os.ErrNotExist) {
			reason = fmt.Sprintf("%s not found", name)
		}
		return nil, &FetchError{Source: f.RemoteName, ChapterID: cid, Reason: reason, Err: err}
	}
	return b, nil
}

func safeName(cid string) bool {
	return models.ValidChapterID(cid) && filepath.Base(cid) == cid && cid != "." && cid != ".."
}
