package models

import "strings"

// Volume is one named, ordered group of chapter ids.
// Names are for display and need not be unique.
type Volume struct {
	Name string   `json:"name" yaml:"name"`
	CIDs []string `json:"cids" yaml:"cids"`
}

// Catalog is the table of contents of a work, in reading order.
type Catalog []Volume

// Spine returns every chapter id of the catalog in reading order.
func (c Catalog) Spine() []string {
	var out []string
	for _, v := range c {
		out = append(out, v.CIDs...)
	}
	return out
}

// Clone returns a deep copy so callers can edit without touching the original.
func (c Catalog) Clone() Catalog {
	if c == nil {
		return nil
	}
	out := make(Catalog, len(c))
	for i, v := range c {
		var cids []string
		if v.CIDs != nil {
			cids = make([]string, len(v.CIDs))
			copy(cids, v.CIDs)
		}
		out[i] = Volume{Name: v.Name, CIDs: cids}
	}
	return out
}

// Equal compares volume names and chapter order.
func (c Catalog) Equal(o Catalog) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i].Name != o[i].Name || len(c[i].CIDs) != len(o[i].CIDs) {
			return false
		}
		for j := range c[i].CIDs {
			if c[i].CIDs[j] != o[i].CIDs[j] {
				return false
			}
		}
	}
	return true
}

// TitleIndex maps chapter id to a human readable title.
type TitleIndex map[string]string

// Title returns the title for cid, falling back to the id itself.
func (t TitleIndex) Title(cid string) string {
	if title, ok := t[cid]; ok && title != "" {
		return title
	}
	return cid
}

// Overlay returns a new index with o's entries layered over t's.
func (t TitleIndex) Overlay(o TitleIndex) TitleIndex {
	out := make(TitleIndex, len(t)+len(o))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range o {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Toc is what a remote returns for a catalog request: the structure plus titles.
type Toc struct {
	Catalog Catalog    `json:"catalog"`
	Titles  TitleIndex `json:"titles"`
}

// ValidChapterID rejects ids that would make the flattened "title (id)" form ambiguous.
func ValidChapterID(cid string) bool {
	return cid != "" && !strings.ContainsAny(cid, "()\r\n")
}

// CatalogMaker builds a Toc volume by volume.
//
//	toc := models.NewCatalogMaker().
//		Vol("Volume 1").Chap("1", "Prologue").Chap("2", "Arrival").
//		Toc()
type CatalogMaker struct {
	toc Toc
}

func NewCatalogMaker() *CatalogMaker {
	return &CatalogMaker{toc: Toc{Titles: TitleIndex{}}}
}

// Vol opens a new volume; following Chap calls append to it.
func (m *CatalogMaker) Vol(name string) *CatalogMaker {
	m.toc.Catalog = append(m.toc.Catalog, Volume{Name: name, CIDs: []string{}})
	return m
}

// Chap appends a chapter to the last volume, opening an unnamed one if needed.
func (m *CatalogMaker) Chap(cid, title string) *CatalogMaker {
	if len(m.toc.Catalog) == 0 {
		m.Vol("")
	}
	last := &m.toc.Catalog[len(m.toc.Catalog)-1]
	last.CIDs = append(last.CIDs, cid)
	if title != "" {
		m.toc.Titles[cid] = title
	}
	return m
}

// Catalog and Toc return snapshots; the maker can keep growing afterwards.
func (m *CatalogMaker) Catalog() Catalog { return m.toc.Catalog.Clone() }

func (m *CatalogMaker) Toc() Toc {
	return Toc{Catalog: m.toc.Catalog.Clone(), Titles: TitleIndex{}.Overlay(m.toc.Titles)}
}
