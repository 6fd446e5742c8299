// Package catalog converts catalogs to and from the line form used for
// diffing and for external merge tools, and detects lossy catalog updates.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"novelhub/pkg/models"
)

const (
	volumePrefix  = "# "
	chapterPrefix = ". "
)

// ErrMalformedCatalogText is returned when merged text cannot be read back as a catalog.
var ErrMalformedCatalogText = errors.New("malformed catalog text")

// Flatten renders c one line per volume header and chapter:
//
//	# Volume name
//	. Chapter title (cid)
func Flatten(c models.Catalog, titles models.TitleIndex) string {
	lines := make([]string, 0, len(c)*8)
	for _, vol := range c {
		lines = append(lines, volumePrefix+oneLine(vol.Name))
		for _, cid := range vol.CIDs {
			lines = append(lines, chapterPrefix+oneLine(titles.Title(cid))+" ("+cid+")")
		}
	}
	return strings.Join(lines, "\n")
}

// Unflatten parses text produced by Flatten, possibly edited by a merge tool.
// Lines with neither prefix are ignored.
func Unflatten(text string) (models.Catalog, error) {
	var out models.Catalog
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, volumePrefix):
			out = append(out, models.Volume{Name: line[len(volumePrefix):], CIDs: []string{}})
		case strings.HasPrefix(line, chapterPrefix):
			if len(out) == 0 {
				return nil, fmt.Errorf("%w: line %d: chapter before any volume", ErrMalformedCatalogText, n+1)
			}
			cid, ok := chapterID(line)
			if !ok {
				return nil, fmt.Errorf("%w: line %d: no chapter id in %q", ErrMalformedCatalogText, n+1, line)
			}
			last := &out[len(out)-1]
			last.CIDs = append(last.CIDs, cid)
		}
	}
	return out, nil
}

// chapterID takes the text between the last "(" and the trailing ")".
func chapterID(line string) (string, bool) {
	if !strings.HasSuffix(line, ")") {
		return "", false
	}
	open := strings.LastIndex(line, "(")
	if open < 0 {
		return "", false
	}
	cid := line[open+1 : len(line)-1]
	return cid, cid != ""
}

func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
