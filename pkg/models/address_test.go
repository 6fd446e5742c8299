package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("wenku8/2255")
	require.NoError(t, err)
	assert.Equal(t, "wenku8", a.Source())
	assert.Equal(t, "2255", a.NID())
	assert.Equal(t, "wenku8/2255", a.String())

	again, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.True(t, a.Equal(again))
	assert.Equal(t, a, again)
}

func TestParseAddressAllowedCharacters(t *testing.T) {
	a, err := ParseAddress("  my-site_2.v1/abc.DEF-9_x ")
	require.NoError(t, err)
	assert.Equal(t, "my-site_2.v1", a.Source())
	assert.Equal(t, "abc.DEF-9_x", a.NID())
}

func TestParseAddressRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"wenku8",
		"wenku8/",
		"/2255",
		"wenku8/22/55",
		"wen ku8/2255",
		"wenku8/22(55)",
		"wenku8:2255",
	} {
		_, err := ParseAddress(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrInvalidAddress, raw)

		var addrErr *AddressError
		require.ErrorAs(t, err, &addrErr)
		assert.Equal(t, raw, addrErr.Raw)
	}
}

func TestAddressTextRoundTrip(t *testing.T) {
	type wrapper struct {
		Work Address `json:"work"`
	}
	b, err := json.Marshal(wrapper{Work: MustParseAddress("folder/book-1")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"work":"folder/book-1"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal(b, &w))
	assert.Equal(t, "folder/book-1", w.Work.String())

	assert.Error(t, json.Unmarshal([]byte(`{"work":"nope"}`), &w))
}

func TestCatalogMaker(t *testing.T) {
	toc := NewCatalogMaker().
		Vol("V1").Chap("a", "Alpha").Chap("b", "").
		Vol("V2").Chap("c", "Gamma").
		Toc()

	assert.Equal(t, Catalog{
		{Name: "V1", CIDs: []string{"a", "b"}},
		{Name: "V2", CIDs: []string{"c"}},
	}, toc.Catalog)
	assert.Equal(t, []string{"a", "b", "c"}, toc.Catalog.Spine())
	assert.Equal(t, "Alpha", toc.Titles.Title("a"))
	assert.Equal(t, "b", toc.Titles.Title("b"))
}

func TestCatalogCloneIsDeep(t *testing.T) {
	c := Catalog{{Name: "V1", CIDs: []string{"a", "b"}}}
	d := c.Clone()
	d[0].CIDs[0] = "z"
	assert.Equal(t, "a", c[0].CIDs[0])
	assert.False(t, c.Equal(d))
	assert.True(t, c.Equal(c.Clone()))
}

func TestTitleIndexOverlay(t *testing.T) {
	base := TitleIndex{"a": "old a", "b": "b"}
	merged := base.Overlay(TitleIndex{"a": "new a", "c": "c", "b": ""})
	assert.Equal(t, TitleIndex{"a": "new a", "b": "b", "c": "c"}, merged)
	assert.Equal(t, "old a", base["a"])
}

func TestValidChapterID(t *testing.T) {
	assert.True(t, ValidChapterID("123"))
	assert.True(t, ValidChapterID("ch-1.html"))
	assert.False(t, ValidChapterID(""))
	assert.False(t, ValidChapterID("a(1)"))
	assert.False(t, ValidChapterID("a\nb"))
}
