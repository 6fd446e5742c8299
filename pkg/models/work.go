package models

import "time"

// Info is the persisted metadata of a work.
type Info struct {
	Source     string     `json:"source" yaml:"source"`
	NID        string     `json:"nid" yaml:"nid"`
	Title      string     `json:"title" yaml:"title"`
	Author     string     `json:"author" yaml:"author"`
	Intro      string     `json:"intro,omitempty" yaml:"intro,omitempty"`
	Tags       []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Finished   bool       `json:"finished,omitempty" yaml:"finished,omitempty"`
	LastUpdate *time.Time `json:"last_update,omitempty" yaml:"last_update,omitempty"`
}

// WorkSummary is one row of the local listing.
type WorkSummary struct {
	Address  Address   `json:"address"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Chapters int       `json:"chapters"` // chapters in the catalog
	Stored   int       `json:"stored"`   // chapters with a stored body
	Updated  time.Time `json:"updated_at"`
}
