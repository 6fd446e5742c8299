package models

import "time"

const (
	EventRunStarted     = "run.started"
	EventCatalogMerged  = "catalog.merged"
	EventChapterSaved   = "chapter.saved"
	EventChapterSkipped = "chapter.skipped"
	EventRunDone        = "run.done"
	EventRunAborted     = "run.aborted"
)

// FetchEvent is broadcast while a fetch run progresses.
type FetchEvent struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Work      string    `json:"work"`
	ChapterID string    `json:"chapter_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	New       bool      `json:"new,omitempty"`    // chapter.saved: no body was stored before
	Reason    string    `json:"reason,omitempty"` // chapter.skipped / run.aborted
	Stage     string    `json:"stage,omitempty"`
	At        time.Time `json:"at"`
}
