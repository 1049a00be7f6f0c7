package models

import (
	"encoding/json"
	"time"
)

// Bookmark is a user's saved reference to a paper.
type Bookmark struct {
	ID        string     `json:"id"`
	PaperID   PaperID    `json:"paper_id"`
	Notes     string     `json:"notes,omitempty"`
	Paper     *Paper     `json:"paper,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Pending   bool       `json:"pending,omitempty"`
}

type bookmarkWire struct {
	ID         FlexString      `json:"id"`
	BookmarkID FlexString      `json:"bookmark_id"`
	PaperID    PaperID         `json:"paper_id"`
	DOI        PaperID         `json:"doi"`
	Notes      string          `json:"notes"`
	Note       string          `json:"note"`
	Paper      *Paper          `json:"paper"`
	CreatedAt  json.RawMessage `json:"created_at"`
	Pending    bool            `json:"pending"`
}

func (b *Bookmark) UnmarshalJSON(data []byte) error {
	var w bookmarkWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	created, err := parseTimestamp(w.CreatedAt)
	if err != nil {
		return err
	}
	pid := firstNonEmpty(string(w.PaperID), string(w.DOI))
	if pid == "" && w.Paper != nil {
		pid = string(w.Paper.ID)
	}
	*b = Bookmark{
		ID:        firstNonEmpty(string(w.ID), string(w.BookmarkID), pid),
		PaperID:   PaperID(pid),
		Notes:     firstNonEmpty(w.Notes, w.Note),
		Paper:     w.Paper,
		CreatedAt: created,
		Pending:   w.Pending,
	}
	return nil
}

// Matches reports whether the bookmark refers to id, checking both the
// top-level paper id and the embedded paper.
func (b Bookmark) Matches(id PaperID) bool {
	if id == "" {
		return false
	}
	if b.PaperID == id {
		return true
	}
	return b.Paper != nil && b.Paper.ID == id
}

// FindBookmark returns the first bookmark matching id.
func FindBookmark(list []Bookmark, id PaperID) (Bookmark, bool) {
	for _, b := range list {
		if b.Matches(id) {
			return b, true
		}
	}
	return Bookmark{}, false
}

// WithoutPaper returns a copy of list with every bookmark matching id removed.
func WithoutPaper(list []Bookmark, id PaperID) []Bookmark {
	out := make([]Bookmark, 0, len(list))
	for _, b := range list {
		if !b.Matches(id) {
			out = append(out, b)
		}
	}
	return out
}
