// Package models defines the domain types for paperlens.
//
// Backend deployments disagree on field names and value shapes, so every
// type here decodes tolerantly and always encodes one canonical shape.
package models

import (
	"encoding/json"
	"strings"
)

// PaperID is an opaque paper identifier. It may arrive as a JSON string or
// number and is never interpreted numerically.
type PaperID string

func (id *PaperID) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexString(b)
	if err != nil {
		return err
	}
	*id = PaperID(s)
	return nil
}

func (id PaperID) String() string { return string(id) }

// Summary is either a plain string or a bilingual pair; either half may be absent.
type Summary struct {
	Text string
	EN   string
	KO   string
}

// Bilingual reports whether the summary arrived as an {en, ko} object.
func (s Summary) Bilingual() bool {
	return s.EN != "" || s.KO != ""
}

// Best returns the English summary, then Korean, then the plain text.
func (s Summary) Best() string {
	return firstNonEmpty(s.EN, s.KO, s.Text)
}

func (s Summary) IsZero() bool {
	return s.Text == "" && !s.Bilingual()
}

func (s *Summary) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '{' {
		var pair struct {
			EN *string `json:"en"`
			KO *string `json:"ko"`
		}
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		*s = Summary{}
		if pair.EN != nil {
			s.EN = *pair.EN
		}
		if pair.KO != nil {
			s.KO = *pair.KO
		}
		return nil
	}
	text, err := decodeFlexString(b)
	if err != nil {
		return err
	}
	*s = Summary{Text: text}
	return nil
}

func (s Summary) MarshalJSON() ([]byte, error) {
	if s.Bilingual() {
		pair := map[string]string{}
		if s.EN != "" {
			pair["en"] = s.EN
		}
		if s.KO != "" {
			pair["ko"] = s.KO
		}
		return json.Marshal(pair)
	}
	return json.Marshal(s.Text)
}

// Paper is the client-side view of a paper. It is read-only: the backend owns it.
type Paper struct {
	ID          PaperID  `json:"id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Publisher   string   `json:"publisher,omitempty"`
	Year        string   `json:"year,omitempty"`
	Abstract    string   `json:"abstract,omitempty"`
	Summary     *Summary `json:"summary,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	UpdateCount *int     `json:"update_count,omitempty"`
	UpdateDate  string   `json:"update_date,omitempty"`
	ExternalURL string   `json:"external_url,omitempty"`
	Journal     string   `json:"journal,omitempty"`
	Pages       string   `json:"pages,omitempty"`
}

type paperWire struct {
	ID                PaperID         `json:"id"`
	PaperID           PaperID         `json:"paper_id"`
	ArxivID           PaperID         `json:"arxiv_id"`
	Title             string          `json:"title"`
	Authors           json.RawMessage `json:"authors"`
	Publisher         string          `json:"publisher"`
	Year              FlexString      `json:"year"`
	Abstract          string          `json:"abstract"`
	Summary           *Summary        `json:"summary"`
	TranslatedSummary string          `json:"translatedSummary"`
	Categories        json.RawMessage `json:"categories"`
	UpdateCount       *int            `json:"update_count"`
	UpdateDate        string          `json:"update_date"`
	ExternalURL       string          `json:"external_url"`
	ExternalURLCamel  string          `json:"externalUrl"`
	URL               string          `json:"url"`
	Journal           string          `json:"journal"`
	Conference        string          `json:"conference"`
	Pages             string          `json:"pages"`
}

func (p *Paper) UnmarshalJSON(b []byte) error {
	var w paperWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	authors, err := decodeStringList(w.Authors, isCommaSep)
	if err != nil {
		return err
	}
	cats, err := decodeStringList(w.Categories, isCodeSep)
	if err != nil {
		return err
	}
	*p = Paper{
		ID:          PaperID(firstNonEmpty(string(w.ID), string(w.PaperID), string(w.ArxivID))),
		Title:       strings.TrimSpace(w.Title),
		Authors:     authors,
		Publisher:   w.Publisher,
		Year:        string(w.Year),
		Abstract:    w.Abstract,
		Summary:     w.Summary,
		Categories:  splitCodes(cats),
		UpdateCount: w.UpdateCount,
		UpdateDate:  w.UpdateDate,
		ExternalURL: firstNonEmpty(w.ExternalURL, w.ExternalURLCamel, w.URL),
		Journal:     firstNonEmpty(w.Journal, w.Conference),
		Pages:       w.Pages,
	}
	if p.Summary == nil && w.TranslatedSummary != "" {
		p.Summary = &Summary{KO: w.TranslatedSummary}
	}
	if p.Authors == nil {
		p.Authors = []string{}
	}
	return nil
}

// splitCodes splits list entries that themselves hold several space-separated codes.
func splitCodes(in []string) []string {
	var out []string
	for _, c := range in {
		out = append(out, strings.FieldsFunc(c, isCodeSep)...)
	}
	return compact(out)
}

// HasCategory reports whether code is among the paper's category tags.
func (p Paper) HasCategory(code string) bool {
	for _, c := range p.Categories {
		if c == code {
			return true
		}
	}
	return false
}

// AuthorLine renders the authors the way listings display them.
func (p Paper) AuthorLine() string {
	return strings.Join(p.Authors, ", ")
}
