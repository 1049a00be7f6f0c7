package models

import (
	"encoding/json"
	"time"
)

// SearchPage is one page of search results.
type SearchPage struct {
	Papers      []Paper `json:"papers"`
	Total       int     `json:"total"`
	Page        int     `json:"page"`
	PageSize    int     `json:"page_size"`
	TotalPages  *int    `json:"total_pages,omitempty"`
	HasNext     *bool   `json:"has_next,omitempty"`
	HasPrev     *bool   `json:"has_prev,omitempty"`
	Approximate *bool   `json:"is_approximate,omitempty"`
}

// SearchHistoryEntry is one past query issued by the user.
type SearchHistoryEntry struct {
	Query      string     `json:"query"`
	SearchedAt *time.Time `json:"searched_at,omitempty"`
}

func (e *SearchHistoryEntry) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var q string
		if err := json.Unmarshal(b, &q); err != nil {
			return err
		}
		*e = SearchHistoryEntry{Query: q}
		return nil
	}
	var w struct {
		Query      string          `json:"query"`
		Keyword    string          `json:"keyword"`
		Q          string          `json:"q"`
		SearchedAt json.RawMessage `json:"searched_at"`
		CreatedAt  json.RawMessage `json:"created_at"`
		Timestamp  json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var at *time.Time
	for _, raw := range []json.RawMessage{w.SearchedAt, w.CreatedAt, w.Timestamp} {
		t, err := parseTimestamp(raw)
		if err != nil {
			return err
		}
		if t != nil {
			at = t
			break
		}
	}
	*e = SearchHistoryEntry{Query: firstNonEmpty(w.Query, w.Keyword, w.Q), SearchedAt: at}
	return nil
}

// Recommendation is a suggested paper produced by the backend recommender.
type Recommendation struct {
	RecommendationID string   `json:"recommendation_id,omitempty"`
	Paper            Paper    `json:"paper"`
	Score            *float64 `json:"score,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

// UnmarshalJSON accepts both a nested {"paper": {...}} item and one whose
// paper fields sit at the top level.
func (r *Recommendation) UnmarshalJSON(b []byte) error {
	var w struct {
		RecommendationID FlexString      `json:"recommendation_id"`
		ID               FlexString      `json:"id"`
		PaperID          PaperID         `json:"paper_id"`
		Paper            json.RawMessage `json:"paper"`
		Score            *float64        `json:"score"`
		Reason           string          `json:"reason"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Recommendation{Score: w.Score, Reason: w.Reason}
	if len(w.Paper) > 0 && w.Paper[0] == '{' {
		if err := json.Unmarshal(w.Paper, &r.Paper); err != nil {
			return err
		}
		r.RecommendationID = firstNonEmpty(string(w.RecommendationID), string(w.ID))
		return nil
	}
	if err := json.Unmarshal(b, &r.Paper); err != nil {
		return err
	}
	r.RecommendationID = string(w.RecommendationID)
	if r.RecommendationID == "" && w.PaperID != "" {
		// flat item carrying both: "id" names the recommendation
		r.RecommendationID = string(w.ID)
		r.Paper.ID = w.PaperID
	}
	return nil
}

// Interaction describes how the user engaged with a recommended paper.
type Interaction struct {
	DwellSeconds float64 `json:"dwell_time"`
	ScrollDepth  float64 `json:"scroll_depth"`
	Bookmarked   bool    `json:"bookmarked"`
	Clicked      bool    `json:"clicked"`
	Shared       bool    `json:"shared"`
}
