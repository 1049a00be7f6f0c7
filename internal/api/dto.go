package api

import "github.com/starford/paperlens/internal/models"

// AddBookmarkRequest is the body of POST /api/bookmarks.
type AddBookmarkRequest struct {
	PaperID models.PaperID `json:"paper_id" example:"2401.00001"`
	Notes   string         `json:"notes,omitempty"`
}

// NotesRequest carries bookmark notes (toggle and note update).
type NotesRequest struct {
	Notes string `json:"notes"`
}

// ToggleResponse reports the bookmark state after a toggle.
type ToggleResponse struct {
	PaperID    models.PaperID `json:"paper_id"`
	Bookmarked bool           `json:"bookmarked"`
}

// InterestsRequest is the body of PUT /api/interests.
type InterestsRequest struct {
	Categories []string `json:"categories" example:"cs.AI,cs.CL"`
}

// InterestsResponse wraps the saved or current interest set.
type InterestsResponse struct {
	Categories models.InterestSet `json:"categories"`
}

// LoginRequest is the body of POST /api/session.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BookmarkListResponse wraps the bookmark list.
type BookmarkListResponse struct {
	Bookmarks []models.Bookmark `json:"bookmarks"`
	Total     int               `json:"total"`
}

// RecommendationListResponse wraps recommendations for one paper.
type RecommendationListResponse struct {
	BasePaperID     models.PaperID          `json:"base_paper_id"`
	Recommendations []models.Recommendation `json:"recommendations"`
}

// HistoryResponse wraps search history entries.
type HistoryResponse struct {
	History []models.SearchHistoryEntry `json:"history"`
}

// RecentlyViewedResponse lists recently viewed paper ids, newest first.
type RecentlyViewedResponse struct {
	PaperIDs []models.PaperID `json:"paper_ids"`
}
