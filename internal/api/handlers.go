package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/paperservice"
)

const maxBody = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *paperservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *paperservice.Service) *Handler {
	return &Handler{svc: svc}
}

// pathID extracts a URL parameter. Paper ids may carry an encoded slash
// (old-style arXiv ids such as hep-th%2F9901001).
func pathID(r *http.Request, name string) string {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeBody reads an optional JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// Search handles GET /api/search.
//
//	@Summary	Search papers by keyword and categories
//	@Tags		papers
//	@Param		q			query	string	false	"Keyword"
//	@Param		categories	query	string	false	"Comma separated category codes"
//	@Param		page		query	int		false	"Page (1-based)"
//	@Param		sort		query	string	false	"Sort key"	Enums(relevance, date, citations)
//	@Success	200			{object}	models.SearchPage
//	@Router		/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := paperservice.SearchParams{
		Query: q.Get("q"),
		Page:  queryInt(r, "page"),
		Sort:  q.Get("sort"),
	}
	if c := q.Get("categories"); c != "" {
		p.Categories = strings.Split(c, ",")
	}
	if strings.TrimSpace(p.Query) == "" && len(p.Categories) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' or 'categories' is required"))
		return
	}
	page, err := h.svc.Search(r.Context(), p)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetPaper handles GET /api/papers/{id}.
func (h *Handler) GetPaper(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Paper(r.Context(), models.PaperID(pathID(r, "id")))
	if err != nil {
		writeError(w, r, "get paper", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Recommendations handles GET /api/papers/{id}/recommendations.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	id := models.PaperID(pathID(r, "id"))
	recs, err := h.svc.Recommendations(r.Context(), id, queryInt(r, "top_k"), queryInt(r, "candidate_k"))
	if err != nil {
		writeError(w, r, "recommendations", err)
		return
	}
	writeList(w, r, RecommendationListResponse{BasePaperID: id, Recommendations: recs})
}

// RecordClick handles POST /api/recommendations/{id}/click. The click is
// reported in the background.
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	h.svc.RecordRecommendationClick(pathID(r, "id"))
	w.WriteHeader(http.StatusAccepted)
}

// RecordInteraction handles POST /api/recommendations/{id}/interactions.
func (h *Handler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	var in models.Interaction
	if !decodeBody(w, r, &in) {
		return
	}
	if err := h.svc.RecordInteraction(r.Context(), pathID(r, "id"), in); err != nil {
		writeError(w, r, "record interaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBookmarks handles GET /api/bookmarks.
//
//	@Summary	List bookmarks with paper details
//	@Tags		bookmarks
//	@Success	200	{object}	BookmarkListResponse
//	@Failure	401	{object}	errResponse
//	@Router		/bookmarks [get]
func (h *Handler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Bookmarks(r.Context())
	if err != nil {
		writeError(w, r, "list bookmarks", err)
		return
	}
	writeList(w, r, BookmarkListResponse{Bookmarks: list, Total: len(list)})
}

// AddBookmark handles POST /api/bookmarks.
func (h *Handler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	var req AddBookmarkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(string(req.PaperID)) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("paper_id is required"))
		return
	}
	bm, err := h.svc.AddBookmark(r.Context(), req.PaperID, req.Notes)
	if err != nil {
		writeError(w, r, "add bookmark", err)
		return
	}
	writeJSON(w, http.StatusCreated, bm)
}

// ToggleBookmark handles POST /api/bookmarks/toggle/{paperID}.
func (h *Handler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := models.PaperID(pathID(r, "paperID"))
	on, err := h.svc.ToggleBookmark(r.Context(), id, req.Notes)
	if err != nil {
		writeError(w, r, "toggle bookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{PaperID: id, Bookmarked: on})
}

// UpdateBookmarkNote handles PUT /api/bookmarks/{paperID}.
func (h *Handler) UpdateBookmarkNote(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bm, err := h.svc.FindBookmark(r.Context(), models.PaperID(pathID(r, "paperID")))
	if err != nil {
		writeError(w, r, "update bookmark", err)
		return
	}
	updated, err := h.svc.UpdateBookmarkNote(r.Context(), bm.ID, req.Notes)
	if err != nil {
		writeError(w, r, "update bookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// RemoveBookmark handles DELETE /api/bookmarks/{paperID}.
func (h *Handler) RemoveBookmark(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveBookmark(r.Context(), models.PaperID(pathID(r, "paperID"))); err != nil {
		writeError(w, r, "remove bookmark", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchHistory handles GET /api/history.
func (h *Handler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.SearchHistory(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, "search history", err)
		return
	}
	writeList(w, r, HistoryResponse{History: hist})
}

func (h *Handler) ListInterests(w http.ResponseWriter, r *http.Request) {
	set, err := h.svc.Interests(r.Context())
	if err != nil {
		writeError(w, r, "list interests", err)
		return
	}
	writeList(w, r, InterestsResponse{Categories: set})
}

// SaveInterests handles PUT /api/interests.
func (h *Handler) SaveInterests(w http.ResponseWriter, r *http.Request) {
	var req InterestsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	set, err := h.svc.SaveInterests(r.Context(), req.Categories)
	if err != nil {
		writeError(w, r, "save interests", err)
		return
	}
	writeJSON(w, http.StatusOK, InterestsResponse{Categories: set})
}

func (h *Handler) RecentlyViewed(w http.ResponseWriter, _ *http.Request) {
	ids := h.svc.RecentlyViewed()
	if ids == nil {
		ids = []models.PaperID{}
	}
	writeJSON(w, http.StatusOK, RecentlyViewedResponse{PaperIDs: ids})
}

func (h *Handler) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Session())
}

// Login handles POST /api/session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	info, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// Logout handles DELETE /api/session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context()); err != nil {
		writeError(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
