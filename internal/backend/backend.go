// Package backend has one function per backend REST endpoint. Each call
// performs a single request through httpclient and normalises the response
// envelope into models types.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/paperlens/internal/httpclient"
	"github.com/starford/paperlens/internal/models"
)

const (
	DefaultSearchTimeout         = 180 * time.Second
	DefaultRecommendationTimeout = 420 * time.Second
	DefaultPageSize              = 10
)

// Doer sends one request; *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request, out any) error
}

// API groups the endpoint functions.
type API struct {
	http                  Doer
	searchTimeout         time.Duration
	recommendationTimeout time.Duration
}

// Option configures optional API parameters.
type Option func(*API)

func WithSearchTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.searchTimeout = d
		}
	}
}

func WithRecommendationTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.recommendationTimeout = d
		}
	}
}

func New(doer Doer, opts ...Option) *API {
	a := &API{
		http:                  doer,
		searchTimeout:         DefaultSearchTimeout,
		recommendationTimeout: DefaultRecommendationTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func seg(s string) string { return url.PathEscape(s) }

// ---------- auth ----------

// Login exchanges credentials for a token (form-encoded, OAuth2 password style).
func (a *API) Login(ctx context.Context, username, password string) (models.LoginResult, error) {
	var out models.LoginResult
	err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Form:   url.Values{"username": {username}, "password": {password}},
	}, &out)
	if err != nil {
		return models.LoginResult{}, fmt.Errorf("backend: login: %w", err)
	}
	if out.AccessToken == "" {
		return models.LoginResult{}, fmt.Errorf("backend: login: response carries no access_token")
	}
	if out.Username == "" {
		out.Username = username
	}
	return out, nil
}

func (a *API) Register(ctx context.Context, req models.RegisterRequest) (models.UserProfile, error) {
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Method: http.MethodPost, Path: "/auth/register", JSON: req}, &raw); err != nil {
		return models.UserProfile{}, fmt.Errorf("backend: register: %w", err)
	}
	u, err := decodeProfile(raw)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("backend: register: %w", err)
	}
	if u.Username == "" {
		u.Username = req.Username
	}
	return u, nil
}

// UsernameExists reports whether username is already taken.
func (a *API) UsernameExists(ctx context.Context, username string) (bool, error) {
	var raw json.RawMessage
	err := a.http.Do(ctx, httpclient.Request{
		Path:  "/auth/username-exists",
		Query: url.Values{"username": {username}},
	}, &raw)
	if err != nil {
		return false, fmt.Errorf("backend: username exists: %w", err)
	}
	var bare bool
	if json.Unmarshal(raw, &bare) == nil {
		return bare, nil
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return false, err
	}
	if v := env.flag("exists"); v != nil {
		return *v, nil
	}
	if v := env.flag("available"); v != nil {
		return !*v, nil
	}
	return false, fmt.Errorf("backend: username exists: unrecognised response")
}

// Me returns the profile of the token's owner.
func (a *API) Me(ctx context.Context) (models.UserProfile, error) {
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Path: "/auth/me"}, &raw); err != nil {
		return models.UserProfile{}, fmt.Errorf("backend: me: %w", err)
	}
	return decodeProfile(raw)
}

func decodeProfile(raw json.RawMessage) (models.UserProfile, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return models.UserProfile{}, err
	}
	if nested := env.object("user", "data"); nested != nil {
		raw = nested
	}
	var u models.UserProfile
	if env.shape == shapeEmpty {
		return u, nil
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return models.UserProfile{}, fmt.Errorf("backend: decode profile: %w", err)
	}
	return u, nil
}

func (a *API) Logout(ctx context.Context) error {
	if err := a.http.Do(ctx, httpclient.Request{Method: http.MethodPost, Path: "/auth/logout"}, nil); err != nil {
		return fmt.Errorf("backend: logout: %w", err)
	}
	return nil
}

// QuitAccount deletes the current user's account.
func (a *API) QuitAccount(ctx context.Context) error {
	if err := a.http.Do(ctx, httpclient.Request{Method: http.MethodDelete, Path: "/auth/quit"}, nil); err != nil {
		return fmt.Errorf("backend: quit: %w", err)
	}
	return nil
}

// ---------- papers ----------

// SearchParams are the inputs of a paper search.
type SearchParams struct {
	Query      string
	Categories []string
	Page       int
	Sort       string
}

// Search runs a full-text search. It uses the long search timeout.
func (a *API) Search(ctx context.Context, p SearchParams) (models.SearchPage, error) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	q := url.Values{"q": {p.Query}, "page": {strconv.Itoa(page)}}
	if len(p.Categories) > 0 {
		q.Set("categories", strings.Join(p.Categories, ","))
	}
	if p.Sort != "" {
		q.Set("sort_by", p.Sort)
	}
	var raw json.RawMessage
	err := a.http.Do(ctx, httpclient.Request{Path: "/papers/search", Query: q, Timeout: a.searchTimeout}, &raw)
	if err != nil {
		return models.SearchPage{}, fmt.Errorf("backend: search: %w", err)
	}
	return decodeSearchPage(raw, page)
}

func decodeSearchPage(raw json.RawMessage, requestedPage int) (models.SearchPage, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return models.SearchPage{}, err
	}
	papers, err := decodeList[models.Paper](env, "items", "papers", "results", "data")
	if err != nil {
		return models.SearchPage{}, err
	}
	out := models.SearchPage{Papers: papers}

	out.Total = len(papers)
	if n, ok := env.number("total", "total_count", "count"); ok {
		out.Total = max(n, 0)
	}
	out.Page = max(requestedPage, 1)
	if n, ok := env.number("page", "current_page"); ok && n >= 1 {
		out.Page = n
	}
	out.PageSize = DefaultPageSize
	if n, ok := env.number("page_size", "pageSize", "size", "limit"); ok && n > 0 {
		out.PageSize = n
	}
	if n, ok := env.number("total_pages"); ok {
		out.TotalPages = &n
	}
	out.HasNext = env.flag("has_next")
	out.HasPrev = env.flag("has_prev")
	out.Approximate = env.flag("is_approximate")
	return out, nil
}

// Paper fetches one paper by id.
func (a *API) Paper(ctx context.Context, id models.PaperID) (models.Paper, error) {
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Path: "/papers/" + seg(string(id))}, &raw); err != nil {
		return models.Paper{}, fmt.Errorf("backend: paper %s: %w", id, err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return models.Paper{}, err
	}
	if nested := env.object("paper", "data"); nested != nil {
		raw = nested
	}
	var p models.Paper
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Paper{}, fmt.Errorf("backend: decode paper: %w", err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

// ---------- recommendations ----------

// RecommendationParams are the inputs of a recommendation request.
type RecommendationParams struct {
	BasePaperID models.PaperID
	TopK        int
	CandidateK  int
}

// Recommendations asks the recommender for papers related to the base paper.
// It uses the long recommendation timeout.
func (a *API) Recommendations(ctx context.Context, p RecommendationParams) ([]models.Recommendation, error) {
	q := url.Values{
		"base_paper_id": {string(p.BasePaperID)},
		"top_k":         {strconv.Itoa(p.TopK)},
		"candidate_k":   {strconv.Itoa(p.CandidateK)},
	}
	var raw json.RawMessage
	err := a.http.Do(ctx, httpclient.Request{Path: "/recommendations/rl", Query: q, Timeout: a.recommendationTimeout}, &raw)
	if err != nil {
		return nil, fmt.Errorf("backend: recommendations: %w", err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Recommendation](env, "recommendations", "items", "data")
}

func (a *API) RecordClick(ctx context.Context, recommendationID string) error {
	err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/recommendations/" + seg(recommendationID) + "/click",
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: record click: %w", err)
	}
	return nil
}

func (a *API) RecordInteraction(ctx context.Context, recommendationID string, in models.Interaction) error {
	err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/recommendations/" + seg(recommendationID) + "/interactions",
		JSON:   in,
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: record interaction: %w", err)
	}
	return nil
}

// ---------- bookmarks ----------

func (a *API) Bookmarks(ctx context.Context) ([]models.Bookmark, error) {
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Path: "/bookmarks"}, &raw); err != nil {
		return nil, fmt.Errorf("backend: bookmarks: %w", err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Bookmark](env, "bookmarks", "items", "data")
}

// AddBookmark creates a bookmark. A duplicate is reported by the backend
// as an error that matches apperr.ErrDuplicateBookmark.
func (a *API) AddBookmark(ctx context.Context, paperID models.PaperID, notes string) (models.Bookmark, error) {
	body := map[string]string{"doi": string(paperID)}
	if notes != "" {
		body["notes"] = notes
	}
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Method: http.MethodPost, Path: "/bookmarks", JSON: body}, &raw); err != nil {
		return models.Bookmark{}, fmt.Errorf("backend: add bookmark: %w", err)
	}
	bm, err := decodeBookmark(raw)
	if err != nil {
		return models.Bookmark{}, err
	}
	if bm.PaperID == "" {
		bm.PaperID = paperID
	}
	return bm, nil
}

func (a *API) UpdateBookmark(ctx context.Context, bookmarkID, notes string) (models.Bookmark, error) {
	var raw json.RawMessage
	err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   "/bookmarks/" + seg(bookmarkID),
		JSON:   map[string]string{"notes": notes},
	}, &raw)
	if err != nil {
		return models.Bookmark{}, fmt.Errorf("backend: update bookmark: %w", err)
	}
	bm, err := decodeBookmark(raw)
	if err != nil {
		return models.Bookmark{}, err
	}
	if bm.ID == "" {
		bm.ID = bookmarkID
	}
	return bm, nil
}

func (a *API) DeleteBookmark(ctx context.Context, bookmarkID string) error {
	if err := a.http.Do(ctx, httpclient.Request{Method: http.MethodDelete, Path: "/bookmarks/" + seg(bookmarkID)}, nil); err != nil {
		return fmt.Errorf("backend: delete bookmark: %w", err)
	}
	return nil
}

func decodeBookmark(raw json.RawMessage) (models.Bookmark, error) {
	env, err := parseEnvelope(raw)
	if err != nil || env.shape != shapeObject {
		return models.Bookmark{}, err
	}
	if nested := env.object("bookmark", "data"); nested != nil {
		raw = nested
	}
	var bm models.Bookmark
	if err := json.Unmarshal(raw, &bm); err != nil {
		return models.Bookmark{}, fmt.Errorf("backend: decode bookmark: %w", err)
	}
	return bm, nil
}

// ---------- history ----------

// SearchHistory returns the raw history rows as the backend sends them.
func (a *API) SearchHistory(ctx context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Path: "/papers/search-history", Query: q}, &raw); err != nil {
		return nil, fmt.Errorf("backend: search history: %w", err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return decodeList[models.SearchHistoryEntry](env, "items", "history", "searches", "data")
}

// ---------- interests ----------

// Interests returns the user's category codes in server order.
func (a *API) Interests(ctx context.Context) (models.InterestSet, error) {
	var raw json.RawMessage
	if err := a.http.Do(ctx, httpclient.Request{Path: "/user-interests"}, &raw); err != nil {
		return nil, fmt.Errorf("backend: interests: %w", err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	list := env.list("items", "category_codes", "categories", "category_ids", "data")
	if list == nil {
		return models.InterestSet{}, nil
	}
	codes, err := decodeCodes(list)
	if err != nil {
		return nil, err
	}
	return models.NewInterestSet(codes...), nil
}

func (a *API) AddInterests(ctx context.Context, codes []string) error {
	err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/user-interests",
		JSON:   map[string][]string{"category_codes": codes},
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: add interests: %w", err)
	}
	return nil
}

func (a *API) DeleteInterests(ctx context.Context, codes []string) error {
	err := a.http.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		Path:   "/user-interests",
		JSON:   map[string][]string{"category_codes": codes},
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: delete interests: %w", err)
	}
	return nil
}
