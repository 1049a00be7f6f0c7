package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starford/paperlens/internal/models"
)

// FakeBookmark is a bookmark row held by Backend.
type FakeBookmark struct {
	ID        int
	PaperID   string
	Notes     string
	CreatedAt time.Time
}

// Backend is an in-memory stand-in for the paper REST API.
type Backend struct {
	Server *httptest.Server

	mu           sync.Mutex
	papers       map[string]models.Paper
	order        []string
	users        map[string]string
	tokens       map[string]string // token -> username
	bookmarks    []FakeBookmark
	nextBMID     int
	interests    []string
	history      []historyRow
	overrides    map[string]http.HandlerFunc
	calls        []string
	clicks       []string
	interactions map[string]models.Interaction
}

type historyRow struct {
	Query string    `json:"query"`
	At    time.Time `json:"searched_at"`
}

// NewBackend starts a fake backend that is closed when the test ends.
// A user "kim" with password "pw" exists.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		papers:       make(map[string]models.Paper),
		users:        map[string]string{"kim": "pw"},
		tokens:       make(map[string]string),
		nextBMID:     100,
		overrides:    make(map[string]http.HandlerFunc),
		interactions: make(map[string]models.Interaction),
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the base URL of the fake server.
func (b *Backend) URL() string { return b.Server.URL }

// AddPaper stores p; search returns papers in insertion order.
func (b *Backend) AddPaper(p models.Paper) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.papers[string(p.ID)]; !ok {
		b.order = append(b.order, string(p.ID))
	}
	b.papers[string(p.ID)] = p
}

// IssueToken registers a valid bearer token for username.
func (b *Backend) IssueToken(username string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok := "tok-" + username + "-" + strconv.Itoa(len(b.tokens))
	b.tokens[tok] = username
	return tok
}

// RevokeTokens makes every issued token answer 401.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	b.tokens = make(map[string]string)
	b.mu.Unlock()
}

func (b *Backend) SetInterests(codes ...string) {
	b.mu.Lock()
	b.interests = append([]string(nil), codes...)
	b.mu.Unlock()
}

func (b *Backend) Interests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.interests...)
}

func (b *Backend) AddHistory(query string, at time.Time) {
	b.mu.Lock()
	b.history = append(b.history, historyRow{Query: query, At: at})
	b.mu.Unlock()
}

// SeedBookmark inserts a bookmark row directly and returns its id.
func (b *Backend) SeedBookmark(paperID, notes string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextBMID++
	b.bookmarks = append(b.bookmarks, FakeBookmark{ID: b.nextBMID, PaperID: paperID, Notes: notes, CreatedAt: time.Now().UTC()})
	return b.nextBMID
}

func (b *Backend) Bookmarks() []FakeBookmark {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]FakeBookmark(nil), b.bookmarks...)
}

// Clicks returns the recommendation ids whose click was recorded.
func (b *Backend) Clicks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.clicks...)
}

// Interaction returns the last interaction recorded for a recommendation.
func (b *Backend) Interaction(recommendationID string) models.Interaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interactions[recommendationID]
}

// Override replaces the handler for one route, e.g. ("POST", "/bookmarks").
// pattern is the chi route pattern.
func (b *Backend) Override(method, pattern string, h http.HandlerFunc) {
	b.mu.Lock()
	b.overrides[method+" "+pattern] = h
	b.mu.Unlock()
}

// Calls returns "METHOD /path" for every request received.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CallCount counts received requests equal to "METHOD /path".
func (b *Backend) CallCount(call string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			b.calls = append(b.calls, req.Method+" "+req.URL.Path)
			b.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/auth/login", b.route("POST", "/auth/login", b.login))
	r.Post("/auth/register", b.route("POST", "/auth/register", b.register))
	r.Get("/auth/username-exists", b.route("GET", "/auth/username-exists", b.usernameExists))
	r.Get("/auth/me", b.route("GET", "/auth/me", b.authed(b.me)))
	r.Post("/auth/logout", b.route("POST", "/auth/logout", b.authed(b.logout)))
	r.Delete("/auth/quit", b.route("DELETE", "/auth/quit", b.authed(b.quit)))

	r.Get("/papers/search", b.route("GET", "/papers/search", b.search))
	r.Get("/papers/search-history", b.route("GET", "/papers/search-history", b.authed(b.searchHistory)))
	r.Get("/papers/{id}", b.route("GET", "/papers/{id}", b.paper))

	r.Get("/recommendations/rl", b.route("GET", "/recommendations/rl", b.recommendations))
	r.Post("/recommendations/{id}/click", b.route("POST", "/recommendations/{id}/click", b.click))
	r.Post("/recommendations/{id}/interactions", b.route("POST", "/recommendations/{id}/interactions", b.recordInteraction))

	r.Get("/bookmarks", b.route("GET", "/bookmarks", b.authed(b.listBookmarks)))
	r.Post("/bookmarks", b.route("POST", "/bookmarks", b.authed(b.addBookmark)))
	r.Put("/bookmarks/{id}", b.route("PUT", "/bookmarks/{id}", b.authed(b.updateBookmark)))
	r.Delete("/bookmarks/{id}", b.route("DELETE", "/bookmarks/{id}", b.authed(b.deleteBookmark)))

	r.Get("/user-interests", b.route("GET", "/user-interests", b.authed(b.listInterests)))
	r.Post("/user-interests", b.route("POST", "/user-interests", b.authed(b.addInterests)))
	r.Delete("/user-interests", b.route("DELETE", "/user-interests", b.authed(b.deleteInterests)))
	return r
}

func (b *Backend) route(method, pattern string, def http.HandlerFunc) http.HandlerFunc {
	key := method + " " + pattern
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		h := b.overrides[key]
		b.mu.Unlock()
		if h != nil {
			h(w, r)
			return
		}
		def(w, r)
	}
}

func (b *Backend) authed(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		user, ok := b.tokens[tok]
		b.mu.Unlock()
		if !ok {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "인증이 필요합니다."})
			return
		}
		next(w, r, user)
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	user, pass := r.PostForm.Get("username"), r.PostForm.Get("password")
	b.mu.Lock()
	want, ok := b.users[user]
	b.mu.Unlock()
	if !ok || want != pass {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "아이디 또는 비밀번호가 올바르지 않습니다."})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"access_token": b.IssueToken(user), "token_type": "bearer", "username": user})
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[req.Username]; ok {
		WriteJSON(w, http.StatusConflict, map[string]string{"message": "username already exists"})
		return
	}
	b.users[req.Username] = req.Password
	WriteJSON(w, http.StatusCreated, map[string]any{"id": len(b.users), "username": req.Username})
}

func (b *Backend) usernameExists(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	_, ok := b.users[r.URL.Query().Get("username")]
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (b *Backend) me(w http.ResponseWriter, _ *http.Request, user string) {
	WriteJSON(w, http.StatusOK, map[string]any{"id": 1, "username": user, "name": strings.ToUpper(user), "email": user + "@example.com"})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request, _ string) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	delete(b.tokens, tok)
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (b *Backend) quit(w http.ResponseWriter, _ *http.Request, user string) {
	b.mu.Lock()
	delete(b.users, user)
	for tok, u := range b.tokens {
		if u == user {
			delete(b.tokens, tok)
		}
	}
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	var cats []string
	if c := r.URL.Query().Get("categories"); c != "" {
		cats = strings.Split(c, ",")
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	const size = 10

	b.mu.Lock()
	var hits []models.Paper
	for _, id := range b.order {
		p := b.papers[id]
		if q != "" && !strings.Contains(strings.ToLower(p.Title), q) {
			continue
		}
		if len(cats) > 0 && !anyCategory(p, cats) {
			continue
		}
		hits = append(hits, p)
	}
	if q != "" {
		b.history = append(b.history, historyRow{Query: r.URL.Query().Get("q"), At: time.Now().UTC()})
	}
	b.mu.Unlock()

	total := len(hits)
	start := min((page-1)*size, total)
	end := min(start+size, total)
	WriteJSON(w, http.StatusOK, map[string]any{
		"items":       hits[start:end],
		"total":       total,
		"page":        page,
		"page_size":   size,
		"total_pages": (total + size - 1) / size,
		"has_next":    end < total,
		"has_prev":    page > 1,
	})
}

func anyCategory(p models.Paper, cats []string) bool {
	for _, c := range cats {
		if p.HasCategory(c) {
			return true
		}
	}
	return false
}

func (b *Backend) paper(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		id = chi.URLParam(r, "id")
	}
	b.mu.Lock()
	p, ok := b.papers[id]
	b.mu.Unlock()
	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]string{"message": "논문을 찾을 수 없습니다."})
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (b *Backend) recommendations(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base_paper_id")
	topK, _ := strconv.Atoi(r.URL.Query().Get("top_k"))
	if topK <= 0 {
		topK = 6
	}
	b.mu.Lock()
	var out []map[string]any
	for i, id := range b.order {
		if id == base || len(out) >= topK {
			continue
		}
		out = append(out, map[string]any{
			"recommendation_id": "rec-" + id,
			"score":             1 - float64(i)/100,
			"paper":             b.papers[id],
		})
	}
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{"recommendations": out})
}

func (b *Backend) click(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.clicks = append(b.clicks, chi.URLParam(r, "id"))
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (b *Backend) recordInteraction(w http.ResponseWriter, r *http.Request) {
	var in models.Interaction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	b.mu.Lock()
	b.interactions[chi.URLParam(r, "id")] = in
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func bookmarkJSON(bm FakeBookmark) map[string]any {
	return map[string]any{"id": bm.ID, "paper_id": bm.PaperID, "notes": bm.Notes, "created_at": bm.CreatedAt.Format(time.RFC3339)}
}

func (b *Backend) listBookmarks(w http.ResponseWriter, _ *http.Request, _ string) {
	b.mu.Lock()
	out := make([]map[string]any, 0, len(b.bookmarks))
	for _, bm := range b.bookmarks {
		out = append(out, bookmarkJSON(bm))
	}
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{"bookmarks": out})
}

func (b *Backend) addBookmark(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		DOI   string `json:"doi"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DOI == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "doi is required"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bm := range b.bookmarks {
		if bm.PaperID == req.DOI {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "Bookmark already exists"})
			return
		}
	}
	b.nextBMID++
	bm := FakeBookmark{ID: b.nextBMID, PaperID: req.DOI, Notes: req.Notes, CreatedAt: time.Now().UTC()}
	b.bookmarks = append(b.bookmarks, bm)
	WriteJSON(w, http.StatusCreated, bookmarkJSON(bm))
}

func (b *Backend) updateBookmark(w http.ResponseWriter, r *http.Request, _ string) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	var req struct {
		Notes string `json:"notes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.bookmarks {
		if b.bookmarks[i].ID == id {
			b.bookmarks[i].Notes = req.Notes
			WriteJSON(w, http.StatusOK, bookmarkJSON(b.bookmarks[i]))
			return
		}
	}
	WriteJSON(w, http.StatusNotFound, map[string]string{"message": "Bookmark not found"})
}

func (b *Backend) deleteBookmark(w http.ResponseWriter, r *http.Request, _ string) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.bookmarks {
		if b.bookmarks[i].ID == id {
			b.bookmarks = append(b.bookmarks[:i], b.bookmarks[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	WriteJSON(w, http.StatusNotFound, map[string]string{"message": "Bookmark not found"})
}

func (b *Backend) searchHistory(w http.ResponseWriter, r *http.Request, _ string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	b.mu.Lock()
	rows := append([]historyRow(nil), b.history...)
	b.mu.Unlock()
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].At.After(rows[j].At) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (b *Backend) listInterests(w http.ResponseWriter, _ *http.Request, _ string) {
	b.mu.Lock()
	items := make([]map[string]string, 0, len(b.interests))
	for _, c := range b.interests {
		items = append(items, map[string]string{"code": c})
	}
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type codesBody struct {
	CategoryCodes []string `json:"category_codes"`
}

func (b *Backend) addInterests(w http.ResponseWriter, r *http.Request, _ string) {
	var req codesBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	b.mu.Lock()
	for _, c := range req.CategoryCodes {
		if !contains(b.interests, c) {
			b.interests = append(b.interests, c)
		}
	}
	b.mu.Unlock()
	WriteJSON(w, http.StatusCreated, map[string]any{"category_codes": req.CategoryCodes})
}

func (b *Backend) deleteInterests(w http.ResponseWriter, r *http.Request, _ string) {
	var req codesBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	b.mu.Lock()
	kept := b.interests[:0]
	for _, c := range b.interests {
		if !contains(req.CategoryCodes, c) {
			kept = append(kept, c)
		}
	}
	b.interests = kept
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
