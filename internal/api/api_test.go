package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/paperlens/internal/backend"
	"github.com/starford/paperlens/internal/httpclient"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/paperservice"
	"github.com/starford/paperlens/internal/query"
	"github.com/starford/paperlens/internal/session"
	"github.com/starford/paperlens/internal/testutil"
)

// testEnv wires a service against a fake backend and returns the gateway
// router. A non-empty authToken enables gateway token mode.
func testEnv(t *testing.T, authToken string) (*testutil.Backend, http.Handler) {
	t.Helper()
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	fb := testutil.NewBackend(t)
	_, kv := testutil.TestKV(t)
	auth := session.NewAuthStore(kv)
	cache := query.NewClient(query.WithLogger(discard), query.WithRetryDelay(time.Millisecond))

	var svc *paperservice.Service
	hc, err := httpclient.New(httpclient.Config{BaseURL: fb.URL()}, auth,
		httpclient.WithLogger(discard),
		httpclient.WithUnauthorizedHandler(func(ctx context.Context) { svc.ExpireSession(ctx) }))
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	svc = paperservice.New(backend.New(hc), cache, auth, session.NewAppStore(), paperservice.WithLogger(discard))
	t.Cleanup(func() {
		svc.Close()
		cache.Close()
	})

	fb.AddPaper(models.Paper{ID: "2401.1", Title: "Language Models", Authors: []string{"A"}, Categories: []string{"cs.CL"}})
	fb.AddPaper(models.Paper{ID: "2401.2", Title: "Vision Transformers", Authors: []string{"B"}, Categories: []string{"cs.CV"}})
	fb.AddPaper(models.Paper{ID: "hep-th/9901001", Title: "Strings", Authors: []string{"C"}, Categories: []string{"hep-th"}})
	return fb, NewRouter(svc, authToken != "", authToken, nil)
}

func do(t *testing.T, h http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h http.Handler) {
	t.Helper()
	w := do(t, h, http.MethodPost, "/session", LoginRequest{Username: "kim", Password: "pw"})
	if w.Code != http.StatusCreated {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e.Error
}

func TestSearch(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search?q=language", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var page models.SearchPage
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Page != 1 || page.Papers[0].ID != "2401.1" {
		t.Errorf("page = %+v", page)
	}

	w = do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty search status = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodGet, "/search?q=x&sort=popular", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad sort status = %d, want 400", w.Code)
	}
}

func TestGetPaper(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/papers/2401.2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/papers/hep-th%2F9901001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("encoded id status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/papers/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", w.Code)
	}
	if msg := decodeError(t, w); msg != "논문을 찾을 수 없습니다." {
		t.Errorf("error = %q", msg)
	}

	w = do(t, router, http.MethodGet, "/recently-viewed", nil)
	var rv RecentlyViewedResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rv)
	if len(rv.PaperIDs) != 2 || rv.PaperIDs[0] != "hep-th/9901001" {
		t.Errorf("recently viewed = %v", rv.PaperIDs)
	}
}

func TestRecommendationsAndClick(t *testing.T) {
	fb, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/papers/2401.1/recommendations?top_k=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RecommendationListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Recommendations) != 1 || resp.Recommendations[0].RecommendationID != "rec-2401.2" {
		t.Errorf("recommendations = %+v", resp.Recommendations)
	}

	w = do(t, router, http.MethodPost, "/recommendations/rec-2401.2/click", nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("click status = %d", w.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(fb.Clicks()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(fb.Clicks()) != 1 {
		t.Errorf("clicks = %v", fb.Clicks())
	}

	w = do(t, router, http.MethodPost, "/recommendations/rec-2401.2/interactions", models.Interaction{DwellSeconds: 3, ScrollDepth: 2})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid interaction status = %d, want 400", w.Code)
	}
}

func TestBookmarks_RequireLogin(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/bookmarks", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("list status = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/bookmarks", AddBookmarkRequest{PaperID: "2401.1"}); w.Code != http.StatusUnauthorized {
		t.Errorf("add status = %d, want 401", w.Code)
	}
}

func TestBookmarkLifecycle(t *testing.T) {
	fb, router := testEnv(t, "")
	login(t, router)

	w := do(t, router, http.MethodPost, "/bookmarks", AddBookmarkRequest{PaperID: "2401.1", Notes: "first"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/bookmarks", AddBookmarkRequest{PaperID: "2401.1"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodGet, "/bookmarks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list BookmarkListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 || list.Bookmarks[0].Paper == nil || list.Bookmarks[0].Paper.Title != "Language Models" {
		t.Errorf("list = %+v", list)
	}

	w = do(t, router, http.MethodPut, "/bookmarks/2401.1", NotesRequest{Notes: "second"})
	if w.Code != http.StatusOK {
		t.Fatalf("note status = %d, body = %s", w.Code, w.Body.String())
	}
	if rows := fb.Bookmarks(); rows[0].Notes != "second" {
		t.Errorf("server notes = %q", rows[0].Notes)
	}

	w = do(t, router, http.MethodPost, "/bookmarks/toggle/2401.2", nil)
	var tr ToggleResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tr)
	if w.Code != http.StatusOK || !tr.Bookmarked {
		t.Errorf("toggle = %d %+v, want bookmarked", w.Code, tr)
	}

	if w = do(t, router, http.MethodDelete, "/bookmarks/2401.1", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w = do(t, router, http.MethodDelete, "/bookmarks/2401.1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
	if rows := fb.Bookmarks(); len(rows) != 1 || rows[0].PaperID != "2401.2" {
		t.Errorf("server rows = %+v", rows)
	}
}

func TestListETag(t *testing.T) {
	_, router := testEnv(t, "")
	login(t, router)

	w := do(t, router, http.MethodGet, "/bookmarks", nil)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	w = do(t, router, http.MethodGet, "/bookmarks", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", w.Code)
	}
}

func TestInterests(t *testing.T) {
	fb, router := testEnv(t, "")
	fb.SetInterests("cs.AI")
	login(t, router)

	w := do(t, router, http.MethodPut, "/interests", InterestsRequest{Categories: []string{"cs.CL", "cs.LG"}})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	got := fb.Interests()
	if len(got) != 2 || got[0] != "cs.CL" || got[1] != "cs.LG" {
		t.Errorf("server interests = %v", got)
	}

	w = do(t, router, http.MethodPut, "/interests", InterestsRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty save status = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPut, "/interests", InterestsRequest{Categories: []string{"a", "b", "c", "d", "e", "f"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("six categories status = %d, want 400", w.Code)
	}
}

func TestHistory(t *testing.T) {
	_, router := testEnv(t, "")
	login(t, router)
	do(t, router, http.MethodGet, "/search?q=vision", nil)

	w := do(t, router, http.MethodGet, "/history?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp HistoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.History) != 1 || resp.History[0].Query != "vision" {
		t.Errorf("history = %+v", resp.History)
	}
}

func TestSession(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/session", LoginRequest{Username: "kim", Password: "bad"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", w.Code)
	}
	login(t, router)

	w = do(t, router, http.MethodGet, "/session", nil)
	var info paperservice.SessionInfo
	_ = json.Unmarshal(w.Body.Bytes(), &info)
	if !info.Auth.IsLoggedIn || info.Auth.Token != "***" || info.Auth.Username != "kim" {
		t.Errorf("session = %+v", info.Auth)
	}

	if w = do(t, router, http.MethodDelete, "/session", nil); w.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/session", nil)
	info = paperservice.SessionInfo{}
	_ = json.Unmarshal(w.Body.Bytes(), &info)
	if info.Auth.IsLoggedIn {
		t.Error("still logged in after DELETE /session")
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "secret")

	if w := do(t, router, http.MethodGet, "/session", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/session", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/session", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/session?access_token=secret", nil); w.Code != http.StatusOK {
		t.Errorf("query token status = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/session?access_token=secret", nil, "Authorization", "Basic a2ltOnB3"); w.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer header status = %d, want 401", w.Code)
	}
}
