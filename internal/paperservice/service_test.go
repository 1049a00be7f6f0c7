package paperservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/starford/paperlens/internal/apperr"
	"github.com/starford/paperlens/internal/backend"
	"github.com/starford/paperlens/internal/httpclient"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/query"
	"github.com/starford/paperlens/internal/session"
	"github.com/starford/paperlens/internal/storage"
	"github.com/starford/paperlens/internal/testutil"
)

type harness struct {
	fb     *testutil.Backend
	svc    *Service
	kv     storage.Provider
	auth   *session.AuthStore
	app    *session.AppStore
	cache  *query.Client
	notes  *RecordingNotifier
	mu     sync.Mutex
	visits []string
}

func (h *harness) navigations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.visits...)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	_, kv := testutil.TestKV(t)
	h := &harness{
		fb:    testutil.NewBackend(t),
		kv:    kv,
		auth:  session.NewAuthStore(kv),
		app:   session.NewAppStore(),
		cache: query.NewClient(query.WithLogger(discard), query.WithRetryDelay(time.Millisecond)),
		notes: &RecordingNotifier{},
	}
	var svc *Service
	hc, err := httpclient.New(httpclient.Config{BaseURL: h.fb.URL()}, h.auth,
		httpclient.WithLogger(discard),
		httpclient.WithUnauthorizedHandler(func(ctx context.Context) { svc.ExpireSession(ctx) }))
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	svc = New(backend.New(hc), h.cache, h.auth, h.app,
		WithLogger(discard),
		WithNotifier(h.notes),
		WithNavigator(NavigatorFunc(func(path string) {
			h.mu.Lock()
			h.visits = append(h.visits, path)
			h.mu.Unlock()
		})))
	h.svc = svc
	t.Cleanup(func() {
		svc.Close()
		h.cache.Close()
	})
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if _, err := h.svc.Login(context.Background(), "kim", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func (h *harness) seedPapers(n int) {
	for i := 1; i <= n; i++ {
		id := "2401." + strconv.Itoa(i)
		h.fb.AddPaper(models.Paper{ID: models.PaperID(id), Title: "Paper " + id, Authors: []string{"A"}, Categories: []string{"cs.AI"}})
	}
}

func (h *harness) cachedBookmarks(t *testing.T) []models.Bookmark {
	t.Helper()
	list, ok := query.GetQueryData[[]models.Bookmark](h.cache, BookmarksKey)
	if !ok {
		t.Fatal("bookmarks not cached")
	}
	return list
}

func eventually(t *testing.T, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestLogin_StoresSessionAndProfile(t *testing.T) {
	h := newHarness(t)
	info, err := h.svc.Login(context.Background(), "kim", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !info.Auth.IsLoggedIn || info.Auth.Token != "***" {
		t.Errorf("session = %+v, want logged in with redacted token", info.Auth)
	}
	snap := h.auth.Snapshot()
	if snap.Username != "kim" || snap.Name != "KIM" || snap.UserID != "1" {
		t.Errorf("auth = %+v", snap)
	}
	if raw, err := h.kv.Get(session.TokenKey); err != nil || string(raw) != snap.Token {
		t.Errorf("persisted token = %q, %v", raw, err)
	}
	all := h.notes.All()
	if len(all) == 0 || all[len(all)-1].Title != msgLoginOK {
		t.Errorf("notifications = %+v", all)
	}
}

func TestLogin_BadPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Login(context.Background(), "kim", "nope")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if h.auth.IsLoggedIn() {
		t.Error("failed login must not start a session")
	}
}

func TestSearch_PageDefaults(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(3)
	page, err := h.svc.Search(context.Background(), SearchParams{Query: "paper"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if page.Page != 1 || page.PageSize != 10 || page.Total != 3 || len(page.Papers) != 3 {
		t.Errorf("page = %+v", page)
	}
	if h.app.SearchQuery() != "paper" {
		t.Errorf("search query = %q", h.app.SearchQuery())
	}
}

func TestSearch_DisabledWithoutInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Search(context.Background(), SearchParams{Query: "   "})
	if !errors.Is(err, apperr.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if n := h.fb.CallCount("GET /papers/search"); n != 0 {
		t.Errorf("search calls = %d, want 0", n)
	}
}

func TestSearch_Validation(t *testing.T) {
	h := newHarness(t)
	cases := []SearchParams{
		{Query: "x", Page: -1},
		{Query: "x", Sort: "popularity"},
		{Categories: []string{"not a code"}},
	}
	for _, p := range cases {
		if _, err := h.svc.Search(context.Background(), p); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("Search(%+v) err = %v, want ErrInvalidArgument", p, err)
		}
	}
}

func TestSearch_CachedByNormalisedKey(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(2)
	ctx := context.Background()
	if _, err := h.svc.Search(ctx, SearchParams{Categories: []string{"cs.LG", "cs.AI"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Search(ctx, SearchParams{Categories: []string{"cs.AI", "cs.LG"}, Page: 1}); err != nil {
		t.Fatal(err)
	}
	if n := h.fb.CallCount("GET /papers/search"); n != 1 {
		t.Errorf("search calls = %d, want 1", n)
	}
}

func TestPaper_RecentlyViewedCapped(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(12)
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		if _, err := h.svc.Paper(ctx, models.PaperID("2401."+strconv.Itoa(i))); err != nil {
			t.Fatalf("Paper: %v", err)
		}
	}
	if _, err := h.svc.Paper(ctx, "2401.5"); err != nil {
		t.Fatal(err)
	}
	got := h.svc.RecentlyViewed()
	if len(got) != session.MaxRecentlyViewed {
		t.Fatalf("len = %d, want %d", len(got), session.MaxRecentlyViewed)
	}
	if got[0] != "2401.5" {
		t.Errorf("most recent = %s, want 2401.5", got[0])
	}
	seen := map[models.PaperID]bool{}
	for _, id := range got {
		if seen[id] {
			t.Errorf("duplicate %s in %v", id, got)
		}
		seen[id] = true
	}
}

func TestPaper_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Paper(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(h.svc.RecentlyViewed()) != 0 {
		t.Error("failed view must not be recorded")
	}
}

func TestRecommendations(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(8)
	recs, err := h.svc.Recommendations(context.Background(), "2401.1", 0, 0)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if len(recs) != DefaultTopK {
		t.Errorf("len = %d, want %d", len(recs), DefaultTopK)
	}
	if _, err := h.svc.Recommendations(context.Background(), "2401.1", 10, 5); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("candidate_k < top_k err = %v", err)
	}
}

func TestRecommendations_BlankIDDisabled(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(3)
	if _, err := h.svc.Recommendations(context.Background(), "  ", 0, 0); !errors.Is(err, apperr.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if n := h.fb.CallCount("GET /recommendations/rl"); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
}

func TestPaper_TrimsIDForHistory(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(1)
	ctx := context.Background()
	if _, err := h.svc.Paper(ctx, " 2401.1 "); err != nil {
		t.Fatalf("Paper: %v", err)
	}
	if _, err := h.svc.Paper(ctx, "2401.1"); err != nil {
		t.Fatalf("Paper: %v", err)
	}
	if diff := cmp.Diff([]models.PaperID{"2401.1"}, h.svc.RecentlyViewed()); diff != "" {
		t.Errorf("recently viewed (-want +got):\n%s", diff)
	}
	if n := h.fb.CallCount("GET /papers/2401.1"); n != 1 {
		t.Errorf("paper fetches = %d, want 1", n)
	}
}

func TestRecordRecommendationClick_FireAndForget(t *testing.T) {
	h := newHarness(t)
	h.svc.RecordRecommendationClick("rec-1")
	eventually(t, func() bool { return len(h.fb.Clicks()) == 1 }, "click recorded")

	h.fb.Override("POST", "/recommendations/{id}/click", func(w http.ResponseWriter, _ *http.Request) {
		testutil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "down"})
	})
	h.svc.RecordRecommendationClick("rec-2")
	h.svc.Close()
	if len(h.notes.All()) != 0 {
		t.Errorf("click failures must stay silent, got %+v", h.notes.All())
	}
}

func TestRecordInteraction(t *testing.T) {
	h := newHarness(t)
	in := models.Interaction{DwellSeconds: 12.5, ScrollDepth: 0.8, Clicked: true}
	if err := h.svc.RecordInteraction(context.Background(), "rec-1", in); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if diff := cmp.Diff(in, h.fb.Interaction("rec-1")); diff != "" {
		t.Errorf("interaction mismatch (-want +got):\n%s", diff)
	}
	bad := models.Interaction{ScrollDepth: 1.5}
	if err := h.svc.RecordInteraction(context.Background(), "rec-1", bad); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestBookmarks_DisabledWhenLoggedOut(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Bookmarks(context.Background()); !errors.Is(err, apperr.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if _, err := h.svc.AddBookmark(context.Background(), "2401.1", ""); !errors.Is(err, apperr.ErrNotLoggedIn) {
		t.Fatalf("err = %v, want ErrNotLoggedIn", err)
	}
	if len(h.fb.Calls()) != 0 {
		t.Errorf("calls = %v, want none", h.fb.Calls())
	}
}

func TestBookmarks_EnrichedAndSynced(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(2)
	h.fb.SeedBookmark("2401.1", "read later")
	h.fb.SeedBookmark("gone", "")
	h.login(t)

	list, err := h.svc.Bookmarks(context.Background())
	if err != nil {
		t.Fatalf("Bookmarks: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Paper == nil || list[0].Paper.Title != "Paper 2401.1" {
		t.Errorf("first bookmark not enriched: %+v", list[0])
	}
	if list[1].Paper != nil {
		t.Errorf("unknown paper should stay bare: %+v", list[1])
	}
	if !h.svc.IsBookmarked("2401.1") || !h.app.IsBookmarked("gone") {
		t.Error("bookmarked set not synced")
	}
}

func TestAddBookmark_Success(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(1)
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Bookmarks(ctx); err != nil {
		t.Fatal(err)
	}

	bm, err := h.svc.AddBookmark(ctx, "2401.1", "note")
	if err != nil {
		t.Fatalf("AddBookmark: %v", err)
	}
	if bm.ID != "101" || bm.PaperID != "2401.1" {
		t.Errorf("bookmark = %+v", bm)
	}
	if !h.app.IsBookmarked("2401.1") {
		t.Error("AppStore not marked")
	}
	if !h.cache.State(BookmarksKey).Invalidated {
		t.Error("bookmarks should be invalidated after add")
	}
	list, err := h.svc.Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Pending || list[0].ID != "101" {
		t.Errorf("refetched list = %+v", list)
	}
	all := h.notes.All()
	if all[len(all)-1] != (Notification{Kind: "success", Title: msgBookmarkAdded}) {
		t.Errorf("last notification = %+v", all[len(all)-1])
	}
}

func TestAddBookmark_DuplicateInvalidatesInsteadOfRollback(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Bookmarks(ctx); err != nil {
		t.Fatal(err)
	}
	h.fb.SeedBookmark("2401.1", "")

	_, err := h.svc.AddBookmark(ctx, "2401.1", "")
	if !errors.Is(err, apperr.ErrDuplicateBookmark) {
		t.Fatalf("err = %v, want ErrDuplicateBookmark", err)
	}
	st := h.cache.State(BookmarksKey)
	if !st.Invalidated {
		t.Error("bookmarks should be invalidated")
	}
	cached := h.cachedBookmarks(t)
	if len(cached) != 1 || !cached[0].Pending {
		t.Errorf("speculative entry should be kept, got %+v", cached)
	}

	list, err := h.svc.Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Pending || list[0].ID != "101" {
		t.Errorf("refetched list = %+v", list)
	}
	all := h.notes.All()
	if last := all[len(all)-1]; last.Kind != "error" || last.Title != msgBookmarkAddFail {
		t.Errorf("last notification = %+v", last)
	}
}

func TestAddBookmark_ServerErrorRollsBack(t *testing.T) {
	h := newHarness(t)
	h.fb.SeedBookmark("2401.9", "")
	h.login(t)
	ctx := context.Background()
	before, err := h.svc.Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h.fb.Override("POST", "/bookmarks", func(w http.ResponseWriter, _ *http.Request) {
		testutil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "db down"})
	})
	if _, err := h.svc.AddBookmark(ctx, "2401.1", ""); err == nil {
		t.Fatal("want error")
	}
	if diff := cmp.Diff(before, h.cachedBookmarks(t)); diff != "" {
		t.Errorf("rollback mismatch (-want +got):\n%s", diff)
	}
	if h.app.IsBookmarked("2401.1") {
		t.Error("failed add must not mark the paper")
	}
}

func TestRemoveBookmark_Success(t *testing.T) {
	h := newHarness(t)
	h.fb.SeedBookmark("2401.1", "")
	h.fb.SeedBookmark("2401.2", "")
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Bookmarks(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.RemoveBookmark(ctx, "2401.1"); err != nil {
		t.Fatalf("RemoveBookmark: %v", err)
	}
	rows := h.fb.Bookmarks()
	if len(rows) != 1 || rows[0].PaperID != "2401.2" {
		t.Errorf("server rows = %+v", rows)
	}
	if h.svc.IsBookmarked("2401.1") || h.app.IsBookmarked("2401.1") {
		t.Error("paper still reported as bookmarked")
	}
	if n := h.fb.CallCount("DELETE /bookmarks/101"); n != 1 {
		t.Errorf("delete calls = %d, want 1", n)
	}
}

func TestRemoveBookmark_FailureRestoresSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(2)
	h.fb.SeedBookmark("2401.1", "a")
	h.fb.SeedBookmark("2401.2", "b")
	h.login(t)
	ctx := context.Background()
	before, err := h.svc.Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h.fb.Override("DELETE", "/bookmarks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		testutil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "nope"})
	})

	err = h.svc.RemoveBookmark(ctx, "2401.1")
	if apperr.Status(err) != http.StatusInternalServerError {
		t.Fatalf("err = %v, want a 500 APIError", err)
	}
	if diff := cmp.Diff(before, h.cachedBookmarks(t)); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if h.cache.State(BookmarksKey).Invalidated {
		t.Error("rollback should restore a valid entry")
	}
	all := h.notes.All()
	if last := all[len(all)-1]; last.Title != msgBookmarkDelFail || last.Detail == "" {
		t.Errorf("last notification = %+v", last)
	}
}

func TestRemoveBookmark_NotBookmarked(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	err := h.svc.RemoveBookmark(context.Background(), "2401.1")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestToggleBookmark_RapidTogglesCompose(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Bookmarks(ctx); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	h.fb.Override("POST", "/bookmarks", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DOI   string `json:"doi"`
			Notes string `json:"notes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		<-release
		id := h.fb.SeedBookmark(body.DOI, body.Notes)
		testutil.WriteJSON(w, http.StatusCreated, map[string]any{"id": id, "paper_id": body.DOI})
	})

	type result struct {
		added bool
		err   error
	}
	first := make(chan result, 1)
	go func() {
		added, err := h.svc.ToggleBookmark(ctx, "2401.1", "")
		first <- result{added, err}
	}()
	eventually(t, func() bool { return h.svc.IsBookmarked("2401.1") }, "optimistic add visible")

	second := make(chan result, 1)
	go func() {
		added, err := h.svc.ToggleBookmark(ctx, "2401.1", "")
		second <- result{added, err}
	}()
	eventually(t, func() bool { return !h.svc.IsBookmarked("2401.1") }, "optimistic remove visible")
	close(release)

	r1, r2 := <-first, <-second
	if r1.err != nil || !r1.added {
		t.Errorf("first toggle = %+v, want added", r1)
	}
	if r2.err != nil || r2.added {
		t.Errorf("second toggle = %+v, want removed", r2)
	}
	if rows := h.fb.Bookmarks(); len(rows) != 0 {
		t.Errorf("server rows = %+v, want none", rows)
	}
	list, err := h.svc.Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("final list = %+v", list)
	}
	if h.app.IsBookmarked("2401.1") {
		t.Error("AppStore still marks the paper")
	}
}

func TestToggleBookmark_FailedAddLeavesNoGhost(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Bookmarks(ctx); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	h.fb.Override("POST", "/bookmarks", func(w http.ResponseWriter, r *http.Request) {
		<-release
		testutil.WriteJSON(w, http.StatusInternalServerError, map[string]any{"detail": "boom"})
	})

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.ToggleBookmark(ctx, "2401.1", "")
		first <- err
	}()
	eventually(t, func() bool { return h.svc.IsBookmarked("2401.1") }, "optimistic add visible")

	second := make(chan error, 1)
	go func() {
		_, err := h.svc.ToggleBookmark(ctx, "2401.1", "")
		second <- err
	}()
	eventually(t, func() bool { return !h.svc.IsBookmarked("2401.1") }, "optimistic remove visible")
	close(release)

	if err := <-first; err == nil {
		t.Error("failed add reported success")
	}
	<-second

	if rows := h.fb.Bookmarks(); len(rows) != 0 {
		t.Errorf("server rows = %+v, want none", rows)
	}
	for _, b := range h.cachedBookmarks(t) {
		if b.Pending {
			t.Errorf("pending bookmark left in cache: %+v", b)
		}
	}
	if h.svc.IsBookmarked("2401.1") {
		t.Error("paper reported bookmarked after both toggles failed")
	}
	list, err := h.svc.Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("refetched list = %+v", list)
	}
}

func TestBookmarkMutation_UnauthorizedDropsUserData(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		mutate  func(ctx context.Context, svc *Service) error
	}{
		{
			name:    "add",
			method:  "POST",
			pattern: "/bookmarks",
			mutate: func(ctx context.Context, svc *Service) error {
				_, err := svc.AddBookmark(ctx, "2401.2", "")
				return err
			},
		},
		{
			name:    "remove",
			method:  "DELETE",
			pattern: "/bookmarks/{id}",
			mutate: func(ctx context.Context, svc *Service) error {
				return svc.RemoveBookmark(ctx, "2401.1")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedPapers(2)
			h.fb.SeedBookmark("2401.1", "")
			h.login(t)
			ctx := context.Background()
			if _, err := h.svc.Bookmarks(ctx); err != nil {
				t.Fatal(err)
			}
			h.fb.Override(tt.method, tt.pattern, func(w http.ResponseWriter, _ *http.Request) {
				testutil.WriteJSON(w, http.StatusUnauthorized, map[string]any{"detail": "expired"})
			})

			if err := tt.mutate(ctx, h.svc); err == nil {
				t.Fatal("mutation succeeded despite 401")
			}
			if h.auth.IsLoggedIn() {
				t.Error("session survived 401")
			}
			if list, ok := query.GetQueryData[[]models.Bookmark](h.cache, BookmarksKey); ok {
				t.Errorf("bookmarks re-created after logout: %+v", list)
			}
			if h.svc.IsBookmarked("2401.1") {
				t.Error("previous user's bookmark still visible")
			}
			if h.app.IsBookmarked("2401.1") {
				t.Error("AppStore kept previous user's bookmark")
			}
		})
	}
}

func TestUpdateBookmarkNote(t *testing.T) {
	h := newHarness(t)
	id := h.fb.SeedBookmark("2401.1", "old")
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Bookmarks(ctx); err != nil {
		t.Fatal(err)
	}
	bm, err := h.svc.UpdateBookmarkNote(ctx, strconv.Itoa(id), "new")
	if err != nil {
		t.Fatalf("UpdateBookmarkNote: %v", err)
	}
	if bm.Notes != "new" {
		t.Errorf("notes = %q", bm.Notes)
	}
	if !h.cache.State(BookmarksKey).Invalidated {
		t.Error("bookmarks should be invalidated")
	}
}

func TestSearchHistory_DedupAndOrder(t *testing.T) {
	h := newHarness(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h.fb.AddHistory("transformers", base)
	h.fb.AddHistory("diffusion", base.Add(time.Hour))
	h.fb.AddHistory("transformers", base.Add(2*time.Hour))
	h.fb.AddHistory("  ", base.Add(3*time.Hour))
	h.login(t)

	got, err := h.svc.SearchHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	var queries []string
	for _, e := range got {
		queries = append(queries, e.Query)
	}
	if diff := cmp.Diff([]string{"transformers", "diffusion"}, queries); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
	if !got[0].SearchedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("kept entry %v, want the most recent", got[0].SearchedAt)
	}
}

func TestNormalizeHistory_UntimedLast(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	in := []models.SearchHistoryEntry{
		{Query: "a"},
		{Query: "b", SearchedAt: &t1},
		{Query: "c"},
		{Query: "d", SearchedAt: &t2},
		{Query: "a", SearchedAt: &t1},
	}
	var got []string
	for _, e := range normalizeHistory(in) {
		got = append(got, e.Query)
	}
	if diff := cmp.Diff([]string{"d", "a", "b", "c"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchHistory_LoggedOut(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.SearchHistory(context.Background(), 5); !errors.Is(err, apperr.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestSaveInterests_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.fb.SetInterests("cs.AI", "cs.CL")
	h.login(t)
	ctx := context.Background()

	a, err := h.svc.Interests(ctx)
	if err != nil {
		t.Fatalf("Interests: %v", err)
	}
	if _, err := h.svc.SaveInterests(ctx, []string{"cs.LG", "cs.AI"}); err != nil {
		t.Fatalf("SaveInterests(B): %v", err)
	}
	if diff := cmp.Diff([]string{"cs.AI", "cs.LG"}, h.fb.Interests()); diff != "" {
		t.Errorf("server after B (-want +got):\n%s", diff)
	}
	if _, err := h.svc.SaveInterests(ctx, a); err != nil {
		t.Fatalf("SaveInterests(A): %v", err)
	}
	if diff := cmp.Diff([]string(a), h.fb.Interests()); diff != "" {
		t.Errorf("server after A (-want +got):\n%s", diff)
	}

	var mutations []string
	for _, c := range h.fb.Calls() {
		if c == "POST /user-interests" || c == "DELETE /user-interests" {
			mutations = append(mutations, c)
		}
	}
	want := []string{"DELETE /user-interests", "POST /user-interests", "DELETE /user-interests", "POST /user-interests"}
	if diff := cmp.Diff(want, mutations); diff != "" {
		t.Errorf("call order (-want +got):\n%s", diff)
	}
}

func TestSaveInterests_Validation(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	if _, err := h.svc.SaveInterests(ctx, []string{" "}); !errors.Is(err, apperr.ErrNoInterests) {
		t.Errorf("empty err = %v", err)
	}
	six := []string{"cs.AI", "cs.CL", "cs.LG", "cs.CV", "cs.RO", "math.ST"}
	if _, err := h.svc.SaveInterests(ctx, six); !errors.Is(err, apperr.ErrInterestLimit) {
		t.Errorf("six err = %v", err)
	}
	if _, err := h.svc.SaveInterests(ctx, []string{"CS AI"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad code err = %v", err)
	}
	if n := h.fb.CallCount("POST /user-interests"); n != 0 {
		t.Errorf("POST calls = %d, want 0", n)
	}
	var titles []string
	for _, n := range h.notes.All() {
		if n.Kind == "error" {
			titles = append(titles, n.Title)
		}
	}
	if diff := cmp.Diff([]string{msgNoInterests, msgInterestsTooMany, msgInterestsBadCode}, titles); diff != "" {
		t.Errorf("error toasts (-want +got):\n%s", diff)
	}
}

func TestUnauthorized_ExpiresSessionOnce(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.fb.RevokeTokens()

	_, err := h.svc.Interests(context.Background())
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if h.auth.IsLoggedIn() || h.auth.Token() != "" {
		t.Error("session should be cleared")
	}
	if _, err := h.kv.Get(session.TokenKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("persisted token err = %v, want ErrNotFound", err)
	}
	if diff := cmp.Diff([]string{LoginPath}, h.navigations()); diff != "" {
		t.Errorf("navigations (-want +got):\n%s", diff)
	}
	if len(h.cache.Keys()) != 0 {
		t.Errorf("cache keys = %v, want none", h.cache.Keys())
	}
}

func TestLogout_ClearsEverythingEvenIfServerFails(t *testing.T) {
	h := newHarness(t)
	h.seedPapers(1)
	h.login(t)
	ctx := context.Background()
	if _, err := h.svc.Paper(ctx, "2401.1"); err != nil {
		t.Fatal(err)
	}
	h.fb.Override("POST", "/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		testutil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "down"})
	})

	if err := h.svc.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.auth.IsLoggedIn() {
		t.Error("still logged in")
	}
	if len(h.svc.RecentlyViewed()) != 0 {
		t.Error("AppStore not reset")
	}
	if len(h.cache.Keys()) != 0 {
		t.Error("cache not cleared")
	}
	if len(h.navigations()) != 0 {
		t.Error("logout should not redirect to login")
	}
}

func TestQuitAccount(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	if err := h.svc.QuitAccount(context.Background()); err != nil {
		t.Fatalf("QuitAccount: %v", err)
	}
	if h.auth.IsLoggedIn() {
		t.Error("still logged in")
	}
	exists, err := h.svc.UsernameExists(context.Background(), "kim")
	if err != nil || exists {
		t.Errorf("UsernameExists = %v, %v; want false", exists, err)
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, err := h.svc.Register(ctx, models.RegisterRequest{Username: "lee", Password: "secret", Email: "lee@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Username != "lee" {
		t.Errorf("profile = %+v", u)
	}
	if h.auth.IsLoggedIn() {
		t.Error("register must not log in")
	}
	_, err = h.svc.Register(ctx, models.RegisterRequest{Username: "lee", Password: "secret"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}
	_, err = h.svc.Register(ctx, models.RegisterRequest{Username: "x", Password: "secret", Email: "bad"})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("invalid err = %v, want ErrInvalidArgument", err)
	}
}

func TestSerializer_OrdersTurns(t *testing.T) {
	s := newSerializer()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	turns := []*turn{s.enter("p"), s.enter("p"), s.enter("p")}
	for i := len(turns) - 1; i >= 0; i-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := turns[i]
			if err := tr.wait(context.Background()); err != nil {
				t.Error(err)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tr.end()
		}()
	}
	wg.Wait()
	if diff := cmp.Diff([]int{0, 1, 2}, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if len(s.tails) != 0 {
		t.Errorf("tails not released: %v", s.tails)
	}
}
