// Package paperservice is the cache-aware layer between the surfaces
// (CLI, gateway, MCP) and the backend. Reads go through the query cache
// under fixed keys; mutations run the optimistic protocol and keep the
// session stores in sync.
package paperservice

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/paperlens/internal/backend"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/query"
	"github.com/starford/paperlens/internal/session"
)

// API is the subset of backend calls the service needs. *backend.API implements it.
type API interface {
	Login(ctx context.Context, username, password string) (models.LoginResult, error)
	Register(ctx context.Context, req models.RegisterRequest) (models.UserProfile, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Me(ctx context.Context) (models.UserProfile, error)
	Logout(ctx context.Context) error
	QuitAccount(ctx context.Context) error

	Search(ctx context.Context, p backend.SearchParams) (models.SearchPage, error)
	Paper(ctx context.Context, id models.PaperID) (models.Paper, error)
	Recommendations(ctx context.Context, p backend.RecommendationParams) ([]models.Recommendation, error)
	RecordClick(ctx context.Context, recommendationID string) error
	RecordInteraction(ctx context.Context, recommendationID string, in models.Interaction) error

	Bookmarks(ctx context.Context) ([]models.Bookmark, error)
	AddBookmark(ctx context.Context, paperID models.PaperID, notes string) (models.Bookmark, error)
	UpdateBookmark(ctx context.Context, bookmarkID, notes string) (models.Bookmark, error)
	DeleteBookmark(ctx context.Context, bookmarkID string) error

	SearchHistory(ctx context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error)
	Interests(ctx context.Context) (models.InterestSet, error)
	AddInterests(ctx context.Context, codes []string) error
	DeleteInterests(ctx context.Context, codes []string) error
}

// Freshness holds the stale time of each query family and the retry count
// of non-search reads.
type Freshness struct {
	Search         time.Duration
	Detail         time.Duration
	Recommendation time.Duration
	Bookmark       time.Duration
	History        time.Duration
	Interest       time.Duration
	Profile        time.Duration
	Retry          int
}

// DefaultFreshness mirrors the cache section defaults.
func DefaultFreshness() Freshness {
	return Freshness{
		Search:         2 * time.Minute,
		Detail:         5 * time.Minute,
		Recommendation: 5 * time.Minute,
		Bookmark:       time.Minute,
		History:        time.Minute,
		Interest:       time.Minute,
		Profile:        5 * time.Minute,
		Retry:          3,
	}
}

// Cache keys.
var (
	BookmarksKey  = query.K("bookmarks")
	InterestsKey  = query.K("interests")
	ProfileKey    = query.K("myProfile")
	SearchPrefix  = query.K("papers", "search")
	DetailPrefix  = query.K("papers", "detail")
	HistoryPrefix = query.K("searchHistory")
	RecsPrefix    = query.K("recommendations")
)

// SearchKey sorts categories so the same selection always maps to one entry.
func SearchKey(q string, categories []string, page int, sort string) query.Key {
	return query.K("papers", "search", q, strings.Join(models.SortedCodes(categories), ","), strconv.Itoa(page), sort)
}

func DetailKey(id models.PaperID) query.Key {
	return query.K("papers", "detail", string(id))
}

func RecommendationKey(id models.PaperID, topK, candidateK int) query.Key {
	return query.K("recommendations", string(id), strconv.Itoa(topK), strconv.Itoa(candidateK))
}

func HistoryKey(userID string, limit int) query.Key {
	return query.K("searchHistory", userID, strconv.Itoa(limit))
}

// Service implements the paper operations.
type Service struct {
	api      API
	cache    *query.Client
	auth     *session.AuthStore
	app      *session.AppStore
	notify   Notifier
	nav      Navigator
	logger   *slog.Logger
	fresh    Freshness
	serial   *serializer
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// Option configures optional Service parameters.
type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithFreshness(f Freshness) Option {
	return func(s *Service) { s.fresh = f }
}

// New wires the service. The stores and cache are shared with the caller.
func New(api API, cache *query.Client, auth *session.AuthStore, app *session.AppStore, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		api:      api,
		cache:    cache,
		auth:     auth,
		app:      app,
		logger:   slog.Default(),
		fresh:    DefaultFreshness(),
		serial:   newSerializer(),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	if s.notify == nil {
		s.notify = NewLogNotifier(s.logger)
	}
	return s
}

// Close waits for fire-and-forget calls still in flight.
func (s *Service) Close() {
	s.bgCancel()
	s.bg.Wait()
}

func (s *Service) loggedIn() bool { return s.auth.IsLoggedIn() }

// SessionInfo is the combined view of both stores.
type SessionInfo struct {
	Auth session.AuthState `json:"auth"`
	App  session.AppState  `json:"app"`
}

// Session returns the current session with the token redacted.
func (s *Service) Session() SessionInfo {
	a := s.auth.Snapshot()
	if a.Token != "" {
		a.Token = "***"
	}
	return SessionInfo{Auth: a, App: s.app.Snapshot()}
}

func (s *Service) RecentlyViewed() []models.PaperID { return s.app.RecentlyViewed() }

func (s *Service) BookmarkedIDs() []models.PaperID { return s.app.BookmarkedIDs() }

// Cache exposes the shared query client to the surfaces (events, state).
func (s *Service) Cache() *query.Client { return s.cache }
