package session

import (
	"sort"
	"sync"

	"github.com/starford/paperlens/internal/models"
)

// MaxRecentlyViewed bounds the recently-viewed list.
const MaxRecentlyViewed = 10

// AppState is a snapshot of the in-memory UI state.
type AppState struct {
	BookmarkedIDs  []models.PaperID `json:"bookmarked_ids"`
	RecentlyViewed []models.PaperID `json:"recently_viewed"`
	SearchQuery    string           `json:"search_query"`
	SelectedPaper  *models.Paper    `json:"selected_paper,omitempty"`
}

// AppStore is the process-lifetime store. Nothing in it is persisted.
type AppStore struct {
	mu         sync.RWMutex
	bookmarked map[models.PaperID]struct{}
	recent     []models.PaperID
	query      string
	selected   *models.Paper
}

func NewAppStore() *AppStore {
	return &AppStore{bookmarked: make(map[models.PaperID]struct{})}
}

// Reset restores the initial empty state.
func (s *AppStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarked = make(map[models.PaperID]struct{})
	s.recent = nil
	s.query = ""
	s.selected = nil
}

// ViewPaper moves id to the front of the recently-viewed list.
func (s *AppStore) ViewPaper(id models.PaperID) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]models.PaperID, 0, MaxRecentlyViewed)
	next = append(next, id)
	for _, v := range s.recent {
		if v != id && len(next) < MaxRecentlyViewed {
			next = append(next, v)
		}
	}
	s.recent = next
}

func (s *AppStore) RecentlyViewed() []models.PaperID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PaperID(nil), s.recent...)
}

func (s *AppStore) MarkBookmarked(id models.PaperID, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.bookmarked[id] = struct{}{}
	} else {
		delete(s.bookmarked, id)
	}
}

// SetBookmarked replaces the bookmarked set.
func (s *AppStore) SetBookmarked(ids []models.PaperID) {
	next := make(map[models.PaperID]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	s.mu.Lock()
	s.bookmarked = next
	s.mu.Unlock()
}

func (s *AppStore) IsBookmarked(id models.PaperID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bookmarked[id]
	return ok
}

// BookmarkedIDs returns the bookmarked set in sorted order.
func (s *AppStore) BookmarkedIDs() []models.PaperID {
	s.mu.RLock()
	out := make([]models.PaperID, 0, len(s.bookmarked))
	for id := range s.bookmarked {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *AppStore) SetSearchQuery(q string) {
	s.mu.Lock()
	s.query = q
	s.mu.Unlock()
}

func (s *AppStore) SearchQuery() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

func (s *AppStore) SelectPaper(p *models.Paper) {
	s.mu.Lock()
	s.selected = p
	s.mu.Unlock()
}

func (s *AppStore) Snapshot() AppState {
	ids := s.BookmarkedIDs()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AppState{
		BookmarkedIDs:  ids,
		RecentlyViewed: append([]models.PaperID(nil), s.recent...),
		SearchQuery:    s.query,
		SelectedPaper:  s.selected,
	}
}
