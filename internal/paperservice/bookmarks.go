package paperservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starford/paperlens/internal/apperr"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/query"
	"golang.org/x/sync/errgroup"
)

const (
	enrichConcurrency = 4

	msgBookmarkAdded     = "북마크가 추가되었습니다."
	msgBookmarkRemoved   = "북마크가 삭제되었습니다."
	msgBookmarkUpdated   = "북마크가 수정되었습니다."
	msgBookmarkAddFail   = "북마크 추가 실패"
	msgBookmarkDelFail   = "북마크 삭제 실패"
	msgBookmarkEditFail  = "북마크 수정 실패"
	msgBookmarkIDMissing = "북마크 ID를 찾을 수 없습니다."
	msgInvalidPaperID    = "유효하지 않은 논문 ID입니다."
	msgLoginRequired     = "로그인이 필요합니다"
)

// Bookmarks returns the user's bookmarks with their papers attached. It is
// enabled only while logged in.
func (s *Service) Bookmarks(ctx context.Context) ([]models.Bookmark, error) {
	list, err := query.Fetch(ctx, s.cache, query.Query[[]models.Bookmark]{
		Key:       BookmarksKey,
		StaleTime: s.fresh.Bookmark,
		Enabled:   s.loggedIn,
		Retry:     s.fresh.Retry,
		Fn: func(ctx context.Context) ([]models.Bookmark, error) {
			raw, err := s.api.Bookmarks(ctx)
			if err != nil {
				return nil, err
			}
			return s.enrich(ctx, raw), nil
		},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]models.PaperID, 0, len(list))
	for _, b := range list {
		if !b.Pending {
			ids = append(ids, b.PaperID)
		}
	}
	s.app.SetBookmarked(ids)
	return list, nil
}

// enrich attaches paper details to bookmarks that arrived without one.
// A paper that cannot be loaded leaves its bookmark as is.
func (s *Service) enrich(ctx context.Context, in []models.Bookmark) []models.Bookmark {
	out := append([]models.Bookmark(nil), in...)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i := range out {
		if out[i].Paper != nil || out[i].PaperID == "" {
			continue
		}
		g.Go(func() error {
			p, err := s.paper(gctx, out[i].PaperID)
			if err != nil {
				s.logger.Debug("bookmark enrichment failed",
					slog.String("paper_id", string(out[i].PaperID)),
					slog.String("error", err.Error()))
				return nil
			}
			out[i].Paper = &p
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// IsBookmarked checks the cached list (top-level id and embedded paper),
// falling back to the session's bookmarked set.
func (s *Service) IsBookmarked(id models.PaperID) bool {
	if list, ok := query.GetQueryData[[]models.Bookmark](s.cache, BookmarksKey); ok {
		_, found := models.FindBookmark(list, id)
		return found
	}
	return s.app.IsBookmarked(id)
}

// FindBookmark returns the bookmark for a paper from the (possibly refreshed) list.
func (s *Service) FindBookmark(ctx context.Context, id models.PaperID) (models.Bookmark, error) {
	list, err := s.Bookmarks(ctx)
	if err != nil {
		return models.Bookmark{}, err
	}
	bm, ok := models.FindBookmark(list, id)
	if !ok {
		return models.Bookmark{}, fmt.Errorf("%w: no bookmark for paper %s", apperr.ErrNotFound, id)
	}
	return bm, nil
}

func (s *Service) requireLogin() error {
	if !s.loggedIn() {
		s.notify.Error(msgLoginRequired, "북마크 기능을 사용하려면 로그인해주세요.")
		return apperr.ErrNotLoggedIn
	}
	return nil
}

func cleanID(id models.PaperID) models.PaperID {
	return models.PaperID(strings.TrimSpace(string(id)))
}

func (s *Service) checkPaperID(id models.PaperID) error {
	if id == "" {
		s.notify.Error(msgInvalidPaperID, "")
		return fmt.Errorf("%w: empty paper id", apperr.ErrInvalidArgument)
	}
	return nil
}

// bookmarkOp is what a toggle decided while applying its speculative change.
type bookmarkOp struct {
	add      bool
	snapshot []models.Bookmark
	turn     *turn
}

// AddBookmark bookmarks a paper. The bookmark appears immediately as a
// pending entry. A duplicate rejection leaves the list invalidated rather
// than rolled back; any other failure restores the previous list.
func (s *Service) AddBookmark(ctx context.Context, id models.PaperID, notes string) (models.Bookmark, error) {
	bm, _, err := s.mutateBookmark(ctx, cleanID(id), notes, func(bool) bool { return true })
	return bm, err
}

// RemoveBookmark removes a paper's bookmark. The entry disappears
// immediately; any failure restores the previous list verbatim.
func (s *Service) RemoveBookmark(ctx context.Context, id models.PaperID) error {
	_, _, err := s.mutateBookmark(ctx, cleanID(id), "", func(bool) bool { return false })
	return err
}

// ToggleBookmark adds or removes depending on the current, possibly
// speculative, list. It reports whether the paper ended up bookmarked.
// Commits for the same paper run in call order, so a remove issued while
// an add is in flight deletes the entry the add created.
func (s *Service) ToggleBookmark(ctx context.Context, id models.PaperID, notes string) (bool, error) {
	_, added, err := s.mutateBookmark(ctx, cleanID(id), notes, func(present bool) bool { return !present })
	return added, err
}

func (s *Service) mutateBookmark(ctx context.Context, id models.PaperID, notes string, decide func(present bool) bool) (models.Bookmark, bool, error) {
	if err := s.requireLogin(); err != nil {
		return models.Bookmark{}, false, err
	}
	if err := s.checkPaperID(id); err != nil {
		return models.Bookmark{}, false, err
	}
	if _, ok := query.GetQueryData[[]models.Bookmark](s.cache, BookmarksKey); !ok {
		// Load the list first so the decision and the rollback snapshot are real.
		if _, err := s.Bookmarks(ctx); err != nil && !errors.Is(err, apperr.ErrDisabled) {
			s.logger.Debug("bookmark list preload failed", slog.String("error", err.Error()))
		}
	}

	var op bookmarkOp
	apply := func(old []models.Bookmark, ok bool) []models.Bookmark {
		present := s.app.IsBookmarked(id)
		if ok {
			_, present = models.FindBookmark(old, id)
		}
		op = bookmarkOp{add: decide(present), snapshot: old, turn: s.serial.enter(id)}
		if !op.add {
			return models.WithoutPaper(old, id)
		}
		if present {
			return old
		}
		now := time.Now().UTC()
		next := append(append([]models.Bookmark(nil), old...), models.Bookmark{
			ID:        "pending-" + uuid.NewString(),
			PaperID:   id,
			Notes:     notes,
			CreatedAt: &now,
			Pending:   true,
		})
		return next
	}

	var created models.Bookmark
	commit := func(ctx context.Context) (struct{}, error) {
		if err := op.turn.wait(ctx); err != nil {
			return struct{}{}, err
		}
		var err error
		if op.add {
			created, err = s.api.AddBookmark(ctx, id, notes)
		} else {
			err = s.removeOnServer(ctx, id, op.snapshot)
		}
		if err == nil {
			// Marked before the turn ends so a later toggle's mark wins.
			s.app.MarkBookmarked(id, op.add)
		}
		return struct{}{}, err
	}

	onError := func(err error) query.Resolution {
		if op.add && errors.Is(err, apperr.ErrDuplicateBookmark) {
			return query.InvalidateOnError
		}
		return query.Rollback
	}

	_, err := query.RunOptimistic(ctx, s.cache, query.OptimisticUpdate[[]models.Bookmark, struct{}]{
		Key:        BookmarksKey,
		Apply:      apply,
		Commit:     commit,
		Invalidate: []query.Key{SearchPrefix, DetailKey(id)},
		OnError:    onError,
	})
	// The next turn for this paper starts only after this one's rollback or
	// invalidation, so it never commits against a value about to be undone.
	op.turn.end()
	if err != nil {
		if op.add {
			s.notify.Error(msgBookmarkAddFail, err.Error())
		} else {
			s.notify.Error(msgBookmarkDelFail, err.Error())
		}
		return models.Bookmark{}, op.add, err
	}
	if op.add {
		s.notify.Success(msgBookmarkAdded, "")
	} else {
		s.notify.Success(msgBookmarkRemoved, "")
	}
	return created, op.add, nil
}

func (s *Service) removeOnServer(ctx context.Context, id models.PaperID, snapshot []models.Bookmark) error {
	bookmarkID, err := s.resolveBookmarkID(ctx, id, snapshot)
	if err != nil {
		return err
	}
	return s.api.DeleteBookmark(ctx, bookmarkID)
}

// resolveBookmarkID finds the server id of a paper's bookmark: from the
// list as it was before the speculative removal, else from a fresh list.
func (s *Service) resolveBookmarkID(ctx context.Context, id models.PaperID, snapshot []models.Bookmark) (string, error) {
	if bm, ok := models.FindBookmark(snapshot, id); ok && !bm.Pending && bm.ID != "" {
		return bm.ID, nil
	}
	fresh, err := s.api.Bookmarks(ctx)
	if err != nil {
		return "", err
	}
	if bm, ok := models.FindBookmark(fresh, id); ok && bm.ID != "" {
		return bm.ID, nil
	}
	return "", fmt.Errorf("%w: %s", apperr.ErrNotFound, msgBookmarkIDMissing)
}

// UpdateBookmarkNote replaces the notes of a bookmark.
func (s *Service) UpdateBookmarkNote(ctx context.Context, bookmarkID, notes string) (models.Bookmark, error) {
	if err := s.requireLogin(); err != nil {
		return models.Bookmark{}, err
	}
	if strings.TrimSpace(bookmarkID) == "" {
		return models.Bookmark{}, fmt.Errorf("%w: empty bookmark id", apperr.ErrInvalidArgument)
	}
	bm, err := s.api.UpdateBookmark(ctx, bookmarkID, notes)
	if err != nil {
		s.notify.Error(msgBookmarkEditFail, err.Error())
		return models.Bookmark{}, err
	}
	s.cache.InvalidateQueries(BookmarksKey)
	s.notify.Success(msgBookmarkUpdated, "")
	return bm, nil
}
