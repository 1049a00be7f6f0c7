package paperservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/starford/paperlens/internal/apperr"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/query"
)

const (
	DefaultHistoryLimit = 20

	msgInterestsSaved   = "관심 카테고리가 저장되었습니다."
	msgInterestsFail    = "관심 카테고리 저장 실패"
	msgNoInterests      = "선택한 카테고리가 없습니다."
	msgInterestsTooMany = "최대 5개까지만 선택할 수 있습니다."
	msgInterestsBadCode = "유효하지 않은 카테고리 코드입니다."
)

// Interests returns the user's interest categories. Enabled only while logged in.
func (s *Service) Interests(ctx context.Context) (models.InterestSet, error) {
	return query.Fetch(ctx, s.cache, query.Query[models.InterestSet]{
		Key:       InterestsKey,
		StaleTime: s.fresh.Interest,
		Enabled:   s.loggedIn,
		Retry:     s.fresh.Retry,
		Fn:        s.api.Interests,
	})
}

func validateInterests(set models.InterestSet) error {
	if len(set) == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrNoInterests, msgNoInterests)
	}
	if len(set) > models.MaxInterests {
		return fmt.Errorf("%w: %s", apperr.ErrInterestLimit, msgInterestsTooMany)
	}
	codes := []string(set)
	if err := validation.Validate(codes, validation.Each(validation.By(categoryCode))); err != nil {
		return invalid(err)
	}
	return nil
}

// SaveInterests replaces the user's interests with selected. Only the
// difference to the last known server set is sent: removals first, then
// additions.
func (s *Service) SaveInterests(ctx context.Context, selected []string) (models.InterestSet, error) {
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	target := models.NewInterestSet(selected...)
	if err := validateInterests(target); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNoInterests):
			s.notify.Error(msgNoInterests, "")
		case errors.Is(err, apperr.ErrInterestLimit):
			s.notify.Error(msgInterestsTooMany, "")
		default:
			s.notify.Error(msgInterestsBadCode, err.Error())
		}
		return nil, err
	}

	current, ok := query.GetQueryData[models.InterestSet](s.cache, InterestsKey)
	if !ok {
		var err error
		if current, err = s.Interests(ctx); err != nil {
			s.notify.Error(msgInterestsFail, err.Error())
			return nil, err
		}
	}
	add, remove := current.Diff(target)
	if len(remove) > 0 {
		if err := s.api.DeleteInterests(ctx, remove); err != nil {
			s.notify.Error(msgInterestsFail, err.Error())
			s.cache.InvalidateQueries(InterestsKey)
			return nil, err
		}
	}
	if len(add) > 0 {
		if err := s.api.AddInterests(ctx, add); err != nil {
			s.notify.Error(msgInterestsFail, err.Error())
			s.cache.InvalidateQueries(InterestsKey)
			return nil, err
		}
	}
	s.cache.SetQueryData(InterestsKey, target)
	s.cache.InvalidateQueries(InterestsKey)
	s.notify.Success(msgInterestsSaved, "")
	return target, nil
}

// SearchHistory returns the user's recent queries, newest first, one entry
// per query. limit <= 0 uses DefaultHistoryLimit.
func (s *Service) SearchHistory(ctx context.Context, limit int) ([]models.SearchHistoryEntry, error) {
	if !s.loggedIn() {
		return nil, apperr.ErrDisabled
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	userID := s.auth.Snapshot().UserID
	if userID == "" {
		p, err := s.Profile(ctx)
		if err != nil {
			return nil, err
		}
		userID = string(p.ID)
	}
	return query.Fetch(ctx, s.cache, query.Query[[]models.SearchHistoryEntry]{
		Key:       HistoryKey(userID, limit),
		StaleTime: s.fresh.History,
		Enabled:   func() bool { return s.loggedIn() && userID != "" },
		Retry:     s.fresh.Retry,
		Fn: func(ctx context.Context) ([]models.SearchHistoryEntry, error) {
			raw, err := s.api.SearchHistory(ctx, userID, limit)
			if err != nil {
				return nil, err
			}
			return normalizeHistory(raw), nil
		},
	})
}

// normalizeHistory drops blank queries, keeps the most recent entry of each
// query and orders newest first. Entries without a timestamp go last in
// their original order.
func normalizeHistory(in []models.SearchHistoryEntry) []models.SearchHistoryEntry {
	out := make([]models.SearchHistoryEntry, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, e := range in {
		e.Query = strings.TrimSpace(e.Query)
		if e.Query == "" {
			continue
		}
		if i, ok := seen[e.Query]; ok {
			if newer(e, out[i]) {
				out[i] = e
			}
			continue
		}
		seen[e.Query] = len(out)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

func newer(a, b models.SearchHistoryEntry) bool {
	switch {
	case a.SearchedAt == nil:
		return false
	case b.SearchedAt == nil:
		return true
	default:
		return a.SearchedAt.After(*b.SearchedAt)
	}
}
