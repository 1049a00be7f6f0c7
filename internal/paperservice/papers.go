package paperservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/starford/paperlens/internal/apperr"
	"github.com/starford/paperlens/internal/backend"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/query"
)

const (
	DefaultTopK       = 6
	DefaultCandidateK = 50
	maxSearchCats     = 10
	clickTimeout      = 10 * time.Second
)

// SortKeys are the accepted search orderings; "" lets the backend decide.
var SortKeys = []any{"", "relevance", "date", "citations"}

// SearchParams are the user inputs of a search.
type SearchParams struct {
	Query      string   `json:"q"`
	Categories []string `json:"categories,omitempty"`
	Page       int      `json:"page"`
	Sort       string   `json:"sort,omitempty"`
}

func (p SearchParams) normalized() SearchParams {
	p.Query = strings.TrimSpace(p.Query)
	p.Categories = models.SortedCodes(p.Categories)
	if p.Page == 0 {
		p.Page = 1
	}
	return p
}

// Validate checks the search inputs.
func (p SearchParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Page, validation.Min(1)),
		validation.Field(&p.Sort, validation.In(SortKeys...)),
		validation.Field(&p.Categories,
			validation.Length(0, maxSearchCats),
			validation.Each(validation.By(categoryCode))),
	)
}

func categoryCode(v any) error {
	s, _ := v.(string)
	if !models.ValidCategoryCode(s) {
		return fmt.Errorf("invalid category code %q", s)
	}
	return nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
}

// Search runs a paper search. It is enabled only when a query or a
// category is given, and is never retried.
func (s *Service) Search(ctx context.Context, p SearchParams) (models.SearchPage, error) {
	p = p.normalized()
	if err := p.Validate(); err != nil {
		return models.SearchPage{}, invalid(err)
	}
	page, err := query.Fetch(ctx, s.cache, query.Query[models.SearchPage]{
		Key:       SearchKey(p.Query, p.Categories, p.Page, p.Sort),
		StaleTime: s.fresh.Search,
		Enabled:   func() bool { return p.Query != "" || len(p.Categories) > 0 },
		Fn: func(ctx context.Context) (models.SearchPage, error) {
			return s.api.Search(ctx, backend.SearchParams{
				Query:      p.Query,
				Categories: p.Categories,
				Page:       p.Page,
				Sort:       p.Sort,
			})
		},
	})
	if err != nil {
		return models.SearchPage{}, err
	}
	s.app.SetSearchQuery(p.Query)
	if p.Query != "" && s.loggedIn() {
		s.cache.InvalidateQueries(HistoryPrefix)
	}
	return page, nil
}

// Paper returns one paper and records it as recently viewed.
func (s *Service) Paper(ctx context.Context, id models.PaperID) (models.Paper, error) {
	id = cleanID(id)
	p, err := s.paper(ctx, id)
	if err != nil {
		return models.Paper{}, err
	}
	s.app.ViewPaper(id)
	s.app.SelectPaper(&p)
	return p, nil
}

// paper reads through the detail cache without touching the view history.
func (s *Service) paper(ctx context.Context, id models.PaperID) (models.Paper, error) {
	id = cleanID(id)
	return query.Fetch(ctx, s.cache, query.Query[models.Paper]{
		Key:       DetailKey(id),
		StaleTime: s.fresh.Detail,
		Enabled:   func() bool { return id != "" },
		Retry:     s.fresh.Retry,
		Fn: func(ctx context.Context) (models.Paper, error) {
			return s.api.Paper(ctx, id)
		},
	})
}

// Recommendations returns papers related to id. Zero topK/candidateK use the defaults.
func (s *Service) Recommendations(ctx context.Context, id models.PaperID, topK, candidateK int) ([]models.Recommendation, error) {
	id = cleanID(id)
	if topK <= 0 {
		topK = DefaultTopK
	}
	if candidateK <= 0 {
		candidateK = DefaultCandidateK
	}
	if candidateK < topK {
		return nil, invalid(errors.New("candidate_k must be at least top_k"))
	}
	return query.Fetch(ctx, s.cache, query.Query[[]models.Recommendation]{
		Key:       RecommendationKey(id, topK, candidateK),
		StaleTime: s.fresh.Recommendation,
		Enabled:   func() bool { return id != "" },
		Fn: func(ctx context.Context) ([]models.Recommendation, error) {
			return s.api.Recommendations(ctx, backend.RecommendationParams{
				BasePaperID: id,
				TopK:        topK,
				CandidateK:  candidateK,
			})
		},
	})
}

// RecordRecommendationClick reports a click in the background. Failures
// are logged and never reach the caller.
func (s *Service) RecordRecommendationClick(recommendationID string) {
	if recommendationID == "" {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(s.bgCtx, clickTimeout)
		defer cancel()
		if err := s.api.RecordClick(ctx, recommendationID); err != nil {
			s.logger.Warn("record recommendation click failed",
				slog.String("recommendation_id", recommendationID),
				slog.String("error", err.Error()))
		}
	}()
}

// RecordInteraction reports engagement with a recommended paper.
func (s *Service) RecordInteraction(ctx context.Context, recommendationID string, in models.Interaction) error {
	err := validation.Errors{
		"recommendation_id": validation.Validate(recommendationID, validation.Required),
		"dwell_time":        validation.Validate(in.DwellSeconds, validation.Min(0.0)),
		"scroll_depth":      validation.Validate(in.ScrollDepth, validation.Min(0.0), validation.Max(1.0)),
	}.Filter()
	if err != nil {
		return invalid(err)
	}
	return s.api.RecordInteraction(ctx, recommendationID, in)
}
