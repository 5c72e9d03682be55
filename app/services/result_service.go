package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/internal/store"
)

// ResultReviewStore is the read/review surface of the linkage-result store.
type ResultReviewStore interface {
	Get(ctx context.Context, primaryID string) (*models.LinkageResult, error)
	GetByMatchID(ctx context.Context, matchID string) (*models.LinkageResult, error)
	List(ctx context.Context, filter store.ResultListFilter) ([]*models.LinkageResult, int64, error)
	SetReview(ctx context.Context, matchID, status, notes, reviewer string) (*models.LinkageResult, error)
	Statistics(ctx context.Context) (*store.MatchStatistics, error)
}

// ResultService serves reads and human review over linkage results. Review
// writes ride the store's compare-and-set; on conflict the caller gets
// ErrStaleReview and retries after a fresh read.
type ResultService struct {
	store  ResultReviewStore
	logger *zap.Logger
}

// NewResultService tạo mới ResultService.
func NewResultService(resultStore ResultReviewStore, logger *zap.Logger) *ResultService {
	return &ResultService{store: resultStore, logger: logger}
}

// List trả về một trang kết quả theo bộ lọc.
func (rs *ResultService) List(ctx context.Context, filter store.ResultListFilter) ([]*models.LinkageResult, int64, error) {
	if filter.MatchType != "" && !models.IsValidMatchType(models.MatchType(filter.MatchType)) {
		return nil, 0, fmt.Errorf("%w: unknown match_type %q", ErrInvalidFilter, filter.MatchType)
	}
	if filter.ReviewStatus != "" && !models.IsValidReviewStatus(filter.ReviewStatus) {
		return nil, 0, fmt.Errorf("%w: unknown review_status %q", ErrInvalidFilter, filter.ReviewStatus)
	}
	return rs.store.List(ctx, filter)
}

// Get resolves a result by primary id first, then by match id, so both
// identifier kinds work on the same endpoint.
func (rs *ResultService) Get(ctx context.Context, id string) (*models.LinkageResult, error) {
	result, err := rs.store.Get(ctx, id)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	result, err = rs.store.GetByMatchID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}

// SetReview applies a review transition and maps store conflicts onto the
// service error taxonomy.
func (rs *ResultService) SetReview(ctx context.Context, matchID, status, notes, reviewer string) (*models.LinkageResult, error) {
	if !models.IsValidReviewStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReviewStatus, status)
	}
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidReviewStatus)
	}

	updated, err := rs.store.SetReview(ctx, matchID, status, notes, reviewer)
	switch {
	case err == nil:
		rs.logger.Info("review status updated",
			zap.String("match_id", matchID),
			zap.String("status", status),
			zap.String("reviewer", reviewer))
		return updated, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrStaleReview):
		return nil, ErrStaleReview
	case errors.Is(err, store.ErrInvalidTransition):
		return nil, fmt.Errorf("%w: %v", ErrInvalidReviewStatus, err)
	default:
		return nil, err
	}
}

// Statistics thống kê kết quả theo match_type / confidence / review_status.
func (rs *ResultService) Statistics(ctx context.Context) (*store.MatchStatistics, error) {
	return rs.store.Statistics(ctx)
}
