package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/internal/store"
)

// AssociationRunner is the aggregation surface of the association store.
type AssociationRunner interface {
	Regenerate(ctx context.Context, strategy models.AssociationStrategy) error
	ClearAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	GetByPrimaryID(ctx context.Context, primaryID string) (*models.EnhancedAssociation, error)
	List(ctx context.Context, page, pageSize int) ([]*models.EnhancedAssociation, int64, error)
}

// AssociationService drives the 1:N enhanced-association regeneration. The
// heavy lifting stays server-side in the store's aggregation pipeline; this
// layer only sequences clear/regenerate and validates input.
type AssociationService struct {
	store  AssociationRunner
	logger *zap.Logger
}

// NewAssociationService tạo mới AssociationService.
func NewAssociationService(assocStore AssociationRunner, logger *zap.Logger) *AssociationService {
	return &AssociationService{store: assocStore, logger: logger}
}

// Regenerate rebuilds the association collection for one strategy. Hybrid is
// the default. The operation is idempotent: same inputs, same documents.
func (as *AssociationService) Regenerate(ctx context.Context, strategy models.AssociationStrategy, clearExisting bool) (int64, error) {
	if strategy == "" {
		strategy = models.StrategyHybrid
	}
	if !models.IsValidStrategy(strategy) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	if clearExisting {
		deleted, err := as.store.ClearAll(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: clear existing: %v", ErrAggregationFailed, err)
		}
		as.logger.Info("cleared existing associations", zap.Int64("deleted", deleted))
	}

	if err := as.store.Regenerate(ctx, strategy); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAggregationFailed, err)
	}

	count, err := as.store.Count(ctx)
	if err != nil {
		// Regeneration succeeded; a failed count only degrades the report.
		as.logger.Warn("count associations failed", zap.Error(err))
		count = 0
	}
	as.logger.Info("enhanced associations ready",
		zap.String("strategy", string(strategy)), zap.Int64("count", count))
	return count, nil
}

// Get đọc association của một primary unit.
func (as *AssociationService) Get(ctx context.Context, primaryID string) (*models.EnhancedAssociation, error) {
	assoc, err := as.store.GetByPrimaryID(ctx, primaryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return assoc, err
}

// List trả về một trang association documents.
func (as *AssociationService) List(ctx context.Context, page, pageSize int) ([]*models.EnhancedAssociation, int64, error) {
	return as.store.List(ctx, page, pageSize)
}
