package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
)

const (
	CollPrimaryUnits   = "primary_units"
	CollSecondaryUnits = "secondary_units"
)

// UnitStore persists both registries and serves the indexed lookups the
// prefilter runs. Every query path goes through a declared index; lookups
// against an undeclared field are refused up front rather than allowed to
// collection-scan in production.
type UnitStore struct {
	primary   *mongo.Collection
	secondary *mongo.Collection
	indexes   *indexRegistry
	logger    *zap.Logger
}

// NewUnitStore khởi tạo store và tạo indexes cho cả hai collection.
func NewUnitStore(db *mongo.Database, logger *zap.Logger) (*UnitStore, error) {
	s := &UnitStore{
		primary:   db.Collection(CollPrimaryUnits),
		secondary: db.Collection(CollSecondaryUnits),
		indexes:   newIndexRegistry(),
		logger:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unitIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "unit_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_unit_id"),
		},
		{
			Keys:    bson.D{{Key: "normalized.credit_code", Value: 1}},
			Options: options.Index().SetName("idx_norm_credit_code"),
		},
		{
			Keys:    bson.D{{Key: "normalized.name_canonical", Value: 1}},
			Options: options.Index().SetName("idx_norm_name_canonical"),
		},
		{
			Keys:    bson.D{{Key: "normalized.name_slices", Value: 1}},
			Options: options.Index().SetName("idx_norm_name_slices"),
		},
		{
			Keys:    bson.D{{Key: "normalized.address_keywords", Value: 1}},
			Options: options.Index().SetName("idx_norm_address_keywords"),
		},
	}
	for _, coll := range []*mongo.Collection{s.primary, s.secondary} {
		if _, err := coll.Indexes().CreateMany(ctx, unitIndexes); err != nil {
			return nil, fmt.Errorf("create indexes for %s: %w", coll.Name(), err)
		}
	}

	for _, idx := range unitIndexes {
		s.indexes.declare(*idx.Options.Name)
	}
	logger.Info("unit store ready",
		zap.Int("declared_indexes", len(unitIndexes)))
	return s, nil
}

func (s *UnitStore) collectionFor(source models.SourceKind) *mongo.Collection {
	if source == models.SourcePrimary {
		return s.primary
	}
	return s.secondary
}

// UpsertUnits writes a batch of units keyed on unit_id, one replace-upsert
// per record so re-ingestion stays idempotent.
func (s *UnitStore) UpsertUnits(ctx context.Context, source models.SourceKind, units []*models.Unit) (*UpsertReport, error) {
	if len(units) == 0 {
		return &UpsertReport{}, nil
	}
	now := time.Now()
	writes := make([]mongo.WriteModel, 0, len(units))
	for _, u := range units {
		u.Source = source
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"unit_id": u.UnitID}).
			SetReplacement(u).
			SetUpsert(true))
	}

	res, err := s.collectionFor(source).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return nil, fmt.Errorf("bulk upsert units: %w", err)
	}
	return &UpsertReport{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
		Inserted: res.UpsertedCount,
	}, nil
}

// PrimaryPage returns the next page of primary units ordered by unit_id,
// strictly after afterID. The ordering makes task resumption a plain
// range query.
func (s *UnitStore) PrimaryPage(ctx context.Context, afterID string, limit int) ([]*models.Unit, error) {
	if err := s.indexes.require("idx_unit_id"); err != nil {
		return nil, err
	}
	filter := bson.M{}
	if afterID != "" {
		filter["unit_id"] = bson.M{"$gt": afterID}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "unit_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.primary.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("primary page after %q: %w", afterID, err)
	}
	defer cur.Close(ctx)

	var units []*models.Unit
	if err := cur.All(ctx, &units); err != nil {
		return nil, fmt.Errorf("decode primary page: %w", err)
	}
	return units, nil
}

// CountPrimaries đếm số record PRIMARY.
func (s *UnitStore) CountPrimaries(ctx context.Context) (int64, error) {
	return s.primary.CountDocuments(ctx, bson.M{})
}

// CountSecondaries đếm số record SECONDARY.
func (s *UnitStore) CountSecondaries(ctx context.Context) (int64, error) {
	return s.secondary.CountDocuments(ctx, bson.M{})
}

// FindByCreditCode looks secondaries up by normalized credit code.
func (s *UnitStore) FindByCreditCode(ctx context.Context, code string) ([]*models.Unit, error) {
	if err := s.indexes.require("idx_norm_credit_code"); err != nil {
		return nil, err
	}
	return s.findSecondaries(ctx, bson.M{"normalized.credit_code": code}, 0)
}

// FindByNameCanonical looks secondaries up by canonical name.
func (s *UnitStore) FindByNameCanonical(ctx context.Context, canonical string) ([]*models.Unit, error) {
	if err := s.indexes.require("idx_norm_name_canonical"); err != nil {
		return nil, err
	}
	return s.findSecondaries(ctx, bson.M{"normalized.name_canonical": canonical}, 0)
}

// FindByNameSlices returns secondaries sharing any blocking slice.
func (s *UnitStore) FindByNameSlices(ctx context.Context, slices []string, limit int) ([]*models.Unit, error) {
	if err := s.indexes.require("idx_norm_name_slices"); err != nil {
		return nil, err
	}
	return s.findSecondaries(ctx, bson.M{"normalized.name_slices": bson.M{"$in": slices}}, limit)
}

// FindByAddressKeywords returns secondaries sharing any address keyword.
func (s *UnitStore) FindByAddressKeywords(ctx context.Context, keywords []string, limit int) ([]*models.Unit, error) {
	if err := s.indexes.require("idx_norm_address_keywords"); err != nil {
		return nil, err
	}
	return s.findSecondaries(ctx, bson.M{"normalized.address_keywords": bson.M{"$in": keywords}}, limit)
}

// FindByIDs hydrates secondaries by unit id, in store order.
func (s *UnitStore) FindByIDs(ctx context.Context, ids []string) ([]*models.Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.indexes.require("idx_unit_id"); err != nil {
		return nil, err
	}
	return s.findSecondaries(ctx, bson.M{"unit_id": bson.M{"$in": ids}}, 0)
}

func (s *UnitStore) findSecondaries(ctx context.Context, filter bson.M, limit int) ([]*models.Unit, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.secondary.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find secondaries: %w", err)
	}
	defer cur.Close(ctx)

	var units []*models.Unit
	if err := cur.All(ctx, &units); err != nil {
		return nil, fmt.Errorf("decode secondaries: %w", err)
	}
	return units, nil
}
