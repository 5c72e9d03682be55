package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
)

const CollEnhancedAssociations = "enhanced_associations"

// memberScoreFloor is the similarity below which a group member does not
// count toward association_confidence.
const memberScoreFloor = 0.70

// AssociationStore owns the enhanced_associations collection and the
// server-side pipeline that regenerates it. The 1:N grouping never leaves the
// database: grouping, scoring and the upsert all happen in one aggregation
// with $merge, because looping the primaries client-side has caused
// out-of-memory failures at production volume.
type AssociationStore struct {
	db      *mongo.Database
	coll    *mongo.Collection
	indexes *indexRegistry
	logger  *zap.Logger
}

// NewAssociationStore khởi tạo store và index cho enhanced_associations.
func NewAssociationStore(db *mongo.Database, logger *zap.Logger) (*AssociationStore, error) {
	s := &AssociationStore{
		db:      db,
		coll:    db.Collection(CollEnhancedAssociations),
		indexes: newIndexRegistry(),
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	assocIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "association_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_assoc_id"),
		},
		{
			Keys:    bson.D{{Key: "primary_id", Value: 1}},
			Options: options.Index().SetName("idx_assoc_primary_id"),
		},
		{
			Keys:    bson.D{{Key: "association_strategy", Value: 1}},
			Options: options.Index().SetName("idx_assoc_strategy"),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, assocIndexes); err != nil {
		return nil, fmt.Errorf("create indexes for %s: %w", CollEnhancedAssociations, err)
	}
	for _, idx := range assocIndexes {
		s.indexes.declare(*idx.Options.Name)
	}

	logger.Info("association store ready", zap.Int("declared_indexes", len(assocIndexes)))
	return s, nil
}

// Regenerate runs the aggregation for one strategy. The $merge upsert keys on
// association_id, so re-running with identical inputs replaces each document
// in place.
func (s *AssociationStore) Regenerate(ctx context.Context, strategy models.AssociationStrategy) error {
	if err := s.indexes.require("idx_assoc_id"); err != nil {
		return err
	}
	pipeline := buildAssociationPipeline(strategy)

	cur, err := s.db.Collection(CollPrimaryUnits).Aggregate(ctx, pipeline,
		options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return fmt.Errorf("association pipeline (%s): %w", strategy, err)
	}
	// A $merge pipeline yields no documents; draining the cursor waits for
	// the server-side write to finish.
	defer cur.Close(ctx)
	for cur.Next(ctx) {
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("association pipeline drain (%s): %w", strategy, err)
	}

	s.logger.Info("enhanced associations regenerated", zap.String("strategy", string(strategy)))
	return nil
}

// ClearAll xóa toàn bộ association results.
func (s *AssociationStore) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear enhanced associations: %w", err)
	}
	return res.DeletedCount, nil
}

// Count đếm số association documents.
func (s *AssociationStore) Count(ctx context.Context) (int64, error) {
	return s.coll.EstimatedDocumentCount(ctx)
}

// GetByPrimaryID đọc association của một primary unit.
func (s *AssociationStore) GetByPrimaryID(ctx context.Context, primaryID string) (*models.EnhancedAssociation, error) {
	if err := s.indexes.require("idx_assoc_primary_id"); err != nil {
		return nil, err
	}
	var assoc models.EnhancedAssociation
	err := s.coll.FindOne(ctx, bson.M{"primary_id": primaryID}).Decode(&assoc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find association for %s: %w", primaryID, err)
	}
	return &assoc, nil
}

// List trả về một trang association documents.
func (s *AssociationStore) List(ctx context.Context, page, pageSize int) ([]*models.EnhancedAssociation, int64, error) {
	if err := s.indexes.require("idx_assoc_id"); err != nil {
		return nil, 0, err
	}
	total, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count associations: %w", err)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "association_confidence", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list associations: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.EnhancedAssociation
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode associations: %w", err)
	}
	return out, total, nil
}

// buildAssociationPipeline assembles the aggregation for one strategy. It
// runs over primary_units, joins the linkage result and the candidate
// secondaries, scores each group and merges into enhanced_associations.
func buildAssociationPipeline(strategy models.AssociationStrategy) mongo.Pipeline {
	useUnit := strategy == models.StrategyUnitBased || strategy == models.StrategyHybrid
	useBuilding := strategy == models.StrategyBuildingBased || strategy == models.StrategyHybrid

	// Membership conditions, evaluated against each secondary in the lookup.
	var memberConds bson.A
	if useUnit {
		memberConds = append(memberConds,
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$$mid", ""}},
				bson.M{"$eq": bson.A{"$unit_id", "$$mid"}},
			}},
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$$cc", ""}},
				bson.M{"$eq": bson.A{"$normalized.credit_code", "$$cc"}},
			}},
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$$nc", ""}},
				bson.M{"$eq": bson.A{"$normalized.name_canonical", "$$nc"}},
			}},
		)
	}
	if useBuilding {
		memberConds = append(memberConds,
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$$bid", ""}},
				bson.M{"$eq": bson.A{"$building_id", "$$bid"}},
			}},
		)
	}

	// Per-member classification: the linked secondary inherits the stored
	// match type and score, identifier-equal secondaries score 1.0, and
	// building-only neighbours carry no similarity of their own.
	memberMatchType := bson.M{"$switch": bson.M{
		"branches": bson.A{
			bson.M{
				"case": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{"$lk.matched_id", ""}}, ""}},
					bson.M{"$eq": bson.A{"$$m.unit_id", "$lk.matched_id"}},
				}},
				"then": "$lk.match_type",
			},
			bson.M{
				"case": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{"$normalized.credit_code", ""}},
					bson.M{"$eq": bson.A{"$$m.normalized.credit_code", "$normalized.credit_code"}},
				}},
				"then": string(models.MatchTypeExactCreditCode),
			},
			bson.M{
				"case": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{"$normalized.name_canonical", ""}},
					bson.M{"$eq": bson.A{"$$m.normalized.name_canonical", "$normalized.name_canonical"}},
				}},
				"then": string(models.MatchTypeExactNameCanonical),
			},
		},
		"default": string(models.MatchTypeNone),
	}}
	memberScore := bson.M{"$switch": bson.M{
		"branches": bson.A{
			bson.M{
				"case": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{"$lk.matched_id", ""}}, ""}},
					bson.M{"$eq": bson.A{"$$m.unit_id", "$lk.matched_id"}},
				}},
				"then": bson.M{"$ifNull": bson.A{"$lk.similarity_score", 0.0}},
			},
			bson.M{
				"case": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{"$normalized.credit_code", ""}},
					bson.M{"$eq": bson.A{"$$m.normalized.credit_code", "$normalized.credit_code"}},
				}},
				"then": 1.0,
			},
			bson.M{
				"case": bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{"$normalized.name_canonical", ""}},
					bson.M{"$eq": bson.A{"$$m.normalized.name_canonical", "$normalized.name_canonical"}},
				}},
				"then": 1.0,
			},
		},
		"default": 0.0,
	}}

	sortBy := bson.D{
		{Key: "similarity_score", Value: -1},
		{Key: "inspection_time", Value: -1},
	}
	if strategy == models.StrategyHybrid {
		sortBy = append(bson.D{{Key: "is_building", Value: -1}}, sortBy...)
	}

	nonEmpty := func(field string) bson.M {
		return bson.M{"$cond": bson.A{
			bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{field, ""}}, ""}}, 1, 0,
		}}
	}
	// Consistency covers the logical fields a primary can expose: name,
	// credit code, address, legal rep, safety manager, phone. A field is
	// checked when non-empty on the primary (present), and agrees when its
	// comparable form equals every member's. Addresses compare through
	// normalized keyword sets; the safety manager has no normalized form
	// and compares raw. The identifier is excluded: members are distinct
	// records by construction.
	consistencyFields := []struct{ present, primary, member string }{
		{"$normalized.name_canonical", "$normalized.name_canonical", "$$m.normalized.name_canonical"},
		{"$normalized.credit_code", "$normalized.credit_code", "$$m.normalized.credit_code"},
		{"$address", "$normalized.address_keywords", "$$m.normalized.address_keywords"},
		{"$normalized.legal_rep", "$normalized.legal_rep", "$$m.normalized.legal_rep"},
		{"$safety_manager", "$safety_manager", "$$m.safety_manager"},
		{"$normalized.phone", "$normalized.phone", "$$m.normalized.phone"},
	}
	var consistencyChecked, consistencyAgreed bson.A
	for _, f := range consistencyFields {
		consistencyChecked = append(consistencyChecked, nonEmpty(f.present))
		consistencyAgreed = append(consistencyAgreed, bson.M{"$cond": bson.A{
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{f.present, ""}}, ""}},
				bson.M{"$allElementsTrue": bson.A{bson.M{"$map": bson.M{
					"input": "$members",
					"as":    "m",
					"in":    bson.M{"$eq": bson.A{f.member, f.primary}},
				}}}},
			}},
			1, 0,
		}})
	}

	return mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from":         CollLinkageResults,
			"localField":   "unit_id",
			"foreignField": "primary_id",
			"as":           "linkage",
		}}},
		{{Key: "$addFields", Value: bson.M{
			"lk": bson.M{"$arrayElemAt": bson.A{"$linkage", 0}},
		}}},
		{{Key: "$lookup", Value: bson.M{
			"from": CollSecondaryUnits,
			"let": bson.M{
				"mid": bson.M{"$ifNull": bson.A{"$lk.matched_id", ""}},
				"cc":  bson.M{"$ifNull": bson.A{"$normalized.credit_code", ""}},
				"nc":  bson.M{"$ifNull": bson.A{"$normalized.name_canonical", ""}},
				"bid": bson.M{"$ifNull": bson.A{"$building_id", ""}},
			},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{"$expr": bson.M{"$or": memberConds}}},
				bson.M{"$limit": 200},
			},
			"as": "members_raw",
		}}},
		{{Key: "$addFields", Value: bson.M{
			"members": bson.M{"$map": bson.M{
				"input": "$members_raw",
				"as":    "m",
				"in": bson.M{
					"secondary_id":     "$$m.unit_id",
					"name":             "$$m.name",
					"credit_code":      "$$m.credit_code",
					"address":          "$$m.address",
					"safety_manager":   bson.M{"$ifNull": bson.A{"$$m.safety_manager", ""}},
					"inspection_time":  "$$m.inspection_time",
					"match_type":       memberMatchType,
					"similarity_score": memberScore,
					"is_building": bson.M{"$and": bson.A{
						bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{"$building_id", ""}}, ""}},
						bson.M{"$eq": bson.A{"$$m.building_id", "$building_id"}},
					}},
					"normalized": "$$m.normalized",
				},
			}},
		}}},
		{{Key: "$match", Value: bson.M{"$expr": bson.M{"$gt": bson.A{bson.M{"$size": "$members"}, 0}}}}},
		{{Key: "$addFields", Value: bson.M{
			"members": bson.M{"$sortArray": bson.M{"input": "$members", "sortBy": sortBy}},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"confident_members": bson.M{"$filter": bson.M{
				"input": "$members",
				"as":    "m",
				"cond":  bson.M{"$gte": bson.A{"$$m.similarity_score", memberScoreFloor}},
			}},
			"field_completeness": bson.M{"$divide": bson.A{
				bson.M{"$add": bson.A{
					nonEmpty("$unit_id"),
					nonEmpty("$name"),
					nonEmpty("$credit_code"),
					nonEmpty("$address"),
					nonEmpty("$legal_rep"),
					nonEmpty("$safety_manager"),
					nonEmpty("$contact_phone"),
				}},
				7,
			}},
			"consistency_checked": bson.M{"$add": consistencyChecked},
			"consistency_agreed":  bson.M{"$add": consistencyAgreed},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"association_confidence": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{bson.M{"$size": "$confident_members"}, 0}},
				0.0,
				bson.M{"$round": bson.A{bson.M{"$avg": "$confident_members.similarity_score"}, 4}},
			}},
			"field_consistency": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$consistency_checked", 0}},
				0.0,
				bson.M{"$divide": bson.A{"$consistency_agreed", "$consistency_checked"}},
			}},
		}}},
		{{Key: "$project", Value: bson.M{
			"_id":            0,
			"association_id": bson.M{"$concat": bson.A{"$unit_id", "::", string(strategy)}},
			"primary_id":     "$unit_id",
			"primary": bson.M{
				"unit_id":        "$unit_id",
				"name":           "$name",
				"credit_code":    bson.M{"$ifNull": bson.A{"$credit_code", ""}},
				"address":        bson.M{"$ifNull": bson.A{"$address", ""}},
				"legal_rep":      bson.M{"$ifNull": bson.A{"$legal_rep", ""}},
				"safety_manager": bson.M{"$ifNull": bson.A{"$safety_manager", ""}},
				"contact_phone":  bson.M{"$ifNull": bson.A{"$contact_phone", ""}},
			},
			"associated_records": bson.M{"$map": bson.M{
				"input": "$members",
				"as":    "m",
				"in": bson.M{
					"secondary_id":     "$$m.secondary_id",
					"match_type":       "$$m.match_type",
					"similarity_score": "$$m.similarity_score",
					"name":             "$$m.name",
					"credit_code":      "$$m.credit_code",
					"address":          "$$m.address",
					"inspection_time":  "$$m.inspection_time",
				},
			}},
			"association_strategy":   string(strategy),
			"association_confidence": "$association_confidence",
			"data_quality_score": bson.M{"$round": bson.A{
				bson.M{"$add": bson.A{
					bson.M{"$multiply": bson.A{0.6, "$field_completeness"}},
					bson.M{"$multiply": bson.A{0.4, "$field_consistency"}},
				}},
				4,
			}},
			"unit_building_count": bson.M{"$size": bson.M{"$filter": bson.M{
				"input": "$members",
				"as":    "m",
				"cond":  "$$m.is_building",
			}}},
			"generated_at": "$$NOW",
		}}},
		{{Key: "$merge", Value: bson.M{
			"into":        CollEnhancedAssociations,
			"on":          "association_id",
			"whenMatched": "replace", "whenNotMatched": "insert",
		}}},
	}
}
