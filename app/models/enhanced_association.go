package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssociationStrategy enum cho các chiến lược gom nhóm 1:N
type AssociationStrategy string

const (
	StrategyBuildingBased AssociationStrategy = "building_based"
	StrategyUnitBased     AssociationStrategy = "unit_based"
	StrategyHybrid        AssociationStrategy = "hybrid"
)

// IsValidStrategy kiểm tra strategy có hợp lệ không
func IsValidStrategy(s AssociationStrategy) bool {
	switch s {
	case StrategyBuildingBased, StrategyUnitBased, StrategyHybrid:
		return true
	}
	return false
}

// AssociatedRecord một SECONDARY record trong nhóm, ordered by descending
// similarity with ties broken by most-recent inspection time.
type AssociatedRecord struct {
	SecondaryID     string     `bson:"secondary_id" json:"secondary_id"`
	MatchType       MatchType  `bson:"match_type" json:"match_type"`
	SimilarityScore float64    `bson:"similarity_score" json:"similarity_score"`
	Name            string     `bson:"name" json:"name"`
	CreditCode      string     `bson:"credit_code,omitempty" json:"credit_code,omitempty"`
	Address         string     `bson:"address,omitempty" json:"address,omitempty"`
	InspectionTime  *time.Time `bson:"inspection_time,omitempty" json:"inspection_time,omitempty"`
}

// EnhancedAssociation 1:N grouping của SECONDARY records dưới một PRIMARY.
// Derived data: regenerated wholesale per request, upserted on AssociationID.
type EnhancedAssociation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	AssociationID string             `bson:"association_id" json:"association_id"`

	PrimaryID string       `bson:"primary_id" json:"primary_id"`
	Primary   UnitSnapshot `bson:"primary" json:"primary"`

	AssociatedRecords []AssociatedRecord  `bson:"associated_records" json:"associated_records"`
	Strategy          AssociationStrategy `bson:"association_strategy" json:"association_strategy"`

	AssociationConfidence float64 `bson:"association_confidence" json:"association_confidence"`
	DataQualityScore      float64 `bson:"data_quality_score" json:"data_quality_score"`
	UnitBuildingCount     int     `bson:"unit_building_count" json:"unit_building_count"`

	GeneratedAt time.Time `bson:"generated_at" json:"generated_at"`
}

// AssociationIDFor derives the stable association id from primary id and
// strategy. The derivation must be expressible inside the aggregation
// pipeline that generates the documents, so it is a plain concatenation
// rather than a digest.
func AssociationIDFor(primaryID string, strategy AssociationStrategy) string {
	return primaryID + "::" + string(strategy)
}
