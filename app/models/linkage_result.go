package models

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MatchType enum cho các chiến lược matching
type MatchType string

const (
	MatchTypeExactCreditCode   MatchType = "exact_credit_code"
	MatchTypeExactNameCanonical MatchType = "exact_name_canonical"
	MatchTypeFuzzyPrefiltered  MatchType = "fuzzy_prefiltered"
	MatchTypeFuzzyGlobal       MatchType = "fuzzy_global"
	MatchTypeGraphAssisted     MatchType = "graph_assisted"
	MatchTypeNone              MatchType = "none"
)

// MatchConfidence enum cho mức độ tin cậy
type MatchConfidence string

const (
	ConfidenceHigh   MatchConfidence = "high"
	ConfidenceMedium MatchConfidence = "medium"
	ConfidenceLow    MatchConfidence = "low"
	ConfidenceNone   MatchConfidence = "none"
)

// Review status constants
const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
)

// ReviewNoteTransient đánh dấu một none result do lỗi hạ tầng, không phải do
// dữ liệu. Transient results never replace a stored result and stay eligible
// for re-matching on later runs.
const ReviewNoteTransient = "transient error"

// MatchExplanation structured evidence for a match decision.
type MatchExplanation struct {
	Positive    []string           `bson:"positive" json:"positive"`
	Negative    []string           `bson:"negative" json:"negative"`
	FieldScores map[string]float64 `bson:"field_scores" json:"field_scores"`
}

// UnitSnapshot bản chụp của một unit tại thời điểm match.
// Kept flat so the result collection can be filtered field-by-field.
type UnitSnapshot struct {
	UnitID        string `bson:"unit_id" json:"unit_id"`
	Name          string `bson:"name" json:"name"`
	CreditCode    string `bson:"credit_code,omitempty" json:"credit_code,omitempty"`
	Address       string `bson:"address,omitempty" json:"address,omitempty"`
	LegalRep      string `bson:"legal_rep,omitempty" json:"legal_rep,omitempty"`
	SafetyManager string `bson:"safety_manager,omitempty" json:"safety_manager,omitempty"`
	ContactPhone  string `bson:"contact_phone,omitempty" json:"contact_phone,omitempty"`
}

// SnapshotOf copies the matchable fields of a unit.
func SnapshotOf(u *Unit) UnitSnapshot {
	if u == nil {
		return UnitSnapshot{}
	}
	return UnitSnapshot{
		UnitID:        u.UnitID,
		Name:          u.Name,
		CreditCode:    u.CreditCode,
		Address:       u.Address,
		LegalRep:      u.LegalRep,
		SafetyManager: u.SafetyManager,
		ContactPhone:  u.ContactPhone,
	}
}

// LinkageResult một record cho mỗi PRIMARY unit, bất kể kết quả.
type LinkageResult struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	MatchID string             `bson:"match_id" json:"match_id"`

	PrimaryID string       `bson:"primary_id" json:"primary_id"`
	Primary   UnitSnapshot `bson:"primary" json:"primary"`

	MatchedID string       `bson:"matched_id,omitempty" json:"matched_id,omitempty"`
	Matched   UnitSnapshot `bson:"matched,omitempty" json:"matched,omitempty"`

	MatchType       MatchType        `bson:"match_type" json:"match_type"`
	SimilarityScore float64          `bson:"similarity_score" json:"similarity_score"`
	MatchConfidence MatchConfidence  `bson:"match_confidence" json:"match_confidence"`
	Explanation     MatchExplanation `bson:"match_explanation" json:"match_explanation"`

	ReviewStatus    string     `bson:"review_status" json:"review_status"`
	ReviewNotes     string     `bson:"review_notes,omitempty" json:"review_notes,omitempty"`
	Reviewer        string     `bson:"reviewer,omitempty" json:"reviewer,omitempty"`
	ReviewTimestamp *time.Time `bson:"review_timestamp,omitempty" json:"review_timestamp,omitempty"`

	CreatedTime time.Time `bson:"created_time" json:"created_time"`
	UpdatedTime time.Time `bson:"updated_time" json:"updated_time"`
}

// MatchIDFor derives the stable match id: hash of primary_id + matched_id,
// with "NONE" standing in when there is no counterpart.
func MatchIDFor(primaryID, matchedID string) string {
	if matchedID == "" {
		matchedID = "NONE"
	}
	hash := sha256.Sum256([]byte(primaryID + "\x1F" + matchedID))
	return fmt.Sprintf("sha256:%x", hash)
}

// ConfidenceFor derives match_confidence từ type + score.
// Both deterministic types are high by construction; fuzzy and graph scores
// grade on the rounded similarity.
func ConfidenceFor(matchType MatchType, score float64) MatchConfidence {
	switch matchType {
	case MatchTypeExactCreditCode, MatchTypeExactNameCanonical:
		return ConfidenceHigh
	case MatchTypeNone:
		return ConfidenceNone
	}
	switch {
	case score >= 0.90:
		return ConfidenceHigh
	case score >= 0.75:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// IsValidMatchType kiểm tra match_type có hợp lệ không
func IsValidMatchType(mt MatchType) bool {
	switch mt {
	case MatchTypeExactCreditCode, MatchTypeExactNameCanonical,
		MatchTypeFuzzyPrefiltered, MatchTypeFuzzyGlobal,
		MatchTypeGraphAssisted, MatchTypeNone:
		return true
	}
	return false
}

// IsValidReviewStatus kiểm tra review status có hợp lệ không
func IsValidReviewStatus(status string) bool {
	switch status {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected:
		return true
	}
	return false
}

// CanTransitionReview validates a review-state transition. pending moves to
// either terminal state; terminal states may only return to pending by
// explicit request.
func CanTransitionReview(from, to string) bool {
	if !IsValidReviewStatus(from) || !IsValidReviewStatus(to) {
		return false
	}
	if from == to {
		return false
	}
	switch from {
	case ReviewStatusPending:
		return to == ReviewStatusApproved || to == ReviewStatusRejected
	case ReviewStatusApproved, ReviewStatusRejected:
		return to == ReviewStatusPending
	}
	return false
}

// SetReview applies a validated review transition, recording reviewer and
// timestamp. Returns false when the transition is not allowed.
func (lr *LinkageResult) SetReview(status, notes, reviewer string, now time.Time) bool {
	if !CanTransitionReview(lr.ReviewStatus, status) {
		return false
	}
	lr.ReviewStatus = status
	lr.ReviewNotes = notes
	lr.Reviewer = reviewer
	ts := now
	lr.ReviewTimestamp = &ts
	lr.UpdatedTime = now
	return true
}

// HasMatch báo cáo result có matched counterpart không.
func (lr *LinkageResult) HasMatch() bool {
	return lr.MatchType != MatchTypeNone && lr.MatchedID != ""
}

// IsTransient reports whether a none result was caused by infrastructure
// (candidate store down, per-record deadline) rather than by the data.
func (lr *LinkageResult) IsTransient() bool {
	if lr.MatchType != MatchTypeNone {
		return false
	}
	for _, n := range lr.Explanation.Negative {
		if strings.Contains(n, "candidate store unavailable") || strings.Contains(n, "match deadline exceeded") {
			return true
		}
	}
	return false
}
