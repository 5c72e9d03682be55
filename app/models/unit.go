package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SourceKind phân loại nguồn dữ liệu — kept as a plain string so it survives
// bson round-trips unchanged.
type SourceKind string

const (
	SourcePrimary   SourceKind = "primary"   // hazard-inspection registry
	SourceSecondary SourceKind = "secondary" // supervisory registry
)

// Unit is the logical business-unit record shared by both registries.
// Identifier fields (UnitID, CreditCode) are strings end-to-end; ingestion
// refuses to decode them from numeric bson values to avoid the float
// precision loss the source systems have suffered.
type Unit struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	UnitID    string             `bson:"unit_id" json:"unit_id"`
	Source    SourceKind         `bson:"source" json:"source"`
	Name      string             `bson:"name" json:"name"`
	CreditCode string            `bson:"credit_code,omitempty" json:"credit_code,omitempty"`
	Address   string             `bson:"address,omitempty" json:"address,omitempty"`
	LegalRep  string             `bson:"legal_rep,omitempty" json:"legal_rep,omitempty"`
	SafetyManager string         `bson:"safety_manager,omitempty" json:"safety_manager,omitempty"`
	ContactPhone  string         `bson:"contact_phone,omitempty" json:"contact_phone,omitempty"`
	BuildingID    string         `bson:"building_id,omitempty" json:"building_id,omitempty"`
	InspectionTime *time.Time    `bson:"inspection_time,omitempty" json:"inspection_time,omitempty"`

	// Derived fields cached alongside the snapshot so the prefilter can hit
	// them through indexes without recomputing per query.
	Normalized NormalizedUnit `bson:"normalized" json:"normalized"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NormalizedUnit chứa các trường chuẩn hóa dùng cho matching.
type NormalizedUnit struct {
	NameCanonical   string   `bson:"name_canonical" json:"name_canonical"`
	NameCore        string   `bson:"name_core" json:"name_core"`
	NameSlices      []string `bson:"name_slices,omitempty" json:"name_slices,omitempty"`
	NameTokens      []string `bson:"name_tokens,omitempty" json:"name_tokens,omitempty"`
	CreditCode      string   `bson:"credit_code,omitempty" json:"credit_code,omitempty"`
	AddressTokens   []string `bson:"address_tokens,omitempty" json:"address_tokens,omitempty"`
	AddressKeywords []string `bson:"address_keywords,omitempty" json:"address_keywords,omitempty"`
	Phone           string   `bson:"phone,omitempty" json:"phone,omitempty"`
	LegalRep        string   `bson:"legal_rep,omitempty" json:"legal_rep,omitempty"`
}

// IsMatchable báo cáo record có đủ trường định danh để matching không.
// A unit with neither a canonical name nor a credit code can never match.
func (u *Unit) IsMatchable() bool {
	return u.Normalized.NameCanonical != "" || u.Normalized.CreditCode != ""
}
