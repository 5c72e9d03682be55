package store

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/unit-linkage/app/models"
)

func transientNoneResult(primaryID string) *models.LinkageResult {
	return &models.LinkageResult{
		MatchID:   models.MatchIDFor(primaryID, ""),
		PrimaryID: primaryID,
		MatchType: models.MatchTypeNone,
		Explanation: models.MatchExplanation{
			Negative: []string{"candidate store unavailable: connection reset"},
		},
		ReviewNotes: models.ReviewNoteTransient,
	}
}

func updateDoc(t *testing.T, wm mongo.WriteModel) bson.M {
	t.Helper()
	m, ok := wm.(*mongo.UpdateOneModel)
	if !ok {
		t.Fatalf("write model is %T, want *mongo.UpdateOneModel", wm)
	}
	doc, ok := m.Update.(bson.M)
	if !ok {
		t.Fatalf("update document is %T, want bson.M", m.Update)
	}
	return doc
}

func TestResultWriteModelsReplaceSettledResult(t *testing.T) {
	r := &models.LinkageResult{
		MatchID:         models.MatchIDFor("p-001", "s-001"),
		PrimaryID:       "p-001",
		MatchedID:       "s-001",
		MatchType:       models.MatchTypeFuzzyPrefiltered,
		SimilarityScore: 0.91,
	}
	writes := buildResultWriteModels([]*models.LinkageResult{r}, time.Now())
	if len(writes) != 1 {
		t.Fatalf("got %d write models, want 1", len(writes))
	}

	doc := updateDoc(t, writes[0])
	set, ok := doc["$set"].(bson.M)
	if !ok {
		t.Fatal("settled result must replace through $set")
	}
	if set["match_type"] != models.MatchTypeFuzzyPrefiltered || set["matched_id"] != "s-001" {
		t.Errorf("$set fields wrong: %v", set)
	}
	onInsert, ok := doc["$setOnInsert"].(bson.M)
	if !ok {
		t.Fatal("missing $setOnInsert")
	}
	if onInsert["review_status"] != models.ReviewStatusPending {
		t.Errorf("review defaults not seeded on insert: %v", onInsert)
	}
	if _, ok := onInsert["created_time"]; !ok {
		t.Error("created_time not seeded on insert")
	}
}

// A record that errors during matching must never overwrite a stored result:
// its document is written insert-only, so an update-mode re-run with a
// transient blip keeps the previously good match.
func TestResultWriteModelsTransientInsertOnly(t *testing.T) {
	writes := buildResultWriteModels([]*models.LinkageResult{transientNoneResult("p-001")}, time.Now())
	if len(writes) != 1 {
		t.Fatalf("got %d write models, want 1", len(writes))
	}

	doc := updateDoc(t, writes[0])
	if _, ok := doc["$set"]; ok {
		t.Fatal("transient result must not carry a replacing $set")
	}
	insert, ok := doc["$setOnInsert"].(bson.M)
	if !ok {
		t.Fatal("transient result must be written through $setOnInsert")
	}
	if insert["match_type"] != models.MatchTypeNone {
		t.Errorf("match_type = %v, want none", insert["match_type"])
	}
	if insert["review_notes"] != models.ReviewNoteTransient {
		t.Errorf("review_notes = %v, want %q", insert["review_notes"], models.ReviewNoteTransient)
	}
	if _, ok := insert["created_time"]; !ok {
		t.Error("created_time missing from insert-only document")
	}
}

func TestResultWriteModelsDeduplicateByPrimary(t *testing.T) {
	rs := []*models.LinkageResult{
		{PrimaryID: "p-001", MatchType: models.MatchTypeExactCreditCode},
		{PrimaryID: "p-001", MatchType: models.MatchTypeNone},
		{PrimaryID: "p-002", MatchType: models.MatchTypeNone},
	}
	writes := buildResultWriteModels(rs, time.Now())
	if len(writes) != 2 {
		t.Fatalf("got %d write models, want 2 (one per primary_id)", len(writes))
	}
}

// Transient records do not settle a primary: the incremental skip filter must
// leave them out so the routine mode retries them.
func TestSettledResultFilterExcludesTransient(t *testing.T) {
	q := settledResultFilter([]string{"p-001", "p-002"})

	nor, ok := q["$nor"].(bson.A)
	if !ok || len(nor) != 1 {
		t.Fatalf("filter missing the transient exclusion: %v", q)
	}
	cond, ok := nor[0].(bson.M)
	if !ok {
		t.Fatalf("$nor clause is %T", nor[0])
	}
	if cond["match_type"] != models.MatchTypeNone || cond["review_notes"] != models.ReviewNoteTransient {
		t.Errorf("transient exclusion = %v", cond)
	}
	if _, ok := q["primary_id"]; !ok {
		t.Error("filter must still restrict to the page's primary ids")
	}
}

func TestUnresolvedPrimariesIncludeTransient(t *testing.T) {
	p := unresolvedPrimariesPipeline()
	if len(p) != 3 || p[1][0].Key != "$match" {
		t.Fatalf("unexpected pipeline shape: %v", p)
	}

	or, ok := p[1][0].Value.(bson.M)["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("$match must accept missing or transient linkage: %v", p[1][0].Value)
	}
	elem := or[1].(bson.M)["linkage"].(bson.M)["$elemMatch"].(bson.M)
	if elem["match_type"] != models.MatchTypeNone || elem["review_notes"] != models.ReviewNoteTransient {
		t.Errorf("transient branch = %v", elem)
	}
}
