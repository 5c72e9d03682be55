package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
)

const CollLinkageResults = "linkage_results"

// Store-level sentinel errors. The service layer maps them onto the API
// error codes.
var (
	ErrNotFound          = errors.New("linkage result not found")
	ErrStaleReview       = errors.New("review conflicts with a concurrent update")
	ErrInvalidTransition = errors.New("invalid review-status transition")
)

// UpsertReport số liệu của một bulk upsert.
type UpsertReport struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
	Inserted int64 `json:"inserted"`
}

// ResultListFilter các bộ lọc tùy chọn cho danh sách kết quả.
type ResultListFilter struct {
	MatchType    string
	ReviewStatus string
	NameQuery    string
	Page         int
	PageSize     int
}

// ResultStore is the linkage-result adapter: one canonical document per
// primary_id, replaced on re-runs, never duplicated. Review writes go through
// a compare-and-set on updated_time so a task flush and a human review never
// silently overwrite each other.
type ResultStore struct {
	coll    *mongo.Collection
	primary *mongo.Collection
	indexes *indexRegistry
	logger  *zap.Logger
}

// NewResultStore khởi tạo store và tạo index set cho linkage_results.
func NewResultStore(db *mongo.Database, logger *zap.Logger) (*ResultStore, error) {
	s := &ResultStore{
		coll:    db.Collection(CollLinkageResults),
		primary: db.Collection(CollPrimaryUnits),
		indexes: newIndexRegistry(),
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resultIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "primary_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_result_primary_id"),
		},
		{
			Keys:    bson.D{{Key: "matched_id", Value: 1}},
			Options: options.Index().SetName("idx_result_matched_id"),
		},
		{
			Keys:    bson.D{{Key: "match_type", Value: 1}},
			Options: options.Index().SetName("idx_result_match_type"),
		},
		{
			Keys:    bson.D{{Key: "similarity_score", Value: -1}},
			Options: options.Index().SetName("idx_result_similarity_desc"),
		},
		{
			Keys:    bson.D{{Key: "created_time", Value: -1}},
			Options: options.Index().SetName("idx_result_created_desc"),
		},
		{
			Keys:    bson.D{{Key: "primary_id", Value: 1}, {Key: "match_type", Value: 1}},
			Options: options.Index().SetName("idx_result_primary_match_type"),
		},
		{
			Keys:    bson.D{{Key: "matched_id", Value: 1}, {Key: "similarity_score", Value: -1}},
			Options: options.Index().SetName("idx_result_matched_similarity"),
		},
		{
			Keys:    bson.D{{Key: "match_id", Value: 1}},
			Options: options.Index().SetName("idx_result_match_id"),
		},
		{
			Keys:    bson.D{{Key: "review_status", Value: 1}},
			Options: options.Index().SetName("idx_result_review_status"),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, resultIndexes); err != nil {
		return nil, fmt.Errorf("create indexes for %s: %w", CollLinkageResults, err)
	}
	for _, idx := range resultIndexes {
		s.indexes.declare(*idx.Options.Name)
	}

	logger.Info("result store ready", zap.Int("declared_indexes", len(resultIndexes)))
	return s, nil
}

// BulkUpsert flushes one page of results in a single batch, at most one write
// per primary_id. Review fields and created_time survive re-runs: the update
// sets everything the matcher computed and only seeds review defaults on
// insert, so an approved result keeps its review trail across update mode.
// Transient results are insert-only and never touch a stored result.
func (s *ResultStore) BulkUpsert(ctx context.Context, results []*models.LinkageResult) (*UpsertReport, error) {
	if len(results) == 0 {
		return &UpsertReport{}, nil
	}
	if err := s.indexes.require("idx_result_primary_id"); err != nil {
		return nil, err
	}

	writes := buildResultWriteModels(results, time.Now())
	res, err := s.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return nil, fmt.Errorf("bulk upsert linkage results: %w", err)
	}
	return &UpsertReport{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
		Inserted: res.UpsertedCount,
	}, nil
}

// buildResultWriteModels translates one page into upsert models, deduplicated
// by primary_id. A record that errored during matching (a transient none)
// must leave an existing result unchanged, so its whole document goes under
// $setOnInsert: created when the primary has no result yet, a no-op
// otherwise.
func buildResultWriteModels(results []*models.LinkageResult, now time.Time) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, dup := seen[r.PrimaryID]; dup {
			continue
		}
		seen[r.PrimaryID] = struct{}{}

		set := bson.M{
			"match_id":          r.MatchID,
			"primary_id":        r.PrimaryID,
			"primary":           r.Primary,
			"matched_id":        r.MatchedID,
			"matched":           r.Matched,
			"match_type":        r.MatchType,
			"similarity_score":  r.SimilarityScore,
			"match_confidence":  r.MatchConfidence,
			"match_explanation": r.Explanation,
			"updated_time":      now,
		}
		setOnInsert := bson.M{
			"created_time":  now,
			"review_status": models.ReviewStatusPending,
			"review_notes":  r.ReviewNotes,
		}

		var update bson.M
		if r.IsTransient() {
			insert := make(bson.M, len(set)+len(setOnInsert))
			for k, v := range set {
				insert[k] = v
			}
			for k, v := range setOnInsert {
				insert[k] = v
			}
			update = bson.M{"$setOnInsert": insert}
		} else {
			update = bson.M{"$set": set, "$setOnInsert": setOnInsert}
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"primary_id": r.PrimaryID}).
			SetUpdate(update).
			SetUpsert(true))
	}
	return writes
}

// Get đọc một result theo primary_id.
func (s *ResultStore) Get(ctx context.Context, primaryID string) (*models.LinkageResult, error) {
	if err := s.indexes.require("idx_result_primary_id"); err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{"primary_id": primaryID})
}

// GetByMatchID đọc một result theo match_id.
func (s *ResultStore) GetByMatchID(ctx context.Context, matchID string) (*models.LinkageResult, error) {
	if err := s.indexes.require("idx_result_match_id"); err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{"match_id": matchID})
}

func (s *ResultStore) findOne(ctx context.Context, filter bson.M) (*models.LinkageResult, error) {
	var result models.LinkageResult
	err := s.coll.FindOne(ctx, filter).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find linkage result: %w", err)
	}
	return &result, nil
}

// SetReview applies a review transition with optimistic concurrency: the
// update filter pins updated_time to the value read, so a task flush that
// lands in between makes the write miss and the caller re-reads.
func (s *ResultStore) SetReview(ctx context.Context, matchID, status, notes, reviewer string) (*models.LinkageResult, error) {
	current, err := s.GetByMatchID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionReview(current.ReviewStatus, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.ReviewStatus, status)
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"review_status":    status,
		"review_notes":     notes,
		"reviewer":         reviewer,
		"review_timestamp": now,
		"updated_time":     now,
	}}
	filter := bson.M{"match_id": matchID, "updated_time": current.UpdatedTime}

	after := options.After
	var updated models.LinkageResult
	err = s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// The document exists but updated_time moved under us.
		return nil, ErrStaleReview
	}
	if err != nil {
		return nil, fmt.Errorf("set review for %s: %w", matchID, err)
	}
	return &updated, nil
}

// ClearAll deletes every linkage result. Only full-mode tasks call this.
func (s *ResultStore) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear linkage results: %w", err)
	}
	s.logger.Info("cleared linkage results", zap.Int64("deleted", res.DeletedCount))
	return res.DeletedCount, nil
}

// List trả về một trang kết quả theo bộ lọc, mới nhất trước.
func (s *ResultStore) List(ctx context.Context, filter ResultListFilter) ([]*models.LinkageResult, int64, error) {
	if err := s.indexes.require("idx_result_created_desc"); err != nil {
		return nil, 0, err
	}
	query := buildResultListQuery(filter)

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count linkage results: %w", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_time", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list linkage results: %w", err)
	}
	defer cur.Close(ctx)

	var results []*models.LinkageResult
	if err := cur.All(ctx, &results); err != nil {
		return nil, 0, fmt.Errorf("decode linkage results: %w", err)
	}
	return results, total, nil
}

// buildResultListQuery translates the optional filters into a mongo query.
// The free-text name filter matches either side's snapshot name.
func buildResultListQuery(filter ResultListFilter) bson.M {
	query := bson.M{}
	if filter.MatchType != "" {
		query["match_type"] = filter.MatchType
	}
	if filter.ReviewStatus != "" {
		query["review_status"] = filter.ReviewStatus
	}
	if filter.NameQuery != "" {
		pattern := regexp.QuoteMeta(filter.NameQuery)
		query["$or"] = bson.A{
			bson.M{"primary.name": bson.M{"$regex": pattern}},
			bson.M{"matched.name": bson.M{"$regex": pattern}},
		}
	}
	return query
}

// transientResultFilter matches results that came out of an infrastructure
// failure. They do not settle a primary: incremental runs re-match them.
func transientResultFilter() bson.M {
	return bson.M{
		"match_type":   models.MatchTypeNone,
		"review_notes": models.ReviewNoteTransient,
	}
}

// settledResultFilter matches results that settle the given primaries, which
// is every stored result except a transient none.
func settledResultFilter(ids []string) bson.M {
	return bson.M{
		"primary_id": bson.M{"$in": ids},
		"$nor":       bson.A{transientResultFilter()},
	}
}

// ExistingPrimaryIDs reports which of the given primary ids already carry a
// settled result. Incremental tasks use it to skip a page's known records in
// one round trip; transient records are reported as missing so the routine
// mode retries them.
func (s *ResultStore) ExistingPrimaryIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}
	if err := s.indexes.require("idx_result_primary_id"); err != nil {
		return nil, err
	}
	cur, err := s.coll.Find(ctx, settledResultFilter(ids),
		options.Find().SetProjection(bson.M{"primary_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("existing primary ids: %w", err)
	}
	defer cur.Close(ctx)

	existing := make(map[string]struct{}, len(ids))
	for cur.Next(ctx) {
		var doc struct {
			PrimaryID string `bson:"primary_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode primary id: %w", err)
		}
		existing[doc.PrimaryID] = struct{}{}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("existing primary ids cursor: %w", err)
	}
	return existing, nil
}

// CountResults đếm tổng số linkage results.
func (s *ResultStore) CountResults(ctx context.Context) (int64, error) {
	return s.coll.EstimatedDocumentCount(ctx)
}

// unresolvedPrimariesPipeline counts primary units an incremental run still
// has to match: no linkage result at all, or only a transient one.
func unresolvedPrimariesPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from":         CollLinkageResults,
			"localField":   "unit_id",
			"foreignField": "primary_id",
			"as":           "linkage",
		}}},
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"linkage": bson.M{"$size": 0}},
			bson.M{"linkage": bson.M{"$elemMatch": transientResultFilter()}},
		}}}},
		{{Key: "$count", Value: "unmatched"}},
	}
}

// CountPrimariesWithoutResult counts primary units that have no settled
// linkage result yet: the input-set size of an incremental task. Computed
// server-side so the snapshot stays one aggregation, not a client-side diff.
func (s *ResultStore) CountPrimariesWithoutResult(ctx context.Context) (int64, error) {
	cur, err := s.primary.Aggregate(ctx, unresolvedPrimariesPipeline())
	if err != nil {
		return 0, fmt.Errorf("count unmatched primaries: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Unmatched int64 `bson:"unmatched"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode unmatched count: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Unmatched, nil
}

// MatchStatistics các bộ đếm phục vụ dashboard.
type MatchStatistics struct {
	Total          int64            `json:"total"`
	ByMatchType    map[string]int64 `json:"by_match_type"`
	ByConfidence   map[string]int64 `json:"by_confidence"`
	ByReviewStatus map[string]int64 `json:"by_review_status"`
}

// Statistics groups the result collection three ways in one $facet pass.
func (s *ResultStore) Statistics(ctx context.Context) (*MatchStatistics, error) {
	groupBy := func(field string) bson.A {
		return bson.A{
			bson.M{"$group": bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}},
		}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$facet", Value: bson.M{
			"by_match_type":    groupBy("match_type"),
			"by_confidence":    groupBy("match_confidence"),
			"by_review_status": groupBy("review_status"),
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("match statistics: %w", err)
	}
	defer cur.Close(ctx)

	type bucket struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	var facets []struct {
		ByMatchType    []bucket `bson:"by_match_type"`
		ByConfidence   []bucket `bson:"by_confidence"`
		ByReviewStatus []bucket `bson:"by_review_status"`
	}
	if err := cur.All(ctx, &facets); err != nil {
		return nil, fmt.Errorf("decode match statistics: %w", err)
	}

	stats := &MatchStatistics{
		ByMatchType:    map[string]int64{},
		ByConfidence:   map[string]int64{},
		ByReviewStatus: map[string]int64{},
	}
	if len(facets) == 0 {
		return stats, nil
	}
	for _, b := range facets[0].ByMatchType {
		stats.ByMatchType[b.ID] = b.Count
		stats.Total += b.Count
	}
	for _, b := range facets[0].ByConfidence {
		stats.ByConfidence[b.ID] = b.Count
	}
	for _, b := range facets[0].ByReviewStatus {
		stats.ByReviewStatus[b.ID] = b.Count
	}
	return stats, nil
}
