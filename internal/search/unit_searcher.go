// Package search provides the Meilisearch-backed name search used by the
// candidate prefilter.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
)

// UnitSearcher tìm kiếm full-text trên tên đơn vị qua Meilisearch. The
// prefilter uses it as its widest-recall stage; everything it returns is
// re-ranked and capped before scoring, so the index only needs to be
// reasonably fresh, not transactional with MongoDB.
type UnitSearcher struct {
	client    meilisearch.ServiceManager
	logger    *zap.Logger
	indexName string
	timeout   time.Duration
}

// SearchConfig cấu hình cho Meilisearch.
type SearchConfig struct {
	Host      string
	APIKey    string
	IndexName string
	Timeout   time.Duration
}

// unitDoc is the document shape stored in the search index. Only the fields
// the name search needs; the unit id is what the prefilter hydrates with.
type unitDoc struct {
	DocID         string `json:"doc_id"`
	UnitID        string `json:"unit_id"`
	Source        string `json:"source"`
	Name          string `json:"name"`
	NameCanonical string `json:"name_canonical"`
}

// NewUnitSearcher tạo mới UnitSearcher với Meilisearch client.
func NewUnitSearcher(config SearchConfig, logger *zap.Logger) (*UnitSearcher, error) {
	client := meilisearch.New(config.Host, meilisearch.WithAPIKey(config.APIKey))

	if _, err := client.Health(); err != nil {
		return nil, fmt.Errorf("không thể kết nối Meilisearch: %w", err)
	}

	return &UnitSearcher{
		client:    client,
		logger:    logger,
		indexName: config.IndexName,
		timeout:   config.Timeout,
	}, nil
}

// BuildIndexes configures the unit index: names searchable, source
// filterable. Safe to call on every startup.
func (us *UnitSearcher) BuildIndexes() error {
	idx := us.client.Index(us.indexName)

	if _, err := us.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        us.indexName,
		PrimaryKey: "doc_id",
	}); err != nil {
		// Index may already exist; settings update below is what matters.
		us.logger.Debug("create index skipped", zap.Error(err))
	}

	settings := meilisearch.Settings{
		SearchableAttributes: []string{"name", "name_canonical"},
		FilterableAttributes: []string{"source"},
		DisplayedAttributes:  []string{"doc_id", "unit_id", "source"},
	}
	if _, err := idx.UpdateSettings(&settings); err != nil {
		return fmt.Errorf("update index settings: %w", err)
	}
	return nil
}

// SearchNames returns unit ids of SECONDARY units whose name matches the
// query, best hits first, at most limit.
func (us *UnitSearcher) SearchNames(ctx context.Context, query string, limit int) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	idx := us.client.Index(us.indexName)
	req := &meilisearch.SearchRequest{
		Limit:  int64(limit),
		Filter: FilterSource(string(models.SourceSecondary)),
	}

	type result struct {
		resp *meilisearch.SearchResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := idx.Search(query, req)
		done <- result{resp, err}
	}()

	searchCtx := ctx
	if us.timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, us.timeout)
		defer cancel()
	}

	select {
	case <-searchCtx.Done():
		return nil, fmt.Errorf("name search: %w", searchCtx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("name search %q: %w", query, r.err)
		}
		ids := make([]string, 0, len(r.resp.Hits))
		for _, hit := range r.resp.Hits {
			doc, ok := hit.(map[string]interface{})
			if !ok {
				continue
			}
			if id, ok := doc["unit_id"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
}

// SeedUnits indexes a batch of units. Documents key on a sanitized doc id, so
// re-seeding replaces rather than duplicates.
func (us *UnitSearcher) SeedUnits(units []*models.Unit) error {
	if len(units) == 0 {
		return nil
	}
	docs := make([]unitDoc, 0, len(units))
	for _, u := range units {
		if u.UnitID == "" {
			continue
		}
		docs = append(docs, unitDoc{
			DocID:         SanitizeDocID(string(u.Source) + "-" + u.UnitID),
			UnitID:        u.UnitID,
			Source:        string(u.Source),
			Name:          u.Name,
			NameCanonical: u.Normalized.NameCanonical,
		})
	}

	idx := us.client.Index(us.indexName)
	if _, err := idx.AddDocuments(docs); err != nil {
		return fmt.Errorf("seed %d unit documents: %w", len(docs), err)
	}
	us.logger.Info("seeded search documents", zap.Int("count", len(docs)))
	return nil
}

// ClearIndex xóa toàn bộ documents trong index.
func (us *UnitSearcher) ClearIndex() error {
	idx := us.client.Index(us.indexName)
	if _, err := idx.DeleteAllDocuments(); err != nil {
		return fmt.Errorf("clear search index: %w", err)
	}
	return nil
}

// FilterSource creates a filter string restricting hits to one registry.
func FilterSource(source string) string {
	if source == "" {
		return ""
	}
	return fmt.Sprintf("source = %q", source)
}

// SanitizeDocID maps an arbitrary unit id onto Meilisearch's allowed document
// id alphabet (alphanumerics, hyphen, underscore).
func SanitizeDocID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
