package prefilter

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xrash/smetrics"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
)

// ErrStoreUnavailable reports that the candidate store could not be queried.
// The matcher converts it into a no-match result with negative evidence
// instead of failing the batch.
var ErrStoreUnavailable = errors.New("candidate store unavailable")

// Stage identifies which generation stage produced a candidate. Earlier
// stages are cheaper and more precise; dedupe keeps the first stage seen.
type Stage string

const (
	StageCreditCode    Stage = "credit_code"
	StageNameCanonical Stage = "name_canonical"
	StageNameSlice     Stage = "name_slice"
	StageTextSearch    Stage = "text_search"
	StageAddress       Stage = "address"
)

// Candidate một SECONDARY unit được đề cử cho fuzzy scoring.
type Candidate struct {
	Unit  *models.Unit
	Stage Stage
}

// SecondaryReader is the store surface the prefilter needs. Implemented by
// the mongo unit store; faked in tests.
type SecondaryReader interface {
	FindByCreditCode(ctx context.Context, code string) ([]*models.Unit, error)
	FindByNameCanonical(ctx context.Context, canonical string) ([]*models.Unit, error)
	FindByNameSlices(ctx context.Context, slices []string, limit int) ([]*models.Unit, error)
	FindByAddressKeywords(ctx context.Context, keywords []string, limit int) ([]*models.Unit, error)
	FindByIDs(ctx context.Context, ids []string) ([]*models.Unit, error)
}

// NameSearcher is the full-text surface, backed by the search index.
type NameSearcher interface {
	SearchNames(ctx context.Context, query string, limit int) ([]string, error)
}

// Config giới hạn của từng stage.
type Config struct {
	CandidateCap    int // K: overall cap
	TextSearchLimit int // T: full-text hits per query
	AddressCap      int // address-stage cap
}

// DefaultConfig mirrors the tuned production limits.
func DefaultConfig() Config {
	return Config{CandidateCap: 100, TextSearchLimit: 50, AddressCap: 30}
}

// Prefilter generates a bounded candidate set for one PRIMARY unit through
// five stages of decreasing precision. It never raises: a store failure
// surfaces as ErrStoreUnavailable for the caller to classify.
type Prefilter struct {
	reader   SecondaryReader
	searcher NameSearcher
	cfg      Config
	logger   *zap.Logger

	// sliceCache memoizes slice-key lookups across primaries in a batch;
	// adjacent records share leading bigrams heavily.
	sliceCache *lru.Cache[string, []string]
}

// NewPrefilter khởi tạo prefilter. searcher có thể nil khi search index
// không được bật; stage 4 bị bỏ qua khi đó.
func NewPrefilter(reader SecondaryReader, searcher NameSearcher, cfg Config, logger *zap.Logger) *Prefilter {
	cache, _ := lru.New[string, []string](4096)
	return &Prefilter{
		reader:     reader,
		searcher:   searcher,
		cfg:        cfg,
		logger:     logger,
		sliceCache: cache,
	}
}

// Candidates runs the staged generation for primary and returns at most
// CandidateCap deduplicated candidates in stage order.
func (p *Prefilter) Candidates(ctx context.Context, primary *models.Unit) ([]Candidate, error) {
	n := &primary.Normalized
	seen := make(map[string]struct{}, p.cfg.CandidateCap)
	var out []Candidate

	add := func(units []*models.Unit, stage Stage) {
		for _, u := range units {
			if len(out) >= p.cfg.CandidateCap {
				return
			}
			if u.UnitID == "" {
				continue
			}
			if _, dup := seen[u.UnitID]; dup {
				continue
			}
			seen[u.UnitID] = struct{}{}
			out = append(out, Candidate{Unit: u, Stage: stage})
		}
	}

	// Stage 1: exact credit code.
	if n.CreditCode != "" {
		units, err := p.reader.FindByCreditCode(ctx, n.CreditCode)
		if err != nil {
			return nil, fmt.Errorf("%w: credit code lookup: %v", ErrStoreUnavailable, err)
		}
		add(units, StageCreditCode)
	}

	// Stage 2: exact canonical name.
	if n.NameCanonical != "" {
		units, err := p.reader.FindByNameCanonical(ctx, n.NameCanonical)
		if err != nil {
			return nil, fmt.Errorf("%w: canonical name lookup: %v", ErrStoreUnavailable, err)
		}
		add(units, StageNameCanonical)
	}

	// Stage 3: name-slice blocking keys.
	if len(n.NameSlices) > 0 && len(out) < p.cfg.CandidateCap {
		units, err := p.sliceLookup(ctx, n.NameSlices)
		if err != nil {
			return nil, err
		}
		add(units, StageNameSlice)
	}

	// Stage 4: full-text search over indexed names, ranked by Jaro-Winkler
	// against the canonical name so the cap keeps the closest hits.
	if p.searcher != nil && n.NameCanonical != "" && len(out) < p.cfg.CandidateCap {
		ids, err := p.searcher.SearchNames(ctx, n.NameCanonical, p.cfg.TextSearchLimit)
		if err != nil {
			// Search index trouble degrades recall, not correctness.
			p.logger.Warn("text search stage skipped", zap.Error(err))
		} else if len(ids) > 0 {
			units, err := p.reader.FindByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("%w: text search hydrate: %v", ErrStoreUnavailable, err)
			}
			rankByName(units, n.NameCanonical)
			add(units, StageTextSearch)
		}
	}

	// Stage 5: address keywords, only when name stages came up thin.
	if len(n.AddressKeywords) > 0 && len(out) < p.cfg.CandidateCap/2 {
		units, err := p.reader.FindByAddressKeywords(ctx, n.AddressKeywords, p.cfg.AddressCap)
		if err != nil {
			return nil, fmt.Errorf("%w: address keyword lookup: %v", ErrStoreUnavailable, err)
		}
		add(units, StageAddress)
	}

	return out, nil
}

func (p *Prefilter) sliceLookup(ctx context.Context, slices []string) ([]*models.Unit, error) {
	key := sliceCacheKey(slices)
	if ids, ok := p.sliceCache.Get(key); ok {
		units, err := p.reader.FindByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: slice hydrate: %v", ErrStoreUnavailable, err)
		}
		return units, nil
	}

	units, err := p.reader.FindByNameSlices(ctx, slices, p.cfg.CandidateCap)
	if err != nil {
		return nil, fmt.Errorf("%w: name slice lookup: %v", ErrStoreUnavailable, err)
	}
	ids := make([]string, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.UnitID)
	}
	p.sliceCache.Add(key, ids)
	return units, nil
}

func sliceCacheKey(slices []string) string {
	// Slices are ordered by ascending k, the longest is the most specific
	// and subsumes the shorter prefixes.
	return slices[len(slices)-1]
}

// rankByName orders units by descending Jaro-Winkler similarity of their
// canonical name against the query, stable on unit id for determinism.
func rankByName(units []*models.Unit, query string) {
	type scored struct {
		u *models.Unit
		s float64
	}
	scoredUnits := make([]scored, len(units))
	for i, u := range units {
		scoredUnits[i] = scored{u: u, s: smetrics.JaroWinkler(query, u.Normalized.NameCanonical, 0.7, 4)}
	}
	// Insertion sort keeps it stable; candidate lists are <= T entries.
	for i := 1; i < len(scoredUnits); i++ {
		for j := i; j > 0; j-- {
			a, b := scoredUnits[j-1], scoredUnits[j]
			if a.s > b.s || (a.s == b.s && a.u.UnitID <= b.u.UnitID) {
				break
			}
			scoredUnits[j-1], scoredUnits[j] = b, a
		}
	}
	for i, su := range scoredUnits {
		units[i] = su.u
	}
}
