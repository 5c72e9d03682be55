package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/internal/prefilter"
	"github.com/unit-linkage/internal/similarity"
)

// Composite weights and thresholds of the fuzzy layers. Tuned values live in
// the app config; these are the fallbacks.
type Config struct {
	Theta1           float64 `yaml:"theta1"`              // fuzzy acceptance threshold
	Theta2           float64 `yaml:"theta2"`              // graph-assisted acceptance threshold
	NameCoreHardGate float64 `yaml:"name_core_hard_gate"` // minimum core-name similarity for fuzzy
	GraphNameFloor   float64 `yaml:"graph_name_floor"`    // relaxed core-name floor for graph layer

	NameWeight     float64 `yaml:"name_weight"`
	AddressWeight  float64 `yaml:"address_weight"`
	LegalRepWeight float64 `yaml:"legal_rep_weight"`
	PhoneWeight    float64 `yaml:"phone_weight"`
}

// DefaultConfig các ngưỡng mặc định của pipeline.
func DefaultConfig() Config {
	return Config{
		Theta1:           0.75,
		Theta2:           0.70,
		NameCoreHardGate: 0.70,
		GraphNameFloor:   0.60,
		NameWeight:       0.55,
		AddressWeight:    0.25,
		LegalRepWeight:   0.10,
		PhoneWeight:      0.10,
	}
}

// Outcome is the decision for one PRIMARY unit. Matched is nil when
// Type == MatchTypeNone.
type Outcome struct {
	Matched     *models.Unit
	Type        models.MatchType
	Score       float64
	Explanation models.MatchExplanation
}

// LayeredMatcher runs the four-layer decision pipeline over the candidate
// set of one primary. Layers short-circuit: the first deterministic hit wins.
type LayeredMatcher struct {
	pre     *prefilter.Prefilter
	kernels *similarity.Kernels
	cfg     Config
	logger  *zap.Logger
}

// NewLayeredMatcher khởi tạo matcher.
func NewLayeredMatcher(pre *prefilter.Prefilter, kernels *similarity.Kernels, cfg Config, logger *zap.Logger) *LayeredMatcher {
	return &LayeredMatcher{pre: pre, kernels: kernels, cfg: cfg, logger: logger}
}

// Match decides the best counterpart for primary. It never returns an error
// for data-shaped problems; only a cancelled parent context aborts it.
func (m *LayeredMatcher) Match(ctx context.Context, primary *models.Unit) Outcome {
	return m.MatchLayers(ctx, primary, nil)
}

// layerEnabled reports whether a layer's match type is in the selection. An
// empty selection enables every layer.
func layerEnabled(layers []models.MatchType, types ...models.MatchType) bool {
	if len(layers) == 0 {
		return true
	}
	for _, l := range layers {
		for _, t := range types {
			if l == t {
				return true
			}
		}
	}
	return false
}

// MatchLayers runs only the layers whose match types are selected; an empty
// selection runs all four. The fuzzy layer answers to both of its reported
// types.
func (m *LayeredMatcher) MatchLayers(ctx context.Context, primary *models.Unit, layers []models.MatchType) Outcome {
	if !primary.IsMatchable() {
		return noMatch("primary record has no identifying fields")
	}

	candidates, err := m.pre.Candidates(ctx, primary)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return noMatch("match deadline exceeded")
		}
		m.logger.Warn("candidate generation failed",
			zap.String("primary_id", primary.UnitID), zap.Error(err))
		return noMatch("candidate store unavailable")
	}
	if len(candidates) == 0 {
		return noMatch("no candidates generated")
	}
	if ctx.Err() != nil {
		return noMatch("match deadline exceeded")
	}

	if layerEnabled(layers, models.MatchTypeExactCreditCode) {
		if out, ok := m.matchCreditCode(primary, candidates); ok {
			return out
		}
	}
	if layerEnabled(layers, models.MatchTypeExactNameCanonical) {
		if out, ok := m.matchNameCanonical(primary, candidates); ok {
			return out
		}
	}

	scored := m.scoreCandidates(primary, candidates)
	if layerEnabled(layers, models.MatchTypeFuzzyPrefiltered, models.MatchTypeFuzzyGlobal) {
		if out, ok := m.matchFuzzy(candidates, scored); ok {
			return out
		}
	}
	if layerEnabled(layers, models.MatchTypeGraphAssisted) {
		if out, ok := m.matchGraph(primary, candidates, scored); ok {
			return out
		}
	}

	allGated := true
	for i := range scored {
		if !scored[i].gated {
			allGated = false
			break
		}
	}
	if allGated {
		return noMatch(fmt.Sprintf("name_core below hard gate %.2f", m.cfg.NameCoreHardGate))
	}
	return noMatch("no candidate above threshold")
}

// matchCreditCode is the first layer: exact normalized credit code. Ties
// break on the lexicographically smallest secondary id.
func (m *LayeredMatcher) matchCreditCode(primary *models.Unit, candidates []prefilter.Candidate) (Outcome, bool) {
	code := primary.Normalized.CreditCode
	if code == "" {
		return Outcome{}, false
	}
	var best *models.Unit
	for _, c := range candidates {
		if c.Unit.Normalized.CreditCode != code {
			continue
		}
		if best == nil || c.Unit.UnitID < best.UnitID {
			best = c.Unit
		}
	}
	if best == nil {
		return Outcome{}, false
	}
	return Outcome{
		Matched: best,
		Type:    models.MatchTypeExactCreditCode,
		Score:   1.0,
		Explanation: models.MatchExplanation{
			Positive:    []string{"credit codes equal"},
			FieldScores: map[string]float64{"credit_code": 1.0},
		},
	}, true
}

// matchNameCanonical is the second layer: exact canonical name. Ties break
// on the highest address similarity, then the smallest secondary id.
func (m *LayeredMatcher) matchNameCanonical(primary *models.Unit, candidates []prefilter.Candidate) (Outcome, bool) {
	canonical := primary.Normalized.NameCanonical
	if canonical == "" {
		return Outcome{}, false
	}
	var best *models.Unit
	bestAddr := -1.0
	for _, c := range candidates {
		if c.Unit.Normalized.NameCanonical != canonical {
			continue
		}
		addr := m.kernels.Address(primary.Address, c.Unit.Address)
		if best == nil || addr > bestAddr || (addr == bestAddr && c.Unit.UnitID < best.UnitID) {
			best = c.Unit
			bestAddr = addr
		}
	}
	if best == nil {
		return Outcome{}, false
	}
	return Outcome{
		Matched: best,
		Type:    models.MatchTypeExactNameCanonical,
		Score:   1.0,
		Explanation: models.MatchExplanation{
			Positive:    []string{"canonical names equal"},
			FieldScores: map[string]float64{"name": 1.0, "address": similarity.Round4(bestAddr)},
		},
	}, true
}

type candidateScore struct {
	composite float64
	name      float64
	nameCore  float64
	address   float64
	legalRep  float64
	phone     float64
	gated     bool
}

func (m *LayeredMatcher) scoreCandidates(primary *models.Unit, candidates []prefilter.Candidate) []candidateScore {
	pn := &primary.Normalized
	scored := make([]candidateScore, len(candidates))
	for i, c := range candidates {
		cn := &c.Unit.Normalized
		s := candidateScore{
			name:     m.kernels.Name(pn.NameCanonical, pn.NameCore, cn.NameCanonical, cn.NameCore),
			nameCore: similarity.EditSimilarity(pn.NameCore, cn.NameCore),
			address:  m.kernels.Address(primary.Address, c.Unit.Address),
			legalRep: m.kernels.Person(pn.LegalRep, cn.LegalRep),
			phone:    m.kernels.Phone(pn.Phone, cn.Phone),
		}
		s.composite = m.cfg.NameWeight*s.name +
			m.cfg.AddressWeight*s.address +
			m.cfg.LegalRepWeight*s.legalRep +
			m.cfg.PhoneWeight*s.phone
		// Threshold comparisons run on the rounded value, the same number
		// that gets stored, so acceptance is stable across runs.
		s.gated = similarity.Round4(s.nameCore) < m.cfg.NameCoreHardGate
		scored[i] = s
	}
	return scored
}

// matchFuzzy is the third layer: weighted composite over the candidate set,
// with the core-name hard gate applied first.
func (m *LayeredMatcher) matchFuzzy(candidates []prefilter.Candidate, scored []candidateScore) (Outcome, bool) {
	best := -1
	for i := range scored {
		if scored[i].gated || similarity.Round4(scored[i].composite) < m.cfg.Theta1 {
			continue
		}
		if best < 0 || betterFuzzy(scored[i], candidates[i].Unit, scored[best], candidates[best].Unit) {
			best = i
		}
	}
	if best < 0 {
		return Outcome{}, false
	}
	return m.fuzzyOutcome(candidates[best], scored[best], similarity.Round4(scored[best].composite), fuzzyTypeFor(candidates[best].Stage)), true
}

// matchGraph is the fourth layer: shared-attribute boost for candidates the
// composite alone could not clear, under a relaxed core-name floor.
func (m *LayeredMatcher) matchGraph(primary *models.Unit, candidates []prefilter.Candidate, scored []candidateScore) (Outcome, bool) {
	units := make([]*models.Unit, len(candidates))
	for i, c := range candidates {
		units[i] = c.Unit
	}
	graph := buildAttrGraph(units)

	best := -1
	bestScore := 0.0
	bestShared := 0
	for i := range scored {
		if similarity.Round4(scored[i].nameCore) < m.cfg.GraphNameFloor {
			continue
		}
		shared := graph.sharedAttrCount(primary, i)
		if shared == 0 {
			continue
		}
		score := similarity.Round4(scored[i].composite)
		if boost := graphBoost(shared); boost > score {
			score = boost
		}
		if score < m.cfg.Theta2 {
			continue
		}
		if best < 0 || score > bestScore ||
			(score == bestScore && candidates[i].Unit.UnitID < candidates[best].Unit.UnitID) {
			best = i
			bestScore = score
			bestShared = shared
		}
	}
	if best < 0 {
		return Outcome{}, false
	}

	out := m.fuzzyOutcome(candidates[best], scored[best], similarity.Round4(bestScore), models.MatchTypeGraphAssisted)
	out.Explanation.Positive = append(out.Explanation.Positive,
		fmt.Sprintf("%d shared attributes in association graph", bestShared))
	return out, true
}

func (m *LayeredMatcher) fuzzyOutcome(c prefilter.Candidate, s candidateScore, score float64, matchType models.MatchType) Outcome {
	expl := models.MatchExplanation{
		FieldScores: map[string]float64{
			"name":      similarity.Round4(s.name),
			"name_core": similarity.Round4(s.nameCore),
			"address":   similarity.Round4(s.address),
			"legal_rep": similarity.Round4(s.legalRep),
			"phone":     similarity.Round4(s.phone),
		},
	}
	if s.name >= 0.8 {
		expl.Positive = append(expl.Positive, "names highly similar")
	}
	if s.address >= 0.8 {
		expl.Positive = append(expl.Positive, "addresses highly similar")
	}
	if s.legalRep == 1.0 {
		expl.Positive = append(expl.Positive, "legal representatives equal")
	}
	if s.phone == 1.0 {
		expl.Positive = append(expl.Positive, "phones equal")
	}
	if s.phone == 0 && c.Unit.Normalized.Phone != "" {
		expl.Negative = append(expl.Negative, "phone mismatch")
	}
	if s.address < 0.3 && c.Unit.Address != "" {
		expl.Negative = append(expl.Negative, "addresses dissimilar")
	}
	return Outcome{Matched: c.Unit, Type: matchType, Score: score, Explanation: expl}
}

// betterFuzzy orders fuzzy candidates: higher composite first, ties on the
// smaller secondary id.
func betterFuzzy(a candidateScore, au *models.Unit, b candidateScore, bu *models.Unit) bool {
	if a.composite != b.composite {
		return a.composite > b.composite
	}
	return au.UnitID < bu.UnitID
}

// fuzzyTypeFor maps the producing prefilter stage to the reported match
// type: blocking-key stages are prefiltered, the wider recall stages global.
func fuzzyTypeFor(stage prefilter.Stage) models.MatchType {
	switch stage {
	case prefilter.StageTextSearch, prefilter.StageAddress:
		return models.MatchTypeFuzzyGlobal
	}
	return models.MatchTypeFuzzyPrefiltered
}

func noMatch(reason string) Outcome {
	return Outcome{
		Type:  models.MatchTypeNone,
		Score: 0,
		Explanation: models.MatchExplanation{
			Negative:    []string{reason},
			FieldScores: map[string]float64{},
		},
	}
}
