package matcher

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/internal/normalizer"
	"github.com/unit-linkage/internal/prefilter"
	"github.com/unit-linkage/internal/similarity"
)

type memReader struct {
	units    []*models.Unit
	failWith error
}

func (f *memReader) find(pred func(*models.Unit) bool, limit int) []*models.Unit {
	var out []*models.Unit
	for _, u := range f.units {
		if pred(u) {
			out = append(out, u)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

func (f *memReader) FindByCreditCode(_ context.Context, code string) ([]*models.Unit, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.find(func(u *models.Unit) bool { return u.Normalized.CreditCode == code }, 0), nil
}

func (f *memReader) FindByNameCanonical(_ context.Context, canonical string) ([]*models.Unit, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.find(func(u *models.Unit) bool { return u.Normalized.NameCanonical == canonical }, 0), nil
}

func (f *memReader) FindByNameSlices(_ context.Context, slices []string, limit int) ([]*models.Unit, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.find(func(u *models.Unit) bool {
		for _, s := range slices {
			for _, us := range u.Normalized.NameSlices {
				if s == us {
					return true
				}
			}
		}
		return false
	}, limit), nil
}

func (f *memReader) FindByAddressKeywords(_ context.Context, keywords []string, limit int) ([]*models.Unit, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.find(func(u *models.Unit) bool {
		for _, kw := range keywords {
			for _, uk := range u.Normalized.AddressKeywords {
				if kw == uk {
					return true
				}
			}
		}
		return false
	}, limit), nil
}

func (f *memReader) FindByIDs(_ context.Context, ids []string) ([]*models.Unit, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.find(func(u *models.Unit) bool {
		for _, id := range ids {
			if u.UnitID == id {
				return true
			}
		}
		return false
	}, 0), nil
}

type unitSpec struct {
	id, name, code, addr, legalRep, phone, building string
}

func buildMatcher(t *testing.T, specs []unitSpec) *LayeredMatcher {
	t.Helper()
	tn := normalizer.NewTextNormalizer()
	reader := &memReader{}
	for _, s := range specs {
		u := &models.Unit{
			UnitID:       s.id,
			Source:       models.SourceSecondary,
			Name:         s.name,
			CreditCode:   s.code,
			Address:      s.addr,
			LegalRep:     s.legalRep,
			ContactPhone: s.phone,
			BuildingID:   s.building,
		}
		tn.NormalizeUnit(u)
		reader.units = append(reader.units, u)
	}
	pre := prefilter.NewPrefilter(reader, nil, prefilter.DefaultConfig(), zap.NewNop())
	return NewLayeredMatcher(pre, similarity.NewKernels(tn), DefaultConfig(), zap.NewNop())
}

func primaryUnit(spec unitSpec) *models.Unit {
	tn := normalizer.NewTextNormalizer()
	u := &models.Unit{
		UnitID:       spec.id,
		Source:       models.SourcePrimary,
		Name:         spec.name,
		CreditCode:   spec.code,
		Address:      spec.addr,
		LegalRep:     spec.legalRep,
		ContactPhone: spec.phone,
		BuildingID:   spec.building,
	}
	tn.NormalizeUnit(u)
	return u
}

func TestMatchCreditCode(t *testing.T) {
	code := "91310115MA1K35X77J"
	m := buildMatcher(t, []unitSpec{
		{id: "s9", name: "完全不同的名字公司", code: code},
		{id: "s2", name: "另一个名字公司", code: code},
		{id: "s5", name: "富华贸易有限公司", code: "91310115MA1K35X88K"},
	})

	out := m.Match(context.Background(), primaryUnit(unitSpec{id: "p1", name: "富华贸易有限公司", code: code}))
	if out.Type != models.MatchTypeExactCreditCode {
		t.Fatalf("type = %s, want exact_credit_code", out.Type)
	}
	if out.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", out.Score)
	}
	// Tie on the code resolves to the smallest secondary id.
	if out.Matched.UnitID != "s2" {
		t.Errorf("matched = %s, want s2", out.Matched.UnitID)
	}
	if len(out.Explanation.Positive) == 0 || out.Explanation.Positive[0] != "credit codes equal" {
		t.Errorf("positive evidence = %v", out.Explanation.Positive)
	}
}

func TestMatchNameCanonical(t *testing.T) {
	addr := "上海市浦东新区张杨路500号"
	m := buildMatcher(t, []unitSpec{
		{id: "s1", name: "富华贸易有限公司", addr: "北京市朝阳区建国路1号"},
		{id: "s2", name: "上海市富华贸易有限公司", addr: addr},
	})

	out := m.Match(context.Background(), primaryUnit(unitSpec{id: "p1", name: "富华贸易有限公司", addr: addr}))
	if out.Type != models.MatchTypeExactNameCanonical {
		t.Fatalf("type = %s, want exact_name_canonical", out.Type)
	}
	// Both canonicalize to the same name; the address tie-break prefers s2.
	if out.Matched.UnitID != "s2" {
		t.Errorf("matched = %s, want s2", out.Matched.UnitID)
	}
	if out.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", out.Score)
	}
}

func TestMatchFuzzy(t *testing.T) {
	m := buildMatcher(t, []unitSpec{
		{
			id: "s1", name: "富华国际贸易城有限公司",
			addr: "上海市浦东新区张杨路500号", phone: "02158881234", legalRep: "张伟",
		},
		{id: "s2", name: "宏达建筑有限公司", addr: "北京市海淀区中关村大街1号"},
	})

	out := m.Match(context.Background(), primaryUnit(unitSpec{
		id: "p1", name: "富华国际贸易有限公司",
		addr: "上海市浦东新区张杨路500号", phone: "021-5888-1234", legalRep: "张伟",
	}))
	if out.Type != models.MatchTypeFuzzyPrefiltered {
		t.Fatalf("type = %s, want fuzzy_prefiltered", out.Type)
	}
	if out.Matched.UnitID != "s1" {
		t.Errorf("matched = %s, want s1", out.Matched.UnitID)
	}
	if out.Score < 0.75 {
		t.Errorf("score = %v, want >= theta1", out.Score)
	}
	if _, ok := out.Explanation.FieldScores["name"]; !ok {
		t.Error("field scores missing name")
	}
	if out.Explanation.FieldScores["phone"] != 1.0 {
		t.Errorf("phone field score = %v", out.Explanation.FieldScores["phone"])
	}
}

func TestMatchFuzzyHardGate(t *testing.T) {
	// Shared address and phone, unrelated core name: the hard gate must hold
	// regardless of the other fields.
	m := buildMatcher(t, []unitSpec{
		{
			id: "s1", name: "宏达建筑有限公司",
			addr: "上海市浦东新区张杨路500号", phone: "02158881234",
		},
	})

	out := m.Match(context.Background(), primaryUnit(unitSpec{
		id: "p1", name: "富华贸易有限公司",
		addr: "上海市浦东新区张杨路500号", phone: "02158881234",
	}))
	if out.Type != models.MatchTypeNone {
		t.Fatalf("type = %s, want none", out.Type)
	}
	if out.Matched != nil {
		t.Errorf("matched = %v, want nil", out.Matched.UnitID)
	}
	if len(out.Explanation.Negative) != 1 || out.Explanation.Negative[0] != "name_core below hard gate 0.70" {
		t.Errorf("negative evidence = %v", out.Explanation.Negative)
	}
}

func TestFuzzyThresholdUsesRoundedComposite(t *testing.T) {
	m := &LayeredMatcher{cfg: DefaultConfig()}
	candidates := []prefilter.Candidate{{Unit: &models.Unit{UnitID: "s1"}, Stage: prefilter.StageNameSlice}}

	// A composite that rounds up to theta1 is accepted at the threshold.
	out, ok := m.matchFuzzy(candidates, []candidateScore{{composite: 0.74996, nameCore: 0.85}})
	if !ok {
		t.Fatal("composite rounding to theta1 must be accepted")
	}
	if out.Type != models.MatchTypeFuzzyPrefiltered {
		t.Errorf("type = %s, want fuzzy_prefiltered", out.Type)
	}
	if out.Score != 0.75 {
		t.Errorf("score = %v, want 0.75", out.Score)
	}

	if _, ok := m.matchFuzzy(candidates, []candidateScore{{composite: 0.7499, nameCore: 0.85}}); ok {
		t.Error("composite below theta1 after rounding must be rejected")
	}
}

func TestGraphThresholdUsesRoundedScores(t *testing.T) {
	m := &LayeredMatcher{cfg: DefaultConfig()}
	primary := &models.Unit{UnitID: "p1", ContactPhone: "02158881234",
		Normalized: models.NormalizedUnit{Phone: "02158881234"}}
	candidates := []prefilter.Candidate{{
		Unit: &models.Unit{UnitID: "s1", ContactPhone: "02158881234",
			Normalized: models.NormalizedUnit{Phone: "02158881234"}},
		Stage: prefilter.StageNameSlice,
	}}

	// name_core 0.59996 rounds to the graph floor and stays eligible; the
	// one shared attribute boosts the score to theta2.
	out, ok := m.matchGraph(primary, candidates, []candidateScore{{composite: 0.50, nameCore: 0.59996, phone: 1.0}})
	if !ok {
		t.Fatal("name_core rounding to the graph floor must stay eligible")
	}
	if out.Type != models.MatchTypeGraphAssisted {
		t.Errorf("type = %s, want graph_assisted", out.Type)
	}

	if _, ok := m.matchGraph(primary, candidates, []candidateScore{{composite: 0.50, nameCore: 0.5999, phone: 1.0}}); ok {
		t.Error("name_core below the graph floor after rounding must be skipped")
	}
}

func TestMatchGraphAssisted(t *testing.T) {
	// Name similar enough to clear the relaxed floor but the composite stays
	// under theta1 without the shared-attribute boost.
	m := buildMatcher(t, []unitSpec{
		{
			id: "s1", name: "富华贸易有限公司",
			phone: "02158881234", legalRep: "张伟", building: "B-0042",
		},
	})

	out := m.Match(context.Background(), primaryUnit(unitSpec{
		id: "p1", name: "富华贸易发展有限公司",
		phone: "02158881234", legalRep: "张伟", building: "B-0042",
	}))
	if out.Type != models.MatchTypeGraphAssisted {
		t.Fatalf("type = %s, want graph_assisted (score %v, expl %+v)", out.Type, out.Score, out.Explanation)
	}
	if out.Score < 0.70 {
		t.Errorf("score = %v, want >= theta2", out.Score)
	}
}

func TestMatchUnmatchablePrimary(t *testing.T) {
	m := buildMatcher(t, nil)

	out := m.Match(context.Background(), primaryUnit(unitSpec{id: "p1", name: "   "}))
	if out.Type != models.MatchTypeNone {
		t.Fatalf("type = %s, want none", out.Type)
	}
	if len(out.Explanation.Negative) != 1 || out.Explanation.Negative[0] != "primary record has no identifying fields" {
		t.Errorf("negative evidence = %v", out.Explanation.Negative)
	}
}

func TestMatchStoreUnavailable(t *testing.T) {
	tn := normalizer.NewTextNormalizer()
	reader := &memReader{failWith: errors.New("connection reset")}
	pre := prefilter.NewPrefilter(reader, nil, prefilter.DefaultConfig(), zap.NewNop())
	m := NewLayeredMatcher(pre, similarity.NewKernels(tn), DefaultConfig(), zap.NewNop())

	out := m.Match(context.Background(), primaryUnit(unitSpec{id: "p1", name: "富华贸易有限公司"}))
	if out.Type != models.MatchTypeNone {
		t.Fatalf("type = %s, want none", out.Type)
	}
	if len(out.Explanation.Negative) != 1 || out.Explanation.Negative[0] != "candidate store unavailable" {
		t.Errorf("negative evidence = %v", out.Explanation.Negative)
	}
}

func TestMatchDeadline(t *testing.T) {
	m := buildMatcher(t, []unitSpec{
		{id: "s1", name: "富华贸易有限公司"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := m.Match(ctx, primaryUnit(unitSpec{id: "p1", name: "富华贸易有限公司"}))
	if out.Type != models.MatchTypeNone {
		t.Fatalf("type = %s, want none", out.Type)
	}
	if len(out.Explanation.Negative) != 1 || out.Explanation.Negative[0] != "match deadline exceeded" {
		t.Errorf("negative evidence = %v", out.Explanation.Negative)
	}
}

func TestMatchLayersRestrictsLayers(t *testing.T) {
	code := "91310115MA1K35X77J"
	m := buildMatcher(t, []unitSpec{
		{
			id: "s1", name: "富华国际贸易城有限公司", code: code,
			addr: "上海市浦东新区张杨路500号", phone: "02158881234", legalRep: "张伟",
		},
	})
	p := primaryUnit(unitSpec{
		id: "p1", name: "富华国际贸易有限公司", code: code,
		addr: "上海市浦东新区张杨路500号", phone: "02158881234", legalRep: "张伟",
	})

	// Unrestricted, the credit-code layer wins.
	out := m.MatchLayers(context.Background(), p, nil)
	if out.Type != models.MatchTypeExactCreditCode {
		t.Fatalf("unrestricted type = %s, want exact_credit_code", out.Type)
	}

	// Restricted to fuzzy, the same pair resolves through the composite.
	out = m.MatchLayers(context.Background(), p, []models.MatchType{models.MatchTypeFuzzyPrefiltered})
	if out.Type != models.MatchTypeFuzzyPrefiltered {
		t.Fatalf("fuzzy-only type = %s, want fuzzy_prefiltered", out.Type)
	}
	if out.Matched == nil || out.Matched.UnitID != "s1" {
		t.Errorf("fuzzy-only matched = %+v, want s1", out.Matched)
	}

	// Restricted to a layer that cannot fire, nothing matches.
	out = m.MatchLayers(context.Background(), p, []models.MatchType{models.MatchTypeExactNameCanonical})
	if out.Type != models.MatchTypeNone {
		t.Fatalf("name-only type = %s, want none", out.Type)
	}
}

func TestGraphBoost(t *testing.T) {
	tests := []struct {
		shared int
		want   float64
	}{
		{0, 0.5},
		{1, 0.7},
		{2, 0.9},
		{3, 1.0},
		{10, 1.0},
	}
	for _, tc := range tests {
		if got := graphBoost(tc.shared); got != tc.want {
			t.Errorf("graphBoost(%d) = %v, want %v", tc.shared, got, tc.want)
		}
	}
}
