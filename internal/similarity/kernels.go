package similarity

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/unit-linkage/internal/normalizer"
)

// Field kernels for the fuzzy layers. Every kernel returns a value in [0, 1]
// and returns 0 when either side is empty, so an absent field never pushes a
// composite score up.

// Kernels bundles the shared normalizer so address comparison can reuse the
// component tagger and tokenizer.
type Kernels struct {
	tn *normalizer.TextNormalizer
}

// NewKernels khởi tạo kernels dùng chung một TextNormalizer.
func NewKernels(tn *normalizer.TextNormalizer) *Kernels {
	return &Kernels{tn: tn}
}

// Name scores two canonical names: 0.5 normalized edit similarity +
// 0.3 token-set Jaccard + 0.2 core prefix/suffix containment.
func (k *Kernels) Name(canonicalA, coreA, canonicalB, coreB string) float64 {
	if canonicalA == "" || canonicalB == "" {
		return 0
	}
	edit := EditSimilarity(canonicalA, canonicalB)
	jaccard := Jaccard(k.tn.Tokenize(canonicalA), k.tn.Tokenize(canonicalB))
	affix := coreContainment(coreA, coreB)
	return 0.5*edit + 0.3*jaccard + 0.2*affix
}

// addressComponentWeights per the tagged address components.
var addressComponentWeights = []struct {
	weight float64
	pick   func(normalizer.AddressParts) string
}{
	{0.2, func(p normalizer.AddressParts) string { return p.Province }},
	{0.3, func(p normalizer.AddressParts) string { return p.City }},
	{0.3, func(p normalizer.AddressParts) string { return p.District }},
	{0.2, func(p normalizer.AddressParts) string { return p.Detail }},
}

// Address scores two raw addresses component-wise. Components absent on both
// sides drop out and the remaining weights renormalize, so two rural
// addresses without a district tag can still reach 1.0.
func (k *Kernels) Address(rawA, rawB string) float64 {
	normA, partsA := k.tn.NormalizeAddress(rawA)
	normB, partsB := k.tn.NormalizeAddress(rawB)
	if normA == "" || normB == "" {
		return 0
	}

	var score, weightSum float64
	for _, comp := range addressComponentWeights {
		a, b := comp.pick(partsA), comp.pick(partsB)
		if a == "" && b == "" {
			continue
		}
		weightSum += comp.weight
		if a == "" || b == "" {
			continue
		}
		if a == b {
			score += comp.weight
			continue
		}
		score += comp.weight * componentSimilarity(k.tn, a, b)
	}
	if weightSum == 0 {
		return 0
	}
	return score / weightSum
}

// componentSimilarity: short tagged segments compare by edit distance, the
// free-form detail tail by token overlap.
func componentSimilarity(tn *normalizer.TextNormalizer, a, b string) float64 {
	if len([]rune(a)) <= 6 && len([]rune(b)) <= 6 {
		return EditSimilarity(a, b)
	}
	return Jaccard(tn.Tokenize(a), tn.Tokenize(b))
}

// Person scores two normalized person names: exact 1.0, proper prefix of at
// least two runes 0.5 (registries often truncate names), otherwise 0.
func (k *Kernels) Person(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if len([]rune(shorter)) >= 2 && strings.HasPrefix(longer, shorter) {
		return 0.5
	}
	return 0
}

// Phone scores two normalized phone numbers by equality.
func (k *Kernels) Phone(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	return 0
}

// EditSimilarity is 1 - d/maxLen over runes.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(d)/float64(maxLen)
}

// Jaccard over two token multisets treated as sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// coreContainment rewards one core name containing the other as a prefix or
// suffix, scaled by the length ratio.
func coreContainment(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if strings.HasPrefix(longer, shorter) || strings.HasSuffix(longer, shorter) {
		return float64(len([]rune(shorter))) / float64(len([]rune(longer)))
	}
	return 0
}

// Round4 rounds a score to four decimals before it is persisted or compared
// against a threshold.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
