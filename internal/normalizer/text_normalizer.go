package normalizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/unit-linkage/app/models"
)

// TextNormalizer implements the deterministic normalization pipeline for unit
// names and addresses. It never fails: pathological inputs collapse to an
// empty canonical name, which downstream treats as un-matchable.
type TextNormalizer struct {
	adminPrefixes []string // sorted longest-first
	orgSuffixes   []string // sorted longest-first
	stopWords     map[string]struct{}

	bracketPattern *regexp.Regexp
	spacePattern   *regexp.Regexp
}

// NewTextNormalizer tạo mới TextNormalizer với default rules.
func NewTextNormalizer() *TextNormalizer {
	return NewTextNormalizerWithRules(DefaultRules())
}

// NewTextNormalizerWithRules creates a normalizer from explicit dictionaries.
func NewTextNormalizerWithRules(rules NormalizerRules) *TextNormalizer {
	prefixes := append([]string(nil), rules.AdminPrefixes...)
	suffixes := append([]string(nil), rules.OrgSuffixes...)
	// Longest match wins, so order the dictionaries by length up front.
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	sort.Slice(suffixes, func(i, j int) bool { return len(suffixes[i]) > len(suffixes[j]) })

	stop := make(map[string]struct{}, len(rules.AddressStopWords))
	for _, w := range rules.AddressStopWords {
		stop[w] = struct{}{}
	}

	return &TextNormalizer{
		adminPrefixes:  prefixes,
		orgSuffixes:    suffixes,
		stopWords:      stop,
		bracketPattern: regexp.MustCompile(`\([^()]*\)`),
		spacePattern:   regexp.MustCompile(`\s+`),
	}
}

// NormalizeName runs the full name pipeline and returns (canonical, core).
// canonical: folded, bracket annotations stripped, punctuation removed,
// dictionary admin prefixes and org suffixes stripped. core: canonical with
// the additional generic administrative-marker strip; the basis for the fuzzy
// hard gate.
func (tn *TextNormalizer) NormalizeName(raw string) (string, string) {
	cleaned := tn.cleanText(raw)
	canonical := tn.stripOrgSuffixes(tn.stripAdminPrefixes(cleaned))
	core := tn.stripGenericAdminPrefix(canonical)
	core = tn.stripOrgSuffixes(tn.stripAdminPrefixes(core))
	return canonical, core
}

// NameSlices returns the blocking-key prefixes of the canonical name for
// k in {2, 3, 4}, deduplicated, preserving ascending k.
func (tn *TextNormalizer) NameSlices(canonical string) []string {
	runes := []rune(canonical)
	var slices []string
	seen := make(map[string]struct{}, 3)
	for _, k := range []int{2, 3, 4} {
		if len(runes) < k {
			break
		}
		s := string(runes[:k])
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		slices = append(slices, s)
	}
	return slices
}

// Tokenize segments a normalized string: ASCII alphanumeric runs become one
// token each, Han runs become overlapping bigrams (a single ideograph stands
// alone). Bigrams keep the comparison stable without a segmenter dictionary.
func (tn *TextNormalizer) Tokenize(s string) []string {
	var tokens []string
	var ascii []rune
	var han []rune

	flushASCII := func() {
		if len(ascii) > 0 {
			tokens = append(tokens, string(ascii))
			ascii = ascii[:0]
		}
	}
	flushHan := func() {
		if len(han) == 1 {
			tokens = append(tokens, string(han))
		} else {
			for i := 0; i+1 < len(han); i++ {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z':
			flushHan()
			ascii = append(ascii, r)
		case unicode.Is(unicode.Han, r):
			flushASCII()
			han = append(han, r)
		default:
			flushASCII()
			flushHan()
		}
	}
	flushASCII()
	flushHan()
	return tokens
}

// AddressParts các thành phần được tag của một địa chỉ.
type AddressParts struct {
	Province string
	City     string
	District string
	Detail   string
}

// NormalizeAddress runs the address pipeline: fold, strip brackets and
// punctuation, then tag province/city/district markers; the remainder is the
// detail component.
func (tn *TextNormalizer) NormalizeAddress(raw string) (string, AddressParts) {
	cleaned := tn.cleanText(raw)
	parts := AddressParts{Detail: cleaned}

	rest := cleaned
	if p, r, ok := cutAfterMarker(rest, '省', 8); ok {
		parts.Province = p
		rest = r
	}
	if c, r, ok := cutAfterMarker(rest, '市', 8); ok {
		if parts.Province == "" {
			// Municipalities carry no 省 segment; the 市 segment doubles as
			// the province tag.
			parts.Province = c
		}
		parts.City = c
		rest = r
	}
	if d, r, ok := cutAfterMarker(rest, '区', 8); ok {
		parts.District = d
		rest = r
	} else if d, r, ok := cutAfterMarker(rest, '县', 8); ok {
		parts.District = d
		rest = r
	}
	parts.Detail = rest
	return cleaned, parts
}

// AddressKeywords extracts the informative tokens of a normalized address:
// segments between unit markers, length >= 2 runes, not stop-words.
func (tn *TextNormalizer) AddressKeywords(normalizedAddr string) []string {
	segments := strings.FieldsFunc(normalizedAddr, func(r rune) bool {
		switch r {
		case '路', '街', '巷', '弄', '号', '室', '层', '楼', '村', '镇', ' ':
			return true
		}
		return false
	})

	var keywords []string
	seen := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		if len([]rune(seg)) < 2 {
			continue
		}
		if _, stop := tn.stopWords[seg]; stop {
			continue
		}
		if _, dup := seen[seg]; dup {
			continue
		}
		seen[seg] = struct{}{}
		keywords = append(keywords, seg)
	}
	return keywords
}

// NormalizeCreditCode canonicalizes the 18-character unified social credit
// identifier: whitespace and separators removed, uppercased. Anything that is
// not exactly 18 characters afterwards is treated as absent.
func (tn *TextNormalizer) NormalizeCreditCode(raw string) string {
	var b strings.Builder
	for _, r := range width.Fold.String(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	code := b.String()
	if len(code) != 18 {
		return ""
	}
	return code
}

// NormalizePhone strips non-digits and a leading country code.
func (tn *TextNormalizer) NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range width.Fold.String(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if strings.HasPrefix(phone, "0086") {
		phone = phone[4:]
	} else if strings.HasPrefix(phone, "86") && len(phone) > 9 {
		phone = phone[2:]
	}
	return phone
}

// NormalizePerson normalizes a person name for equality comparison.
func (tn *TextNormalizer) NormalizePerson(raw string) string {
	cleaned := tn.cleanText(raw)
	// Person fields in the registries carry placeholder values for "none".
	switch cleaned {
	case "无", "NULL", "NONE":
		return ""
	}
	return strings.ReplaceAll(cleaned, " ", "")
}

// NormalizeUnit fills the derived fields of a unit in place.
func (tn *TextNormalizer) NormalizeUnit(u *models.Unit) {
	canonical, core := tn.NormalizeName(u.Name)
	normalizedAddr, _ := tn.NormalizeAddress(u.Address)

	u.Normalized = models.NormalizedUnit{
		NameCanonical:   canonical,
		NameCore:        core,
		NameSlices:      tn.NameSlices(canonical),
		NameTokens:      tn.Tokenize(canonical),
		CreditCode:      tn.NormalizeCreditCode(u.CreditCode),
		AddressTokens:   tn.Tokenize(normalizedAddr),
		AddressKeywords: tn.AddressKeywords(normalizedAddr),
		Phone:           tn.NormalizePhone(u.ContactPhone),
		LegalRep:        tn.NormalizePerson(u.LegalRep),
	}
}

// cleanText is the shared head of both pipelines: NFKC, width folding, ASCII
// transliteration of stray non-CJK symbols, uppercasing, bracket-annotation
// and punctuation stripping, whitespace collapsing.
func (tn *TextNormalizer) cleanText(raw string) string {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = width.Fold.String(s)

	// Unify bracket variants so one pattern strips them all.
	replacer := strings.NewReplacer("（", "(", "）", ")", "【", "(", "】", ")", "[", "(", "]", ")")
	s = replacer.Replace(s)
	s = tn.bracketPattern.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case unicode.Is(unicode.Han, r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r > 127:
			// Accented Latin in foreign company names folds to ASCII;
			// everything else (punctuation, symbols) drops.
			folded := unidecode.Unidecode(string(r))
			for _, fr := range strings.ToUpper(folded) {
				if fr >= '0' && fr <= '9' || fr >= 'A' && fr <= 'Z' {
					b.WriteRune(fr)
				}
			}
		}
	}

	out := tn.spacePattern.ReplaceAllString(b.String(), " ")
	out = strings.TrimSpace(out)
	return collapseCJKSpaces(out)
}

// stripAdminPrefixes removes dictionary administrative prefixes greedily from
// the left; the dictionaries are pre-sorted longest-first.
func (tn *TextNormalizer) stripAdminPrefixes(s string) string {
	for {
		stripped := false
		for _, prefix := range tn.adminPrefixes {
			if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// stripOrgSuffixes removes organizational-suffix tokens from the right,
// longest match first.
func (tn *TextNormalizer) stripOrgSuffixes(s string) string {
	for {
		stripped := false
		for _, suffix := range tn.orgSuffixes {
			if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
				s = strings.TrimSpace(s[:len(s)-len(suffix)])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// stripGenericAdminPrefix drops a leading region segment ending in a generic
// administrative marker even when the region is not in the dictionary. Only
// applied for name_core, where over-stripping is safer than under-stripping.
func (tn *TextNormalizer) stripGenericAdminPrefix(s string) string {
	runes := []rune(s)
	for i := 0; i < len(runes) && i < 6; i++ {
		switch runes[i] {
		case '省', '市', '区', '县':
			if i+1 < len(runes) {
				return string(runes[i+1:])
			}
			return s
		}
	}
	return s
}

// cutAfterMarker splits s after the first occurrence of marker within the
// first maxRunes runes. Returns (segment incl. marker, remainder, found).
func cutAfterMarker(s string, marker rune, maxRunes int) (string, string, bool) {
	runes := []rune(s)
	limit := len(runes)
	if limit > maxRunes {
		limit = maxRunes
	}
	for i := 0; i < limit; i++ {
		if runes[i] == marker {
			return string(runes[:i+1]), strings.TrimSpace(string(runes[i+1:])), true
		}
	}
	return "", s, false
}

// collapseCJKSpaces removes spaces that touch a Han rune on either side;
// spaces between ASCII tokens stay.
func collapseCJKSpaces(s string) string {
	runes := []rune(s)
	var out []rune
	for i, r := range runes {
		if r == ' ' {
			prevHan := i > 0 && unicode.Is(unicode.Han, runes[i-1])
			nextHan := i+1 < len(runes) && unicode.Is(unicode.Han, runes[i+1])
			if prevHan || nextHan {
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}
