package normalizer

import (
	"reflect"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tn := NewTextNormalizer()

	tests := []struct {
		name          string
		input         string
		wantCanonical string
		wantCore      string
	}{
		{
			name:          "municipality prefix and company suffix stripped",
			input:         "上海市富华贸易有限公司",
			wantCanonical: "富华贸易",
			wantCore:      "富华贸易",
		},
		{
			name:          "bracket annotation removed",
			input:         "富华贸易（集团）有限公司",
			wantCanonical: "富华贸易",
			wantCore:      "富华贸易",
		},
		{
			name:          "fullwidth latin folded and uppercased",
			input:         "ＡＢＣ贸易公司",
			wantCanonical: "ABC贸易",
			wantCore:      "ABC贸易",
		},
		{
			name:          "district prefix stripped",
			input:         "浦东新区大华物业管理有限公司",
			wantCanonical: "大华物业管理",
			wantCore:      "大华物业管理",
		},
		{
			name:          "out of dictionary region only stripped in core",
			input:         "昆山市华东电子厂",
			wantCanonical: "昆山市华东电子",
			wantCore:      "华东电子",
		},
		{
			name:          "stacked prefixes stripped greedily",
			input:         "上海市浦东新区明珠餐饮店",
			wantCanonical: "明珠餐饮",
			wantCore:      "明珠餐饮",
		},
		{
			name:          "suffix only name kept non empty",
			input:         "有限公司",
			wantCanonical: "有限公司",
			wantCore:      "有限公司",
		},
		{
			name:          "empty input",
			input:         "   ",
			wantCanonical: "",
			wantCore:      "",
		},
		{
			name:          "punctuation stripped",
			input:         "富华·贸易(上海)有限公司",
			wantCanonical: "富华贸易",
			wantCore:      "富华贸易",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			canonical, core := tn.NormalizeName(tc.input)
			if canonical != tc.wantCanonical {
				t.Errorf("canonical = %q, want %q", canonical, tc.wantCanonical)
			}
			if core != tc.wantCore {
				t.Errorf("core = %q, want %q", core, tc.wantCore)
			}
		})
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	tn := NewTextNormalizer()
	inputs := []string{
		"上海市富华贸易有限公司",
		"昆山市华东电子厂",
		"ＡＢＣ（中国）投资有限公司",
		"明珠餐饮店",
	}
	for _, in := range inputs {
		c1, k1 := tn.NormalizeName(in)
		c2, k2 := tn.NormalizeName(c1)
		if c2 != c1 {
			t.Errorf("canonical not idempotent for %q: %q -> %q", in, c1, c2)
		}
		k3, _ := tn.NormalizeName(k1)
		if k3 != k1 {
			t.Errorf("core not idempotent for %q: %q -> %q", in, k1, k3)
		}
		_ = k2
	}
}

func TestNameSlices(t *testing.T) {
	tn := NewTextNormalizer()

	tests := []struct {
		canonical string
		want      []string
	}{
		{"富华贸易", []string{"富华", "富华贸", "富华贸易"}},
		{"富华", []string{"富华"}},
		{"华", nil},
		{"", nil},
	}
	for _, tc := range tests {
		got := tn.NameSlices(tc.canonical)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("NameSlices(%q) = %v, want %v", tc.canonical, got, tc.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	tn := NewTextNormalizer()

	tests := []struct {
		input string
		want  []string
	}{
		{"富华贸易", []string{"富华", "华贸", "贸易"}},
		{"ABC贸易", []string{"ABC", "贸易"}},
		{"华", []string{"华"}},
		{"A1 B2", []string{"A1", "B2"}},
		{"", nil},
	}
	for _, tc := range tests {
		got := tn.Tokenize(tc.input)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	tn := NewTextNormalizer()

	addr, parts := tn.NormalizeAddress("上海市浦东新区张杨路500号21楼")
	if addr != "上海市浦东新区张杨路500号21楼" {
		t.Fatalf("normalized = %q", addr)
	}
	if parts.Province != "上海市" {
		t.Errorf("province = %q, want 上海市", parts.Province)
	}
	if parts.City != "上海市" {
		t.Errorf("city = %q, want 上海市", parts.City)
	}
	if parts.District != "浦东新区" {
		t.Errorf("district = %q, want 浦东新区", parts.District)
	}
	if parts.Detail != "张杨路500号21楼" {
		t.Errorf("detail = %q, want 张杨路500号21楼", parts.Detail)
	}

	_, provParts := tn.NormalizeAddress("江苏省苏州市工业园区星湖街328号")
	if provParts.Province != "江苏省" || provParts.City != "苏州市" {
		t.Errorf("province/city = %q/%q", provParts.Province, provParts.City)
	}

	_, empty := tn.NormalizeAddress("")
	if empty.Province != "" || empty.Detail != "" {
		t.Errorf("empty address produced parts %+v", empty)
	}
}

func TestAddressKeywords(t *testing.T) {
	tn := NewTextNormalizer()

	tests := []struct {
		input string
		want  []string
	}{
		{"上海市浦东新区张杨路500号21楼", []string{"上海市浦东新区张杨", "500", "21"}},
		{"丰收村18号", []string{"丰收", "18"}},
		{"单元", nil},
		{"", nil},
	}
	for _, tc := range tests {
		got := tn.AddressKeywords(tc.input)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("AddressKeywords(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeCreditCode(t *testing.T) {
	tn := NewTextNormalizer()

	tests := []struct {
		input string
		want  string
	}{
		{"91310115MA1K35X77J", "91310115MA1K35X77J"},
		{"91310115 ma1k35x7-7j", "91310115MA1K35X77J"},
		{"913101", ""},
		{"91310115MA1K35X77J0", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := tn.NormalizeCreditCode(tc.input); got != tc.want {
			t.Errorf("NormalizeCreditCode(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tn := NewTextNormalizer()

	tests := []struct {
		input string
		want  string
	}{
		{"021-58881234", "02158881234"},
		{"+86 13912345678", "13912345678"},
		{"008613912345678", "13912345678"},
		{"１３９１２３４５６７８", "13912345678"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := tn.NormalizePhone(tc.input); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizePerson(t *testing.T) {
	tn := NewTextNormalizer()

	if got := tn.NormalizePerson("张 伟"); got != "张伟" {
		t.Errorf("got %q, want 张伟", got)
	}
	if got := tn.NormalizePerson("无"); got != "" {
		t.Errorf("placeholder not cleared: %q", got)
	}
}
