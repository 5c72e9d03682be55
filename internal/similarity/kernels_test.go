package similarity

import (
	"math"
	"testing"

	"github.com/unit-linkage/internal/normalizer"
)

func newKernels() *Kernels {
	return NewKernels(normalizer.NewTextNormalizer())
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNameKernel(t *testing.T) {
	k := newKernels()

	t.Run("identical names score 1", func(t *testing.T) {
		if got := k.Name("富华贸易", "富华贸易", "富华贸易", "富华贸易"); !almostEqual(got, 1.0) {
			t.Errorf("got %v, want 1.0", got)
		}
	})

	t.Run("empty side scores 0", func(t *testing.T) {
		if got := k.Name("", "", "富华贸易", "富华贸易"); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})

	t.Run("disjoint names score near 0", func(t *testing.T) {
		got := k.Name("富华贸易", "富华贸易", "宏达建筑", "宏达建筑")
		if got > 0.2 {
			t.Errorf("got %v, want <= 0.2", got)
		}
	})

	t.Run("close names beat distant names", func(t *testing.T) {
		close := k.Name("富华贸易", "富华贸易", "富华商贸", "富华商贸")
		far := k.Name("富华贸易", "富华贸易", "永盛物流", "永盛物流")
		if close <= far {
			t.Errorf("close = %v not greater than far = %v", close, far)
		}
	})

	t.Run("core containment contributes", func(t *testing.T) {
		with := k.Name("富华贸易发展", "富华贸易发展", "富华贸易", "富华贸易")
		if with <= 0.5 {
			t.Errorf("containment pair scored %v", with)
		}
	})
}

func TestAddressKernel(t *testing.T) {
	k := newKernels()

	t.Run("identical addresses score 1", func(t *testing.T) {
		addr := "上海市浦东新区张杨路500号"
		if got := k.Address(addr, addr); !almostEqual(got, 1.0) {
			t.Errorf("got %v, want 1.0", got)
		}
	})

	t.Run("empty side scores 0", func(t *testing.T) {
		if got := k.Address("", "上海市浦东新区张杨路500号"); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})

	t.Run("same district different street", func(t *testing.T) {
		a := "上海市浦东新区张杨路500号"
		b := "上海市浦东新区世纪大道100号"
		got := k.Address(a, b)
		if got < 0.5 || got >= 1.0 {
			t.Errorf("got %v, want in [0.5, 1.0)", got)
		}
	})

	t.Run("different district scores lower", func(t *testing.T) {
		same := k.Address("上海市浦东新区张杨路500号", "上海市浦东新区张杨路600号")
		diff := k.Address("上海市浦东新区张杨路500号", "上海市徐汇区张杨路500号")
		if diff >= same {
			t.Errorf("diff district %v not below same district %v", diff, same)
		}
	})

	t.Run("missing components renormalize", func(t *testing.T) {
		got := k.Address("丰收村18号", "丰收村18号")
		if !almostEqual(got, 1.0) {
			t.Errorf("got %v, want 1.0", got)
		}
	})
}

func TestPersonKernel(t *testing.T) {
	k := newKernels()

	tests := []struct {
		a, b string
		want float64
	}{
		{"张伟", "张伟", 1.0},
		{"张伟", "张伟明", 0.5},
		{"张伟明", "张伟", 0.5},
		{"张伟", "李强", 0},
		{"张", "张伟", 0},
		{"", "张伟", 0},
	}
	for _, tc := range tests {
		if got := k.Person(tc.a, tc.b); !almostEqual(got, tc.want) {
			t.Errorf("Person(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestPhoneKernel(t *testing.T) {
	k := newKernels()

	tests := []struct {
		a, b string
		want float64
	}{
		{"13912345678", "13912345678", 1.0},
		{"13912345678", "13912345679", 0},
		{"", "13912345678", 0},
		{"", "", 0},
	}
	for _, tc := range tests {
		if got := k.Phone(tc.a, tc.b); !almostEqual(got, tc.want) {
			t.Errorf("Phone(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEditSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"富华贸易", "富华贸易", 1.0},
		{"富华贸易", "富华商贸", 0.5},
		{"", "富华", 0},
		{"AB", "CD", 0},
	}
	for _, tc := range tests {
		if got := EditSimilarity(tc.a, tc.b); !almostEqual(got, tc.want) {
			t.Errorf("EditSimilarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b []string
		want float64
	}{
		{[]string{"富华", "华贸"}, []string{"富华", "华贸"}, 1.0},
		{[]string{"富华", "华贸"}, []string{"富华", "华商"}, 1.0 / 3.0},
		{[]string{"富华"}, nil, 0},
		{nil, nil, 0},
	}
	for _, tc := range tests {
		if got := Jaccard(tc.a, tc.b); !almostEqual(got, tc.want) {
			t.Errorf("Jaccard(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestRound4(t *testing.T) {
	if got := Round4(0.123456); got != 0.1235 {
		t.Errorf("got %v", got)
	}
	if got := Round4(0.75); got != 0.75 {
		t.Errorf("got %v", got)
	}
}
