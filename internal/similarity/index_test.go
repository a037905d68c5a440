package similarity

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"shape mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero magnitude", []float64{0, 0}, []float64{1, 2}, 0},
	}
	for _, tc := range cases {
		if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: expected %.4f, got %.4f", tc.name, tc.want, got)
		}
	}
}

func TestCosine_ScaleInvariant(t *testing.T) {
	a := []float64{0.3, 0.5, 0.2}
	scaled := []float64{3, 5, 2}
	if got := Cosine(a, scaled); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1 for scaled vector, got %.6f", got)
	}
}
