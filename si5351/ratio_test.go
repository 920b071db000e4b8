package si5351

import (
	"math"
	"testing"
)

func TestApproximate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		num, den uint64
		want     Ratio
	}{
		{"integer", 900_000_000, 25_000_000, Ratio{36, 0, MaxDenominator}},
		{"7 MHz multisynth", 900_000_000, 7_000_000, Ratio{128, 599185, MaxDenominator}},
		{"half", 900_000_000, 1_600_000, Ratio{562, 524287, MaxDenominator}},
		{"corrected crystal", 900_000_000, 25_002_500, Ratio{35, 1044800, MaxDenominator}},
		{"27 MHz crystal", 800_000_000, 27_000_000, Ratio{29, 660213, MaxDenominator}},
		{"quotient rounds up to next integer", 1<<60 - 1, 1 << 60, Ratio{0, MaxDenominator - 1, MaxDenominator}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Approximate(tt.num, tt.den, MaxDenominator)
			if got != tt.want {
				t.Errorf("Approximate(%d, %d) = %v, want %v", tt.num, tt.den, got, tt.want)
			}
		})
	}
}

func TestApproximateBounds(t *testing.T) {
	t.Parallel()

	for den := uint64(4_000); den <= 160_000_000; den = den*3/2 + 7 {
		for _, num := range []uint64{MinPLLFrequency, 750_000_000, MaxPLLFrequency} {
			r := Approximate(num, den, MaxDenominator)
			if r.B >= r.C {
				t.Fatalf("Approximate(%d, %d) = %v: b >= c", num, den, r)
			}
			if r.C != MaxDenominator {
				t.Fatalf("Approximate(%d, %d) = %v: c != %d", num, den, r, MaxDenominator)
			}
			exact := float64(num) / float64(den)
			if diff := exact - r.Float(); diff < -1e-9 || diff > 1.0/MaxDenominator+1e-9 {
				t.Fatalf("Approximate(%d, %d) = %v off by %g", num, den, r, diff)
			}
			if again := Approximate(num, den, MaxDenominator); again != r {
				t.Fatalf("Approximate(%d, %d) not repeatable: %v then %v", num, den, r, again)
			}
		}
	}
}

func TestRatioFloat(t *testing.T) {
	t.Parallel()

	if got := (Ratio{A: 4}).Float(); got != 4 {
		t.Errorf("Float() with zero c = %g, want 4", got)
	}
	if got := (Ratio{A: 36, B: 1, C: 2}).Float(); math.Abs(got-36.5) > 1e-12 {
		t.Errorf("Float() = %g, want 36.5", got)
	}
	if got := (Ratio{A: 36, B: 1, C: 2}).String(); got != "36+1/2" {
		t.Errorf("String() = %q", got)
	}
}
