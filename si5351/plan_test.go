package si5351

import "testing"

func TestPlanFrequency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		requested uint64
		want      Plan
	}{
		{
			name:      "100 kHz uses R/16",
			requested: 100_000,
			want:      Plan{Requested: 100_000, Frequency: 100_000, Working: 1_600_000, PLLFrequency: 900_000_000, RDivider: Div16},
		},
		{
			name:      "below 8 kHz runs the PLL at its floor",
			requested: 5_000,
			want:      Plan{Requested: 5_000, Frequency: 5_000, Working: 640_000, PLLFrequency: 600_000_000, RDivider: Div128},
		},
		{
			name:      "R/4 band",
			requested: 500_000,
			want:      Plan{Requested: 500_000, Frequency: 500_000, Working: 2_000_000, PLLFrequency: 900_000_000, RDivider: Div4},
		},
		{
			name:      "7 MHz",
			requested: 7_000_000,
			want:      Plan{Requested: 7_000_000, Frequency: 7_000_000, Working: 7_000_000, PLLFrequency: 900_000_000, RDivider: Div1},
		},
		{
			name:      "ratio 8 band",
			requested: 80_000_000,
			want:      Plan{Requested: 80_000_000, Frequency: 80_000_000, Working: 80_000_000, PLLFrequency: 640_000_000, RDivider: Div1},
		},
		{
			name:      "ratio 6 band",
			requested: 120_000_000,
			want:      Plan{Requested: 120_000_000, Frequency: 120_000_000, Working: 120_000_000, PLLFrequency: 720_000_000, RDivider: Div1},
		},
		{
			name:      "divide by 4",
			requested: 150_000_000,
			want:      Plan{Requested: 150_000_000, Frequency: 150_000_000, Working: 150_000_000, PLLFrequency: 600_000_000, RDivider: Div1, DivideBy4: true, Mode: Integer},
		},
		{
			name:      "above range clamps to maximum",
			requested: 200_000_000,
			want:      Plan{Requested: 200_000_000, Frequency: 160_000_000, Working: 160_000_000, PLLFrequency: 640_000_000, RDivider: Div1, DivideBy4: true, Mode: Integer},
		},
		{
			name:      "below range clamps to minimum",
			requested: 1_000,
			want:      Plan{Requested: 1_000, Frequency: 4_000, Working: 512_000, PLLFrequency: 600_000_000, RDivider: Div128},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := PlanFrequency(tt.requested)
			if got != tt.want {
				t.Errorf("PlanFrequency(%d) = %+v, want %+v", tt.requested, got, tt.want)
			}
			if got.Clamped() != (tt.requested != tt.want.Frequency) {
				t.Errorf("Clamped() = %v", got.Clamped())
			}
		})
	}
}

// Every frequency in range must land on a PLL in 600..900 MHz and a
// multisynth ratio the chip accepts.
func TestPlanFrequencySweep(t *testing.T) {
	t.Parallel()

	for f := uint64(MinOutputFrequency); f <= MaxOutputFrequency; f = f*101/100 + 1 {
		p := PlanFrequency(f)
		if p.Frequency != f || p.Clamped() {
			t.Fatalf("%d: clamped to %d", f, p.Frequency)
		}
		if p.PLLFrequency < MinPLLFrequency || p.PLLFrequency > MaxPLLFrequency {
			t.Fatalf("%d: PLL %d out of range", f, p.PLLFrequency)
		}
		if p.Working != f*p.RDivider.Factor() {
			t.Fatalf("%d: working %d with %s", f, p.Working, p.RDivider)
		}
		ratio := float64(p.PLLFrequency) / float64(p.Working)
		if ratio < 4 || ratio > 2048 {
			t.Fatalf("%d: multisynth ratio %g out of range", f, ratio)
		}
		if (p.Mode == Integer) != (p.Working >= DivideBy4Threshold) {
			t.Fatalf("%d: mode %s with working %d", f, p.Mode, p.Working)
		}
		if p.DivideBy4 && ratio != 4 {
			t.Fatalf("%d: divide by 4 with ratio %g", f, ratio)
		}
	}
}

func TestClampFrequency(t *testing.T) {
	t.Parallel()

	for in, want := range map[uint64]uint64{
		0:                      MinOutputFrequency,
		MinOutputFrequency - 1: MinOutputFrequency,
		MinOutputFrequency:     MinOutputFrequency,
		10_000_000:             10_000_000,
		MaxOutputFrequency:     MaxOutputFrequency,
		MaxOutputFrequency + 1: MaxOutputFrequency,
	} {
		if got := ClampFrequency(in); got != want {
			t.Errorf("ClampFrequency(%d) = %d, want %d", in, got, want)
		}
	}
}
