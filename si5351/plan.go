package si5351

// Frequency limits in Hz. The PLL band edges keep the VCO inside
// MinPLLFrequency..MaxPLLFrequency for every output in range.
const (
	MinOutputFrequency = 4_000
	MaxOutputFrequency = 160_000_000

	MinPLLFrequency = 600_000_000
	MaxPLLFrequency = 900_000_000

	// Outputs at or above this run the multisynth in integer divide-by-4 mode.
	DivideBy4Threshold = 150_000_000

	minRatio8Frequency = 75_000_000
	minRatio6Frequency = 100_000_000
	maxRatio4Frequency = MaxOutputFrequency
	lowPLLFrequency    = 8_000

	rDiv4Below   = 1_000_000
	rDiv16Below  = 200_000
	rDiv128Below = 50_000
)

// Plan is how a requested output frequency is produced.
type Plan struct {
	Requested    uint64      `json:"requested"`     // frequency asked for
	Frequency    uint64      `json:"frequency"`     // after clamping into range
	Working      uint64      `json:"working"`       // multisynth output, Frequency * R divider
	PLLFrequency uint64      `json:"pll_frequency"` // VCO frequency
	RDivider     RDivider    `json:"r_divider"`
	DivideBy4    bool        `json:"divide_by_4"`
	Mode         DividerMode `json:"mode"`
}

// Clamped reports whether the request was outside the supported range.
func (p Plan) Clamped() bool { return p.Requested != p.Frequency }

// ClampFrequency saturates f into MinOutputFrequency..MaxOutputFrequency.
func ClampFrequency(f uint64) uint64 {
	if f > MaxOutputFrequency {
		return MaxOutputFrequency
	}
	if f < MinOutputFrequency {
		return MinOutputFrequency
	}
	return f
}

// PlanFrequency chooses the R divider, PLL frequency and multisynth mode for
// an output frequency. Requests outside the supported range are clamped.
func PlanFrequency(requested uint64) Plan {
	f := ClampFrequency(requested)
	p := Plan{Requested: requested, Frequency: f}

	// Below 1 MHz the multisynth ratio would exceed its range, so run the
	// multisynth faster and divide the result down with the R divider.
	switch {
	case f < rDiv128Below:
		p.RDivider = Div128
	case f < rDiv16Below:
		p.RDivider = Div16
	case f < rDiv4Below:
		p.RDivider = Div4
	default:
		p.RDivider = Div1
	}
	p.Working = f * p.RDivider.Factor()

	switch {
	case f >= minRatio8Frequency && f < minRatio6Frequency:
		p.PLLFrequency = f * 8
	case f >= minRatio6Frequency && f < DivideBy4Threshold:
		p.PLLFrequency = f * 6
	case f >= DivideBy4Threshold && f <= maxRatio4Frequency:
		p.PLLFrequency = f * 4
		p.DivideBy4 = true
	case f < lowPLLFrequency:
		p.PLLFrequency = MinPLLFrequency
	default:
		p.PLLFrequency = MaxPLLFrequency
	}

	if p.Working >= DivideBy4Threshold {
		p.Mode = Integer
	}
	return p
}
