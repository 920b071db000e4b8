package si5351

// Common reference crystals.
const (
	Crystal25MHz = 25_000_000
	Crystal27MHz = 27_000_000
)

// CorrectionScale is the unit of Crystal.Correction: parts per ten million.
const CorrectionScale = 10_000_000

// Crystal is the reference oscillator and its calibration offset.
type Crystal struct {
	Nominal    uint64 `json:"nominal"`    // Hz
	Correction int32  `json:"correction"` // parts per ten million
}

// Effective returns nominal + nominal*correction/1e7, truncated to whole Hz.
// A zero value means the crystal has not been set up.
func (x Crystal) Effective() uint64 {
	offset := int64(float64(x.Correction) / CorrectionScale * float64(x.Nominal))
	f := int64(x.Nominal) + offset
	if f < 0 {
		return 0
	}
	return uint64(f)
}
