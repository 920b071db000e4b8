package si5351

import (
	"errors"
	"fmt"
	"log/slog"
)

// Synth programs an Si5351 through a RegisterBus. It keeps a shadow of the
// per-output control bytes and the output enable register so invert, drive
// and enable settings survive frequency changes.
//
// Synth does no locking. Callers sharing one Synth between goroutines must
// serialize access.
type Synth struct {
	bus  RegisterBus
	load LoadCapacitance
	xtal Crystal

	outputEnable uint8
	pllRatio     [NumPLLs]Ratio
	pllFrequency [NumPLLs]uint64
	channels     [NumChannels]channelState
}

type channelState struct {
	enabled bool
	invert  bool
	drive   Drive
	source  Source
	control uint8 // last control byte, power down bit excluded
	plan    Plan
	ratio   Ratio
}

// ChannelState is a snapshot of one output.
type ChannelState struct {
	Channel   string  `json:"channel"`
	Enabled   bool    `json:"enabled"`
	Inverted  bool    `json:"inverted"`
	Source    string  `json:"source"`
	DriveMA   int     `json:"drive_ma"`
	Control   uint8   `json:"control"`
	Plan      Plan    `json:"plan"`
	Ratio     Ratio   `json:"ratio"`
	PLLRatio  Ratio   `json:"pll_ratio"`
	Frequency float64 `json:"frequency"` // produced frequency implied by the ratios
}

// New returns a controller for the chip behind bus. Nothing is written until
// Initialize.
func New(bus RegisterBus, load LoadCapacitance) *Synth {
	s := &Synth{bus: bus, load: load}
	s.reset()
	return s
}

func (s *Synth) reset() {
	s.outputEnable = 0xFF
	s.pllRatio = [NumPLLs]Ratio{}
	s.pllFrequency = [NumPLLs]uint64{}
	for i := range s.channels {
		s.channels[i] = channelState{drive: Drive8mA}
	}
}

// batch issues register writes. A failed write is logged and remembered;
// the writes after it still go out.
type batch struct {
	bus  RegisterBus
	errs []error
}

func (b *batch) write(addr, value uint8) {
	if err := b.bus.WriteRegister(addr, value); err != nil {
		slog.Error("Register write failed", "register", fmt.Sprintf("0x%02X", addr), "error", err)
		b.errs = append(b.errs, fmt.Errorf("write register %d: %w", addr, err))
	}
}

func (b *batch) writeBlock(base uint8, img Image) {
	if err := b.bus.WriteRegisters(base, img[:]); err != nil {
		slog.Error("Register block write failed", "register", fmt.Sprintf("0x%02X", base), "error", err)
		b.errs = append(b.errs, fmt.Errorf("write registers %d..%d: %w", base, int(base)+len(img)-1, err))
	}
}

func (b *batch) err() error { return errors.Join(b.errs...) }

// Initialize powers down every output, clears all divider blocks, sets the
// crystal load capacitance and records the reference crystal.
func (s *Synth) Initialize(nominal uint64, correction int32) error {
	b := &batch{bus: s.bus}

	b.write(RegOutputEnable, 0xFF)
	for _, regs := range channelRegs {
		b.write(regs.control, ClkPowerDown)
	}
	var zero Image
	for _, base := range []uint8{RegMSNA, RegMSNB, RegMS0, RegMS1, RegMS2} {
		b.writeBlock(base, zero)
	}
	b.write(RegCrystalLoad, uint8(s.load))

	s.reset()
	s.xtal = Crystal{Nominal: nominal, Correction: correction}

	slog.Info("Si5351 initialized",
		"crystal", nominal,
		"correction", correction,
		"effective_crystal", s.xtal.Effective())
	return b.err()
}

// Initialized reports whether a usable reference crystal has been set.
func (s *Synth) Initialized() bool {
	return s.xtal.Effective() != 0
}

// Crystal returns the reference crystal in use.
func (s *Synth) Crystal() Crystal {
	return s.xtal
}

// SetFrequency programs output ch to freq, fed from src. The PLL behind src
// is retuned and reset, which also resets the other PLL. With SourceCrystal
// the output passes the reference straight through and freq is ignored.
//
// Out of range frequencies are clamped. If no crystal has been set up the
// call does nothing.
func (s *Synth) SetFrequency(ch Channel, src Source, freq uint64) (Plan, error) {
	if !ch.valid() {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	xtal := s.xtal.Effective()
	if xtal == 0 {
		slog.Warn("Crystal not initialized, ignoring frequency change", "channel", ch.String(), "frequency", freq)
		return PlanFrequency(freq), nil
	}
	if src == SourceCrystal {
		return s.bypass(ch, freq, xtal)
	}
	pll, ok := src.PLL()
	if !ok {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidSource, src)
	}

	plan := PlanFrequency(freq)
	st := &s.channels[ch]

	// everything is computed before the first write
	pllRatio := Approximate(plan.PLLFrequency, xtal, MaxDenominator)
	pllImg := EncodePLL(pllRatio)
	msRatio := Approximate(plan.PLLFrequency, plan.Working, MaxDenominator)
	msImg := EncodeMultiSynth(msRatio, plan.Mode, plan.RDivider, plan.DivideBy4)
	control := controlByte(src, plan.Mode, st.drive, st.invert)
	oe := s.outputEnable &^ channelRegs[ch].enable

	s.warnSharedPLL(ch, src, plan.PLLFrequency)

	b := &batch{bus: s.bus}
	b.writeBlock(pllRegs[pll], pllImg)
	b.write(RegPLLReset, PLLResetA|PLLResetB)
	b.writeBlock(channelRegs[ch].params, msImg)
	b.write(channelRegs[ch].control, control)
	b.write(RegOutputEnable, oe)

	s.pllRatio[pll] = pllRatio
	s.pllFrequency[pll] = plan.PLLFrequency
	s.outputEnable = oe
	st.enabled = true
	st.source = src
	st.control = control
	st.plan = plan
	st.ratio = msRatio

	slog.Info("Frequency set",
		"channel", ch.String(),
		"requested", freq,
		"frequency", plan.Frequency,
		"pll", pll.String(),
		"pll_frequency", plan.PLLFrequency,
		"pll_ratio", pllRatio.String(),
		"ms_ratio", msRatio.String(),
		"mode", plan.Mode.String(),
		"r_div", plan.RDivider.Factor())
	return plan, b.err()
}

// bypass routes the crystal straight to the output pin.
func (s *Synth) bypass(ch Channel, freq, xtal uint64) (Plan, error) {
	st := &s.channels[ch]
	plan := Plan{Requested: freq, Frequency: xtal, Working: xtal, RDivider: Div1}
	control := controlByte(SourceCrystal, Fractional, st.drive, st.invert)
	oe := s.outputEnable &^ channelRegs[ch].enable

	b := &batch{bus: s.bus}
	b.write(channelRegs[ch].control, control)
	b.write(RegOutputEnable, oe)

	s.outputEnable = oe
	st.enabled = true
	st.source = SourceCrystal
	st.control = control
	st.plan = plan
	st.ratio = Ratio{}

	slog.Info("Crystal passthrough enabled", "channel", ch.String(), "frequency", xtal)
	return plan, b.err()
}

// warnSharedPLL logs when retuning a PLL moves another live output with it.
func (s *Synth) warnSharedPLL(ch Channel, src Source, pllFrequency uint64) {
	for i := range s.channels {
		other := &s.channels[i]
		if Channel(i) == ch || !other.enabled || other.source != src {
			continue
		}
		if other.plan.PLLFrequency != pllFrequency {
			slog.Warn("PLL shared with another output, its frequency will move",
				"channel", ch.String(),
				"other", Channel(i).String(),
				"source", src.String())
		}
	}
}

func controlByte(src Source, mode DividerMode, drive Drive, invert bool) uint8 {
	var c uint8
	switch src {
	case SourcePLLA:
		c |= ClkSrcMS
	case SourcePLLB:
		c |= ClkSrcMS | ClkSrcPLLB
	case SourceCrystal:
		c |= ClkSrcXtal
	}
	if mode == Integer {
		c |= ClkMSInt
	}
	if invert {
		c |= ClkInvert
	}
	return c | uint8(drive)&ClkDriveMask
}

// DisableChannel powers down output ch. Divider settings, including those of
// the other outputs, are left alone.
func (s *Synth) DisableChannel(ch Channel) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	st := &s.channels[ch]
	oe := s.outputEnable | channelRegs[ch].enable

	b := &batch{bus: s.bus}
	b.write(channelRegs[ch].control, st.control|ClkPowerDown)
	b.write(RegOutputEnable, oe)

	s.outputEnable = oe
	st.enabled = false

	slog.Info("Output disabled", "channel", ch.String())
	return b.err()
}

// InvertChannel sets or clears the invert bit of output ch and rewrites its
// control register. A disabled output stays powered down.
func (s *Synth) InvertChannel(ch Channel, invert bool) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	st := &s.channels[ch]
	st.invert = invert
	if invert {
		st.control |= ClkInvert
	} else {
		st.control &^= ClkInvert
	}

	slog.Info("Output invert changed", "channel", ch.String(), "invert", invert)
	return s.rewriteControl(ch)
}

// SetDrive changes the output driver strength of ch.
func (s *Synth) SetDrive(ch Channel, drive Drive) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	if drive > Drive8mA {
		return fmt.Errorf("%w: code %d", ErrInvalidDrive, drive)
	}
	st := &s.channels[ch]
	st.drive = drive
	st.control = st.control&^ClkDriveMask | uint8(drive)

	slog.Info("Output drive changed", "channel", ch.String(), "drive_ma", drive.MilliAmps())
	return s.rewriteControl(ch)
}

func (s *Synth) rewriteControl(ch Channel) error {
	st := &s.channels[ch]
	v := st.control
	if !st.enabled {
		v |= ClkPowerDown
	}
	b := &batch{bus: s.bus}
	b.write(channelRegs[ch].control, v)
	return b.err()
}

// Calibrate replaces the reference crystal and reprograms every enabled
// output from its last request: PLL outputs are retuned and crystal
// passthrough outputs pick up the new reference. A crystal whose corrected
// frequency is zero is rejected and the previous one kept.
func (s *Synth) Calibrate(nominal uint64, correction int32) error {
	xtal := Crystal{Nominal: nominal, Correction: correction}
	if xtal.Effective() == 0 {
		return fmt.Errorf("%w: %d Hz corrected by %d", ErrInvalidCrystal, nominal, correction)
	}
	s.xtal = xtal
	slog.Info("Crystal calibrated",
		"crystal", nominal,
		"correction", correction,
		"effective_crystal", s.xtal.Effective())

	var errs []error
	for i := range s.channels {
		st := s.channels[i]
		if !st.enabled {
			continue
		}
		if _, err := s.SetFrequency(Channel(i), st.source, st.plan.Requested); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channel returns a snapshot of output ch.
func (s *Synth) Channel(ch Channel) (ChannelState, error) {
	if !ch.valid() {
		return ChannelState{}, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	st := s.channels[ch]
	state := ChannelState{
		Channel:  ch.String(),
		Enabled:  st.enabled,
		Inverted: st.invert,
		Source:   st.source.String(),
		DriveMA:  st.drive.MilliAmps(),
		Control:  st.control,
		Plan:     st.plan,
		Ratio:    st.ratio,
	}
	if !st.enabled {
		return state, nil
	}
	if pll, ok := st.source.PLL(); ok {
		state.PLLRatio = s.pllRatio[pll]
		state.Frequency = outputFrequency(s.xtal.Effective(),
			EncodePLL(s.pllRatio[pll]),
			EncodeMultiSynth(st.ratio, st.plan.Mode, st.plan.RDivider, st.plan.DivideBy4))
	} else {
		state.Frequency = float64(s.xtal.Effective())
	}
	return state, nil
}

// Channels returns snapshots of all outputs.
func (s *Synth) Channels() []ChannelState {
	states := make([]ChannelState, 0, NumChannels)
	for i := 0; i < NumChannels; i++ {
		st, _ := s.Channel(Channel(i))
		states = append(states, st)
	}
	return states
}

// OutputFrequency reads the dividers of ch back from the chip and returns the
// frequency they produce. A powered down output reads as 0.
func (s *Synth) OutputFrequency(ch Channel) (float64, error) {
	if !ch.valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	control, err := s.bus.ReadRegister(channelRegs[ch].control)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s control: %w", ch, err)
	}
	if control&ClkPowerDown != 0 {
		return 0, nil
	}
	xtal := s.xtal.Effective()
	if control&ClkSrcMask == ClkSrcXtal {
		return float64(xtal), nil
	}

	pll := PLLA
	if control&ClkSrcPLLB != 0 {
		pll = PLLB
	}
	pllImg, err := readBlock(s.bus, pllRegs[pll])
	if err != nil {
		return 0, fmt.Errorf("failed to read %s parameters: %w", pll, err)
	}
	msImg, err := readBlock(s.bus, channelRegs[ch].params)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s parameters: %w", ch, err)
	}
	return outputFrequency(xtal, pllImg, msImg), nil
}

// outputFrequency is xtal * PLL ratio / multisynth ratio / R divider.
func outputFrequency(xtal uint64, pllImg, msImg Image) float64 {
	pp, _, _ := DecodeParams(pllImg)
	pllRatio, err := pp.Ratio()
	if err != nil {
		return 0
	}
	mp, rdiv, _ := DecodeParams(msImg)
	msRatio, err := mp.Ratio()
	if err != nil || msRatio.Float() == 0 {
		return 0
	}
	return float64(xtal) * pllRatio.Float() / msRatio.Float() / float64(rdiv.Factor())
}

// Status reads the device status register.
func (s *Synth) Status() (Status, error) {
	v, err := s.bus.ReadRegister(RegDeviceStatus)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read device status: %w", err)
	}
	return decodeStatus(v), nil
}

// ReadRegister reads a raw register.
func (s *Synth) ReadRegister(addr uint8) (uint8, error) {
	return s.bus.ReadRegister(addr)
}

// WriteRegister writes a raw register. The shadow state is not updated.
func (s *Synth) WriteRegister(addr uint8, value uint8) error {
	return s.bus.WriteRegister(addr, value)
}
