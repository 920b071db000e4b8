package si5351

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Si5351 register addresses
const (
	RegDeviceStatus  = 0   // SYS_INIT, LOL_B, LOL_A, LOS, REVID
	RegIntStatus     = 1   // Sticky interrupt status
	RegOutputEnable  = 3   // One bit per output, 1 disables
	RegOEBPinEnable  = 9   // OEB pin enable control mask
	RegPLLInputSrc   = 15  // PLL input source
	RegCLK0Control   = 16  // CLK0 control
	RegCLK1Control   = 17  // CLK1 control
	RegCLK2Control   = 18  // CLK2 control
	RegMSNA          = 26  // PLL A feedback multisynth parameters (8 bytes)
	RegMSNB          = 34  // PLL B feedback multisynth parameters (8 bytes)
	RegMS0           = 42  // Output multisynth 0 parameters (8 bytes)
	RegMS1           = 50  // Output multisynth 1 parameters (8 bytes)
	RegMS2           = 58  // Output multisynth 2 parameters (8 bytes)
	RegPLLReset      = 177 // PLL soft reset
	RegCrystalLoad   = 183 // Crystal internal load capacitance
	RegFanoutEnable  = 187 // Fanout enable
	ParamBlockLength = 8   // Length of every P1/P2/P3 parameter block
)

// RegDeviceStatus (0) bits
const (
	StatusSysInit = 1 << 7 // Device is in system initialization
	StatusLolB    = 1 << 6 // PLL B loss of lock
	StatusLolA    = 1 << 5 // PLL A loss of lock
	StatusLos     = 1 << 4 // Loss of signal on CLKIN
	StatusRevMask = 0x03   // Revision ID
)

// CLKx control register bits
const (
	ClkPowerDown = 1 << 7 // Power down the output driver
	ClkMSInt     = 1 << 6 // Multisynth integer mode
	ClkSrcPLLB   = 1 << 5 // Multisynth fed by PLL B (clear for PLL A)
	ClkInvert    = 1 << 4 // Invert the output
	ClkSrcMask   = 3 << 2 // Output source select
	ClkSrcXtal   = 0 << 2 // Crystal passthrough
	ClkSrcClkIn  = 1 << 2 // CLKIN passthrough
	ClkSrcMS     = 3 << 2 // Own multisynth
	ClkDriveMask = 3      // Output drive strength
)

// RegPLLReset (177) bits
const (
	PLLResetB = 1 << 7
	PLLResetA = 1 << 5
)

// RegCrystalLoad (183) values. Bits 5:0 must be written as 010010b.
const (
	crystalLoadReserved = 0x12
)

// RegisterDescriptions names the registers this driver touches, for the UI
var RegisterDescriptions = map[uint8]string{
	RegDeviceStatus: "DEVICE_STATUS - SYS_INIT, LOL_B, LOL_A, LOS, REVID",
	RegIntStatus:    "INT_STATUS - Sticky interrupt status",
	RegOutputEnable: "OUTPUT_ENABLE - 1 disables CLKx",
	RegOEBPinEnable: "OEB_PIN_ENABLE - OEB pin control mask",
	RegPLLInputSrc:  "PLL_INPUT_SRC - PLL reference select",
	RegCLK0Control:  "CLK0_CONTROL - Power, source, invert, drive",
	RegCLK1Control:  "CLK1_CONTROL - Power, source, invert, drive",
	RegCLK2Control:  "CLK2_CONTROL - Power, source, invert, drive",
	RegMSNA:         "MSNA - PLL A parameters (P3[15:8])",
	RegMSNB:         "MSNB - PLL B parameters (P3[15:8])",
	RegMS0:          "MS0 - Multisynth 0 parameters (P3[15:8])",
	RegMS1:          "MS1 - Multisynth 1 parameters (P3[15:8])",
	RegMS2:          "MS2 - Multisynth 2 parameters (P3[15:8])",
	RegPLLReset:     "PLL_RESET - Soft reset PLL A/B",
	RegCrystalLoad:  "XTAL_CL - Crystal load capacitance",
	RegFanoutEnable: "FANOUT_ENABLE - CLKIN/XO/MS fanout",
}

// DumpRegisters lists the registers read back by the register dump
var DumpRegisters = func() []uint8 {
	regs := []uint8{RegDeviceStatus, RegIntStatus, RegOutputEnable, RegOEBPinEnable, RegPLLInputSrc,
		RegCLK0Control, RegCLK1Control, RegCLK2Control}
	for _, base := range []uint8{RegMSNA, RegMSNB, RegMS0, RegMS1, RegMS2} {
		for i := uint8(0); i < ParamBlockLength; i++ {
			regs = append(regs, base+i)
		}
	}
	return append(regs, RegPLLReset, RegCrystalLoad, RegFanoutEnable)
}()

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidSource  = errors.New("invalid clock source")
	ErrInvalidDrive   = errors.New("invalid drive strength")
	ErrInvalidLoad    = errors.New("invalid crystal load capacitance")
	ErrInvalidCrystal = errors.New("invalid crystal frequency")
)

// Channel identifies one of the three outputs.
type Channel uint8

const (
	Clk0 Channel = iota
	Clk1
	Clk2
	NumChannels = 3
)

var channelRegs = [NumChannels]struct {
	control uint8
	params  uint8
	enable  uint8
}{
	Clk0: {RegCLK0Control, RegMS0, 1 << 0},
	Clk1: {RegCLK1Control, RegMS1, 1 << 1},
	Clk2: {RegCLK2Control, RegMS2, 1 << 2},
}

// ParseChannel accepts "0", "1", "2" or "clk0".."clk2".
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "clk")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= NumChannels {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return Channel(n), nil
}

func (c Channel) valid() bool { return c < NumChannels }

func (c Channel) String() string { return fmt.Sprintf("CLK%d", uint8(c)) }

// PLL identifies one of the two feedback PLLs.
type PLL uint8

const (
	PLLA PLL = iota
	PLLB
	NumPLLs = 2
)

var pllRegs = [NumPLLs]uint8{PLLA: RegMSNA, PLLB: RegMSNB}

func (p PLL) String() string {
	if p == PLLB {
		return "PLLB"
	}
	return "PLLA"
}

// Source selects what feeds an output.
type Source uint8

const (
	SourcePLLA Source = iota
	SourcePLLB
	SourceCrystal
)

// ParseSource accepts "pll_a", "a", "pll_b", "b", "xtal" or "crystal".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a", "plla", "pll_a":
		return SourcePLLA, nil
	case "b", "pllb", "pll_b":
		return SourcePLLB, nil
	case "xtal", "crystal":
		return SourceCrystal, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSource, s)
}

// PLL returns the PLL driving the source. ok is false for the crystal bypass.
func (s Source) PLL() (pll PLL, ok bool) {
	switch s {
	case SourcePLLA:
		return PLLA, true
	case SourcePLLB:
		return PLLB, true
	}
	return 0, false
}

func (s Source) String() string {
	switch s {
	case SourcePLLA:
		return "pll_a"
	case SourcePLLB:
		return "pll_b"
	case SourceCrystal:
		return "xtal"
	}
	return fmt.Sprintf("Source(%d)", uint8(s))
}

// Drive is the output driver strength, encoded as in CLKx_CONTROL bits 1:0.
type Drive uint8

const (
	Drive2mA Drive = iota
	Drive4mA
	Drive6mA
	Drive8mA
)

// ParseDrive converts a current in mA (2, 4, 6 or 8) to a Drive.
func ParseDrive(mA int) (Drive, error) {
	switch mA {
	case 2, 4, 6, 8:
		return Drive(mA/2 - 1), nil
	}
	return 0, fmt.Errorf("%w: %d mA", ErrInvalidDrive, mA)
}

// MilliAmps returns the drive current.
func (d Drive) MilliAmps() int { return (int(d&ClkDriveMask) + 1) * 2 }

// LoadCapacitance is the internal crystal load setting (register 183).
type LoadCapacitance uint8

const (
	Load6pF  LoadCapacitance = 1<<6 | crystalLoadReserved
	Load8pF  LoadCapacitance = 2<<6 | crystalLoadReserved
	Load10pF LoadCapacitance = 3<<6 | crystalLoadReserved
)

// ParseLoadCapacitance converts 6, 8 or 10 pF to a register value. Zero
// selects the 8 pF default used by most breakout boards.
func ParseLoadCapacitance(pF int) (LoadCapacitance, error) {
	switch pF {
	case 6:
		return Load6pF, nil
	case 0, 8:
		return Load8pF, nil
	case 10:
		return Load10pF, nil
	}
	return 0, fmt.Errorf("%w: %d pF", ErrInvalidLoad, pF)
}

// Status is the decoded device status register.
type Status struct {
	SysInit  bool  `json:"sys_init"`
	LolA     bool  `json:"pll_a_unlocked"`
	LolB     bool  `json:"pll_b_unlocked"`
	Los      bool  `json:"clkin_lost"`
	Revision uint8 `json:"revision"`
}

func decodeStatus(v uint8) Status {
	return Status{
		SysInit:  v&StatusSysInit != 0,
		LolA:     v&StatusLolA != 0,
		LolB:     v&StatusLolB != 0,
		Los:      v&StatusLos != 0,
		Revision: v & StatusRevMask,
	}
}
