package si5351

import "fmt"

// DividerMode selects how the output multisynth is programmed.
type DividerMode uint8

const (
	Fractional DividerMode = iota
	Integer
)

func (m DividerMode) String() string {
	if m == Integer {
		return "integer"
	}
	return "fractional"
}

// RDivider is the power of two output divider after the multisynth. The value
// is the 3 bit log2 code written to the R0_DIV field.
type RDivider uint8

const (
	Div1   RDivider = 0
	Div4   RDivider = 2
	Div16  RDivider = 4
	Div128 RDivider = 7
)

// Factor returns the division factor, 1 << code.
func (r RDivider) Factor() uint64 { return 1 << (r & 0x7) }

func (r RDivider) String() string { return fmt.Sprintf("/%d", r.Factor()) }

// Image is the 8 byte register block of one PLL or multisynth.
type Image [ParamBlockLength]byte

// Params are the P1, P2, P3 fields the chip derives a + b/c from.
type Params struct {
	P1 uint32 `json:"p1"` // 18 bits
	P2 uint32 `json:"p2"` // 20 bits
	P3 uint32 `json:"p3"` // 20 bits
}

// integerParams is the encoding forced for integer mode multisynths.
var integerParams = Params{P1: 0, P2: 0, P3: 1}

// ParamsOf encodes r as defined in AN619:
//
//	P1 = 128*a + floor(128*b/c) - 512
//	P2 = 128*b - c*floor(128*b/c)
//	P3 = c
func ParamsOf(r Ratio) Params {
	a, b, c := uint64(r.A), uint64(r.B), uint64(r.C)
	if c == 0 {
		c = 1
	}
	t := 128 * b / c
	return Params{
		P1: uint32((128*a + t - 512) & 0x3FFFF),
		P2: uint32((128*b - c*t) & 0xFFFFF),
		P3: uint32(c & 0xFFFFF),
	}
}

// Ratio inverts ParamsOf. It fails when P3 is zero.
func (p Params) Ratio() (Ratio, error) {
	if p.P3 == 0 {
		return Ratio{}, fmt.Errorf("invalid parameters %+v: P3 is zero", p)
	}
	// P1 + 512 = 128*a + t with 0 <= t < 128
	x := uint64(p.P1) + 512
	a := x / 128
	t := x % 128
	b := (uint64(p.P2) + uint64(p.P3)*t) / 128
	return Ratio{A: uint32(a), B: uint32(b), C: p.P3}, nil
}

func (p Params) pack(rdiv RDivider, divBy4 bool) Image {
	var img Image
	img[0] = byte(p.P3 >> 8)
	img[1] = byte(p.P3)
	img[2] = byte(p.P1>>16) & 0x03
	img[2] |= byte(rdiv&0x7) << 4
	if divBy4 {
		img[2] |= 0x3 << 2
	}
	img[3] = byte(p.P1 >> 8)
	img[4] = byte(p.P1)
	img[5] = byte((p.P3>>16)&0xF)<<4 | byte((p.P2>>16)&0xF)
	img[6] = byte(p.P2 >> 8)
	img[7] = byte(p.P2)
	return img
}

// EncodePLL returns the feedback multisynth block for a PLL ratio.
func EncodePLL(r Ratio) Image {
	return ParamsOf(r).pack(Div1, false)
}

// EncodeMultiSynth returns the output multisynth block. Integer mode forces
// P1=0, P2=0, P3=1 whatever the ratio.
func EncodeMultiSynth(r Ratio, mode DividerMode, rdiv RDivider, divBy4 bool) Image {
	p := ParamsOf(r)
	if mode == Integer {
		p = integerParams
	}
	return p.pack(rdiv, divBy4)
}

// DecodeParams unpacks a block written by EncodePLL or EncodeMultiSynth.
func DecodeParams(img Image) (p Params, rdiv RDivider, divBy4 bool) {
	p.P3 = uint32(img[5]>>4)<<16 | uint32(img[0])<<8 | uint32(img[1])
	p.P1 = uint32(img[2]&0x03)<<16 | uint32(img[3])<<8 | uint32(img[4])
	p.P2 = uint32(img[5]&0x0F)<<16 | uint32(img[6])<<8 | uint32(img[7])
	rdiv = RDivider((img[2] >> 4) & 0x7)
	divBy4 = (img[2]>>2)&0x3 == 0x3
	return p, rdiv, divBy4
}
