package si5351

import (
	"bytes"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestI2CBusWrites(t *testing.T) {
	t.Parallel()

	rec := &i2ctest.Record{}
	b := NewI2CBusOn(rec, DefaultAddress)

	if err := b.WriteRegister(RegOutputEnable, 0xFE); err != nil {
		t.Fatal(err)
	}
	block := EncodePLL(Ratio{36, 0, MaxDenominator})
	if err := b.WriteRegisters(RegMSNA, block[:]); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteRegisters(RegMSNA, nil); err == nil {
		t.Error("expected error for an empty burst")
	}

	want := []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{RegOutputEnable, 0xFE}},
		{Addr: DefaultAddress, W: append([]byte{RegMSNA}, block[:]...)},
	}
	if len(rec.Ops) != len(want) {
		t.Fatalf("%d transactions, want %d", len(rec.Ops), len(want))
	}
	for i := range want {
		if rec.Ops[i].Addr != want[i].Addr || !bytes.Equal(rec.Ops[i].W, want[i].W) || len(rec.Ops[i].R) != 0 {
			t.Errorf("op %d = %+v, want %+v", i, rec.Ops[i], want[i])
		}
	}
}

func TestI2CBusRead(t *testing.T) {
	t.Parallel()

	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{RegDeviceStatus}, R: []byte{StatusLolA | 0x02}},
			{Addr: DefaultAddress, W: []byte{RegCLK0Control}, R: []byte{0x4F}},
		},
		DontPanic: true,
	}
	b := NewI2CBusOn(pb, DefaultAddress)

	st, err := b.CheckDevice()
	if err != nil {
		t.Fatal(err)
	}
	if !st.LolA || st.LolB || st.Revision != 2 {
		t.Errorf("CheckDevice() = %+v", st)
	}
	v, err := b.ReadRegister(RegCLK0Control)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x4F {
		t.Errorf("ReadRegister = 0x%02X", v)
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

func TestI2CBusUnexpectedTransaction(t *testing.T) {
	t.Parallel()

	pb := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: DefaultAddress, W: []byte{RegOutputEnable, 0xFF}}},
		DontPanic: true,
	}
	b := NewI2CBusOn(pb, DefaultAddress)

	if err := b.WriteRegister(RegOutputEnable, 0x00); err == nil {
		t.Error("expected playback mismatch")
	}
}

// The sequence a frequency change puts on the wire: PLL block, PLL reset,
// multisynth block, control, output enable.
func TestSynthOverI2C(t *testing.T) {
	t.Parallel()

	rec := &i2ctest.Record{}
	s := New(NewI2CBusOn(rec, DefaultAddress), Load8pF)
	if err := s.Initialize(Crystal25MHz, 0); err != nil {
		t.Fatal(err)
	}
	rec.Ops = nil

	if _, err := s.SetFrequency(Clk0, SourcePLLA, 10_000_000); err != nil {
		t.Fatal(err)
	}

	pll := EncodePLL(Ratio{36, 0, MaxDenominator})
	ms := EncodeMultiSynth(Ratio{90, 0, MaxDenominator}, Fractional, Div1, false)
	want := [][]byte{
		append([]byte{RegMSNA}, pll[:]...),
		{RegPLLReset, PLLResetA | PLLResetB},
		append([]byte{RegMS0}, ms[:]...),
		{RegCLK0Control, ClkSrcMS | uint8(Drive8mA)},
		{RegOutputEnable, 0xFE},
	}
	if len(rec.Ops) != len(want) {
		t.Fatalf("%d transactions, want %d", len(rec.Ops), len(want))
	}
	for i, w := range want {
		if !bytes.Equal(rec.Ops[i].W, w) {
			t.Errorf("op %d wrote % X, want % X", i, rec.Ops[i].W, w)
		}
	}
}
