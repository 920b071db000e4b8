package si5351

import (
	"fmt"
	"sync"
)

// RegisterBus is byte oriented register access to the chip. Implementations
// own bus setup and device addressing.
type RegisterBus interface {
	WriteRegister(addr uint8, value uint8) error
	WriteRegisters(base uint8, data []byte) error
	ReadRegister(addr uint8) (uint8, error)
}

// MemoryBus is a register file in memory. It stands in for the chip in dry
// run mode and in tests.
type MemoryBus struct {
	mu     sync.Mutex
	regs   [256]uint8
	writes int

	// FailWrites makes writes to the listed registers fail.
	FailWrites map[uint8]bool
}

// NewMemoryBus returns an empty register file with the chip's power-on
// output state: all outputs disabled.
func NewMemoryBus() *MemoryBus {
	m := &MemoryBus{}
	m.regs[RegOutputEnable] = 0xFF
	return m
}

func (m *MemoryBus) WriteRegister(addr uint8, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites[addr] {
		return fmt.Errorf("failed to write register 0x%02X: simulated fault", addr)
	}
	m.regs[addr] = value
	m.writes++
	return nil
}

func (m *MemoryBus) WriteRegisters(base uint8, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(base)+len(data) > len(m.regs) {
		return fmt.Errorf("burst write of %d bytes at 0x%02X runs past the register map", len(data), base)
	}
	for i := range data {
		if m.FailWrites[base+uint8(i)] {
			return fmt.Errorf("failed to burst write starting at 0x%02X: simulated fault", base)
		}
	}
	copy(m.regs[base:], data)
	m.writes++
	return nil
}

func (m *MemoryBus) ReadRegister(addr uint8) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr], nil
}

// Register returns a register without going through the bus interface.
func (m *MemoryBus) Register(addr uint8) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

// Block returns a copy of the 8 byte parameter block at base.
func (m *MemoryBus) Block(base uint8) Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	var img Image
	copy(img[:], m.regs[base:])
	return img
}

// Writes counts successful write transactions.
func (m *MemoryBus) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// readBlock reads a parameter block one register at a time.
func readBlock(bus RegisterBus, base uint8) (Image, error) {
	var img Image
	for i := range img {
		v, err := bus.ReadRegister(base + uint8(i))
		if err != nil {
			return Image{}, err
		}
		img[i] = v
	}
	return img, nil
}
