package si5351

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultAddress is the Si5351A 7 bit I2C address.
const DefaultAddress = 0x60

// I2CBus is a RegisterBus on an I2C bus opened through periph.io
type I2CBus struct {
	dev   *i2c.Dev
	bus   i2c.BusCloser
	name  string
	speed physic.Frequency
}

// NewI2CBus opens the named I2C bus ("" picks the first one, "1" or
// "/dev/i2c-1" pick a specific one) and addresses the chip at addr.
// A zero speed keeps the bus default.
func NewI2CBus(name string, addr uint16, speedHz uint32) (*I2CBus, error) {
	// Initialize periph.io host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", name, err)
	}

	speed := physic.Frequency(speedHz) * physic.Hertz
	if speedHz != 0 {
		if err := bus.SetSpeed(speed); err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to set I2C speed to %s: %w", speed, err)
		}
	}

	b := NewI2CBusOn(bus, addr)
	b.bus = bus
	b.name = name
	b.speed = speed
	return b, nil
}

// NewI2CBusOn addresses the chip on an already open bus. The caller keeps
// ownership of bus.
func NewI2CBusOn(bus i2c.Bus, addr uint16) *I2CBus {
	return &I2CBus{
		dev:  &i2c.Dev{Bus: bus, Addr: addr},
		name: bus.String(),
	}
}

// Close releases the bus if NewI2CBus opened it.
func (b *I2CBus) Close() error {
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

// WriteRegister writes one register: address byte then value.
func (b *I2CBus) WriteRegister(addr uint8, value uint8) error {
	if _, err := b.dev.Write([]byte{addr, value}); err != nil {
		return fmt.Errorf("failed to write register 0x%02X: %w", addr, err)
	}
	return nil
}

// WriteRegisters writes consecutive registers in one transaction; the chip
// auto-increments the register address.
func (b *I2CBus) WriteRegisters(base uint8, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("no values to write")
	}

	tx := make([]byte, len(data)+1)
	tx[0] = base
	copy(tx[1:], data)

	if _, err := b.dev.Write(tx); err != nil {
		return fmt.Errorf("failed to burst write starting at 0x%02X: %w", base, err)
	}
	return nil
}

// ReadRegister writes the register address and reads one byte back.
func (b *I2CBus) ReadRegister(addr uint8) (uint8, error) {
	rx := make([]byte, 1)
	if err := b.dev.Tx([]byte{addr}, rx); err != nil {
		return 0, fmt.Errorf("failed to read register 0x%02X: %w", addr, err)
	}
	return rx[0], nil
}

// CheckDevice verifies I2C communication by reading the status register
func (b *I2CBus) CheckDevice() (Status, error) {
	v, err := b.ReadRegister(RegDeviceStatus)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read status register: %w", err)
	}
	return decodeStatus(v), nil
}

// DeviceInfo describes the bus and address
func (b *I2CBus) DeviceInfo() string {
	if b.speed != 0 {
		return fmt.Sprintf("Bus: %s, Address: 0x%02X, Speed: %s", b.name, b.dev.Addr, b.speed)
	}
	return fmt.Sprintf("Bus: %s, Address: 0x%02X", b.name, b.dev.Addr)
}
