package si5351

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// OutputEnablePin drives the chip's active low OEB pin. Outputs enabled in
// register 3 only run while the pin is low.
type OutputEnablePin struct {
	chip     *gpiocdev.Chip
	line     *gpiocdev.Line
	chipPath string
	pin      int
	enabled  bool
}

// NewOutputEnablePin requests pin on chipPath as an output, initially high
// (outputs held off).
func NewOutputEnablePin(chipPath string, pin int) (*OutputEnablePin, error) {
	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	line, err := chip.RequestLine(
		pin,
		gpiocdev.AsOutput(1),
		gpiocdev.WithConsumer("si5351-oeb"),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request OEB pin %d: %w", pin, err)
	}

	return &OutputEnablePin{
		chip:     chip,
		line:     line,
		chipPath: chipPath,
		pin:      pin,
	}, nil
}

// SetEnabled drives OEB low to let the outputs run, high to stop them.
func (o *OutputEnablePin) SetEnabled(enabled bool) error {
	if o.line == nil {
		return fmt.Errorf("OEB line not initialized")
	}

	value := 1
	if enabled {
		value = 0
	}
	if err := o.line.SetValue(value); err != nil {
		return fmt.Errorf("failed to set OEB pin to %d: %w", value, err)
	}
	o.enabled = enabled
	return nil
}

// Enabled reports the last state set.
func (o *OutputEnablePin) Enabled() bool {
	return o.enabled
}

// Close releases the line and the chip.
func (o *OutputEnablePin) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close OEB line: %w", err))
		}
		o.line = nil
	}

	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
		}
		o.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing GPIO: %v", errs)
	}
	return nil
}

// Info describes the pin
func (o *OutputEnablePin) Info() string {
	if o.chip == nil {
		return fmt.Sprintf("GPIO: %s (closed)", o.chipPath)
	}
	return fmt.Sprintf("GPIO: %s (%s, %s), OEB Pin: %d", o.chipPath, o.chip.Name, o.chip.Label, o.pin)
}
