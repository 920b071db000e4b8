package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/clockgen/calibration"
	"github.com/linht/clockgen/si5351"
	"gopkg.in/yaml.v3"
)

// ClockgenPlugin exposes an Si5351 clock generator over HTTP.
// The chip is opened once at startup and kept for the life of the process.
type ClockgenPlugin struct {
	config ClockgenConfig

	mu    sync.Mutex
	synth *si5351.Synth
	bus   si5351.RegisterBus
	oe    *si5351.OutputEnablePin
	store *calibration.Store
	cal   calibration.Record

	streams streamRegistry
}

// ClockgenConfig holds the clockgen plugin configuration
type ClockgenConfig struct {
	I2CBus          string         `yaml:"i2c_bus" json:"i2c_bus"`
	Address         uint16         `yaml:"address" json:"address"`
	I2CSpeed        uint32         `yaml:"i2c_speed" json:"i2c_speed"`
	Crystal         uint64         `yaml:"crystal" json:"crystal"`
	LoadCapacitance int            `yaml:"load_capacitance" json:"load_capacitance"`
	CalibrationFile string         `yaml:"calibration_file" json:"calibration_file"`
	DryRun          bool           `yaml:"dry_run" json:"dry_run"`
	OEGPIOChip      string         `yaml:"oe_gpio_chip" json:"oe_gpio_chip"`
	OEPin           int            `yaml:"oe_pin" json:"oe_pin"`
	StatusInterval  time.Duration  `yaml:"status_interval" json:"status_interval"`
	Outputs         []OutputPreset `yaml:"outputs" json:"outputs"`
}

// OutputPreset is an output programmed at startup.
type OutputPreset struct {
	Channel   string `yaml:"channel" json:"channel"`
	Source    string `yaml:"source" json:"source"`
	Frequency uint64 `yaml:"frequency" json:"frequency"`
	DriveMA   int    `yaml:"drive_ma" json:"drive_ma"`
	Invert    bool   `yaml:"invert" json:"invert"`
}

// NewClockgenPlugin opens the chip described by cfg, loads the calibration
// record and programs the configured outputs.
func NewClockgenPlugin(cfg ClockgenConfig) (*ClockgenPlugin, error) {
	cfg = withClockgenDefaults(cfg)

	slog.Info("Clockgen plugin initializing",
		"i2c_bus", cfg.I2CBus,
		"address", fmt.Sprintf("0x%02X", cfg.Address),
		"i2c_speed", cfg.I2CSpeed,
		"crystal", cfg.Crystal,
		"load_capacitance", cfg.LoadCapacitance,
		"calibration_file", cfg.CalibrationFile,
		"dry_run", cfg.DryRun)

	var bus si5351.RegisterBus
	if cfg.DryRun {
		bus = si5351.NewMemoryBus()
	} else {
		i2cBus, err := si5351.NewI2CBus(cfg.I2CBus, cfg.Address, cfg.I2CSpeed)
		if err != nil {
			return nil, err
		}
		status, err := i2cBus.CheckDevice()
		if err != nil {
			i2cBus.Close()
			return nil, err
		}
		slog.Info("Si5351 found", "device", i2cBus.DeviceInfo(), "revision", status.Revision)
		bus = i2cBus
	}

	p, err := newClockgenPlugin(cfg, bus)
	if err != nil {
		closeBus(bus)
		return nil, err
	}
	return p, nil
}

func withClockgenDefaults(cfg ClockgenConfig) ClockgenConfig {
	if cfg.Address == 0 {
		cfg.Address = si5351.DefaultAddress
	}
	if cfg.Crystal == 0 {
		cfg.Crystal = si5351.Crystal25MHz
	}
	if cfg.LoadCapacitance == 0 {
		cfg.LoadCapacitance = 8
	}
	if cfg.CalibrationFile == "" {
		cfg.CalibrationFile = "calibration.yaml"
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	return cfg
}

// newClockgenPlugin sets up the plugin on an already open bus.
func newClockgenPlugin(cfg ClockgenConfig, bus si5351.RegisterBus) (*ClockgenPlugin, error) {
	load, err := si5351.ParseLoadCapacitance(cfg.LoadCapacitance)
	if err != nil {
		return nil, err
	}

	store, err := calibration.NewStore(cfg.CalibrationFile, cfg.Crystal)
	if err != nil {
		return nil, err
	}
	cal, err := store.Load()
	if err != nil {
		return nil, err
	}

	p := &ClockgenPlugin{
		config: cfg,
		synth:  si5351.New(bus, load),
		bus:    bus,
		store:  store,
		cal:    cal,
	}

	// bus faults are logged and startup goes on, bad settings stop it
	if err := p.synth.Initialize(cal.Crystal, cal.Correction); err != nil {
		slog.Error("Si5351 initialization incomplete", "error", err)
	}

	for _, preset := range cfg.Outputs {
		err := p.applyPreset(preset)
		if err == nil {
			continue
		}
		if isConfigError(err) {
			return nil, fmt.Errorf("output preset %s: %w", preset.Channel, err)
		}
		slog.Error("Output preset incomplete", "channel", preset.Channel, "error", err)
	}

	if cfg.OEGPIOChip != "" {
		oe, err := si5351.NewOutputEnablePin(cfg.OEGPIOChip, cfg.OEPin)
		if err != nil {
			return nil, err
		}
		if err := oe.SetEnabled(true); err != nil {
			oe.Close()
			return nil, err
		}
		slog.Info("Output enable pin ready", "gpio", oe.Info())
		p.oe = oe
	}

	return p, nil
}

// applyPreset validates the whole preset before touching the chip, then
// runs every step even if an earlier write failed.
func (p *ClockgenPlugin) applyPreset(preset OutputPreset) error {
	ch, err := si5351.ParseChannel(preset.Channel)
	if err != nil {
		return err
	}
	src, err := si5351.ParseSource(preset.Source)
	if err != nil {
		return err
	}
	drive := si5351.Drive8mA
	if preset.DriveMA != 0 {
		if drive, err = si5351.ParseDrive(preset.DriveMA); err != nil {
			return err
		}
	}

	var errs []error
	if preset.DriveMA != 0 {
		errs = append(errs, p.synth.SetDrive(ch, drive))
	}
	if preset.Invert {
		errs = append(errs, p.synth.InvertChannel(ch, true))
	}
	_, err = p.synth.SetFrequency(ch, src, preset.Frequency)
	errs = append(errs, err)
	return errors.Join(errs...)
}

func closeBus(bus si5351.RegisterBus) error {
	if c, ok := bus.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Name returns the plugin identifier
func (p *ClockgenPlugin) Name() string {
	return "clockgen"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *ClockgenPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/clockgen")

	api.Get("/status", p.handleStatus)
	api.Get("/info", p.handleInfo)
	api.Get("/plan", p.handlePlan)

	// Output control endpoints
	api.Get("/channels/:ch", p.handleGetChannel)
	api.Post("/channels/:ch/frequency", p.handleSetFrequency)
	api.Post("/channels/:ch/disable", p.handleDisable)
	api.Post("/channels/:ch/invert", p.handleInvert)
	api.Post("/channels/:ch/drive", p.handleDrive)

	api.Get("/calibration", p.handleGetCalibration)
	api.Post("/calibration", p.handleSetCalibration)

	// Register access endpoints
	api.Get("/registers", p.handleReadAllRegisters)
	api.Get("/register/:addr", p.handleReadRegister)
	api.Post("/register/:addr", p.handleWriteRegister)

	api.Post("/oe", p.handleSetOutputEnable)

	p.registerStream(api)

	slog.Info("Clockgen plugin routes registered")
}

// Shutdown releases the bus and the OEB pin. The outputs keep running.
func (p *ClockgenPlugin) Shutdown() error {
	p.streams.closeAll()

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.oe != nil {
		if err := p.oe.Close(); err != nil {
			errs = append(errs, err)
		}
		p.oe = nil
	}
	if err := closeBus(p.bus); err != nil {
		errs = append(errs, fmt.Errorf("failed to close I2C bus: %w", err))
	}
	return errors.Join(errs...)
}

// withSynth runs fn with exclusive access to the synthesizer
func (p *ClockgenPlugin) withSynth(fn func(*si5351.Synth) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p.synth)
}

type statusSnapshot struct {
	Status      si5351.Status         `json:"status"`
	Initialized bool                  `json:"initialized"`
	Crystal     si5351.Crystal        `json:"crystal"`
	Effective   uint64                `json:"effective_crystal"`
	Channels    []si5351.ChannelState `json:"channels"`
	OutputPin   *bool                 `json:"output_pin,omitempty"`
}

func (p *ClockgenPlugin) snapshot() (statusSnapshot, error) {
	var snap statusSnapshot
	err := p.withSynth(func(s *si5351.Synth) error {
		status, err := s.Status()
		if err != nil {
			return err
		}
		snap = statusSnapshot{
			Status:      status,
			Initialized: s.Initialized(),
			Crystal:     s.Crystal(),
			Effective:   s.Crystal().Effective(),
			Channels:    s.Channels(),
		}
		if p.oe != nil {
			enabled := p.oe.Enabled()
			snap.OutputPin = &enabled
		}
		return nil
	})
	return snap, err
}

func (p *ClockgenPlugin) handleStatus(c *fiber.Ctx) error {
	snap, err := p.snapshot()
	if err != nil {
		return SendError(c, err)
	}
	return SendSuccess(c, snap, "")
}

func (p *ClockgenPlugin) handleInfo(c *fiber.Ctx) error {
	info := map[string]interface{}{
		"config":  p.config,
		"dry_run": p.config.DryRun,
		"streams": p.streams.count(),
	}
	if b, ok := p.bus.(*si5351.I2CBus); ok {
		info["device"] = b.DeviceInfo()
	}
	p.mu.Lock()
	if p.oe != nil {
		info["gpio"] = p.oe.Info()
	}
	p.mu.Unlock()
	return SendSuccess(c, info, "")
}

func (p *ClockgenPlugin) handlePlan(c *fiber.Ctx) error {
	freq, err := strconv.ParseUint(c.Query("frequency"), 10, 64)
	if err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid frequency")
	}

	plan := si5351.PlanFrequency(freq)
	result := map[string]interface{}{
		"plan":    plan,
		"clamped": plan.Clamped(),
	}

	p.mu.Lock()
	xtal := p.synth.Crystal().Effective()
	p.mu.Unlock()
	if xtal != 0 {
		result["pll_ratio"] = si5351.Approximate(plan.PLLFrequency, xtal, si5351.MaxDenominator)
		result["ms_ratio"] = si5351.Approximate(plan.PLLFrequency, plan.Working, si5351.MaxDenominator)
	}
	return SendSuccess(c, result, "")
}

// Output control handlers

func (p *ClockgenPlugin) handleGetChannel(c *fiber.Ctx) error {
	ch, err := si5351.ParseChannel(c.Params("ch"))
	if err != nil {
		return SendError(c, err)
	}

	var state si5351.ChannelState
	var measured float64
	err = p.withSynth(func(s *si5351.Synth) error {
		var err error
		if state, err = s.Channel(ch); err != nil {
			return err
		}
		measured, err = s.OutputFrequency(ch)
		return err
	})
	if err != nil {
		return SendError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"state":              state,
		"readback_frequency": measured,
	}, "")
}

func (p *ClockgenPlugin) handleSetFrequency(c *fiber.Ctx) error {
	ch, err := si5351.ParseChannel(c.Params("ch"))
	if err != nil {
		return SendError(c, err)
	}

	var req struct {
		Frequency uint64 `json:"frequency"`
		Source    string `json:"source"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}
	src, err := si5351.ParseSource(req.Source)
	if err != nil {
		return SendError(c, err)
	}

	var plan si5351.Plan
	var state si5351.ChannelState
	err = p.withSynth(func(s *si5351.Synth) error {
		if !s.Initialized() {
			return ErrNotInitialized
		}
		var err error
		plan, err = s.SetFrequency(ch, src, req.Frequency)
		state, _ = s.Channel(ch)
		return err
	})
	if err != nil {
		return SendError(c, err)
	}

	msg := fmt.Sprintf("%s set to %d Hz", ch, plan.Frequency)
	switch {
	case src == si5351.SourceCrystal:
		msg = fmt.Sprintf("%s passes the crystal through", ch)
	case plan.Clamped():
		msg = fmt.Sprintf("%s clamped to %d Hz", ch, plan.Frequency)
	}
	return SendSuccess(c, map[string]interface{}{
		"plan":  plan,
		"state": state,
	}, msg)
}

func (p *ClockgenPlugin) handleDisable(c *fiber.Ctx) error {
	ch, err := si5351.ParseChannel(c.Params("ch"))
	if err != nil {
		return SendError(c, err)
	}

	err = p.withSynth(func(s *si5351.Synth) error {
		return s.DisableChannel(ch)
	})
	if err != nil {
		return SendError(c, err)
	}
	return SendSuccess(c, nil, fmt.Sprintf("%s disabled", ch))
}

func (p *ClockgenPlugin) handleInvert(c *fiber.Ctx) error {
	ch, err := si5351.ParseChannel(c.Params("ch"))
	if err != nil {
		return SendError(c, err)
	}

	var req struct {
		Invert bool `json:"invert"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}

	err = p.withSynth(func(s *si5351.Synth) error {
		return s.InvertChannel(ch, req.Invert)
	})
	if err != nil {
		return SendError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{
		"invert": req.Invert,
	}, fmt.Sprintf("%s invert %s", ch, map[bool]string{true: "on", false: "off"}[req.Invert]))
}

func (p *ClockgenPlugin) handleDrive(c *fiber.Ctx) error {
	ch, err := si5351.ParseChannel(c.Params("ch"))
	if err != nil {
		return SendError(c, err)
	}

	var req struct {
		DriveMA int `json:"drive_ma"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}
	drive, err := si5351.ParseDrive(req.DriveMA)
	if err != nil {
		return SendError(c, err)
	}

	err = p.withSynth(func(s *si5351.Synth) error {
		return s.SetDrive(ch, drive)
	})
	if err != nil {
		return SendError(c, err)
	}
	return SendSuccess(c, map[string]interface{}{
		"drive_ma": drive.MilliAmps(),
	}, fmt.Sprintf("%s drive set to %d mA", ch, drive.MilliAmps()))
}

// Calibration handlers

func (p *ClockgenPlugin) handleGetCalibration(c *fiber.Ctx) error {
	p.mu.Lock()
	cal := p.cal
	p.mu.Unlock()

	return SendSuccess(c, map[string]interface{}{
		"calibration": cal,
		"file":        p.store.Path(),
	}, "")
}

func (p *ClockgenPlugin) handleSetCalibration(c *fiber.Ctx) error {
	var req struct {
		Correction int32  `json:"correction"`
		Crystal    uint64 `json:"crystal"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}

	var cal calibration.Record
	err := p.withSynth(func(s *si5351.Synth) error {
		nominal := req.Crystal
		if nominal == 0 {
			nominal = p.cal.Crystal
		}
		xtal := si5351.Crystal{Nominal: nominal, Correction: req.Correction}
		if xtal.Effective() == 0 {
			return fmt.Errorf("%w: correction %d leaves no reference", si5351.ErrInvalidCrystal, req.Correction)
		}

		cal = calibration.Record{
			Flag:             calibration.Header,
			Correction:       req.Correction,
			Crystal:          nominal,
			CorrectedCrystal: xtal.Effective(),
		}
		if err := p.store.Save(cal); err != nil {
			return err
		}
		p.cal = cal
		return s.Calibrate(nominal, req.Correction)
	})
	if err != nil {
		return SendError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"calibration": cal,
	}, "Calibration saved")
}

// Register access handlers

func (p *ClockgenPlugin) handleReadRegister(c *fiber.Ctx) error {
	addr, err := c.ParamsInt("addr")
	if err != nil || addr < 0 || addr > 0xFF {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid register address")
	}

	var value uint8
	err = p.withSynth(func(s *si5351.Synth) error {
		var err error
		value, err = s.ReadRegister(uint8(addr))
		return err
	})
	if err != nil {
		return SendError(c, err)
	}

	return SendSuccess(c, registerEntry(uint8(addr), value), "")
}

func (p *ClockgenPlugin) handleWriteRegister(c *fiber.Ctx) error {
	addr, err := c.ParamsInt("addr")
	if err != nil || addr < 0 || addr > 0xFF {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid register address")
	}

	var req struct {
		Value uint8 `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}

	err = p.withSynth(func(s *si5351.Synth) error {
		return s.WriteRegister(uint8(addr), req.Value)
	})
	if err != nil {
		return SendError(c, err)
	}

	slog.Info("Register write", "address", fmt.Sprintf("0x%02X", addr), "value", fmt.Sprintf("0x%02X", req.Value))
	return SendSuccess(c, nil, "Register written successfully")
}

func (p *ClockgenPlugin) handleReadAllRegisters(c *fiber.Ctx) error {
	regList := make([]map[string]interface{}, 0, len(si5351.DumpRegisters))

	err := p.withSynth(func(s *si5351.Synth) error {
		for _, addr := range si5351.DumpRegisters {
			value, err := s.ReadRegister(addr)
			if err != nil {
				return err
			}
			regList = append(regList, registerEntry(addr, value))
		}
		return nil
	})
	if err != nil {
		return SendError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"registers": regList,
		"count":     len(regList),
	}, "")
}

func registerEntry(addr, value uint8) map[string]interface{} {
	desc := si5351.RegisterDescriptions[addr]
	if desc == "" {
		desc = "Unknown"
	}
	return map[string]interface{}{
		"address":     fmt.Sprintf("0x%02X", addr),
		"value":       fmt.Sprintf("0x%02X", value),
		"value_dec":   value,
		"description": desc,
	}
}

func (p *ClockgenPlugin) handleSetOutputEnable(c *fiber.Ctx) error {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oe == nil {
		return SendErrorMessage(c, fiber.StatusNotFound, "No output enable pin configured")
	}
	if err := p.oe.SetEnabled(req.Enabled); err != nil {
		return SendError(c, err)
	}

	slog.Info("Output enable pin set", "enabled", req.Enabled)
	return SendSuccess(c, map[string]interface{}{
		"enabled": req.Enabled,
	}, fmt.Sprintf("Outputs %s", map[bool]string{true: "enabled", false: "disabled"}[req.Enabled]))
}

// Register the plugin
func init() {
	Register("clockgen", func(config *yaml.Node) (Plugin, error) {
		var cfg ClockgenConfig
		if err := decodeConfig(config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config for clockgen plugin: %w", err)
		}

		slog.Info("Clockgen plugin config parsed",
			"i2c_bus", cfg.I2CBus,
			"outputs", len(cfg.Outputs),
			"oe_gpio_chip", cfg.OEGPIOChip,
			"oe_pin", cfg.OEPin)

		return NewClockgenPlugin(cfg)
	})
}
