// Package calibration persists the reference crystal frequency and its
// correction between runs.
//
// The record mirrors the layout kept in EEPROM by microcontroller builds of
// the same synthesizer: a header flag marking the record valid, the signed
// correction in parts per ten million, the nominal crystal frequency and the
// corrected frequency derived from them.
package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Header marks a record as written by this program.
const Header = 0xAA

// DefaultCrystal is used when no valid record exists.
const DefaultCrystal = 25_000_000

// Record is the persisted calibration.
type Record struct {
	Flag             uint8  `yaml:"flag" json:"flag"`
	Correction       int32  `yaml:"correction" json:"correction"`
	Crystal          uint64 `yaml:"crystal" json:"crystal"`
	CorrectedCrystal uint64 `yaml:"corrected_crystal" json:"corrected_crystal"`
}

// Valid reports whether the record carries the header flag, a crystal and a
// usable corrected frequency.
func (r Record) Valid() bool {
	return r.Flag == Header && r.Crystal != 0 && r.CorrectedCrystal != 0
}

// Default returns the record used on first start: crystal (DefaultCrystal
// when zero) with no correction.
func Default(crystal uint64) Record {
	if crystal == 0 {
		crystal = DefaultCrystal
	}
	return Record{
		Flag:             Header,
		Crystal:          crystal,
		CorrectedCrystal: crystal,
	}
}

// Store reads and writes one record as a yaml file.
type Store struct {
	path    string
	crystal uint64
}

// NewStore returns a store backed by path. crystal is the nominal frequency
// recorded when no valid record exists yet.
func NewStore(path string, crystal uint64) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("calibration file path is required")
	}
	return &Store{path: path, crystal: crystal}, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored record. A missing file or a record without the
// header flag yields the default record, which is written back so the next start finds a
// valid record.
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("No calibration record, using defaults", "path", s.path)
		return s.reinitialize()
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to parse calibration file: %w", err)
	}
	if !r.Valid() {
		slog.Warn("Calibration record invalid, using defaults", "path", s.path, "flag", r.Flag)
		return s.reinitialize()
	}
	return r, nil
}

func (s *Store) reinitialize() (Record, error) {
	r := Default(s.crystal)
	if err := s.Save(r); err != nil {
		return r, err
	}
	return r, nil
}

// Save writes r, replacing the previous record atomically.
func (s *Store) Save(r Record) error {
	r.Flag = Header

	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to serialize calibration: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calibration-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create calibration file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace calibration file: %w", err)
	}

	slog.Info("Calibration saved", "path", s.path, "crystal", r.Crystal, "correction", r.Correction)
	return nil
}
