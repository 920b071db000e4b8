package calibration

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	s, err := NewStore(path, 27_000_000)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := Record{Flag: Header, Crystal: 27_000_000, CorrectedCrystal: 27_000_000}
	if r != want {
		t.Errorf("Load() = %+v, want %+v", r, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default record not written: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	s, _ := NewStore(path, 0)

	r := Record{Correction: -1234, Crystal: 25_000_000, CorrectedCrystal: 24_996_915}
	if err := s.Save(r); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	r.Flag = Header
	if got != r {
		t.Errorf("Load() = %+v, want %+v", got, r)
	}
}

func TestLoadInvalidRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"missing flag", "correction: 500\ncrystal: 25000000\n", false},
		{"wrong flag", "flag: 255\ncorrection: 500\ncrystal: 25000000\n", false},
		{"no crystal", "flag: 170\ncorrection: 500\n", false},
		{"zero corrected crystal", "flag: 170\ncorrection: -10000000\ncrystal: 25000000\ncorrected_crystal: 0\n", false},
		{"not yaml", "flag: [\n", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "calibration.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			s, _ := NewStore(path, 0)

			r, err := s.Load()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Load() = %+v, want error", r)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r != Default(0) {
				t.Errorf("Load() = %+v, want defaults", r)
			}
		})
	}
}

func TestNewStoreRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewStore("", 0); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestSaveMissingDirectory(t *testing.T) {
	t.Parallel()

	s, _ := NewStore(filepath.Join(t.TempDir(), "missing", "calibration.yaml"), 0)
	if err := s.Save(Default(0)); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}
