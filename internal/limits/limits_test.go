package limits

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	lim := Default()
	if err := lim.Validate(); err != nil {
		t.Fatalf("default limits invalid: %v", err)
	}
	if lim.MaxLocalsHard != 255 || lim.MaxStackDepth != 64 {
		t.Fatalf("unexpected defaults: %+v", lim)
	}
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cardc.toml")
	content := `
[limits]
max_locals_soft = 32
max_stack_depth = 80
entry_points = ["process", "install"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	lim, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if lim.MaxLocalsSoft != 32 || lim.MaxStackDepth != 80 {
		t.Fatalf("overrides not applied: %+v", lim)
	}
	if lim.MaxLocalsHard != 255 || lim.SwitchMaxRange != 256 {
		t.Fatalf("defaults lost: %+v", lim)
	}
	if !slices.Equal(lim.EntryPoints, []string{"process", "install"}) {
		t.Fatalf("entry points = %v", lim.EntryPoints)
	}
}

func TestLoadRejectsMissingSectionAndUnknownKeys(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.toml")
	if err := os.WriteFile(missing, []byte("[other]\nx = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(missing); !errors.Is(err, ErrLimitsSectionMissing) {
		t.Fatalf("expected ErrLimitsSectionMissing, got %v", err)
	}

	unknown := filepath.Join(dir, "unknown.toml")
	if err := os.WriteFile(unknown, []byte("[limits]\nmax_locals = 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(unknown); err == nil || !strings.Contains(err.Error(), "limits.max_locals") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateRejectsInconsistentCeilings(t *testing.T) {
	_, err := Decode("[limits]\nmax_locals_soft = 300\nswitch_density_threshold = 1.5\n")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"max_locals_soft (300) exceeds", "switch_density_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestDenseSwitch(t *testing.T) {
	lim := Default()
	tests := []struct {
		name   string
		n      int
		lo, hi int64
		want   bool
	}{
		{"contiguous", 4, 0, 3, true},
		{"half_full", 2, 0, 3, true},
		{"sparse", 3, 0, 100, false},
		{"too_wide", 300, 0, 299, false},
		{"empty", 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lim.DenseSwitch(tt.n, tt.lo, tt.hi); got != tt.want {
				t.Fatalf("DenseSwitch(%d, %d, %d) = %v, want %v", tt.n, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}
