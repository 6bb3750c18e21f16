package limits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Limits holds the resource ceilings of the target runtime. It is passed
// by value and never shared as mutable state.
type Limits struct {
	MaxLocalsSoft int `toml:"max_locals_soft"`
	MaxLocalsHard int `toml:"max_locals_hard"`
	MaxStackSoft  int `toml:"max_stack_soft"`
	MaxStackHard  int `toml:"max_stack_hard"`
	// MaxStackDepth bounds the cumulative slots of the deepest call chain.
	MaxStackDepth int `toml:"max_stack_depth"`

	SwitchDensityThreshold float64 `toml:"switch_density_threshold"`
	SwitchMaxRange         int     `toml:"switch_max_range"`

	// EntryPoints names the functions the runtime may invoke directly.
	// Empty means every function without a caller.
	EntryPoints []string `toml:"entry_points"`
}

// Default returns the ceilings of the reference card runtime.
func Default() Limits {
	return Limits{
		MaxLocalsSoft:          64,
		MaxLocalsHard:          255,
		MaxStackSoft:           16,
		MaxStackHard:           255,
		MaxStackDepth:          64,
		SwitchDensityThreshold: 0.5,
		SwitchMaxRange:         256,
	}
}

var (
	// ErrLimitsSectionMissing indicates that [limits] is missing in a config file.
	ErrLimitsSectionMissing = errors.New("missing [limits]")
)

type limitsFile struct {
	Limits Limits `toml:"limits"`
}

// Load parses the [limits] table of a TOML file. Keys that are not present
// keep their default values.
func Load(path string) (Limits, error) {
	cfg := limitsFile{Limits: Default()}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Limits{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("limits") {
		return Limits{}, fmt.Errorf("%s: %w", path, ErrLimitsSectionMissing)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Limits{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Limits.Validate(); err != nil {
		return Limits{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg.Limits, nil
}

// Decode is Load for in-memory TOML text.
func Decode(text string) (Limits, error) {
	cfg := limitsFile{Limits: Default()}
	meta, err := toml.Decode(text, &cfg)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if !meta.IsDefined("limits") {
		return Limits{}, ErrLimitsSectionMissing
	}
	if err := cfg.Limits.Validate(); err != nil {
		return Limits{}, err
	}
	return cfg.Limits, nil
}

// Validate rejects inconsistent ceilings.
func (l Limits) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("max_locals_soft", l.MaxLocalsSoft)
	positive("max_locals_hard", l.MaxLocalsHard)
	positive("max_stack_soft", l.MaxStackSoft)
	positive("max_stack_hard", l.MaxStackHard)
	positive("max_stack_depth", l.MaxStackDepth)
	positive("switch_max_range", l.SwitchMaxRange)
	if l.MaxLocalsSoft > l.MaxLocalsHard {
		errs = append(errs, fmt.Errorf("max_locals_soft (%d) exceeds max_locals_hard (%d)", l.MaxLocalsSoft, l.MaxLocalsHard))
	}
	if l.MaxStackSoft > l.MaxStackHard {
		errs = append(errs, fmt.Errorf("max_stack_soft (%d) exceeds max_stack_hard (%d)", l.MaxStackSoft, l.MaxStackHard))
	}
	if l.SwitchDensityThreshold <= 0 || l.SwitchDensityThreshold > 1 {
		errs = append(errs, fmt.Errorf("switch_density_threshold must be in (0, 1], got %g", l.SwitchDensityThreshold))
	}
	return errors.Join(errs...)
}

// DenseSwitch reports whether a switch over n distinct case values spanning
// [lo, hi] lowers to a jump table rather than a lookup sequence.
func (l Limits) DenseSwitch(n int, lo, hi int64) bool {
	if n == 0 || hi < lo {
		return false
	}
	span := hi - lo + 1
	if span > int64(l.SwitchMaxRange) {
		return false
	}
	return float64(n)/float64(span) >= l.SwitchDensityThreshold
}
