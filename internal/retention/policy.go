// Package retention decides which retired worlds to keep and deletes the
// rest from disk.
package retention

import (
	"fmt"
)

// Mode selects a retention strategy.
type Mode string

const (
	// ModePrevious keeps only the newest world; the one it replaced is
	// deleted after a grace period.
	ModePrevious Mode = "previous"
	// ModeSweep keeps the Keep newest worlds and sweeps the rest as part of
	// migration.
	ModeSweep Mode = "sweep"
)

// Policy is the configured retention strategy.
type Policy struct {
	Mode       Mode   `yaml:"mode" env:"MODE"`
	Keep       int    `yaml:"keep" env:"KEEP"`
	GraceTicks uint64 `yaml:"grace_ticks" env:"GRACE_TICKS"`
}

// DefaultPolicy keeps the two newest worlds.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeSweep, Keep: 2, GraceTicks: 100}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModePrevious:
	case ModeSweep:
		if p.Keep < 1 {
			return fmt.Errorf("retention keep must be at least 1, got %d", p.Keep)
		}
	default:
		return fmt.Errorf("unknown retention mode %q", p.Mode)
	}
	return nil
}

// KeepCount returns how many of the newest worlds survive a cleanup.
func (p Policy) KeepCount() int {
	if p.Mode == ModePrevious {
		return 1
	}
	return p.Keep
}
