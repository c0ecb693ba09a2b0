package market

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultMaxRateBps caps bid rates at 100% per period.
	DefaultMaxRateBps uint16 = 10_000
	// DefaultPeriodSeconds is the length of one interest period.
	DefaultPeriodSeconds uint64 = 86_400
)

// Params captures the protocol knobs of the market engine.
type Params struct {
	MaxRateBps    uint16   `toml:"MaxRateBps"`
	PeriodSeconds uint64   `toml:"PeriodSeconds"`
	Authorities   []string `toml:"MarketAuthorities"`
	Paused        bool     `toml:"Paused"`
}

// DefaultParams returns the parameters used when no file is supplied.
func DefaultParams() Params {
	return Params{MaxRateBps: DefaultMaxRateBps, PeriodSeconds: DefaultPeriodSeconds}
}

// LoadParams decodes a TOML parameter file, filling unset values with defaults.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read market params: %w", err)
	}
	if _, err := toml.Decode(string(data), &params); err != nil {
		return Params{}, fmt.Errorf("decode market params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

// Validate ensures parameter values are within supported bounds.
func (p Params) Validate() error {
	if p.MaxRateBps == 0 {
		return fmt.Errorf("market params: MaxRateBps must be positive")
	}
	if p.PeriodSeconds == 0 {
		return fmt.Errorf("market params: PeriodSeconds must be positive")
	}
	return nil
}

// Period returns the interest period as a duration.
func (p Params) Period() time.Duration {
	if p.PeriodSeconds == 0 {
		return time.Duration(DefaultPeriodSeconds) * time.Second
	}
	return time.Duration(p.PeriodSeconds) * time.Second
}
