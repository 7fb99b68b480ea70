package scheduler

import (
	"fmt"
	"time"

	"github.com/textileio/fleetwatch/probe"
)

// Config contains the polling settings.
type Config struct {
	// Period is the cycle length.
	Period time.Duration
	// Stagger is the delay between consecutive calls of a cycle.
	Stagger time.Duration
	// MaxInFlight bounds the number of concurrent probe calls.
	MaxInFlight int
	// Thresholds are the status predicate floors.
	Thresholds probe.Thresholds
}

var defaultConfig = Config{
	Period:      time.Minute,
	Stagger:     200 * time.Millisecond,
	MaxInFlight: 16,
	Thresholds:  probe.DefaultThresholds,
}

// Option sets values on a Config.
type Option func(*Config) error

// WithPeriod sets the cycle length.
func WithPeriod(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("period must be positive")
		}
		c.Period = d
		return nil
	}
}

// WithStagger sets the delay between consecutive calls of a cycle.
func WithStagger(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("stagger can't be negative")
		}
		c.Stagger = d
		return nil
	}
}

// WithMaxInFlight bounds concurrent probe calls.
func WithMaxInFlight(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("max in-flight calls must be positive")
		}
		c.MaxInFlight = n
		return nil
	}
}

// WithThresholds sets the minimum peers and nodes counts.
func WithThresholds(th probe.Thresholds) Option {
	return func(c *Config) error {
		if th.MinPeers < 0 || th.MinNodes < 0 {
			return fmt.Errorf("thresholds can't be negative")
		}
		c.Thresholds = th
		return nil
	}
}
