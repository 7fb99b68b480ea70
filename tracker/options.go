package tracker

import (
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Config contains tracker settings.
type Config struct {
	// EscalationAge is the age a fault must strictly exceed before it gets
	// escalated, and before it makes the fleet unhealthy.
	EscalationAge time.Duration
	// Network names the monitored fleet in escalation messages.
	Network string
	// Clock returns the current time.
	Clock func() time.Time
	// Rand picks retraction messages.
	Rand *rand.Rand
	// MeterProvider creates the tracker instruments. Defaults to the
	// global provider.
	MeterProvider metric.MeterProvider
}

var defaultConfig = Config{
	EscalationAge: 3 * time.Minute,
	Network:       "mainnet",
	Clock:         time.Now,
}

// Option sets values on a Config.
type Option func(*Config) error

// WithEscalationAge sets the escalation threshold.
func WithEscalationAge(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("escalation age must be positive")
		}
		c.EscalationAge = d
		return nil
	}
}

// WithNetwork sets the network name used in escalation messages.
func WithNetwork(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("network name can't be empty")
		}
		c.Network = name
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) error {
		c.Clock = now
		return nil
	}
}

// WithRand sets the source used to pick retraction messages.
func WithRand(r *rand.Rand) Option {
	return func(c *Config) error {
		c.Rand = r
		return nil
	}
}

// WithMeterProvider sets the provider of the tracker instruments.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(c *Config) error {
		c.MeterProvider = p
		return nil
	}
}
