package scheduler

import (
	"time"

	"github.com/smallbiznis/dashvault/internal/config"
)

// Config controls scheduler intervals and job deadlines.
type Config struct {
	RunInterval     time.Duration
	SweepTimeout    time.Duration
	SnapshotTimeout time.Duration
	LockTTL         time.Duration
	SignalWindow    time.Duration
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Minute,
		SweepTimeout:    5 * time.Minute,
		SnapshotTimeout: 30 * time.Second,
		LockTTL:         10 * time.Minute,
		SignalWindow:    24 * time.Hour,
	}
}

// ProvideConfig maps application settings onto the scheduler.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.Scheduler.RunInterval,
		SweepTimeout: cfg.Scheduler.SweepTimeout,
		LockTTL:      cfg.Scheduler.LockTTL,
		SignalWindow: cfg.Scheduler.SignalWindow,
		EnabledJobs:  cfg.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = defaults.SnapshotTimeout
	}
	// The lease has to outlive the sweep or a second instance could start.
	if c.LockTTL < c.SweepTimeout {
		c.LockTTL = c.SweepTimeout + time.Minute
	}
	if c.SignalWindow <= 0 {
		c.SignalWindow = defaults.SignalWindow
	}
	return c
}
