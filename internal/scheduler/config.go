package scheduler

import (
	"time"

	"github.com/smallbiznis/etimsbridge/internal/config"
)

const (
	JobRetrySubmissions = "retry_submissions"
	JobRecoverySweep    = "recovery_sweep"
	JobStuckSubmissions = "stuck_submissions"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled          bool
	EnabledJobs      []string
	RunInterval      time.Duration
	BatchSize        int
	Concurrency      int
	RecoveryAfter    time.Duration
	StuckAfter       time.Duration
	RetryBackoff     time.Duration
	JobLockTTL       time.Duration
	JobTimeout       time.Duration
	DisableRedisLock bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RunInterval:   time.Minute,
		BatchSize:     50,
		Concurrency:   4,
		RecoveryAfter: 5 * time.Minute,
		StuckAfter:    15 * time.Minute,
		RetryBackoff:  30 * time.Second,
		JobLockTTL:    2 * time.Minute,
		JobTimeout:    time.Minute,
	}
}

// ProvideConfig maps the application config onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	sc := cfg.Scheduler
	return Config{
		Enabled:          sc.Enabled,
		EnabledJobs:      sc.Jobs,
		RunInterval:      sc.RunInterval,
		BatchSize:        sc.BatchSize,
		Concurrency:      sc.Concurrency,
		RecoveryAfter:    sc.RecoveryAfter,
		StuckAfter:       sc.StuckAfter,
		RetryBackoff:     sc.RetryBackoff,
		JobLockTTL:       sc.JobLockTTL,
		JobTimeout:       sc.JobTimeout,
		DisableRedisLock: sc.DisableRedisLock,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.RecoveryAfter <= 0 {
		c.RecoveryAfter = defaults.RecoveryAfter
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaults.StuckAfter
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.JobLockTTL <= 0 {
		c.JobLockTTL = defaults.JobLockTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
