package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SubmissionPolicy tunes the submission pipeline. It is hot-reloaded.
type SubmissionPolicy struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	AdapterTimeout time.Duration `mapstructure:"adapterTimeout"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queueSize"`
}

func DefaultSubmissionPolicy() SubmissionPolicy {
	return SubmissionPolicy{
		MaxAttempts:    10,
		AdapterTimeout: 30 * time.Second,
		Workers:        4,
		QueueSize:      256,
	}
}

// WithDefaults fills zero values from DefaultSubmissionPolicy.
func (p SubmissionPolicy) WithDefaults() SubmissionPolicy {
	defaults := DefaultSubmissionPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.AdapterTimeout <= 0 {
		p.AdapterTimeout = defaults.AdapterTimeout
	}
	if p.Workers <= 0 {
		p.Workers = defaults.Workers
	}
	if p.QueueSize <= 0 {
		p.QueueSize = defaults.QueueSize
	}
	return p
}

// PolicySource yields the current submission policy.
type PolicySource interface {
	Get() SubmissionPolicy
}

type SubmissionPolicyHolder struct {
	current atomic.Value // holds SubmissionPolicy
}

// NewStaticPolicy returns a holder that never reloads.
func NewStaticPolicy(p SubmissionPolicy) *SubmissionPolicyHolder {
	holder := &SubmissionPolicyHolder{}
	holder.current.Store(p.WithDefaults())
	return holder
}

func NewSubmissionPolicyHolder(log *zap.Logger) (*SubmissionPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("compliance.config")

	v := viper.New()

	v.SetConfigName("compliance")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/etimsbridge/config")
	v.AddConfigPath("/etc/etimsbridge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ETIMSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSubmissionPolicy()
	v.SetDefault("compliance.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("compliance.adapterTimeout", defaults.AdapterTimeout)
	v.SetDefault("compliance.workers", defaults.Workers)
	v.SetDefault("compliance.queueSize", defaults.QueueSize)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var policy SubmissionPolicy
	if err := v.UnmarshalKey("compliance", &policy); err != nil {
		return nil, err
	}
	if err := validateSubmissionPolicy(policy); err != nil {
		return nil, err
	}

	holder := &SubmissionPolicyHolder{}
	holder.current.Store(policy.WithDefaults())

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SubmissionPolicy
		if err := v.UnmarshalKey("compliance", &updated); err != nil {
			log.Warn("submission policy reload failed", zap.Error(err))
			return
		}
		if err := validateSubmissionPolicy(updated); err != nil {
			log.Warn("invalid submission policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated.WithDefaults())
		log.Info("submission policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *SubmissionPolicyHolder) Get() SubmissionPolicy {
	return h.current.Load().(SubmissionPolicy)
}

func validateSubmissionPolicy(p SubmissionPolicy) error {
	if p.MaxAttempts < 0 {
		return errors.New("compliance.maxAttempts cannot be negative")
	}
	if p.AdapterTimeout < 0 {
		return errors.New("compliance.adapterTimeout cannot be negative")
	}
	if p.Workers < 0 || p.QueueSize < 0 {
		return errors.New("compliance.workers and compliance.queueSize cannot be negative")
	}
	return nil
}
