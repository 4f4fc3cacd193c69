package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OSCU_TIMEOUT", "12s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SCHEDULER_JOBS", "retry_submissions, ,stuck_submissions")
	t.Setenv("SCHEDULER_BATCH_SIZE", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, AdapterHTTP, cfg.OSCU.Adapter)
	assert.Equal(t, 12*time.Second, cfg.OSCU.Timeout)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"retry_submissions", "stuck_submissions"}, cfg.Scheduler.Jobs)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
}

func TestLoad_DevelopmentDefaultsToStub(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("OSCU_ADAPTER", "")

	assert.Equal(t, AdapterStub, Load().OSCU.Adapter)
}

func TestSubmissionPolicy_WithDefaults(t *testing.T) {
	p := SubmissionPolicy{MaxAttempts: 3}.WithDefaults()

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.AdapterTimeout)
	assert.Equal(t, 4, p.Workers)
	assert.Equal(t, 256, p.QueueSize)

	assert.Equal(t, 3, NewStaticPolicy(SubmissionPolicy{MaxAttempts: 3}).Get().MaxAttempts)
	assert.Error(t, validateSubmissionPolicy(SubmissionPolicy{MaxAttempts: -1}))
}
