package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2026, 2, 20, 10, 0, 0, 0, time.FixedZone("EAT", 3*60*60))
	c := NewFakeClock(start)

	assert.Equal(t, time.UTC, c.Now().Location())
	c.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(start.Add(90*time.Second)))

	var _ Clock = c
	var _ Clock = SystemClock{}
}
