package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := New()
	assert.Equal(t, Closed, b.CurrentState())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewWithSettings(3, time.Minute, 1)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewWithSettings(3, time.Minute, 1)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := NewWithSettings(1, 20*time.Millisecond, 2)

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
	assert.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow(), "open timeout elapsed, probes allowed")
	assert.Equal(t, HalfOpen, b.CurrentState())
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b := NewWithSettings(1, 10*time.Millisecond, 2)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.CurrentState())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := NewWithSettings(1, 10*time.Millisecond, 2)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
	assert.False(t, b.Allow())
}
