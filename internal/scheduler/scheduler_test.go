package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every now and then", time.UTC, func() {})
	require.Error(t, err)
}

func TestNew_NilJob(t *testing.T) {
	_, err := New("*/15 * * * *", time.UTC, nil)
	require.Error(t, err)
}

func TestScheduler_RunsJob(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@every 1s", nil, func() { calls.Add(1) })
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero(), "no next run before start")

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	assert.False(t, s.Next().IsZero())
}
