// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_DelaySchedule(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_MaxTotalWait(t *testing.T) {
	assert.Equal(t, 6*time.Second, DefaultPolicy().MaxTotalWait())

	p := DefaultPolicy()
	p.MaxAttempts = 1
	assert.Zero(t, p.MaxTotalWait())
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{MaxAttempts: 0, MinWait: time.Second, MaxWait: time.Second, Multiplier: 2},
		{MaxAttempts: 3, MinWait: -time.Second, MaxWait: time.Second, Multiplier: 2},
		{MaxAttempts: 3, MinWait: 5 * time.Second, MaxWait: time.Second, Multiplier: 2},
		{MaxAttempts: 3, MinWait: time.Second, MaxWait: time.Second, Multiplier: 0.5},
	}
	for i, p := range bad {
		assert.Error(t, p.Validate(), "case %d", i)
	}
}

func TestFakeClock_RecordsSleeps(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, c.Sleep(context.Background(), 4*time.Second))

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, c.Sleeps())
	assert.Equal(t, 6*time.Second, c.TotalSlept())
	assert.Equal(t, start.Add(6*time.Second), c.Now())
}

func TestFakeClock_CancelledContext(t *testing.T) {
	c := NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, c.Sleeps())
}

func TestRealClock_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := RealClock{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
