// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry defines the backoff policy for generation calls and the
// clock used to wait between attempts. The clock is an interface so the
// schedule can be verified without real sleeps.
package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy is an exponential backoff schedule with a cap.
//
// The wait after failed attempt n (1-based) is
//
//	min(MinWait * Multiplier^(n-1), MaxWait)
//
// so the defaults give 2s, 4s, 8s, 10s, 10s, ...
type Policy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultPolicy returns 3 attempts, 2s minimum, 10s cap, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinWait:     2 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2,
	}
}

// Validate reports an error for a policy that cannot be executed.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.MinWait < 0 {
		errs = append(errs, errors.New("min_wait cannot be negative"))
	}
	if p.MaxWait < p.MinWait {
		errs = append(errs, fmt.Errorf("max_wait (%s) is below min_wait (%s)", p.MaxWait, p.MinWait))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier))
	}
	return errors.Join(errs...)
}

// Delay returns the wait after failed attempt n. Attempts below 1 are
// treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.MinWait) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxWait) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxWait
	}
	return time.Duration(d)
}

// MaxTotalWait is the longest cumulative backoff a call can spend waiting
// if every attempt fails.
func (p Policy) MaxTotalWait() time.Duration {
	var total time.Duration
	for n := 1; n < p.MaxAttempts; n++ {
		total += p.Delay(n)
	}
	return total
}
