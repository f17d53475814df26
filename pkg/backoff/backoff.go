// Package backoff gates OTP-style verify attempts from one client session.
//
// A Controller is local state: it never talks to the server, so a rejected
// attempt costs nothing and reveals nothing. One Controller per client session.
package backoff

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Policy controls when cooldowns start and how fast they grow.
type Policy struct {
	// Threshold is the failed-attempt count at which cooldowns begin.
	Threshold int
	// ThresholdOffset is subtracted from the attempt count before exponentiation.
	ThresholdOffset int
	Base            time.Duration
	MaxCooldown     time.Duration
}

// DefaultPolicy: 2s, 4s, 8s, then 10s from the third failure on.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:       3,
		ThresholdOffset: 3,
		Base:            2 * time.Second,
		MaxCooldown:     10 * time.Second,
	}
}

// HardenedPolicy grows from 10s up to five minutes.
func HardenedPolicy() Policy {
	return Policy{
		Threshold:       3,
		ThresholdOffset: 3,
		Base:            10 * time.Second,
		MaxCooldown:     5 * time.Minute,
	}
}

// Cooldown returns the wait imposed after attempts failures, or zero below
// the threshold.
func (p Policy) Cooldown(attempts int) time.Duration {
	if attempts < p.Threshold {
		return 0
	}
	exp := attempts - p.ThresholdOffset
	if exp < 0 {
		exp = 0
	}
	// cap the exponent before shifting so large counts cannot overflow
	if exp > 30 {
		return p.MaxCooldown
	}
	d := time.Duration(float64(p.Base) * math.Pow(2, float64(exp)))
	if d > p.MaxCooldown || d <= 0 {
		return p.MaxCooldown
	}
	return d
}

// RetryState is a snapshot of a controller.
type RetryState struct {
	AttemptCount  int
	CooldownUntil time.Time
}

// CooldownActiveError is returned by Check while a cooldown is running.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %d seconds", e.RemainingSeconds())
}

// RemainingSeconds rounds up so callers never retry a moment too early.
func (e *CooldownActiveError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

type Controller struct {
	mu     sync.Mutex
	policy Policy
	state  RetryState
}

func New(policy Policy) *Controller {
	return &Controller{policy: policy}
}

// Check returns *CooldownActiveError while now is before the cooldown end.
func (c *Controller) Check(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.state.CooldownUntil) {
		return &CooldownActiveError{Remaining: c.state.CooldownUntil.Sub(now)}
	}
	return nil
}

// RecordFailure counts a failed verify and returns the cooldown it started.
func (c *Controller) RecordFailure(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AttemptCount++
	d := c.policy.Cooldown(c.state.AttemptCount)
	if d > 0 {
		c.state.CooldownUntil = now.Add(d)
	}
	return d
}

// RecordSuccess clears the attempt count and any cooldown.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = RetryState{}
}

func (c *Controller) State() RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetPolicy replaces the policy. Existing state is kept and the new policy
// applies from the next failure.
func (c *Controller) SetPolicy(p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}
