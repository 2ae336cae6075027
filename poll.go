// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import "time"

// DefaultBackoffFactor is the multiplier ExpBackoff applies per step.
const DefaultBackoffFactor = 2

// PCIBusRate is the nominal host bus data rate in MB/s.
const PCIBusRate = 100

// PollPolicy shapes how the poll period grows while the worker backs off
// from the run period toward the idle period.
type PollPolicy interface {
	// Step returns the period that follows cur. The schedule clamps the
	// result to [cur, idle].
	Step(cur, idle time.Duration) time.Duration
}

// ExpBackoff multiplies the period by Factor each step.
type ExpBackoff struct {
	Factor int
}

// Step implements PollPolicy.
func (b ExpBackoff) Step(cur, idle time.Duration) time.Duration {
	f := b.Factor
	if f < 2 {
		f = DefaultBackoffFactor
	}
	return cur * time.Duration(f)
}

// LinearBackoff adds Step to the period each step.
type LinearBackoff struct {
	Increment time.Duration
}

// Step implements PollPolicy.
func (b LinearBackoff) Step(cur, idle time.Duration) time.Duration {
	if b.Increment <= 0 {
		return idle
	}
	return cur + b.Increment
}

// ThrottlePolicy decides how long the worker pauses once input bandwidth
// reaches its cap.
type ThrottlePolicy interface {
	Delay(limit float64) time.Duration
}

// BusShareThrottle pauses in proportion to the share of the bus the cap
// leaves unused: (100 - 100*limit/BusRate) * 100µs.
type BusShareThrottle struct {
	BusRate float64
}

// Delay implements ThrottlePolicy.
func (t BusShareThrottle) Delay(limit float64) time.Duration {
	rate := t.BusRate
	if rate <= 0 {
		rate = PCIBusRate
	}
	pct := 100 - (100*limit)/rate
	if pct <= 0 {
		return 0
	}
	return time.Duration(pct * float64(100*time.Microsecond))
}

// PollPhase is the state of a PollSchedule.
type PollPhase int

// Poll phases.
const (
	// PhaseRunning polls at the run period while a run is active.
	PhaseRunning PollPhase = iota
	// PhaseBackingOff stretches the period after a run ends.
	PhaseBackingOff
	// PhaseIdle polls at the idle period.
	PhaseIdle
)

func (p PollPhase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseBackingOff:
		return "backing-off"
	default:
		return "idle"
	}
}

// PollSchedule is the worker's poll period state machine.
//
// While a run is active the period is RunWait. Once the run ends the
// schedule backs off: every time Hold worth of polls pass without data the
// policy steps the period, until it reaches IdleWait. Data resets the quiet
// time but keeps the current period.
type PollSchedule struct {
	policy PollPolicy
	phase  PollPhase
	period time.Duration
	quiet  time.Duration
}

// NewPollSchedule returns a schedule starting in the running phase at
// runWait. A nil policy selects ExpBackoff with DefaultBackoffFactor.
func NewPollSchedule(policy PollPolicy, runWait time.Duration) *PollSchedule {
	if policy == nil {
		policy = ExpBackoff{Factor: DefaultBackoffFactor}
	}
	return &PollSchedule{policy: policy, period: runWait}
}

// Phase returns the current phase.
func (s *PollSchedule) Phase() PollPhase { return s.phase }

// Period returns the current period without advancing.
func (s *PollSchedule) Period() time.Duration { return s.period }

// Next advances the schedule by one poll and returns the period to wait
// before the following poll.
func (s *PollSchedule) Next(cfg FIFOConfig, active, data bool) time.Duration {
	if active {
		s.phase = PhaseRunning
		s.period = cfg.RunWait
		s.quiet = 0
		return s.period
	}
	if s.phase == PhaseRunning {
		s.phase = PhaseBackingOff
	}
	if s.period <= 0 {
		s.period = cfg.RunWait
		if s.period <= 0 {
			s.period = MinRunWait
		}
	}
	if s.period >= cfg.IdleWait {
		s.phase = PhaseIdle
		s.period = cfg.IdleWait
		s.quiet = 0
		return s.period
	}
	if data {
		s.quiet = 0
		return s.period
	}
	s.quiet += s.period
	if s.quiet >= cfg.Hold {
		s.quiet = 0
		next := s.policy.Step(s.period, cfg.IdleWait)
		s.period = min(max(next, s.period), cfg.IdleWait)
		if s.period == cfg.IdleWait {
			s.phase = PhaseIdle
		}
	}
	return s.period
}
