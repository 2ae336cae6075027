// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import "time"

// FIFO setting limits and defaults.
const (
	MinFIFOBuffers     = 10
	MaxFIFOBuffers     = 10_000_000
	DefaultFIFOBuffers = 100

	MinRunWait     = 500 * time.Microsecond
	MaxRunWait     = 200 * time.Millisecond
	DefaultRunWait = 5 * time.Millisecond

	MinIdleWait     = 10 * time.Millisecond
	MaxIdleWait     = time.Second
	DefaultIdleWait = 150 * time.Millisecond

	MinHold     = time.Millisecond
	MaxHold     = 100 * time.Millisecond
	DefaultHold = 10 * time.Millisecond

	MinDMATriggerLevel     = 512
	MaxDMATriggerLevel     = 8192
	DefaultDMATriggerLevel = 1024

	// MaxBandwidth is in MB/s. Zero bandwidth means unlimited.
	MaxBandwidth = 100
)

// FIFOConfig holds the list-mode FIFO worker settings of one module.
type FIFOConfig struct {
	// Buffers is the pool size, applied when FIFO services start.
	Buffers int
	// RunWait is the poll period while a run is active. Zero selects
	// synchronous mode: the FIFO is read only on request.
	RunWait time.Duration
	// IdleWait is the poll period once back-off completes.
	IdleWait time.Duration
	// Hold is how long data may sit below the trigger level before it is
	// read anyway. It also paces each back-off step.
	Hold time.Duration
	// DMATriggerLevel is the FIFO level in words that triggers a read.
	DMATriggerLevel int
	// Bandwidth caps the input rate in MB/s, zero for unlimited.
	Bandwidth int
}

// DefaultFIFOConfig returns the factory FIFO settings.
func DefaultFIFOConfig() FIFOConfig {
	return FIFOConfig{
		Buffers:         DefaultFIFOBuffers,
		RunWait:         DefaultRunWait,
		IdleWait:        DefaultIdleWait,
		Hold:            DefaultHold,
		DMATriggerLevel: DefaultDMATriggerLevel,
	}
}

// Synchronous reports whether the worker only reads on request.
func (c FIFOConfig) Synchronous() bool { return c.RunWait == 0 }

// Validate checks every setting and returns the first range error.
func (c FIFOConfig) Validate() error {
	checks := []error{
		checkBuffers(c.Buffers),
		checkRunWait(c.RunWait),
		checkIdleWait(c.IdleWait),
		checkHold(c.Hold),
		checkDMATriggerLevel(c.DMATriggerLevel),
		checkBandwidth(c.Bandwidth),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func checkBuffers(n int) error {
	if n < MinFIFOBuffers || n > MaxFIFOBuffers {
		return ErrBuffersRange
	}
	return nil
}

func checkRunWait(d time.Duration) error {
	if d != 0 && (d < MinRunWait || d > MaxRunWait) {
		return ErrRunWaitRange
	}
	return nil
}

func checkIdleWait(d time.Duration) error {
	if d < MinIdleWait || d > MaxIdleWait {
		return ErrIdleWaitRange
	}
	return nil
}

func checkHold(d time.Duration) error {
	if d < MinHold || d > MaxHold {
		return ErrHoldRange
	}
	return nil
}

func checkDMATriggerLevel(n int) error {
	if n < MinDMATriggerLevel || n > MaxDMATriggerLevel {
		return ErrDMATriggerRange
	}
	return nil
}

func checkBandwidth(n int) error {
	if n < 0 || n > MaxBandwidth {
		return ErrBandwidthRange
	}
	return nil
}
