// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Handshake timeouts.
const (
	// DefaultHandshakeTimeout bounds worker start and stop.
	DefaultHandshakeTimeout = time.Second
	// SyncPassTimeout bounds a requested synchronous FIFO pass.
	SyncPassTimeout = 250 * time.Millisecond
	// PoolDrainTimeout bounds the wait for outstanding buffers on close.
	PoolDrainTimeout = 5 * time.Second
	// RunStopTimeout bounds the wait for the hardware to leave a run.
	RunStopTimeout = time.Second
)

// Options configures a module.
type Options struct {
	fifo        FIFOConfig
	bufferWords int
	regs        Registers
	logger      *slog.Logger
	meter       metric.Meter
	tracer      trace.Tracer
	poll        PollPolicy
	throttle    ThrottlePolicy
	handshake   time.Duration
	drain       time.Duration
}

// FIFO returns the FIFO settings.
func (o Options) FIFO() FIFOConfig { return o.fifo }

// BufferWords returns the capacity of each pool buffer.
func (o Options) BufferWords() int { return o.bufferWords }

// Builder configures modules with a fluent API.
//
// Example:
//
//	b := digitizer.New().
//	    Buffers(200).
//	    RunWait(2 * time.Millisecond).
//	    Bandwidth(40)
//	m, err := crate.Open(ctx, 2, bus, b)
//
// Setters never fail; Options validates and reports the first range error.
type Builder struct {
	opts Options
}

// New creates a builder holding the factory defaults.
func New() *Builder {
	return &Builder{opts: Options{
		fifo:        DefaultFIFOConfig(),
		bufferWords: DefaultBufferWords,
		regs:        DefaultRegisters,
		handshake:   DefaultHandshakeTimeout,
		drain:       PoolDrainTimeout,
	}}
}

// FIFO replaces every FIFO setting.
func (b *Builder) FIFO(cfg FIFOConfig) *Builder {
	b.opts.fifo = cfg
	return b
}

// Buffers sets the pool size.
func (b *Builder) Buffers(n int) *Builder {
	b.opts.fifo.Buffers = n
	return b
}

// RunWait sets the poll period during a run. Zero selects synchronous mode.
func (b *Builder) RunWait(d time.Duration) *Builder {
	b.opts.fifo.RunWait = d
	return b
}

// IdleWait sets the poll period when idle.
func (b *Builder) IdleWait(d time.Duration) *Builder {
	b.opts.fifo.IdleWait = d
	return b
}

// Hold sets how long sub-trigger data may wait before it is read.
func (b *Builder) Hold(d time.Duration) *Builder {
	b.opts.fifo.Hold = d
	return b
}

// DMATriggerLevel sets the FIFO level that triggers a read.
func (b *Builder) DMATriggerLevel(words int) *Builder {
	b.opts.fifo.DMATriggerLevel = words
	return b
}

// Bandwidth caps the input rate in MB/s, zero for unlimited.
func (b *Builder) Bandwidth(mbps int) *Builder {
	b.opts.fifo.Bandwidth = mbps
	return b
}

// BufferWords sets the capacity of each pool buffer.
func (b *Builder) BufferWords(n int) *Builder {
	b.opts.bufferWords = n
	return b
}

// Registers selects the module register map.
func (b *Builder) Registers(r Registers) *Builder {
	b.opts.regs = r
	return b
}

// Logger sets the module logger. Defaults to the package logger.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.opts.logger = l
	return b
}

// Meter sets the meter FIFO statistics are published on.
func (b *Builder) Meter(m metric.Meter) *Builder {
	b.opts.meter = m
	return b
}

// Tracer sets the tracer run transitions are recorded on.
func (b *Builder) Tracer(t trace.Tracer) *Builder {
	b.opts.tracer = t
	return b
}

// PollPolicy sets the back-off curve. Defaults to ExpBackoff.
func (b *Builder) PollPolicy(p PollPolicy) *Builder {
	b.opts.poll = p
	return b
}

// Throttle sets the bandwidth cap policy. Defaults to BusShareThrottle.
func (b *Builder) Throttle(t ThrottlePolicy) *Builder {
	b.opts.throttle = t
	return b
}

// HandshakeTimeout bounds worker start and stop.
func (b *Builder) HandshakeTimeout(d time.Duration) *Builder {
	b.opts.handshake = d
	return b
}

// DrainTimeout bounds the wait for outstanding buffers when the module
// closes.
func (b *Builder) DrainTimeout(d time.Duration) *Builder {
	b.opts.drain = d
	return b
}

// Options validates the configuration and fills unset collaborators with
// their defaults.
func (b *Builder) Options() (Options, error) {
	o := b.opts
	if err := o.fifo.Validate(); err != nil {
		return Options{}, err
	}
	if o.bufferWords < MinDMATriggerLevel || o.bufferWords > HWFIFOWords {
		return Options{}, ErrBufferWords
	}
	return o.withDefaults(), nil
}

// withDefaults fills unset collaborators.
func (o Options) withDefaults() Options {
	if o.logger == nil {
		o.logger = baseLogger()
	}
	if o.meter == nil {
		o.meter = metricnoop.NewMeterProvider().Meter("")
	}
	if o.tracer == nil {
		o.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if o.poll == nil {
		o.poll = ExpBackoff{Factor: DefaultBackoffFactor}
	}
	if o.throttle == nil {
		o.throttle = BusShareThrottle{BusRate: PCIBusRate}
	}
	if o.handshake <= 0 {
		o.handshake = DefaultHandshakeTimeout
	}
	if o.drain <= 0 {
		o.drain = PoolDrainTimeout
	}
	if o.regs == (Registers{}) {
		o.regs = DefaultRegisters
	}
	return o
}
