// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Crate is a set of modules sharing one backplane.
type Crate struct {
	mu        sync.Mutex
	slots     int
	backplane *Backplane
	modules   []*Module
	tracer    trace.Tracer
	log       *slog.Logger
}

// NewCrate returns an empty crate with the given slot count, MaxSlots when
// slots <= 0.
func NewCrate(slots int) *Crate {
	if slots <= 0 {
		slots = MaxSlots
	}
	return &Crate{
		slots:     slots,
		backplane: NewBackplane(slots),
		tracer:    tracenoop.NewTracerProvider().Tracer(""),
		log:       Logger(ComponentCrate),
	}
}

// SetTracer sets the tracer crate-wide run transitions are recorded on.
func (c *Crate) SetTracer(t trace.Tracer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracer = t
}

// Backplane returns the crate backplane.
func (c *Crate) Backplane() *Backplane { return c.backplane }

// Open adds a module in slot and brings it online. Modules are numbered
// in the order they are opened. A nil builder uses the defaults.
func (c *Crate) Open(ctx context.Context, slot int, bus Bus, b *Builder) (*Module, error) {
	if b == nil {
		b = New()
	}
	opts, err := b.Options()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot < 0 || slot > c.slots {
		return nil, ErrSlotRange
	}
	for _, m := range c.modules {
		if m.slot == slot {
			return nil, ErrSlotInUse
		}
	}
	m := NewModule(len(c.modules), slot, bus, c.backplane, opts)
	if err := m.Open(ctx); err != nil {
		return nil, err
	}
	c.modules = append(c.modules, m)
	c.log.Info("module added", "module", m.number, "slot", slot)
	return m, nil
}

// Close closes every module.
func (c *Crate) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, m := range c.modules {
		errs = append(errs, m.Close(ctx))
	}
	c.modules = nil
	return errors.Join(errs...)
}

// Module returns module number n.
func (c *Crate) Module(n int) (*Module, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.modules) {
		return nil, ErrModuleRange
	}
	return c.modules[n], nil
}

// Modules returns the modules in number order.
func (c *Crate) Modules() []*Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Module(nil), c.modules...)
}

// StartListMode starts list mode on every online module.
func (c *Crate) StartListMode(ctx context.Context, mode RunMode) error {
	return c.start(ctx, TaskListMode, mode)
}

// StartHistograms starts histogram runs on every online module.
func (c *Crate) StartHistograms(ctx context.Context, mode RunMode) error {
	return c.start(ctx, TaskHistogram, mode)
}

// start checks the barrier, then starts the modules. With synchronized
// start enabled the run leader goes last: the others arm and wait on the
// backplane line until the leader releases it. If any module fails to
// start, the ones already started are ended again.
func (c *Crate) start(ctx context.Context, task RunTask, mode RunMode) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, span := c.tracer.Start(ctx, "digitizer.crate.start",
		trace.WithAttributes(attribute.String("task", task.String())))
	defer func() { endSpan(span, err) }()

	if err := c.backplane.SyncReady(); err != nil {
		return err
	}
	leader, synced := c.backplane.Leader(RoleRunLeader)
	synced = synced && c.backplane.Synchronized()

	var (
		last    *Module
		started []*Module
	)
	for _, m := range c.modules {
		if !m.Online() {
			continue
		}
		if synced && m.slot == leader {
			last = m
			continue
		}
		if err := m.startRun(ctx, task, mode); err != nil {
			return c.abortStart(ctx, started, err)
		}
		started = append(started, m)
	}
	if last != nil {
		if err := last.startRun(ctx, task, mode); err != nil {
			return c.abortStart(ctx, started, err)
		}
	}
	return nil
}

// abortStart ends the runs of modules started before cause.
func (c *Crate) abortStart(ctx context.Context, started []*Module, cause error) error {
	errs := []error{cause}
	for _, m := range started {
		c.log.Warn("ending run after failed crate start", "module", m.number, "slot", m.slot)
		errs = append(errs, m.RunEnd(ctx))
	}
	return errors.Join(errs...)
}

// RunEnd ends the run on every online module, the run leader first.
func (c *Crate) RunEnd(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, span := c.tracer.Start(ctx, "digitizer.crate.end")
	defer func() { endSpan(span, err) }()

	leader, ok := c.backplane.Leader(RoleRunLeader)
	ordered := make([]*Module, 0, len(c.modules))
	for _, m := range c.modules {
		if ok && m.slot == leader {
			ordered = append([]*Module{m}, ordered...)
		} else {
			ordered = append(ordered, m)
		}
	}
	var errs []error
	for _, m := range ordered {
		if m.Online() {
			errs = append(errs, m.RunEnd(ctx))
		}
	}
	return errors.Join(errs...)
}
