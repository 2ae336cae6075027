// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Param names a module parameter handled by the SDK core.
type Param int

// Parameters.
const (
	// ParamSynchWait (0 or 1) registers the module for synchronized run
	// start.
	ParamSynchWait Param = iota
	// ParamModuleCSRB holds the backplane role request bits.
	ParamModuleCSRB
)

func (p Param) String() string {
	switch p {
	case ParamSynchWait:
		return "SYNCH_WAIT"
	case ParamModuleCSRB:
		return "MODULE_CSRB"
	default:
		return "unknown"
	}
}

// MODULE_CSRB role request bits.
const (
	CSRBPullup        = 0
	CSRBDirector      = 4
	CSRBChassisMaster = 6
)

var csrbRoles = [...]struct {
	role Role
	bit  uint
}{
	{RolePullup, CSRBPullup},
	{RoleDirector, CSRBDirector},
	{RoleRunLeader, CSRBChassisMaster},
}

// Module is one digitizer in a crate.
//
// Two locks guard a module. The module lock serializes configuration and
// run control; it is not reentrant, so unexported helpers named *Locked
// expect the caller to hold it. The bus lock serializes every hardware
// access and is the only module lock the FIFO worker takes.
type Module struct {
	number    int
	slot      int
	backplane *Backplane
	opts      Options
	log       *slog.Logger
	tracer    trace.Tracer

	mu        sync.Mutex
	opened    bool
	csrb      Word
	synchWait Word
	metrics   *moduleMetrics

	busMu sync.Mutex
	bus   Bus
	regs  Registers

	buffers    atomix.Int64
	runWait    atomix.Int64
	idleWait   atomix.Int64
	hold       atomix.Int64
	dmaTrigger atomix.Int64
	bandwidth  atomix.Int64

	pool   Pool
	data   Queue
	stats  FIFOStats
	worker *fifoWorker

	runTask atomix.Uint64
	paused  atomix.Bool
	online  atomix.Bool
}

// NewModule returns a closed module. number is the module's index in the
// crate and slot its physical slot on bp.
func NewModule(number, slot int, bus Bus, bp *Backplane, opts Options) *Module {
	opts = opts.withDefaults()
	m := &Module{
		number:    number,
		slot:      slot,
		backplane: bp,
		opts:      opts,
		log:       opts.logger.With("module", number, "slot", slot),
		tracer:    opts.tracer,
		bus:       bus,
		regs:      opts.regs,
	}
	m.storeFIFOConfig(opts.fifo)
	m.paused.Store(true)
	m.worker = newFIFOWorker(m, m.log, opts.poll, opts.throttle)
	return m
}

func (m *Module) errorf(code Code, err error) error {
	return &Error{Module: m.number, Slot: m.slot, Code: code, Err: err}
}

// Number returns the module's index in the crate.
func (m *Module) Number() int { return m.number }

// Slot returns the module's physical slot.
func (m *Module) Slot() int { return m.slot }

// Online reports whether the module is online.
func (m *Module) Online() bool { return m.online.LoadAcquire() }

// Pool returns the module's buffer pool for inspection.
func (m *Module) Pool() *Pool { return &m.pool }

// WorkerState returns the FIFO worker's lifecycle state.
func (m *Module) WorkerState() WorkerState { return m.worker.State() }

// Open brings the module online and starts its FIFO services. Opening a
// module that was forced offline puts it back on the backplane; its FIFO
// services kept running.
func (m *Module) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		if m.online.LoadAcquire() {
			return nil
		}
		if err := m.backplane.Online(m.slot); err != nil {
			return m.errorf(CodeInvalidValue, err)
		}
		m.online.StoreRelease(true)
		m.log.Info("module back online")
		return nil
	}
	if err := m.backplane.Online(m.slot); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	if err := m.startFIFOServicesLocked(); err != nil {
		m.backplane.Offline(m.slot)
		return err
	}
	mm, err := registerMetrics(m.opts.meter, m)
	if err != nil {
		m.log.Warn("metrics registration failed", "err", err)
	}
	m.metrics = mm
	m.opened = true
	m.online.StoreRelease(true)
	m.log.Info("module online", "buffers", m.pool.Number(), "buffer_words", m.pool.Size())
	return nil
}

// Close ends any run, stops FIFO services and takes the module offline.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return nil
	}
	var errs []error
	if m.online.LoadAcquire() {
		if active, err := m.hwRunActive(); err == nil && active {
			errs = append(errs, m.runEndLocked(ctx))
		}
	}
	m.online.StoreRelease(false)
	errs = append(errs, m.stopFIFOServicesLocked())
	if m.metrics != nil {
		errs = append(errs, m.metrics.close())
		m.metrics = nil
	}
	m.backplane.Offline(m.slot)
	m.opened = false
	m.log.Info("module offline")
	return errors.Join(errs...)
}

// SetOffline takes the module offline without stopping its services. The
// FIFO worker idles and the backplane forgets the slot.
func (m *Module) SetOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online.LoadAcquire() {
		m.online.StoreRelease(false)
		m.backplane.Offline(m.slot)
		m.log.Warn("module forced offline")
	}
}

func (m *Module) startFIFOServicesLocked() error {
	// A pool left behind by a close that timed out waiting for its
	// buffers is destroyed once they are back.
	if m.pool.Valid() {
		if err := m.pool.Destroy(); err != nil {
			return m.errorf(CodeInternal, err)
		}
	}
	if err := m.pool.Create(int(m.buffers.Load()), m.opts.bufferWords); err != nil {
		return m.errorf(CodeInternal, err)
	}
	m.paused.StoreRelease(true)
	if err := m.worker.start(m.opts.handshake); err != nil {
		_ = m.pool.Destroy()
		return m.errorf(CodeTimeout, err)
	}
	return nil
}

func (m *Module) stopFIFOServicesLocked() error {
	if err := m.worker.shutdown(m.opts.handshake); err != nil {
		return m.errorf(CodeTimeout, err)
	}
	m.data.Flush()

	deadline := time.Now().Add(m.opts.drain)
	backoff := iox.Backoff{}
	for !m.pool.Full() && m.pool.Valid() {
		if time.Now().After(deadline) {
			m.log.Warn("buffers still held at close", "free", m.pool.Count(), "number", m.pool.Number())
			return m.errorf(CodeInternal, ErrPoolBusy)
		}
		backoff.Wait()
	}
	if err := m.pool.Destroy(); err != nil {
		return m.errorf(CodeInternal, err)
	}
	return nil
}

// FIFO settings

func (m *Module) storeFIFOConfig(c FIFOConfig) {
	m.buffers.Store(int64(c.Buffers))
	m.runWait.Store(int64(c.RunWait))
	m.idleWait.Store(int64(c.IdleWait))
	m.hold.Store(int64(c.Hold))
	m.dmaTrigger.Store(int64(c.DMATriggerLevel))
	m.bandwidth.Store(int64(c.Bandwidth))
}

// FIFOConfig returns the current FIFO settings.
func (m *Module) FIFOConfig() FIFOConfig {
	return FIFOConfig{
		Buffers:         int(m.buffers.Load()),
		RunWait:         time.Duration(m.runWait.Load()),
		IdleWait:        time.Duration(m.idleWait.Load()),
		Hold:            time.Duration(m.hold.Load()),
		DMATriggerLevel: int(m.dmaTrigger.Load()),
		Bandwidth:       int(m.bandwidth.Load()),
	}
}

// SetFIFOBuffers sets the pool size used the next time the module opens.
func (m *Module) SetFIFOBuffers(n int) error {
	if err := checkBuffers(n); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	m.buffers.Store(int64(n))
	return nil
}

// SetFIFORunWait sets the poll period during a run. Zero selects
// synchronous mode.
func (m *Module) SetFIFORunWait(d time.Duration) error {
	if err := checkRunWait(d); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	if d == 0 {
		m.log.Warn("fifo synchronous mode enabled")
	}
	m.runWait.Store(int64(d))
	return nil
}

// SetFIFOIdleWait sets the poll period when idle.
func (m *Module) SetFIFOIdleWait(d time.Duration) error {
	if err := checkIdleWait(d); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	m.idleWait.Store(int64(d))
	return nil
}

// SetFIFOHold sets how long sub-trigger data may wait before it is read.
func (m *Module) SetFIFOHold(d time.Duration) error {
	if err := checkHold(d); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	m.hold.Store(int64(d))
	return nil
}

// SetFIFODMATriggerLevel sets the FIFO level that triggers a read.
func (m *Module) SetFIFODMATriggerLevel(words int) error {
	if err := checkDMATriggerLevel(words); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	m.dmaTrigger.Store(int64(words))
	return nil
}

// SetFIFOBandwidth caps the input rate in MB/s, zero for unlimited.
func (m *Module) SetFIFOBandwidth(mbps int) error {
	if err := checkBandwidth(mbps); err != nil {
		return m.errorf(CodeInvalidValue, err)
	}
	m.bandwidth.Store(int64(mbps))
	return nil
}

// Hardware access, all behind the bus lock.

func (m *Module) readReg(addr uint32) (Word, error) {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	return m.bus.ReadWord(addr)
}

func (m *Module) writeReg(addr uint32, v Word) error {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	return m.bus.WriteWord(addr, v)
}

// modifyReg sets or clears mask in the register at addr.
func (m *Module) modifyReg(addr uint32, mask Word, set bool) error {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	v, err := m.bus.ReadWord(addr)
	if err != nil {
		return err
	}
	if set {
		v |= mask
	} else {
		v &^= mask
	}
	return m.bus.WriteWord(addr, v)
}

func (m *Module) fifoLevel() (int, error) {
	v, err := m.readReg(m.regs.FIFOLevel)
	return int(v), err
}

// dmaRead fills dst from the FIFO in bounded blocks, releasing the bus
// between blocks.
func (m *Module) dmaRead(dst []Word) error {
	for len(dst) > 0 {
		n := min(len(dst), MaxDMABlockWords)
		m.busMu.Lock()
		err := m.bus.DMARead(m.regs.FIFOData, dst[:n])
		m.busMu.Unlock()
		if err != nil {
			return err
		}
		dst = dst[n:]
	}
	return nil
}

func (m *Module) hwRunActive() (bool, error) {
	csr, err := m.readReg(m.regs.CSR)
	if err != nil {
		return false, err
	}
	return csr&(bit(m.regs.RunEnableBit)|bit(m.regs.RunActiveBit)) != 0, nil
}

func (m *Module) hwRunStart(task RunTask, mode RunMode) error {
	if err := m.writeReg(m.regs.RunTask, task.code(mode)); err != nil {
		return err
	}
	return m.modifyReg(m.regs.CSR, bit(m.regs.RunEnableBit), true)
}

func (m *Module) hwRunEnd() error {
	if err := m.modifyReg(m.regs.CSR, bit(m.regs.RunEnableBit), false); err != nil {
		return err
	}
	deadline := time.Now().Add(RunStopTimeout)
	backoff := iox.Backoff{}
	for {
		active, err := m.hwRunActive()
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrRunStop
		}
		backoff.Wait()
	}
}

// Run control

// RunActive reports whether the hardware is armed for or running a run.
func (m *Module) RunActive() (bool, error) {
	if !m.online.LoadAcquire() {
		return false, m.errorf(CodeOffline, ErrOffline)
	}
	return m.hwRunActive()
}

// RunTask returns the task of the current run.
func (m *Module) RunTask() RunTask { return RunTask(m.runTask.LoadAcquire()) }

func (m *Module) listModeActive() bool {
	return RunTask(m.runTask.LoadAcquire()) == TaskListMode
}

// StartHistograms starts a histogram run.
func (m *Module) StartHistograms(ctx context.Context, mode RunMode) error {
	return m.startRun(ctx, TaskHistogram, mode)
}

// StartListMode starts a list-mode run. Queued data from an earlier run
// is discarded and the FIFO worker begins draining.
func (m *Module) StartListMode(ctx context.Context, mode RunMode) error {
	return m.startRun(ctx, TaskListMode, mode)
}

func (m *Module) startRun(ctx context.Context, task RunTask, mode RunMode) (err error) {
	ctx, span := m.tracer.Start(ctx, "digitizer.module.start",
		trace.WithAttributes(
			attribute.Int("module", m.number),
			attribute.Int("slot", m.slot),
			attribute.String("task", task.String()),
		))
	defer func() { endSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online.LoadAcquire() {
		return m.errorf(CodeOffline, ErrOffline)
	}
	active, err := m.hwRunActive()
	if err != nil {
		return m.errorf(CodeInternal, err)
	}
	if active {
		return m.errorf(CodeInvalidOperation, ErrRunActive)
	}
	if err := m.backplane.SyncReady(); err != nil {
		return m.errorf(CodeCoordination, err)
	}

	if task == TaskListMode {
		m.data.Flush()
	}
	// The worker leaves a starting run alone until run enable is set.
	m.runTask.StoreRelease(uint64(taskStarting))
	m.stats.Start()
	if err := m.hwRunStart(task, mode); err != nil {
		m.runTask.StoreRelease(uint64(TaskNone))
		m.stats.Stop()
		return m.errorf(CodeInternal, err)
	}
	m.runTask.StoreRelease(uint64(task))
	if task == TaskListMode {
		m.paused.StoreRelease(false)
	}
	m.log.Info("run started", "task", task.String(), "synchronized", m.backplane.Synchronized())
	return nil
}

// RunEnd ends the current run, drains what the hardware still holds into
// the queue and withdraws the module from the synchronized start barrier.
// Backplane state never makes it fail.
func (m *Module) RunEnd(ctx context.Context) (err error) {
	_, span := m.tracer.Start(ctx, "digitizer.module.end",
		trace.WithAttributes(attribute.Int("module", m.number), attribute.Int("slot", m.slot)))
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online.LoadAcquire() {
		return m.errorf(CodeOffline, ErrOffline)
	}
	return m.runEndLocked(ctx)
}

func (m *Module) runEndLocked(ctx context.Context) error {
	task := RunTask(m.runTask.LoadAcquire())
	m.runTask.StoreRelease(uint64(taskStopping))

	var errs []error
	if err := m.hwRunEnd(); err != nil {
		errs = append(errs, m.errorf(CodeTimeout, err))
	}
	if task == TaskListMode && !m.paused.LoadAcquire() {
		if err := m.worker.sync(SyncPassTimeout); err != nil {
			m.log.Warn("final fifo pass failed", "err", err)
		}
	}
	m.paused.StoreRelease(true)
	m.stats.Stop()
	m.runTask.StoreRelease(uint64(TaskNone))

	if m.synchWait != 0 {
		m.synchWait = 0
		if err := m.writeReg(m.regs.SynchWait, 0); err != nil {
			errs = append(errs, m.errorf(CodeInternal, err))
		}
	}
	_ = m.backplane.SyncWait(m.slot, false)
	m.log.Info("run ended", "task", task.String())
	return errors.Join(errs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// List-mode data

// ReadListModeLevel returns the number of words queued for the host. In
// synchronous mode it first drains the hardware FIFO.
func (m *Module) ReadListModeLevel() (int, error) {
	if !m.online.LoadAcquire() {
		return 0, m.errorf(CodeOffline, ErrOffline)
	}
	if err := m.syncIfSynchronous(); err != nil {
		return 0, err
	}
	return m.data.Size(), nil
}

// ReadListMode moves up to len(dst) queued words into dst and returns the
// number moved.
func (m *Module) ReadListMode(dst []Word) (int, error) {
	if !m.online.LoadAcquire() {
		return 0, m.errorf(CodeOffline, ErrOffline)
	}
	if err := m.syncIfSynchronous(); err != nil {
		return 0, err
	}
	n := m.data.Read(dst)
	m.stats.AddOut(n)
	return n, nil
}

func (m *Module) syncIfSynchronous() error {
	if !m.FIFOConfig().Synchronous() || m.paused.LoadAcquire() {
		return nil
	}
	if err := m.worker.sync(SyncPassTimeout); err != nil {
		return m.errorf(CodeTimeout, err)
	}
	return nil
}

// Stats returns a snapshot of the FIFO statistics.
func (m *Module) Stats() FIFOSnapshot { return m.stats.Snapshot() }

// ClearStats zeroes the FIFO statistics.
func (m *Module) ClearStats() { m.stats.Clear() }

// Parameters

// WriteParam sets a parameter and applies its backplane effects.
func (m *Module) WriteParam(p Param, v Word) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online.LoadAcquire() {
		return m.errorf(CodeOffline, ErrOffline)
	}
	switch p {
	case ParamSynchWait:
		return m.writeSynchWaitLocked(v)
	case ParamModuleCSRB:
		return m.writeCSRBLocked(v)
	default:
		return m.errorf(CodeInvalidValue, ErrParam)
	}
}

// ReadParam returns the last value written to a parameter.
func (m *Module) ReadParam(p Param) (Word, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch p {
	case ParamSynchWait:
		return m.synchWait, nil
	case ParamModuleCSRB:
		return m.csrb, nil
	default:
		return 0, m.errorf(CodeInvalidValue, ErrParam)
	}
}

func (m *Module) writeSynchWaitLocked(v Word) error {
	if v > 1 {
		return m.errorf(CodeInvalidValue, ErrParamValue)
	}
	if err := m.backplane.SyncWait(m.slot, v == 1); err != nil {
		return m.errorf(CodeInternal, err)
	}
	if err := m.writeReg(m.regs.SynchWait, v); err != nil {
		_ = m.backplane.SyncWait(m.slot, m.synchWait == 1)
		return m.errorf(CodeInternal, err)
	}
	m.synchWait = v
	return nil
}

// writeCSRBLocked claims the roles whose bits are set and gives up the ones
// whose bits are clear. A failed claim undoes the claims this write made.
func (m *Module) writeCSRBLocked(v Word) error {
	bp := m.backplane
	var claimed []Role
	for _, r := range csrbRoles {
		if v&bit(r.bit) == 0 {
			continue
		}
		held := bp.Holds(r.role, m.slot)
		if err := bp.Claim(r.role, m.slot); err != nil {
			for _, c := range claimed {
				bp.ReleaseBy(c, m.slot)
			}
			return m.errorf(CodeCoordination, err)
		}
		if !held {
			claimed = append(claimed, r.role)
		}
	}
	for _, r := range csrbRoles {
		if v&bit(r.bit) == 0 {
			bp.ReleaseBy(r.role, m.slot)
		}
	}

	pullup := v&bit(CSRBPullup) != 0
	if err := m.modifyReg(m.regs.CtrlCS, bit(m.regs.CtrlPullupBit), pullup); err != nil {
		return m.errorf(CodeInternal, err)
	}
	if err := m.modifyReg(m.regs.CSR, bit(m.regs.PullupCtrlBit), pullup); err != nil {
		return m.errorf(CodeInternal, err)
	}
	m.csrb = v
	return nil
}
