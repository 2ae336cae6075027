// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"log/slog"
	"runtime"
	"time"

	"code.hybscloud.com/atomix"
)

// compactBelow is the free buffer count under which the worker compacts
// the data queue before reading more.
const compactBelow = 4

// syncModePoll is how often a worker in synchronous mode wakes to notice
// configuration and run state changes.
const syncModePoll = 100 * time.Millisecond

// WorkerState is the lifecycle state of a module's FIFO worker.
type WorkerState int

// Worker states.
const (
	WorkerStopped WorkerState = iota
	WorkerStarting
	WorkerRunning
	WorkerIdle
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	case WorkerIdle:
		return "idle"
	default:
		return "stopped"
	}
}

// fifoWorker drains one module's hardware FIFO into its data queue.
//
// The worker runs on its own locked OS thread and only touches the bus
// lock, the pool and the queue; it never takes the module lock. API calls
// talk to it through request channels and wait a bounded time for an
// answer.
type fifoWorker struct {
	m        *Module
	log      *slog.Logger
	policy   PollPolicy
	throttle ThrottlePolicy

	state    atomix.Int64
	running  atomix.Bool
	requests chan chan error
	stop     chan struct{}
	done     chan struct{}

	// Owned by the worker goroutine.
	sched     *PollSchedule
	firstSeen time.Time
	poolEmpty onceLog
	hwFull    onceLog
	busFault  onceLog
}

func newFIFOWorker(m *Module, log *slog.Logger, policy PollPolicy, throttle ThrottlePolicy) *fifoWorker {
	return &fifoWorker{
		m:        m,
		log:      log.With("component", string(ComponentWorker)),
		policy:   policy,
		throttle: throttle,
	}
}

// State returns the current lifecycle state.
func (w *fifoWorker) State() WorkerState { return WorkerState(w.state.Load()) }

// start launches the worker and waits for it to report in.
func (w *fifoWorker) start(timeout time.Duration) error {
	if w.running.LoadAcquire() {
		return nil
	}
	ready := make(chan struct{})
	w.requests = make(chan chan error)
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.state.Store(int64(WorkerStarting))
	w.running.StoreRelease(true)
	go w.loop(ready)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
		w.log.Debug("worker started")
		return nil
	case <-t.C:
		w.running.StoreRelease(false)
		close(w.stop)
		return ErrWorkerTimeout
	}
}

// shutdown asks the worker to exit and waits for it. A read in flight
// completes before the worker acknowledges.
func (w *fifoWorker) shutdown(timeout time.Duration) error {
	if !w.running.LoadAcquire() {
		return nil
	}
	w.running.StoreRelease(false)
	close(w.stop)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		w.log.Debug("worker stopped")
		return nil
	case <-t.C:
		return ErrWorkerTimeout
	}
}

// sync asks the worker for an immediate pass that drains the hardware FIFO
// regardless of trigger level and waits for it to finish.
func (w *fifoWorker) sync(timeout time.Duration) error {
	if !w.running.LoadAcquire() {
		return ErrWorkerStopped
	}
	resp := make(chan error, 1)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w.requests <- resp:
	case <-w.done:
		return ErrWorkerStopped
	case <-t.C:
		return ErrWorkerTimeout
	}
	select {
	case err := <-resp:
		return err
	case <-w.done:
		return ErrWorkerStopped
	case <-t.C:
		return ErrWorkerTimeout
	}
}

func (w *fifoWorker) loop(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer w.state.Store(int64(WorkerStopped))

	cfg := w.m.FIFOConfig()
	w.sched = NewPollSchedule(w.policy, cfg.RunWait)
	w.state.Store(int64(WorkerIdle))
	close(ready)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for w.running.LoadAcquire() {
		var pending chan error
		select {
		case <-w.stop:
			return
		case pending = <-w.requests:
		case <-timer.C:
		}

		cfg = w.m.FIFOConfig()
		w.checkRun()
		active := w.m.listModeActive()
		if active {
			w.state.Store(int64(WorkerRunning))
		} else {
			w.state.Store(int64(WorkerIdle))
		}

		var (
			throttle time.Duration
			data     bool
			err      error
		)
		if pending != nil || !cfg.Synchronous() {
			throttle, data, err = w.poll(cfg, pending != nil)
		}
		if pending != nil {
			pending <- err
		}

		next := w.sched.Next(cfg, active, data)
		if cfg.Synchronous() {
			next = syncModePoll
		}
		timer.Reset(max(next, throttle))
	}
}

// checkRun notices a run ended by another module or by the hardware.
func (w *fifoWorker) checkRun() {
	m := w.m
	task := RunTask(m.runTask.LoadAcquire())
	if task != TaskHistogram && task != TaskListMode {
		return
	}
	active, err := m.hwRunActive()
	if err != nil || active {
		return
	}
	if m.runTask.CompareAndSwapAcqRel(uint64(task), uint64(TaskNone)) {
		m.stats.Stop()
		w.log.Info("run ended", "task", task.String())
	}
}

// poll drains the hardware FIFO into the queue. It returns a throttle
// delay when the bandwidth cap is reached and whether any data was seen.
func (w *fifoWorker) poll(cfg FIFOConfig, requested bool) (time.Duration, bool, error) {
	m := w.m
	data := false
	if !m.online.LoadAcquire() || m.paused.LoadAcquire() {
		return 0, false, nil
	}
	for w.running.LoadAcquire() {
		level, err := m.fifoLevel()
		if err != nil {
			w.busFault.warn(w.log, "fifo level read failed", "err", err)
			return 0, data, err
		}
		w.busFault.clear(w.log, "")
		if level >= HWFIFOWords {
			m.stats.AddHWOverflow()
			w.hwFull.warn(w.log, "hardware fifo full", "level", level)
		} else {
			w.hwFull.clear(w.log, "hardware fifo recovered", "level", level)
		}
		if level == 0 {
			w.firstSeen = time.Time{}
			return 0, data, nil
		}
		data = true

		if !requested && level < cfg.DMATriggerLevel {
			if w.firstSeen.IsZero() {
				w.firstSeen = time.Now()
				return 0, data, nil
			}
			if time.Since(w.firstSeen) < cfg.Hold {
				return 0, data, nil
			}
		}

		free := m.pool.Count()
		if free > 1 && free < compactBelow {
			m.data.Compact()
			free = m.pool.Count()
		}
		h, err := m.pool.Request()
		if err != nil {
			m.stats.AddOverflow()
			w.poolEmpty.warn(w.log, "pool empty, data waits in hardware",
				"level", level, "queued", m.data.Size())
			return 0, data, nil
		}
		w.poolEmpty.clear(w.log, "pool recovered", "free", m.pool.Count())

		n := min(level, h.Cap())
		if err := m.dmaRead(h.Data()[:n]); err != nil {
			h.Release()
			w.busFault.warn(w.log, "fifo read failed", "words", n, "err", err)
			return 0, data, err
		}
		h.SetLen(n)
		m.stats.AddDMAIn(n)
		if free > 1 {
			m.stats.AddIn(n)
			m.data.Push(h)
		} else {
			m.stats.AddDropped(n)
			h.Release()
		}
		w.firstSeen = time.Time{}

		m.stats.Update(time.Now())
		if !requested && cfg.Bandwidth > 0 && m.stats.Bandwidth() >= float64(cfg.Bandwidth) {
			return w.throttle.Delay(float64(cfg.Bandwidth)), data, nil
		}
	}
	return 0, data, nil
}
