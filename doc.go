// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package digitizer is the data path of a digitizer crate SDK.
//
// It drains each module's onboard list-mode FIFO into host memory while
// the modules of a crate coordinate synchronized run start and stop over
// their shared backplane.
//
// # Components
//
//   - [Pool]: fixed-capacity buffers shared by reference ([Handle])
//   - [Queue]: ordered filled buffers with in-place compaction
//   - FIFO worker: one goroutine per module polling the hardware FIFO
//   - [Backplane]: crate-wide role arbitration and the sync start barrier
//   - [Module] and [Crate]: run control over a hardware [Bus]
//
// # Quick Start
//
//	crate := digitizer.NewCrate(0)
//	defer crate.Close(ctx)
//
//	m, err := crate.Open(ctx, 2, bus, digitizer.New().Buffers(200))
//	if err != nil {
//	    return err
//	}
//	if err := m.StartListMode(ctx, digitizer.RunNew); err != nil {
//	    return err
//	}
//	buf := make([]digitizer.Word, 1<<16)
//	n, err := m.ReadListMode(buf)
//
// # Buffers
//
// Buffers never block the FIFO worker. When the pool runs dry the worker
// counts an overflow and leaves data in the hardware; when it is down to
// its last buffer it reads and drops so the hardware FIFO cannot
// overflow; and before that it compacts the queue to return partly filled
// buffers to the pool.
//
//	h, err := pool.Request()
//	if digitizer.IsWouldBlock(err) {
//	    // Pool exhausted - try again later
//	}
//	h.Append(words)
//	queue.Push(h) // queue owns h now
//
// # Synchronized Start
//
// A module joins the barrier by writing [ParamSynchWait] = 1 and one
// module claims the run leader role through [ParamModuleCSRB]. A start
// request on any module fails until every present module is waiting and
// a leader is assigned. [Crate.StartListMode] arms the other modules
// first and the leader last. Ending a run always succeeds with respect to
// the barrier and withdraws the module from it.
//
// # Errors
//
// Module operations return [*Error] carrying the module number, slot and
// a [Code]; use errors.Is with the package sentinels to classify them.
// Coordination failures unwrap to [*RoleError] or [*SyncError].
//
// # Observability
//
// Logging goes through log/slog ([SetLogger], [SetLogLevel]). FIFO
// statistics are published as OpenTelemetry observable instruments on the
// meter given to [Builder.Meter], and run transitions are traced on the
// tracer given to [Builder.Tracer].
package digitizer
