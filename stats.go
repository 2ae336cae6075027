// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// BandwidthUpdatePeriod is the shortest interval over which input
// bandwidth is recomputed.
const BandwidthUpdatePeriod = 100 * time.Millisecond

const wordBytes = 4

// FIFOStats counts the words moving through a module's list-mode path.
//
// Counters are atomics written by the FIFO worker and read by anyone.
// Bandwidth is derived from DMAIn and recomputed at most once per
// BandwidthUpdatePeriod.
type FIFOStats struct {
	in          atomix.Int64
	out         atomix.Int64
	dmaIn       atomix.Int64
	overflows   atomix.Int64
	dropped     atomix.Int64
	hwOverflows atomix.Int64

	bandwidth atomix.Uint64 // float64 bits, MB/s
	minBW     atomix.Uint64
	maxBW     atomix.Uint64

	mu        sync.Mutex
	running   bool
	start     time.Time
	last      time.Time
	lastDMAIn int64
	elapsed   time.Duration
}

// FIFOSnapshot is a point-in-time copy of FIFOStats.
type FIFOSnapshot struct {
	In           int64
	Out          int64
	DMAIn        int64
	Overflows    int64
	Dropped      int64
	HWOverflows  int64
	Bandwidth    float64
	MinBandwidth float64
	MaxBandwidth float64
	Elapsed      time.Duration
	Running      bool
}

func (s FIFOSnapshot) String() string {
	return fmt.Sprintf("in=%d out=%d dma_in=%d overflows=%d dropped=%d hw_overflows=%d bw=%.3f (%.3f-%.3f) MB/s",
		s.In, s.Out, s.DMAIn, s.Overflows, s.Dropped, s.HWOverflows,
		s.Bandwidth, s.MinBandwidth, s.MaxBandwidth)
}

func loadFloat(a *atomix.Uint64) float64    { return math.Float64frombits(a.LoadAcquire()) }
func storeFloat(a *atomix.Uint64, v float64) { a.StoreRelease(math.Float64bits(v)) }

// Clear zeroes every counter and bandwidth figure.
func (s *FIFOStats) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *FIFOStats) clearLocked() {
	s.in.Store(0)
	s.out.Store(0)
	s.dmaIn.Store(0)
	s.overflows.Store(0)
	s.dropped.Store(0)
	s.hwOverflows.Store(0)
	storeFloat(&s.bandwidth, 0)
	storeFloat(&s.minBW, math.Inf(1))
	storeFloat(&s.maxBW, 0)
	s.lastDMAIn = 0
	s.elapsed = 0
}

// Start clears the counters and opens a new measurement interval.
func (s *FIFOStats) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	now := time.Now()
	s.start = now
	s.last = now
	s.running = true
}

// Stop closes the measurement interval. Counters keep their values and the
// final bandwidth covers the words since the last update.
func (s *FIFOStats) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	now := time.Now()
	if d := now.Sub(s.last); d > 0 {
		dma := s.dmaIn.Load()
		storeFloat(&s.bandwidth, rate(dma-s.lastDMAIn, d))
	}
	s.elapsed = now.Sub(s.start)
	s.running = false
}

// Update recomputes bandwidth if at least BandwidthUpdatePeriod has passed
// since the previous update and reports whether it did.
func (s *FIFOStats) Update(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	d := now.Sub(s.last)
	if d < BandwidthUpdatePeriod {
		return false
	}
	dma := s.dmaIn.Load()
	bw := rate(dma-s.lastDMAIn, d)
	storeFloat(&s.bandwidth, bw)
	if bw < loadFloat(&s.minBW) {
		storeFloat(&s.minBW, bw)
	}
	if bw > loadFloat(&s.maxBW) {
		storeFloat(&s.maxBW, bw)
	}
	s.lastDMAIn = dma
	s.last = now
	return true
}

// rate converts words over d into MB/s.
func rate(words int64, d time.Duration) float64 {
	us := float64(d) / float64(time.Microsecond)
	if us <= 0 {
		return 0
	}
	return float64(words*wordBytes) / us
}

// Bandwidth returns the last computed input bandwidth in MB/s.
func (s *FIFOStats) Bandwidth() float64 { return loadFloat(&s.bandwidth) }

// Snapshot returns a copy of the counters.
func (s *FIFOStats) Snapshot() FIFOSnapshot {
	s.mu.Lock()
	elapsed := s.elapsed
	running := s.running
	if running {
		elapsed = time.Since(s.start)
	}
	s.mu.Unlock()
	minBW := loadFloat(&s.minBW)
	if math.IsInf(minBW, 1) {
		minBW = 0
	}
	return FIFOSnapshot{
		In:           s.in.Load(),
		Out:          s.out.Load(),
		DMAIn:        s.dmaIn.Load(),
		Overflows:    s.overflows.Load(),
		Dropped:      s.dropped.Load(),
		HWOverflows:  s.hwOverflows.Load(),
		Bandwidth:    loadFloat(&s.bandwidth),
		MinBandwidth: minBW,
		MaxBandwidth: loadFloat(&s.maxBW),
		Elapsed:      elapsed,
		Running:      running,
	}
}

// AddIn counts words queued for the host.
func (s *FIFOStats) AddIn(words int) { s.in.Add(int64(words)) }

// AddOut counts words delivered to the host.
func (s *FIFOStats) AddOut(words int) { s.out.Add(int64(words)) }

// AddDMAIn counts words read from the hardware FIFO.
func (s *FIFOStats) AddDMAIn(words int) { s.dmaIn.Add(int64(words)) }

// AddDropped counts words read and discarded.
func (s *FIFOStats) AddDropped(words int) { s.dropped.Add(int64(words)) }

// AddOverflow counts a poll that found no buffer to read into.
func (s *FIFOStats) AddOverflow() { s.overflows.Add(1) }

// AddHWOverflow counts a poll that found the hardware FIFO full.
func (s *FIFOStats) AddHWOverflow() { s.hwOverflows.Add(1) }
