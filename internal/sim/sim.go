// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sim simulates digitizer module hardware behind the
// [digitizer.Bus] interface.
//
// A simulated module has a list-mode FIFO the test fills directly, a CSR
// with run enable and run active bits, and an optional shared [Line] that
// models the backplane synchronization line: modules with their sync wait
// flag set arm on run enable and all go active together once every such
// module has armed. Ending the run on one of them ends it on all.
package sim

import (
	"errors"
	"sync"

	"code.hybscloud.com/digitizer"
)

// Errors returned by the simulated bus.
var (
	ErrUnderrun = errors.New("sim: dma read beyond fifo level")
	ErrAddress  = errors.New("sim: dma read from non-fifo address")
)

// Module is a simulated digitizer.
type Module struct {
	regs digitizer.Registers
	line *Line

	mu       sync.Mutex
	csr      digitizer.Word
	ctrl     digitizer.Word
	task     digitizer.Word
	synch    digitizer.Word
	fifo     []digitizer.Word
	next     digitizer.Word
	dmaCalls int
	maxDMA   int
	fault    error
}

// New returns a simulated module with register map regs attached to line,
// which may be nil.
func New(regs digitizer.Registers, line *Line) *Module {
	m := &Module{regs: regs, line: line}
	if line != nil {
		line.attach(m)
	}
	return m
}

func (m *Module) active() digitizer.Word { return 1 << m.regs.RunActiveBit }
func (m *Module) enable() digitizer.Word { return 1 << m.regs.RunEnableBit }

// ReadWord implements digitizer.Bus.
func (m *Module) ReadWord(addr uint32) (digitizer.Word, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return 0, m.fault
	}
	switch addr {
	case m.regs.CSR:
		return m.csr, nil
	case m.regs.CtrlCS:
		return m.ctrl, nil
	case m.regs.FIFOLevel:
		return digitizer.Word(min(len(m.fifo), digitizer.HWFIFOWords)), nil
	case m.regs.RunTask:
		return m.task, nil
	case m.regs.SynchWait:
		return m.synch, nil
	}
	return 0, nil
}

// WriteWord implements digitizer.Bus.
func (m *Module) WriteWord(addr uint32, v digitizer.Word) error {
	m.mu.Lock()
	if m.fault != nil {
		m.mu.Unlock()
		return m.fault
	}
	var arm, end bool
	switch addr {
	case m.regs.CSR:
		was := m.csr&m.enable() != 0
		m.csr = v&^m.active() | m.csr&m.active()
		now := m.csr&m.enable() != 0
		synced := m.synch == 1 && m.line != nil
		switch {
		case !was && now && synced:
			arm = true
		case !was && now:
			m.csr |= m.active()
		case was && !now && synced:
			m.csr &^= m.active()
			end = true
		case was && !now:
			m.csr &^= m.active()
		}
	case m.regs.CtrlCS:
		m.ctrl = v
	case m.regs.RunTask:
		m.task = v
	case m.regs.SynchWait:
		m.synch = v
	}
	m.mu.Unlock()

	if arm {
		m.line.arm(m)
	}
	if end {
		m.line.end()
	}
	return nil
}

// DMARead implements digitizer.Bus.
func (m *Module) DMARead(addr uint32, dst []digitizer.Word) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return m.fault
	}
	if addr != m.regs.FIFOData {
		return ErrAddress
	}
	if len(dst) > len(m.fifo) {
		return ErrUnderrun
	}
	copy(dst, m.fifo)
	m.fifo = m.fifo[len(dst):]
	m.dmaCalls++
	m.maxDMA = max(m.maxDMA, len(dst))
	return nil
}

// Push appends words to the list-mode FIFO.
func (m *Module) Push(words ...digitizer.Word) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fifo = append(m.fifo, words...)
}

// Generate appends n words counting up from the last generated word.
func (m *Module) Generate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range n {
		m.fifo = append(m.fifo, m.next)
		m.next++
	}
}

// Level returns the words waiting in the FIFO.
func (m *Module) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fifo)
}

// Active reports whether the run active bit is set.
func (m *Module) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csr&m.active() != 0
}

// Armed reports whether run enable is set.
func (m *Module) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csr&m.enable() != 0
}

// Stop ends the run as the hardware would at the end of a preset run time.
func (m *Module) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.csr &^= m.active() | m.enable()
}

// Register returns the raw value of the register at addr.
func (m *Module) Register(addr uint32) digitizer.Word {
	v, _ := m.ReadWord(addr)
	return v
}

// DMAReads returns the number of DMA transfers and the largest one.
func (m *Module) DMAReads() (calls, largest int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dmaCalls, m.maxDMA
}

// SetFault makes every bus access fail with err until cleared with nil.
func (m *Module) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

// Line is a simulated backplane synchronization line.
type Line struct {
	mu      sync.Mutex
	members []*Module
	armed   map[*Module]bool
}

// NewLine returns an idle line.
func NewLine() *Line {
	return &Line{armed: make(map[*Module]bool)}
}

func (l *Line) attach(m *Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members = append(l.members, m)
}

func (l *Line) synced() []*Module {
	var out []*Module
	for _, m := range l.members {
		m.mu.Lock()
		s := m.synch == 1
		m.mu.Unlock()
		if s {
			out = append(out, m)
		}
	}
	return out
}

// arm records m as ready and releases the line once every module in sync
// wait mode is ready.
func (l *Line) arm(m *Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed[m] = true
	synced := l.synced()
	for _, s := range synced {
		if !l.armed[s] {
			return
		}
	}
	for _, s := range synced {
		s.mu.Lock()
		s.csr |= s.active()
		s.mu.Unlock()
	}
	clear(l.armed)
}

// end stops the run on every module in sync wait mode.
func (l *Line) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.synced() {
		s.mu.Lock()
		s.csr &^= s.active() | s.enable()
		s.mu.Unlock()
	}
	clear(l.armed)
}

// Released reports whether no module is armed and waiting on the line.
func (l *Line) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.armed) == 0
}
