// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

// Hardware sizes.
const (
	// HWFIFOWords is the depth of a module's onboard list-mode FIFO.
	HWFIFOWords = 131072
	// MaxDMABlockWords bounds a single DMA transfer.
	MaxDMABlockWords = 8192
	// DefaultBufferWords is the default pool buffer capacity.
	DefaultBufferWords = 64 * 1024
	// MaxSlots is the slot count of a full crate.
	MaxSlots = 15
)

// Bus is raw register and DMA access to one module.
//
// Implementations need not be safe for concurrent use; a Module serializes
// every call behind its bus lock.
type Bus interface {
	ReadWord(addr uint32) (Word, error)
	WriteWord(addr uint32, v Word) error
	// DMARead fills dst from the FIFO data port at addr.
	DMARead(addr uint32, dst []Word) error
}

// Registers is the register map of a module revision.
type Registers struct {
	CSR       uint32 // control and status
	CtrlCS    uint32 // CPLD control
	FIFOLevel uint32 // words waiting in the list-mode FIFO
	FIFOData  uint32 // list-mode FIFO DMA port
	RunTask   uint32 // run task selector
	SynchWait uint32 // synchronized start flag

	RunEnableBit  uint // CSR: request run
	RunActiveBit  uint // CSR: run in progress
	PullupCtrlBit uint // CSR: trigger line pullup control
	CtrlPullupBit uint // CtrlCS: CPLD pullup enable
}

// DefaultRegisters is the register map of the current module revision.
var DefaultRegisters = Registers{
	CSR:       0x48,
	CtrlCS:    0x50,
	FIFOLevel: 0x3c,
	FIFOData:  0x200000,
	RunTask:   0x4a000,
	SynchWait: 0x4a004,

	RunEnableBit:  0,
	RunActiveBit:  13,
	PullupCtrlBit: 3,
	CtrlPullupBit: 13,
}

func bit(n uint) Word { return 1 << n }

// RunTask selects what a run does.
type RunTask int

// Run tasks.
const (
	TaskNone RunTask = iota
	TaskHistogram
	TaskListMode
	taskStarting
	taskStopping
)

func (t RunTask) String() string {
	switch t {
	case TaskNone:
		return "none"
	case TaskHistogram:
		return "histogram"
	case TaskListMode:
		return "list-mode"
	case taskStarting:
		return "starting"
	default:
		return "stopping"
	}
}

// RunMode selects whether a run starts fresh or resumes.
type RunMode int

// Run modes.
const (
	RunNew RunMode = iota
	RunResume
)

// Hardware task codes written to the run task register.
func (t RunTask) code(mode RunMode) Word {
	var c Word
	switch t {
	case TaskHistogram:
		c = 0x301
	case TaskListMode:
		c = 0x100
	}
	if mode == RunResume {
		c |= 1 << 15
	}
	return c
}
