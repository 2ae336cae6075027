// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// For Pool.Request: every buffer is in use.
// For Queue.Pop: the queue holds no buffers.
//
// ErrWouldBlock is a control flow signal, not a failure. The FIFO worker
// treats it as "try again on the next poll". This is an alias for
// [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// Pool and queue usage errors.
var (
	ErrPoolCreated  = errors.New("buffer: pool is already created")
	ErrPoolBusy     = errors.New("buffer: pool destroy made while busy")
	ErrPoolInvalid  = errors.New("buffer: pool is not created")
	ErrPoolArgs     = errors.New("buffer: pool number and size must be positive")
	ErrNoBuffers    = fmt.Errorf("buffer: no buffers available: %w", iox.ErrWouldBlock)
	ErrQueueEmpty   = fmt.Errorf("buffer: queue is empty: %w", iox.ErrWouldBlock)
	ErrCopyTooSmall = errors.New("buffer: copy destination too small")
)

// FIFO configuration errors.
var (
	ErrBuffersRange    = errors.New("fifo: buffer value out of range")
	ErrRunWaitRange    = errors.New("fifo: run wait value out of range")
	ErrIdleWaitRange   = errors.New("fifo: idle wait value out of range")
	ErrHoldRange       = errors.New("fifo: hold value out of range")
	ErrDMATriggerRange = errors.New("fifo: dma trigger level value out of range")
	ErrBandwidthRange  = errors.New("fifo: bandwidth value out of range")
	ErrBufferWords     = errors.New("fifo: buffer words out of range")
)

// Worker, module and crate errors.
var (
	ErrWorkerTimeout = errors.New("fifo: worker handshake timeout")
	ErrWorkerStopped = errors.New("fifo: worker not running")
	ErrOffline       = errors.New("module: offline")
	ErrRunActive     = errors.New("module: run already active")
	ErrRunStop       = errors.New("module: run did not stop")
	ErrParam         = errors.New("module: unknown parameter")
	ErrParamValue    = errors.New("module: parameter value out of range")
	ErrSlotRange     = errors.New("crate: slot out of range")
	ErrSlotInUse     = errors.New("crate: slot already in use")
	ErrModuleRange   = errors.New("crate: module number out of range")
)

// Backplane coordination errors.
var (
	ErrRoleTaken      = errors.New("leader role already taken")
	ErrSyncIncomplete = errors.New("sync wait mode enabled and not all slots in the sync wait state")
	ErrNoRunLeader    = errors.New("sync wait mode enabled but no run leader slot is assigned")
	ErrSyncOverflow   = errors.New("backplane: sync waits exceed present slots")
)

// Code classifies an error for callers that map errors onto status codes.
type Code int

// Error codes.
const (
	CodeInternal Code = iota
	CodeInvalidValue
	CodeInvalidOperation
	CodeOffline
	CodeTimeout
	CodeCoordination
)

func (c Code) String() string {
	switch c {
	case CodeInvalidValue:
		return "invalid value"
	case CodeInvalidOperation:
		return "invalid operation"
	case CodeOffline:
		return "offline"
	case CodeTimeout:
		return "timeout"
	case CodeCoordination:
		return "coordination"
	default:
		return "internal"
	}
}

// Error tags a failure with the module and slot it occurred on.
type Error struct {
	Module int
	Slot   int
	Code   Code
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("module %d: slot %d: %v", e.Module, e.Slot, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RoleError reports a role claim that lost to another slot.
type RoleError struct {
	Role   Role
	Slot   int
	Holder int
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("%s leader role already taken: slot: %d", e.Role, e.Holder)
}

func (e *RoleError) Unwrap() error { return ErrRoleTaken }

// SyncError reports a synchronized start attempted before every present
// slot entered the sync wait state.
type SyncError struct {
	Waiting  int
	Required int
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%v: %d of %d waiting", ErrSyncIncomplete, e.Waiting, e.Required)
}

func (e *SyncError) Unwrap() error { return ErrSyncIncomplete }

// CodeOf returns the code attached to err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
