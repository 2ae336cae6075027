// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package freelist provides the lock-free list of free buffer indices
// behind the buffer pool.
//
// A List holds a subset of the indices [0, n) of a fixed buffer array.
// It is a LIFO: the buffer returned most recently is handed out first,
// while its memory is still warm. Push and Pop are safe from any number of
// goroutines and never block.
package freelist

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

// MaxLen is the largest index count a List supports.
const MaxLen = 1<<32 - 1

const linkMask = 1<<32 - 1

// List is a bounded lock-free stack of indices.
//
// The head word packs a generation in its upper 32 bits with a link in
// its lower 32 bits. A link is index+1, so zero means empty. Every
// successful Push or Pop bumps the generation, which stops a Pop that
// read a stale head from succeeding after the same index came back.
type List struct {
	_    cpu.CacheLinePad
	head atomix.Uint64
	_    cpu.CacheLinePad
	held atomix.Int64
	_    cpu.CacheLinePad
	next []atomix.Uint64 // next[i] is the link below index i
}

// New returns an empty list for the indices [0, n).
//
// Panics if n < 1 or n > MaxLen.
func New(n int) *List {
	if n < 1 || uint64(n) > MaxLen {
		panic("freelist: length out of range")
	}
	return &List{next: make([]atomix.Uint64, n)}
}

// Full returns a list holding every index in [0, n). Pop returns them in
// ascending order.
func Full(n int) *List {
	l := New(n)
	for i := n - 1; i >= 0; i-- {
		l.Push(i)
	}
	return l
}

func pack(gen, link uint64) uint64 { return gen<<32 | link }

// Push returns idx to the list. The caller must own idx: pushing an index
// that is already on the list corrupts it.
//
// Panics if idx is outside [0, n).
func (l *List) Push(idx int) {
	if idx < 0 || idx >= len(l.next) {
		panic("freelist: index out of range")
	}
	sw := spin.Wait{}
	for {
		h := l.head.LoadAcquire()
		l.next[idx].StoreRelease(h & linkMask)
		if l.head.CompareAndSwapAcqRel(h, pack(h>>32+1, uint64(idx)+1)) {
			l.held.Add(1)
			return
		}
		sw.Once()
	}
}

// Pop takes the most recently pushed index.
// Returns (-1, iox.ErrWouldBlock) if the list is empty.
func (l *List) Pop() (int, error) {
	sw := spin.Wait{}
	for {
		h := l.head.LoadAcquire()
		top := h & linkMask
		if top == 0 {
			return -1, iox.ErrWouldBlock
		}
		below := l.next[top-1].LoadAcquire()
		if l.head.CompareAndSwapAcqRel(h, pack(h>>32+1, below)) {
			l.held.Add(-1)
			return int(top - 1), nil
		}
		sw.Once()
	}
}

// Len returns the number of indices on the list. Under concurrent use the
// value may be stale on return.
func (l *List) Len() int { return int(l.held.Load()) }

// Cap returns n, the number of indices the list was created for.
func (l *List) Cap() int { return len(l.next) }
