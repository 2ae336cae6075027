// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/digitizer/internal/freelist"
	"code.hybscloud.com/spin"
)

// Word is one hardware data word.
type Word = uint32

type buffer struct {
	data []Word
	n    int
	refs atomix.Uint64
	gen  atomix.Uint64
}

// Pool is a fixed set of equally sized buffers created and destroyed
// together.
//
// Request hands out a [Handle]; the buffer returns to the pool when the
// last owner calls [Handle.Release]. Request never blocks: an exhausted
// pool returns [ErrNoBuffers] and leaves the pool untouched. Request and
// Release are safe from any goroutine. Create and Destroy are serialized
// against each other but must not race with Request.
//
// The zero value is an uncreated pool.
type Pool struct {
	mu     sync.Mutex
	valid  atomix.Bool
	number atomix.Int64
	size   atomix.Int64
	count  atomix.Uint64
	bufs   []buffer
	free   *freelist.List
}

// Create allocates number buffers of size words each.
// Returns ErrPoolCreated if the pool already exists.
func (p *Pool) Create(number, size int) error {
	if number <= 0 || size <= 0 || uint64(number) > freelist.MaxLen {
		return ErrPoolArgs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid.Load() {
		return ErrPoolCreated
	}

	arena := make([]Word, number*size)
	bufs := make([]buffer, number)
	for i := range bufs {
		bufs[i].data = arena[i*size : (i+1)*size : (i+1)*size]
	}
	p.bufs = bufs
	p.free = freelist.Full(number)
	p.number.Store(int64(number))
	p.size.Store(int64(size))
	p.count.StoreRelease(uint64(number))
	p.valid.StoreRelease(true)
	return nil
}

// Destroy releases the pool's memory.
// Returns ErrPoolBusy, leaving the pool usable, while any buffer is out.
// Destroying an uncreated pool is a no-op.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid.Load() {
		return nil
	}
	if p.count.LoadAcquire() != uint64(p.number.Load()) {
		return ErrPoolBusy
	}
	p.valid.StoreRelease(false)
	p.count.StoreRelease(0)
	p.number.Store(0)
	p.size.Store(0)
	p.bufs = nil
	p.free = nil
	return nil
}

// Request checks out a free buffer with zero length.
// Returns ErrNoBuffers (an ErrWouldBlock) when the pool is exhausted and
// ErrPoolInvalid when the pool has not been created.
func (p *Pool) Request() (*Handle, error) {
	if !p.valid.LoadAcquire() {
		return nil, ErrPoolInvalid
	}
	sw := spin.Wait{}
	for {
		c := p.count.LoadAcquire()
		if c == 0 {
			return nil, ErrNoBuffers
		}
		if p.count.CompareAndSwapAcqRel(c, c-1) {
			break
		}
		sw.Once()
	}

	// Indices are pushed before count is raised, so a reservation always
	// finds one.
	idx, err := p.free.Pop()
	if err != nil {
		panic("digitizer: free list behind pool count")
	}
	b := &p.bufs[idx]
	b.n = 0
	b.refs.StoreRelease(1)
	return &Handle{pool: p, idx: idx, gen: b.gen.LoadAcquire()}, nil
}

func (p *Pool) put(idx int) {
	b := &p.bufs[idx]
	b.n = 0
	b.gen.AddAcqRel(1)
	p.free.Push(idx)
	p.count.AddAcqRel(1)
}

// Count returns the number of free buffers.
func (p *Pool) Count() int { return int(p.count.LoadAcquire()) }

// Number returns the number of buffers the pool was created with.
func (p *Pool) Number() int { return int(p.number.Load()) }

// Size returns the capacity in words of each buffer.
func (p *Pool) Size() int { return int(p.size.Load()) }

// Valid reports whether the pool has been created.
func (p *Pool) Valid() bool { return p.valid.LoadAcquire() }

// Empty reports whether every buffer is in use.
func (p *Pool) Empty() bool { return p.count.LoadAcquire() == 0 }

// Full reports whether every buffer is free.
func (p *Pool) Full() bool {
	return p.Valid() && p.count.LoadAcquire() == uint64(p.number.Load())
}

// Handle is one owner's reference to a checked-out buffer.
//
// A buffer may have several owners (see [Handle.Clone]); it returns to
// the pool once every owner has released. A Handle is not safe for
// concurrent mutation, but distinct Handles to the same buffer may be
// released from different goroutines.
type Handle struct {
	pool     *Pool
	idx      int
	gen      uint64
	released atomix.Uint64
}

func (h *Handle) buf() *buffer {
	return &h.pool.bufs[h.idx]
}

// Valid reports whether h still refers to a checked-out buffer.
func (h *Handle) Valid() bool {
	if h == nil || h.released.LoadAcquire() != 0 || !h.pool.Valid() {
		return false
	}
	return h.buf().gen.LoadAcquire() == h.gen
}

// Words returns the occupied part of the buffer.
func (h *Handle) Words() []Word {
	b := h.buf()
	return b.data[:b.n]
}

// Data returns the whole buffer, ignoring the occupied length.
func (h *Handle) Data() []Word {
	return h.buf().data
}

// Len returns the number of occupied words.
func (h *Handle) Len() int { return h.buf().n }

// Cap returns the buffer capacity in words.
func (h *Handle) Cap() int { return len(h.buf().data) }

// SetLen sets the occupied length. Panics if n is out of [0, Cap()].
func (h *Handle) SetLen(n int) {
	b := h.buf()
	if n < 0 || n > len(b.data) {
		panic("digitizer: buffer length out of range")
	}
	b.n = n
}

// Append copies as many of words as fit after the occupied part and
// returns how many were copied.
func (h *Handle) Append(words []Word) int {
	b := h.buf()
	c := copy(b.data[b.n:], words)
	b.n += c
	return c
}

// Clone returns an additional owner of the same buffer.
func (h *Handle) Clone() *Handle {
	b := h.buf()
	sw := spin.Wait{}
	for {
		r := b.refs.LoadAcquire()
		if r == 0 {
			panic("digitizer: clone of released buffer")
		}
		if b.refs.CompareAndSwapAcqRel(r, r+1) {
			break
		}
		sw.Once()
	}
	return &Handle{pool: h.pool, idx: h.idx, gen: h.gen}
}

// Release drops this owner. The buffer returns to the pool when its last
// owner releases. Calling Release more than once is a no-op.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwapAcqRel(0, 1) {
		return
	}
	b := h.buf()
	sw := spin.Wait{}
	for {
		r := b.refs.LoadAcquire()
		if b.refs.CompareAndSwapAcqRel(r, r-1) {
			if r == 1 {
				h.pool.put(h.idx)
			}
			return
		}
		sw.Once()
	}
}
