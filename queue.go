// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// Queue holds filled buffers in arrival order.
//
// The queue owns every handle pushed to it and releases them when they are
// drained or flushed. Size (total occupied words) and Count (buffers) are
// atomic and may be read without taking the queue lock. All buffers in a
// queue are expected to come from the same pool.
//
// The zero value is an empty queue.
type Queue struct {
	mu    sync.Mutex
	bufs  []*Handle
	size  atomix.Int64
	count atomix.Int64
}

// Push appends h. Zero-length handles are released instead of queued.
func (q *Queue) Push(h *Handle) {
	if h.Len() == 0 {
		h.Release()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bufs = append(q.bufs, h)
	q.size.Add(int64(h.Len()))
	q.count.Add(1)
}

// Pop removes and returns the oldest buffer.
// Returns ErrQueueEmpty (an ErrWouldBlock) if the queue is empty.
func (q *Queue) Pop() (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.popLocked(), nil
}

func (q *Queue) popLocked() *Handle {
	h := q.bufs[0]
	q.bufs[0] = nil
	q.bufs = q.bufs[1:]
	q.size.Add(-int64(h.Len()))
	q.count.Add(-1)
	return h
}

// Copy drains the whole queue into dst in order and returns the number of
// words copied. Returns ErrCopyTooSmall, leaving the queue unchanged, if
// dst cannot hold Size() words.
func (q *Queue) Copy(dst []Word) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(dst) < int(q.size.Load()) {
		return 0, ErrCopyTooSmall
	}
	n := 0
	for len(q.bufs) > 0 {
		h := q.popLocked()
		n += copy(dst[n:], h.Words())
		h.Release()
	}
	return n, nil
}

// AppendTo drains the whole queue onto the end of dst, growing it as
// needed, and returns the extended slice.
func (q *Queue) AppendTo(dst []Word) []Word {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.bufs) > 0 {
		h := q.popLocked()
		dst = append(dst, h.Words()...)
		h.Release()
	}
	return dst
}

// Read moves up to len(dst) words from the front of the queue into dst and
// returns the number moved. A buffer only partly consumed keeps its
// remaining words at the front of the queue.
func (q *Queue) Read(dst []Word) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(dst) && len(q.bufs) > 0 {
		h := q.bufs[0]
		words := h.Words()
		c := copy(dst[n:], words)
		n += c
		if c == len(words) {
			q.popLocked().Release()
			continue
		}
		rest := copy(words, words[c:])
		h.SetLen(rest)
		q.size.Add(-int64(c))
	}
	return n
}

// Compact packs the queued words into as few buffers as possible without
// taking any from the pool. Order and content are preserved, Size is
// unchanged and Count becomes ceil(Size/capacity). Emptied buffers are
// released back to the pool.
func (q *Queue) Compact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) < 2 {
		return
	}

	// Stream the words forward. The write cursor can never overtake the
	// read cursor: every destination buffer before the one being read is
	// full, so words written never exceed words read.
	d, dn := 0, 0
	for s := range q.bufs {
		src := q.bufs[s]
		words := src.Words()
		for len(words) > 0 {
			dst := q.bufs[d]
			if dn == dst.Cap() {
				dst.SetLen(dn)
				d++
				dn = 0
				continue
			}
			c := copy(dst.Data()[dn:], words)
			words = words[c:]
			dn += c
		}
	}
	q.bufs[d].SetLen(dn)

	for i := d + 1; i < len(q.bufs); i++ {
		q.bufs[i].SetLen(0)
		q.bufs[i].Release()
		q.bufs[i] = nil
	}
	q.bufs = q.bufs[:d+1]
	q.count.Store(int64(len(q.bufs)))
}

// Flush releases every queued buffer.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.bufs) > 0 {
		q.popLocked().Release()
	}
	q.bufs = nil
}

// Size returns the total occupied words queued.
func (q *Queue) Size() int { return int(q.size.Load()) }

// Count returns the number of queued buffers.
func (q *Queue) Count() int { return int(q.count.Load()) }

// Empty reports whether the queue holds no buffers.
func (q *Queue) Empty() bool { return q.count.Load() == 0 }
