// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/digitizer"
)

func newPool(t *testing.T, number, size int) *digitizer.Pool {
	t.Helper()
	p := new(digitizer.Pool)
	if err := p.Create(number, size); err != nil {
		t.Fatalf("Create(%d, %d): %v", number, size, err)
	}
	return p
}

// fill checks out a buffer holding n words counting up from *next.
func fill(t *testing.T, p *digitizer.Pool, n int, next *digitizer.Word) *digitizer.Handle {
	t.Helper()
	h, err := p.Request()
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	for i := range n {
		h.Data()[i] = *next
		*next++
	}
	h.SetLen(n)
	return h
}

func checkSequence(t *testing.T, words []digitizer.Word, from digitizer.Word) {
	t.Helper()
	for i, w := range words {
		if w != from+digitizer.Word(i) {
			t.Fatalf("word %d: got %d, want %d", i, w, from+digitizer.Word(i))
		}
	}
}

// =============================================================================
// Queue - Push / Pop
// =============================================================================

func TestQueuePushPop(t *testing.T) {
	p := newPool(t, 4, 16)
	var q digitizer.Queue
	var next digitizer.Word

	q.Push(fill(t, p, 5, &next))
	q.Push(fill(t, p, 7, &next))
	if q.Size() != 12 || q.Count() != 2 {
		t.Fatalf("after Push: size=%d count=%d, want 12 2", q.Size(), q.Count())
	}

	h, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if h.Len() != 5 {
		t.Fatalf("Pop: len %d, want 5", h.Len())
	}
	checkSequence(t, h.Words(), 0)
	h.Release()

	h, _ = q.Pop()
	checkSequence(t, h.Words(), 5)
	h.Release()

	if _, err := q.Pop(); !errors.Is(err, digitizer.ErrQueueEmpty) {
		t.Fatalf("Pop on empty: got %v, want ErrQueueEmpty", err)
	}
	if !q.Empty() || p.Count() != 4 {
		t.Fatalf("after drain: Empty=%v pool count=%d, want true 4", q.Empty(), p.Count())
	}
}

func TestQueuePushZeroLength(t *testing.T) {
	p := newPool(t, 2, 16)
	var q digitizer.Queue
	h, _ := p.Request()
	q.Push(h)
	if !q.Empty() {
		t.Fatal("zero-length push was queued")
	}
	if p.Count() != 2 {
		t.Fatalf("pool count: got %d, want 2", p.Count())
	}
}

// TestQueueHoldsBuffers fills a 100 x 8192 pool, queues everything and
// checks the pool is empty until the queue is flushed.
func TestQueueHoldsBuffers(t *testing.T) {
	p := newPool(t, 100, 8192)
	var q digitizer.Queue
	var next digitizer.Word
	for range 100 {
		q.Push(fill(t, p, 8192, &next))
	}
	if p.Count() != 0 || q.Count() != 100 || q.Size() != 100*8192 {
		t.Fatalf("pool=%d count=%d size=%d, want 0 100 %d", p.Count(), q.Count(), q.Size(), 100*8192)
	}
	q.Flush()
	if !p.Full() || !q.Empty() || q.Size() != 0 {
		t.Fatalf("after Flush: full=%v empty=%v size=%d", p.Full(), q.Empty(), q.Size())
	}
}

// =============================================================================
// Queue - Copy
// =============================================================================

func TestQueueCopy(t *testing.T) {
	p := newPool(t, 4, 16)
	var q digitizer.Queue
	var next digitizer.Word
	q.Push(fill(t, p, 10, &next))
	q.Push(fill(t, p, 6, &next))

	if _, err := q.Copy(make([]digitizer.Word, 15)); !errors.Is(err, digitizer.ErrCopyTooSmall) {
		t.Fatalf("Copy undersized: got %v, want ErrCopyTooSmall", err)
	}
	if q.Size() != 16 || q.Count() != 2 {
		t.Fatalf("after failed Copy: size=%d count=%d, want 16 2", q.Size(), q.Count())
	}

	dst := make([]digitizer.Word, 20)
	n, err := q.Copy(dst)
	if err != nil || n != 16 {
		t.Fatalf("Copy: got (%d, %v), want (16, nil)", n, err)
	}
	checkSequence(t, dst[:n], 0)
	if !q.Empty() || !p.Full() {
		t.Fatalf("after Copy: empty=%v full=%v", q.Empty(), p.Full())
	}
}

func TestQueueAppendTo(t *testing.T) {
	p := newPool(t, 4, 16)
	var q digitizer.Queue
	var next digitizer.Word
	q.Push(fill(t, p, 3, &next))
	q.Push(fill(t, p, 4, &next))

	out := q.AppendTo([]digitizer.Word{99})
	if len(out) != 8 || out[0] != 99 {
		t.Fatalf("AppendTo: got %v", out)
	}
	checkSequence(t, out[1:], 0)
	if !p.Full() {
		t.Fatal("buffers not returned")
	}
}

func TestQueueReadPartial(t *testing.T) {
	p := newPool(t, 4, 16)
	var q digitizer.Queue
	var next digitizer.Word
	q.Push(fill(t, p, 10, &next))
	q.Push(fill(t, p, 10, &next))

	dst := make([]digitizer.Word, 14)
	if n := q.Read(dst); n != 14 {
		t.Fatalf("Read: got %d, want 14", n)
	}
	checkSequence(t, dst, 0)
	if q.Size() != 6 || q.Count() != 1 {
		t.Fatalf("after Read: size=%d count=%d, want 6 1", q.Size(), q.Count())
	}
	if p.Count() != 3 {
		t.Fatalf("pool count: got %d, want 3", p.Count())
	}

	rest := make([]digitizer.Word, 32)
	n := q.Read(rest)
	if n != 6 {
		t.Fatalf("second Read: got %d, want 6", n)
	}
	checkSequence(t, rest[:n], 14)
	if !q.Empty() || !p.Full() {
		t.Fatalf("after drain: empty=%v full=%v", q.Empty(), p.Full())
	}
}

// =============================================================================
// Queue - Compact
// =============================================================================

// TestQueueCompact queues 25 buffers of mixed length from a pool of 8192
// word buffers and checks compaction packs them into ceil(total/8192)
// buffers with order and content intact.
func TestQueueCompact(t *testing.T) {
	const capacity = 8192
	p := newPool(t, 100, capacity)
	var q digitizer.Queue
	var next digitizer.Word

	total := 0
	for i := range 25 {
		n := (i*2731)%capacity + 1
		total += n
		q.Push(fill(t, p, n, &next))
	}
	if q.Count() != 25 {
		t.Fatalf("Count before Compact: got %d, want 25", q.Count())
	}

	q.Compact()

	want := (total + capacity - 1) / capacity
	if q.Count() != want {
		t.Fatalf("Count after Compact: got %d, want %d", q.Count(), want)
	}
	if q.Size() != total {
		t.Fatalf("Size after Compact: got %d, want %d", q.Size(), total)
	}
	if p.Count() != 100-want {
		t.Fatalf("pool count: got %d, want %d", p.Count(), 100-want)
	}

	var from digitizer.Word
	for i := range want {
		h, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop(%d): %v", i, err)
		}
		if i < want-1 && h.Len() != capacity {
			t.Fatalf("buffer %d: len %d, want full", i, h.Len())
		}
		checkSequence(t, h.Words(), from)
		from += digitizer.Word(h.Len())
		h.Release()
	}
	if int(from) != total {
		t.Fatalf("words popped: got %d, want %d", from, total)
	}
}

func TestQueueCompactSingle(t *testing.T) {
	p := newPool(t, 2, 16)
	var q digitizer.Queue
	var next digitizer.Word
	q.Push(fill(t, p, 5, &next))
	q.Compact()
	if q.Count() != 1 || q.Size() != 5 {
		t.Fatalf("after Compact: count=%d size=%d, want 1 5", q.Count(), q.Size())
	}
	var empty digitizer.Queue
	empty.Compact()
	if !empty.Empty() {
		t.Fatal("empty queue not empty after Compact")
	}
}
