// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package freelist_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/digitizer"
	"code.hybscloud.com/digitizer/internal/freelist"
	"code.hybscloud.com/iox"
)

// =============================================================================
// Basic Operations
// =============================================================================

func TestListBasic(t *testing.T) {
	l := freelist.New(4)
	if l.Cap() != 4 || l.Len() != 0 {
		t.Fatalf("new: cap=%d len=%d, want 4 0", l.Cap(), l.Len())
	}
	if _, err := l.Pop(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Pop on empty: got %v, want ErrWouldBlock", err)
	}

	l.Push(2)
	l.Push(0)
	l.Push(3)
	if l.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", l.Len())
	}
	for _, want := range []int{3, 0, 2} {
		v, err := l.Pop()
		if err != nil || v != want {
			t.Fatalf("Pop: got (%d, %v), want (%d, nil)", v, err, want)
		}
	}
	if _, err := l.Pop(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Pop after drain: got %v, want ErrWouldBlock", err)
	}
}

func TestListFull(t *testing.T) {
	l := freelist.Full(5)
	if l.Len() != 5 {
		t.Fatalf("Len: got %d, want 5", l.Len())
	}
	for want := range 5 {
		v, err := l.Pop()
		if err != nil || v != want {
			t.Fatalf("Pop: got (%d, %v), want (%d, nil)", v, err, want)
		}
	}
}

// TestListReuseMostRecent checks a returned index is handed out next.
func TestListReuseMostRecent(t *testing.T) {
	l := freelist.Full(8)
	a, _ := l.Pop()
	b, _ := l.Pop()
	l.Push(a)
	if v, _ := l.Pop(); v != a {
		t.Fatalf("Pop after Push(%d): got %d", a, v)
	}
	l.Push(b)
	l.Push(a)
	if l.Len() != 8 {
		t.Fatalf("Len: got %d, want 8", l.Len())
	}
}

func TestListPanics(t *testing.T) {
	cases := []struct {
		name string
		f    func()
	}{
		{"New(0)", func() { freelist.New(0) }},
		{"Push(-1)", func() { freelist.New(2).Push(-1) }},
		{"Push(n)", func() { freelist.New(2).Push(2) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: expected panic", c.name)
				}
			}()
			c.f()
		})
	}
}

// =============================================================================
// Concurrency
// =============================================================================

// TestListConcurrentCirculation models the pool: a fixed set of indices
// circulates between many goroutines and none is lost or duplicated.
func TestListConcurrentCirculation(t *testing.T) {
	if digitizer.RaceEnabled {
		t.Skip("atomix ordering is invisible to the race detector")
	}
	const (
		indices    = 64
		goroutines = 8
		rounds     = 5000
	)
	l := freelist.Full(indices)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			backoff := iox.Backoff{}
			for range rounds {
				v, err := l.Pop()
				if err != nil {
					backoff.Wait()
					continue
				}
				backoff.Reset()
				l.Push(v)
			}
		})
	}
	wg.Wait()

	if l.Len() != indices {
		t.Fatalf("Len: got %d, want %d", l.Len(), indices)
	}
	seen := make([]bool, indices)
	for range indices {
		v, err := l.Pop()
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if seen[v] {
			t.Fatalf("index %d returned twice", v)
		}
		seen[v] = true
	}
	if _, err := l.Pop(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Pop after drain: got %v, want ErrWouldBlock", err)
	}
}

// TestListConcurrentHold keeps some indices out for a while so stale heads
// meet recycled indices.
func TestListConcurrentHold(t *testing.T) {
	if digitizer.RaceEnabled {
		t.Skip("atomix ordering is invisible to the race detector")
	}
	const (
		indices    = 16
		goroutines = 8
		rounds     = 2000
	)
	l := freelist.Full(indices)
	owner := make([]int32, indices)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Go(func() {
			var held []int
			backoff := iox.Backoff{}
			for r := range rounds {
				if v, err := l.Pop(); err == nil {
					mu.Lock()
					if owner[v] != 0 {
						mu.Unlock()
						t.Errorf("index %d handed to %d while held by %d", v, g+1, owner[v])
						return
					}
					owner[v] = int32(g + 1)
					mu.Unlock()
					held = append(held, v)
					backoff.Reset()
				} else {
					backoff.Wait()
				}
				if len(held) > 2 || r%3 == 0 {
					for _, v := range held {
						mu.Lock()
						owner[v] = 0
						mu.Unlock()
						l.Push(v)
					}
					held = held[:0]
				}
			}
			for _, v := range held {
				mu.Lock()
				owner[v] = 0
				mu.Unlock()
				l.Push(v)
			}
		})
	}
	wg.Wait()
	if l.Len() != indices {
		t.Fatalf("Len: got %d, want %d", l.Len(), indices)
	}
}
