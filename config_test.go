// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer_test

import (
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/digitizer"
)

func TestFIFOConfigValidate(t *testing.T) {
	if err := digitizer.DefaultFIFOConfig().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*digitizer.FIFOConfig)
		want error
	}{
		{"buffers low", func(c *digitizer.FIFOConfig) { c.Buffers = 9 }, digitizer.ErrBuffersRange},
		{"buffers high", func(c *digitizer.FIFOConfig) { c.Buffers = 10_000_001 }, digitizer.ErrBuffersRange},
		{"run wait low", func(c *digitizer.FIFOConfig) { c.RunWait = 499 * time.Microsecond }, digitizer.ErrRunWaitRange},
		{"run wait high", func(c *digitizer.FIFOConfig) { c.RunWait = 201 * time.Millisecond }, digitizer.ErrRunWaitRange},
		{"idle wait low", func(c *digitizer.FIFOConfig) { c.IdleWait = 9 * time.Millisecond }, digitizer.ErrIdleWaitRange},
		{"hold high", func(c *digitizer.FIFOConfig) { c.Hold = 101 * time.Millisecond }, digitizer.ErrHoldRange},
		{"trigger low", func(c *digitizer.FIFOConfig) { c.DMATriggerLevel = 511 }, digitizer.ErrDMATriggerRange},
		{"trigger high", func(c *digitizer.FIFOConfig) { c.DMATriggerLevel = 8193 }, digitizer.ErrDMATriggerRange},
		{"bandwidth", func(c *digitizer.FIFOConfig) { c.Bandwidth = 101 }, digitizer.ErrBandwidthRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := digitizer.DefaultFIFOConfig()
			tc.mut(&c)
			if err := c.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate: got %v, want %v", err, tc.want)
			}
		})
	}

	sync := digitizer.DefaultFIFOConfig()
	sync.RunWait = 0
	if err := sync.Validate(); err != nil || !sync.Synchronous() {
		t.Fatalf("synchronous mode: err=%v synchronous=%v", err, sync.Synchronous())
	}
}

func TestBuilderOptions(t *testing.T) {
	opts, err := digitizer.New().
		Buffers(200).
		RunWait(2 * time.Millisecond).
		IdleWait(500 * time.Millisecond).
		Hold(20 * time.Millisecond).
		DMATriggerLevel(2048).
		Bandwidth(40).
		BufferWords(8192).
		Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := digitizer.FIFOConfig{
		Buffers:         200,
		RunWait:         2 * time.Millisecond,
		IdleWait:        500 * time.Millisecond,
		Hold:            20 * time.Millisecond,
		DMATriggerLevel: 2048,
		Bandwidth:       40,
	}
	if opts.FIFO() != want {
		t.Fatalf("FIFO: got %+v, want %+v", opts.FIFO(), want)
	}
	if opts.BufferWords() != 8192 {
		t.Fatalf("BufferWords: got %d, want 8192", opts.BufferWords())
	}

	if _, err := digitizer.New().Hold(0).Options(); !errors.Is(err, digitizer.ErrHoldRange) {
		t.Fatalf("Hold(0): got %v, want ErrHoldRange", err)
	}
	if _, err := digitizer.New().BufferWords(16).Options(); !errors.Is(err, digitizer.ErrBufferWords) {
		t.Fatalf("BufferWords(16): got %v, want ErrBufferWords", err)
	}
}
