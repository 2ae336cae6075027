// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package digitizer

// RaceEnabled is true when the race detector is active.
// Tests that hand buffers between the FIFO worker and other goroutines
// skip under the detector: buffer ownership moves through atomix
// operations it cannot see, so every reuse reports a false positive.
const RaceEnabled = true
