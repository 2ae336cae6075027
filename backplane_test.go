// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"code.hybscloud.com/digitizer"
)

// =============================================================================
// Backplane - Roles
// =============================================================================

func TestRoleClaim(t *testing.T) {
	bp := digitizer.NewBackplane(0)

	if _, ok := bp.Leader(digitizer.RoleRunLeader); ok {
		t.Fatal("fresh backplane has a run leader")
	}
	if err := bp.Claim(digitizer.RoleRunLeader, 2); err != nil {
		t.Fatalf("Claim(2): %v", err)
	}
	if err := bp.Claim(digitizer.RoleRunLeader, 2); err != nil {
		t.Fatalf("repeat Claim(2): %v", err)
	}

	err := bp.Claim(digitizer.RoleRunLeader, 3)
	if !errors.Is(err, digitizer.ErrRoleTaken) {
		t.Fatalf("Claim(3): got %v, want ErrRoleTaken", err)
	}
	var re *digitizer.RoleError
	if !errors.As(err, &re) || re.Holder != 2 || re.Slot != 3 {
		t.Fatalf("Claim(3): got %#v, want holder 2", err)
	}
	if !strings.Contains(err.Error(), "run leader role already taken: slot: 2") {
		t.Fatalf("message: got %q", err.Error())
	}

	// Roles are independent.
	if err := bp.Claim(digitizer.RoleDirector, 3); err != nil {
		t.Fatalf("Claim director(3): %v", err)
	}

	bp.Release(digitizer.RoleRunLeader)
	if err := bp.Claim(digitizer.RoleRunLeader, 3); err != nil {
		t.Fatalf("Claim after Release: %v", err)
	}
	if bp.ReleaseBy(digitizer.RoleRunLeader, 2) {
		t.Fatal("ReleaseBy non-holder: got true")
	}
	if !bp.ReleaseBy(digitizer.RoleRunLeader, 3) {
		t.Fatal("ReleaseBy holder: got false")
	}
}

func TestRoleClaimRace(t *testing.T) {
	const slots = 14
	for range 50 {
		bp := digitizer.NewBackplane(0)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []int
		)
		for slot := 1; slot <= slots; slot++ {
			wg.Go(func() {
				if err := bp.Claim(digitizer.RolePullup, slot); err == nil {
					mu.Lock()
					wins = append(wins, slot)
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		if len(wins) != 1 {
			t.Fatalf("winners: got %v, want exactly one", wins)
		}
		if got, _ := bp.Leader(digitizer.RolePullup); got != wins[0] {
			t.Fatalf("Leader: got %d, want %d", got, wins[0])
		}
	}
}

func TestOfflineReleasesRoles(t *testing.T) {
	bp := digitizer.NewBackplane(0)
	_ = bp.Online(4)
	_ = bp.Claim(digitizer.RoleDirector, 4)
	_ = bp.SyncWait(4, true)
	bp.Offline(4)
	if _, ok := bp.Leader(digitizer.RoleDirector); ok {
		t.Fatal("director still held after Offline")
	}
	if bp.Waits() != 0 || bp.Present() != 0 {
		t.Fatalf("after Offline: waits=%d present=%d, want 0 0", bp.Waits(), bp.Present())
	}
}

// =============================================================================
// Backplane - Sync Barrier
// =============================================================================

func TestSyncWaitCounting(t *testing.T) {
	bp := digitizer.NewBackplane(0)
	_ = bp.Online(2)
	_ = bp.Online(3)

	if err := bp.SyncWait(2, true); err != nil {
		t.Fatalf("SyncWait(2): %v", err)
	}
	if err := bp.SyncWait(2, true); err != nil {
		t.Fatalf("repeat SyncWait(2): %v", err)
	}
	if bp.Waits() != 1 {
		t.Fatalf("Waits: got %d, want 1", bp.Waits())
	}
	if err := bp.SyncWait(3, true); err != nil {
		t.Fatalf("SyncWait(3): %v", err)
	}
	if err := bp.SyncWait(-1, true); !errors.Is(err, digitizer.ErrSlotRange) {
		t.Fatalf("SyncWait(-1): got %v, want ErrSlotRange", err)
	}

	_ = bp.SyncWait(3, false)
	_ = bp.SyncWait(3, false)
	_ = bp.SyncWait(5, false)
	if bp.Waits() != 1 {
		t.Fatalf("Waits after withdraw: got %d, want 1", bp.Waits())
	}
}

// TestSyncWaitOffline checks that a slot outside the crate cannot stand in
// for a present module that is not waiting.
func TestSyncWaitOffline(t *testing.T) {
	bp := digitizer.NewBackplane(0)
	_ = bp.Online(2)
	_ = bp.Online(3)
	_ = bp.Claim(digitizer.RoleRunLeader, 2)

	if err := bp.SyncWait(2, true); err != nil {
		t.Fatalf("SyncWait(2): %v", err)
	}
	if err := bp.SyncWait(9, true); !errors.Is(err, digitizer.ErrOffline) {
		t.Fatalf("SyncWait(9) never online: got %v, want ErrOffline", err)
	}
	if bp.Waits() != 1 || bp.Waiting(9) {
		t.Fatalf("after refused wait: waits=%d waiting(9)=%v", bp.Waits(), bp.Waiting(9))
	}
	var se *digitizer.SyncError
	if err := bp.SyncReady(); !errors.As(err, &se) || se.Waiting != 1 || se.Required != 2 {
		t.Fatalf("SyncReady: got %v, want 1 of 2 waiting", err)
	}

	// A slot that went offline is refused the same way.
	bp.Offline(3)
	if err := bp.SyncWait(3, true); !errors.Is(err, digitizer.ErrOffline) {
		t.Fatalf("SyncWait(3) after Offline: got %v, want ErrOffline", err)
	}
	if err := bp.SyncWait(3, false); err != nil {
		t.Fatalf("withdraw offline slot: %v", err)
	}
	if err := bp.SyncReady(); err != nil {
		t.Fatalf("SyncReady with the only present slot waiting: %v", err)
	}
}

// TestSyncReady is the four module crate: the barrier refuses to start
// until every module waits and a run leader exists.
func TestSyncReady(t *testing.T) {
	bp := digitizer.NewBackplane(0)
	for slot := 2; slot <= 5; slot++ {
		if err := bp.Online(slot); err != nil {
			t.Fatalf("Online(%d): %v", slot, err)
		}
	}
	if err := bp.SyncReady(); err != nil {
		t.Fatalf("no waiters: %v", err)
	}

	_ = bp.SyncWait(2, true)
	_ = bp.SyncWait(3, true)
	err := bp.SyncReady()
	var se *digitizer.SyncError
	if !errors.As(err, &se) || se.Waiting != 2 || se.Required != 4 {
		t.Fatalf("2 of 4: got %v", err)
	}
	if !strings.Contains(err.Error(), "2 of 4 waiting") {
		t.Fatalf("message: got %q", err.Error())
	}

	_ = bp.SyncWait(4, true)
	_ = bp.SyncWait(5, true)
	if err := bp.SyncReady(); !errors.Is(err, digitizer.ErrNoRunLeader) {
		t.Fatalf("no leader: got %v, want ErrNoRunLeader", err)
	}
	if !strings.Contains(bp.SyncReady().Error(), "no run leader") {
		t.Fatal("message does not name the missing run leader")
	}

	if err := bp.Claim(digitizer.RoleRunLeader, 3); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := bp.SyncReady(); err != nil {
		t.Fatalf("ready: %v", err)
	}
}
