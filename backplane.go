// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"log/slog"
	"sync"

	"code.hybscloud.com/atomix"
)

// Role is a crate-wide leadership role at most one slot may hold.
type Role int

// Backplane roles.
const (
	// RolePullup owns the wired-OR trigger line pullups.
	RolePullup Role = iota
	// RoleDirector directs the crate trigger.
	RoleDirector
	// RoleRunLeader drives synchronized run start and stop.
	RoleRunLeader
	numRoles
)

func (r Role) String() string {
	switch r {
	case RolePullup:
		return "wired-or trigger pullups"
	case RoleDirector:
		return "director"
	case RoleRunLeader:
		return "run"
	default:
		return "unknown"
	}
}

const noLeader = ^uint64(0)

// Backplane arbitrates the shared lines of one crate.
//
// It tracks which slot holds each [Role] and which slots have asked for a
// synchronized run start. Every mutation happens under the backplane lock;
// role holders are also readable without it.
type Backplane struct {
	mu      sync.Mutex
	roles   [numRoles]atomix.Uint64
	waiters []bool
	online  []bool
	waits   atomix.Int64
	present atomix.Int64
	log     *slog.Logger
}

// NewBackplane returns a backplane for a crate with the given number of
// slots, MaxSlots when slots <= 0. No slot is present.
func NewBackplane(slots int) *Backplane {
	b := &Backplane{log: Logger(ComponentBackplane)}
	b.Init(slots, 0)
	return b
}

// Init resets the backplane: every role is released, no slot waits and
// present slots are assumed to be in the crate.
func (b *Backplane) Init(slots, present int) {
	if slots <= 0 {
		slots = MaxSlots
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.roles {
		b.roles[i].StoreRelease(noLeader)
	}
	b.waiters = make([]bool, slots+1)
	b.online = make([]bool, slots+1)
	b.waits.Store(0)
	b.present.Store(int64(present))
}

func (b *Backplane) grow(slot int) {
	if slot < len(b.waiters) {
		return
	}
	n := slot + 1
	b.waiters = append(b.waiters, make([]bool, n-len(b.waiters))...)
	b.online = append(b.online, make([]bool, n-len(b.online))...)
}

// Online counts slot as present.
func (b *Backplane) Online(slot int) error {
	if slot < 0 {
		return ErrSlotRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(slot)
	if !b.online[slot] {
		b.online[slot] = true
		b.present.Add(1)
	}
	return nil
}

// Offline removes slot: it stops waiting and gives up any role it holds.
func (b *Backplane) Offline(slot int) {
	if slot < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(slot)
	if b.online[slot] {
		b.online[slot] = false
		if b.present.Load() > 0 {
			b.present.Add(-1)
		}
	}
	b.setWaitingLocked(slot, false)
	for r := range numRoles {
		if b.roles[r].CompareAndSwapAcqRel(uint64(slot), noLeader) {
			b.log.Info("role released", "role", r.String(), "slot", slot)
		}
	}
}

// Claim gives role to slot. Claiming a role the slot already holds
// succeeds; claiming one held by another slot returns a *RoleError.
func (b *Backplane) Claim(role Role, slot int) error {
	if slot < 0 {
		return ErrSlotRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cell := &b.roles[role]
	if cell.CompareAndSwapAcqRel(noLeader, uint64(slot)) {
		b.log.Info("role claimed", "role", role.String(), "slot", slot)
		return nil
	}
	holder := cell.LoadAcquire()
	if holder == uint64(slot) {
		return nil
	}
	return &RoleError{Role: role, Slot: slot, Holder: int(holder)}
}

// Release empties role whoever holds it.
func (b *Backplane) Release(role Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles[role].StoreRelease(noLeader)
}

// ReleaseBy empties role only if slot holds it and reports whether it did.
func (b *Backplane) ReleaseBy(role Role, slot int) bool {
	if slot < 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roles[role].CompareAndSwapAcqRel(uint64(slot), noLeader)
}

// Leader returns the slot holding role.
func (b *Backplane) Leader(role Role) (slot int, ok bool) {
	v := b.roles[role].LoadAcquire()
	if v == noLeader {
		return -1, false
	}
	return int(v), true
}

// Holds reports whether slot holds role.
func (b *Backplane) Holds(role Role, slot int) bool {
	return slot >= 0 && b.roles[role].LoadAcquire() == uint64(slot)
}

// SyncWait registers (wait true) or withdraws slot from the synchronized
// start barrier. Repeating the current state is a no-op. Only an online
// slot may register; withdrawing is always allowed. More waiters than
// present slots is an internal fault and leaves the state unchanged.
func (b *Backplane) SyncWait(slot int, wait bool) error {
	if slot < 0 {
		return ErrSlotRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grow(slot)
	if wait && !b.online[slot] {
		return ErrOffline
	}
	if wait && !b.waiters[slot] && b.waits.Load()+1 > b.present.Load() {
		return ErrSyncOverflow
	}
	b.setWaitingLocked(slot, wait)
	return nil
}

func (b *Backplane) setWaitingLocked(slot int, wait bool) {
	if b.waiters[slot] == wait {
		return
	}
	b.waiters[slot] = wait
	if wait {
		b.waits.Add(1)
	} else if b.waits.Load() > 0 {
		b.waits.Add(-1)
	}
}

// SyncReady checks the synchronized start barrier. With no waiters there
// is no barrier. Otherwise every present slot must be waiting and a run
// leader must be assigned.
func (b *Backplane) SyncReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	waits := int(b.waits.Load())
	if waits == 0 {
		return nil
	}
	if present := int(b.present.Load()); waits != present {
		return &SyncError{Waiting: waits, Required: present}
	}
	if _, ok := b.Leader(RoleRunLeader); !ok {
		return ErrNoRunLeader
	}
	return nil
}

// Synchronized reports whether any slot waits for a synchronized start.
func (b *Backplane) Synchronized() bool { return b.waits.Load() != 0 }

// Waiting reports whether slot is registered with the barrier.
func (b *Backplane) Waiting(slot int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slot >= 0 && slot < len(b.waiters) && b.waiters[slot]
}

// Waits returns the number of slots registered with the barrier.
func (b *Backplane) Waits() int { return int(b.waits.Load()) }

// Present returns the number of slots online.
func (b *Backplane) Present() int { return int(b.present.Load()) }
