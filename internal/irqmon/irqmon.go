// Package irqmon implements IrqMonitor from spec §4.9: the hardware-IRQ
// wait/complete/enable/disable protocol exposed only to Driver processes,
// and the hardware-IRQ handler side that wakes a waiting owner.
package irqmon

import (
	"sync"

	"github.com/mastermochi/mochi/internal/hal"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/sched"
	"github.com/mastermochi/mochi/internal/taskid"
)

const numIRQ = 16

// kernelReserved names the IRQs never grantable to a driver: PIT (0),
// cascade (2), RTC (8).
func kernelReserved(irq uint8) bool { return irq == 0 || irq == 2 || irq == 8 }

// State is a WaitInfo slot's position in the state machine of spec §4.9.
type State int

const (
	Idle State = iota
	Waiting
)

// WaitInfo is the per-owner monitoring record.
type WaitInfo struct {
	Owner     taskid.TaskID
	Monitored uint16 // bitset over IRQ 0..15
	Pending   uint16
	State     State
}

// Monitor is the IrqMonitor subsystem: one WaitInfo per owning task, plus
// the per-IRQ ownership array.
type Monitor struct {
	mu       sync.Mutex
	pic      hal.PIC
	sched    *sched.Scheduler
	waiters  map[taskid.TaskID]*WaitInfo
	owner    [numIRQ]taskid.TaskID
	hasOwner [numIRQ]bool
}

// New creates an empty IrqMonitor bound to pic for enable/disable/EOI and
// sched for blocking/waking driver threads.
func New(pic hal.PIC, s *sched.Scheduler) *Monitor {
	return &Monitor{pic: pic, sched: s, waiters: map[taskid.TaskID]*WaitInfo{}}
}

func (m *Monitor) ownsNoLock(caller taskid.TaskID, irq uint8) bool {
	return m.hasOwner[irq] && m.owner[irq] == caller
}

// StartMonitoring claims irq for caller, reusing caller's existing
// WaitInfo slot if it has one.
func (m *Monitor) StartMonitoring(caller taskid.TaskID, irq uint8) mkerr.Err {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kernelReserved(irq) || irq >= numIRQ {
		return mkerr.Param
	}
	if m.hasOwner[irq] {
		return mkerr.AlreadyStarted
	}

	wi, ok := m.waiters[caller]
	if !ok {
		wi = &WaitInfo{Owner: caller}
		m.waiters[caller] = wi
	}
	wi.Monitored |= 1 << irq
	m.hasOwner[irq] = true
	m.owner[irq] = caller
	return mkerr.None
}

// StopMonitoring releases caller's ownership of irq, clearing both its
// monitored and pending bits; if caller owns no more IRQs its WaitInfo
// slot is freed.
func (m *Monitor) StopMonitoring(caller taskid.TaskID, irq uint8) mkerr.Err {
	m.mu.Lock()
	defer m.mu.Unlock()

	if irq >= numIRQ {
		return mkerr.Param
	}
	if !m.ownsNoLock(caller, irq) {
		return mkerr.Unauthorized
	}

	wi := m.waiters[caller]
	wi.Monitored &^= 1 << irq
	wi.Pending &^= 1 << irq
	m.hasOwner[irq] = false

	if wi.Monitored == 0 {
		delete(m.waiters, caller)
	}
	return mkerr.None
}

// Wait returns the caller's pending mask immediately if non-zero.
// Otherwise it marks the WaitInfo Waiting, blocks the caller in the
// scheduler, and reports blocked=true; the kernel-call dispatch loop is
// expected to call Resume once the thread is scheduled again (spec §4.9's
// suspension point).
func (m *Monitor) Wait(caller taskid.TaskID) (pending uint16, blocked bool, err mkerr.Err) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wi, ok := m.waiters[caller]
	if !ok || wi.Monitored == 0 {
		return 0, false, mkerr.Unauthorized
	}
	if wi.Pending != 0 {
		p := wi.Pending
		wi.Pending = 0
		wi.State = Idle
		return p, false, mkerr.None
	}

	wi.State = Waiting
	m.sched.Block(caller)
	return 0, true, mkerr.None
}

// Resume fetches and clears the pending mask for a thread that was woken
// out of Wait, completing the suspension point.
func (m *Monitor) Resume(caller taskid.TaskID) (pending uint16, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wi, ok := m.waiters[caller]
	if !ok {
		return 0, false
	}
	p := wi.Pending
	wi.Pending = 0
	wi.State = Idle
	return p, true
}

// Complete signals EOI for irq; ownership is required since acknowledging
// an IRQ is distinct from waiting on it (spec §4.9).
func (m *Monitor) Complete(caller taskid.TaskID, irq uint8) mkerr.Err {
	m.mu.Lock()
	defer m.mu.Unlock()

	if irq >= numIRQ || !m.ownsNoLock(caller, irq) {
		return mkerr.Unauthorized
	}
	m.pic.EOI(irq)
	return mkerr.None
}

// Enable unmasks irq at the PIC for its owner.
func (m *Monitor) Enable(caller taskid.TaskID, irq uint8) mkerr.Err {
	m.mu.Lock()
	defer m.mu.Unlock()
	if irq >= numIRQ || !m.ownsNoLock(caller, irq) {
		return mkerr.Unauthorized
	}
	m.pic.AllowIRQ(irq)
	return mkerr.None
}

// Disable masks irq at the PIC for its owner.
func (m *Monitor) Disable(caller taskid.TaskID, irq uint8) mkerr.Err {
	m.mu.Lock()
	defer m.mu.Unlock()
	if irq >= numIRQ || !m.ownsNoLock(caller, irq) {
		return mkerr.Unauthorized
	}
	m.pic.DenyIRQ(irq)
	return mkerr.None
}

// HandleIRQ is the hardware-IRQ handler entry point: vector is the raw
// interrupt vector delivered by the CPU, picBase is the PIC's
// vector-remap base. It sets the owning WaitInfo's pending bit and, if
// that owner is Waiting, wakes it. It never sends EOI — the owning
// driver thread must call Complete.
func (m *Monitor) HandleIRQ(vector, picBase uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	irq := vector - picBase
	if irq >= numIRQ || !m.hasOwner[irq] {
		return
	}
	owner := m.owner[irq]
	wi := m.waiters[owner]
	if wi == nil {
		return
	}
	wi.Pending |= 1 << irq
	if wi.State == Waiting {
		wi.State = Idle
		m.sched.Wake(owner)
	}
}

// ReleaseAll drops every IRQ owned by caller, e.g. on task exit.
func (m *Monitor) ReleaseAll(caller taskid.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for irq := uint8(0); irq < numIRQ; irq++ {
		if m.hasOwner[irq] && m.owner[irq] == caller {
			m.hasOwner[irq] = false
		}
	}
	delete(m.waiters, caller)
}
