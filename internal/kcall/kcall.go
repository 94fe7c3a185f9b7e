// Package kcall implements the KernelCall dispatch of spec §4.8: each
// service is identified by (interrupt_number, func_id); a parameter block
// carries the function id, an (ret, err) outcome pair, and service data.
//
// The real ABI's "ESI points at a parameter block in the caller's
// address space" is replaced here by a generic ParamBlock[T], passed as a
// plain Go pointer — the hosted equivalent of the source's raw-pointer
// convention, with the caller's address-space membership already
// guaranteed by Go's type system instead of needing the runtime bounds
// check spec §4.8 step 1 calls for in the original.
package kcall

import (
	"github.com/mastermochi/mochi/internal/irqmon"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/taskid"
	"github.com/mastermochi/mochi/internal/threadtab"
)

// Category is the interrupt number a service is entered through (spec
// §6).
type Category uint16

const (
	CategoryMessage  Category = 0x30
	CategoryPortIO   Category = 0x31
	CategoryMMIO     Category = 0x32
	CategoryIRQ      Category = 0x33
	CategoryTimer    Category = 0x34
	CategoryProcess  Category = 0x35
	CategoryTaskName Category = 0x36
	CategoryThread   Category = 0x37
	CategoryTask     Category = 0x38
)

// FuncID is a function selector scoped to one Category.
type FuncID uint32

// ParamBlock is the generic shape of every kernel-call parameter block:
// a function selector, the (ret, err) outcome the handler fills in, and
// service-specific payload data.
type ParamBlock[T any] struct {
	FuncID FuncID
	Ret    mkerr.Ret
	Err    mkerr.Err
	Data   T
}

// Succeed marks the block Success/None.
func (p *ParamBlock[T]) Succeed() { p.Ret, p.Err = mkerr.Success, mkerr.None }

// Fail marks the block Failure with the given error kind.
func (p *ParamBlock[T]) Fail(err mkerr.Err) { p.Ret, p.Err = mkerr.Failure, err }

// Dispatcher wires every kernel-call category to the subsystem that
// implements it.
type Dispatcher struct {
	procs   *proctab.Table
	threads *threadtab.Table
	irq     *irqmon.Monitor
}

// New builds a Dispatcher over the given subsystems.
func New(procs *proctab.Table, threads *threadtab.Table, irq *irqmon.Monitor) *Dispatcher {
	return &Dispatcher{procs: procs, threads: threads, irq: irq}
}

func requireDriver(kind proctab.Kind) mkerr.Err {
	if kind != proctab.DriverKind {
		return mkerr.Unauthorized
	}
	return mkerr.None
}

// Unimplemented fails any parameter block with NotRegistered. It is the
// registered handler for interrupt-number categories whose numbering is
// kept (spec §6) but whose logic is out of scope per spec.md §1:
// message-passing (0x30), port I/O (0x31), MMIO (0x32), and task-name
// resolution (0x36) — see SPEC_FULL.md §4's "stubbed, not omitted" note.
func Unimplemented[T any](p *ParamBlock[T]) {
	p.Fail(mkerr.NotRegistered)
}

// IRQ control (category 0x33) function ids.
const (
	FuncStartMonitoring FuncID = iota + 1
	FuncStopMonitoring
	FuncIRQWait
	FuncIRQComplete
	FuncIRQEnable
	FuncIRQDisable
)

// IRQParam is the category-0x33 parameter payload.
type IRQParam struct {
	IRQ     uint8
	Pending uint16
}

// IRQControl dispatches an IRQ-monitoring call. Every function in this
// category requires the caller's process kind to be Driver (spec §4.8
// step 3). It reports suspended=true when the call blocked the caller in
// Wait; the dispatch loop must re-enter the scheduler and later call
// irqmon.Monitor.Resume once the thread runs again.
func (d *Dispatcher) IRQControl(caller taskid.TaskID, callerKind proctab.Kind, p *ParamBlock[IRQParam]) (suspended bool) {
	if p == nil {
		return false
	}
	if err := requireDriver(callerKind); err != mkerr.None {
		p.Fail(err)
		return false
	}

	switch p.FuncID {
	case FuncStartMonitoring:
		if err := d.irq.StartMonitoring(caller, p.Data.IRQ); err != mkerr.None {
			p.Fail(err)
			return false
		}
		p.Succeed()
	case FuncStopMonitoring:
		if err := d.irq.StopMonitoring(caller, p.Data.IRQ); err != mkerr.None {
			p.Fail(err)
			return false
		}
		p.Succeed()
	case FuncIRQWait:
		pending, blocked, err := d.irq.Wait(caller)
		if err != mkerr.None {
			p.Fail(err)
			return false
		}
		if blocked {
			return true
		}
		p.Data.Pending = pending
		p.Succeed()
	case FuncIRQComplete:
		if err := d.irq.Complete(caller, p.Data.IRQ); err != mkerr.None {
			p.Fail(err)
			return false
		}
		p.Succeed()
	case FuncIRQEnable:
		if err := d.irq.Enable(caller, p.Data.IRQ); err != mkerr.None {
			p.Fail(err)
			return false
		}
		p.Succeed()
	case FuncIRQDisable:
		if err := d.irq.Disable(caller, p.Data.IRQ); err != mkerr.None {
			p.Fail(err)
			return false
		}
		p.Succeed()
	default:
		p.Fail(mkerr.Param)
	}
	return false
}

// CompleteIRQWait finishes a suspended FuncIRQWait call once its thread
// has been rescheduled, filling in the pending mask it woke up with.
func (d *Dispatcher) CompleteIRQWait(caller taskid.TaskID, p *ParamBlock[IRQParam]) {
	pending, ok := d.irq.Resume(caller)
	if !ok {
		p.Fail(mkerr.Unauthorized)
		return
	}
	p.Data.Pending = pending
	p.Succeed()
}

// Process control (category 0x35) function ids.
const (
	FuncProcAdd FuncID = iota
	FuncProcFork
	FuncSetBreak
)

// ProcParam is the category-0x35 parameter payload; not every field is
// used by every function id.
type ProcParam struct {
	Kind       proctab.Kind
	Image      []byte
	Quantity   int64
	PID        uint32
	BreakPoint uint64
}

// Process dispatches a process-control call.
func (d *Dispatcher) Process(caller taskid.TaskID, p *ParamBlock[ProcParam]) {
	if p == nil {
		return
	}
	switch p.FuncID {
	case FuncProcAdd:
		proc, err := d.procs.Add(p.Data.Kind, p.Data.Image)
		if err != mkerr.None {
			p.Fail(err)
			return
		}
		if _, err := d.threads.AddMain(proc); err != mkerr.None {
			p.Fail(err)
			return
		}
		p.Data.PID = proc.PID
		p.Succeed()

	case FuncProcFork:
		callerPID, _ := taskid.Decode(caller)
		child, err := d.procs.Fork(callerPID)
		if err != mkerr.None {
			p.Fail(err)
			return
		}
		if _, err := d.threads.Fork(caller, child); err != mkerr.None {
			p.Fail(err)
			return
		}
		// The parent's outcome carries the child's pid; the child's own
		// outcome (observed the first time its forked thread runs) is
		// synthesized by the caller from threadtab.Table.IsForkChild,
		// per the explicit return-value convention (spec §9).
		p.Data.PID = child.PID
		p.Succeed()

	case FuncSetBreak:
		callerPID, _ := taskid.Decode(caller)
		newBreak, err := d.procs.SetBreak(callerPID, p.Data.Quantity)
		p.Data.BreakPoint = newBreak
		if err != mkerr.None {
			p.Fail(err)
			return
		}
		p.Succeed()

	default:
		p.Fail(mkerr.Param)
	}
}

// Thread control (category 0x37) function ids.
const (
	FuncThreadCreate FuncID = iota
)

// ThreadParam is the category-0x37 parameter payload.
type ThreadParam struct {
	Entry         uintptr
	UserStackAddr uint64
	UserStackSize uint64
	TaskID        taskid.TaskID
}

// Thread dispatches a thread-control call.
func (d *Dispatcher) Thread(caller taskid.TaskID, p *ParamBlock[ThreadParam]) {
	if p == nil {
		return
	}
	switch p.FuncID {
	case FuncThreadCreate:
		pid, _ := taskid.Decode(caller)
		proc, ok := d.procs.Get(pid)
		if !ok {
			p.Fail(mkerr.NoExist)
			return
		}
		tid, err := d.threads.Create(proc, p.Data.Entry, p.Data.UserStackAddr, p.Data.UserStackSize)
		if err != mkerr.None {
			p.Fail(err)
			return
		}
		p.Data.TaskID = tid
		p.Succeed()
	default:
		p.Fail(mkerr.Param)
	}
}
