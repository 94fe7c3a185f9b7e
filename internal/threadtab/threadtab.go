// Package threadtab implements the ThreadTable of spec §4.6: per-process
// thread records, their saved context, and kernel/user stacks. It
// registers new threads with sched.Scheduler directly, matching the
// dependency order of spec §2 (ThreadTable → Scheduler).
package threadtab

import (
	"sync"

	"github.com/mastermochi/mochi/internal/hal"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/paging"
	"github.com/mastermochi/mochi/internal/physalloc"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/sched"
	"github.com/mastermochi/mochi/internal/taskid"
)

const (
	wordSize         = 4
	kernelStackSize  = 4096
	kernelStackGuard = 4096 // unmapped gap between stacks, catches overflow in a real MMU
)

// StackRegion names a mapped stack's virtual extent.
type StackRegion struct {
	Base uint64
	Size uint64
}

// StartInfo is a thread's initial execution point, set once at creation.
type StartInfo struct {
	EntryPoint uintptr
	StackTop   uintptr
}

// Context is the minimum state a suspended thread needs to resume: eip,
// esp, ebp. Every other callee-saved register already lives on the
// thread's own kernel stack at the point it suspended (spec §4.7).
type Context struct {
	EIP uintptr
	ESP uintptr
	EBP uintptr
}

// Thread is one thread record (spec §3's Thread data model).
type Thread struct {
	TID         uint32
	PID         uint32
	TaskID      taskid.TaskID
	Start       StartInfo
	Context     Context
	KernelStack StackRegion
	UserStack   StackRegion

	// ForkChild is set on a thread created by Fork; it is the explicit
	// return-value convention (spec §9 Open Question, resolved in
	// DESIGN.md), read through Table.IsForkChild, that tells a forked
	// child from its parent instead of relying on scheduling order.
	ForkChild bool
}

// Table owns every live thread record across every process.
type Table struct {
	mu           sync.Mutex
	hal          *hal.HAL
	paging       *paging.Manager
	phys         *physalloc.Allocator
	sched        *sched.Scheduler
	threads      map[taskid.TaskID]*Thread
	nextKStack   uint64
}

// kernelStackWindowBase is an address in the shared kernel half (spec
// §4.4) dedicated to per-thread kernel stacks; mapping it into the idle
// directory makes it visible from every process directory through the
// shared kernel-half PDE pointers AllocDir installs.
const kernelStackWindowBase = 0xF0000000

// New creates an empty thread table.
func New(h *hal.HAL, pg *paging.Manager, phys *physalloc.Allocator, s *sched.Scheduler) *Table {
	return &Table{
		hal:        h,
		paging:     pg,
		phys:       phys,
		sched:      s,
		threads:    map[taskid.TaskID]*Thread{},
		nextKStack: kernelStackWindowBase,
	}
}

func bandForKind(k proctab.Kind) sched.Band {
	switch k {
	case proctab.KernelKind:
		return sched.Kernel
	case proctab.DriverKind:
		return sched.Driver
	case proctab.ServerKind:
		return sched.Server
	default:
		return sched.User
	}
}

func (t *Table) allocKernelStack() (uint64, mkerr.Err) {
	base := t.nextKStack
	t.nextKStack += kernelStackSize + kernelStackGuard

	frame, kerr := t.phys.Alloc(kernelStackSize)
	if kerr != mkerr.None {
		return 0, kerr
	}
	t.hal.Mem.ZeroFrame(hal.Frame(frame))
	kerr = t.paging.Map(paging.IdleDirID, uintptr(base), hal.Frame(frame), kernelStackSize,
		paging.Attrs{Ring: paging.Supervisor, RW: paging.ReadWrite, Global: paging.YesGlobal})
	if kerr != mkerr.None {
		return 0, kerr
	}
	// Mapping into the idle directory only updates directories allocated
	// afterward (paging.Manager.AllocDir shares whatever PDEs are present
	// at allocation time); resync so directories created earlier — the
	// owning process's own directory, most often — also see this stack.
	t.paging.SyncKernelHalf()
	return base, mkerr.None
}

// Get returns the thread record for a task id.
func (t *Table) Get(id taskid.TaskID) (*Thread, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.threads[id]
	return th, ok
}

// AddMain creates tid 0 for a freshly loaded process and registers it
// with the scheduler. Used only by proc_add (spec §4.6).
func (t *Table) AddMain(p *proctab.Process) (taskid.TaskID, mkerr.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kstack, kerr := t.allocKernelStack()
	if kerr != mkerr.None {
		return taskid.Null, kerr
	}

	taskID := taskid.Encode(p.PID, 0)
	stackTop := uintptr(p.UserStack.Base+p.UserStack.Size) - wordSize
	th := &Thread{
		TID:         0,
		PID:         p.PID,
		TaskID:      taskID,
		Start:       StartInfo{EntryPoint: p.EntryPoint, StackTop: stackTop},
		Context:     Context{EIP: p.EntryPoint, ESP: stackTop},
		KernelStack: StackRegion{Base: kstack, Size: kernelStackSize},
		UserStack:   StackRegion{Base: p.UserStack.Base, Size: p.UserStack.Size},
	}
	t.threads[taskID] = th
	p.ThreadIDs = append(p.ThreadIDs, 0)
	t.sched.Add(taskID, bandForKind(p.Kind))
	return taskID, mkerr.None
}

// Create allocates a fresh tid in p, with a caller-supplied, already
// mapped user stack (spec §4.6).
func (t *Table) Create(p *proctab.Process, entry uintptr, userStackAddr, userStackSize uint64) (taskid.TaskID, mkerr.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tid := uint32(len(p.ThreadIDs))
	if tid > taskid.TIDMax {
		return taskid.Null, mkerr.NoResource
	}

	kstack, kerr := t.allocKernelStack()
	if kerr != mkerr.None {
		return taskid.Null, kerr
	}

	taskID := taskid.Encode(p.PID, tid)
	stackTop := uintptr(userStackAddr+userStackSize) - wordSize
	th := &Thread{
		TID:         tid,
		PID:         p.PID,
		TaskID:      taskID,
		Start:       StartInfo{EntryPoint: entry, StackTop: stackTop},
		Context:     Context{EIP: entry, ESP: stackTop},
		KernelStack: StackRegion{Base: kstack, Size: kernelStackSize},
		UserStack:   StackRegion{Base: userStackAddr, Size: userStackSize},
	}
	t.threads[taskID] = th
	p.ThreadIDs = append(p.ThreadIDs, tid)
	t.sched.Add(taskID, bandForKind(p.Kind))
	return taskID, mkerr.None
}

// Fork creates the child's tid 0, capturing the calling thread's current
// context so the child resumes at the same instruction boundary as the
// parent's return from fork (spec §4.6). callerTaskID is the parent
// thread that invoked the fork kernel call.
func (t *Table) Fork(callerTaskID taskid.TaskID, child *proctab.Process) (taskid.TaskID, mkerr.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.threads[callerTaskID]
	if !ok {
		return taskid.Null, mkerr.NoExist
	}

	kstack, kerr := t.allocKernelStack()
	if kerr != mkerr.None {
		return taskid.Null, kerr
	}

	childTaskID := taskid.Encode(child.PID, 0)
	childThread := &Thread{
		TID:         0,
		PID:         child.PID,
		TaskID:      childTaskID,
		Start:       parent.Start,
		Context:     parent.Context,
		KernelStack: StackRegion{Base: kstack, Size: kernelStackSize},
		UserStack:   parent.UserStack,
		ForkChild:   true,
	}
	t.threads[childTaskID] = childThread
	child.ThreadIDs = append(child.ThreadIDs, 0)
	t.sched.Add(childTaskID, bandForKind(child.Kind))
	return childTaskID, mkerr.None
}

// IsForkChild reports whether id names a thread created by Fork — the
// explicit parent/child return-value convention (see Thread.ForkChild).
func (t *Table) IsForkChild(id taskid.TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.threads[id]
	return ok && th.ForkChild
}

// SaveContext records a suspended thread's {eip, esp, ebp}, called by the
// context-switch path before installing the next thread (spec §4.7).
func (t *Table) SaveContext(id taskid.TaskID, ctx Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if th, ok := t.threads[id]; ok {
		th.Context = ctx
	}
}

// Exit frees id's kernel stack and removes its record. The caller is
// responsible for calling sched.Exit beforehand (or after; order does not
// matter since Exit here never touches the scheduler).
func (t *Table) Exit(id taskid.TaskID) mkerr.Err {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.threads[id]
	if !ok {
		return mkerr.NoExist
	}
	kerr := t.paging.Unmap(paging.IdleDirID, uintptr(th.KernelStack.Base), uintptr(th.KernelStack.Size), true)
	delete(t.threads, id)
	return kerr
}
