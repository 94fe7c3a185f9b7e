// Package kernel composes every subsystem behind one handle, per spec
// §9's design note on global mutable state: boot-time allocator pools and
// the idle directory are fields of a Kernel value passed around
// explicitly, rather than file-scope globals.
package kernel

import (
	"fmt"

	"github.com/mastermochi/mochi/internal/bootinfo"
	"github.com/mastermochi/mochi/internal/hal"
	"github.com/mastermochi/mochi/internal/ioalloc"
	"github.com/mastermochi/mochi/internal/irqmon"
	"github.com/mastermochi/mochi/internal/kcall"
	"github.com/mastermochi/mochi/internal/klog"
	"github.com/mastermochi/mochi/internal/memmap"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/paging"
	"github.com/mastermochi/mochi/internal/physalloc"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/sched"
	"github.com/mastermochi/mochi/internal/taskid"
	"github.com/mastermochi/mochi/internal/threadtab"
	"github.com/mastermochi/mochi/internal/tssgdt"
	"github.com/mastermochi/mochi/internal/virtalloc"
)

// Kernel is the fully wired kernel instance: every subsystem from spec §2,
// plus the logger used throughout boot and steady-state operation.
type Kernel struct {
	HAL     *hal.HAL
	Log     *klog.Logger
	Regions []memmap.Region
	Phys    *physalloc.Allocator
	IO      *ioalloc.Allocator
	Paging  *paging.Manager
	Procs   *proctab.Table
	Threads *threadtab.Table
	Sched   *sched.Scheduler
	IRQ     *irqmon.Monitor
	GDT     *tssgdt.GDT
	TSS     tssgdt.TSS
	KCall   *kcall.Dispatcher

	idleProc *proctab.Process
}

// Boot consolidates the firmware memory map, builds every allocator and
// subsystem in the dependency order of spec §2, and registers the idle
// process/thread. h must already have its CPU/PIC/Loader/Mem set.
func Boot(cfg bootinfo.Config, h *hal.HAL, reservations []physalloc.Reservation, virtWindows []virtalloc.Window, log *klog.Logger) (*Kernel, error) {
	if log == nil {
		log = klog.Default
	}

	regions := memmap.Consolidate(cfg)
	log.Infof(klog.ModMemMng, "consolidated %d memory regions", len(regions))

	phys, err := physalloc.New(regions, reservations)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot phys allocator: %w", err)
	}
	io := ioalloc.New(regions)

	pg, err := paging.NewManager(h, phys)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot paging manager: %w", err)
	}

	s := sched.New(taskid.Idle)
	procs := proctab.New(h, pg, phys, virtWindows)
	threads := threadtab.New(h, pg, phys, s)
	irq := irqmon.New(h.PIC, s)
	gdt := tssgdt.New()
	kc := kcall.New(procs, threads, irq)

	idle := procs.RegisterIdle()
	log.Infof(klog.ModTaskMng, "idle process registered, pid=%d dir=%d", idle.PID, idle.DirID)

	k := &Kernel{
		HAL:      h,
		Log:      log,
		Regions:  regions,
		Phys:     phys,
		IO:       io,
		Paging:   pg,
		Procs:    procs,
		Threads:  threads,
		Sched:    s,
		IRQ:      irq,
		GDT:      gdt,
		KCall:    kc,
		idleProc: idle,
	}
	return k, nil
}

// Spawn loads image as a fresh process of the given kind and creates its
// main thread (proc_add composed with thread_add_main per spec §4.5/4.6).
func (k *Kernel) Spawn(kind proctab.Kind, image []byte) (*proctab.Process, taskid.TaskID, mkerr.Err) {
	p, err := k.Procs.Add(kind, image)
	if err != mkerr.None {
		return nil, taskid.Null, err
	}
	taskID, err := k.Threads.AddMain(p)
	if err != mkerr.None {
		return nil, taskid.Null, err
	}
	k.Log.Infof(klog.ModTaskMng, "spawned pid=%d kind=%s task=%d", p.PID, p.Kind, taskID)
	return p, taskID, mkerr.None
}

// Fork implements proc_fork composed with thread_fork (spec §4.5/4.6),
// called from the kernel-call handler of the currently running thread.
func (k *Kernel) Fork(callerTaskID taskid.TaskID) (childPID uint32, err mkerr.Err) {
	pid, _ := taskid.Decode(callerTaskID)
	child, err := k.Procs.Fork(pid)
	if err != mkerr.None {
		return 0, err
	}
	if _, err := k.Threads.Fork(callerTaskID, child); err != mkerr.None {
		return 0, err
	}
	return child.PID, mkerr.None
}

// Tick runs the scheduler once, switching context if the newly selected
// thread differs from the currently installed one (spec §4.7's "the
// scheduler runs either on the timer tick or on any voluntary kernel-call
// return"). It returns the task id now installed.
//
// Before picking the next thread, the outgoing one is requeued at its
// band's reserved tail if still Runnable (spec §4.7); Requeue is a no-op
// for a thread that blocked itself before this tick, leaving it in
// WaitQueue. The idle task is never requeued — it isn't a scheduled
// thread.
func (k *Kernel) Tick() (taskid.TaskID, error) {
	prev := k.Sched.Current()
	if prev != taskid.Idle {
		k.Sched.Requeue(prev)
	}
	next := k.Sched.Exec()
	if next == prev {
		return next, nil
	}
	if err := k.switchTo(next); err != nil {
		return next, err
	}
	return next, nil
}

// switchTo reloads CR3 and ESP0 for the given task, the hosted equivalent
// of the context-switch leaf function spec §9 calls for isolating into
// one small unsafe routine: here it is the only place that touches
// hal.CPU.SetCR3 and tssgdt.TSS.SetKernelStack directly.
func (k *Kernel) switchTo(id taskid.TaskID) error {
	if id == taskid.Idle {
		pdbr, err := k.Paging.GetPDBR(paging.IdleDirID)
		if err != mkerr.None {
			return fmt.Errorf("kernel: get idle pdbr: %v", err)
		}
		k.HAL.CPU.SetCR3(pdbr)
		return nil
	}

	th, ok := k.Threads.Get(id)
	if !ok {
		return fmt.Errorf("kernel: switchTo: no such thread %d", id)
	}
	pid, _ := taskid.Decode(id)
	proc, ok := k.Procs.Get(pid)
	if !ok {
		return fmt.Errorf("kernel: switchTo: no such process %d", pid)
	}

	pdbr, err := k.Paging.GetPDBR(proc.DirID)
	if err != mkerr.None {
		return fmt.Errorf("kernel: get pdbr for pid %d: %v", pid, err)
	}
	k.HAL.CPU.SetCR3(pdbr)
	k.TSS.SetKernelStack(uintptr(th.KernelStack.Base+th.KernelStack.Size), k.GDT.DataSelector(proc.Kind))
	return nil
}

// IdlePID returns the idle process's pid (always 0).
func (k *Kernel) IdlePID() uint32 { return k.idleProc.PID }

// DumpState renders the full process table as a debug-log console would.
// It is a method on Kernel only; no kernel-call category reaches it.
func (k *Kernel) DumpState() string {
	return klog.Dump("process table", k.Procs.Snapshot())
}
