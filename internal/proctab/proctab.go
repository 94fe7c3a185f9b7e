// Package proctab implements the ProcessTable of spec §4.5: process
// records, address-space ownership, and fork/set_break. It depends on
// paging, physalloc, and virtalloc but not on threadtab or sched — thread
// creation for a new or forked process is composed one layer up (in the
// kernel package), matching the leaves-first dependency order of spec §2.
package proctab

import (
	"fmt"
	"sync"

	"github.com/mastermochi/mochi/internal/hal"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/paging"
	"github.com/mastermochi/mochi/internal/physalloc"
	"github.com/mastermochi/mochi/internal/virtalloc"
)

const pageSize = 4096

// Kind is a process's privilege class; it gates access to privileged
// kernel calls (spec §4.8 step 3).
type Kind uint8

const (
	KernelKind Kind = iota
	DriverKind
	ServerKind
	UserKind
)

func (k Kind) String() string {
	switch k {
	case KernelKind:
		return "kernel"
	case DriverKind:
		return "driver"
	case ServerKind:
		return "server"
	case UserKind:
		return "user"
	default:
		return "unknown"
	}
}

// StackRegion names a mapped stack's virtual extent.
type StackRegion struct {
	Base uint64
	Size uint64
}

// Process is one process record (spec §3's Process data model).
type Process struct {
	PID        uint32
	ParentPID  uint32
	Kind       Kind
	DirID      uint32
	EntryPoint uintptr
	HeapEnd    uint64
	HeapBreak  uint64
	UserStack  StackRegion
	Virt       *virtalloc.Allocator
	ThreadIDs  []uint32
}

// Table owns every live process record.
type Table struct {
	mu      sync.Mutex
	hal     *hal.HAL
	paging  *paging.Manager
	phys    *physalloc.Allocator
	windows []virtalloc.Window
	procs   map[uint32]*Process
	nextPID uint32
}

// New creates an empty process table. windows is the fixed template of
// virtual-address ranges (boot-data, kernel, ...) pre-allocated in every
// process's VirtAllocator (spec §4.3).
func New(h *hal.HAL, pg *paging.Manager, phys *physalloc.Allocator, windows []virtalloc.Window) *Table {
	return &Table{
		hal:     h,
		paging:  pg,
		phys:    phys,
		windows: windows,
		procs:   map[uint32]*Process{},
		nextPID: 1, // pid 0 is reserved for the idle process
	}
}

// Get returns the process record for pid.
func (t *Table) Get(pid uint32) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Snapshot returns every live process record, for Kernel.DumpState's
// debug dump.
func (t *Table) Snapshot() []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	return out
}

// RegisterIdle installs the immortal idle process (pid 0) using the idle
// page directory; called once at boot.
func (t *Table) RegisterIdle() *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Process{PID: 0, ParentPID: 0, Kind: KernelKind, DirID: paging.IdleDirID}
	t.procs[0] = p
	return p
}

// Add allocates a pid and page directory, seeds a VirtAllocator, loads
// image via the HAL's ImageLoader, and sets up the heap break and user
// stack. It does not create the main thread (see package doc).
func (t *Table) Add(kind Kind, image []byte) (*Process, mkerr.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextPID > 1023 {
		return nil, mkerr.NoResource
	}
	pid := t.nextPID
	t.nextPID++

	dirID, kerr := t.paging.AllocDir()
	if kerr != mkerr.None {
		t.nextPID--
		return nil, kerr
	}

	virt, err := virtalloc.New(pid, t.windows)
	if err != nil {
		return nil, mkerr.VirtAlloc
	}

	loaded, err := t.hal.Loader.Load(image, dirID)
	if err != nil {
		return nil, mkerr.Param
	}

	heapEnd := uint64(loaded.End)
	heapBreak := alignUp(heapEnd, pageSize)

	stackBase, kerr := virt.Alloc(pageSize)
	if kerr != mkerr.None {
		return nil, kerr
	}
	stackFrame, kerr := t.phys.Alloc(pageSize)
	if kerr != mkerr.None {
		return nil, kerr
	}
	t.hal.Mem.ZeroFrame(hal.Frame(stackFrame))
	kerr = t.paging.Map(dirID, uintptr(stackBase), hal.Frame(stackFrame), pageSize,
		paging.Attrs{Ring: paging.User, RW: paging.ReadWrite})
	if kerr != mkerr.None {
		return nil, kerr
	}

	p := &Process{
		PID:        pid,
		ParentPID:  0,
		Kind:       kind,
		DirID:      dirID,
		EntryPoint: loaded.EntryPoint,
		HeapEnd:    heapEnd,
		HeapBreak:  heapBreak,
		UserStack:  StackRegion{Base: stackBase, Size: pageSize},
		Virt:       virt,
	}
	t.procs[pid] = p
	return p, mkerr.None
}

// userHalfSize is the byte extent of the shared-kernel-half boundary
// (spec §4.4); Fork deep-copies exactly this range.
const userHalfSize = uint64(paging.KernelHalfBoundary) * 1024 * pageSize

// Fork allocates a new pid and directory, deep-copies the parent's user
// half, and copies the parent's heap/stack bookkeeping (spec §4.5). It
// does not create the child's main thread (composed in the kernel
// package via threadtab.Fork, matching the parent/child return-value
// convention resolved in SPEC_FULL.md).
func (t *Table) Fork(parentPID uint32) (*Process, mkerr.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.procs[parentPID]
	if !ok {
		return nil, mkerr.NoExist
	}
	if t.nextPID > 1023 {
		return nil, mkerr.NoResource
	}
	childPID := t.nextPID
	t.nextPID++

	dirID, kerr := t.paging.AllocDir()
	if kerr != mkerr.None {
		t.nextPID--
		return nil, kerr
	}
	if kerr := t.paging.Copy(dirID, parent.DirID, 0, uintptr(userHalfSize)); kerr != mkerr.None {
		return nil, kerr
	}

	virt, err := virtalloc.New(childPID, t.windows)
	if err != nil {
		return nil, mkerr.VirtAlloc
	}

	child := &Process{
		PID:        childPID,
		ParentPID:  parentPID,
		Kind:       parent.Kind,
		DirID:      dirID,
		EntryPoint: parent.EntryPoint,
		HeapEnd:    parent.HeapEnd,
		HeapBreak:  parent.HeapBreak,
		UserStack:  parent.UserStack,
		Virt:       virt,
	}
	t.procs[childPID] = child
	return child, mkerr.None
}

func alignUp(v, unit uint64) uint64 { return (v + unit - 1) / unit * unit }

func pageOf(addr uint64) uint64 {
	if addr == 0 {
		return 0
	}
	return (addr - 1) / pageSize
}

// SetBreak grows or shrinks pid's heap break by delta (which may be
// negative), mapping or unmapping whole pages crossed, and returns the
// resulting break. A failure partway through growth leaves the break at
// the highest successfully advanced page and reports NoMemory (spec
// §4.5, §7).
func (t *Table) SetBreak(pid uint32, delta int64) (uint64, mkerr.Err) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.procs[pid]
	if !ok {
		return 0, mkerr.NoExist
	}
	old := p.HeapBreak
	newBreak := uint64(int64(old) + delta)

	if delta > 0 {
		first := alignUp(old, pageSize) / pageSize
		last := pageOf(newBreak)
		for idx := first; idx <= last; idx++ {
			base := idx * pageSize
			frame, kerr := t.phys.Alloc(pageSize)
			if kerr != mkerr.None {
				p.HeapBreak = base
				return base, mkerr.NoMemory
			}
			t.hal.Mem.ZeroFrame(hal.Frame(frame))
			kerr = t.paging.Map(p.DirID, uintptr(base), hal.Frame(frame), pageSize,
				paging.Attrs{Ring: paging.User, RW: paging.ReadWrite})
			if kerr != mkerr.None {
				p.HeapBreak = base
				return base, mkerr.NoMemory
			}
		}
	} else if delta < 0 {
		lastOld := pageOf(old)
		lastNew := pageOf(newBreak)
		for idx := lastNew + 1; idx <= lastOld; idx++ {
			base := idx * pageSize
			if kerr := t.paging.Unmap(p.DirID, uintptr(base), pageSize, true); kerr != mkerr.None {
				return old, kerr
			}
		}
	}

	p.HeapBreak = newBreak
	return newBreak, mkerr.None
}

// Remove drops pid's record; the caller is responsible for freeing its
// directory, stack frames, and pid slot beforehand.
func (t *Table) Remove(pid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

func (p *Process) String() string {
	return fmt.Sprintf("proc{pid=%d parent=%d kind=%s dir=%d}", p.PID, p.ParentPID, p.Kind, p.DirID)
}
