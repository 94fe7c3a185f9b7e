// Package virtalloc is the per-process virtual-address allocator of spec
// §4.3: a blocklist.List spanning [0, 0xFFFFFFFC) with the boot-data,
// kernel, and user-address-window ranges pre-allocated so only the user
// heap/stack region is dynamically available. Its lifetime is tied to the
// owning process (spec §3).
package virtalloc

import (
	"github.com/mastermochi/mochi/internal/blocklist"
	"github.com/mastermochi/mochi/internal/mkerr"
)

const (
	Unit    = 4096
	AddrMax = 0xFFFFFFFC
)

// Window names one of the address ranges carved out before the process's
// heap/stack region becomes dynamically available.
type Window struct {
	Name string
	Base uint64
	Size uint64
}

// Allocator is one process's virtual-address allocator.
type Allocator struct {
	PID  uint32
	list *blocklist.List
}

// New creates the allocator for pid, pre-allocating the given fixed
// windows (boot-data, kernel, user-window).
func New(pid uint32, windows []Window) (*Allocator, error) {
	l := blocklist.New(Unit)
	l.AddFree(0, AddrMax, true)
	a := &Allocator{PID: pid, list: l}
	for _, w := range windows {
		if !l.AllocSpecific(w.Base, w.Size) {
			return nil, errUnavailable(w)
		}
	}
	return a, nil
}

type unavailableError struct{ w Window }

func (e unavailableError) Error() string {
	return "virtalloc: window " + e.w.Name + " unavailable"
}

func errUnavailable(w Window) error { return unavailableError{w} }

// Alloc reserves size bytes of virtual address space for this process.
func (a *Allocator) Alloc(size uint64) (uint64, mkerr.Err) {
	base, ok := a.list.Alloc(size)
	if !ok {
		return 0, mkerr.VirtAlloc
	}
	return base, mkerr.None
}

// AllocSpecific reserves a mandated virtual range (e.g. a fixed stack
// location).
func (a *Allocator) AllocSpecific(base, size uint64) mkerr.Err {
	if !a.list.AllocSpecific(base, size) {
		return mkerr.VirtAlloc
	}
	return mkerr.None
}

// Free releases a previously allocated virtual range.
func (a *Allocator) Free(base uint64) mkerr.Err {
	if err := a.list.Free(base); err != nil {
		return mkerr.NoExist
	}
	return mkerr.None
}
