// Package ioalloc is the I/O-memory allocator of spec §4.3: a
// blocklist.List seeded from every Reserved MemoryRegion, used to hand out
// MMIO mapping ranges.
package ioalloc

import (
	"github.com/mastermochi/mochi/internal/blocklist"
	"github.com/mastermochi/mochi/internal/memmap"
	"github.com/mastermochi/mochi/internal/mkerr"
)

const Unit = 4096

// Allocator is the I/O-memory block allocator.
type Allocator struct {
	list *blocklist.List
}

// New seeds the allocator from every Reserved region in regions.
func New(regions []memmap.Region) *Allocator {
	l := blocklist.New(Unit)
	for _, r := range regions {
		if r.Kind == memmap.Reserved {
			l.AddFree(r.Base, r.Size, true)
		}
	}
	return &Allocator{list: l}
}

// Alloc reserves size bytes of I/O memory for MMIO mapping.
func (a *Allocator) Alloc(size uint64) (uint64, mkerr.Err) {
	base, ok := a.list.Alloc(size)
	if !ok {
		return 0, mkerr.IoAlloc
	}
	return base, mkerr.None
}

// AllocSpecific reserves a mandated [base, base+size) range, e.g. for a
// device whose MMIO window is fixed by firmware.
func (a *Allocator) AllocSpecific(base, size uint64) mkerr.Err {
	if !a.list.AllocSpecific(base, size) {
		return mkerr.IoAlloc
	}
	return mkerr.None
}

// Free releases a previously allocated I/O range.
func (a *Allocator) Free(base uint64) mkerr.Err {
	if err := a.list.Free(base); err != nil {
		return mkerr.NoExist
	}
	return mkerr.None
}
