// Package physalloc is the physical-memory block allocator of spec §4.3:
// a blocklist.List seeded from every Available MemoryRegion, with a fixed
// set of ranges (debug VRAM, idle page directory, kernel page-table
// array) pre-allocated via AllocSpecific so they can never be returned by
// Alloc.
package physalloc

import (
	"fmt"

	"github.com/mastermochi/mochi/internal/blocklist"
	"github.com/mastermochi/mochi/internal/memmap"
	"github.com/mastermochi/mochi/internal/mkerr"
)

const PageSize = 4096

// Reservation names one of the fixed startup ranges that must never be
// handed out by Alloc.
type Reservation struct {
	Name string
	Base uint64
	Size uint64
}

// Allocator is the physical block allocator.
type Allocator struct {
	list *blocklist.List
}

// New seeds the allocator from every Available region in regions and
// pre-allocates the given fixed reservations.
func New(regions []memmap.Region, reservations []Reservation) (*Allocator, error) {
	l := blocklist.New(PageSize)
	for _, r := range regions {
		if r.Kind == memmap.Available {
			l.AddFree(r.Base, r.Size, true)
		}
	}
	a := &Allocator{list: l}
	for _, res := range reservations {
		if !l.AllocSpecific(res.Base, res.Size) {
			return nil, fmt.Errorf("physalloc: reservation %q at %#x/%#x unavailable", res.Name, res.Base, res.Size)
		}
	}
	return a, nil
}

// Alloc returns a fresh physical block of at least size bytes.
func (a *Allocator) Alloc(size uint64) (uint64, mkerr.Err) {
	base, ok := a.list.Alloc(size)
	if !ok {
		return 0, mkerr.NoMemory
	}
	return base, mkerr.None
}

// Free releases the block starting at base.
func (a *Allocator) Free(base uint64) mkerr.Err {
	if err := a.list.Free(base); err != nil {
		return mkerr.NoExist
	}
	return mkerr.None
}

// FreeBlocks exposes the current free list for invariant checks and debug
// dumps.
func (a *Allocator) FreeBlocks() []blocklist.Block { return a.list.FreeBlocks() }

// Allocated exposes the current allocated list.
func (a *Allocator) Allocated() []blocklist.Block { return a.list.Allocated() }
