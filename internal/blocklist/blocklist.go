// Package blocklist implements the shared block-allocator data structure
// of spec §4.2: three intrusive doubly-linked lists (allocated, free,
// unused) threaded through a single pool of Block records. It backs
// PhysAllocator, VirtAllocator, and IoAllocator alike.
//
// Per the rewrite notes in spec §9, the original's raw-pointer intrusive
// lists are replaced with a single growable []Block pool indexed by a
// typed BlockID, with prev/next fields woven through it — the same
// family of free-list-over-a-pool design the teacher uses for its page
// allocator (iansmith-mazarin's Page.next/prev over allPagesArrayBase),
// generalized here to three lists instead of one.
package blocklist

import "fmt"

// BlockID indexes a Block within a List's pool. NilBlock (-1) means "no
// block".
type BlockID int32

// NilBlock is the null BlockID.
const NilBlock BlockID = -1

// Block holds one allocated, free, or unused range. Every Block belongs
// to exactly one of the three lists at a time (spec §3 invariant).
type Block struct {
	prev, next BlockID
	base, size uint64
	owner      uint32 // meaningful only while allocated; see Owner
	hasOwner   bool
}

// Base is the block's starting address.
func (b Block) Base() uint64 { return b.base }

// Size is the block's length in bytes.
func (b Block) Size() uint64 { return b.size }

// Owner returns the tag recorded at Alloc time, if any.
func (b Block) Owner() (uint32, bool) { return b.owner, b.hasOwner }

// list is one of the three singly-tagged doubly-linked lists threaded
// through the shared pool.
type list struct {
	head, tail BlockID
	len        int
}

func emptyList() list { return list{head: NilBlock, tail: NilBlock} }

const growthChunk = 256

// List is a shared-pool block allocator: alloc/free/add_free per spec
// §4.2, with a configurable rounding Unit (4 KiB for physical, virtual,
// and I/O allocators per spec §4.3).
type List struct {
	Unit uint64

	pool      []Block
	allocated list
	free      list
	unused    list
}

// New creates an empty List that rounds allocation sizes up to unit
// bytes (0 or 1 disables rounding).
func New(unit uint64) *List {
	if unit == 0 {
		unit = 1
	}
	l := &List{Unit: unit, allocated: emptyList(), free: emptyList(), unused: emptyList()}
	l.grow()
	return l
}

// grow appends one growthChunk of fresh Block records to the pool and
// threads them onto unused, mirroring the original's 256-record growth
// arena (spec §4.2).
func (l *List) grow() {
	start := BlockID(len(l.pool))
	for i := 0; i < growthChunk; i++ {
		l.pool = append(l.pool, Block{prev: NilBlock, next: NilBlock})
	}
	for i := 0; i < growthChunk; i++ {
		id := start + BlockID(i)
		l.pushTail(&l.unused, id)
	}
}

func (l *List) listFor(tag *list) *list { return tag }

func (l *List) pushTail(ls *list, id BlockID) {
	b := &l.pool[id]
	b.prev = ls.tail
	b.next = NilBlock
	if ls.tail != NilBlock {
		l.pool[ls.tail].next = id
	} else {
		ls.head = id
	}
	ls.tail = id
	ls.len++
}

func (l *List) remove(ls *list, id BlockID) {
	b := &l.pool[id]
	if b.prev != NilBlock {
		l.pool[b.prev].next = b.next
	} else {
		ls.head = b.next
	}
	if b.next != NilBlock {
		l.pool[b.next].prev = b.prev
	} else {
		ls.tail = b.prev
	}
	b.prev, b.next = NilBlock, NilBlock
	ls.len--
}

// insertSortedFree inserts id into the free list in base order.
func (l *List) insertSortedFree(id BlockID) {
	base := l.pool[id].base
	cur := l.free.head
	for cur != NilBlock && l.pool[cur].base < base {
		cur = l.pool[cur].next
	}
	if cur == NilBlock {
		l.pushTail(&l.free, id)
		return
	}
	b := &l.pool[id]
	prev := l.pool[cur].prev
	b.next = cur
	b.prev = prev
	l.pool[cur].prev = id
	if prev != NilBlock {
		l.pool[prev].next = id
	} else {
		l.free.head = id
	}
	l.free.len++
}

// takeUnused pops one Block record off unused, growing the pool first if
// necessary. Per spec §4.2, exhaustion of a correctly-sized pool is a
// design bug, not a normal case — grow never fails in this rewrite.
func (l *List) takeUnused() BlockID {
	if l.unused.head == NilBlock {
		l.grow()
	}
	id := l.unused.head
	l.remove(&l.unused, id)
	return id
}

func (l *List) releaseToUnused(id BlockID) {
	l.pool[id] = Block{prev: NilBlock, next: NilBlock}
	l.pushTail(&l.unused, id)
}

func roundUp(v, unit uint64) uint64 {
	if unit <= 1 {
		return v
	}
	rem := v % unit
	if rem == 0 {
		return v
	}
	return v + (unit - rem)
}

// AddFree seeds the free list with [base, base+size), optionally
// coalescing with abutting neighbours. Used at allocator init and at I/O
// region declaration (spec §4.2).
func (l *List) AddFree(base, size uint64, merge bool) {
	if size == 0 {
		return
	}
	id := l.takeUnused()
	l.pool[id].base = base
	l.pool[id].size = size
	l.insertSortedFree(id)
	if merge {
		l.coalesce(id)
	}
}

// coalesce merges the free block id with its sorted neighbours if they
// abut, maintaining invariant 3 of spec §8 (no two adjacent free blocks).
func (l *List) coalesce(id BlockID) {
	for {
		prev := l.pool[id].prev
		if prev == NilBlock {
			break
		}
		if l.pool[prev].base+l.pool[prev].size != l.pool[id].base {
			break
		}
		l.pool[prev].size += l.pool[id].size
		l.remove(&l.free, id)
		l.releaseToUnused(id)
		id = prev
	}
	for {
		next := l.pool[id].next
		if next == NilBlock {
			break
		}
		if l.pool[id].base+l.pool[id].size != l.pool[next].base {
			break
		}
		l.pool[id].size += l.pool[next].size
		l.remove(&l.free, next)
		l.releaseToUnused(next)
	}
}

// Alloc scans free in base order and returns the first block whose size
// is >= the unit-rounded request. Returns (base, true) on success.
func (l *List) Alloc(size uint64) (uint64, bool) {
	size = roundUp(size, l.Unit)
	if size == 0 {
		return 0, false
	}
	cur := l.free.head
	for cur != NilBlock {
		fb := &l.pool[cur]
		if fb.size >= size {
			base := fb.base
			if fb.size == size {
				l.remove(&l.free, cur)
				l.pool[cur].size = size
				l.pushTail(&l.allocated, cur)
			} else {
				// Shrink the free block from the front; a fresh Block
				// record carries the allocated range.
				fb.base += size
				fb.size -= size
				aid := l.takeUnused()
				l.pool[aid].base = base
				l.pool[aid].size = size
				l.pushTail(&l.allocated, aid)
			}
			return base, true
		}
		cur = fb.next
	}
	return 0, false
}

// AllocOwned is Alloc with an owner tag recorded on the resulting block,
// used by VirtAllocator/PhysAllocator callers that want Free-time
// ownership bookkeeping (e.g. per-process virtual ranges).
func (l *List) AllocOwned(size uint64, owner uint32) (uint64, bool) {
	base, ok := l.Alloc(size)
	if !ok {
		return 0, false
	}
	l.setOwner(base, owner)
	return base, true
}

func (l *List) setOwner(base uint64, owner uint32) {
	for id := l.allocated.head; id != NilBlock; id = l.pool[id].next {
		if l.pool[id].base == base {
			l.pool[id].owner = owner
			l.pool[id].hasOwner = true
			return
		}
	}
}

// AllocSpecific mandates the base; it succeeds only when [base,
// base+size) lies entirely within one free block. The free block is
// split into at most two remaining free blocks (front, back).
func (l *List) AllocSpecific(base, size uint64) bool {
	size = roundUp(size, l.Unit)
	if size == 0 {
		return false
	}
	end := base + size
	for cur := l.free.head; cur != NilBlock; cur = l.pool[cur].next {
		fb := l.pool[cur]
		if base < fb.base || end > fb.base+fb.size {
			continue
		}
		l.remove(&l.free, cur)
		frontSize := base - fb.base
		backSize := (fb.base + fb.size) - end
		if frontSize > 0 {
			l.AddFree(fb.base, frontSize, false)
		}
		if backSize > 0 {
			l.AddFree(end, backSize, false)
		}
		l.pool[cur].base = base
		l.pool[cur].size = size
		l.pool[cur].owner = 0
		l.pool[cur].hasOwner = false
		l.pushTail(&l.allocated, cur)
		return true
	}
	return false
}

// Free releases the allocated block with the given exact base, inserting
// it back into free (sorted, coalesced). Returns an error if no
// allocated block starts at base.
func (l *List) Free(base uint64) error {
	for id := l.allocated.head; id != NilBlock; id = l.pool[id].next {
		if l.pool[id].base == base {
			l.remove(&l.allocated, id)
			l.pool[id].owner = 0
			l.pool[id].hasOwner = false
			l.insertSortedFree(id)
			l.coalesce(id)
			return nil
		}
	}
	return fmt.Errorf("blocklist: no allocated block at base %#x", base)
}

// FreeOwned frees every allocated block tagged with owner, used to tear
// down a process's virtual-address ranges in one pass.
func (l *List) FreeOwned(owner uint32) {
	var bases []uint64
	for id := l.allocated.head; id != NilBlock; id = l.pool[id].next {
		if l.pool[id].hasOwner && l.pool[id].owner == owner {
			bases = append(bases, l.pool[id].base)
		}
	}
	for _, b := range bases {
		_ = l.Free(b)
	}
}

// Allocated/Free/Unused return snapshots of each list's blocks in list
// order, for invariant checks and debug dumps (spec §8 invariant 2).
func (l *List) Allocated() []Block { return l.snapshot(l.allocated) }
func (l *List) FreeBlocks() []Block { return l.snapshot(l.free) }
func (l *List) Unused() int         { return l.unused.len }

func (l *List) snapshot(ls list) []Block {
	out := make([]Block, 0, ls.len)
	for id := ls.head; id != NilBlock; id = l.pool[id].next {
		out = append(out, l.pool[id])
	}
	return out
}
