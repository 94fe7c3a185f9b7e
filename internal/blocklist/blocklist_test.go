package blocklist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/blocklist"
)

// TestAllocFreeAlloc grounds scenario S2 of spec §8: a 1 MiB Available
// region seeded at 0x100000, then alloc/free/alloc.
func TestAllocFreeAlloc(t *testing.T) {
	l := blocklist.New(0x1000)
	l.AddFree(0x100000, 0x100000, true)

	base, ok := l.Alloc(0x2000)
	require.True(t, ok)
	assert.EqualValues(t, 0x100000, base)

	base, ok = l.Alloc(0x1000)
	require.True(t, ok)
	assert.EqualValues(t, 0x102000, base)

	require.NoError(t, l.Free(0x100000))

	base, ok = l.Alloc(0x3000)
	require.True(t, ok)
	assert.EqualValues(t, 0x103000, base)

	free := l.FreeBlocks()
	require.Len(t, free, 2)
	assert.EqualValues(t, 0x100000, free[0].Base())
	assert.EqualValues(t, 0x2000, free[0].Size())
}

func TestAllocSpecificSplitsFreeBlock(t *testing.T) {
	l := blocklist.New(0x1000)
	l.AddFree(0x100000, 0x10000, true)

	ok := l.AllocSpecific(0x104000, 0x2000)
	require.True(t, ok)

	free := l.FreeBlocks()
	require.Len(t, free, 2)
	assert.EqualValues(t, 0x100000, free[0].Base())
	assert.EqualValues(t, 0x4000, free[0].Size())
	assert.EqualValues(t, 0x106000, free[1].Base())
	assert.EqualValues(t, 0xa000, free[1].Size())
}

func TestFreeRoundTripAllowsReAlloc(t *testing.T) {
	l := blocklist.New(0x1000)
	l.AddFree(0, 0x10000, true)

	base, ok := l.Alloc(0x4000)
	require.True(t, ok)
	require.NoError(t, l.Free(base))

	_, ok = l.Alloc(0x4000)
	assert.True(t, ok)
}

// TestPartitionInvariant grounds spec §8 invariant 2: allocated, free, and
// unused partition the pool, and the union of allocated+free bases/sizes
// equals the seeded free set.
func TestPartitionInvariant(t *testing.T) {
	l := blocklist.New(0x1000)
	l.AddFree(0x1000, 0x9000, true)

	var total uint64
	for _, b := range l.FreeBlocks() {
		total += b.Size()
	}
	assert.EqualValues(t, 0x9000, total)

	b1, ok := l.Alloc(0x2000)
	require.True(t, ok)
	b2, ok := l.Alloc(0x1000)
	require.True(t, ok)

	total = 0
	for _, b := range l.Allocated() {
		total += b.Size()
	}
	for _, b := range l.FreeBlocks() {
		total += b.Size()
	}
	assert.EqualValues(t, 0x9000, total)
	assert.NotEqual(t, b1, b2)
}

func TestNoAdjacentFreeBlocksSurvive(t *testing.T) {
	l := blocklist.New(0x1000)
	l.AddFree(0x1000, 0x1000, true)
	l.AddFree(0x2000, 0x1000, true)
	l.AddFree(0x4000, 0x1000, true)

	free := l.FreeBlocks()
	for i := 0; i+1 < len(free); i++ {
		assert.Less(t, free[i].Base()+free[i].Size(), free[i+1].Base(),
			"adjacent free blocks must have coalesced")
	}
}
