package virtalloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/virtalloc"
)

func TestFixedWindowsPreAllocated(t *testing.T) {
	windows := []virtalloc.Window{
		{Name: "boot-data", Base: 0x10000000, Size: 0x100000},
		{Name: "kernel", Base: 0xC0000000, Size: 0x3FFFF000},
	}
	a, err := virtalloc.New(1, windows)
	require.NoError(t, err)

	base, kerr := a.Alloc(0x1000)
	require.Equal(t, mkerr.None, kerr)
	assert.NotEqual(t, uint64(0x10000000), base)
	assert.Less(t, base, uint64(0xC0000000))
}

func TestOverlappingFixedWindowErrors(t *testing.T) {
	windows := []virtalloc.Window{
		{Name: "a", Base: 0x10000000, Size: 0x1000},
		{Name: "b", Base: 0x10000000, Size: 0x1000},
	}
	_, err := virtalloc.New(1, windows)
	assert.Error(t, err)
}

func TestFreeThenReallocSameRange(t *testing.T) {
	a, err := virtalloc.New(1, nil)
	require.NoError(t, err)

	base, kerr := a.Alloc(0x4000)
	require.Equal(t, mkerr.None, kerr)
	require.Equal(t, mkerr.None, a.Free(base))

	base2, kerr := a.Alloc(0x4000)
	require.Equal(t, mkerr.None, kerr)
	assert.Equal(t, base, base2)
}
