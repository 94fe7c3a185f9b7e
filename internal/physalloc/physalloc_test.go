package physalloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/memmap"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/physalloc"
)

// TestAllocFreeAlloc grounds scenario S2 of spec §8.
func TestAllocFreeAlloc(t *testing.T) {
	regions := []memmap.Region{{Base: 0x100000, Size: 0x100000, Kind: memmap.Available}}
	a, err := physalloc.New(regions, nil)
	require.NoError(t, err)

	base1, kerr := a.Alloc(0x2000)
	require.Equal(t, mkerr.None, kerr)
	assert.EqualValues(t, 0x100000, base1)

	base2, kerr := a.Alloc(0x1000)
	require.Equal(t, mkerr.None, kerr)
	assert.EqualValues(t, 0x102000, base2)

	require.Equal(t, mkerr.None, a.Free(base1))

	base3, kerr := a.Alloc(0x3000)
	require.Equal(t, mkerr.None, kerr)
	assert.EqualValues(t, 0x103000, base3)
}

func TestReservationsUnavailableForAlloc(t *testing.T) {
	regions := []memmap.Region{{Base: 0x100000, Size: 0x10000, Kind: memmap.Available}}
	a, err := physalloc.New(regions, []physalloc.Reservation{
		{Name: "idle-dir", Base: 0x100000, Size: 0x1000},
	})
	require.NoError(t, err)

	base, kerr := a.Alloc(0x1000)
	require.Equal(t, mkerr.None, kerr)
	assert.NotEqual(t, uint64(0x100000), base)
}

func TestReservationOutsideAvailableRegionFails(t *testing.T) {
	regions := []memmap.Region{{Base: 0x100000, Size: 0x1000, Kind: memmap.Available}}
	_, err := physalloc.New(regions, []physalloc.Reservation{
		{Name: "vram", Base: 0xB8000, Size: 0x1000},
	})
	assert.Error(t, err)
}

func TestFreeUnknownBaseErrors(t *testing.T) {
	regions := []memmap.Region{{Base: 0x100000, Size: 0x1000, Kind: memmap.Available}}
	a, err := physalloc.New(regions, nil)
	require.NoError(t, err)
	assert.Equal(t, mkerr.NoExist, a.Free(0xDEAD000))
}
