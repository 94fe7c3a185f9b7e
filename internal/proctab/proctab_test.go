package proctab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/memmap"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/paging"
	"github.com/mastermochi/mochi/internal/physalloc"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/testhal"
)

func newTable(t *testing.T) *proctab.Table {
	t.Helper()
	h, _, err := testhal.New(16 << 20)
	require.NoError(t, err)

	regions := []memmap.Region{{Base: 0x100000, Size: 0x800000, Kind: memmap.Available}}
	phys, err := physalloc.New(regions, nil)
	require.NoError(t, err)

	pg, err := paging.NewManager(h, phys)
	require.NoError(t, err)

	return proctab.New(h, pg, phys, nil)
}

// TestForkCopiesUserHalf grounds the directory-content half of scenario
// S5 of spec §8.
func TestForkCopiesUserHalf(t *testing.T) {
	table := newTable(t)

	parent, kerr := table.Add(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, kerr)

	child, kerr := table.Fork(parent.PID)
	require.Equal(t, mkerr.None, kerr)

	assert.NotEqual(t, parent.PID, child.PID)
	assert.Equal(t, parent.PID, child.ParentPID)
	assert.Equal(t, parent.HeapBreak, child.HeapBreak)
	assert.NotEqual(t, parent.DirID, child.DirID)
}

// TestSetBreakGrowThenShrink grounds scenario S6 of spec §8.
func TestSetBreakGrowThenShrink(t *testing.T) {
	table := newTable(t)
	p, kerr := table.Add(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, kerr)
	p.HeapBreak = 0x40010000

	grown, kerr := table.SetBreak(p.PID, 0x3000)
	require.Equal(t, mkerr.None, kerr)
	assert.EqualValues(t, 0x40013000, grown)

	shrunk, kerr := table.SetBreak(p.PID, -0x2500)
	require.Equal(t, mkerr.None, kerr)
	assert.EqualValues(t, 0x40010B00, shrunk)
}

func TestSetBreakUnknownPidErrors(t *testing.T) {
	table := newTable(t)
	_, kerr := table.SetBreak(999, 0x1000)
	assert.Equal(t, mkerr.NoExist, kerr)
}
