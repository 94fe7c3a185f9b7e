package threadtab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/memmap"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/paging"
	"github.com/mastermochi/mochi/internal/physalloc"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/sched"
	"github.com/mastermochi/mochi/internal/taskid"
	"github.com/mastermochi/mochi/internal/testhal"
	"github.com/mastermochi/mochi/internal/threadtab"
)

func newFixture(t *testing.T) (*proctab.Table, *threadtab.Table, *sched.Scheduler) {
	t.Helper()
	h, _, err := testhal.New(16 << 20)
	require.NoError(t, err)

	regions := []memmap.Region{{Base: 0x100000, Size: 0x800000, Kind: memmap.Available}}
	phys, err := physalloc.New(regions, nil)
	require.NoError(t, err)

	pg, err := paging.NewManager(h, phys)
	require.NoError(t, err)

	procs := proctab.New(h, pg, phys, nil)
	s := sched.New(taskid.Idle)
	threads := threadtab.New(h, pg, phys, s)
	return procs, threads, s
}

func TestAddMainRegistersWithScheduler(t *testing.T) {
	procs, threads, s := newFixture(t)
	p, kerr := procs.Add(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, kerr)

	taskID, kerr := threads.AddMain(p)
	require.Equal(t, mkerr.None, kerr)
	assert.Equal(t, taskid.Encode(p.PID, 0), taskID)
	assert.Equal(t, sched.InRunning, s.Locate(taskID))
}

// TestForkResumesChildAtSameContext grounds the thread-side half of
// scenario S5 of spec §8: the child's saved context matches the parent's
// at the moment fork was called, and ForkChild distinguishes them.
func TestForkResumesChildAtSameContext(t *testing.T) {
	procs, threads, s := newFixture(t)
	parent, kerr := procs.Add(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, kerr)
	parentTaskID, kerr := threads.AddMain(parent)
	require.Equal(t, mkerr.None, kerr)

	threads.SaveContext(parentTaskID, threadtab.Context{EIP: 0x1000, ESP: 0x2000, EBP: 0x2010})

	child, kerr := procs.Fork(parent.PID)
	require.Equal(t, mkerr.None, kerr)

	childTaskID, kerr := threads.Fork(parentTaskID, child)
	require.Equal(t, mkerr.None, kerr)

	assert.False(t, threads.IsForkChild(parentTaskID))
	assert.True(t, threads.IsForkChild(childTaskID))

	childThread, ok := threads.Get(childTaskID)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x1000), childThread.Context.EIP)
	assert.Equal(t, uintptr(0x2000), childThread.Context.ESP)

	assert.Equal(t, sched.InRunning, s.Locate(childTaskID))
	assert.Equal(t, sched.InRunning, s.Locate(parentTaskID))
}

func TestExitFreesKernelStack(t *testing.T) {
	procs, threads, _ := newFixture(t)
	p, kerr := procs.Add(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, kerr)
	taskID, kerr := threads.AddMain(p)
	require.Equal(t, mkerr.None, kerr)

	require.Equal(t, mkerr.None, threads.Exit(taskID))
	_, ok := threads.Get(taskID)
	assert.False(t, ok)
}
