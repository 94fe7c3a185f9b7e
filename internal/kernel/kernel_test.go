package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/bootinfo"
	"github.com/mastermochi/mochi/internal/kernel"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/testhal"
)

func newKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	h, _, err := testhal.New(16 << 20)
	require.NoError(t, err)

	cfg := bootinfo.Config{
		Firmware: []bootinfo.FirmwareRegion{
			{Base: 0x0, Length: 0x9FC00, Type: bootinfo.TypeAvailable},
			{Base: 0x100000, Length: 0x800000, Type: bootinfo.TypeAvailable},
		},
	}
	k, err := kernel.Boot(cfg, h, nil, nil, nil)
	require.NoError(t, err)
	return k
}

func TestBootRegistersIdleProcess(t *testing.T) {
	k := newKernel(t)
	assert.EqualValues(t, 0, k.IdlePID())
}

func TestSpawnThenTickRunsNewThread(t *testing.T) {
	k := newKernel(t)
	_, taskID, err := k.Spawn(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, err)

	current, tickErr := k.Tick()
	require.NoError(t, tickErr)
	assert.Equal(t, taskID, current)
}

func TestForkProducesDistinctChildPID(t *testing.T) {
	k := newKernel(t)
	parent, taskID, err := k.Spawn(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, err)

	childPID, err := k.Fork(taskID)
	require.Equal(t, mkerr.None, err)
	assert.NotEqual(t, parent.PID, childPID)
}

func TestTickRequeuesOutgoingThreadAcrossMultipleTicks(t *testing.T) {
	k := newKernel(t)
	_, taskID, err := k.Spawn(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, err)

	for i := 0; i < 8; i++ {
		current, tickErr := k.Tick()
		require.NoError(t, tickErr)
		assert.Equal(t, taskID, current, "tick %d: lone runnable thread should never be lost to idle", i)
	}
}

func TestDumpStateIncludesLiveProcesses(t *testing.T) {
	k := newKernel(t)
	_, _, err := k.Spawn(proctab.UserKind, []byte("image"))
	require.Equal(t, mkerr.None, err)

	dump := k.DumpState()
	assert.Contains(t, dump, "process table")
	assert.Contains(t, dump, "EntryPoint")
}
