package kcall_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermochi/mochi/internal/irqmon"
	"github.com/mastermochi/mochi/internal/kcall"
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

func newFixture(t *testing.T) (*kcall.Dispatcher, *proctab.Table, *threadtab.Table) {
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
	pic := testhal.NewPIC()
	irq := irqmon.New(pic, s)

	return kcall.New(procs, threads, irq), procs, threads
}

func TestIRQControlRejectsNonDriverCallers(t *testing.T) {
	d, _, _ := newFixture(t)
	caller := taskid.Encode(1, 0)
	p := &kcall.ParamBlock[kcall.IRQParam]{FuncID: kcall.FuncStartMonitoring, Data: kcall.IRQParam{IRQ: 5}}

	suspended := d.IRQControl(caller, proctab.UserKind, p)
	assert.False(t, suspended)
	assert.Equal(t, mkerr.Failure, p.Ret)
	assert.Equal(t, mkerr.Unauthorized, p.Err)
}

func TestIRQControlStartMonitoringSucceedsForDriver(t *testing.T) {
	d, _, _ := newFixture(t)
	caller := taskid.Encode(1, 0)
	p := &kcall.ParamBlock[kcall.IRQParam]{FuncID: kcall.FuncStartMonitoring, Data: kcall.IRQParam{IRQ: 5}}

	suspended := d.IRQControl(caller, proctab.DriverKind, p)
	assert.False(t, suspended)
	assert.Equal(t, mkerr.Success, p.Ret)
}

func TestUnimplementedCategoriesFailWithNotRegistered(t *testing.T) {
	p := &kcall.ParamBlock[struct{}]{FuncID: 1}
	kcall.Unimplemented(p)
	assert.Equal(t, mkerr.Failure, p.Ret)
	assert.Equal(t, mkerr.NotRegistered, p.Err)
}

func TestProcessAddThenFork(t *testing.T) {
	d, procs, threads := newFixture(t)

	addP := &kcall.ParamBlock[kcall.ProcParam]{FuncID: kcall.FuncProcAdd, Data: kcall.ProcParam{Kind: proctab.UserKind, Image: []byte("x")}}
	d.Process(taskid.Idle, addP)
	require.Equal(t, mkerr.Success, addP.Ret)

	parentPID := addP.Data.PID
	parentTaskID := taskid.Encode(parentPID, 0)

	forkP := &kcall.ParamBlock[kcall.ProcParam]{FuncID: kcall.FuncProcFork}
	d.Process(parentTaskID, forkP)
	require.Equal(t, mkerr.Success, forkP.Ret)
	assert.NotEqual(t, parentPID, forkP.Data.PID)

	childTaskID := taskid.Encode(forkP.Data.PID, 0)
	assert.True(t, threads.IsForkChild(childTaskID))
	assert.False(t, threads.IsForkChild(parentTaskID))

	_, ok := procs.Get(forkP.Data.PID)
	assert.True(t, ok)
}
