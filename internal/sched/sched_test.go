package sched_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastermochi/mochi/internal/sched"
	"github.com/mastermochi/mochi/internal/taskid"
)

// TestFIFOWithinBandOrder grounds the FIFO-within-band half of scenario
// S5 of spec §8.
func TestFIFOWithinBandOrder(t *testing.T) {
	s := sched.New(taskid.Idle)
	t1 := taskid.Encode(1, 0)
	t2 := taskid.Encode(2, 0)
	s.Add(t1, sched.User)
	s.Add(t2, sched.User)

	assert.Equal(t, t1, s.Exec())
	assert.Equal(t, t2, s.Exec())
}

func TestBandOrderPreemptsLowerBands(t *testing.T) {
	s := sched.New(taskid.Idle)
	driver := taskid.Encode(1, 0)
	kernel := taskid.Encode(2, 0)
	s.Add(driver, sched.Driver)
	s.Add(kernel, sched.Kernel)

	assert.Equal(t, kernel, s.Exec())
	assert.Equal(t, driver, s.Exec())
}

func TestBlockRemovesFromRunningIntoWaitQueue(t *testing.T) {
	s := sched.New(taskid.Idle)
	id := taskid.Encode(1, 0)
	s.Add(id, sched.User)

	s.Block(id)
	assert.Equal(t, sched.InWaitQueue, s.Locate(id))
	st, ok := s.State(id)
	assert.True(t, ok)
	assert.Equal(t, sched.Blocked, st)
}

func TestWakeReinsertsAtReservedTail(t *testing.T) {
	s := sched.New(taskid.Idle)
	id := taskid.Encode(1, 0)
	s.Add(id, sched.User)
	s.Block(id)

	s.Wake(id)
	assert.Equal(t, sched.InReserved, s.Locate(id))
	st, _ := s.State(id)
	assert.Equal(t, sched.Runnable, st)
}

// TestIdleRunsWhenNothingElseDoes grounds the role-swap/idle-fallback
// rule: with no threads registered at all, Exec always returns idle.
func TestIdleRunsWhenNothingElseDoes(t *testing.T) {
	s := sched.New(taskid.Idle)
	assert.Equal(t, taskid.Idle, s.Exec())
	assert.Equal(t, taskid.Idle, s.Exec())
}

func TestRoleSwapPicksUpReservedWork(t *testing.T) {
	s := sched.New(taskid.Idle)
	id := taskid.Encode(1, 0)
	s.Add(id, sched.User)
	assert.Equal(t, id, s.Exec()) // picked from running; running now empty

	s.Requeue(id) // simulate: id yields back, Runnable, into reserved's tail

	id2 := taskid.Encode(2, 0)
	s.Add(id2, sched.User) // lands in running (Add always targets running)
	assert.Equal(t, id2, s.Exec())

	// running is empty again; Exec must swap running/reserved and pick id
	// up from what was reserved, all within this one call.
	assert.Equal(t, id, s.Exec())
}

func TestExitedThreadNeverPicked(t *testing.T) {
	s := sched.New(taskid.Idle)
	id := taskid.Encode(1, 0)
	s.Add(id, sched.User)
	s.Exit(id)

	assert.Equal(t, sched.NotPresent, s.Locate(id))
	assert.Equal(t, taskid.Idle, s.Exec())
}
