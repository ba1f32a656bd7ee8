package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrypm/quarry/internal/report"
)

func newWaiter() (pendingWaiter[int], chan taskResult[int]) {
	reply := make(chan taskResult[int], 1)
	return pendingWaiter[int]{meta: newTaskMeta("", "w"), reply: reply}, reply
}

func TestPendingTableStateMachine(t *testing.T) {
	tbl := newPendingTable[int](report.ClassSolve)

	w1, r1 := newWaiter()
	require.Equal(t, admitSpawn, tbl.admit("k", w1))

	w2, r2 := newWaiter()
	require.Equal(t, admitJoined, tbl.admit("k", w2))

	waiters := tbl.complete("k", 42, nil)
	assert.Len(t, waiters, 2)
	assert.Equal(t, 42, (<-r1).value)
	assert.Equal(t, 42, (<-r2).value)

	// Resolved keys answer immediately.
	w3, r3 := newWaiter()
	require.Equal(t, admitCached, tbl.admit("k", w3))
	got := <-r3
	assert.Equal(t, 42, got.value)
	assert.True(t, got.cached)
}

func TestPendingTableFailureAllowsRetry(t *testing.T) {
	tbl := newPendingTable[int](report.ClassSolve)

	w1, r1 := newWaiter()
	require.Equal(t, admitSpawn, tbl.admit("k", w1))
	tbl.complete("k", 0, errors.New("boom"))
	assert.Error(t, (<-r1).err)

	// The key is gone; the next request spawns fresh work.
	w2, _ := newWaiter()
	assert.Equal(t, admitSpawn, tbl.admit("k", w2))
}

func TestPendingTableDoubleCompletePanics(t *testing.T) {
	tbl := newPendingTable[int](report.ClassSolve)

	w, _ := newWaiter()
	tbl.admit("k", w)
	tbl.complete("k", 1, nil)

	assert.Panics(t, func() { tbl.complete("k", 2, nil) })
}

func TestPendingTableCancelAll(t *testing.T) {
	tbl := newPendingTable[int](report.ClassSolve)

	w1, r1 := newWaiter()
	tbl.admit("k1", w1)
	w2, r2 := newWaiter()
	tbl.admit("k2", w2)

	tbl.cancelAll()
	assert.ErrorIs(t, (<-r1).err, ErrCancelled)
	assert.ErrorIs(t, (<-r2).err, ErrCancelled)
}
