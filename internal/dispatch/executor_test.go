package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, e Executor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case fn := <-e.Completions():
			fn()
		case <-time.After(5 * time.Second):
			t.Fatal("timed out draining completions")
		}
	}
}

func TestConcurrentExecutorCompletesEverything(t *testing.T) {
	e := newConcurrentExecutor()
	defer e.Close()

	const n = 16
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < n; i++ {
		i := i
		e.Spawn(func() func() {
			return func() {
				mu.Lock()
				seen[i] = true
				mu.Unlock()
			}
		})
	}

	drain(t, e, n)
	assert.Len(t, seen, n)
}

func TestSerialExecutorDeliversLIFO(t *testing.T) {
	e := newSerialExecutor()
	defer e.Close()

	release := make(chan struct{})
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		e.Spawn(func() func() {
			<-release
			return func() { order = append(order, i) }
		})
	}
	// Let the forwarder settle on the top of the stack before anything
	// completes.
	time.Sleep(50 * time.Millisecond)
	close(release)

	drain(t, e, 3)
	require.Equal(t, []int{2, 1, 0}, order)
}

func TestSerialExecutorHandlesLatePush(t *testing.T) {
	e := newSerialExecutor()
	defer e.Close()

	blockFirst := make(chan struct{})
	var order []string

	e.Spawn(func() func() {
		<-blockFirst
		return func() { order = append(order, "first") }
	})
	time.Sleep(20 * time.Millisecond)
	e.Spawn(func() func() {
		return func() { order = append(order, "second") }
	})

	// The late push takes the top of the stack and completes first.
	fn := <-e.Completions()
	fn()
	close(blockFirst)
	fn = <-e.Completions()
	fn()

	require.Equal(t, []string{"second", "first"}, order)
}

func TestExecutorCloseDoesNotStopSpawnedWork(t *testing.T) {
	e := newConcurrentExecutor()
	e.Close()

	done := make(chan struct{})
	e.Spawn(func() func() {
		defer close(done)
		return func() {}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("spawned future should still run after Close")
	}
}
