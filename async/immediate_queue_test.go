package async

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runInBackground(t *testing.T, q *ImmediateQueue) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run()
	}()
	return func() {
		q.RequestStop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("ImmediateQueue.Run did not return after RequestStop")
		}
	}
}

func TestImmediateQueue_FIFOOrder(t *testing.T) {
	q := NewImmediateQueue()
	stop := runInBackground(t, q)
	defer stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		i := i
		task, err := NewDynamicTask(nil, 0, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
		require.NoError(t, q.PushBack(task))
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestImmediateQueue_PushFrontJumpsQueue(t *testing.T) {
	q := NewImmediateQueue()

	var mu sync.Mutex
	var order []string

	// Both tasks are enqueued before Run starts, so the order Run
	// executes them in depends only on PushBack vs. PushFront.
	backTask, err := NewDynamicTask(nil, 0, func() {
		mu.Lock()
		order = append(order, "back")
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, q.PushBack(backTask))

	frontTask, err := NewDynamicTask(nil, 0, func() {
		mu.Lock()
		order = append(order, "front")
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, q.PushFront(frontTask))

	stop := runInBackground(t, q)
	require.NoError(t, q.FlushImmediate())
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"front", "back"}, order)
}

func TestImmediateQueue_StaticTaskSelfRequeue(t *testing.T) {
	q := NewImmediateQueue()
	stop := runInBackground(t, q)
	defer stop()

	var count atomic.Int32
	var task *Task
	var err error
	task, err = NewTask(nil, 0, func() {
		if count.Add(1) < 3 {
			require.NoError(t, q.PushBack(task))
		}
	})
	require.NoError(t, err)
	require.NoError(t, q.PushBack(task))

	require.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, time.Millisecond)
	require.NoError(t, q.FlushImmediate())
	task.Close()
}

func TestImmediateQueue_RemoveByOwner(t *testing.T) {
	q := NewImmediateQueue()

	type owner struct{}
	o := &owner{}

	var ran atomic.Bool
	gate := make(chan struct{})
	blockerTask, err := NewDynamicTask(nil, 0, func() { <-gate })
	require.NoError(t, err)
	require.NoError(t, q.PushBack(blockerTask))

	task, err := NewTask(o, 1, func() { ran.Store(true) })
	require.NoError(t, err)
	require.NoError(t, q.PushBack(task))

	assert.True(t, q.AnyQueued(o))
	q.RemoveByOwner(o)
	assert.False(t, q.AnyQueued(o))

	stop := runInBackground(t, q)
	close(gate)
	stop()

	assert.False(t, ran.Load())
	task.Close()
}

func TestImmediateQueue_RemoveByOwnerAndTag(t *testing.T) {
	q := NewImmediateQueue()

	type owner struct{}
	o := &owner{}

	gate := make(chan struct{})
	blockerTask, err := NewDynamicTask(nil, 0, func() { <-gate })
	require.NoError(t, err)
	require.NoError(t, q.PushBack(blockerTask))

	taskA, err := NewTask(o, 1, func() {})
	require.NoError(t, err)
	taskB, err := NewTask(o, 2, func() {})
	require.NoError(t, err)
	require.NoError(t, q.PushBack(taskA))
	require.NoError(t, q.PushBack(taskB))

	q.RemoveByOwnerAndTag(o, 1)
	assert.True(t, q.AnyQueued(o))

	q.RemoveByOwnerAndTag(o, 2)
	assert.False(t, q.AnyQueued(o))

	close(gate)
	taskA.Close()
	taskB.Close()
}

func TestImmediateQueue_WaitUntilCurrentFinished(t *testing.T) {
	q := NewImmediateQueue()
	stop := runInBackground(t, q)
	defer stop()

	type owner struct{}
	o := &owner{}

	release := make(chan struct{})
	entered := make(chan struct{})
	task, err := NewTask(o, 0, func() {
		close(entered)
		<-release
	})
	require.NoError(t, err)
	require.NoError(t, q.PushBack(task))

	<-entered

	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		require.NoError(t, q.WaitUntilCurrentFinished(o))
	}()

	select {
	case <-waitDone:
		t.Fatal("WaitUntilCurrentFinished returned before the task finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitUntilCurrentFinished did not return after the task finished")
	}

	task.Close()
}

func TestImmediateQueue_WaitUntilCurrentFinished_NilOwner(t *testing.T) {
	q := NewImmediateQueue()
	require.Error(t, q.WaitUntilCurrentFinished(nil))
}

func TestImmediateQueue_RemoveStaticTask(t *testing.T) {
	q := NewImmediateQueue()

	gate := make(chan struct{})
	blockerTask, err := NewDynamicTask(nil, 0, func() { <-gate })
	require.NoError(t, err)
	require.NoError(t, q.PushBack(blockerTask))

	var ran atomic.Bool
	task, err := NewTask(nil, 0, func() { ran.Store(true) })
	require.NoError(t, err)
	require.NoError(t, q.PushBack(task))
	require.NoError(t, q.Remove(task))

	stop := runInBackground(t, q)
	close(gate)
	stop()

	assert.False(t, ran.Load())
	assert.NotPanics(t, func() { task.Close() })
}

func TestImmediateQueue_PanicPropagatesOutOfRun(t *testing.T) {
	q := NewImmediateQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			recover()
		}()
		q.Run()
	}()

	panicTask, err := NewDynamicTask(nil, 0, func() { panic("boom") })
	require.NoError(t, err)
	require.NoError(t, q.PushBack(panicTask))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the task panicked")
	}
}
