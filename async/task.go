package async

import "sync/atomic"

// taskState mirrors, one for one, the six-state lifecycle of a work
// package in the original implementation this package is derived from:
// STATIC_FREE, STATIC_QUEUED, STATIC_RUNNING, STATIC_RUNNING_AND_REQUEUED,
// DYNAMIC_FREE, DYNAMIC_QUEUED.
type taskState uint32

const (
	taskStaticFree taskState = iota
	taskStaticQueued
	taskStaticRunning
	taskStaticRunningRequeued
	taskDynamicFree
	taskDynamicQueued
)

// Task is a one-shot unit of work: a functor plus an owner identity, a
// caller-assigned tag, and the lifecycle state and link fields a queue
// needs to hold it in an intrusive doubly-linked list without ever
// allocating.
//
// A STATIC task (constructed via NewTask) is owned by its creator across
// enqueues; it may be pushed, run, and pushed again indefinitely,
// including pushing itself again from within its own functor. A DYNAMIC
// task (constructed via NewDynamicTask) is owned by whichever queue it is
// pushed into and is discarded (left for the garbage collector) after a
// single run or an explicit removal.
//
// A Task must not be copied after construction.
type Task struct {
	owner   any
	tag     uint32
	fn      func()
	dynamic bool
	state   atomic.Uint32
	next    *Task
	prev    *Task
}

// NewTask creates a STATIC task. fn must not be nil.
func NewTask(owner any, tag uint32, fn func()) (*Task, error) {
	if fn == nil {
		return nil, newInvalidArgument("async: NewTask: fn must not be nil")
	}
	t := &Task{owner: owner, tag: tag, fn: fn}
	t.state.Store(uint32(taskStaticFree))
	return t, nil
}

// NewDynamicTask creates a DYNAMIC task. fn must not be nil. Ownership of
// the returned task passes to whichever queue it is first pushed into.
func NewDynamicTask(owner any, tag uint32, fn func()) (*Task, error) {
	if fn == nil {
		return nil, newInvalidArgument("async: NewDynamicTask: fn must not be nil")
	}
	t := &Task{owner: owner, tag: tag, fn: fn, dynamic: true}
	t.state.Store(uint32(taskDynamicFree))
	return t, nil
}

// Owner returns the task's owner handle, or nil if it is anonymous.
func (t *Task) Owner() any { return t.owner }

// Tag returns the task's owner-assigned tag.
func (t *Task) Tag() uint32 { return t.tag }

// IsDynamic reports whether the task is DYNAMIC (queue-owned, single-run).
func (t *Task) IsDynamic() bool { return t.dynamic }

// Close asserts that a STATIC task is currently free (not queued, not
// running) and releases it for reuse or disposal. It panics if the task
// is linked into a queue or currently executing — destroying a task in
// any other state is, per this package's contract, a fatal programming
// error, and it is never silently ignored. Close must not be called on a
// DYNAMIC task; the queue alone governs its lifetime.
func (t *Task) Close() {
	if t.dynamic {
		panic("async: Close called on a dynamic task")
	}
	if t.loadState() != taskStaticFree {
		panic("async: task destroyed while queued or running")
	}
}

func (t *Task) loadState() taskState { return taskState(t.state.Load()) }

func (t *Task) storeState(s taskState) { t.state.Store(uint32(s)) }

func (t *Task) cas(from, to taskState) bool {
	return t.state.CompareAndSwap(uint32(from), uint32(to))
}

// prepareForLink validates and updates a task's state immediately before
// it is linked into a queue's list. running is the task currently
// executing on that queue, or nil. It never touches list pointers; the
// caller links the task immediately afterward regardless of which branch
// fired, since a self-push during execution must re-enter the list right
// away, not merely flip a flag for later.
func (t *Task) prepareForLink(running *Task) error {
	if t.dynamic {
		if !t.cas(taskDynamicFree, taskDynamicQueued) {
			panic("async: dynamic task is already queued, running, or was pushed without a fresh handle")
		}
		return nil
	}
	if t == running {
		if !t.cas(taskStaticRunning, taskStaticRunningRequeued) {
			return newLogicError("async: task already re-enqueued itself this run")
		}
		return nil
	}
	if !t.cas(taskStaticFree, taskStaticQueued) {
		return newLogicError("async: task is already queued, running, or queued in another queue")
	}
	return nil
}

// beginRun marks a just-dequeued task as executing. The task has already
// been unlinked from the queue's list by the caller.
func (t *Task) beginRun() {
	if t.dynamic {
		return
	}
	if !t.cas(taskStaticQueued, taskStaticRunning) {
		panic("async: impossible task state on dequeue")
	}
}

// release reverts a task's state when it is unlinked from a queue's list
// other than via a normal run-to-completion, e.g. an explicit Remove
// while the task is queued (including a self-requeue that is cancelled
// before it runs again).
func (t *Task) release() {
	switch t.loadState() {
	case taskStaticQueued:
		t.storeState(taskStaticFree)
	case taskStaticRunningRequeued:
		t.storeState(taskStaticRunning)
	case taskDynamicQueued:
		t.storeState(taskDynamicFree)
	default:
		panic("async: impossible task state on removal")
	}
}

// finishAfterRun restores a task's state once its functor has returned.
// It never touches list pointers: a self-push during execution already
// relinked the task (see prepareForLink), so all that remains here is
// bookkeeping the state transition the original implementation performs
// in Finish().
func (t *Task) finishAfterRun() {
	switch t.loadState() {
	case taskStaticRunning:
		t.storeState(taskStaticFree)
	case taskStaticRunningRequeued:
		t.storeState(taskStaticQueued)
	case taskDynamicQueued:
		t.storeState(taskDynamicFree)
	default:
		panic("async: impossible task state after run")
	}
}
