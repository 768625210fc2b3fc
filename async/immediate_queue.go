package async

import (
	"sync"

	"github.com/joeycumines/logiface"
)

// queueCore holds the state and locking shared by ImmediateQueue and
// DeferredQueue: the plain FIFO list of immediate tasks, the
// currently-running task, and the flush barrier. DeferredQueue embeds
// this and adds its own sorted deferred list alongside it.
type queueCore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	flushMu sync.Mutex

	head, tail *Task
	current    *Task
	stopping   bool

	logger *logiface.Logger[logiface.Event]
}

// newQueueCore builds the core state but deliberately leaves cond nil:
// sync.Cond binds to the address of the mutex it is given, and this
// value is always copied at least once more (into the embedding
// ImmediateQueue/DeferredQueue's composite literal) before it comes to
// rest. The caller must call initCond once the core is at its final,
// permanent address.
func newQueueCore(opts []QueueOption) queueCore {
	cfg := resolveQueueOptions(opts)
	return queueCore{logger: cfg.logger}
}

// initCond binds cond to this queueCore's own mu. Must be called exactly
// once, after the queueCore has reached the address it will occupy for
// the rest of its lifetime (i.e. from within the exported New* function,
// on the final heap-allocated struct — never on a queueCore that is
// still a local value about to be copied).
func (c *queueCore) initCond() {
	c.cond = sync.NewCond(&c.mu)
}

func (c *queueCore) linkLocked(t *Task, front bool) {
	if front {
		t.prev = nil
		t.next = c.head
		if c.head != nil {
			c.head.prev = t
		} else {
			c.tail = t
		}
		c.head = t
	} else {
		t.next = nil
		t.prev = c.tail
		if c.tail != nil {
			c.tail.next = t
		} else {
			c.head = t
		}
		c.tail = t
	}
}

func (c *queueCore) unlinkLocked(t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		c.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		c.tail = t.prev
	}
	t.next, t.prev = nil, nil
}

// pushLocked validates and links t, per push or push-to-front semantics.
// It reports whether the list was empty beforehand, which callers use to
// decide whether Run needs waking.
func (c *queueCore) pushLocked(t *Task, front bool) (wasEmpty bool, err error) {
	if err := t.prepareForLink(c.current); err != nil {
		return false, err
	}
	wasEmpty = c.head == nil
	c.linkLocked(t, front)
	return wasEmpty, nil
}

func (c *queueCore) removeLocked(t *Task) {
	if t == c.current && t.loadState() != taskStaticRunningRequeued {
		// Currently running and not self-requeued: nothing is linked.
		return
	}
	for n := c.head; n != nil; n = n.next {
		if n == t {
			c.unlinkLocked(n)
			n.release()
			return
		}
	}
}

func (c *queueCore) removeByOwnerLocked(owner any, matchTag bool, tag uint32) {
	n := c.head
	for n != nil {
		next := n.next
		if n.owner == owner && (!matchTag || n.tag == tag) {
			c.unlinkLocked(n)
			n.release()
		}
		n = next
	}
}

func (c *queueCore) anyQueuedLocked(owner any) bool {
	for n := c.head; n != nil; n = n.next {
		if n.owner == owner {
			return true
		}
	}
	return false
}

func (c *queueCore) waitUntilCurrentFinishedLocked(owner any) {
	for c.current != nil && c.current.Owner() == owner {
		c.cond.Wait()
	}
}

// ImmediateQueue is a single-threaded, FIFO task queue. Exactly one task's
// functor runs at a time, on whichever goroutine is inside Run.
type ImmediateQueue struct {
	queueCore
}

// NewImmediateQueue creates an ImmediateQueue ready for use. Call Run on
// exactly one goroutine to start executing tasks.
func NewImmediateQueue(opts ...QueueOption) *ImmediateQueue {
	q := &ImmediateQueue{queueCore: newQueueCore(opts)}
	q.initCond()
	return q
}

// PushBack enqueues t at the tail of the queue. If t is the task
// currently executing (called from within its own functor), it is
// re-enqueued to run again once the current invocation returns.
func (q *queueCore) PushBack(t *Task) error {
	return q.push(t, false)
}

// PushFront enqueues t at the head of the queue, ahead of everything
// else already waiting.
func (q *queueCore) PushFront(t *Task) error {
	return q.push(t, true)
}

func (q *queueCore) push(t *Task, front bool) error {
	if t == nil {
		return newInvalidArgument("async: task must not be nil")
	}
	q.mu.Lock()
	wasEmpty, err := q.pushLocked(t, front)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	if wasEmpty {
		q.cond.Signal()
	}
	return nil
}

// Remove unlinks t from the queue, if it is currently queued. It is a
// no-op if t is not queued, and if t is the task currently executing (and
// has not re-enqueued itself). t must be a STATIC task.
func (q *queueCore) Remove(t *Task) error {
	if t == nil {
		return newInvalidArgument("async: task must not be nil")
	}
	if t.IsDynamic() {
		return newInvalidArgument("async: Remove: task is dynamic")
	}
	q.mu.Lock()
	q.removeLocked(t)
	q.mu.Unlock()
	return nil
}

// RemoveByOwner unlinks every queued task owned by owner. The currently
// executing task, if any, is never affected.
func (q *queueCore) RemoveByOwner(owner any) {
	q.mu.Lock()
	q.removeByOwnerLocked(owner, false, 0)
	q.mu.Unlock()
}

// RemoveByOwnerAndTag unlinks every queued task owned by owner whose tag
// equals tag. The currently executing task, if any, is never affected.
func (q *queueCore) RemoveByOwnerAndTag(owner any, tag uint32) {
	q.mu.Lock()
	q.removeByOwnerLocked(owner, true, tag)
	q.mu.Unlock()
}

// AnyQueued reports whether any task owned by owner is currently linked
// into the queue. It does not consider the currently executing task.
func (q *queueCore) AnyQueued(owner any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.anyQueuedLocked(owner)
}

// WaitUntilCurrentFinished blocks until no task owned by owner is
// currently executing. owner must not be nil. It returns immediately if
// no task owned by owner is running when called.
func (q *queueCore) WaitUntilCurrentFinished(owner any) error {
	if owner == nil {
		return newInvalidArgument("async: WaitUntilCurrentFinished: owner must not be nil")
	}
	q.mu.Lock()
	q.waitUntilCurrentFinishedLocked(owner)
	q.mu.Unlock()
	return nil
}

// FlushImmediate blocks until every task enqueued into the immediate list
// before this call has finished executing. Tasks enqueued concurrently
// with, or after, the call to FlushImmediate are not waited for, and
// neither are tasks in a DeferredQueue's deferred list.
func (q *queueCore) FlushImmediate() error {
	done := make(chan struct{})
	t, err := NewDynamicTask(q, 0, func() { close(done) })
	if err != nil {
		return err
	}
	if err := q.PushBack(t); err != nil {
		return err
	}
	<-done
	// The functor has signalled done, but Run still holds flushMu until it
	// has fully returned from the functor call; acquiring and releasing it
	// here is a barrier against that narrow window.
	q.flushMu.Lock()
	q.flushMu.Unlock()
	return nil
}

// RequestStop asks Run to return once it next becomes idle (immediately,
// if the queue is currently empty, or after the currently executing task
// finishes). The request is latched: if Run is not currently executing,
// the next call to Run consumes it and returns without running a task.
func (q *queueCore) RequestStop() {
	q.mu.Lock()
	q.stopping = true
	q.cond.Signal()
	q.mu.Unlock()
}

// Run executes tasks, one at a time, until RequestStop is called. There
// must never be more than one goroutine inside Run at the same time.
//
// A pending stop request is consumed as soon as Run observes it: if no
// task is executing, Run returns immediately; otherwise it returns once
// the currently executing task has finished. Tasks still queued at that
// point, including a task that re-enqueued itself, stay queued and are
// not run.
func (q *ImmediateQueue) Run() {
	q.mu.Lock()
	for {
		if q.current != nil && q.head == nil {
			q.current = nil
			q.cond.Broadcast()
		}

		for q.head == nil && !q.stopping {
			q.cond.Wait()
		}

		if q.stopping {
			if q.current != nil {
				q.current = nil
				q.cond.Broadcast()
			}
			q.stopping = false
			q.mu.Unlock()
			return
		}

		t := q.head
		q.unlinkLocked(t)
		t.beginRun()
		q.current = t
		q.cond.Broadcast()

		q.mu.Unlock()
		q.runTask(t) // always returns (or panics) with q.mu unlocked
		q.mu.Lock()
	}
}

// runTask invokes t's functor with the queue mutex released, holding
// flushMu for the duration so FlushImmediate can fence on it. Cleanup
// (state restoration, clearing the current task) always runs via defer,
// even if the functor panics; the panic is then logged and re-raised, so
// it still propagates out of Run, the way the original lets an exception
// propagate out of its work loop.
func (q *queueCore) runTask(t *Task) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()
	defer func() {
		q.mu.Lock()
		t.finishAfterRun()
		q.current = nil
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			if b := q.logger.Err(); b.Enabled() {
				b.Any("panic", r).Log("async: task panicked")
			}
			panic(r)
		}
	}()
	t.fn()
}
