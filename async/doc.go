// Package async provides a pair of single-threaded task queues: a plain
// FIFO immediate queue and a deferred, time-ordered queue that is a
// superset of the immediate queue.
//
// Both queues execute exactly one task's functor at a time, on whichever
// goroutine calls Run. Tasks are either STATIC (caller-owned, may be
// re-enqueued after it finishes, even from within its own functor) or
// DYNAMIC (queue-owned, destroyed after a single run). Enqueue and
// dequeue never allocate: every task carries its own intrusive link
// fields, so queue depth has no effect on GC pressure.
//
// Callers on other goroutines may freely call PushBack, PushFront,
// Remove, RemoveByOwner, RemoveByOwnerAndTag, AnyQueued,
// WaitUntilCurrentFinished, FlushImmediate (and, on a DeferredQueue,
// PushDeferred) concurrently with Run. Run itself must only ever be
// called by one goroutine at a time.
package async
