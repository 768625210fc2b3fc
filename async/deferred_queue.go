package async

import "time"

// DeferredQueue is a superset of ImmediateQueue: in addition to the plain
// FIFO list, it maintains a second list of DeferredTask values sorted by
// expiry. Run executes whichever is due first; a deferred task that has
// already expired takes priority over any immediate task waiting
// alongside it, but the check is only made once per iteration of the run
// loop, not continuously, so an immediate task pushed while Run is
// already waiting on a not-yet-due deferred task is not pre-empted by
// that deferred task becoming due in the same instant — it simply runs
// next, same as the implementation this package is derived from.
type DeferredQueue struct {
	queueCore
	dhead, dtail *DeferredTask
}

// NewDeferredQueue creates a DeferredQueue ready for use. Call Run on
// exactly one goroutine to start executing tasks.
func NewDeferredQueue(opts ...QueueOption) *DeferredQueue {
	q := &DeferredQueue{queueCore: newQueueCore(opts)}
	q.initCond()
	return q
}

func (q *DeferredQueue) dLinkLocked(dt *DeferredTask) {
	if q.dtail == nil {
		dt.dnext, dt.dprev = nil, nil
		q.dhead, q.dtail = dt, dt
		return
	}
	n := q.dtail
	for n != nil && n.expiry.After(dt.expiry) {
		n = n.dprev
	}
	switch {
	case n == nil:
		dt.dprev = nil
		dt.dnext = q.dhead
		q.dhead.dprev = dt
		q.dhead = dt
	case n == q.dtail:
		dt.dnext = nil
		dt.dprev = q.dtail
		q.dtail.dnext = dt
		q.dtail = dt
	default:
		dt.dnext = n.dnext
		dt.dprev = n
		dt.dnext.dprev = dt
		n.dnext = dt
	}
}

// dUnlinkLocked removes dt from the deferred list and reports whether dt
// was the list head (in which case Run's wait deadline may need to be
// recomputed).
func (q *DeferredQueue) dUnlinkLocked(dt *DeferredTask) (wasHead bool) {
	if dt.dprev != nil {
		dt.dprev.dnext = dt.dnext
	} else {
		q.dhead = dt.dnext
		wasHead = true
	}
	if dt.dnext != nil {
		dt.dnext.dprev = dt.dprev
	} else {
		q.dtail = dt.dprev
	}
	dt.dnext, dt.dprev = nil, nil
	return wasHead
}

// PushDeferred enqueues dt into the sorted deferred list, per its expiry.
func (q *DeferredQueue) PushDeferred(dt *DeferredTask) error {
	if dt == nil {
		return newInvalidArgument("async: deferred task must not be nil")
	}
	q.mu.Lock()
	if err := dt.prepareForLink(q.current); err != nil {
		q.mu.Unlock()
		return err
	}
	q.dLinkLocked(dt)
	needSignal := q.dhead == dt
	q.mu.Unlock()
	if needSignal {
		q.cond.Signal()
	}
	return nil
}

// RemoveDeferred unlinks dt from the deferred list, if it is currently
// queued there. It is a no-op if dt is not queued, and if dt is the task
// currently executing (and has not re-enqueued itself). dt must be a
// STATIC deferred task.
func (q *DeferredQueue) RemoveDeferred(dt *DeferredTask) error {
	if dt == nil {
		return newInvalidArgument("async: deferred task must not be nil")
	}
	if dt.IsDynamic() {
		return newInvalidArgument("async: RemoveDeferred: task is dynamic")
	}
	q.mu.Lock()
	if dt.Task == q.current && dt.loadState() != taskStaticRunningRequeued {
		q.mu.Unlock()
		return nil
	}
	var signal bool
	for n := q.dhead; n != nil; n = n.dnext {
		if n == dt {
			wasHead := q.dUnlinkLocked(n)
			n.release()
			signal = wasHead && q.dhead != nil
			break
		}
	}
	q.mu.Unlock()
	if signal {
		q.cond.Signal()
	}
	return nil
}

// RemoveByOwner unlinks every queued task owned by owner, in both the
// immediate and the deferred list. The currently executing task, if any,
// is never affected.
func (q *DeferredQueue) RemoveByOwner(owner any) {
	q.mu.Lock()
	q.removeByOwnerLocked(owner, false, 0)
	q.removeByOwnerDeferredLocked(owner, false, 0)
	q.mu.Unlock()
}

// RemoveByOwnerAndTag unlinks every queued task owned by owner whose tag
// equals tag, in both the immediate and the deferred list. The currently
// executing task, if any, is never affected.
func (q *DeferredQueue) RemoveByOwnerAndTag(owner any, tag uint32) {
	q.mu.Lock()
	q.removeByOwnerLocked(owner, true, tag)
	q.removeByOwnerDeferredLocked(owner, true, tag)
	q.mu.Unlock()
}

func (q *DeferredQueue) removeByOwnerDeferredLocked(owner any, matchTag bool, tag uint32) {
	var headChanged bool
	n := q.dhead
	for n != nil {
		next := n.dnext
		if n.owner == owner && (!matchTag || n.tag == tag) {
			if q.dUnlinkLocked(n) {
				headChanged = true
			}
			n.release()
		}
		n = next
	}
	if headChanged && q.dhead != nil {
		q.cond.Signal()
	}
}

// AnyQueued reports whether any task owned by owner is currently linked
// into either the immediate or the deferred list. It does not consider
// the currently executing task.
func (q *DeferredQueue) AnyQueued(owner any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.anyQueuedLocked(owner) {
		return true
	}
	for n := q.dhead; n != nil; n = n.dnext {
		if n.owner == owner {
			return true
		}
	}
	return false
}

// waitLocked blocks on q.cond until woken, or, if hasDeadline, until
// deadline passes. q.mu must be held; it is released and reacquired
// around the wait, same as cond.Wait.
func (q *DeferredQueue) waitLocked(deadline time.Time, hasDeadline bool) {
	if !hasDeadline {
		q.cond.Wait()
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	q.cond.Wait()
	timer.Stop()
}

// Run executes tasks, one at a time, until RequestStop is called. There
// must never be more than one goroutine inside Run at the same time.
// Deferred tasks run once their expiry has passed; an immediate task
// waiting alongside a not-yet-due deferred task runs first, but a
// deferred task that is already due when a fresh iteration of the loop
// begins pre-empts any immediate task waiting alongside it.
func (q *DeferredQueue) Run() {
	q.mu.Lock()
	for {
		var runDeferred bool

		if q.dhead == nil {
			if q.current != nil && q.head == nil {
				q.current = nil
				q.cond.Broadcast()
			}
			for q.head == nil && q.dhead == nil && !q.stopping {
				q.waitLocked(time.Time{}, false)
			}
		} else {
			if q.head != nil && !q.dhead.expiry.After(time.Now()) {
				runDeferred = true
			}
			if q.current != nil && q.head == nil && !runDeferred {
				q.current = nil
				q.cond.Broadcast()
			}
			for !runDeferred && q.head == nil && q.dhead != nil && !q.stopping {
				q.waitLocked(q.dhead.expiry, true)
				if q.dhead != nil && !q.dhead.expiry.After(time.Now()) {
					runDeferred = true
				}
			}
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

		var t *Task
		switch {
		case runDeferred && q.dhead != nil:
			dt := q.dhead
			q.dUnlinkLocked(dt)
			t = dt.Task
		case q.head != nil:
			t = q.head
			q.unlinkLocked(t)
		default:
			// Woken to set up a new deadline, or the only deferred task was
			// removed while we waited; re-evaluate from the top.
			continue
		}

		t.beginRun()
		q.current = t
		q.cond.Broadcast()

		q.mu.Unlock()
		q.runTask(t) // always returns (or panics) with q.mu unlocked
		q.mu.Lock()
	}
}
