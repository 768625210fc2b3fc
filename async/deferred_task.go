package async

import "time"

// DeferredTask is a Task with an associated expiry: the time point at
// which a DeferredQueue's Run loop will run it, absent an earlier
// immediate task to run instead. It participates in its own sorted list,
// separate from the list a plain Task uses for the immediate queue, so a
// DeferredTask carries a second pair of intrusive link fields.
type DeferredTask struct {
	*Task
	expiry time.Time
	dnext  *DeferredTask
	dprev  *DeferredTask
}

// NewDeferredTask creates a STATIC deferred task due to run at expiry.
func NewDeferredTask(owner any, tag uint32, fn func(), expiry time.Time) (*DeferredTask, error) {
	t, err := NewTask(owner, tag, fn)
	if err != nil {
		return nil, err
	}
	return &DeferredTask{Task: t, expiry: expiry}, nil
}

// NewDeferredTaskAfter creates a STATIC deferred task due to run delay
// from now.
func NewDeferredTaskAfter(owner any, tag uint32, fn func(), delay time.Duration) (*DeferredTask, error) {
	return NewDeferredTask(owner, tag, fn, time.Now().Add(delay))
}

// NewDynamicDeferredTask creates a DYNAMIC deferred task due to run at
// expiry.
func NewDynamicDeferredTask(owner any, tag uint32, fn func(), expiry time.Time) (*DeferredTask, error) {
	t, err := NewDynamicTask(owner, tag, fn)
	if err != nil {
		return nil, err
	}
	return &DeferredTask{Task: t, expiry: expiry}, nil
}

// NewDynamicDeferredTaskAfter creates a DYNAMIC deferred task due to run
// delay from now.
func NewDynamicDeferredTaskAfter(owner any, tag uint32, fn func(), delay time.Duration) (*DeferredTask, error) {
	return NewDynamicDeferredTask(owner, tag, fn, time.Now().Add(delay))
}

// Expiry returns the time point the task is currently scheduled to run
// at.
func (dt *DeferredTask) Expiry() time.Time { return dt.expiry }

// SetExpiry reassigns the task's expiry. This is only legal while the
// task is not linked into a deferred queue's sorted list, i.e. while it
// is STATIC_FREE or STATIC_RUNNING (a task may reschedule itself from
// within its own functor, then PushDeferred itself again with the new
// expiry already in place).
func (dt *DeferredTask) SetExpiry(expiry time.Time) error {
	switch dt.loadState() {
	case taskStaticFree, taskStaticRunning:
		dt.expiry = expiry
		return nil
	default:
		return newLogicError("async: cannot change expiry of a queued deferred task")
	}
}
