package remoteaccess

import (
	"sync"
	"time"

	"github.com/joeycumines/go-asyncexec/async"
)

type queueAdapterState uint8

const (
	qaOff queueAdapterState = iota
	qaStarting
	qaOn
	qaInvocationRequested
	qaRetryInvocation
	qaStopping
)

// QueueAdapter is a Server Execution Adapter that posts reusable tasks
// into a caller-supplied *async.DeferredQueue instead of owning its own
// thread. It is the Go realization of WorkQueueBasedRemoteAccessServer:
// one STATIC immediate task (wp) drives normal invocation, and one
// STATIC deferred task (dwp) is reused purely for the ErrOutOfMemory
// retry-after-delay backoff, exactly mirroring the original's two-task
// scheme.
type QueueAdapter struct {
	*Server

	dwq           *async.DeferredQueue
	oomRetryDelay time.Duration

	internalMu sync.Mutex
	state      queueAdapterState

	wp  *async.Task
	dwp *async.DeferredTask
}

// NewQueueAdapter constructs a QueueAdapter that will drive work through
// dwq. dwq must already be running (or about to be run) on some
// goroutine; the adapter never calls dwq.Run itself.
func NewQueueAdapter(dwq *async.DeferredQueue, od ObjectAccess, opts ...Option) (*QueueAdapter, error) {
	if dwq == nil {
		return nil, newInvalidArgument("remoteaccess: NewQueueAdapter: dwq must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	srv, err := newServer(od, opts)
	if err != nil {
		return nil, err
	}

	a := &QueueAdapter{
		Server:        srv,
		dwq:           dwq,
		oomRetryDelay: time.Duration(cfg.oomRetryDelayMS) * time.Millisecond,
	}

	wp, err := async.NewTask(a, 0, a.wqEntry)
	if err != nil {
		return nil, err
	}
	dwp, err := async.NewDeferredTask(a, 0, a.wqEntry, time.Time{})
	if err != nil {
		return nil, err
	}
	a.wp = wp
	a.dwp = dwp

	srv.attachHook(a)
	return a, nil
}

// Start posts the initial invocation of wqEntry, which will call onStart
// and transition the adapter to the On state.
func (a *QueueAdapter) Start() error {
	a.internalMu.Lock()
	defer a.internalMu.Unlock()

	if a.state != qaOff {
		return newLogicError("remoteaccess: QueueAdapter.Start: already running")
	}
	if err := a.dwq.PushBack(a.wp); err != nil {
		return err
	}
	a.state = qaStarting
	return nil
}

// Stop arranges for a final invocation of wqEntry that will call onStop,
// then blocks until every immediate task posted before this call
// (including that final invocation) has drained, and asserts the
// adapter ended up in the Off state.
func (a *QueueAdapter) Stop() error {
	a.internalMu.Lock()
	switch a.state {
	case qaOff:
		a.internalMu.Unlock()
		return newLogicError("remoteaccess: QueueAdapter.Stop: not running")
	case qaStarting:
		a.state = qaOff
	case qaOn:
		a.state = qaStopping
		if err := a.dwq.PushBack(a.wp); err != nil {
			a.internalMu.Unlock()
			return err
		}
	case qaInvocationRequested:
		a.state = qaStopping
		// wp is already queued; wqEntry will observe Stopping when it runs.
	case qaRetryInvocation:
		a.state = qaStopping
		if err := a.dwq.RemoveDeferred(a.dwp); err != nil {
			a.internalMu.Unlock()
			return err
		}
		if err := a.dwq.PushBack(a.wp); err != nil {
			a.internalMu.Unlock()
			return err
		}
	case qaStopping:
		a.internalMu.Unlock()
		return newLogicError("remoteaccess: QueueAdapter.Stop: stop already in progress")
	}
	a.internalMu.Unlock()

	if err := a.dwq.FlushImmediate(); err != nil {
		return err
	}

	a.internalMu.Lock()
	final := a.state
	a.internalMu.Unlock()
	if final != qaOff {
		panic("remoteaccess: QueueAdapter.Stop: adapter did not reach Off")
	}
	return nil
}

// wqEntry is wp's (and dwp's) functor: it is invoked by the deferred
// queue's own goroutine, never directly by a caller of this package.
func (a *QueueAdapter) wqEntry() {
	a.internalMu.Lock()
	prevState := a.state
	switch a.state {
	case qaOff:
		// A stray invocation after Stop already completed; ignore.
	case qaStarting:
		a.state = qaOn
	case qaOn:
		a.internalMu.Unlock()
		panic("remoteaccess: QueueAdapter.wqEntry: unexpected call in On state")
	case qaInvocationRequested, qaRetryInvocation:
		a.state = qaOn
	case qaStopping:
		a.state = qaOff
	}
	a.internalMu.Unlock()

	switch prevState {
	case qaStarting:
		a.onStart()
	case qaInvocationRequested, qaRetryInvocation:
		a.serveRequest()
	case qaStopping:
		a.onStop()
	default:
		// Off: ignore.
	}
}

// serveRequest runs work() once; on ErrOutOfMemory it re-arms dwp after
// oomRetryDelay instead of propagating, unless a stop is already
// in-flight.
func (a *QueueAdapter) serveRequest() {
	err := a.work()
	if err == nil {
		return
	}

	a.internalMu.Lock()
	defer a.internalMu.Unlock()

	if a.state == qaStopping {
		return
	}
	if a.state != qaOn {
		panic("remoteaccess: QueueAdapter.serveRequest: impossible state after work")
	}

	if b := a.logger.Warning(); b.Enabled() {
		b.Log("remoteaccess: out of memory during processing request(s), will retry")
	}

	if setErr := a.dwp.SetExpiry(time.Now().Add(a.oomRetryDelay)); setErr != nil {
		panic(setErr)
	}
	if pushErr := a.dwq.PushDeferred(a.dwp); pushErr != nil {
		panic(pushErr)
	}
	a.state = qaRetryInvocation
}

// RequestWorkInvocation implements RequestWorkInvocationHook. It
// coalesces: if an invocation is already queued (InvocationRequested) or
// the adapter is not On, the call is a no-op.
func (a *QueueAdapter) RequestWorkInvocation() {
	a.internalMu.Lock()
	defer a.internalMu.Unlock()
	if a.state != qaOn {
		return
	}
	if err := a.dwq.PushBack(a.wp); err != nil {
		panic(err)
	}
	a.state = qaInvocationRequested
}
