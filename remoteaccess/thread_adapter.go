package remoteaccess

import (
	"sync"
	"time"
)

// ThreadAdapter is a Server Execution Adapter that owns a dedicated
// goroutine as its execution context. It is the Go realization of
// ThreadBasedRemoteAccessServer: where the original spawns an OS thread
// with a caller-chosen scheduling policy, priority, and stack size, Go
// offers no portable equivalent of any of those three, so Start takes no
// such parameters (see SPEC_FULL.md §6.1); WithThreadName survives only
// as a label attached to this adapter's log records.
type ThreadAdapter struct {
	*Server

	oomRetryDelay time.Duration
	threadName    string

	startStopMu sync.Mutex // locking order: startStopMu -> internalMu
	internalMu  sync.Mutex
	running     bool

	invokeWorkPending bool
	cond              *sync.Cond

	stopping chan struct{}
	done     chan struct{}
}

// NewThreadAdapter constructs a ThreadAdapter ready to Start. od must not
// be nil.
func NewThreadAdapter(od ObjectAccess, opts ...Option) (*ThreadAdapter, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	srv, err := newServer(od, opts)
	if err != nil {
		return nil, err
	}
	a := &ThreadAdapter{
		Server:        srv,
		oomRetryDelay: time.Duration(cfg.oomRetryDelayMS) * time.Millisecond,
		threadName:    cfg.threadName,
	}
	a.cond = sync.NewCond(&a.internalMu)
	srv.attachHook(a)
	return a, nil
}

// Start spawns the adapter's goroutine, which calls onStart, then serves
// requests until Stop is called, then calls onStop.
func (a *ThreadAdapter) Start() error {
	a.startStopMu.Lock()
	defer a.startStopMu.Unlock()

	if a.running {
		return newLogicError("remoteaccess: ThreadAdapter.Start: already running")
	}

	a.stopping = make(chan struct{})
	a.done = make(chan struct{})
	a.running = true

	go a.threadEntry()
	return nil
}

// Stop cancels the adapter's goroutine and blocks until it has returned
// from onStop. It panics if the adapter is not running, mirroring the
// original's precondition-violation Panic call.
func (a *ThreadAdapter) Stop() {
	a.startStopMu.Lock()
	defer a.startStopMu.Unlock()

	if !a.running {
		panic("remoteaccess: ThreadAdapter.Stop: not running")
	}

	a.internalMu.Lock()
	close(a.stopping)
	a.cond.Signal()
	a.internalMu.Unlock()

	<-a.done
	a.running = false
}

func (a *ThreadAdapter) threadEntry() {
	defer close(a.done)

	a.onStart()
	a.serveRequests()
	a.onStop()
}

// serveRequests waits for work() to be requested (or cancellation), then
// runs it, retrying after oomRetryDelay on ErrOutOfMemory until either it
// succeeds or cancellation is observed.
func (a *ThreadAdapter) serveRequests() {
	for {
		a.internalMu.Lock()
		for !a.invokeWorkPending && !a.cancelPending() {
			a.cond.Wait()
		}
		if a.cancelPending() {
			a.internalMu.Unlock()
			return
		}
		a.invokeWorkPending = false
		a.internalMu.Unlock()

		for {
			err := a.work()
			if err == nil {
				break
			}
			if b := a.logger.Warning(); b.Enabled() {
				b.Str(`thread`, a.threadName).Log("remoteaccess: out of memory during processing request(s), retrying")
			}
			select {
			case <-time.After(a.oomRetryDelay):
			case <-a.stopping:
				a.internalMu.Lock()
				a.invokeWorkPending = true
				a.internalMu.Unlock()
				return
			}
			if a.cancelPending() {
				a.internalMu.Lock()
				a.invokeWorkPending = true
				a.internalMu.Unlock()
				return
			}
		}
	}
}

func (a *ThreadAdapter) cancelPending() bool {
	select {
	case <-a.stopping:
		return true
	default:
		return false
	}
}

// RequestWorkInvocation implements RequestWorkInvocationHook.
func (a *ThreadAdapter) RequestWorkInvocation() {
	a.internalMu.Lock()
	defer a.internalMu.Unlock()
	if !a.invokeWorkPending {
		a.invokeWorkPending = true
		a.cond.Signal()
	}
}
