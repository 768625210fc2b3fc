package remoteaccess

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

type serverState uint8

const (
	stateUnregOff serverState = iota
	stateUnregOn
	stateRegOff
	stateRegJustRegistered
	stateRegIdle
	stateRegBusy
)

func (s serverState) registered() bool {
	return s == stateRegOff || s == stateRegJustRegistered || s == stateRegIdle || s == stateRegBusy
}

func (s serverState) on() bool {
	return s == stateUnregOn || s == stateRegJustRegistered || s == stateRegIdle || s == stateRegBusy
}

// Notifiable is the client-side callback interface a Server calls into.
// No method is ever invoked while any Server-owned mutex is held.
type Notifiable interface {
	// OnReady is delivered exactly once per registration, the first
	// time the server's execution context runs after both "registered"
	// and "on" become true, before any OnRequestProcessed.
	OnReady(maxRequestSize, maxResponseSize int)
	// OnDisconnected is delivered when the server stops while this
	// client is registered: every queued or in-flight request is
	// dropped without a response first. It is the last notification
	// this registration ever receives.
	OnDisconnected()
	// OnRequestProcessed delivers the response to a request previously
	// submitted via Server.Send.
	OnRequestProcessed(resp *Response)
	// LoanExecutionContext answers a RequestExecutionContext call: the
	// client is expected to arrange for the server's execution context
	// to run again soon (typically by nudging whatever external trigger
	// its adapter depends on).
	LoanExecutionContext()
}

// RequestWorkInvocationHook is supplied by a Server Execution Adapter at
// construction. RequestWorkInvocation arranges for Server.work to run
// soon, on whatever execution context the adapter provides. It may be
// called from any goroutine, including reentrantly from inside work
// itself, must never block beyond acquiring its own adapter-local lock,
// and is never called from onStop. It must be idempotent: if an
// invocation is already pending, further calls before it fires are
// no-ops, though a spurious extra call after the fact must also be
// tolerated silently.
type RequestWorkInvocationHook interface {
	RequestWorkInvocation()
}

// Server serializes requests from a single registered client against an
// ObjectAccess. It is the core shared by ThreadAdapter and QueueAdapter:
// each embeds a *Server and supplies itself as its RequestWorkInvocationHook,
// then drives onStart/work/onStop from whatever execution context it
// provides.
type Server struct {
	od              ObjectAccess
	logger          *logiface.Logger[logiface.Event]
	maxRequestSize  int
	maxResponseSize int
	hook            RequestWorkInvocationHook

	// Locking order: clientMu -> apiMu. Never the reverse.
	clientMu sync.Mutex
	apiMu    sync.Mutex

	unregisterPending atomic.Bool

	state         serverState // apiMu
	client        Notifiable  // apiMu
	head, tail    *Request    // apiMu
	loanRequested bool        // apiMu
}

func newServer(od ObjectAccess, opts []Option) (*Server, error) {
	if od == nil {
		return nil, newInvalidArgument("remoteaccess: od must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Server{
		od:              od,
		logger:          cfg.logger,
		maxRequestSize:  cfg.maxRequestSize,
		maxResponseSize: cfg.maxResponseSize,
	}, nil
}

// attachHook binds the adapter driving this Server. Called exactly once,
// by the adapter constructor, before the Server is reachable by anything
// else.
func (s *Server) attachHook(h RequestWorkInvocationHook) {
	if s.hook != nil {
		panic("remoteaccess: Server already has a RequestWorkInvocationHook attached")
	}
	s.hook = h
}

// Register binds client to this Server. It does not itself invoke any
// Notifiable method; OnReady follows once the server's execution context
// next runs work, which Register arranges for if the server is already
// on.
func (s *Server) Register(client Notifiable) error {
	if client == nil {
		return newInvalidArgument("remoteaccess: Register: client must not be nil")
	}

	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	s.apiMu.Lock()
	if s.client != nil {
		s.apiMu.Unlock()
		return newLogicError("remoteaccess: Register: a client is already registered")
	}
	s.client = client
	var pokeHook bool
	switch s.state {
	case stateUnregOff:
		s.state = stateRegOff
	case stateUnregOn:
		s.state = stateRegJustRegistered
		pokeHook = true
	default:
		s.apiMu.Unlock()
		panic("remoteaccess: Register: impossible server state")
	}
	s.apiMu.Unlock()

	if pokeHook {
		s.hook.RequestWorkInvocation()
	}
	return nil
}

// Unregister unbinds the current client, if any, dropping every queued
// and in-flight request without a response. It must not be called from
// within a Notifiable callback.
func (s *Server) Unregister() {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if s.client == nil {
		return
	}

	s.unregisterPending.Store(true)

	s.apiMu.Lock()
	switch s.state {
	case stateRegOff:
		s.state = stateUnregOff
	case stateRegJustRegistered, stateRegIdle, stateRegBusy:
		s.state = stateUnregOn
	default:
		s.apiMu.Unlock()
		s.unregisterPending.Store(false)
		panic("remoteaccess: Unregister: impossible server state")
	}
	s.client = nil
	s.head, s.tail = nil, nil
	s.loanRequested = false
	s.apiMu.Unlock()

	s.unregisterPending.Store(false)
}

// Send submits req for processing. It is rejected, synchronously, if no
// client is registered, if req is nil, or if req fails validation
// (malformed range, wrong-kind payload). Send does not measure a
// request's size against max_request_size; a Write whose data is longer
// than max_request_size is answered with an error response when it is
// processed. Otherwise it is queued, and, if the server is currently
// idle, request_work_invocation is poked exactly once.
func (s *Server) Send(req *Request) error {
	if req == nil {
		return newInvalidArgument("remoteaccess: Send: request must not be nil")
	}
	if err := req.validate(); err != nil {
		return err
	}

	s.apiMu.Lock()
	if !s.state.registered() {
		s.apiMu.Unlock()
		return &NotRegisteredError{}
	}
	req.next, req.prev = nil, nil
	if s.tail == nil {
		s.head, s.tail = req, req
	} else {
		req.prev = s.tail
		s.tail.next = req
		s.tail = req
	}
	pokeHook := s.state == stateRegIdle
	if pokeHook {
		s.state = stateRegBusy
	}
	s.apiMu.Unlock()

	if pokeHook {
		s.hook.RequestWorkInvocation()
	}
	return nil
}

// RequestExecutionContext sets a one-shot flag that work observes on its
// next run, resulting in exactly one LoanExecutionContext callback.
// Multiple calls before that callback fires coalesce into one.
func (s *Server) RequestExecutionContext() error {
	s.apiMu.Lock()
	if !s.state.registered() {
		s.apiMu.Unlock()
		return &NotRegisteredError{}
	}
	alreadyPending := s.loanRequested
	s.loanRequested = true
	pokeHook := !alreadyPending && s.state == stateRegIdle
	if pokeHook {
		s.state = stateRegBusy
	}
	s.apiMu.Unlock()

	if pokeHook {
		s.hook.RequestWorkInvocation()
	}
	return nil
}

// onStart transitions the server from off to on. It is the adapter's
// responsibility to call this exactly once per off-to-on transition,
// before the first call to work.
func (s *Server) onStart() {
	s.apiMu.Lock()
	var pokeHook bool
	switch s.state {
	case stateUnregOff:
		s.state = stateUnregOn
	case stateRegOff:
		s.state = stateRegJustRegistered
		pokeHook = true
	default:
		s.apiMu.Unlock()
		panic("remoteaccess: onStart: impossible server state")
	}
	s.apiMu.Unlock()

	if pokeHook {
		s.hook.RequestWorkInvocation()
	}
}

// onStop transitions the server from on to off, dropping every queued
// request and notifying the registered client, if any, via
// OnDisconnected (invoked with no Server mutex held). It is the
// adapter's responsibility to call this exactly once per on-to-off
// transition, after the last call to work has returned.
func (s *Server) onStop() {
	s.apiMu.Lock()
	if !s.state.on() {
		s.apiMu.Unlock()
		panic("remoteaccess: onStop: impossible server state")
	}

	wasRegistered := s.state.registered()
	if wasRegistered {
		s.state = stateRegOff
	} else {
		s.state = stateUnregOff
	}

	var client Notifiable
	if wasRegistered {
		client = s.client
	}
	s.head, s.tail = nil, nil
	s.loanRequested = false
	s.apiMu.Unlock()

	if client != nil {
		client.OnDisconnected()
	}
}

// work drains the request queue, delivering exactly one OnReady (on the
// first call after registration), then one OnRequestProcessed per
// queued request, honoring any pending RequestExecutionContext loan
// along the way. It returns once the queue (and the loan flag) are
// drained, or promptly if Unregister is observed to be in progress.
//
// On ErrOutOfMemory from a handler, work stops draining and returns that
// error; the caller (an adapter) is responsible for the retry-after-delay
// protocol described in SPEC_FULL.md §4.4/§4.5.
func (s *Server) work() error {
	for {
		if s.unregisterPending.Load() {
			return nil
		}

		s.apiMu.Lock()

		if s.state == stateRegJustRegistered {
			client := s.client
			maxReq, maxResp := s.maxRequestSize, s.maxResponseSize
			s.state = stateRegIdle
			s.apiMu.Unlock()
			client.OnReady(maxReq, maxResp)
			continue
		}

		if s.loanRequested {
			client := s.client
			s.loanRequested = false
			s.apiMu.Unlock()
			client.LoanExecutionContext()
			continue
		}

		req := s.head
		if req == nil {
			if s.state == stateRegBusy {
				s.state = stateRegIdle
			}
			s.apiMu.Unlock()
			return nil
		}
		s.unlinkRequestLocked(req)
		client := s.client
		s.apiMu.Unlock()

		resp, err := s.dispatch(req)
		if err != nil {
			if errors.Is(err, ErrOutOfMemory) {
				if b := s.logger.Warning(); b.Enabled() {
					b.Log("remoteaccess: out of memory while serving a request, will retry")
				}
				s.requeueFront(req)
				return ErrOutOfMemory
			}
			resp = &Response{Kind: ResponseError, Err: err}
		}
		resp.ReturnStack = req.ReturnStack
		client.OnRequestProcessed(resp)
	}
}

func (s *Server) unlinkRequestLocked(r *Request) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		s.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		s.tail = r.prev
	}
	r.next, r.prev = nil, nil
}

// requeueFront restores req to the head of the queue after a handler
// reported ErrOutOfMemory, so the retry resumes with the same request
// rather than skipping it.
func (s *Server) requeueFront(r *Request) {
	s.apiMu.Lock()
	r.prev = nil
	r.next = s.head
	if s.head != nil {
		s.head.prev = r
	} else {
		s.tail = r
	}
	s.head = r
	s.apiMu.Unlock()
}

func (s *Server) dispatch(req *Request) (*Response, error) {
	switch req.Kind {
	case RequestPing:
		return &Response{Kind: ResponsePing}, nil

	case RequestObjectEnum:
		p := req.ObjectEnum
		indices, err := s.od.Enumerate(p.FirstIndex, p.LastIndex)
		if err != nil {
			return nil, err
		}
		return &Response{Kind: ResponseObjectEnum, ObjectEnumResult: indices}, nil

	case RequestObjectInfo:
		return s.dispatchObjectInfo(req.ObjectInfo)

	case RequestRead:
		p := req.Read
		data, err := s.od.Read(p.Index, p.Subindex)
		if err != nil {
			return nil, err
		}
		if len(data) > s.maxResponseSize {
			return nil, newInvalidArgument("remoteaccess: Read: result exceeds max_response_size")
		}
		return &Response{Kind: ResponseRead, ReadResult: data}, nil

	case RequestWrite:
		p := req.Write
		if len(p.Data) > s.maxRequestSize {
			return nil, newInvalidArgument("remoteaccess: Write: payload exceeds max_request_size")
		}
		if err := s.od.Write(p.Index, p.Subindex, p.Data); err != nil {
			return nil, err
		}
		return &Response{Kind: ResponseWrite}, nil

	default:
		return nil, newInvalidArgument("remoteaccess: request has an unknown kind %d", req.Kind)
	}
}

// dispatchObjectInfo serves an ObjectInfo request, truncating the result
// (and reporting a continuation point) if the full subindex range would
// not fit within max_response_size.
func (s *Server) dispatchObjectInfo(p *ObjectInfoPayload) (*Response, error) {
	info, err := s.od.Info(p.Index)
	if err != nil {
		return nil, err
	}

	first := p.FirstSubindex
	last := p.LastSubindex
	if first < info.SubindexLow {
		first = info.SubindexLow
	}
	if last > info.SubindexHigh {
		last = info.SubindexHigh
	}

	// Every result entry is charged a fixed overhead, plus the name's
	// length if names were requested; once the budget is exhausted the
	// response is truncated and the client is told where to resume.
	const perEntryOverhead = 8
	budget := s.maxResponseSize

	var results []ObjectInfoResult
	for si := first; ; si++ {
		cost := perEntryOverhead
		var name string
		if p.IncludeNames {
			name, err = s.od.SubindexName(p.Index, si)
			if err != nil {
				return nil, err
			}
			cost += len(name)
		}
		if cost > budget {
			return &Response{
				Kind:                   ResponseObjectInfo,
				ObjectInfoResult:       results,
				ObjectInfoTruncated:    true,
				ObjectInfoContinueFrom: si,
			}, nil
		}
		budget -= cost
		results = append(results, ObjectInfoResult{Subindex: si, Name: name})
		if si == last {
			break
		}
	}

	return &Response{Kind: ResponseObjectInfo, ObjectInfoResult: results}, nil
}
