// Package remoteaccess serializes requests from a single registered
// client against an ObjectAccess object dictionary.
//
// Server is the core: it holds the client's registration, an internal
// FIFO of pending requests, and a six-state machine tracking whether a
// client is registered and whether the server is currently running.
// Server never provides its own execution context; instead it is always
// embedded by a Server Execution Adapter, which supplies the
// RequestWorkInvocationHook that Server pokes whenever there is new work
// to do, and which is responsible for eventually calling back into
// Server's onStart/work/onStop methods.
//
// Two adapters are provided: ThreadAdapter, which owns a dedicated
// goroutine, and QueueAdapter, which posts reusable tasks into a
// caller-supplied async.DeferredQueue. Both satisfy the same contract:
// request_work_invocation is coalescing, on_start/on_stop each run
// exactly once per start/stop cycle, and no Notifiable callback is ever
// invoked while a Server-owned mutex is held.
package remoteaccess
