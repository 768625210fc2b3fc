package remoteaccess

import "github.com/joeycumines/logiface"

// Protocol-defined size bounds, in bytes. These stand in for the
// original's RequestBase::minimumUsefulRequestSize / maxRequestSize and
// ResponseBase's equivalents: a request or response below the minimum
// could never carry even the smallest legal payload, and one above the
// maximum cannot occur on the wire this package models.
const (
	MinRequestSize  = 12
	MaxRequestSize  = 1 << 20
	MinResponseSize = 12
	MaxResponseSize = 1 << 20

	// DefaultOOMRetryDelayMS is used by adapters when WithOOMRetryDelay
	// is not supplied.
	DefaultOOMRetryDelayMS = 100
)

type options struct {
	logger          *logiface.Logger[logiface.Event]
	maxRequestSize  int
	maxResponseSize int
	oomRetryDelayMS uint8
	threadName      string
}

// Option configures a Server or one of its execution adapters.
type Option interface {
	applyOption(*options) error
}

type optionFunc func(*options) error

func (f optionFunc) applyOption(o *options) error { return f(o) }

// WithLogger attaches a structured logger used for diagnostics: the
// Server and both adapters log a warning on each OOM retry. A nil
// logger (the default) disables logging entirely; logiface.Logger is
// nil-safe, so callers never need to guard calls to it themselves.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(o *options) error {
		o.logger = logger
		return nil
	})
}

// WithMaxRequestSize sets the upper bound, in bytes, on a request's
// size. The value is reported to clients via Notifiable.OnReady; the
// Server applies it only to the data of a Write request, which is
// answered with an error response if longer.
func WithMaxRequestSize(n int) Option {
	return optionFunc(func(o *options) error {
		if n < MinRequestSize || n > MaxRequestSize {
			return newInvalidArgument("remoteaccess: WithMaxRequestSize: %d out of range [%d, %d]", n, MinRequestSize, MaxRequestSize)
		}
		o.maxRequestSize = n
		return nil
	})
}

// WithMaxResponseSize sets the upper bound, in bytes, on a response's
// serialized size. The value is reported to clients via
// Notifiable.OnReady.
func WithMaxResponseSize(n int) Option {
	return optionFunc(func(o *options) error {
		if n < MinResponseSize || n > MaxResponseSize {
			return newInvalidArgument("remoteaccess: WithMaxResponseSize: %d out of range [%d, %d]", n, MinResponseSize, MaxResponseSize)
		}
		o.maxResponseSize = n
		return nil
	})
}

// WithOOMRetryDelay sets the delay, in milliseconds, an adapter waits
// before retrying work() after a handler reports ErrOutOfMemory. Zero is
// rejected: a silent, immediate, unbounded retry loop is never useful.
func WithOOMRetryDelay(ms uint8) Option {
	return optionFunc(func(o *options) error {
		if ms == 0 {
			return newInvalidArgument("remoteaccess: WithOOMRetryDelay: must be > 0")
		}
		o.oomRetryDelayMS = ms
		return nil
	})
}

// WithThreadName labels log records emitted by ThreadAdapter's goroutine.
// Go has no portable equivalent of the scheduling policy, priority, or
// fixed stack size a native thread takes at start; those are dropped
// entirely (see DESIGN.md), and this label is what survives of that
// configuration surface.
func WithThreadName(name string) Option {
	return optionFunc(func(o *options) error {
		o.threadName = name
		return nil
	})
}

func resolveOptions(opts []Option) (*options, error) {
	o := &options{
		maxRequestSize:  MaxRequestSize,
		maxResponseSize: MaxResponseSize,
		oomRetryDelayMS: DefaultOOMRetryDelayMS,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}
