package async

import "github.com/joeycumines/logiface"

// queueOptions holds configuration shared by ImmediateQueue and
// DeferredQueue construction.
type queueOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// QueueOption configures an ImmediateQueue or DeferredQueue at
// construction time.
type QueueOption interface {
	applyQueue(*queueOptions)
}

type queueOptionFunc func(*queueOptions)

func (f queueOptionFunc) applyQueue(opts *queueOptions) { f(opts) }

// WithLogger attaches a structured logger to a queue. Run logs task
// panics through it; nothing else is logged. A
// nil logger (the default) discards all log output; logiface.Logger
// methods are safe to call on a nil receiver.
func WithLogger(logger *logiface.Logger[logiface.Event]) QueueOption {
	return queueOptionFunc(func(opts *queueOptions) {
		opts.logger = logger
	})
}

func resolveQueueOptions(opts []QueueOption) *queueOptions {
	cfg := &queueOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyQueue(cfg)
	}
	return cfg
}
