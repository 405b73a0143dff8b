// Package notify fans chat events out to in-app notifications and the
// e-mail topic without ever blocking a request.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/egor/permitchat/models"
)

// DefaultQueueSize bounds the pending notification queue.
const DefaultQueueSize = 256

// Sink delivers one notification somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *models.Notification) error
}

// Dispatcher owns the only background goroutine of the chat service. Notify
// enqueues and returns at once; Run delivers to every sink in order.
type Dispatcher struct {
	queue   chan models.Notification
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
}

// NewDispatcher creates a dispatcher with a queue of size entries.
func NewDispatcher(size int, log *zap.Logger, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		queue:   make(chan models.Notification, size),
		sinks:   sinks,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Notify enqueues n, dropping it with a warning when the queue is full.
func (d *Dispatcher) Notify(n models.Notification) {
	select {
	case d.queue <- n:
	default:
		d.log.Warn("notification queue full, dropping",
			zap.String("kind", n.Kind),
			zap.Int("queue_size", cap(d.queue)),
		)
	}
}

// Run delivers until ctx is cancelled, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("notification dispatcher started", zap.Int("sinks", len(d.sinks)))
	for {
		select {
		case n := <-d.queue:
			d.deliver(context.Background(), n)
		case <-ctx.Done():
			d.drain()
			d.log.Info("notification dispatcher stopped")
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(context.Background(), n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, n models.Notification) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(parent, d.timeout)
		err := sink.Deliver(ctx, &n)
		cancel()
		if err != nil {
			d.log.Error("notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("kind", n.Kind),
				zap.Error(err),
			)
		}
	}
}
