package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const deliverTimeout = 5 * time.Second

// Dispatcher queues events and delivers them to a sink on a background goroutine.
// A full queue drops the event.
type Dispatcher struct {
	sink  Sink
	queue chan Event

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher and starts its delivery loop.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if sink == nil {
		sink = Nop{}
	}
	if buffer <= 0 {
		buffer = 1
	}
	d := &Dispatcher{sink: sink, queue: make(chan Event, buffer)}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues event without blocking.
func (d *Dispatcher) Notify(_ context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	select {
	case d.queue <- event:
	default:
		log.WithField("event", string(event.Type)).Warn("notify: queue full, dropping event")
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if errNotify := d.sink.Notify(ctx, event); errNotify != nil {
			log.WithError(errNotify).WithField("event", string(event.Type)).Warn("notify: delivery failed")
		}
		cancel()
	}
}
