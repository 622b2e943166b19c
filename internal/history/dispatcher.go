package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks from a background goroutine so
// relay operations never wait on a database.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sinks:   append([]Sink(nil), sinks...),
		queue:   make(chan Event, defaultQueueSize),
		logger:  logger,
		timeout: defaultSendTimeout,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Emit queues e for delivery. Events are dropped when the queue is full
// or the dispatcher is closed.
func (d *Dispatcher) Emit(e Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.logger.Warn("history queue full, dropping event", "type", e.Type, "stream_key", e.Record.StreamKey)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, e); err != nil {
				d.logger.Warn("history sink send failed", "type", e.Type, "stream_key", e.Record.StreamKey, "error", err)
			}
			cancel()
		}
	}
}

// Close drains queued events and closes every sink.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
