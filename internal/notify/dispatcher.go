// Package notify delivers committed lifecycle events to message brokers without blocking transitions.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"go.uber.org/zap"
)

const (
	defaultBufferSize      = 64
	defaultDeliveryTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned when the dispatcher buffer has no room; the event is dropped.
	ErrQueueFull = errors.New("notification queue full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// Sink delivers one event to an external collaborator.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event queue.Event) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBufferSize sets how many events may wait for delivery.
func WithBufferSize(size int) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if size > 0 {
			dispatcher.bufferSize = size
		}
	}
}

// WithDeliveryTimeout bounds each sink call.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if timeout > 0 {
			dispatcher.deliveryTimeout = timeout
		}
	}
}

// Dispatcher implements queue.Notifier with a buffered queue drained by one worker goroutine.
type Dispatcher struct {
	logger          *zap.Logger
	sinks           []Sink
	bufferSize      int
	deliveryTimeout time.Duration

	mutex  sync.RWMutex
	closed bool
	events chan queue.Event
	done   chan struct{}
}

// NewDispatcher starts a dispatcher fanning events out to sinks.
func NewDispatcher(logger *zap.Logger, sinks []Sink, options ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := &Dispatcher{
		logger:          logger.Named("notify"),
		sinks:           append([]Sink(nil), sinks...),
		bufferSize:      defaultBufferSize,
		deliveryTimeout: defaultDeliveryTimeout,
		done:            make(chan struct{}),
	}
	for _, option := range options {
		option(dispatcher)
	}
	dispatcher.events = make(chan queue.Event, dispatcher.bufferSize)
	go dispatcher.run()
	return dispatcher
}

// Notify enqueues event without waiting for delivery.
func (dispatcher *Dispatcher) Notify(ctx context.Context, event queue.Event) error {
	dispatcher.mutex.RLock()
	defer dispatcher.mutex.RUnlock()
	if dispatcher.closed {
		return ErrDispatcherClosed
	}
	select {
	case dispatcher.events <- event:
		return nil
	default:
		dispatcher.logger.Warn("notification dropped",
			zap.String("event", string(event.Type)),
			zap.String("reservation_id", event.ReservationID.String()),
		)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued events are delivered or ctx ends.
func (dispatcher *Dispatcher) Close(ctx context.Context) error {
	dispatcher.mutex.Lock()
	if !dispatcher.closed {
		dispatcher.closed = true
		close(dispatcher.events)
	}
	dispatcher.mutex.Unlock()
	select {
	case <-dispatcher.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (dispatcher *Dispatcher) run() {
	defer close(dispatcher.done)
	for event := range dispatcher.events {
		for _, sink := range dispatcher.sinks {
			dispatcher.deliver(sink, event)
		}
	}
}

func (dispatcher *Dispatcher) deliver(sink Sink, event queue.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatcher.deliveryTimeout)
	defer cancel()
	if err := sink.Deliver(ctx, event); err != nil {
		dispatcher.logger.Warn("notification delivery failed",
			zap.String("sink", sink.Name()),
			zap.String("event", string(event.Type)),
			zap.String("reservation_id", event.ReservationID.String()),
			zap.Error(err),
		)
	}
}
