package connection

import (
	"log/slog"
	"sync"

	"github.com/rickgao/livewire/internal/frame"
)

// Event names an event stream.
type Event string

const (
	EventOpen         Event = "open"
	EventMessage      Event = "message"
	EventClose        Event = "close"
	EventError        Event = "error"
	EventStatusChange Event = "statusChange"
)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// subscriber is one registered handler.
type subscriber struct {
	id uint64
	fn func(arg any)
}

// emission is one queued event.
type emission struct {
	event Event
	arg   any
}

// emitter delivers events to subscribers on a single dispatcher goroutine,
// in emission order and, within one event, in subscription order.
type emitter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[Event][]subscriber
	nextID uint64

	queue *queue[emission]
	done  chan struct{}
}

func newEmitter(logger *slog.Logger) *emitter {
	e := &emitter{
		logger: logger,
		subs:   make(map[Event][]subscriber),
		queue:  newQueue[emission](64),
		done:   make(chan struct{}),
	}
	go e.dispatch()
	return e
}

// on registers fn for event.
func (e *emitter) on(event Event, fn func(arg any)) Unsubscribe {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[event] = append(e.subs[event], subscriber{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(event, id) })
	}
}

func (e *emitter) remove(event Event, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subs[event]
	for i, s := range subs {
		if s.id == id {
			// Copy so a dispatch in progress keeps its own snapshot.
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			e.subs[event] = next
			return
		}
	}
}

// emit queues an event. It never blocks and is dropped after seal.
func (e *emitter) emit(event Event, arg any) {
	if !e.queue.Send(emission{event: event, arg: arg}) {
		e.logger.Debug("event dropped after close", "event", event)
	}
}

// seal stops accepting events. Queued events are still delivered, then the
// done channel closes.
func (e *emitter) seal() {
	e.queue.Close()
}

// dispatch runs until the queue is sealed and drained.
func (e *emitter) dispatch() {
	defer close(e.done)

	for {
		em, ok := e.queue.Receive()
		if !ok {
			return
		}

		e.mu.RLock()
		subs := e.subs[em.event]
		e.mu.RUnlock()

		for _, s := range subs {
			e.invoke(em, s)
		}
	}
}

// invoke runs one subscriber, isolating panics so later subscribers still run.
func (e *emitter) invoke(em emission, s subscriber) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("subscriber panicked",
				"event", em.event,
				"subscriber", s.id,
				"panic", r,
			)
		}
	}()
	s.fn(em.arg)
}

// OnOpen subscribes to successful connections.
func (m *Manager) OnOpen(fn func()) Unsubscribe {
	return m.events.on(EventOpen, func(any) { fn() })
}

// OnMessage subscribes to unsolicited inbound frames.
func (m *Manager) OnMessage(fn func(frame.Frame)) Unsubscribe {
	return m.events.on(EventMessage, func(arg any) { fn(arg.(frame.Frame)) })
}

// OnClose subscribes to socket closes, including the final Close().
func (m *Manager) OnClose(fn func(CloseInfo)) Unsubscribe {
	return m.events.on(EventClose, func(arg any) { fn(arg.(CloseInfo)) })
}

// OnError subscribes to transport and protocol errors.
func (m *Manager) OnError(fn func(*Error)) Unsubscribe {
	return m.events.on(EventError, func(arg any) { fn(arg.(*Error)) })
}

// OnStatusChange subscribes to status transitions.
func (m *Manager) OnStatusChange(fn func(Status)) Unsubscribe {
	return m.events.on(EventStatusChange, func(arg any) { fn(arg.(Status)) })
}

// On subscribes fn to any event by name. The argument is nil for open,
// frame.Frame for message, CloseInfo for close, *Error for error and
// Status for statusChange.
func (m *Manager) On(event Event, fn func(arg any)) Unsubscribe {
	return m.events.on(event, fn)
}
