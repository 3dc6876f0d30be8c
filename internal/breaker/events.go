package breaker

import "time"

// EventType names a breaker signal.
type EventType string

const (
	EventStateChange     EventType = "state_change"
	EventSuccess         EventType = "success"
	EventFailure         EventType = "failure"
	EventShortCircuit    EventType = "short_circuit"
	EventDegradedService EventType = "degraded_service"
)

// Event is delivered to subscribers after the breaker lock is released.
// For state changes From holds the previous state and State the new one.
type Event struct {
	Type          EventType
	Breaker       string
	Op            string
	From          State
	State         State
	Reason        string
	Duration      time.Duration
	Err           error
	SlowResponses int
	At            time.Time
}

// Subscribe registers fn for every event and returns a function that removes
// it. Listeners run synchronously on the calling goroutine and must not block.
func (b *Breaker) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.subMu.Unlock()
	return func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

func (b *Breaker) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	b.subMu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.subMu.RUnlock()
	for _, e := range events {
		for _, fn := range fns {
			fn(e)
		}
	}
}
