package vectorservice

import (
	"time"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/breaker"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/degraded"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/fallback"
)

// Event sources.
const (
	SourceService  = "service"
	SourceBreaker  = "breaker"
	SourceFallback = "fallback"
	SourceDegraded = "degraded"
)

// EventLevelChange is the service's own event type.
const EventLevelChange = "level_change"

// Event is the unified, JSON-friendly form of every component signal the
// service re-publishes.
type Event struct {
	Source string    `json:"source"`
	Type   string    `json:"type"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// LevelChange is the Data of a service level_change event.
type LevelChange struct {
	Previous Level  `json:"previous"`
	Current  Level  `json:"current"`
	Reason   string `json:"reason"`
}

// BreakerEvent is the Data of breaker events.
type BreakerEvent struct {
	Breaker       string        `json:"breaker"`
	Op            string        `json:"op,omitempty"`
	From          breaker.State `json:"from"`
	State         breaker.State `json:"state"`
	Reason        string        `json:"reason,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	Error         string        `json:"error,omitempty"`
	SlowResponses int           `json:"slowResponses,omitempty"`
}

// SearchEvent is the Data of fallback chain events.
type SearchEvent struct {
	Strategy   string        `json:"strategy,omitempty"`
	IsFallback bool          `json:"isFallback"`
	Position   int           `json:"position"`
	Results    int           `json:"results"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
	Failures   []string      `json:"failures,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func fromBreaker(e breaker.Event) Event {
	return Event{
		Source: SourceBreaker,
		Type:   string(e.Type),
		Data: BreakerEvent{
			Breaker:       e.Breaker,
			Op:            e.Op,
			From:          e.From,
			State:         e.State,
			Reason:        e.Reason,
			Duration:      e.Duration,
			Error:         errString(e.Err),
			SlowResponses: e.SlowResponses,
		},
		At: e.At,
	}
}

func fromFallback(e fallback.Event) Event {
	return Event{
		Source: SourceFallback,
		Type:   string(e.Type),
		Data: SearchEvent{
			Strategy:   e.Strategy,
			IsFallback: e.IsFallback,
			Position:   e.Position,
			Results:    e.Results,
			Duration:   e.Duration,
			Error:      errString(e.Err),
			Failures:   e.Failures,
		},
		At: e.At,
	}
}

func fromDegraded(c degraded.LevelChange) Event {
	return Event{Source: SourceDegraded, Type: "level_change", Data: c, At: c.At}
}

// Subscribe registers fn for every re-published event and returns a function
// removing it. fn runs on the emitting goroutine and must not block.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Service) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}
