package engine

import "quiz-attempt-engine/internal/domain"

// EventType tags the engine events streamed to the presentation layer.
type EventType string

const (
	EventState    EventType = "state"
	EventQuestion EventType = "question"
	EventProgress EventType = "progress"
	EventTick     EventType = "tick"
	EventWarning  EventType = "warning"
	EventFeedback EventType = "feedback"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one engine notification. Only the fields relevant to the type are
// populated.
type Event struct {
	Type             EventType                  `json:"type"`
	State            State                      `json:"state,omitempty"`
	// Index and RemainingSeconds are legitimately zero (first question,
	// final tick), so they always serialize.
	Index            int                        `json:"index"`
	RemainingSeconds int                        `json:"remaining_seconds"`
	ThresholdSeconds int                        `json:"threshold_seconds,omitempty"`
	Progress         *domain.ProgressProjection `json:"progress,omitempty"`
	Feedback         *domain.AnswerFeedback     `json:"feedback,omitempty"`
	Result           *domain.QuizResult         `json:"result,omitempty"`
	Message          string                     `json:"message,omitempty"`
}

// Subscribe returns a channel receiving engine events and a cancel function
// the caller must invoke to avoid leaks. The channel is buffered; a slow
// consumer loses stale events rather than blocking the engine.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) emitLocked(ev Event) {
	for ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	e.emitLocked(ev)
	e.mu.Unlock()
}
