package ws

import (
	"encoding/json"
	"log"
	"net/http"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/engine"
	"github.com/gorilla/websocket"
)

// AttemptHandler bridges a presentation client to the attempt engine over a
// websocket: inbound commands map to engine operations, engine events stream
// outbound. One engine per connection; persisted snapshots let a reconnecting
// client resume its attempt.
type AttemptHandler struct {
	newEngine func(userID string) *engine.Engine
	upgrader  websocket.Upgrader
}

func NewAttemptHandler(newEngine func(userID string) *engine.Engine) *AttemptHandler {
	return &AttemptHandler{
		newEngine: newEngine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	QuizType domain.QuizKind `json:"quiz_type"`
}

type gotoPayload struct {
	Index int `json:"index"`
}

type answerPayload struct {
	Index     int           `json:"index"`
	Answer    domain.Answer `json:"answer"`
	Immediate bool          `json:"immediate"`
}

// ServeWS upgrades the request and runs the command/event loop for one
// attempt client.
func (h *AttemptHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	eng := h.newEngine(userID)
	defer eng.Close()

	events, cancel := eng.Subscribe()
	defer cancel()

	send := make(chan engine.Event, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for ev := range send {
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- ev:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- engine.Event{Type: engine.EventState, State: eng.State()}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r, eng, inbound); err != nil {
			select {
			case send <- engine.Event{Type: engine.EventError, Message: err.Error()}:
			case <-closeSignals:
			}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *AttemptHandler) dispatch(r *http.Request, eng *engine.Engine, inbound inboundMessage) error {
	ctx := r.Context()
	switch inbound.Type {
	case "start":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return eng.Start(ctx, payload.QuizType)
	case "resume":
		return eng.Resume(ctx)
	case "goto":
		var payload gotoPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return eng.GoToQuestion(ctx, payload.Index)
	case "next":
		return eng.Next(ctx)
	case "previous":
		return eng.Previous(ctx)
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		// Feedback for immediate saves reaches the client through the
		// engine's feedback event; nothing extra to send here.
		_, err := eng.SaveAnswer(ctx, payload.Index, payload.Answer, payload.Immediate)
		return err
	case "skip":
		var payload gotoPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		return eng.SkipQuestion(ctx, payload.Index)
	case "submit":
		_, err := eng.Submit(ctx)
		return err
	case "reset":
		return eng.Reset(ctx)
	default:
		return errUnsupported
	}
}
