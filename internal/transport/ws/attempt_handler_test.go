package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/engine"
	"quiz-attempt-engine/internal/infra/memory"
	"github.com/gorilla/websocket"
)

type stubGateway struct {
	session domain.QuizSession
}

func (g *stubGateway) StartQuiz(_ context.Context, kind domain.QuizKind) (domain.QuizSession, error) {
	s := g.session
	s.Kind = kind
	return s, nil
}

func (g *stubGateway) FetchSession(_ context.Context, _ string) (domain.RemoteSession, error) {
	return domain.RemoteSession{Session: g.session, TimeRemainingSeconds: g.session.TimeLimitSeconds}, nil
}

func (g *stubGateway) SaveAnswer(_ context.Context, _ string, _ int, _ domain.Answer, _ int) (domain.AnswerFeedback, error) {
	return domain.AnswerFeedback{IsCorrect: true, PointsEarned: 2}, nil
}

func (g *stubGateway) Navigate(_ context.Context, _ string, _ int) error { return nil }

func (g *stubGateway) Skip(_ context.Context, _ string, _, _ int) error { return nil }

func (g *stubGateway) Submit(_ context.Context, _ string) (domain.QuizResult, error) {
	return domain.QuizResult{SessionID: g.session.ID, EarnedPoints: 2}, nil
}

func TestAttemptFlowOverWebSocket(t *testing.T) {
	gw := &stubGateway{session: domain.QuizSession{
		ID:               "sess-ws",
		SessionToken:     "tok-ws",
		TotalQuestions:   1,
		TimeLimitSeconds: 300,
		Questions: []domain.SessionQuestion{
			{QuestionID: "q1", Type: domain.TypeSingleChoice,
				Options: []domain.Option{{ID: "a"}, {ID: "b"}}, Points: 2},
		},
		Status:    domain.StatusInProgress,
		StartTime: time.Now(),
	}}

	handler := NewAttemptHandler(func(userID string) *engine.Engine {
		configs := memory.NewConfigRepository(memory.NewStaticConfigLoader(memory.DefaultConfigs()), time.Minute)
		return engine.New(gw, memory.NewSnapshotStore(), configs, engine.Options{
			TickInterval: time.Hour,
		})
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial state push.
	ev := readUntil(conn, t, engine.EventState)
	if ev.State != engine.StateIdle {
		t.Fatalf("expected idle, got %s", ev.State)
	}

	writeCmd(conn, t, map[string]any{"type": "start", "payload": map[string]any{"quiz_type": "time_quiz"}})
	for {
		ev = readUntil(conn, t, engine.EventState)
		if ev.State == engine.StateActive {
			break
		}
	}

	writeCmd(conn, t, map[string]any{"type": "answer", "payload": map[string]any{
		"index":     0,
		"answer":    map[string]any{"option_id": "a"},
		"immediate": true,
	}})
	ev = readUntil(conn, t, engine.EventFeedback)
	if ev.Feedback == nil || !ev.Feedback.IsCorrect {
		t.Fatalf("expected correct feedback, got %+v", ev.Feedback)
	}

	writeCmd(conn, t, map[string]any{"type": "submit"})
	ev = readUntil(conn, t, engine.EventResult)
	if ev.Result == nil || ev.Result.EarnedPoints != 2 {
		t.Fatalf("expected result event, got %+v", ev.Result)
	}
}

func TestMissingUserIDRejected(t *testing.T) {
	handler := NewAttemptHandler(func(string) *engine.Engine { return nil })
	server := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func writeCmd(conn *websocket.Conn, t *testing.T, cmd map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func readUntil(conn *websocket.Conn, t *testing.T, want engine.EventType) engine.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev engine.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event waiting for %s: %v", want, err)
		}
		if ev.Type == engine.EventError {
			t.Fatalf("unexpected error event: %s", ev.Message)
		}
		if ev.Type == want {
			return ev
		}
	}
}
