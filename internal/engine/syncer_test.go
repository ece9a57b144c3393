package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"quiz-attempt-engine/internal/domain"
)

type recordingSave struct {
	mu    sync.Mutex
	calls []domain.Answer
	err   error
}

func (r *recordingSave) save(_ context.Context, _ int, answer domain.Answer, _ int) (domain.AnswerFeedback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.AnswerFeedback{}, r.err
	}
	r.calls = append(r.calls, answer)
	return domain.AnswerFeedback{}, nil
}

func (r *recordingSave) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingSave) last() domain.Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestDebounceCoalescesEdits(t *testing.T) {
	rec := &recordingSave{}
	s := newSyncer(rec.save, 30*time.Millisecond, func() {}, nil)

	s.Schedule(0, domain.EssayText("a"), 1)
	s.Schedule(0, domain.EssayText("ab"), 2)
	s.Schedule(0, domain.EssayText("abc"), 3)

	time.Sleep(80 * time.Millisecond)

	if rec.count() != 1 {
		t.Fatalf("expected one coalesced save, got %d", rec.count())
	}
	if rec.last().Text != "abc" {
		t.Fatalf("expected final content abc, got %q", rec.last().Text)
	}
}

func TestEditForAnotherQuestionSendsPendingFirst(t *testing.T) {
	rec := &recordingSave{}
	s := newSyncer(rec.save, 30*time.Millisecond, func() {}, nil)

	s.Schedule(0, domain.EssayText("question zero draft"), 1)
	s.Schedule(1, domain.EssayText("question one draft"), 2)

	time.Sleep(80 * time.Millisecond)

	// Question zero's edit is handed off synchronously when question one
	// claims the slot; question one's follows after its window.
	if rec.count() != 2 {
		t.Fatalf("expected both questions' edits saved, got %d", rec.count())
	}
	rec.mu.Lock()
	first, second := rec.calls[0].Text, rec.calls[1].Text
	rec.mu.Unlock()
	if first != "question zero draft" || second != "question one draft" {
		t.Fatalf("expected zero's edit sent before one's, got %q then %q", first, second)
	}
}

func TestDebounceSkipsUnchangedContent(t *testing.T) {
	rec := &recordingSave{}
	s := newSyncer(rec.save, 10*time.Millisecond, func() {}, nil)

	s.Schedule(0, domain.EssayText("draft"), 1)
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected first save, got %d", rec.count())
	}

	// Same content again: no second request may go out.
	s.Schedule(0, domain.EssayText("draft"), 2)
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected unchanged content to be skipped, got %d saves", rec.count())
	}
}

func TestFlushSendsPendingSynchronously(t *testing.T) {
	rec := &recordingSave{}
	s := newSyncer(rec.save, time.Hour, func() {}, nil)

	s.Schedule(2, domain.EssayText("in progress"), 5)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rec.count() != 1 || rec.last().Text != "in progress" {
		t.Fatalf("expected flushed save of pending content, got %d", rec.count())
	}

	// Nothing pending now; flush is a no-op.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush empty: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected no extra save, got %d", rec.count())
	}
}

func TestFlushSurfacesSessionExpired(t *testing.T) {
	rec := &recordingSave{err: domain.ErrSessionExpired}
	expired := false
	s := newSyncer(rec.save, time.Hour, func() { expired = true }, nil)

	s.Schedule(0, domain.EssayText("late"), 1)
	err := s.Flush(context.Background())
	if err == nil {
		t.Fatalf("expected expiry error from flush")
	}
	if !expired {
		t.Fatalf("expected expiry callback to fire")
	}
}

func TestCancelPendingDropsOnlyThatQuestion(t *testing.T) {
	rec := &recordingSave{}
	s := newSyncer(rec.save, time.Hour, func() {}, nil)

	s.Schedule(3, domain.EssayText("dropped"), 1)
	s.CancelPending(3)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("expected cancelled save to never send, got %d", rec.count())
	}
}

func TestCloseCancelsPendingTimer(t *testing.T) {
	rec := &recordingSave{}
	s := newSyncer(rec.save, 10*time.Millisecond, func() {}, nil)

	s.Schedule(0, domain.EssayText("never"), 1)
	s.Close()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("expected no save after close, got %d", rec.count())
	}
}
