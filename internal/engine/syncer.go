package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// saveFunc performs one answer save against the backend for the session the
// syncer was built for.
type saveFunc func(ctx context.Context, index int, answer domain.Answer, timeSpent int) (domain.AnswerFeedback, error)

// Syncer reconciles locally-entered answers with the backend. Choice answers
// go through SaveNow; essay edits go through Schedule, which coalesces rapid
// edits into one request via a single pending timer slot. Local state is
// never rolled back on a failed save.
type Syncer struct {
	save      saveFunc
	window    time.Duration
	onExpired func()
	onError   func(index int, err error)

	mu            sync.Mutex
	pending       *time.Timer
	hasPending    bool
	pendingIndex  int
	pendingAnswer domain.Answer
	pendingSpent  int
	lastSynced    map[int]domain.Answer
}

func newSyncer(save saveFunc, window time.Duration, onExpired func(), onError func(int, error)) *Syncer {
	return &Syncer{
		save:       save,
		window:     window,
		onExpired:  onExpired,
		onError:    onError,
		lastSynced: make(map[int]domain.Answer),
	}
}

// SaveNow sends the answer immediately and returns the server's feedback.
func (s *Syncer) SaveNow(ctx context.Context, index int, answer domain.Answer, timeSpent int) (domain.AnswerFeedback, error) {
	fb, err := s.save(ctx, index, answer, timeSpent)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.onExpired()
		}
		return domain.AnswerFeedback{}, err
	}
	s.mu.Lock()
	s.lastSynced[index] = answer
	s.mu.Unlock()
	return fb, nil
}

// Schedule queues a debounced save. A new edit for the same question
// supersedes the pending one: cancel-and-reschedule, never two live timers.
// A pending edit for a different question is not discarded; it is handed off
// and sent immediately before the new edit takes the slot. A save whose
// content matches the last successful sync for that question is dropped
// entirely.
func (s *Syncer) Schedule(index int, answer domain.Answer, timeSpent int) {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}

	var (
		handoff       bool
		handoffIndex  int
		handoffAnswer domain.Answer
		handoffSpent  int
	)
	if s.hasPending && s.pendingIndex != index {
		s.hasPending = false
		if !s.pendingAnswer.Equal(s.lastSynced[s.pendingIndex]) {
			handoff = true
			handoffIndex, handoffAnswer, handoffSpent = s.pendingIndex, s.pendingAnswer, s.pendingSpent
		}
	}

	if answer.Equal(s.lastSynced[index]) {
		// Edited back to the synced content; nothing left to send.
		s.hasPending = false
	} else {
		s.hasPending = true
		s.pendingIndex = index
		s.pendingAnswer = answer
		s.pendingSpent = timeSpent
		s.pending = time.AfterFunc(s.window, s.firePending)
	}
	s.mu.Unlock()

	if handoff {
		if _, err := s.SaveNow(context.Background(), handoffIndex, handoffAnswer, handoffSpent); err != nil {
			if !errors.Is(err, domain.ErrSessionExpired) && s.onError != nil {
				s.onError(handoffIndex, err)
			}
		}
	}
}

func (s *Syncer) firePending() {
	s.mu.Lock()
	if !s.hasPending {
		s.mu.Unlock()
		return
	}
	index, answer, spent := s.pendingIndex, s.pendingAnswer, s.pendingSpent
	s.hasPending = false
	s.pending = nil
	if answer.Equal(s.lastSynced[index]) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := s.SaveNow(context.Background(), index, answer, spent); err != nil {
		if !errors.Is(err, domain.ErrSessionExpired) && s.onError != nil {
			s.onError(index, err)
		}
	}
}

// Flush sends any pending debounced save synchronously. Must run before
// navigation, skip, and submit so an in-progress essay edit is never lost.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasPending {
		s.mu.Unlock()
		return nil
	}
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	index, answer, spent := s.pendingIndex, s.pendingAnswer, s.pendingSpent
	s.hasPending = false
	if answer.Equal(s.lastSynced[index]) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.SaveNow(ctx, index, answer, spent)
	return err
}

// CancelPending drops a pending save for the given question, used when a
// skip supersedes an unsent essay edit.
func (s *Syncer) CancelPending(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPending && s.pendingIndex == index {
		if s.pending != nil {
			s.pending.Stop()
			s.pending = nil
		}
		s.hasPending = false
	}
}

// Close cancels any pending save without sending it. Used on reset and
// teardown so no dangling callback fires against a discarded session.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.hasPending = false
}
