package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// Gateway is the backend façade the engine drives. Implementations are
// stateless request/response; failure policy lives here, not there.
type Gateway interface {
	StartQuiz(ctx context.Context, kind domain.QuizKind) (domain.QuizSession, error)
	FetchSession(ctx context.Context, token string) (domain.RemoteSession, error)
	SaveAnswer(ctx context.Context, token string, index int, answer domain.Answer, timeSpent int) (domain.AnswerFeedback, error)
	Navigate(ctx context.Context, token string, index int) error
	Skip(ctx context.Context, token string, index, timeSpent int) error
	Submit(ctx context.Context, token string) (domain.QuizResult, error)
}

// SnapshotStore persists the local attempt snapshot for recovery across
// restarts. The engine is its only writer.
type SnapshotStore interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context) (domain.Snapshot, bool, error)
	Clear(ctx context.Context) error
}

// ConfigRepository supplies per-kind quiz constants from the external
// quiz-configuration collaborator.
type ConfigRepository interface {
	GetConfig(ctx context.Context, kind domain.QuizKind) (domain.QuizConfig, error)
}

// ResultArchiver records completed attempts. Archiving is best-effort; a
// failure never affects the attempt outcome.
type ResultArchiver interface {
	ArchiveResult(ctx context.Context, result domain.QuizResult) error
}

// State is the engine lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateActive     State = "active"
	StateExpired    State = "expired"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
)

// Options tune the engine's timing behavior.
type Options struct {
	TickInterval   time.Duration
	DebounceWindow time.Duration
	Warnings       []time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 2 * time.Second
	}
	if len(o.Warnings) == 0 {
		o.Warnings = []time.Duration{5 * time.Minute, time.Minute, 30 * time.Second}
	}
	return o
}

// Engine is the session state machine: the sole owner and mutator of the
// canonical attempt state. Local state commits before any network call;
// callers never wait on the backend to see their own input reflected.
type Engine struct {
	gw      Gateway
	store   SnapshotStore
	configs ConfigRepository
	archive ResultArchiver
	opts    Options
	now     func() time.Time

	mu            sync.Mutex
	state         State
	session       *domain.QuizSession
	answers       map[int]domain.Answer
	answered      map[int]bool
	skipped       map[int]bool
	visited       map[int]bool
	current       int
	enteredAt     time.Time
	timer         *Timer
	syncer        *Syncer
	result        *domain.QuizResult
	autoSubmitted bool
	subscribers   map[chan Event]struct{}
}

func New(gw Gateway, store SnapshotStore, configs ConfigRepository, opts Options) *Engine {
	return newEngineWithClock(gw, store, configs, opts, time.Now)
}

func newEngineWithClock(gw Gateway, store SnapshotStore, configs ConfigRepository, opts Options, now func() time.Time) *Engine {
	return &Engine{
		gw:          gw,
		store:       store,
		configs:     configs,
		opts:        opts.withDefaults(),
		now:         now,
		state:       StateIdle,
		subscribers: make(map[chan Event]struct{}),
	}
}

// WithArchive attaches an optional attempt archive.
func (e *Engine) WithArchive(a ResultArchiver) *Engine {
	e.archive = a
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentIndex returns the question the attempt is positioned on.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Session returns a copy of the active session, if any.
func (e *Engine) Session() (domain.QuizSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return domain.QuizSession{}, false
	}
	return *e.session, true
}

// Result returns the terminal result after a completed submit.
func (e *Engine) Result() (domain.QuizResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return domain.QuizResult{}, false
	}
	return *e.result, true
}

// Progress derives the read-only navigation projection from the canonical
// sets.
func (e *Engine) Progress() domain.ProgressProjection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

func (e *Engine) progressLocked() domain.ProgressProjection {
	total := 0
	if e.session != nil {
		total = e.session.TotalQuestions
	}
	return domain.ProjectProgress(total, e.current, e.answered, e.skipped, e.visited)
}

// Remaining reports the timer reading, zero when no timer is running.
func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	t := e.timer
	e.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.Remaining()
}

// Start begins a new attempt of the given kind. It fails with
// ErrSessionActive when an attempt is already live — locally or, per the
// persisted token, on the backend. Any prior local snapshot is cleared so an
// abandoned attempt cannot leak into the new one.
func (e *Engine) Start(ctx context.Context, kind domain.QuizKind) error {
	e.mu.Lock()
	switch e.state {
	case StateActive, StateExpired, StateSubmitting, StateLoading:
		e.mu.Unlock()
		return domain.ErrSessionActive
	}
	e.setStateLocked(StateLoading)
	e.mu.Unlock()

	// Fetch first: the backend enforces at-most-one active attempt, so a
	// locally cached token must be checked before starting another.
	if snap, ok, err := e.store.Load(ctx); err == nil && ok && snap.SessionToken != "" {
		remote, err := e.gw.FetchSession(ctx, snap.SessionToken)
		if err == nil && !remote.IsExpired && remote.Session.Status == domain.StatusInProgress {
			e.setState(StateIdle)
			return domain.ErrSessionActive
		}
	}
	if err := e.store.Clear(ctx); err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("clear stale snapshot: %w", err)
	}

	sess, err := e.gw.StartQuiz(ctx, kind)
	if err != nil {
		e.setState(StateIdle)
		return err
	}
	if sess.TimeLimitSeconds == 0 && e.configs != nil {
		if cfg, cfgErr := e.configs.GetConfig(ctx, kind); cfgErr == nil {
			sess.TimeLimitSeconds = cfg.TimeLimitSeconds
		}
	}

	anchor := sess.StartTime
	if anchor.IsZero() {
		anchor = e.now()
	}

	e.mu.Lock()
	e.installSessionLocked(&sess, anchor, map[int]domain.Answer{}, 0)
	e.visited[0] = true
	if len(e.session.Questions) > 0 {
		e.session.Questions[0].VisitCount++
	}
	e.setStateLocked(StateActive)
	e.emitLocked(Event{Type: EventQuestion, Index: 0})
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap)
	return nil
}

// Resume rehydrates the attempt from the persisted token. The server is the
// source of truth: per-question flags come from its snapshot, and locally
// cached answers are restored only for questions the server also marks
// answered. A server-side expiry purges local state and fails with
// ErrSessionExpired.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateActive, StateExpired, StateSubmitting, StateLoading:
		e.mu.Unlock()
		return domain.ErrSessionActive
	}
	e.setStateLocked(StateLoading)
	e.mu.Unlock()

	snap, ok, err := e.store.Load(ctx)
	if err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok || snap.SessionToken == "" {
		e.setState(StateIdle)
		return domain.ErrNoActiveSession
	}

	remote, err := e.gw.FetchSession(ctx, snap.SessionToken)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			_ = e.store.Clear(ctx)
		}
		e.setState(StateIdle)
		return err
	}
	if remote.IsExpired {
		_ = e.store.Clear(ctx)
		e.setState(StateIdle)
		return domain.ErrSessionExpired
	}

	sess := remote.Session
	if sess.SessionToken == "" {
		sess.SessionToken = snap.SessionToken
	}

	answers := make(map[int]domain.Answer)
	for i := range sess.Questions {
		if sess.Questions[i].IsAnswered {
			if a, cached := snap.Answers[i]; cached {
				answers[i] = a
			}
		}
	}

	current := snap.CurrentIndex
	if current < 0 || current >= sess.TotalQuestions {
		current = 0
	}

	// Rebuild the anchor from the server's remaining figure so a skewed
	// local clock still counts down what the server counts down.
	limit := time.Duration(sess.TimeLimitSeconds) * time.Second
	anchor := e.now().Add(-(limit - time.Duration(remote.TimeRemainingSeconds)*time.Second))

	e.mu.Lock()
	e.installSessionLocked(&sess, anchor, answers, current)
	for i := range sess.Questions {
		q := &sess.Questions[i]
		if q.IsAnswered {
			e.answered[i] = true
		}
		if q.IsSkipped {
			e.skipped[i] = true
		}
		if q.VisitCount > 0 || q.IsAnswered || q.IsSkipped {
			e.visited[i] = true
		}
	}
	e.visited[current] = true
	e.setStateLocked(StateActive)
	e.emitLocked(Event{Type: EventQuestion, Index: current})
	e.emitLocked(Event{Type: EventProgress, Progress: e.progressPtrLocked()})
	newSnap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, newSnap)
	return nil
}

// installSessionLocked wires a fresh session, timer and syncer. Caller holds
// the lock.
func (e *Engine) installSessionLocked(sess *domain.QuizSession, anchor time.Time, answers map[int]domain.Answer, current int) {
	e.session = sess
	e.answers = answers
	e.answered = make(map[int]bool)
	e.skipped = make(map[int]bool)
	e.visited = make(map[int]bool)
	e.current = current
	e.enteredAt = e.now()
	e.result = nil
	e.autoSubmitted = false

	token := sess.SessionToken
	e.syncer = newSyncer(
		func(ctx context.Context, index int, answer domain.Answer, timeSpent int) (domain.AnswerFeedback, error) {
			return e.gw.SaveAnswer(ctx, token, index, answer, timeSpent)
		},
		e.opts.DebounceWindow,
		e.onSessionExpired,
		func(index int, err error) {
			log.Printf("debounced save for question %d failed: %v", index, err)
		},
	)

	limit := time.Duration(sess.TimeLimitSeconds) * time.Second
	e.timer = newTimerWithClock(anchor, limit, e.opts.Warnings, TimerHooks{
		OnTick: func(remaining time.Duration) {
			e.emit(Event{Type: EventTick, RemainingSeconds: int(remaining / time.Second)})
		},
		OnWarning: func(threshold, remaining time.Duration) {
			e.emit(Event{
				Type:             EventWarning,
				ThresholdSeconds: int(threshold / time.Second),
				RemainingSeconds: int(remaining / time.Second),
			})
		},
		OnExpire: e.onTimerExpired,
	}, e.now)
	e.timer.Start(e.opts.TickInterval)
}

// GoToQuestion moves the attempt to the given index. The local position and
// visited set commit immediately; the backend is then notified best-effort.
// Navigating to the index already current is a no-op.
func (e *Engine) GoToQuestion(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if index < 0 || index >= e.session.TotalQuestions {
		e.mu.Unlock()
		return domain.ErrIndexOutOfRange
	}
	if index == e.current {
		e.mu.Unlock()
		return nil
	}
	syncer := e.syncer
	token := e.session.SessionToken
	e.mu.Unlock()

	// A pending essay edit must reach the backend before the position moves.
	if err := syncer.Flush(ctx); err != nil && errors.Is(err, domain.ErrSessionExpired) {
		return err
	}

	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	e.current = index
	if !e.visited[index] {
		e.visited[index] = true
	}
	e.session.Questions[index].VisitCount++
	e.enteredAt = e.now()
	e.emitLocked(Event{Type: EventQuestion, Index: index})
	e.emitLocked(Event{Type: EventProgress, Progress: e.progressPtrLocked()})
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap)

	// Best effort: validation rejections and transient failures never break
	// navigation; only auth loss and expiry propagate.
	if err := e.gw.Navigate(ctx, token, index); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			return err
		case errors.Is(err, domain.ErrSessionExpired):
			e.onSessionExpired()
			return err
		default:
			log.Printf("navigate sync for question %d swallowed: %v", index, err)
		}
	}
	return nil
}

// Next advances to the following question; a no-op on the last one.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	target := e.current + 1
	total := e.session.TotalQuestions
	e.mu.Unlock()
	if target >= total {
		return nil
	}
	return e.GoToQuestion(ctx, target)
}

// Previous moves back one question; a no-op on the first one.
func (e *Engine) Previous(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	target := e.current - 1
	e.mu.Unlock()
	if target < 0 {
		return nil
	}
	return e.GoToQuestion(ctx, target)
}

// SaveAnswer commits the answer locally (marking the question answered and
// clearing any skip flag) before any network traffic, then syncs per policy:
// choice types immediately, returning the server's feedback; essays through
// the debounce window, returning no feedback.
func (e *Engine) SaveAnswer(ctx context.Context, index int, answer domain.Answer, immediate bool) (*domain.AnswerFeedback, error) {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return nil, domain.ErrNoActiveSession
	}
	if index < 0 || index >= e.session.TotalQuestions {
		e.mu.Unlock()
		return nil, domain.ErrIndexOutOfRange
	}

	e.answers[index] = answer
	e.answered[index] = true
	delete(e.skipped, index)
	q := &e.session.Questions[index]
	q.IsAnswered = true
	q.IsSkipped = false
	isEssay := q.Type == domain.TypeEssay
	timeSpent := int(e.now().Sub(e.enteredAt) / time.Second)
	syncer := e.syncer
	e.emitLocked(Event{Type: EventProgress, Progress: e.progressPtrLocked()})
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap)

	if isEssay || !immediate {
		syncer.Schedule(index, answer, timeSpent)
		return nil, nil
	}

	fb, err := syncer.SaveNow(ctx, index, answer, timeSpent)
	if err != nil {
		// The typed answer stays committed locally whatever the save did.
		if errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, domain.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}

	e.mu.Lock()
	if e.session != nil && index < len(e.session.Questions) {
		e.session.Questions[index].PointsEarned = fb.PointsEarned
	}
	e.emitLocked(Event{Type: EventFeedback, Index: index, Feedback: &fb})
	e.mu.Unlock()
	return &fb, nil
}

// SkipQuestion marks the question skipped, clearing any answered state — the
// last action wins — and informs the backend synchronously so the skip
// survives an immediate tab close.
func (e *Engine) SkipQuestion(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	if index < 0 || index >= e.session.TotalQuestions {
		e.mu.Unlock()
		return domain.ErrIndexOutOfRange
	}
	syncer := e.syncer
	e.mu.Unlock()

	// A pending essay edit for this question is superseded by the skip;
	// anything pending for another question still has to go out.
	syncer.CancelPending(index)
	if err := syncer.Flush(ctx); err != nil && errors.Is(err, domain.ErrSessionExpired) {
		return err
	}

	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	e.skipped[index] = true
	delete(e.answered, index)
	delete(e.answers, index)
	q := &e.session.Questions[index]
	q.IsSkipped = true
	q.IsAnswered = false
	timeSpent := int(e.now().Sub(e.enteredAt) / time.Second)
	token := e.session.SessionToken
	e.emitLocked(Event{Type: EventProgress, Progress: e.progressPtrLocked()})
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap)

	if err := e.gw.Skip(ctx, token, index, timeSpent); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			return err
		case errors.Is(err, domain.ErrSessionExpired):
			e.onSessionExpired()
			return err
		case errors.Is(err, domain.ErrValidationRejected):
			log.Printf("skip sync for question %d rejected: %v", index, err)
			return nil
		default:
			// Local skip stands; the caller may show a retry affordance.
			return fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
		}
	}
	return nil
}

// Submit finalizes the attempt. The timer stops and the debounce slot is
// flushed before the gateway call so nothing races the submission. A repeat
// call after completion returns the stored result without re-submitting; a
// failed submit restores the pre-submit state for retry.
func (e *Engine) Submit(ctx context.Context) (*domain.QuizResult, error) {
	e.mu.Lock()
	switch e.state {
	case StateCompleted:
		r := e.result
		e.mu.Unlock()
		return r, nil
	case StateSubmitting:
		e.mu.Unlock()
		return nil, nil
	case StateActive, StateExpired:
	default:
		e.mu.Unlock()
		return nil, domain.ErrNoActiveSession
	}
	prev := e.state
	e.setStateLocked(StateSubmitting)
	e.timer.Stop()
	syncer := e.syncer
	token := e.session.SessionToken
	e.mu.Unlock()

	if err := syncer.Flush(ctx); err != nil && !errors.Is(err, domain.ErrSessionExpired) {
		log.Printf("pre-submit flush failed, submitting anyway: %v", err)
	}

	result, err := e.gw.Submit(ctx, token)
	if err != nil {
		e.mu.Lock()
		e.setStateLocked(prev)
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.result = &result
	if e.session != nil {
		e.session.Status = domain.StatusCompleted
	}
	e.setStateLocked(StateCompleted)
	e.emitLocked(Event{Type: EventResult, Result: &result})
	e.mu.Unlock()

	if err := e.store.Clear(ctx); err != nil {
		log.Printf("clear snapshot after submit: %v", err)
	}
	if e.archive != nil {
		if err := e.archive.ArchiveResult(ctx, result); err != nil {
			log.Printf("archive attempt result: %v", err)
		}
	}
	return &result, nil
}

// Reset abandons the attempt: timer stopped, pending saves dropped, local
// storage purged, state back to idle. Safe in every state.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.syncer != nil {
		e.syncer.Close()
	}
	e.session = nil
	e.answers = nil
	e.answered = nil
	e.skipped = nil
	e.visited = nil
	e.current = 0
	e.result = nil
	e.timer = nil
	e.syncer = nil
	e.setStateLocked(StateIdle)
	e.mu.Unlock()

	return e.store.Clear(ctx)
}

// Close tears the engine down without touching persisted state, so the
// attempt can be resumed by a later process.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.syncer != nil {
		e.syncer.Close()
	}
	for ch := range e.subscribers {
		delete(e.subscribers, ch)
		close(ch)
	}
	e.mu.Unlock()
}

// onTimerExpired handles the timer crossing zero; onSessionExpired handles
// the server declaring the session over mid-call. Both land the attempt in
// the expired state and force a submit exactly once.
func (e *Engine) onTimerExpired() { e.expire() }

func (e *Engine) onSessionExpired() { e.expire() }

func (e *Engine) expire() {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.setStateLocked(StateExpired)
	if e.session != nil {
		e.session.Status = domain.StatusTimedOut
	}
	if e.autoSubmitted {
		e.mu.Unlock()
		return
	}
	e.autoSubmitted = true
	e.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.Submit(ctx); err != nil {
			log.Printf("auto-submit after expiry failed: %v", err)
			e.emit(Event{Type: EventError, Message: "auto-submit failed: " + err.Error()})
		}
	}()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.setStateLocked(s)
	e.mu.Unlock()
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	e.state = s
	e.emitLocked(Event{Type: EventState, State: s})
}

func (e *Engine) progressPtrLocked() *domain.ProgressProjection {
	p := e.progressLocked()
	return &p
}

// snapshotLocked copies the persistable state. Caller holds the lock.
func (e *Engine) snapshotLocked() domain.Snapshot {
	answers := make(map[int]domain.Answer, len(e.answers))
	for i, a := range e.answers {
		answers[i] = a
	}
	var anchor time.Time
	if e.timer != nil {
		anchor = e.timer.anchor
	}
	return domain.Snapshot{
		SessionToken: e.session.SessionToken,
		Kind:         e.session.Kind,
		Session:      *e.session,
		Answers:      answers,
		StartedAt:    anchor,
		CurrentIndex: e.current,
	}
}

func (e *Engine) persist(ctx context.Context, snap domain.Snapshot) {
	if err := e.store.Save(ctx, snap); err != nil {
		log.Printf("persist snapshot: %v", err)
	}
}
