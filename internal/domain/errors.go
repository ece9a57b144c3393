package domain

import "errors"

var (
	// ErrSessionExpired is returned when the server declares the attempt's
	// time over; callers must take the forced-submission path.
	ErrSessionExpired = errors.New("quiz session expired")
	// ErrUnauthorized is returned when auth is lost mid-attempt. It always
	// propagates to the caller for re-login and is never retried silently.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSaveFailed wraps transient network failures during a save; local
	// optimistic state is retained and the next action may re-attempt.
	ErrSaveFailed = errors.New("answer save failed")
	// ErrValidationRejected is returned when the backend rejects a navigate
	// or skip as structurally invalid. Logged, not surfaced; local state
	// stays authoritative for UX.
	ErrValidationRejected = errors.New("request rejected by backend")
	// ErrNoActiveSession is returned by operations that require a live
	// attempt when none exists.
	ErrNoActiveSession = errors.New("no active quiz session")
	// ErrSessionActive is returned by Start when an attempt is already in
	// progress; at most one attempt may be active per user.
	ErrSessionActive = errors.New("a quiz session is already active")
	// ErrIndexOutOfRange is returned for navigation outside the question
	// sequence.
	ErrIndexOutOfRange = errors.New("question index out of range")
)
