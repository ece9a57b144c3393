package domain

import "time"

// QuizKind selects which timed-attempt variant a session runs.
type QuizKind string

const (
	KindMockTest QuizKind = "mock_test"
	KindTimeQuiz QuizKind = "time_quiz"
)

// SessionStatus is the server-visible lifecycle of an attempt.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusTimedOut   SessionStatus = "timed_out"
	StatusAbandoned  SessionStatus = "abandoned"
)

// QuestionType decides the answer shape and the sync policy.
type QuestionType string

const (
	TypeSingleChoice   QuestionType = "single_choice"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeEssay          QuestionType = "essay"
)

// Option is one selectable choice of a question. IDs are unique per question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SessionQuestion is one exam item inside an attempt.
// IsAnswered and IsSkipped are mutually exclusive; the last state-changing
// action wins. PointsEarned is populated only after server feedback.
type SessionQuestion struct {
	QuestionID   string       `json:"question_id"`
	Type         QuestionType `json:"type"`
	Options      []Option     `json:"options,omitempty"`
	Difficulty   string       `json:"difficulty,omitempty"`
	Points       int          `json:"points"`
	IsAnswered   bool         `json:"is_answered"`
	IsSkipped    bool         `json:"is_skipped"`
	VisitCount   int          `json:"visit_count"`
	PointsEarned int          `json:"points_earned,omitempty"`
}

// QuizSession is one active attempt. The id, token and start time are
// immutable for the attempt's lifetime; StartTime is server clock and is the
// authoritative timer anchor.
type QuizSession struct {
	ID               string            `json:"id"`
	Kind             QuizKind          `json:"quiz_type"`
	SessionToken     string            `json:"session_token"`
	TotalQuestions   int               `json:"total_questions"`
	TimeLimitSeconds int               `json:"time_limit_seconds"`
	Questions        []SessionQuestion `json:"questions"`
	StartTime        time.Time         `json:"start_time"`
	Status           SessionStatus     `json:"status"`
}

// Answer is the value held for one question index: a single option id, a set
// of option ids, or free text, depending on the question type. A zero Answer
// never appears in the answer map; absence means unanswered.
type Answer struct {
	OptionID  string   `json:"option_id,omitempty"`
	OptionIDs []string `json:"option_ids,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// SingleChoice builds an answer selecting one option.
func SingleChoice(optionID string) Answer { return Answer{OptionID: optionID} }

// MultipleChoice builds an answer selecting a set of options.
func MultipleChoice(optionIDs ...string) Answer { return Answer{OptionIDs: optionIDs} }

// EssayText builds a free-text answer.
func EssayText(text string) Answer { return Answer{Text: text} }

// Equal reports whether two answers carry the same content. Option sets
// compare order-sensitively; callers keep selection order stable.
func (a Answer) Equal(b Answer) bool {
	if a.OptionID != b.OptionID || a.Text != b.Text {
		return false
	}
	if len(a.OptionIDs) != len(b.OptionIDs) {
		return false
	}
	for i := range a.OptionIDs {
		if a.OptionIDs[i] != b.OptionIDs[i] {
			return false
		}
	}
	return true
}

// AnswerFeedback is the server's immediate grading of a saved answer.
// Populated only for choice-type questions; essays are graded manually.
type AnswerFeedback struct {
	IsCorrect     bool   `json:"is_correct"`
	PointsEarned  int    `json:"points_earned"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
	SampleAnswer  string `json:"sample_answer,omitempty"`
}

// QuizResult is the terminal artifact returned by submit. The engine never
// computes scores; these fields exist for display and archiving only.
type QuizResult struct {
	SessionID      string    `json:"session_id"`
	Kind           QuizKind  `json:"quiz_type"`
	TotalQuestions int       `json:"total_questions"`
	CorrectAnswers int       `json:"correct_answers"`
	TotalPoints    int       `json:"total_points"`
	EarnedPoints   int       `json:"earned_points"`
	CompletedAt    time.Time `json:"completed_at"`
}

// RemoteSession is the authoritative session view returned by the backend
// when fetching by token; the source of truth on resume.
type RemoteSession struct {
	Session              QuizSession `json:"session"`
	TimeRemainingSeconds int         `json:"time_remaining"`
	IsExpired            bool        `json:"is_expired"`
}

// QuizConfig carries the per-kind constants owned by the external
// quiz-configuration collaborator.
type QuizConfig struct {
	Kind             QuizKind `json:"kind"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
	TotalQuestions   int      `json:"total_questions"`
	TotalPoints      int      `json:"total_points"`
}

// Snapshot is the locally persisted attempt state used for recovery across
// reloads: token, kind, full session, answer map, timer anchor, position.
// All fields are written and cleared together; the state machine is the only
// writer.
type Snapshot struct {
	SessionToken string         `json:"session_token"`
	Kind         QuizKind       `json:"quiz_type"`
	Session      QuizSession    `json:"session"`
	Answers      map[int]Answer `json:"answers"`
	StartedAt    time.Time      `json:"started_at"`
	CurrentIndex int            `json:"current_index"`
}
