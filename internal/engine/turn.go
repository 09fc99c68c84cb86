package engine

import "time"

// Speaker identifies who holds the floor during a turn.
type Speaker string

const (
	SpeakerAgent     Speaker = "agent"
	SpeakerCandidate Speaker = "candidate"
)

// Outcome is the terminal result of a sealed turn.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeInterrupted Outcome = "interrupted"
)

// Turn is one exchange unit. It is created when the session transitions
// into an agent or candidate turn and sealed when the next transition
// occurs.
type Turn struct {
	Speaker         Speaker
	QuestionID      *int
	StartedAt       time.Time
	EndedAt         time.Time
	DeadlineSeconds int
	Outcome         Outcome

	// PendingScore marks a sealed candidate turn whose evaluation has been
	// started upstream. Informational only.
	PendingScore bool
}
