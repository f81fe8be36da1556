// Package interview holds the domain model for one scheduled interview:
// the interview record itself, its turns, the terminal report, and the
// coverage/termination policy that decides when the interview is done.
package interview

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

type Recommendation string

const (
	Recommended    Recommendation = "RECOMMENDED"
	Cautious       Recommendation = "CAUTIOUS"
	NotRecommended Recommendation = "NOT_RECOMMENDED"
)

// Interview is one scheduled conversation. The token is an opaque,
// unguessable capability identifier and doubles as the session key.
type Interview struct {
	ID          string
	Token       string
	Status      Status
	Position    string
	Candidate   string
	Dimensions  []string
	MinTurns    int
	MaxTurns    int
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Turn is one question/answer exchange. A turn is created when its question
// is emitted and mutated exactly once when the answer is scored. The most
// recent turn with an empty answer is the current open turn; there is at
// most one open turn per interview at any time.
type Turn struct {
	Number     int
	Dimension  string
	Question   string
	Answer     string
	Score      float64
	Commentary string
	Answered   bool
	AskedAt    time.Time
	Duration   time.Duration
}

// Report is the terminal artifact, created exactly once per interview at
// the moment its status transitions to COMPLETED.
type Report struct {
	DimensionScores map[string]float64
	Strengths       []string
	Risks           []string
	Recommendation  Recommendation
	Summary         string
	Transcript      []Turn
}
