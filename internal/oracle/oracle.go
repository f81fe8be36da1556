// Package oracle talks to the dialogue model. The scripted-mode Gemini
// client covers question generation, answer evaluation, report writing,
// transcription and speech synthesis; the live-mode channel is a duplex
// websocket client for the realtime API.
package oracle

import "github.com/voxhire/voxhire/internal/interview"

// Question is one generated interview question, bound to the dimension it
// probes.
type Question struct {
	Dimension string
	Text      string
}

// Evaluation is the model's judgement of one answer. Score is always in
// [0, 5].
type Evaluation struct {
	Score      float64
	Commentary string
}

// Context carries everything the model needs to produce the next question.
type Context struct {
	Position   string
	Candidate  string
	Dimensions []string
	Turns      []interview.Turn
	// Target is the dimension the next question must probe.
	Target string
	// MustCover means the remaining turn budget only just fits the
	// uncovered dimensions, so the question cannot stray from Target.
	MustCover bool
	MinTurns  int
	MaxTurns  int
}
