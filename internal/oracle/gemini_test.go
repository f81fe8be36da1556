package oracle

import (
	"strings"
	"testing"

	"github.com/voxhire/voxhire/internal/interview"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantScr  float64
		wantComm string
	}{
		{
			name:     "clean json",
			in:       `{"score": 4, "commentary": "solid answer"}`,
			wantScr:  4,
			wantComm: "solid answer",
		},
		{
			name:     "fenced json",
			in:       "```json\n{\"score\": 2, \"commentary\": \"thin\"}\n```",
			wantScr:  2,
			wantComm: "thin",
		},
		{
			name:     "score above range clamps",
			in:       `{"score": 9, "commentary": "x"}`,
			wantScr:  5,
			wantComm: "x",
		},
		{
			name:     "negative score clamps",
			in:       `{"score": -1, "commentary": "x"}`,
			wantScr:  0,
			wantComm: "x",
		},
		{
			name:     "prose fallback defaults to 3",
			in:       "I would rate this answer highly.",
			wantScr:  3,
			wantComm: "I would rate this answer highly.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEvaluation(tt.in)
			if got.Score != tt.wantScr {
				t.Fatalf("score=%v, want %v", got.Score, tt.wantScr)
			}
			if got.Commentary != tt.wantComm {
				t.Fatalf("commentary=%q, want %q", got.Commentary, tt.wantComm)
			}
		})
	}
}

func TestParseReport_WellFormed(t *testing.T) {
	in := `{
		"dimension_scores": {"communication": 4, "ownership": 2},
		"strengths": ["clear speaker"],
		"risks": ["little delivery detail"],
		"recommendation": "RECOMMENDED",
		"summary": "Good fit overall."
	}`
	r := parseReport(in, []string{"communication", "ownership"}, nil)
	if r.Recommendation != interview.Recommended {
		t.Fatalf("recommendation=%q", r.Recommendation)
	}
	if r.DimensionScores["communication"] != 4 || r.DimensionScores["ownership"] != 2 {
		t.Fatalf("scores=%v", r.DimensionScores)
	}
	if len(r.Strengths) != 1 || len(r.Risks) != 1 {
		t.Fatalf("strengths=%v risks=%v", r.Strengths, r.Risks)
	}
	if r.Summary != "Good fit overall." {
		t.Fatalf("summary=%q", r.Summary)
	}
}

func TestParseReport_UnknownRecommendationDowngrades(t *testing.T) {
	in := `{"dimension_scores": {}, "recommendation": "MAYBE", "summary": "s"}`
	r := parseReport(in, []string{"grit"}, nil)
	if r.Recommendation != interview.Cautious {
		t.Fatalf("recommendation=%q, want CAUTIOUS", r.Recommendation)
	}
}

func TestParseReport_GarbageFallsBackToDefault(t *testing.T) {
	turns := []interview.Turn{
		{Number: 1, Dimension: "grit", Score: 4, Answered: true},
		{Number: 2, Dimension: "grit", Score: 2, Answered: true},
		{Number: 3, Dimension: "grit", Score: 5, Answered: false},
	}
	long := strings.Repeat("the model rambled ", 60)
	r := parseReport(long, []string{"grit", "craft"}, turns)

	if r.Recommendation != interview.Cautious {
		t.Fatalf("fallback recommendation=%q, want CAUTIOUS", r.Recommendation)
	}
	// Unanswered turns do not contribute to the fallback scores.
	if r.DimensionScores["grit"] != 3 {
		t.Fatalf("grit=%v, want 3", r.DimensionScores["grit"])
	}
	if r.DimensionScores["craft"] != 0 {
		t.Fatalf("craft=%v, want 0", r.DimensionScores["craft"])
	}
	if len(r.Summary) != 500 {
		t.Fatalf("summary length=%d, want truncation to 500", len(r.Summary))
	}
}

func TestParseReport_MissingDimensionBackfilledFromTurns(t *testing.T) {
	turns := []interview.Turn{{Number: 1, Dimension: "craft", Score: 4, Answered: true}}
	in := `{"dimension_scores": {"grit": 3}, "recommendation": "CAUTIOUS", "summary": "s"}`
	r := parseReport(in, []string{"grit", "craft"}, turns)
	if r.DimensionScores["craft"] != 4 {
		t.Fatalf("craft=%v, want backfill 4", r.DimensionScores["craft"])
	}
}

func TestExtractJSONObject(t *testing.T) {
	if got := extractJSONObject("no json here"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if got := extractJSONObject(`before {"a":1} after`); got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}
