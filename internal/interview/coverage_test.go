package interview

import "testing"

func TestCoverageTracker_MinimalInterview(t *testing.T) {
	c := NewCoverageTracker([]string{"A", "B"}, 2, 4)

	c.Observe("A")
	if c.ShouldEnd() {
		t.Fatalf("should not end after 1 turn")
	}
	c.Observe("B")
	if !c.ShouldEnd() {
		t.Fatalf("should end after covering A and B with min met")
	}
	if got := c.TurnsCompleted(); got != 2 {
		t.Fatalf("turns=%d, want 2", got)
	}
}

func TestCoverageTracker_BudgetExhaustionWithoutCoverage(t *testing.T) {
	c := NewCoverageTracker([]string{"A", "B", "C"}, 2, 3)

	c.Observe("A")
	c.Observe("A")
	if c.ShouldEnd() {
		t.Fatalf("should not end at 2 turns with coverage incomplete")
	}
	c.Observe("A")
	if !c.ShouldEnd() {
		t.Fatalf("must end at max turns regardless of coverage")
	}
	if c.AllCovered() {
		t.Fatalf("coverage should be incomplete")
	}
}

func TestCoverageTracker_EffectiveMinFloor(t *testing.T) {
	// minTurns below the dimension count is raised to the dimension count.
	c := NewCoverageTracker([]string{"A", "B", "C"}, 1, 10)
	if got := c.MinTurns(); got != 3 {
		t.Fatalf("effective min=%d, want 3", got)
	}

	c.Observe("A")
	c.Observe("B")
	if c.ShouldEnd() {
		t.Fatalf("should not end before the effective floor")
	}
	c.Observe("C")
	if !c.ShouldEnd() {
		t.Fatalf("should end once floor met and all covered")
	}
}

func TestCoverageTracker_ShouldEndTruthTable(t *testing.T) {
	tests := []struct {
		name     string
		observe  []string
		min, max int
		want     bool
	}{
		{"nothing observed", nil, 2, 4, false},
		{"covered but floor unmet", []string{"A", "B"}, 3, 6, false},
		{"floor met but uncovered", []string{"A", "A", "A"}, 2, 6, false},
		{"floor met and covered", []string{"A", "B", "A"}, 2, 6, true},
		{"hard cap", []string{"A", "A"}, 2, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoverageTracker([]string{"A", "B"}, tt.min, tt.max)
			for _, d := range tt.observe {
				c.Observe(d)
			}
			if got := c.ShouldEnd(); got != tt.want {
				t.Fatalf("ShouldEnd=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoverageTracker_NextDimensionPrefersUncovered(t *testing.T) {
	c := NewCoverageTracker([]string{"A", "B", "C"}, 3, 5)

	if got := c.NextDimension(); got != "A" {
		t.Fatalf("first dimension=%q, want A", got)
	}
	c.Observe("A")
	if got := c.NextDimension(); got != "B" {
		t.Fatalf("next=%q, want B", got)
	}
	c.Observe("B")
	c.Observe("C")

	// All covered, floor unmet would allow revisits; here the floor is met,
	// but NextDimension must still return something valid for deepening.
	if got := c.NextDimension(); got == "" {
		t.Fatalf("expected a revisit dimension, got empty")
	}
}

func TestCoverageTracker_MustTargetUncovered(t *testing.T) {
	c := NewCoverageTracker([]string{"A", "B", "C"}, 3, 4)

	// 3 uncovered, 4 turns remaining: not yet forced.
	if c.MustTargetUncovered() != false {
		t.Fatalf("not forced with slack budget")
	}
	c.Observe("A") // covered={A}, 2 uncovered, 3 remaining
	if c.MustTargetUncovered() {
		t.Fatalf("still slack")
	}
	c.Observe("A") // 2 uncovered, 2 remaining: forced
	if !c.MustTargetUncovered() {
		t.Fatalf("selection must be constrained to uncovered dimensions")
	}
}

func TestCoverageTracker_ObserveUnknownDimensionCountsTurn(t *testing.T) {
	c := NewCoverageTracker([]string{"A"}, 1, 3)
	c.Observe("X")
	if c.TurnsCompleted() != 1 {
		t.Fatalf("unknown dimension must still count the turn")
	}
	if c.AllCovered() {
		t.Fatalf("unknown dimension must not count as coverage")
	}
}
