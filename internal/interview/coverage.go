package interview

// CoverageTracker owns the evaluation-dimension bookkeeping and the
// termination policy for one interview. It is not safe for concurrent use;
// the session orchestrator serializes all calls.
type CoverageTracker struct {
	all      []string
	covered  map[string]struct{}
	turns    int
	minTurns int
	maxTurns int
}

// NewCoverageTracker seeds the tracker. The effective minimum floor is
// max(minTurns, len(dimensions)): full coverage requires at least one turn
// per dimension, so a configured minimum below the dimension count cannot be
// honoured anyway. The hard cap maxTurns always wins over the floor.
func NewCoverageTracker(dimensions []string, minTurns, maxTurns int) *CoverageTracker {
	if minTurns < len(dimensions) {
		minTurns = len(dimensions)
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &CoverageTracker{
		all:      append([]string(nil), dimensions...),
		covered:  make(map[string]struct{}, len(dimensions)),
		minTurns: minTurns,
		maxTurns: maxTurns,
	}
}

// Observe records one completed (scored) turn targeting dimension.
func (c *CoverageTracker) Observe(dimension string) {
	c.turns++
	for _, d := range c.all {
		if d == dimension {
			c.covered[dimension] = struct{}{}
			return
		}
	}
}

// AllCovered reports whether every configured dimension has at least one
// scored turn.
func (c *CoverageTracker) AllCovered() bool {
	return len(c.covered) >= len(c.all)
}

// Covered returns the covered dimensions in configuration order.
func (c *CoverageTracker) Covered() []string {
	out := make([]string, 0, len(c.covered))
	for _, d := range c.all {
		if _, ok := c.covered[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Uncovered returns the dimensions with no scored turn yet, in
// configuration order.
func (c *CoverageTracker) Uncovered() []string {
	out := make([]string, 0, len(c.all))
	for _, d := range c.all {
		if _, ok := c.covered[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}

// TurnsCompleted returns the number of scored turns observed so far.
func (c *CoverageTracker) TurnsCompleted() int { return c.turns }

// MinTurns returns the effective minimum floor being enforced.
func (c *CoverageTracker) MinTurns() int { return c.minTurns }

// MaxTurns returns the hard turn cap.
func (c *CoverageTracker) MaxTurns() int { return c.maxTurns }

// ShouldEnd decides whether the interview ends after the turns observed so
// far: either the hard cap is reached, or the minimum floor is met with all
// dimensions covered.
func (c *CoverageTracker) ShouldEnd() bool {
	if c.turns >= c.maxTurns {
		return true
	}
	return c.turns >= c.minTurns && c.AllCovered()
}

// NextDimension selects the dimension for the next question. Uncovered
// dimensions come first; when the uncovered count meets or exceeds the
// remaining turn budget the selection is restricted to uncovered dimensions
// so full coverage stays achievable. With everything covered but the floor
// unmet, any dimension may be revisited (round-robin over the configured
// order keeps the revisit spread).
func (c *CoverageTracker) NextDimension() string {
	if len(c.all) == 0 {
		return ""
	}
	uncovered := c.Uncovered()
	if len(uncovered) > 0 {
		return uncovered[0]
	}
	return c.all[c.turns%len(c.all)]
}

// MustTargetUncovered reports whether question selection is currently
// constrained to uncovered dimensions only.
func (c *CoverageTracker) MustTargetUncovered() bool {
	uncovered := len(c.all) - len(c.covered)
	if uncovered == 0 {
		return false
	}
	return uncovered >= c.maxTurns-c.turns
}
