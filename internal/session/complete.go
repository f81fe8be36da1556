package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxhire/voxhire/internal/interview"
)

// completer runs the terminal transaction for one session. Both orchestration
// modes funnel through it, so the one-shot guard and the store precondition
// live in exactly one place.
type completer struct {
	store    Store
	reporter ReportGenerator
	logger   *slog.Logger
	iv       interview.Interview
	timeout  time.Duration

	fired atomic.Bool
}

// started reports whether completion has begun. Used to classify transport
// teardown after the interview finished as benign.
func (c *completer) started() bool {
	return c.fired.Load()
}

// run performs the completion at most once. ran=false means another call got
// there first and nothing was done. The store's own precondition still
// applies underneath, against completions from other processes.
func (c *completer) run(ctx context.Context, turns []interview.Turn) (ran bool, err error) {
	if !c.fired.CompareAndSwap(false, true) {
		return false, nil
	}

	report, err := c.generateReport(ctx, turns)
	if err != nil {
		return true, fmt.Errorf("generating report: %w", err)
	}
	applied, err := c.store.CompleteWithReport(ctx, c.iv.ID, report)
	if err != nil {
		return true, fmt.Errorf("completing interview: %w", err)
	}
	if !applied {
		c.logger.Info("interview already completed elsewhere", "interview", c.iv.ID)
	}
	return true, nil
}

// generateReport is retried once, like every other oracle call.
func (c *completer) generateReport(ctx context.Context, turns []interview.Turn) (interview.Report, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		report, err := c.reporter.GenerateReport(callCtx, c.iv.Position, turns, c.iv.Dimensions)
		cancel()
		if err == nil {
			return report, nil
		}
		lastErr = err
		c.logger.Warn("report generation failed", "interview", c.iv.ID, "attempt", attempt+1, "error", err)
	}
	return interview.Report{}, lastErr
}
