package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxhire/voxhire/internal/interview"
)

// Memory keeps everything in process. It mirrors the Postgres semantics,
// including the completion precondition, so tests exercise the same
// contract.
type Memory struct {
	mu         sync.Mutex
	interviews map[string]*interview.Interview // by id
	byToken    map[string]string
	turns      map[string][]interview.Turn
	reports    map[string]interview.Report
}

func NewMemory() *Memory {
	return &Memory{
		interviews: make(map[string]*interview.Interview),
		byToken:    make(map[string]string),
		turns:      make(map[string][]interview.Turn),
		reports:    make(map[string]interview.Report),
	}
}

// Put inserts or replaces an interview record. Used for seeding.
func (m *Memory) Put(iv interview.Interview) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := iv
	m.interviews[iv.ID] = &cp
	m.byToken[iv.Token] = iv.ID
}

func (m *Memory) GetInterviewByToken(_ context.Context, token string) (interview.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return interview.Interview{}, ErrNotFound
	}
	return *m.interviews[id], nil
}

func (m *Memory) ListTurns(_ context.Context, interviewID string) ([]interview.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[interviewID]
	out := make([]interview.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *Memory) AppendTurn(_ context.Context, interviewID string, t interview.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.turns[interviewID] {
		if existing.Number == t.Number {
			return fmt.Errorf("inserting turn %d: duplicate turn number", t.Number)
		}
	}
	m.turns[interviewID] = append(m.turns[interviewID], t)
	return nil
}

func (m *Memory) UpdateTurnAnswer(_ context.Context, interviewID string, number int, answer string, score float64, commentary string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[interviewID]
	for i := range turns {
		if turns[i].Number == number {
			turns[i].Answer = answer
			turns[i].Score = score
			turns[i].Commentary = commentary
			turns[i].Answered = true
			turns[i].Duration = duration
			return nil
		}
	}
	return fmt.Errorf("updating turn %d: no such turn", number)
}

func (m *Memory) MarkInProgress(_ context.Context, interviewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[interviewID]
	if !ok {
		return ErrNotFound
	}
	if iv.Status == interview.StatusPending {
		iv.Status = interview.StatusInProgress
		now := time.Now()
		iv.StartedAt = &now
	}
	return nil
}

func (m *Memory) CompleteWithReport(_ context.Context, interviewID string, report interview.Report) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[interviewID]
	if !ok {
		return false, ErrNotFound
	}
	if iv.Status == interview.StatusCompleted {
		return false, nil
	}
	iv.Status = interview.StatusCompleted
	now := time.Now()
	iv.CompletedAt = &now
	m.reports[interviewID] = report
	return true, nil
}

// Report returns the stored report, if any. Test helper.
func (m *Memory) Report(interviewID string) (interview.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[interviewID]
	return r, ok
}
