// Package store persists interviews, turns and reports. The Postgres
// implementation backs the server; the in-memory implementation backs tests
// and local runs without a database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxhire/voxhire/internal/interview"
)

var ErrNotFound = errors.New("store: interview not found")

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) GetInterviewByToken(ctx context.Context, token string) (interview.Interview, error) {
	var iv interview.Interview
	err := s.pool.QueryRow(ctx, `
		SELECT id, token, status, position, candidate, dimensions, min_turns, max_turns, started_at, completed_at
		FROM interviews WHERE token = $1`, token,
	).Scan(&iv.ID, &iv.Token, &iv.Status, &iv.Position, &iv.Candidate, &iv.Dimensions,
		&iv.MinTurns, &iv.MaxTurns, &iv.StartedAt, &iv.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Interview{}, ErrNotFound
	}
	if err != nil {
		return interview.Interview{}, fmt.Errorf("querying interview: %w", err)
	}
	return iv, nil
}

func (s *Postgres) ListTurns(ctx context.Context, interviewID string) ([]interview.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT turn_number, dimension, question, answer, score, commentary, answered, asked_at, duration_ms
		FROM turns WHERE interview_id = $1 ORDER BY turn_number ASC`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []interview.Turn
	for rows.Next() {
		var t interview.Turn
		var durationMS int64
		if err := rows.Scan(&t.Number, &t.Dimension, &t.Question, &t.Answer, &t.Score,
			&t.Commentary, &t.Answered, &t.AskedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Duration = time.Duration(durationMS) * time.Millisecond
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurn records a newly asked question. The unique constraint on
// (interview_id, turn_number) guarantees turn numbers never collide even if
// two writers race.
func (s *Postgres) AppendTurn(ctx context.Context, interviewID string, t interview.Turn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turns (id, interview_id, turn_number, dimension, question, answer, score, commentary, answered, asked_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.NewString(), interviewID, t.Number, t.Dimension, t.Question, t.Answer,
		t.Score, t.Commentary, t.Answered, t.AskedAt, t.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("inserting turn %d: %w", t.Number, err)
	}
	return nil
}

// UpdateTurnAnswer closes an open turn with its transcript and score.
func (s *Postgres) UpdateTurnAnswer(ctx context.Context, interviewID string, number int, answer string, score float64, commentary string, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE turns SET answer = $1, score = $2, commentary = $3, answered = TRUE, duration_ms = $4
		WHERE interview_id = $5 AND turn_number = $6`,
		answer, score, commentary, duration.Milliseconds(), interviewID, number)
	if err != nil {
		return fmt.Errorf("updating turn %d: %w", number, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating turn %d: no such turn", number)
	}
	return nil
}

// MarkInProgress flips a pending interview to IN_PROGRESS when the first
// question goes out. Already-started interviews are left untouched.
func (s *Postgres) MarkInProgress(ctx context.Context, interviewID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE interviews SET status = $1, started_at = now()
		WHERE id = $2 AND status = $3`,
		interview.StatusInProgress, interviewID, interview.StatusPending)
	if err != nil {
		return fmt.Errorf("marking in progress: %w", err)
	}
	return nil
}

// CompleteWithReport finishes the interview exactly once. The status flip
// carries the precondition: if another writer completed first, zero rows are
// affected, no report row is written and applied is false. The status update
// and report insert commit atomically.
func (s *Postgres) CompleteWithReport(ctx context.Context, interviewID string, report interview.Report) (applied bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE interviews SET status = $1, completed_at = now()
		WHERE id = $2 AND status <> $1`,
		interview.StatusCompleted, interviewID)
	if err != nil {
		return false, fmt.Errorf("completing interview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	scores, err := json.Marshal(report.DimensionScores)
	if err != nil {
		return false, fmt.Errorf("encoding dimension scores: %w", err)
	}
	transcript, err := json.Marshal(report.Transcript)
	if err != nil {
		return false, fmt.Errorf("encoding transcript: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO reports (id, interview_id, dimension_scores, strengths, risks, recommendation, summary, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), interviewID, scores, report.Strengths, report.Risks,
		report.Recommendation, report.Summary, transcript)
	if err != nil {
		return false, fmt.Errorf("inserting report: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing completion: %w", err)
	}
	return true, nil
}
