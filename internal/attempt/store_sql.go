package attempt

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh}
}

func (s *SQLStore) NextNumber(ctx context.Context, headerID, participantID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(attempt_number) FROM response_attempts WHERE header_id=$1 AND participant_id=$2`,
		headerID, participantID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("%w: next attempt number: %v", apperr.ErrPersistence, err)
	}
	return int(max.Int64) + 1, nil
}

func (s *SQLStore) Insert(ctx context.Context, a Attempt) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO response_attempts
			 (id,header_id,participant_id,attempt_number,score,passed,proof_key,proof_digest,completed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			a.ID, a.HeaderID, a.ParticipantID, a.Number, a.Score, a.Passed,
			a.ProofKey, a.ProofDigest, a.CompletedAt.Unix()); err != nil {
			return err
		}
		for _, d := range a.Details {
			value := string(d.Value)
			if value == "" {
				value = "null"
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO response_details (attempt_id,question_id,value_json,correct,needs_review)
				 VALUES ($1,$2,$3,$4,$5)`,
				a.ID, d.QuestionID, value, d.Correct, d.NeedsReview); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: attempt %d already recorded", apperr.ErrConflict, a.Number)
	default:
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
}

func (s *SQLStore) List(ctx context.Context, headerID, participantID string) ([]Attempt, error) {
	q := `SELECT id,header_id,participant_id,attempt_number,score,passed,proof_key,proof_digest,completed_at
	      FROM response_attempts WHERE header_id=$1`
	args := []any{headerID}
	if participantID != "" {
		q += ` AND participant_id=$2`
		args = append(args, participantID)
	}
	q += ` ORDER BY participant_id, attempt_number DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := []Attempt{}
	index := map[string]int{}
	for rows.Next() {
		var a Attempt
		var completed int64
		if err := rows.Scan(&a.ID, &a.HeaderID, &a.ParticipantID, &a.Number, &a.Score, &a.Passed,
			&a.ProofKey, &a.ProofDigest, &completed); err != nil {
			_ = rows.Close()
			return nil, err
		}
		a.CompletedAt = time.Unix(completed, 0).UTC()
		index[a.ID] = len(out)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	drows, err := s.db.QueryContext(ctx,
		`SELECT d.attempt_id,d.question_id,d.value_json,d.correct,d.needs_review
		 FROM response_details d
		 JOIN response_attempts a ON a.id = d.attempt_id
		 WHERE a.header_id=$1
		 ORDER BY d.attempt_id, d.question_id`, headerID)
	if err != nil {
		return nil, err
	}
	defer drows.Close()
	for drows.Next() {
		var d Detail
		var attemptID, value string
		if err := drows.Scan(&attemptID, &d.QuestionID, &value, &d.Correct, &d.NeedsReview); err != nil {
			return nil, err
		}
		d.Value = []byte(value)
		if i, ok := index[attemptID]; ok {
			out[i].Details = append(out[i].Details, d)
		}
	}
	return out, drows.Err()
}
