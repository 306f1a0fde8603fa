package assessment

import (
	"context"
	"database/sql"
	"errors"
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

const headerCols = `id,form_id,title,instructions,state,active_from,active_until,created_by,updated_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeader(row rowScanner) (Header, error) {
	var (
		h            Header
		state        string
		from, until  sql.NullInt64
		created, upd int64
	)
	if err := row.Scan(&h.ID, &h.FormID, &h.Title, &h.Instructions, &state, &from, &until,
		&h.CreatedBy, &h.UpdatedBy, &created, &upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Header{}, apperr.ErrNotFound
		}
		return Header{}, err
	}
	h.State = State(state)
	h.ActiveFrom = fromNullUnix(from)
	h.ActiveUntil = fromNullUnix(until)
	h.CreatedAt = time.Unix(created, 0).UTC()
	h.UpdatedAt = time.Unix(upd, 0).UTC()
	return h, nil
}

func (s *SQLStore) GetStructure(ctx context.Context, formID string) (Structure, error) {
	h, err := scanHeader(s.db.QueryRowContext(ctx,
		`SELECT `+headerCols+` FROM assessment_headers WHERE form_id=$1`, formID))
	if err != nil {
		return Structure{}, err
	}
	return s.loadBody(ctx, h)
}

func (s *SQLStore) GetStructureByID(ctx context.Context, id string) (Structure, error) {
	h, err := scanHeader(s.db.QueryRowContext(ctx,
		`SELECT `+headerCols+` FROM assessment_headers WHERE id=$1`, id))
	if err != nil {
		return Structure{}, err
	}
	return s.loadBody(ctx, h)
}

// loadBody decodes media, questions and options into structured lists.
func (s *SQLStore) loadBody(ctx context.Context, h Header) (Structure, error) {
	out := Structure{Header: h, Questions: []Question{}}

	var m Media
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind,locator,title FROM assessment_media WHERE header_id=$1`, h.ID).
		Scan(&kind, &m.Locator, &m.Title)
	switch {
	case err == nil:
		m.Kind = MediaKind(kind)
		out.Media = &m
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Structure{}, fmt.Errorf("load media: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id,type,prompt,trigger_pos,order_index FROM assessment_questions
		 WHERE header_id=$1 ORDER BY order_index`, h.ID)
	if err != nil {
		return Structure{}, fmt.Errorf("load questions: %w", err)
	}
	index := map[string]int{}
	for rows.Next() {
		var q Question
		var typ string
		if err := rows.Scan(&q.ID, &typ, &q.Prompt, &q.Trigger, &q.Order); err != nil {
			_ = rows.Close()
			return Structure{}, err
		}
		q.HeaderID = h.ID
		q.Type = QuestionType(typ)
		q.Options = []Option{}
		index[q.ID] = len(out.Questions)
		out.Questions = append(out.Questions, q)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Structure{}, err
	}
	_ = rows.Close()

	orows, err := s.db.QueryContext(ctx,
		`SELECT o.id,o.question_id,o.text,o.correct,o.rank
		 FROM assessment_options o
		 JOIN assessment_questions q ON q.header_id = o.header_id AND q.id = o.question_id
		 WHERE o.header_id=$1
		 ORDER BY q.order_index, o.position`, h.ID)
	if err != nil {
		return Structure{}, fmt.Errorf("load options: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		var o Option
		var qid string
		if err := orows.Scan(&o.ID, &qid, &o.Text, &o.Correct, &o.Rank); err != nil {
			return Structure{}, err
		}
		if i, ok := index[qid]; ok {
			out.Questions[i].Options = append(out.Questions[i].Options, o)
		}
	}
	return out, orows.Err()
}

func (s *SQLStore) CreateStructure(ctx context.Context, st Structure) error {
	h := st.Header
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assessment_headers (`+headerCols+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			h.ID, h.FormID, h.Title, h.Instructions, string(h.State),
			toNullUnix(h.ActiveFrom), toNullUnix(h.ActiveUntil),
			h.CreatedBy, h.UpdatedBy, h.CreatedAt.Unix(), h.UpdatedAt.Unix()); err != nil {
			return err
		}
		return insertBody(ctx, tx, st)
	})
	return mapWriteErr(err)
}

func (s *SQLStore) ReplaceStructure(ctx context.Context, st Structure) error {
	h := st.Header
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE assessment_headers SET title=$1, instructions=$2, updated_by=$3, updated_at=$4 WHERE id=$5`,
			h.Title, h.Instructions, h.UpdatedBy, h.UpdatedAt.Unix(), h.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		if err := deleteBody(ctx, tx, h.ID); err != nil {
			return err
		}
		return insertBody(ctx, tx, st)
	})
	return mapWriteErr(err)
}

func deleteBody(ctx context.Context, tx *sql.Tx, headerID string) error {
	stmts := []string{
		`DELETE FROM assessment_options WHERE header_id=$1`,
		`DELETE FROM assessment_questions WHERE header_id=$1`,
		`DELETE FROM assessment_media WHERE header_id=$1`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, headerID); err != nil {
			return err
		}
	}
	return nil
}

func insertBody(ctx context.Context, tx *sql.Tx, st Structure) error {
	h := st.Header
	if st.Media != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assessment_media (header_id,kind,locator,title) VALUES ($1,$2,$3,$4)`,
			h.ID, string(st.Media.Kind), st.Media.Locator, st.Media.Title); err != nil {
			return err
		}
	}
	for _, q := range st.Questions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assessment_questions (id,header_id,type,prompt,trigger_pos,order_index)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			q.ID, h.ID, string(q.Type), q.Prompt, q.Trigger, q.Order); err != nil {
			return err
		}
		for pos, o := range q.Options {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO assessment_options (id,header_id,question_id,position,text,correct,rank)
				 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				o.ID, h.ID, q.ID, pos, o.Text, o.Correct, o.Rank); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLStore) SetState(ctx context.Context, id string, ch StateChange) (Header, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessment_headers SET state=$1, active_from=$2, active_until=$3, updated_by=$4, updated_at=$5 WHERE id=$6`,
		string(ch.State), toNullUnix(ch.ActiveFrom), toNullUnix(ch.ActiveUntil), ch.EditorID, ch.At.Unix(), id)
	if err != nil {
		return Header{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Header{}, apperr.ErrNotFound
	}
	return scanHeader(s.db.QueryRowContext(ctx,
		`SELECT `+headerCols+` FROM assessment_headers WHERE id=$1`, id))
}

func (s *SQLStore) DeleteStructure(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := deleteBody(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM assessment_headers WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) HasAttempts(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM response_attempts WHERE header_id=$1 LIMIT 1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func mapWriteErr(err error) error {
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate form id, or question or option id within the structure", apperr.ErrConflict)
	}
	return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
