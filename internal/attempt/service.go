package attempt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/audit"
	"github.com/mind-engage/mindengage-training/internal/grading"
	"github.com/mind-engage/mindengage-training/internal/keylock"
	"github.com/mind-engage/mindengage-training/internal/rbac"
	"github.com/mind-engage/mindengage-training/internal/storage"
	"github.com/mind-engage/mindengage-training/internal/validation"
)

// insertTries bounds retries when a concurrent writer takes the attempt number.
const insertTries = 3

// StructureSource resolves the structure a submission is graded against.
type StructureSource interface {
	GetByID(ctx context.Context, id string) (assessment.Structure, error)
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role string
}

type Service struct {
	store      Store
	structures StructureSource
	engine     *grading.Engine
	blobs      storage.BlobStore
	checker    *rbac.Checker
	audit      audit.Sink
	validator  *validation.Validator
	logger     *slog.Logger
	locks      *keylock.Map

	now   func() time.Time
	newID func() string
}

type ServiceOption func(*Service)

func WithEngine(e *grading.Engine) ServiceOption   { return func(s *Service) { s.engine = e } }
func WithBlobs(b storage.BlobStore) ServiceOption  { return func(s *Service) { s.blobs = b } }
func WithAudit(sink audit.Sink) ServiceOption      { return func(s *Service) { s.audit = sink } }
func WithLogger(l *slog.Logger) ServiceOption      { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }
func WithIDs(gen func() string) ServiceOption      { return func(s *Service) { s.newID = gen } }

func NewService(store Store, structures StructureSource, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		structures: structures,
		engine:     grading.NewEngine(),
		checker:    rbac.Default(),
		audit:      audit.Nop{},
		validator:  validation.New(),
		logger:     slog.Default(),
		locks:      keylock.New(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit grades a submission and stores it when the persistence policy
// selects it. A pass without proof is returned as a preview and nothing is
// written.
func (s *Service) Submit(ctx context.Context, actor Actor, headerID string, in SubmitInput) (Result, error) {
	participant := strings.TrimSpace(in.ParticipantID)
	if participant == "" {
		return Result{}, apperr.NewValidationError("participant required",
			apperr.FieldError{Field: "participant_id", Error: "this field is required"})
	}
	if err := s.validator.Struct(in); err != nil {
		return Result{}, err
	}
	if participant != actor.ID && !s.checker.Has(actor.Role, rbac.PermSubmitAny) {
		return Result{}, fmt.Errorf("%w: %s may not submit for %s", apperr.ErrPermission, actor.ID, participant)
	}

	raw, err := indexResponses(in.Responses)
	if err != nil {
		return Result{}, err
	}
	var proof *Proof
	if strings.TrimSpace(in.Proof) != "" {
		p, err := DecodeProof(in.Proof)
		if err != nil {
			return Result{}, err
		}
		proof = &p
	}

	st, err := s.structures.GetByID(ctx, headerID)
	if err != nil {
		return Result{}, err
	}
	now := s.now()
	if !st.Header.OpenAt(now) {
		return Result{}, fmt.Errorf("%w: assessment %s is not accepting submissions", apperr.ErrConflict, headerID)
	}

	values, err := s.decodeValues(headerID, st.Questions, raw)
	if err != nil {
		return Result{}, err
	}
	rep, err := s.engine.GradeAll(ctx, answerKeys(st.Questions), values)
	if err != nil {
		if errors.Is(err, grading.ErrInvalidResponse) {
			return Result{}, apperr.NewValidationError("invalid response",
				apperr.FieldError{Field: "responses", Error: err.Error()})
		}
		return Result{}, err
	}

	persist := ShouldPersist(rep.Passed, proof != nil)

	unlock := s.locks.Lock(headerID + "\x00" + participant)
	defer unlock()

	for try := 1; ; try++ {
		n, err := s.store.NextNumber(ctx, headerID, participant)
		if err != nil {
			return Result{}, err
		}
		res := Result{Score: rep.Score, Passed: rep.Passed, AttemptNumber: n}
		if !persist {
			s.logger.Info("attempt previewed", "assessment_id", headerID, "participant", participant,
				"score", rep.Score, "attempt_number", n)
			s.record(ctx, actor, headerID, participant, res)
			return res, nil
		}

		a := Attempt{
			ID:            s.newID(),
			HeaderID:      headerID,
			ParticipantID: participant,
			Number:        n,
			Score:         rep.Score,
			Passed:        rep.Passed,
			CompletedAt:   now,
			Details:       details(st.Questions, raw, rep.Items),
		}
		if proof != nil {
			if a.ProofKey, err = s.putProof(*proof, a); err != nil {
				return Result{}, err
			}
			a.ProofDigest = proof.Digest
		}

		err = s.store.Insert(ctx, a)
		if err == nil {
			res.AttemptID = a.ID
			res.Persisted = true
			s.logger.Info("attempt stored", "assessment_id", headerID, "participant", participant,
				"attempt_id", a.ID, "attempt_number", n, "score", rep.Score, "passed", rep.Passed)
			s.record(ctx, actor, headerID, participant, res)
			return res, nil
		}
		s.dropProof(a.ProofKey)
		if !errors.Is(err, apperr.ErrConflict) || try >= insertTries {
			s.logger.Error("attempt insert failed", "assessment_id", headerID, "participant", participant,
				"attempt_number", n, "try", try, "err", err)
			return Result{}, err
		}
		s.logger.Warn("attempt number taken, retrying", "assessment_id", headerID, "attempt_number", n, "try", try)
	}
}

// List returns attempts for a header. Callers without attempt:view-all only
// see their own.
func (s *Service) List(ctx context.Context, actor Actor, headerID, participantID string) ([]Attempt, error) {
	if !s.checker.Has(actor.Role, rbac.PermViewAll) {
		if participantID != "" && participantID != actor.ID {
			return nil, fmt.Errorf("%w: %s may not view attempts of %s", apperr.ErrPermission, actor.ID, participantID)
		}
		participantID = actor.ID
	}
	if _, err := s.structures.GetByID(ctx, headerID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, headerID, participantID)
}

func (s *Service) putProof(p Proof, a Attempt) (string, error) {
	if s.blobs == nil {
		return "", fmt.Errorf("%w: proof storage not configured", apperr.ErrPersistence)
	}
	key, err := s.blobs.Put(p.Key(a.HeaderID, a.ParticipantID, a.ID), p.Reader())
	if err != nil {
		return "", fmt.Errorf("%w: store proof: %v", apperr.ErrPersistence, err)
	}
	return key, nil
}

func (s *Service) dropProof(key string) {
	if key == "" || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(key); err != nil {
		s.logger.Warn("orphan proof left behind", "key", key, "err", err)
	}
}

func (s *Service) record(ctx context.Context, actor Actor, headerID, participant string, res Result) {
	key := res.AttemptID
	if key == "" {
		key = headerID
	}
	s.audit.Record(ctx, audit.Event{Type: audit.ResponseSubmit, Key: key, Actor: actor.ID,
		Data: map[string]any{
			"assessment_id":  headerID,
			"participant_id": participant,
			"attempt_number": res.AttemptNumber,
			"score":          res.Score,
			"passed":         res.Passed,
			"persisted":      res.Persisted,
		}})
}

func indexResponses(rs []Response) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(rs))
	for i, r := range rs {
		qid := strings.TrimSpace(r.QuestionID)
		if _, dup := out[qid]; dup {
			return nil, apperr.NewValidationError("invalid responses", apperr.FieldError{
				Field: fmt.Sprintf("responses[%d].question_id", i), Error: "duplicate question"})
		}
		out[qid] = r.Value
	}
	return out, nil
}

// decodeValues turns raw JSON values into grader input. Values for questions
// the structure does not contain are dropped.
func (s *Service) decodeValues(headerID string, qs []assessment.Question, raw map[string]json.RawMessage) (map[string]interface{}, error) {
	known := make(map[string]bool, len(qs))
	for _, q := range qs {
		known[q.ID] = true
	}
	out := make(map[string]interface{}, len(raw))
	for qid, v := range raw {
		if !known[qid] {
			s.logger.Warn("response for unknown question ignored", "assessment_id", headerID, "question_id", qid)
			continue
		}
		if len(bytes.TrimSpace(v)) == 0 {
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, apperr.NewValidationError("invalid response",
				apperr.FieldError{Field: "responses." + qid, Error: "value is not valid JSON"})
		}
		out[qid] = val
	}
	return out, nil
}

func answerKeys(qs []assessment.Question) []grading.Q {
	out := make([]grading.Q, 0, len(qs))
	for _, q := range qs {
		g := grading.Q{ID: q.ID, Type: string(q.Type)}
		switch q.Type {
		case assessment.TypeSingleChoice, assessment.TypeBoolean:
			g.AnswerKey = []string{q.CorrectOptionID()}
		case assessment.TypeOrdering:
			g.AnswerKey = q.CanonicalOrder()
		}
		out = append(out, g)
	}
	return out
}

func details(qs []assessment.Question, raw map[string]json.RawMessage, items []grading.Result) []Detail {
	out := make([]Detail, 0, len(qs))
	for i, q := range qs {
		v := raw[q.ID]
		if len(bytes.TrimSpace(v)) == 0 {
			v = json.RawMessage("null")
		}
		d := Detail{QuestionID: q.ID, Value: v}
		if i < len(items) {
			d.Correct = items[i].Correct
			d.NeedsReview = items[i].NeedsManual
		}
		out = append(out, d)
	}
	return out
}
