package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/audit"
	"github.com/mind-engage/mindengage-training/internal/keylock"
	"github.com/mind-engage/mindengage-training/internal/rbac"
	"github.com/mind-engage/mindengage-training/internal/validation"
)

// Editor identifies the caller of a structure mutation.
type Editor struct {
	ID   string
	Role string
}

type MediaInput struct {
	Kind    string `json:"kind" validate:"required,oneof=streamed_video embedded_stream paged_document"`
	Locator string `json:"locator" validate:"required"`
	Title   string `json:"title"`
}

type OptionInput struct {
	ID      string `json:"id"`
	Text    string `json:"text" validate:"required"`
	Correct bool   `json:"correct"`
	Rank    int    `json:"rank" validate:"gte=0"`
}

type QuestionInput struct {
	ID      string        `json:"id"`
	Type    string        `json:"type" validate:"required,oneof=single_choice boolean ordering free_text"`
	Prompt  string        `json:"prompt" validate:"required"`
	Trigger float64       `json:"trigger" validate:"gte=0"`
	Options []OptionInput `json:"options" validate:"dive"`
}

// SaveInput is the editable part of a structure.
type SaveInput struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Instructions string          `json:"instructions" validate:"max=8000"`
	Media        *MediaInput     `json:"media,omitempty"`
	Questions    []QuestionInput `json:"questions" validate:"dive"`
}

type StateInput struct {
	State       string     `json:"state" validate:"required,oneof=draft active closed"`
	ActiveFrom  *time.Time `json:"active_from,omitempty"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
}

// Service builds and retrieves assessment structures.
type Service struct {
	store     Store
	directory rbac.Directory
	checker   *rbac.Checker
	audit     audit.Sink
	validator *validation.Validator
	logger    *slog.Logger
	locks     *keylock.Map

	now   func() time.Time
	newID func() string
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }
func WithIDs(gen func() string) ServiceOption      { return func(s *Service) { s.newID = gen } }
func WithAudit(sink audit.Sink) ServiceOption      { return func(s *Service) { s.audit = sink } }
func WithLogger(l *slog.Logger) ServiceOption      { return func(s *Service) { s.logger = l } }

func NewService(store Store, dir rbac.Directory, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		directory: dir,
		checker:   rbac.Default(),
		audit:     audit.Nop{},
		validator: validation.New(),
		logger:    slog.Default(),
		locks:     keylock.New(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the full structure for a form, answer key included.
func (s *Service) Get(ctx context.Context, formID string) (Structure, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return Structure{}, apperr.NewValidationError("form id required")
	}
	return s.store.GetStructure(ctx, formID)
}

func (s *Service) GetByID(ctx context.Context, id string) (Structure, error) {
	return s.store.GetStructureByID(ctx, id)
}

// Save creates the structure for formID or replaces it wholesale, returning
// the header id. Validation and permission failures happen before any write.
func (s *Service) Save(ctx context.Context, ed Editor, formID string, in SaveInput) (string, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return "", apperr.NewValidationError("form id required")
	}
	if strings.TrimSpace(ed.ID) == "" {
		return "", apperr.NewValidationError("editor identity required")
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validator.Struct(in); err != nil {
		return "", err
	}
	if err := checkQuestions(in); err != nil {
		return "", err
	}

	unlock := s.locks.Lock(formID)
	defer unlock()

	existing, err := s.store.GetStructure(ctx, formID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return s.create(ctx, ed, formID, in)
	case err != nil:
		return "", err
	}

	ok, err := s.CanEdit(ctx, ed, existing.Header)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s may not edit assessment %s", apperr.ErrPermission, ed.ID, existing.Header.ID)
	}

	h := existing.Header
	h.Title = in.Title
	h.Instructions = in.Instructions
	h.UpdatedBy = ed.ID
	h.UpdatedAt = s.now()
	st := s.build(h, in)
	if err := s.store.ReplaceStructure(ctx, st); err != nil {
		s.logger.Error("replace structure failed", "assessment_id", h.ID, "err", err)
		return "", err
	}
	s.logger.Info("structure replaced", "assessment_id", h.ID, "questions", len(st.Questions), "editor", ed.ID)
	s.audit.Record(ctx, audit.Event{Type: audit.StructureUpdated, Key: h.ID, Actor: ed.ID,
		Data: map[string]any{"form_id": formID, "questions": len(st.Questions)}})
	return h.ID, nil
}

func (s *Service) create(ctx context.Context, ed Editor, formID string, in SaveInput) (string, error) {
	now := s.now()
	h := Header{
		ID:           s.newID(),
		FormID:       formID,
		Title:        in.Title,
		Instructions: in.Instructions,
		State:        StateDraft,
		CreatedBy:    ed.ID,
		UpdatedBy:    ed.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	st := s.build(h, in)
	if err := s.store.CreateStructure(ctx, st); err != nil {
		s.logger.Error("create structure failed", "form_id", formID, "err", err)
		return "", err
	}
	s.logger.Info("structure created", "assessment_id", h.ID, "form_id", formID, "creator", ed.ID)
	s.audit.Record(ctx, audit.Event{Type: audit.StructureCreated, Key: h.ID, Actor: ed.ID,
		Data: map[string]any{"form_id": formID, "questions": len(st.Questions)}})
	return h.ID, nil
}

// build turns the input into stored rows in submitted order.
func (s *Service) build(h Header, in SaveInput) Structure {
	st := Structure{Header: h, Questions: make([]Question, 0, len(in.Questions))}
	if in.Media != nil {
		st.Media = &Media{
			Kind:    MediaKind(in.Media.Kind),
			Locator: strings.TrimSpace(in.Media.Locator),
			Title:   strings.TrimSpace(in.Media.Title),
		}
	}
	for i, qi := range in.Questions {
		q := Question{
			ID:       orNew(qi.ID, s.newID),
			HeaderID: h.ID,
			Type:     QuestionType(qi.Type),
			Prompt:   strings.TrimSpace(qi.Prompt),
			Trigger:  qi.Trigger,
			Order:    i,
			Options:  make([]Option, 0, len(qi.Options)),
		}
		for _, oi := range qi.Options {
			o := Option{ID: orNew(oi.ID, s.newID), Text: strings.TrimSpace(oi.Text)}
			switch q.Type {
			case TypeOrdering:
				o.Rank = oi.Rank
			default:
				o.Correct = oi.Correct
			}
			q.Options = append(q.Options, o)
		}
		st.Questions = append(st.Questions, q)
	}
	return st
}

func orNew(id string, gen func() string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return gen()
}

// CanEdit reports whether ed may modify the structure headed by h: an
// administrator/trainer-class role, the original creator, or anyone sharing
// the creator's role.
func (s *Service) CanEdit(ctx context.Context, ed Editor, h Header) (bool, error) {
	if s.checker.Has(ed.Role, rbac.PermEditAny) {
		return true, nil
	}
	if ed.ID == h.CreatedBy {
		return true, nil
	}
	if s.directory == nil {
		return false, nil
	}
	creatorRole, err := s.directory.RoleOf(ctx, h.CreatedBy)
	if errors.Is(err, rbac.ErrUnknownUser) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("role lookup: %w", err)
	}
	editorRole, err := s.directory.RoleOf(ctx, ed.ID)
	switch {
	case errors.Is(err, rbac.ErrUnknownUser):
		editorRole = ed.Role
	case err != nil:
		return false, fmt.Errorf("role lookup: %w", err)
	}
	return editorRole != "" && editorRole == creatorRole, nil
}

// SetState changes the publication state and activation window.
func (s *Service) SetState(ctx context.Context, ed Editor, id string, in StateInput) (Header, error) {
	if err := s.validator.Struct(in); err != nil {
		return Header{}, err
	}
	if in.ActiveFrom != nil && in.ActiveUntil != nil && in.ActiveUntil.Before(*in.ActiveFrom) {
		return Header{}, apperr.NewValidationError("invalid activation window",
			apperr.FieldError{Field: "active_until", Error: "must not be before active_from"})
	}
	st, err := s.store.GetStructureByID(ctx, id)
	if err != nil {
		return Header{}, err
	}
	ok, err := s.CanEdit(ctx, ed, st.Header)
	if err != nil {
		return Header{}, err
	}
	if !ok {
		return Header{}, fmt.Errorf("%w: %s may not change state of %s", apperr.ErrPermission, ed.ID, id)
	}
	h, err := s.store.SetState(ctx, id, StateChange{
		State:       State(in.State),
		ActiveFrom:  in.ActiveFrom,
		ActiveUntil: in.ActiveUntil,
		EditorID:    ed.ID,
		At:          s.now(),
	})
	if err != nil {
		return Header{}, err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.StateChanged, Key: id, Actor: ed.ID,
		Data: map[string]any{"from": st.Header.State, "to": h.State}})
	return h, nil
}

// Delete removes a structure that has no recorded attempts. Attempts are
// immutable, so an assessment with history must be closed instead.
func (s *Service) Delete(ctx context.Context, ed Editor, id string) error {
	st, err := s.store.GetStructureByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.CanEdit(ctx, ed, st.Header)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not delete %s", apperr.ErrPermission, ed.ID, id)
	}
	has, err := s.store.HasAttempts(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: assessment has recorded attempts; close it instead", apperr.ErrConflict)
	}
	if err := s.store.DeleteStructure(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.Deleted, Key: id, Actor: ed.ID,
		Data: map[string]any{"form_id": st.Header.FormID}})
	return nil
}

// checkQuestions enforces the per-type option rules the tags cannot express.
func checkQuestions(in SaveInput) error {
	var fields []apperr.FieldError
	add := func(i int, msg string) {
		fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("questions[%d]", i), Error: msg})
	}
	paged := in.Media != nil && MediaKind(in.Media.Kind).Paged()
	seenQ := map[string]bool{}
	seenO := map[string]bool{}

	for i, q := range in.Questions {
		if q.ID != "" {
			if seenQ[q.ID] {
				add(i, "duplicate question id")
			}
			seenQ[q.ID] = true
		}
		for _, o := range q.Options {
			if o.ID == "" {
				continue
			}
			if seenO[o.ID] {
				add(i, "duplicate option id "+o.ID)
			}
			seenO[o.ID] = true
		}
		if paged && (q.Trigger < 1 || q.Trigger != math.Trunc(q.Trigger)) {
			add(i, "trigger must be a page number for paged documents")
		}

		switch QuestionType(q.Type) {
		case TypeSingleChoice:
			if len(q.Options) < 2 {
				add(i, "single choice needs at least two options")
			}
			if countCorrect(q.Options) != 1 {
				add(i, "exactly one option must be correct")
			}
		case TypeBoolean:
			if len(q.Options) != 2 {
				add(i, "boolean needs exactly two options")
			}
			if countCorrect(q.Options) != 1 {
				add(i, "exactly one option must be correct")
			}
		case TypeOrdering:
			if len(q.Options) < 2 {
				add(i, "ordering needs at least two options")
			} else if !ranksArePermutation(q.Options) {
				add(i, fmt.Sprintf("ranks must be a permutation of 1..%d", len(q.Options)))
			}
		case TypeFreeText:
			if len(q.Options) > 0 {
				add(i, "free text takes no options")
			}
		}
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Err: errors.New("invalid questions"), Fields: fields}
	}
	return nil
}

func countCorrect(opts []OptionInput) int {
	n := 0
	for _, o := range opts {
		if o.Correct {
			n++
		}
	}
	return n
}

func ranksArePermutation(opts []OptionInput) bool {
	seen := make([]bool, len(opts)+1)
	for _, o := range opts {
		if o.Rank < 1 || o.Rank > len(opts) || seen[o.Rank] {
			return false
		}
		seen[o.Rank] = true
	}
	return true
}
