package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidResponse is returned when a value has the wrong shape for its
// question type.
var ErrInvalidResponse = errors.New("invalid response")

// Q is a minimal view of a question needed for grading.
type Q struct {
	ID   string
	Type string
	// AnswerKey holds the correct option id for choice questions and the
	// canonical option order for ordering questions.
	AnswerKey []string
}

// Result is the outcome of grading a single question response.
type Result struct {
	QuestionID  string
	AutoPoints  float64 // points awarded automatically
	MaxPoints   float64
	Correct     bool
	NeedsManual bool // free text waits for a reviewer
	Feedback    []string
}

// Strategy grades a single answered question.
type Strategy interface {
	Grade(ctx context.Context, q Q, response interface{}) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, response interface{}) (Result, error)
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, response interface{}) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{QuestionID: q.ID, MaxPoints: 1}, fmt.Errorf("%w: no strategy for type %q", ErrInvalidResponse, q.Type)
	}
	if blank(response) {
		res := Result{QuestionID: q.ID, Feedback: []string{"unanswered"}}
		if q.Type == "free_text" {
			// counted correct for completion; nothing to review
			res.Correct = true
		} else {
			res.MaxPoints = 1
		}
		return res, nil
	}
	res, err := s.Grade(ctx, q, response)
	res.QuestionID = q.ID
	return res, err
}

// Engine options

type Option func(*config)

type config struct {
	PassThreshold float64 // percent
}

func WithPassThreshold(p float64) Option { return func(c *config) { c.PassThreshold = p } }

// DefaultPassThreshold is the score, in percent, at or above which an attempt passes.
const DefaultPassThreshold = 70

// Engine grades a whole submission and derives score and pass/fail.
type Engine struct {
	grader    Grader
	threshold float64
}

// NewEngine installs the built-in strategies.
func NewEngine(opts ...Option) *Engine {
	cfg := &config{PassThreshold: DefaultPassThreshold}
	for _, o := range opts {
		o(cfg)
	}
	return &Engine{grader: NewDefaultGrader(), threshold: cfg.PassThreshold}
}

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader() Grader {
	return &defaultGrader{
		strategies: map[string]Strategy{
			"single_choice": choiceStrategy{},
			"boolean":       choiceStrategy{},
			"ordering":      orderingStrategy{},
			"free_text":     freeTextStrategy{},
		},
	}
}

// Report is the graded submission.
type Report struct {
	Items    []Result
	Credited float64
	Possible float64
	Score    float64 // 0..100, two decimals
	Passed   bool
}

// GradeAll grades every question in qs against responses keyed by question
// id. Questions missing from responses count as incorrect.
func (e *Engine) GradeAll(ctx context.Context, qs []Q, responses map[string]interface{}) (Report, error) {
	rep := Report{Items: make([]Result, 0, len(qs))}
	for _, q := range qs {
		res, err := e.grader.Grade(ctx, q, responses[q.ID])
		if err != nil {
			return Report{}, fmt.Errorf("question %s: %w", q.ID, err)
		}
		rep.Items = append(rep.Items, res)
		rep.Credited += res.AutoPoints
		rep.Possible += res.MaxPoints
	}
	rep.Score = Score(rep.Credited, rep.Possible)
	rep.Passed = rep.Score >= e.threshold
	return rep, nil
}

func (e *Engine) Threshold() float64 { return e.threshold }

// Score is 100 * credited / possible rounded to two decimals. With nothing
// auto-gradable the score is 100.
func Score(credited, possible float64) float64 {
	if possible <= 0 {
		return 100
	}
	return math.Round(credited/possible*100*100) / 100
}

// Answered reports whether v is a structurally valid, non-empty value for
// a question of type typ.
func Answered(typ string, v interface{}) bool {
	switch typ {
	case "single_choice", "boolean", "free_text":
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) != ""
	case "ordering":
		ids, ok := toStringSlice(v)
		if !ok || len(ids) == 0 {
			return false
		}
		seen := toSet(ids)
		if len(seen) != len(ids) {
			return false
		}
		_, blank := seen[""]
		return !blank
	}
	return false
}

func blank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}

// --- Strategies ---

type choiceStrategy struct{}

func (choiceStrategy) Grade(_ context.Context, q Q, response interface{}) (Result, error) {
	res := Result{MaxPoints: 1}
	resp, ok := response.(string)
	if !ok {
		return res, fmt.Errorf("%w: expected option id", ErrInvalidResponse)
	}
	for _, k := range q.AnswerKey {
		if resp == k {
			res.AutoPoints = 1
			res.Correct = true
			return res, nil
		}
	}
	return res, nil
}

// orderingStrategy is all-or-nothing: the full sequence must match.
type orderingStrategy struct{}

func (orderingStrategy) Grade(_ context.Context, q Q, response interface{}) (Result, error) {
	res := Result{MaxPoints: 1}
	resp, ok := toStringSlice(response)
	if !ok {
		return res, fmt.Errorf("%w: expected ordered option ids", ErrInvalidResponse)
	}
	if len(resp) != len(q.AnswerKey) {
		res.Feedback = append(res.Feedback, fmt.Sprintf("ranked %d of %d options", len(resp), len(q.AnswerKey)))
		return res, nil
	}
	for i := range resp {
		if resp[i] != q.AnswerKey[i] {
			return res, nil
		}
	}
	res.AutoPoints = 1
	res.Correct = true
	return res, nil
}

type freeTextStrategy struct{}

func (freeTextStrategy) Grade(_ context.Context, _ Q, response interface{}) (Result, error) {
	if _, ok := response.(string); !ok {
		return Result{}, fmt.Errorf("%w: expected text", ErrInvalidResponse)
	}
	return Result{Correct: true, NeedsManual: true, Feedback: []string{"manual review required"}}, nil
}

// helpers

func toStringSlice(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}
