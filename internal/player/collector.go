package player

import (
	"encoding/json"
	"strings"

	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/attempt"
	"github.com/mind-engage/mindengage-training/internal/grading"
)

// Collector holds the latest value per question.
type Collector struct {
	questions map[string]assessment.Question
	order     []string

	choice map[string]string
	ranks  map[string][]string // rank-1 -> option id, "" when empty
	text   map[string]string
}

func NewCollector(qs []assessment.Question) *Collector {
	c := &Collector{
		questions: make(map[string]assessment.Question, len(qs)),
		choice:    map[string]string{},
		ranks:     map[string][]string{},
		text:      map[string]string{},
	}
	for _, q := range qs {
		c.questions[q.ID] = q
		c.order = append(c.order, q.ID)
	}
	return c
}

func (c *Collector) question(id string, types ...assessment.QuestionType) (assessment.Question, error) {
	q, ok := c.questions[id]
	if !ok {
		return q, ErrUnknownQuestion
	}
	for _, t := range types {
		if q.Type == t {
			return q, nil
		}
	}
	return q, ErrWrongType
}

func hasOption(q assessment.Question, optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// SelectOption records the chosen option of a single-choice or boolean question.
func (c *Collector) SelectOption(id, optionID string) error {
	q, err := c.question(id, assessment.TypeSingleChoice, assessment.TypeBoolean)
	if err != nil {
		return err
	}
	if optionID != "" && !hasOption(q, optionID) {
		return ErrUnknownOption
	}
	c.choice[id] = optionID
	return nil
}

// PlaceAtRank puts optionID at the 1-based rank of an ordering question.
// The option is removed from any other rank first; an empty optionID clears
// the rank.
func (c *Collector) PlaceAtRank(id string, rank int, optionID string) error {
	q, err := c.question(id, assessment.TypeOrdering)
	if err != nil {
		return err
	}
	if rank < 1 || rank > len(q.Options) {
		return ErrWrongType
	}
	if optionID != "" && !hasOption(q, optionID) {
		return ErrUnknownOption
	}
	slots := c.ranks[id]
	if slots == nil {
		slots = make([]string, len(q.Options))
		c.ranks[id] = slots
	}
	if optionID != "" {
		for i := range slots {
			if slots[i] == optionID {
				slots[i] = ""
			}
		}
	}
	slots[rank-1] = optionID
	return nil
}

func (c *Collector) SetText(id, text string) error {
	if _, err := c.question(id, assessment.TypeFreeText); err != nil {
		return err
	}
	c.text[id] = text
	return nil
}

func (c *Collector) Clear(id string) {
	delete(c.choice, id)
	delete(c.ranks, id)
	delete(c.text, id)
}

// Value returns the current value of a question in its submission shape.
func (c *Collector) Value(id string) (any, bool) {
	q, ok := c.questions[id]
	if !ok {
		return nil, false
	}
	switch q.Type {
	case assessment.TypeOrdering:
		slots, ok := c.ranks[id]
		if !ok {
			return nil, false
		}
		return append([]string(nil), slots...), true
	case assessment.TypeFreeText:
		v, ok := c.text[id]
		return v, ok
	default:
		v, ok := c.choice[id]
		return v, ok
	}
}

// Answered reports whether a question holds a structurally valid, non-empty
// value. Orderings must fill every rank.
func (c *Collector) Answered(id string) bool {
	q, ok := c.questions[id]
	if !ok {
		return false
	}
	v, ok := c.Value(id)
	if !ok {
		return false
	}
	if q.Type == assessment.TypeOrdering {
		if slots := v.([]string); len(slots) != len(q.Options) {
			return false
		}
	}
	return grading.Answered(string(q.Type), v)
}

// AnsweredSet lists answered question ids in structure order.
func (c *Collector) AnsweredSet() []string {
	var out []string
	for _, id := range c.order {
		if c.Answered(id) {
			out = append(out, id)
		}
	}
	return out
}

// Responses is the submission payload: one entry per answered question.
func (c *Collector) Responses() ([]attempt.Response, error) {
	out := make([]attempt.Response, 0, len(c.order))
	for _, id := range c.order {
		if !c.Answered(id) {
			continue
		}
		v, _ := c.Value(id)
		if s, ok := v.(string); ok && c.questions[id].Type == assessment.TypeFreeText {
			v = strings.TrimSpace(s)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, attempt.Response{QuestionID: id, Value: raw})
	}
	return out, nil
}

// Reset drops every value.
func (c *Collector) Reset() {
	c.choice = map[string]string{}
	c.ranks = map[string][]string{}
	c.text = map[string]string{}
}
