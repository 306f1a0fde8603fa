package assessment

import (
	"time"
)

type State string

const (
	StateDraft  State = "draft"
	StateActive State = "active"
	StateClosed State = "closed"
)

type MediaKind string

const (
	MediaStreamedVideo  MediaKind = "streamed_video"
	MediaEmbeddedStream MediaKind = "embedded_stream"
	MediaPagedDocument  MediaKind = "paged_document"
)

// Paged reports whether triggers are page numbers instead of time offsets.
func (k MediaKind) Paged() bool { return k == MediaPagedDocument }

type QuestionType string

const (
	TypeSingleChoice QuestionType = "single_choice"
	TypeBoolean      QuestionType = "boolean"
	TypeOrdering     QuestionType = "ordering"
	TypeFreeText     QuestionType = "free_text"
)

type Header struct {
	ID           string     `json:"id"`
	FormID       string     `json:"form_id"`
	Title        string     `json:"title"`
	Instructions string     `json:"instructions"`
	State        State      `json:"state"`
	ActiveFrom   *time.Time `json:"active_from,omitempty"`
	ActiveUntil  *time.Time `json:"active_until,omitempty"`
	CreatedBy    string     `json:"created_by"`
	UpdatedBy    string     `json:"updated_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// OpenAt reports whether submissions are accepted at t: the header must not
// be closed and t must fall inside the activation window when one is set.
func (h Header) OpenAt(t time.Time) bool {
	if h.State == StateClosed {
		return false
	}
	if h.ActiveFrom != nil && t.Before(*h.ActiveFrom) {
		return false
	}
	if h.ActiveUntil != nil && t.After(*h.ActiveUntil) {
		return false
	}
	return true
}

type Media struct {
	Kind    MediaKind `json:"kind"`
	Locator string    `json:"locator"`
	Title   string    `json:"title,omitempty"`
}

type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"` // single_choice, boolean
	Rank    int    `json:"rank,omitempty"`    // ordering: canonical position, 1-based
}

type Question struct {
	ID       string       `json:"id"`
	HeaderID string       `json:"header_id"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	Options  []Option     `json:"options"`
	Trigger  float64      `json:"trigger"` // seconds, or page number for paged media
	Order    int          `json:"order"`
}

// CorrectOptionID returns the id of the option flagged correct, or "".
func (q Question) CorrectOptionID() string {
	for _, o := range q.Options {
		if o.Correct {
			return o.ID
		}
	}
	return ""
}

// CanonicalOrder returns option ids sorted by canonical rank.
func (q Question) CanonicalOrder() []string {
	out := make([]string, len(q.Options))
	for _, o := range q.Options {
		if o.Rank >= 1 && o.Rank <= len(out) {
			out[o.Rank-1] = o.ID
		}
	}
	return out
}

// Structure is a header with its media and ordered questions.
type Structure struct {
	Header    Header     `json:"header"`
	Media     *Media     `json:"media,omitempty"`
	Questions []Question `json:"questions"`
}

// StudentView strips the answer key so the structure can be served to attendees.
func (s Structure) StudentView() Structure {
	out := s
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]Option(nil), q.Options...)
		for j := range q.Options {
			q.Options[j].Correct = false
			q.Options[j].Rank = 0
		}
		out.Questions[i] = q
	}
	return out
}

func (s Structure) clone() Structure {
	out := s
	if s.Media != nil {
		m := *s.Media
		out.Media = &m
	}
	out.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]Option(nil), q.Options...)
		out.Questions[i] = q
	}
	return out
}
