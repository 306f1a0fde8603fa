package attempt

import (
	"encoding/json"
	"time"
)

// Attempt is an immutable graded submission.
type Attempt struct {
	ID            string    `json:"id"`
	HeaderID      string    `json:"assessment_id"`
	ParticipantID string    `json:"participant_id"`
	Number        int       `json:"attempt_number"`
	Score         float64   `json:"score"`
	Passed        bool      `json:"passed"`
	ProofKey      string    `json:"proof_key,omitempty"`
	ProofDigest   string    `json:"proof_digest,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
	Details       []Detail  `json:"details,omitempty"`
}

// Detail is the per-question record of an attempt.
type Detail struct {
	QuestionID  string          `json:"question_id"`
	Value       json.RawMessage `json:"value"`
	Correct     bool            `json:"correct"`
	NeedsReview bool            `json:"needs_review,omitempty"`
}

// Response is one submitted answer. Value is an option id, an ordered list
// of option ids, or free text depending on the question type.
type Response struct {
	QuestionID string          `json:"question_id" validate:"required"`
	Value      json.RawMessage `json:"value"`
}

type SubmitInput struct {
	ParticipantID string     `json:"participant_id"`
	Proof         string     `json:"proof,omitempty"` // base64 or data URL image
	Responses     []Response `json:"responses" validate:"dive"`
}

// Result is what the caller learns about a submission.
type Result struct {
	AttemptID     string  `json:"attempt_id,omitempty"`
	Score         float64 `json:"score"`
	Passed        bool    `json:"passed"`
	AttemptNumber int     `json:"attempt_number"`
	Persisted     bool    `json:"persisted"`
}

// ShouldPersist selects which attempts are stored: every failure, and a pass
// only when it carries proof. A pass without proof is a preview.
func ShouldPersist(passed, hasProof bool) bool {
	return !passed || hasProof
}
