package player

import "errors"

var (
	// ErrMustAnswer is the non-fatal signal raised when navigation past the
	// ceiling was vetoed. The position has already been clamped.
	ErrMustAnswer = errors.New("answer the pending questions to continue")

	ErrUnknownQuestion = errors.New("unknown question")
	ErrUnknownOption   = errors.New("unknown option")
	ErrWrongType       = errors.New("value does not fit the question type")
	ErrNotVisible      = errors.New("question is not visible")
	ErrNotAnswered     = errors.New("question has no answer to confirm")
	ErrNotPaged        = errors.New("media is not a paged document")
	ErrNotLastPage     = errors.New("not on the last page")
	ErrNotReady        = errors.New("submission is not enabled yet")
	ErrClosed          = errors.New("session closed")
)
