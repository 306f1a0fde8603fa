package attempt

import "context"

type Store interface {
	// NextNumber is 1 + the highest stored attempt number, or 1.
	NextNumber(ctx context.Context, headerID, participantID string) (int, error)
	// Insert writes the attempt and its details atomically. A taken
	// attempt number yields apperr.ErrConflict.
	Insert(ctx context.Context, a Attempt) error
	// List returns attempts grouped by participant, newest first. An empty
	// participantID lists every participant.
	List(ctx context.Context, headerID, participantID string) ([]Attempt, error)
}
