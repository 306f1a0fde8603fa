package assessment

import (
	"context"
	"time"
)

// StateChange carries an activation-state update.
type StateChange struct {
	State       State
	ActiveFrom  *time.Time
	ActiveUntil *time.Time
	EditorID    string
	At          time.Time
}

type Store interface {
	// GetStructure returns the full structure (answer key included) for a form.
	GetStructure(ctx context.Context, formID string) (Structure, error)
	GetStructureByID(ctx context.Context, id string) (Structure, error)

	// CreateStructure inserts header, media and questions in one transaction.
	CreateStructure(ctx context.Context, s Structure) error
	// ReplaceStructure updates the header and replaces media and questions wholesale.
	ReplaceStructure(ctx context.Context, s Structure) error

	SetState(ctx context.Context, id string, ch StateChange) (Header, error)
	DeleteStructure(ctx context.Context, id string) error
	HasAttempts(ctx context.Context, id string) (bool, error)
}
