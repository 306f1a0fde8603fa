package rbac

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrUnknownUser is returned by a Directory that has no entry for the id.
var ErrUnknownUser = errors.New("unknown user")

// Directory resolves a user's role. It backs the "same role as the creator"
// edit rule.
type Directory interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

// SQLDirectory reads roles from the users table.
type SQLDirectory struct{ db *sql.DB }

func NewSQLDirectory(db *sql.DB) *SQLDirectory { return &SQLDirectory{db: db} }

func (d *SQLDirectory) RoleOf(ctx context.Context, userID string) (string, error) {
	var role string
	err := d.db.QueryRowContext(ctx,
		`SELECT role FROM users WHERE id=$1 OR username=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownUser
	}
	return role, err
}

// StaticDirectory is an in-memory Directory, used in offline mode and tests.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string]string
}

func NewStaticDirectory(roles map[string]string) *StaticDirectory {
	m := make(map[string]string, len(roles))
	for k, v := range roles {
		m[k] = v
	}
	return &StaticDirectory{roles: m}
}

func (d *StaticDirectory) Set(userID, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = role
}

func (d *StaticDirectory) RoleOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	role, ok := d.roles[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return role, nil
}
