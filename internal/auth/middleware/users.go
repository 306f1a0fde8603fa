package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

// ErrBadCredentials hides whether the username or the password was wrong.
var ErrBadCredentials = errors.New("invalid credentials")

const bcryptCost = 12

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserStore keeps local accounts in the users table.
type UserStore struct {
	db   *sql.DB
	cost int
}

func NewUserStore(db *sql.DB) *UserStore { return &UserStore{db: db, cost: bcryptCost} }

func (s *UserStore) Authenticate(ctx context.Context, username, password string) (User, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, role, pass_hash FROM users WHERE username=$1`,
		strings.TrimSpace(username)).Scan(&u.ID, &u.Username, &u.Role, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrBadCredentials
	}
	if err != nil {
		return User{}, err
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// Upsert creates the account or resets its role and password.
func (s *UserStore) Upsert(ctx context.Context, username, role, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, apperr.NewValidationError("username and password required")
	}
	if _, ok := rbac.RolePermissions[role]; !ok {
		return User{}, apperr.NewValidationError("unknown role",
			apperr.FieldError{Field: "role", Error: fmt.Sprintf("%q is not a role", role)})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, err
	}
	u := User{ID: uuid.NewString(), Username: username, Role: role}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, username, role, pass_hash, created_at) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (username) DO UPDATE SET role=excluded.role, pass_hash=excluded.pass_hash
		 RETURNING id`,
		u.ID, u.Username, u.Role, string(hash), time.Now().Unix()).Scan(&u.ID)
	if err != nil {
		return User{}, fmt.Errorf("%w: upsert user: %v", apperr.ErrPersistence, err)
	}
	return u, nil
}

// ChangePassword checks the old password before storing the new one.
func (s *UserStore) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return apperr.NewValidationError("new password required",
			apperr.FieldError{Field: "new_password", Error: "this field is required"})
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT pass_hash FROM users WHERE id=$1`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)) != nil {
		return fmt.Errorf("%w: incorrect old password", apperr.ErrPermission)
	}
	next, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET pass_hash=$1 WHERE id=$2`, string(next), userID)
	return err
}
