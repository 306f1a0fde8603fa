package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

func openUsers(t *testing.T) (*sql.DB, *UserStore) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "training.db") + "?mode=rwc"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	us := NewUserStore(dbh)
	us.cost = bcrypt.MinCost
	return dbh, us
}

// echo reports what the auth chain put into the context.
func echo(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sub":  rbac.SubjectFromContext(r.Context()),
		"role": rbac.RoleFromContext(r.Context()),
	})
}

func TestIssueAndParse(t *testing.T) {
	a := NewAuthService("secret")
	tok, err := a.IssueJWT("u1", rbac.RoleTrainer)
	require.NoError(t, err)

	c, err := a.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Sub)
	assert.Equal(t, rbac.RoleTrainer, c.Role)
	assert.Equal(t, "mindengage-training", c.Issuer)

	_, err = NewAuthService("other").Parse(tok)
	assert.Error(t, err)

	a.now = func() time.Time { return time.Now().Add(TokenTTL + time.Minute) }
	_, err = a.Parse(tok)
	assert.Error(t, err, "expired token")
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("secret")
	h := JWTMiddleware(a)(http.HandlerFunc(echo))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := a.IssueJWT("u1", rbac.RoleAttendee)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"u1","role":"attendee"}`, rec.Body.String())
}

func TestAttachRole(t *testing.T) {
	dir := rbac.NewStaticDirectory(map[string]string{"t1": rbac.RoleTrainer})
	a := NewAuthService("secret")

	call := func(fallback bool, sub, claim string) *httptest.ResponseRecorder {
		tok, err := a.IssueJWT(sub, claim)
		require.NoError(t, err)
		h := JWTMiddleware(a)(AttachRole(dir, fallback)(http.HandlerFunc(echo)))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := call(false, "t1", rbac.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"t1","role":"trainer"}`, rec.Body.String(), "directory wins over claim")

	rec = call(false, "ghost", rbac.RoleAttendee)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(true, "ghost", rbac.RoleAttendee)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"ghost","role":"attendee"}`, rec.Body.String())
}

func TestUserStore(t *testing.T) {
	_, us := openUsers(t)
	ctx := context.Background()

	u, err := us.Upsert(ctx, "alice", rbac.RoleTrainer, "pw1")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	got, err := us.Authenticate(ctx, " alice ", "pw1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, rbac.RoleTrainer, got.Role)

	_, err = us.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = us.Authenticate(ctx, "bob", "pw1")
	assert.ErrorIs(t, err, ErrBadCredentials)

	again, err := us.Upsert(ctx, "alice", rbac.RoleAdmin, "pw2")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID, "upsert keeps the id")

	_, err = us.Upsert(ctx, "carol", "wizard", "pw")
	assert.True(t, apperr.IsValidation(err))

	err = us.ChangePassword(ctx, u.ID, "pw1", "pw3")
	assert.ErrorIs(t, err, apperr.ErrPermission)
	require.NoError(t, us.ChangePassword(ctx, u.ID, "pw2", "pw3"))
	_, err = us.Authenticate(ctx, "alice", "pw3")
	require.NoError(t, err)

	assert.ErrorIs(t, us.ChangePassword(ctx, "missing", "a", "b"), apperr.ErrNotFound)
}

func TestLoginHandler(t *testing.T) {
	_, us := openUsers(t)
	_, err := us.Upsert(context.Background(), "alice", rbac.RoleAttendee, "pw")
	require.NoError(t, err)
	a := NewAuthService("secret")
	h := LoginHandler(a, us)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, post(`{`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(`{"username":"alice","password":"x"}`).Code)

	rec := post(`{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, rbac.RoleAttendee, out.Role)
	c, err := a.Parse(out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAttendee, c.Role)
}
