package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGetDelete(t *testing.T) {
	base := t.TempDir()
	s, err := NewFSStore(base)
	require.NoError(t, err)

	key, err := s.Put("proofs/h1/p1/a1.png", strings.NewReader("sig"))
	require.NoError(t, err)
	assert.Equal(t, "proofs/h1/p1/a1.png", key)

	rc, err := s.Get(key)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "sig", string(b))

	require.NoError(t, s.Delete(key))
	_, err = os.Stat(filepath.Join(base, "proofs", "h1", "p1", "a1.png"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Delete(key), "deleting twice is fine")
}

func TestFSStore_KeysStayInsideBase(t *testing.T) {
	base := t.TempDir()
	s, err := NewFSStore(base)
	require.NoError(t, err)

	key, err := s.Put("../../escape.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "escape.txt", key)
	_, err = os.Stat(filepath.Join(base, "escape.txt"))
	assert.NoError(t, err)

	_, err = s.Put("  ", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
