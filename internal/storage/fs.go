package storage

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

// canonical cleans key and rejects anything that escapes the base directory.
func canonical(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	c := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	c = strings.TrimPrefix(c, "/")
	if c == "" || c == "." {
		return "", ErrInvalidKey
	}
	return c, nil
}

func (s *FSStore) Put(key string, r io.Reader) (string, error) {
	key, err := canonical(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.base, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return key, nil
}

func (s *FSStore) Get(key string) (io.ReadCloser, error) {
	key, err := canonical(key)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.base, filepath.FromSlash(key)))
}

func (s *FSStore) Delete(key string) error {
	key, err := canonical(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.base, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
