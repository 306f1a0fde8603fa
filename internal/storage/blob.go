package storage

import (
	"errors"
	"io"
)

var ErrInvalidKey = errors.New("invalid blob key")

// BlobStore keeps proof-of-completion artifacts.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
}
