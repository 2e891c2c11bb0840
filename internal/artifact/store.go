// Package artifact stores the files exchanged with solver jobs: staged
// inputs going in, metrics and results coming out.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no object exists at a path.
	ErrNotFound = errors.New("artifact not found")

	// ErrExists is returned when an upload would overwrite an object and
	// overwriting was not requested.
	ErrExists = errors.New("artifact already exists")

	// ErrDecode is returned by Download when the object cannot be parsed.
	ErrDecode = errors.New("artifact decode failed")
)

// Store is durable blob storage addressed by scheme://bucket/key paths.
// Paths without a scheme are read as belonging to the store's own scheme.
type Store interface {
	// Scheme is the URI scheme this store serves, such as "s3" or "file".
	Scheme() string

	// Upload writes data to path. Unless overwrite is set, an existing
	// object makes it fail with ErrExists.
	Upload(ctx context.Context, path string, data []byte, overwrite bool) error

	// Get returns the object's bytes, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

// Locator is implemented by stores that can turn a path into a location a
// person can open, such as a file URL or an object URL.
type Locator interface {
	Locate(path string) (string, error)
}

// Locate returns where path can be browsed. Stores without a Locator, or
// that fail to locate path, yield the scheme-qualified path itself.
func Locate(s Store, path string) string {
	if l, ok := s.(Locator); ok {
		if loc, err := l.Locate(path); err == nil {
			return loc
		}
	}
	return WithScheme(path, s.Scheme())
}

// Download fetches path from s and parses it with decode.
func Download[T any](ctx context.Context, s Store, path string, decode func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := s.Get(ctx, path)
	if err != nil {
		return zero, err
	}
	v, err := decode(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return v, nil
}

// DecodeJSON is a Download decoder for JSON documents.
func DecodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Raw is a Download decoder that returns the bytes unchanged.
func Raw(data []byte) ([]byte, error) {
	return data, nil
}

// resolve parses raw for a store with the given scheme and rejects paths
// addressed to another scheme or without an object key.
func resolve(raw, scheme string) (Path, error) {
	p, err := ParsePath(raw, scheme)
	if err != nil {
		return Path{}, err
	}
	if p.Scheme != scheme {
		return Path{}, fmt.Errorf("path %q does not belong to scheme %q", raw, scheme)
	}
	if p.Key == "" {
		return Path{}, fmt.Errorf("path %q has no object key", raw)
	}
	return p, nil
}

// Resolve is resolve for stores implemented outside this package.
func Resolve(raw, scheme string) (Path, error) {
	return resolve(raw, scheme)
}
