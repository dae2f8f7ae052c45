package querycache

import (
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned when a cached value does not have the type
// the caller asked for, which means two call sites share a key with
// different loaders.
var ErrTypeMismatch = errors.New("querycache: cached value has unexpected type")

// FetchError is the error state of one key after its loader failed. It
// never affects any other key.
type FetchError struct {
	Key Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
