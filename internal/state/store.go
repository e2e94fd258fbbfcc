// Package state persists the small amount of station-local data that must
// survive a process restart: the current session id and the bearer credential.
package state

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeySessionID = "currentSessionId"
	KeyToken     = "token"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("state: key not found")

// Store is a minimal key-value surface; values are opaque strings.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
