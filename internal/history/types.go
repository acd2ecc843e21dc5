// Package history persists every announcement and its lifecycle state.
//
// Two drivers share one contract:
//   - "file": a single JSON array document, rewritten on every mutation
//   - "sqlite": one row per announcement, keyed by ID
//
// The store is the source of truth for announcement state. Read-modify-write
// cycles are serialized inside each driver.
package history

import (
	"context"
	"errors"
	"time"

	"herald/internal/announce"
)

var ErrNotFound = errors.New("history: announcement not found")

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Store interface {
	// ReadAll returns every announcement in insertion order.
	ReadAll(ctx context.Context) ([]announce.Announcement, error)
	// WriteAll replaces the whole history.
	WriteAll(ctx context.Context, items []announce.Announcement) error

	Append(ctx context.Context, a announce.Announcement) error
	Get(ctx context.Context, id string) (announce.Announcement, error)
	// Update loads id, applies fn and persists the result. An error from fn
	// aborts the write and is returned as is.
	Update(ctx context.Context, id string, fn func(*announce.Announcement) error) (announce.Announcement, error)

	Close() error
}
