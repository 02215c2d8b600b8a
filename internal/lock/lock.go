// Package lock serializes per-user progression mutations.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockLost is returned by unlock when the lock expired before release.
	ErrLockLost = errors.New("lock expired before release")
)

// Default lock settings, overridden by the lock section of the config.
const (
	DefaultExpiry = 30 * time.Second
	DefaultTries  = 32
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker hands out mutually exclusive locks per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Options configures lock expiry and acquisition retries.
type Options struct {
	Expiry time.Duration
	Tries  int
}

func (o Options) withDefaults() Options {
	if o.Expiry <= 0 {
		o.Expiry = DefaultExpiry
	}
	if o.Tries <= 0 {
		o.Tries = DefaultTries
	}
	return o
}
