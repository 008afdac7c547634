// Package store is the scoped key-value store behind overlay persistence.
// Every write replaces the whole value, so readers never observe a partial document.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

var keyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// KV is a byte-valued key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string // file, sqlite or redis
	Dir        string
	SQLitePath string
	RedisAddr  string
}

// Open returns the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (KV, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFile(cfg.Dir)
	case "sqlite":
		return NewSQLite(ctx, cfg.SQLitePath)
	case "redis":
		return NewRedis(ctx, cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

func validateKey(key string) error {
	if !keyRe.MatchString(key) {
		return fmt.Errorf("store: invalid key %q", key)
	}
	return nil
}
