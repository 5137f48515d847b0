package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

const (
	KindPostgres = "postgres"
	KindMemory   = "memory"
)

// Backend is an opened store with its directory.
type Backend struct {
	Store     domain.Store
	Directory domain.Directory
	Close     func()
}

// Options selects and tunes a backend.
type Options struct {
	Kind        string
	DatabaseURL string
	LockTimeout time.Duration
	AutoMigrate bool
}

// Open connects the configured backend. The memory backend forgets
// everything when the process exits.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	switch opts.Kind {
	case KindMemory:
		slog.Warn("⚠️ Using in-memory storage, data will not survive a restart")
		mem := NewMemoryStore()
		return &Backend{Store: mem, Directory: mem, Close: func() {}}, nil

	case KindPostgres, "":
		pool, err := ConnectDB(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if err := Migrate(pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		pg := NewPostgresStore(pool, opts.LockTimeout)
		return &Backend{Store: pg, Directory: pg.Directory(), Close: pool.Close}, nil
	}
	return nil, fmt.Errorf("unknown storage kind %q", opts.Kind)
}
