package ledger

import (
	"context"
	"slices"
	"sync"

	"github.com/tunnelmesh/objectarium/internal/objectarium"
)

// Backend persists committed diffs. Commit must be all-or-nothing: when it
// returns an error nothing of the diff may be visible to a later Load.
type Backend interface {
	// Load returns the last committed state.
	Load(ctx context.Context) (*objectarium.State, error)

	// Commit durably records diff, produced by op.
	Commit(ctx context.Context, op objectarium.Op, diff *objectarium.Diff) error

	// Journal returns the ops of every committed diff in version order, or
	// nil when the backend keeps no journal.
	Journal(ctx context.Context) ([]objectarium.Op, error)

	Close() error
}

// MemoryBackend keeps nothing but an optional in-memory journal. It is the
// backend of ephemeral ledgers and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	journal []objectarium.Op
	keep    bool
}

// NewMemoryBackend returns a backend that journals ops when journal is true.
func NewMemoryBackend(journal bool) *MemoryBackend {
	return &MemoryBackend{keep: journal}
}

func (b *MemoryBackend) Load(context.Context) (*objectarium.State, error) {
	return objectarium.NewState(), nil
}

func (b *MemoryBackend) Commit(ctx context.Context, op objectarium.Op, _ *objectarium.Diff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.keep {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = append(b.journal, op)
	return nil
}

func (b *MemoryBackend) Journal(context.Context) ([]objectarium.Op, error) {
	if !b.keep {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.journal), nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
