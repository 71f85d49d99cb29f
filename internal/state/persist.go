package state

import "context"

// Persister saves and loads snapshots so state can survive a restart
type Persister interface {
	// Load returns nil, nil when nothing has been saved yet
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}
