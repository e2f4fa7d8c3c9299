package order

import "context"

// Store is the order persistence contract. Status changes must be atomic per
// order; AttachMetadata is first-write-wins and writes its note in the same
// unit, so a failed call leaves neither behind.
type Store interface {
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, limit, offset int) ([]Order, int64, error)
	Create(ctx context.Context, ord Order) error
	UpdateStatus(ctx context.Context, id string, status Status, note string) error
	AttachMetadata(ctx context.Context, id, key, value, note string) (bool, error)
	AppendNote(ctx context.Context, id, text string) error
	TransitionIfMeta(ctx context.Context, id, key, expected string, status Status, note string) (bool, error)
}

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
