package sync

import (
	"context"
	"fmt"
)

// CreateWithDependent enforces the referential ordering invariant between a
// parent entity and one dependent child: the parent must be durably created
// before the child is written. parent runs first; if it fails or yields an
// empty id, child is never invoked and the call fails with
// ErrOrphanPrevented. This is a precondition check, not a retry — a child
// failure after a confirmed parent flows into the normal pending-write path,
// since only the child then needs reconciliation.
func CreateWithDependent(ctx context.Context, parent func(ctx context.Context) (string, error), child func(ctx context.Context, parentID string) error) (string, error) {
	parentID, err := parent(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOrphanPrevented, err)
	}
	if parentID == "" {
		return "", fmt.Errorf("%w: parent yielded no durable identifier", ErrOrphanPrevented)
	}

	if err := child(ctx, parentID); err != nil {
		// Parent exists; the caller retries the child alone
		return parentID, fmt.Errorf("dependent write for parent %s: %w", parentID, err)
	}

	return parentID, nil
}
