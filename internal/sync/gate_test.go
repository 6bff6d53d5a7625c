package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWithDependent(t *testing.T) {
	t.Run("parent then child on success", func(t *testing.T) {
		var parentCalls, childCalls int
		var childParentID string

		parentID, err := CreateWithDependent(context.Background(),
			func(ctx context.Context) (string, error) {
				parentCalls++
				return "chat_123", nil
			},
			func(ctx context.Context, parentID string) error {
				childCalls++
				childParentID = parentID
				return nil
			})

		require.NoError(t, err)
		assert.Equal(t, "chat_123", parentID)
		assert.Equal(t, 1, parentCalls)
		assert.Equal(t, 1, childCalls)
		assert.Equal(t, "chat_123", childParentID)
	})

	t.Run("child never invoked when parent fails", func(t *testing.T) {
		var childCalls int

		_, err := CreateWithDependent(context.Background(),
			func(ctx context.Context) (string, error) {
				return "", errors.New("server rejected create")
			},
			func(ctx context.Context, parentID string) error {
				childCalls++
				return nil
			})

		assert.ErrorIs(t, err, ErrOrphanPrevented)
		assert.Equal(t, 0, childCalls)
	})

	t.Run("empty parent id counts as failed creation", func(t *testing.T) {
		var childCalls int

		_, err := CreateWithDependent(context.Background(),
			func(ctx context.Context) (string, error) {
				return "", nil
			},
			func(ctx context.Context, parentID string) error {
				childCalls++
				return nil
			})

		assert.ErrorIs(t, err, ErrOrphanPrevented)
		assert.Equal(t, 0, childCalls)
	})

	t.Run("child failure is not orphan prevention", func(t *testing.T) {
		childErr := errors.New("network blip")

		parentID, err := CreateWithDependent(context.Background(),
			func(ctx context.Context) (string, error) {
				return "chat_123", nil
			},
			func(ctx context.Context, parentID string) error {
				return childErr
			})

		// The parent exists; the caller retries only the child
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrOrphanPrevented)
		assert.ErrorIs(t, err, childErr)
		assert.Equal(t, "chat_123", parentID)
	})
}
