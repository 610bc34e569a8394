package provision

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackLIFO(t *testing.T) {
	var order []int
	stack := new(Stack)
	for i := range 3 {
		stack.Push(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, stack.Destroy(t.Context()))
	require.Equal(t, []int{2, 1, 0}, order)
}

func TestStackJoinsErrors(t *testing.T) {
	errA := fmt.Errorf("a")
	errB := fmt.Errorf("b")
	stack := new(Stack)
	stack.Push(func(ctx context.Context) error { return errA })
	stack.Push(func(ctx context.Context) error { return nil })
	stack.Push(func(ctx context.Context) error { return errB })

	err := stack.Destroy(t.Context())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestStackDestroysOnce(t *testing.T) {
	calls := 0
	stack := new(Stack)
	stack.Push(func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, stack.Destroy(t.Context()))
	require.NoError(t, stack.Destroy(t.Context()))
	require.Equal(t, 1, calls)
}
