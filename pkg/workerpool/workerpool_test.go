package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunOrderedPreservesOrderDespiteCompletionRace(t *testing.T) {
	p := New(4)
	var concurrent int32
	var maxConcurrent int32

	tasks := make([]Task, 8)
	for i := 0; i < 8; i++ {
		i := i
		tasks[i] = func(ctx context.Context) ([]byte, error) {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			defer atomic.AddInt32(&concurrent, -1)
			return []byte{byte(i)}, nil
		}
	}

	results, err := p.RunOrdered(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, r := range results {
		require.Equal(t, byte(i), r[0])
	}
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 4)
}

func TestRunOrderedPropagatesError(t *testing.T) {
	p := New(2)
	wantErr := errors.New("boom")
	tasks := []Task{
		func(ctx context.Context) ([]byte, error) { return []byte("ok"), nil },
		func(ctx context.Context) ([]byte, error) { return nil, wantErr },
	}
	_, err := p.RunOrdered(context.Background(), tasks)
	require.ErrorIs(t, err, wantErr)
}
