package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPositionalResults(t *testing.T) {
	p := New(4)
	ctx := context.Background()

	results := Map(ctx, p, 20, func(_ context.Context, i int) (string, error) {
		return fmt.Sprintf("item-%d", i), nil
	})

	require.Len(t, results, 20)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("item-%d", i), r.Value)
	}
}

func TestMapPerItemErrors(t *testing.T) {
	p := New(3)
	ctx := context.Background()

	results := Map(ctx, p, 10, func(_ context.Context, i int) (int, error) {
		if i%2 == 1 {
			return 0, fmt.Errorf("odd index %d", i)
		}
		return i * 10, nil
	})

	// Failures are positional and do not stop the rest of the batch
	for i, r := range results {
		if i%2 == 1 {
			assert.Error(t, r.Err)
		} else {
			require.NoError(t, r.Err)
			assert.Equal(t, i*10, r.Value)
		}
	}

	err := FirstError(results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task 1")
}

func TestMapBoundedConcurrency(t *testing.T) {
	p := New(2)
	ctx := context.Background()

	var mu sync.Mutex
	running, peak := 0, 0

	Map(ctx, p, 8, func(_ context.Context, i int) (struct{}, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestMapEmptyBatch(t *testing.T) {
	p := New(2)

	results := Map(context.Background(), p, 0, func(_ context.Context, i int) (int, error) {
		t.Fatal("task should not run")
		return 0, nil
	})
	assert.Nil(t, results)
}

func TestFirstErrorNil(t *testing.T) {
	results := []Result[int]{{Value: 1}, {Value: 2}}
	assert.NoError(t, FirstError(results))
}

func TestNewDefaultsToNumCPU(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), New(0).Workers())
	assert.Equal(t, 3, New(3).Workers())
}
