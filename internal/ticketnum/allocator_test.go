package ticketnum

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFormatsSequence(t *testing.T) {
	alloc := NewAllocator(NewMemoryCounter(0))

	first, err := alloc.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TKT-000001", first)

	second, err := alloc.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TKT-000002", second)
}

func TestAllocateResumesFromCounter(t *testing.T) {
	alloc := NewAllocator(NewMemoryCounter(41))

	number, err := alloc.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TKT-000042", number)
}

func TestAllocateWidensBeyondSixDigits(t *testing.T) {
	alloc := NewAllocator(NewMemoryCounter(999999))

	number, err := alloc.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TKT-1000000", number)
}

func TestAllocateConcurrentUniqueness(t *testing.T) {
	const workers = 50
	const perWorker = 20

	alloc := NewAllocator(NewMemoryCounter(0))

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				number, err := alloc.Allocate(context.Background())
				assert.NoError(t, err)
				mu.Lock()
				seen[number] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
