package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/platform/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := &bed.Bed{Label: "A"}
	require.NoError(t, s.Beds().Create(ctx, b))

	got, err := s.Beds().GetByID(ctx, b.ID)
	require.NoError(t, err)
	got.Status = bed.StatusOccupied

	again, _ := s.Beds().GetByID(ctx, b.ID)
	assert.Equal(t, bed.StatusAvailable, again.Status)
}

func TestStore_ConcurrentClaimSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := &bed.Bed{Label: "A"}
	require.NoError(t, s.Beds().Create(ctx, b))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Beds().UpdateStatus(ctx, b.ID, bed.StatusPendingCleaning, bed.StatusAvailable)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_Ping(t *testing.T) {
	assert.NoError(t, New().Ping(context.Background()))
}
