package fuseadapter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStaticWorkerPool_Success(t *testing.T) {
	tests := []struct {
		name           string
		priorityWorker uint32
		normalWorker   uint32
	}{
		{"valid_workers", 5, 10},
		{"zero_normal_worker", 1, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pool, err := NewStaticWorkerPool(tc.priorityWorker, tc.normalWorker)
			require.NoError(t, err)
			require.NotNil(t, pool)
			pool.Stop()
		})
	}
}

func TestNewStaticWorkerPool_Failure(t *testing.T) {
	pool, err := NewStaticWorkerPool(0, 0)
	assert.Error(t, err)
	assert.Nil(t, pool)
}

func TestStaticWorkerPoolSchedulesBothLanes(t *testing.T) {
	pool, err := NewStaticWorkerPool(2, 2)
	require.NoError(t, err)
	defer pool.Stop()

	var priorityRuns, normalRuns atomic.Int32
	done := make(chan struct{}, 20)

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Schedule(TaskFunc(func() {
			priorityRuns.Add(1)
			done <- struct{}{}
		}), true))
		require.NoError(t, pool.Schedule(TaskFunc(func() {
			normalRuns.Add(1)
			done <- struct{}{}
		}), false))
	}

	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for scheduled tasks")
		}
	}

	assert.EqualValues(t, 10, priorityRuns.Load())
	assert.EqualValues(t, 10, normalRuns.Load())
}
