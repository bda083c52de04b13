package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/sceneslurp/internal/downloader"
	"github.com/ligustah/sceneslurp/internal/order"
	"github.com/ligustah/sceneslurp/internal/orchestrator"
)

var _ orchestrator.Recorder = (*Ledger)(nil)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	base := time.Date(2020, 5, 10, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return l
}

func TestRecordTask(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{
		EntityID: "E1", Format: "STANDARD", Message: "download failed: boom",
		State: downloader.StateFailed, Attempts: 3,
	}))
	require.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{
		Success: true, EntityID: "E2", Format: "STANDARD", Path: "/data/E2.tar.gz",
		Message: downloader.MessageSuccess, State: downloader.StateSucceeded, Attempts: 1,
	}))

	tasks, err := l.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "E1", tasks[0].EntityID)
	assert.False(t, tasks[0].Success)
	assert.Equal(t, 3, tasks[0].Attempts)
	assert.Equal(t, downloader.StateFailed, tasks[0].State)
	assert.Equal(t, "/data/E2.tar.gz", tasks[1].Path)
	assert.True(t, tasks[1].FinishedAt.After(tasks[0].FinishedAt))

	failed, err := l.FailedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "E1", failed[0].EntityID)
}

func TestRecordTaskReplacesEarlierOutcome(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{EntityID: "E1", Format: "STANDARD", Attempts: 3}))
	require.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{EntityID: "E1", Format: "STANDARD", Success: true, Path: "/d/E1"}))
	require.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{EntityID: "E1", Format: "FR_BUND", Success: true}))

	tasks, err := l.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "STANDARD", tasks[0].Format)
	assert.True(t, tasks[0].Success)
	assert.Equal(t, downloader.StateSucceeded, tasks[0].State, "state derived from success")

	failed, err := l.FailedTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRecordTaskConcurrent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{EntityID: fmt.Sprintf("E%02d", i), Format: "STANDARD", Success: true}))
		}(i)
	}
	wg.Wait()

	tasks, err := l.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 20)
}

func TestRecordOrder(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	created := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordOrder(ctx, order.Order{
		ID: "espa-1", Status: order.StatusSubmitted, Inputs: []string{"LC08_A", "LC08_B"},
		Note: "bulk", CreatedAt: created,
	}))
	// A status update without inputs keeps what was recorded.
	require.NoError(t, l.RecordOrder(ctx, order.Order{ID: "espa-1", Status: order.StatusProcessing}))
	require.NoError(t, l.RecordOrder(ctx, order.Order{ID: "espa-2", Status: order.StatusOrdered, Inputs: []string{"LC08_C"}}))

	orders, err := l.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "espa-1", orders[0].ID)
	assert.Equal(t, order.StatusProcessing, orders[0].Status)
	assert.Equal(t, []string{"LC08_A", "LC08_B"}, orders[0].Inputs)
	assert.Equal(t, "bulk", orders[0].Note)
	assert.True(t, orders[0].CreatedAt.Equal(created))

	assert.Equal(t, []string{"LC08_C"}, orders[1].Inputs)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, l.RecordTask(ctx, downloader.TaskStatus{EntityID: "E1", Format: "STANDARD", Success: true}))
	require.NoError(t, l.Close())

	l, err = Open(ctx, path)
	require.NoError(t, err)
	defer l.Close()

	tasks, err := l.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
