package store_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eocis-portal/data-manager/go/store"
	"github.com/eocis-portal/data-manager/go/store/storetest"
	"github.com/eocis-portal/data-manager/go/types"
)

// queueFixture stores one job with the named tasks and queues them in
// order.
func queueFixture(t *testing.T, st *store.Store, taskNames ...string) *types.Job {
	ctx := testCtx(0)
	job := types.CreateJob(ctx, jobSpec("alice"), "")
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		if err := jo.CreateJob(ctx, job); err != nil {
			return err
		}
		for _, name := range taskNames {
			if err := jo.CreateTask(ctx, types.CreateTask(job.JobID, jobSpec("alice"), name)); err != nil {
				return err
			}
			if err := jo.QueueTask(ctx, job.JobID, name); err != nil {
				return err
			}
		}
		return nil
	})
	return job
}

func TestQueueFIFO(t *testing.T) {
	st := storetest.NewStore(t)
	job := queueFixture(t, st, "t1", "t2", "t3")

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		queued, err := jo.QueuedTasks(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.QueueEntry{
			{JobID: job.JobID, TaskName: "t1"},
			{JobID: job.JobID, TaskName: "t2"},
			{JobID: job.JobID, TaskName: "t3"},
		}, queued)
		return nil
	})

	// A single consumer sees exactly the enqueue order.
	var order []string
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for {
			task, err := jo.GetNextTask(ctx)
			require.NoError(t, err)
			if task == nil {
				return nil
			}
			order = append(order, task.TaskName)
		}
	})
	require.Equal(t, []string{"t1", "t2", "t3"}, order)

	// Dequeue on an empty queue returns nothing.
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		task, err := jo.GetNextTask(ctx)
		require.NoError(t, err)
		require.Nil(t, task)
		return nil
	})
}

func TestQueueDuplicateEntry(t *testing.T) {
	st := storetest.NewStore(t)
	job := queueFixture(t, st, "t1")

	// At most one outstanding queue entry per task.
	ctx := testCtx(0)
	err := st.InTransaction(ctx, func(tr *store.Transaction) error {
		return tr.JobOperations().QueueTask(ctx, job.JobID, "t1")
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestQueueConcurrentDequeue(t *testing.T) {
	st := storetest.NewStore(t)
	queueFixture(t, st, "a", "b", "c")

	// Three consumers, each in its own transaction, dequeue concurrently.
	// Every consumer must receive a distinct task.
	ctx := context.Background()
	var mtx sync.Mutex
	var names []string
	var eg errgroup.Group
	for i := 0; i < 3; i++ {
		eg.Go(func() error {
			tr, err := st.OpenTransaction(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Rollback(ctx) }()
			task, err := tr.JobOperations().GetNextTask(ctx)
			if err != nil {
				return err
			}
			if err := tr.Commit(ctx); err != nil {
				return err
			}
			mtx.Lock()
			defer mtx.Unlock()
			if task != nil {
				names = append(names, task.TaskName)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	sort.Strings(names)
	require.Equal(t, []string{"a", "b", "c"}, names)

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		queued, err := jo.QueuedTasks(ctx)
		require.NoError(t, err)
		require.Empty(t, queued)
		return nil
	})
}

func TestQueueRollbackRestoresEntry(t *testing.T) {
	st := storetest.NewStore(t)
	queueFixture(t, st, "a")

	ctx := context.Background()
	tr, err := st.OpenTransaction(ctx)
	require.NoError(t, err)
	task, err := tr.JobOperations().GetNextTask(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", task.TaskName)
	require.NoError(t, tr.Rollback(ctx))

	// The rolled back dequeue left the entry for the next consumer.
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		task, err := jo.GetNextTask(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.Equal(t, "a", task.TaskName)
		return nil
	})
}

func TestQueueStaleEntrySkipped(t *testing.T) {
	st := storetest.NewStore(t)
	stale := queueFixture(t, st, "gone")
	live := queueFixture(t, st, "kept")

	// Deleting the job leaves its queue entry behind as a stale token.
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.RemoveJob(ctx, stale.JobID)
	})

	// The stale token is swallowed and the next entry returned.
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		task, err := jo.GetNextTask(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.Equal(t, live.JobID, task.JobID)
		require.Equal(t, "kept", task.TaskName)
		return nil
	})
}

func TestClearTaskQueue(t *testing.T) {
	st := storetest.NewStore(t)
	queueFixture(t, st, "a", "b")

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.ClearTaskQueue(ctx)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		queued, err := jo.QueuedTasks(ctx)
		require.NoError(t, err)
		require.Empty(t, queued)
		task, err := jo.GetNextTask(ctx)
		require.NoError(t, err)
		require.Nil(t, task)
		return nil
	})
}
