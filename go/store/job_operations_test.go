package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eocis-portal/data-manager/go/now"
	"github.com/eocis-portal/data-manager/go/store"
	"github.com/eocis-portal/data-manager/go/store/storetest"
	"github.com/eocis-portal/data-manager/go/types"
)

var baseTime = time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

// testCtx returns a context whose clock is frozen at baseTime plus the
// given offset, so that stored timestamps are deterministic.
func testCtx(offset time.Duration) context.Context {
	return context.WithValue(context.Background(), now.ContextKey, baseTime.Add(offset))
}

// jobSpec builds a job spec from values which survive the JSON round trip
// through the spec column.
func jobSpec(submitterID string) types.Spec {
	return types.Spec{
		types.SpecKeyBundleID:    "ocean",
		types.SpecKeyVariables:   []interface{}{"sst:sst"},
		types.SpecKeyStartYear:   "2018",
		types.SpecKeyEndYear:     "2020",
		types.SpecKeySubmitterID: submitterID,
	}
}

func mustJobOps(t *testing.T, st *store.Store, fn func(ctx context.Context, jo *store.JobOperations) error) {
	ctx := testCtx(0)
	require.NoError(t, st.InTransaction(ctx, func(tr *store.Transaction) error {
		return fn(ctx, tr.JobOperations())
	}))
}

func TestJobRoundTrip(t *testing.T) {
	st := storetest.NewStore(t)

	ctx := testCtx(0)
	job := types.CreateJob(ctx, jobSpec("user-1"), "")

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.CreateJob(ctx, job)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		exists, err := jo.ExistsJob(ctx, job.JobID)
		require.NoError(t, err)
		require.True(t, exists)
		exists, err = jo.ExistsJob(ctx, "no-such-job")
		require.NoError(t, err)
		require.False(t, exists)

		loaded, err := jo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		require.Equal(t, job, loaded)

		_, err = jo.GetJob(ctx, "no-such-job")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})

	// Recreating the same job is a conflict.
	ctx = testCtx(0)
	err := st.InTransaction(ctx, func(tr *store.Transaction) error {
		return tr.JobOperations().CreateJob(ctx, job)
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// Terminal state round-trips including error and completion time.
	job.SetFailed(testCtx(time.Hour), "2 tasks failed")
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.UpdateJob(ctx, job)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		loaded, err := jo.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		require.Equal(t, job, loaded)
		return nil
	})

	// Updating a missing job reports ErrNotFound.
	missing := types.CreateJob(ctx, jobSpec("user-1"), "no-such-job")
	err = st.InTransaction(ctx, func(tr *store.Transaction) error {
		return tr.JobOperations().UpdateJob(ctx, missing)
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobs(t *testing.T) {
	st := storetest.NewStore(t)

	j1 := types.CreateJob(testCtx(0), jobSpec("alice"), "")
	j2 := types.CreateJob(testCtx(time.Minute), jobSpec("bob"), "")
	j3 := types.CreateJob(testCtx(2*time.Minute), jobSpec("alice"), "")
	j3.SetRunning()

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for _, j := range []*types.Job{j2, j1, j3} {
			if err := jo.CreateJob(ctx, j); err != nil {
				return err
			}
		}
		return nil
	})

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		jobs, err := jo.ListJobs(ctx)
		require.NoError(t, err)
		require.Equal(t, []*types.Job{j1, j2, j3}, jobs)

		jobs, err = jo.ListJobs(ctx, types.JobStateRunning)
		require.NoError(t, err)
		require.Equal(t, []*types.Job{j3}, jobs)

		jobs, err = jo.ListJobsBySubmitter(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, []*types.Job{j1, j3}, jobs)

		jobs, err = jo.ListJobsBySubmitter(ctx, "nobody")
		require.NoError(t, err)
		require.Empty(t, jobs)
		return nil
	})
}

func TestTaskRoundTrip(t *testing.T) {
	st := storetest.NewStore(t)

	ctx := testCtx(0)
	job := types.CreateJob(ctx, jobSpec("user-1"), "")
	task := types.CreateTask(job.JobID, jobSpec("user-1"), "")

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		if err := jo.CreateJob(ctx, job); err != nil {
			return err
		}
		return jo.CreateTask(ctx, task)
	})

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		loaded, err := jo.GetTask(ctx, job.JobID, task.TaskName)
		require.NoError(t, err)
		require.Equal(t, task, loaded)

		_, err = jo.GetTask(ctx, job.JobID, "no-such-task")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})

	// A second task with the same name is a conflict.
	err := st.InTransaction(ctx, func(tr *store.Transaction) error {
		return tr.JobOperations().CreateTask(ctx, task)
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// A task must belong to a stored job.
	orphan := types.CreateTask("no-such-job", jobSpec("user-1"), "")
	err = st.InTransaction(ctx, func(tr *store.Transaction) error {
		return tr.JobOperations().CreateTask(ctx, orphan)
	})
	require.Error(t, err)

	// All mutable columns round-trip through an update.
	task.SetRunning(testCtx(time.Minute), "slurm-17")
	task.SetFailed(testCtx(2*time.Minute), "out of memory")
	task.RetryCount = 1
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.UpdateTask(ctx, task)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		loaded, err := jo.GetTask(ctx, job.JobID, task.TaskName)
		require.NoError(t, err)
		require.Equal(t, task, loaded)
		return nil
	})

	missing := types.CreateTask(job.JobID, jobSpec("user-1"), "no-such-task")
	err = st.InTransaction(ctx, func(tr *store.Transaction) error {
		return tr.JobOperations().UpdateTask(ctx, missing)
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListTasks(t *testing.T) {
	st := storetest.NewStore(t)

	j1 := types.CreateJob(testCtx(0), jobSpec("alice"), "")
	j1.SetRunning()
	j2 := types.CreateJob(testCtx(time.Minute), jobSpec("bob"), "")
	t1 := types.CreateTask(j1.JobID, jobSpec("alice"), "a")
	t2 := types.CreateTask(j1.JobID, jobSpec("alice"), "b")
	t3 := types.CreateTask(j2.JobID, jobSpec("bob"), "c")
	t3.SetCompleted(testCtx(2 * time.Minute))

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for _, j := range []*types.Job{j1, j2} {
			if err := jo.CreateJob(ctx, j); err != nil {
				return err
			}
		}
		for _, task := range []*types.Task{t3, t2, t1} {
			if err := jo.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		entries, err := jo.ListTasks(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.TaskListEntry{
			{Task: t1, SubmitterID: "alice", JobState: types.JobStateRunning},
			{Task: t2, SubmitterID: "alice", JobState: types.JobStateRunning},
			{Task: t3, SubmitterID: "bob", JobState: types.JobStateNew},
		}, entries)

		entries, err = jo.ListTasks(ctx, types.TaskStateCompleted)
		require.NoError(t, err)
		require.Equal(t, []store.TaskListEntry{
			{Task: t3, SubmitterID: "bob", JobState: types.JobStateNew},
		}, entries)

		tasks, err := jo.ListJobTasks(ctx, j1.JobID)
		require.NoError(t, err)
		require.Equal(t, []*types.Task{t1, t2}, tasks)
		return nil
	})
}

func TestCounts(t *testing.T) {
	st := storetest.NewStore(t)

	ctx := testCtx(0)
	j1 := types.CreateJob(ctx, jobSpec("alice"), "")
	j2 := types.CreateJob(ctx, jobSpec("bob"), "")
	j2.SetRunning()
	t1 := types.CreateTask(j1.JobID, jobSpec("alice"), "a")
	t2 := types.CreateTask(j1.JobID, jobSpec("alice"), "b")
	t2.SetFailed(ctx, "boom")
	t3 := types.CreateTask(j2.JobID, jobSpec("bob"), "c")
	t3.SetCompleted(ctx)

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for _, j := range []*types.Job{j1, j2} {
			if err := jo.CreateJob(ctx, j); err != nil {
				return err
			}
		}
		for _, task := range []*types.Task{t1, t2, t3} {
			if err := jo.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		count, err := jo.CountJobsByState(ctx, types.JobStateNew)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
		count, err = jo.CountJobsByState(ctx, types.JobStateNew, types.JobStateRunning)
		require.NoError(t, err)
		require.EqualValues(t, 2, count)

		count, err = jo.CountTasksByState(ctx, "", types.TaskStateNew, types.TaskStateRunning)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
		count, err = jo.CountTasksByState(ctx, j2.JobID, types.TaskStateCompleted)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
		count, err = jo.CountTasksByState(ctx, j2.JobID, types.TaskStateFailed)
		require.NoError(t, err)
		require.EqualValues(t, 0, count)

		count, err = jo.CountTaskErrors(ctx, j1.JobID)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
		return nil
	})
}

func TestCascadeDelete(t *testing.T) {
	st := storetest.NewStore(t)

	ctx := testCtx(0)
	j1 := types.CreateJob(ctx, jobSpec("alice"), "")
	j2 := types.CreateJob(ctx, jobSpec("bob"), "")

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for _, j := range []*types.Job{j1, j2} {
			if err := jo.CreateJob(ctx, j); err != nil {
				return err
			}
			for _, name := range []string{"a", "b"} {
				if err := jo.CreateTask(ctx, types.CreateTask(j.JobID, jobSpec("x"), name)); err != nil {
					return err
				}
			}
		}
		return nil
	})

	// Deleting a job cascades to its tasks and leaves other jobs alone.
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.RemoveJob(ctx, j1.JobID)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		tasks, err := jo.ListJobTasks(ctx, j1.JobID)
		require.NoError(t, err)
		require.Empty(t, tasks)
		tasks, err = jo.ListJobTasks(ctx, j2.JobID)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		return nil
	})

	// Deleting just the tasks keeps the job.
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		return jo.RemoveTasksForJob(ctx, j2.JobID)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		tasks, err := jo.ListJobTasks(ctx, j2.JobID)
		require.NoError(t, err)
		require.Empty(t, tasks)
		exists, err := jo.ExistsJob(ctx, j2.JobID)
		require.NoError(t, err)
		require.True(t, exists)
		return jo.RemoveAllJobs(ctx)
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		jobs, err := jo.ListJobs(ctx)
		require.NoError(t, err)
		require.Empty(t, jobs)
		return nil
	})
}

func TestResetRunningTasks(t *testing.T) {
	st := storetest.NewStore(t)

	ctx := testCtx(0)
	job := types.CreateJob(ctx, jobSpec("alice"), "")
	running1 := types.CreateTask(job.JobID, jobSpec("alice"), "r1")
	running1.SetRunning(ctx, "w1")
	running2 := types.CreateTask(job.JobID, jobSpec("alice"), "r2")
	running2.SetRunning(ctx, "w2")
	completed := types.CreateTask(job.JobID, jobSpec("alice"), "done")
	completed.SetCompleted(ctx)

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		if err := jo.CreateJob(ctx, job); err != nil {
			return err
		}
		for _, task := range []*types.Task{running1, running2, completed} {
			if err := jo.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		reset, err := jo.ResetRunningTasks(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, reset)
		return nil
	})
	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for _, name := range []string{"r1", "r2"} {
			task, err := jo.GetTask(ctx, job.JobID, name)
			require.NoError(t, err)
			require.Equal(t, types.TaskStateNew, task.State)
		}
		task, err := jo.GetTask(ctx, job.JobID, "done")
		require.NoError(t, err)
		require.Equal(t, types.TaskStateCompleted, task.State)
		return nil
	})
}

func TestComputeSummary(t *testing.T) {
	st := storetest.NewStore(t)

	ctx := testCtx(0)
	j1 := types.CreateJob(ctx, jobSpec("alice"), "")
	j2 := types.CreateJob(ctx, jobSpec("bob"), "")
	j2.SetRunning()
	t1 := types.CreateTask(j1.JobID, jobSpec("alice"), "a")
	t2 := types.CreateTask(j1.JobID, jobSpec("alice"), "b")
	t2.SetCompleted(ctx)

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		for _, j := range []*types.Job{j1, j2} {
			if err := jo.CreateJob(ctx, j); err != nil {
				return err
			}
		}
		for _, task := range []*types.Task{t1, t2} {
			if err := jo.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})

	mustJobOps(t, st, func(ctx context.Context, jo *store.JobOperations) error {
		entries, err := jo.ComputeSummary(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.SummaryEntry{
			{Entity: "JOB", State: "NEW", Count: 1},
			{Entity: "JOB", State: "RUNNING", Count: 1},
			{Entity: "TASK", State: "COMPLETED", Count: 1},
			{Entity: "TASK", State: "NEW", Count: 1},
		}, entries)
		return nil
	})
}
