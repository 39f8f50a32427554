package types

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eocis-portal/data-manager/go/now"
	"github.com/eocis-portal/data-manager/go/testutils"
	"github.com/eocis-portal/data-manager/go/testutils/unittest"
)

var taskTime = time.Date(2024, time.March, 5, 11, 0, 0, 0, time.UTC)

func taskCtx() context.Context {
	return context.WithValue(context.Background(), now.ContextKey, taskTime)
}

func TestCreateTask(t *testing.T) {
	unittest.SmallTest(t)

	task := CreateTask("j1", Spec{SpecKeyStartYear: "2018"}, "")
	require.Equal(t, "j1", task.JobID)
	require.NotEmpty(t, task.TaskName)
	require.Equal(t, TaskTypeSubset, task.TaskType)
	require.Equal(t, TaskStateNew, task.State)
	require.True(t, task.SubmissionTime.IsZero())
	require.Zero(t, task.RetryCount)

	task2 := CreateTask("j1", Spec{}, "named")
	require.Equal(t, "named", task2.TaskName)
}

func TestTaskCopy(t *testing.T) {
	unittest.SmallTest(t)

	task := &Task{
		JobID:          "j1",
		TaskName:       "t1",
		TaskType:       TaskTypeSubset,
		Spec:           Spec{SpecKeyInPath: "/data/sst/2018", SpecKeyVariables: []string{"analysed_sst"}},
		State:          TaskStateFailed,
		SubmissionTime: taskTime,
		CompletionTime: taskTime.Add(time.Minute),
		RemoteID:       "slurm-123",
		Error:          "worker crashed",
		RetryCount:     1,
	}
	testutils.AssertCopy(t, task, task.Copy())
}

func TestTaskStateTransitions(t *testing.T) {
	unittest.SmallTest(t)

	ctx := taskCtx()
	task := CreateTask("j1", Spec{}, "")
	require.False(t, task.Done())

	task.SetRunning(ctx, "slurm-123")
	require.Equal(t, TaskStateRunning, task.State)
	require.Equal(t, "slurm-123", task.RemoteID)
	require.Equal(t, taskTime, task.SubmissionTime)

	task.SetCompleted(ctx)
	require.Equal(t, TaskStateCompleted, task.State)
	require.Equal(t, taskTime, task.CompletionTime)
	require.True(t, task.Done())

	task2 := CreateTask("j1", Spec{}, "")
	task2.SetRunning(ctx, "slurm-124")
	task2.SetFailed(ctx, "out of memory")
	require.Equal(t, TaskStateFailed, task2.State)
	require.Equal(t, "out of memory", task2.Error)
	require.True(t, task2.Done())
}

func TestTaskRetry(t *testing.T) {
	unittest.SmallTest(t)

	ctx := taskCtx()
	task := CreateTask("j1", Spec{SpecKeyStartYear: "2018"}, "")
	task.SetRunning(ctx, "slurm-123")
	task.SetFailed(ctx, "out of memory")

	task.Retry()
	require.Equal(t, TaskStateNew, task.State)
	require.Equal(t, 1, task.RetryCount)
	require.True(t, task.SubmissionTime.IsZero())
	require.True(t, task.CompletionTime.IsZero())
	require.Empty(t, task.RemoteID)
	require.Empty(t, task.Error)
	// The spec survives the retry untouched.
	require.Equal(t, "2018", task.Spec.GetString(SpecKeyStartYear))

	task.SetRunning(ctx, "slurm-125")
	task.SetFailed(ctx, "out of memory again")
	task.Retry()
	require.Equal(t, 2, task.RetryCount)
}

func TestTaskSliceSort(t *testing.T) {
	unittest.SmallTest(t)

	t1 := &Task{JobID: "b", TaskName: "x"}
	t2 := &Task{JobID: "a", TaskName: "z"}
	t3 := &Task{JobID: "a", TaskName: "y"}
	tasks := TaskSlice{t1, t2, t3}
	sort.Sort(tasks)
	require.Equal(t, TaskSlice{t3, t2, t1}, tasks)
}
