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

var jobTime = time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)

func jobCtx() context.Context {
	return context.WithValue(context.Background(), now.ContextKey, jobTime)
}

func TestCreateJob(t *testing.T) {
	unittest.SmallTest(t)

	spec := Spec{
		SpecKeyBundleID:    "ocean",
		SpecKeySubmitterID: "user-1",
	}
	j := CreateJob(jobCtx(), spec, "")
	require.NotEmpty(t, j.JobID)
	require.Equal(t, "user-1", j.SubmitterID)
	require.Equal(t, JobStateNew, j.State)
	require.Equal(t, jobTime, j.SubmissionTime)
	require.True(t, j.CompletionTime.IsZero())
	require.Empty(t, j.Error)

	// An explicit id is kept as given.
	j2 := CreateJob(jobCtx(), spec, "my-job")
	require.Equal(t, "my-job", j2.JobID)
	require.NotEqual(t, j.JobID, j2.JobID)
}

func TestJobCopy(t *testing.T) {
	unittest.SmallTest(t)

	j := &Job{
		JobID:          "j1",
		SubmitterID:    "user-1",
		Spec:           Spec{SpecKeyBundleID: "ocean", SpecKeyVariables: []string{"sst:analysed_sst"}},
		State:          JobStateFailed,
		SubmissionTime: jobTime,
		CompletionTime: jobTime.Add(time.Hour),
		Error:          "1 tasks failed",
	}
	testutils.AssertCopy(t, j, j.Copy())
}

func TestJobStateTransitions(t *testing.T) {
	unittest.SmallTest(t)

	ctx := jobCtx()
	j := CreateJob(ctx, Spec{SpecKeySubmitterID: "u"}, "")
	require.False(t, j.Done())

	j.SetRunning()
	require.Equal(t, JobStateRunning, j.State)
	require.False(t, j.Done())

	j.SetCompleted(ctx)
	require.Equal(t, JobStateCompleted, j.State)
	require.Equal(t, jobTime, j.CompletionTime)
	require.True(t, j.Done())

	j2 := CreateJob(ctx, Spec{SpecKeySubmitterID: "u"}, "")
	j2.SetRunning()
	j2.SetFailed(ctx, "2 tasks failed")
	require.Equal(t, JobStateFailed, j2.State)
	require.Equal(t, "2 tasks failed", j2.Error)
	require.True(t, j2.Done())

	// Completing a previously failed job clears the error.
	j2.SetCompleted(ctx)
	require.Empty(t, j2.Error)
}

func TestJobDuration(t *testing.T) {
	unittest.SmallTest(t)

	ctx := jobCtx()
	j := CreateJob(ctx, Spec{}, "")

	// Active job; measured against the current time.
	laterCtx := context.WithValue(context.Background(), now.ContextKey, jobTime.Add(90*time.Minute))
	require.Equal(t, 90*time.Minute, j.Duration(laterCtx))

	// Finished job; measured against the completion time.
	j.SetFailed(laterCtx, "oops")
	require.Equal(t, 90*time.Minute, j.Duration(jobCtx()))

	require.Equal(t, time.Duration(0), (&Job{}).Duration(ctx))
}

func TestJobExpiryTime(t *testing.T) {
	unittest.SmallTest(t)

	ctx := jobCtx()
	j := CreateJob(ctx, Spec{}, "")
	require.True(t, j.ExpiryTime(time.Hour).IsZero())

	j.SetCompleted(ctx)
	require.Equal(t, jobTime.Add(time.Hour), j.ExpiryTime(time.Hour))
}

func TestJobSliceSort(t *testing.T) {
	unittest.SmallTest(t)

	j1 := &Job{JobID: "a", SubmissionTime: jobTime.Add(2 * time.Hour)}
	j2 := &Job{JobID: "b", SubmissionTime: jobTime}
	j3 := &Job{JobID: "c", SubmissionTime: jobTime.Add(time.Hour)}
	jobs := JobSlice{j1, j2, j3}
	sort.Sort(jobs)
	require.Equal(t, JobSlice{j2, j3, j1}, jobs)
}
