package types

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eocis-portal/data-manager/go/now"
)

// JobState represents the current state of a Job.
type JobState string

const (
	// JobStateNew indicates that the job has been submitted but its tasks
	// have not yet been materialised.
	JobStateNew JobState = "NEW"

	// JobStateRunning indicates that the job's tasks have been created and
	// at least one of them has not reached a terminal state.
	JobStateRunning JobState = "RUNNING"

	// JobStateCompleted indicates that all of the job's tasks completed
	// successfully. Terminal.
	JobStateCompleted JobState = "COMPLETED"

	// JobStateFailed indicates that at least one task failed with no
	// retries left. Terminal.
	JobStateFailed JobState = "FAILED"
)

// AllJobStates lists every valid JobState.
var AllJobStates = []JobState{JobStateNew, JobStateRunning, JobStateCompleted, JobStateFailed}

// Job represents one user request, accomplished by executing zero or more
// tasks.
type Job struct {
	// JobID is a UUID, unique across all jobs. Never changes once the job
	// has been inserted into the store.
	JobID string

	// SubmitterID is an opaque reference to the submitting principal.
	SubmitterID string

	// Spec is the job specification as submitted.
	Spec Spec

	State JobState

	// SubmissionTime is the UTC time at which the job was submitted.
	SubmissionTime time.Time

	// CompletionTime is the UTC time at which the job reached a terminal
	// state. Zero while the job is active.
	CompletionTime time.Time

	// Error describes why the job failed. Empty unless State is
	// JobStateFailed.
	Error string
}

// CreateJob returns a freshly submitted Job in the NEW state. When jobID is
// empty a new UUID is assigned. The submitter is read from the spec's
// SUBMITTER_ID key.
func CreateJob(ctx context.Context, spec Spec, jobID string) *Job {
	if jobID == "" {
		jobID = uuid.New().String()
	}
	return &Job{
		JobID:          jobID,
		SubmitterID:    spec.GetString(SpecKeySubmitterID),
		Spec:           spec,
		State:          JobStateNew,
		SubmissionTime: now.Now(ctx).UTC().Truncate(time.Second),
	}
}

// Copy returns a copy of the Job.
func (j *Job) Copy() *Job {
	return &Job{
		JobID:          j.JobID,
		SubmitterID:    j.SubmitterID,
		Spec:           j.Spec.DeepCopy(),
		State:          j.State,
		SubmissionTime: j.SubmissionTime,
		CompletionTime: j.CompletionTime,
		Error:          j.Error,
	}
}

// Done returns true when the job has reached a terminal state.
func (j *Job) Done() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

// SetRunning moves the job into the RUNNING state. This transition is
// triggered when the job's tasks have been created.
func (j *Job) SetRunning() {
	j.State = JobStateRunning
}

// SetCompleted moves the job into the COMPLETED state, noting the current
// UTC time as its completion time.
func (j *Job) SetCompleted(ctx context.Context) {
	j.State = JobStateCompleted
	j.CompletionTime = now.Now(ctx).UTC().Truncate(time.Second)
	j.Error = ""
}

// SetFailed moves the job into the FAILED state, noting the error and the
// current UTC time as its completion time.
func (j *Job) SetFailed(ctx context.Context, errMsg string) {
	j.State = JobStateFailed
	j.CompletionTime = now.Now(ctx).UTC().Truncate(time.Second)
	j.Error = errMsg
}

// Duration returns how long the job has been running, or ran for if it has
// finished.
func (j *Job) Duration(ctx context.Context) time.Duration {
	if j.SubmissionTime.IsZero() {
		return 0
	}
	if j.Done() {
		return j.CompletionTime.Sub(j.SubmissionTime)
	}
	return now.Now(ctx).UTC().Sub(j.SubmissionTime)
}

// ExpiryTime returns the time after which the job's output may be cleaned
// up, or the zero time while the job is still active.
func (j *Job) ExpiryTime(cleanupAfter time.Duration) time.Time {
	if !j.Done() {
		return time.Time{}
	}
	return j.CompletionTime.Add(cleanupAfter)
}

// String implements fmt.Stringer.
func (j *Job) String() string {
	status := string(j.State)
	if j.State == JobStateFailed {
		status = fmt.Sprintf("%s(%s)", status, j.Error)
	}
	return fmt.Sprintf("%s %s %s", j.JobID, j.SubmitterID, status)
}

// JobSlice implements sort.Interface, ordering by submission time.
type JobSlice []*Job

func (s JobSlice) Len() int { return len(s) }

func (s JobSlice) Less(i, j int) bool {
	return s[i].SubmissionTime.Before(s[j].SubmissionTime)
}

func (s JobSlice) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
