package types

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eocis-portal/data-manager/go/now"
)

// TaskState represents the current state of a Task.
type TaskState string

const (
	// TaskStateNew indicates that the task is waiting to be dequeued by a
	// worker, or has been returned to the queue for a retry.
	TaskStateNew TaskState = "NEW"

	// TaskStateRunning indicates that the task has been leased by a worker.
	TaskStateRunning TaskState = "RUNNING"

	// TaskStateCompleted indicates that the task finished successfully.
	// Terminal.
	TaskStateCompleted TaskState = "COMPLETED"

	// TaskStateFailed indicates that the task failed. Terminal unless
	// retried.
	TaskStateFailed TaskState = "FAILED"
)

// AllTaskStates lists every valid TaskState.
var AllTaskStates = []TaskState{TaskStateNew, TaskStateRunning, TaskStateCompleted, TaskStateFailed}

// TaskTypeSubset is the only task type currently produced, extracting a
// spatio-temporal subset of a dataset.
const TaskTypeSubset = "subset"

// Task represents one unit of work belonging to a Job, typically covering a
// single dataset over a single year.
type Task struct {
	// JobID is the id of the owning Job.
	JobID string

	// TaskName is a UUID, unique within the job.
	TaskName string

	// TaskType identifies the kind of processing the worker should run.
	TaskType string

	// Spec is the task specification handed to the worker, derived from the
	// owning job's spec.
	Spec Spec

	State TaskState

	// SubmissionTime is the UTC time at which the task started running.
	// Zero while the task is still queued.
	SubmissionTime time.Time

	// CompletionTime is the UTC time at which the task reached a terminal
	// state. Zero while the task is active.
	CompletionTime time.Time

	// RemoteID is an opaque handle assigned by the executing worker, for
	// example a batch system id. Empty until the task starts.
	RemoteID string

	// Error describes why the task failed. Empty unless State is
	// TaskStateFailed.
	Error string

	// RetryCount is the number of times the task has been re-queued after
	// failing.
	RetryCount int
}

// CreateTask returns a fresh Task for the given job in the NEW state. When
// taskName is empty a new UUID is assigned.
func CreateTask(jobID string, spec Spec, taskName string) *Task {
	if taskName == "" {
		taskName = uuid.New().String()
	}
	return &Task{
		JobID:    jobID,
		TaskName: taskName,
		TaskType: TaskTypeSubset,
		Spec:     spec,
		State:    TaskStateNew,
	}
}

// Copy returns a copy of the Task.
func (t *Task) Copy() *Task {
	return &Task{
		JobID:          t.JobID,
		TaskName:       t.TaskName,
		TaskType:       t.TaskType,
		Spec:           t.Spec.DeepCopy(),
		State:          t.State,
		SubmissionTime: t.SubmissionTime,
		CompletionTime: t.CompletionTime,
		RemoteID:       t.RemoteID,
		Error:          t.Error,
		RetryCount:     t.RetryCount,
	}
}

// Done returns true when the task has reached a terminal state.
func (t *Task) Done() bool {
	return t.State == TaskStateCompleted || t.State == TaskStateFailed
}

// SetRunning moves the task into the RUNNING state, recording the worker's
// handle and the current UTC time as its submission time.
func (t *Task) SetRunning(ctx context.Context, remoteID string) {
	t.State = TaskStateRunning
	t.RemoteID = remoteID
	t.SubmissionTime = now.Now(ctx).UTC().Truncate(time.Second)
}

// SetCompleted moves the task into the COMPLETED state, noting the current
// UTC time as its completion time.
func (t *Task) SetCompleted(ctx context.Context) {
	t.State = TaskStateCompleted
	t.CompletionTime = now.Now(ctx).UTC().Truncate(time.Second)
	t.Error = ""
}

// SetFailed moves the task into the FAILED state, noting the error and the
// current UTC time as its completion time.
func (t *Task) SetFailed(ctx context.Context, errMsg string) {
	t.State = TaskStateFailed
	t.CompletionTime = now.Now(ctx).UTC().Truncate(time.Second)
	t.Error = errMsg
}

// Retry returns the task to the NEW state for another attempt, incrementing
// its retry count and clearing the residue of the failed run.
func (t *Task) Retry() {
	t.RetryCount++
	t.State = TaskStateNew
	t.SubmissionTime = time.Time{}
	t.CompletionTime = time.Time{}
	t.RemoteID = ""
	t.Error = ""
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	status := string(t.State)
	if t.State == TaskStateFailed {
		status = fmt.Sprintf("%s(%s)", status, t.Error)
	}
	return fmt.Sprintf("%s/%s %s", t.JobID, t.TaskName, status)
}

// TaskSlice implements sort.Interface, ordering by job id then task name.
type TaskSlice []*Task

func (s TaskSlice) Len() int { return len(s) }

func (s TaskSlice) Less(i, j int) bool {
	if s[i].JobID != s[j].JobID {
		return s[i].JobID < s[j].JobID
	}
	return s[i].TaskName < s[j].TaskName
}

func (s TaskSlice) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
