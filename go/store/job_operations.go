package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
	"github.com/eocis-portal/data-manager/go/types"
)

// jobStatement is an SQL statement identifier.
type jobStatement int

const (
	// The identifiers for all the SQL statements used.
	insertJob jobStatement = iota
	updateJobRow
	getJobRow
	existsJobRow
	listAllJobs
	listJobsByState
	listJobsBySubmitter
	insertTask
	updateTaskRow
	getTaskRow
	listTasksForJob
	listAllTasks
	listTasksByState
	countJobs
	countTasks
	countTasksForJob
	countErrorsForJob
	resetRunning
	deleteJob
	deleteTasksForJob
	deleteAllJobs
	deleteAllTasks
	enqueueTask
	deleteQueue
	listQueue
	dequeueTask
	summary
)

const (
	jobColumns  = "job_id, submission_date, submitter_id, spec, state, completion_date, error"
	taskColumns = "parent_job_id, task_name, task_type, submission_date, remote_task_id, spec, state, completion_date, error, retry_count"
)

// jobStatements holds all the raw SQL statements. Statements containing a
// %s take an IN-list rendered by RenderValueList from a closed enum of
// states; all other values bind via placeholders.
var jobStatements = map[jobStatement]string{
	insertJob: `
		INSERT INTO
			jobs (` + jobColumns + `)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)`,
	updateJobRow: `
		UPDATE
			jobs
		SET
			submission_date=$1, completion_date=$2, state=$3, error=$4
		WHERE
			job_id=$5`,
	getJobRow: `
		SELECT ` + jobColumns + `
		FROM
			jobs
		WHERE
			job_id=$1`,
	existsJobRow: `
		SELECT
			COUNT(*)
		FROM
			jobs
		WHERE
			job_id=$1`,
	listAllJobs: `
		SELECT ` + jobColumns + `
		FROM
			jobs
		ORDER BY
			submission_date, job_id`,
	listJobsByState: `
		SELECT ` + jobColumns + `
		FROM
			jobs
		WHERE
			state IN (%s)
		ORDER BY
			submission_date, job_id`,
	listJobsBySubmitter: `
		SELECT ` + jobColumns + `
		FROM
			jobs
		WHERE
			submitter_id=$1
		ORDER BY
			submission_date, job_id`,
	insertTask: `
		INSERT INTO
			tasks (` + taskColumns + `)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	updateTaskRow: `
		UPDATE
			tasks
		SET
			submission_date=$1, completion_date=$2, error=$3, state=$4, remote_task_id=$5, retry_count=$6
		WHERE
			parent_job_id=$7 AND task_name=$8`,
	getTaskRow: `
		SELECT ` + taskColumns + `
		FROM
			tasks
		WHERE
			parent_job_id=$1 AND task_name=$2`,
	listTasksForJob: `
		SELECT ` + taskColumns + `
		FROM
			tasks
		WHERE
			parent_job_id=$1
		ORDER BY
			task_name`,
	listAllTasks: `
		SELECT
			T.parent_job_id, T.task_name, T.task_type, T.submission_date, T.remote_task_id,
			T.spec, T.state, T.completion_date, T.error, T.retry_count,
			J.submitter_id, J.state
		FROM
			tasks T, jobs J
		WHERE
			T.parent_job_id = J.job_id
		ORDER BY
			J.submission_date, T.task_name`,
	listTasksByState: `
		SELECT
			T.parent_job_id, T.task_name, T.task_type, T.submission_date, T.remote_task_id,
			T.spec, T.state, T.completion_date, T.error, T.retry_count,
			J.submitter_id, J.state
		FROM
			tasks T, jobs J
		WHERE
			T.state IN (%s) AND T.parent_job_id = J.job_id
		ORDER BY
			J.submission_date, T.task_name`,
	countJobs: `
		SELECT
			COUNT(*)
		FROM
			jobs
		WHERE
			state IN (%s)`,
	countTasks: `
		SELECT
			COUNT(*)
		FROM
			tasks
		WHERE
			state IN (%s)`,
	countTasksForJob: `
		SELECT
			COUNT(*)
		FROM
			tasks
		WHERE
			state IN (%s) AND parent_job_id=$1`,
	countErrorsForJob: `
		SELECT
			COUNT(*)
		FROM
			tasks
		WHERE
			error <> '' AND parent_job_id=$1`,
	resetRunning: `
		UPDATE
			tasks
		SET
			state='NEW'
		WHERE
			state='RUNNING'`,
	deleteJob: `
		DELETE FROM
			jobs
		WHERE
			job_id=$1`,
	deleteTasksForJob: `
		DELETE FROM
			tasks
		WHERE
			parent_job_id=$1`,
	deleteAllJobs: `
		DELETE FROM jobs`,
	deleteAllTasks: `
		DELETE FROM tasks`,
	enqueueTask: `
		INSERT INTO
			task_queue (job_id, task_name)
		VALUES
			($1, $2)`,
	deleteQueue: `
		DELETE FROM task_queue`,
	listQueue: `
		SELECT
			job_id, task_name
		FROM
			task_queue
		ORDER BY
			queue_time, id`,
	dequeueTask: `
		DELETE FROM
			task_queue
		WHERE
			id = (
				SELECT id
				FROM task_queue
				ORDER BY queue_time ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
		RETURNING
			job_id, task_name`,
	summary: `
		SELECT 'JOB' AS entity, state, COUNT(*) AS count FROM jobs GROUP BY state
		UNION ALL
		SELECT 'TASK' AS entity, state, COUNT(*) AS count FROM tasks GROUP BY state
		ORDER BY entity, state`,
}

// TaskListEntry pairs a task with the submitter and state of its parent job.
type TaskListEntry struct {
	Task        *types.Task
	SubmitterID string
	JobState    types.JobState
}

// QueueEntry identifies one queued task.
type QueueEntry struct {
	JobID    string
	TaskName string
}

// SummaryEntry is one row of a store summary, counting the jobs or tasks in
// one state.
type SummaryEntry struct {
	Entity string
	State  string
	Count  int64
}

// JobOperations bundles the job, task and task-queue operations available
// inside a Transaction. Methods do not commit; the caller decides the fate
// of the whole Transaction.
type JobOperations struct {
	*Transaction
}

// JobOperations returns the job operations surface of the Transaction.
func (t *Transaction) JobOperations() *JobOperations {
	return &JobOperations{Transaction: t}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var j types.Job
	var submission, completion, specJSON string
	if err := row.Scan(&j.JobID, &submission, &j.SubmitterID, &specJSON, &j.State, &completion, &j.Error); err != nil {
		return nil, skerr.Wrap(err)
	}
	var err error
	if j.SubmissionTime, err = DecodeDateTime(submission); err != nil {
		return nil, skerr.Wrap(err)
	}
	if j.CompletionTime, err = DecodeDateTime(completion); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := json.Unmarshal([]byte(specJSON), &j.Spec); err != nil {
		return nil, skerr.Wrapf(err, "decoding spec of job %s", j.JobID)
	}
	return &j, nil
}

func scanTask(row rowScanner, extra ...interface{}) (*types.Task, error) {
	var t types.Task
	var submission, completion, specJSON string
	dest := []interface{}{&t.JobID, &t.TaskName, &t.TaskType, &submission, &t.RemoteID, &specJSON, &t.State, &completion, &t.Error, &t.RetryCount}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, skerr.Wrap(err)
	}
	var err error
	if t.SubmissionTime, err = DecodeDateTime(submission); err != nil {
		return nil, skerr.Wrap(err)
	}
	if t.CompletionTime, err = DecodeDateTime(completion); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := json.Unmarshal([]byte(specJSON), &t.Spec); err != nil {
		return nil, skerr.Wrapf(err, "decoding spec of task %s/%s", t.JobID, t.TaskName)
	}
	return &t, nil
}

// CreateJob inserts a new job. Returns ErrAlreadyExists when a job with the
// same id is already stored.
func (jo *JobOperations) CreateJob(ctx context.Context, job *types.Job) error {
	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return skerr.Wrapf(err, "encoding spec of job %s", job.JobID)
	}
	if _, err := jo.tx.Exec(ctx, jobStatements[insertJob],
		job.JobID,
		EncodeDateTime(job.SubmissionTime),
		job.SubmitterID,
		string(specJSON),
		job.State,
		EncodeDateTime(job.CompletionTime),
		job.Error,
	); err != nil {
		return storeError(err)
	}
	return nil
}

// UpdateJob writes the mutable columns of an existing job. Returns
// ErrNotFound when the job does not exist.
func (jo *JobOperations) UpdateJob(ctx context.Context, job *types.Job) error {
	tag, err := jo.tx.Exec(ctx, jobStatements[updateJobRow],
		EncodeDateTime(job.SubmissionTime),
		EncodeDateTime(job.CompletionTime),
		job.State,
		job.Error,
		job.JobID,
	)
	if err != nil {
		return storeError(err)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Wrapf(ErrNotFound, "job %s", job.JobID)
	}
	return nil
}

// GetJob retrieves a job by id. Returns ErrNotFound when no such job is
// stored.
func (jo *JobOperations) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := scanJob(jo.tx.QueryRow(ctx, jobStatements[getJobRow], jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, skerr.Wrapf(ErrNotFound, "job %s", jobID)
		}
		return nil, skerr.Wrap(err)
	}
	return job, nil
}

// ExistsJob reports whether a job with the given id is stored.
func (jo *JobOperations) ExistsJob(ctx context.Context, jobID string) (bool, error) {
	var count int64
	if err := jo.tx.QueryRow(ctx, jobStatements[existsJobRow], jobID).Scan(&count); err != nil {
		return false, skerr.Wrap(err)
	}
	return count > 0, nil
}

// ListJobs lists stored jobs, ordered by submission time. When states is
// non-empty only jobs in one of the given states are returned.
func (jo *JobOperations) ListJobs(ctx context.Context, states ...types.JobState) ([]*types.Job, error) {
	stmt := jobStatements[listAllJobs]
	if len(states) > 0 {
		stmt = fmt.Sprintf(jobStatements[listJobsByState], RenderValueList(jobStateStrings(states)))
	}
	rows, err := jo.tx.Query(ctx, stmt)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return collectJobs(rows)
}

// ListJobsBySubmitter lists the jobs of one submitter, ordered by submission
// time.
func (jo *JobOperations) ListJobsBySubmitter(ctx context.Context, submitterID string) ([]*types.Job, error) {
	rows, err := jo.tx.Query(ctx, jobStatements[listJobsBySubmitter], submitterID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*types.Job, error) {
	defer rows.Close()
	var rv []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		rv = append(rv, job)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// CreateTask inserts a new task. Returns ErrAlreadyExists when the job
// already has a task with the same name.
func (jo *JobOperations) CreateTask(ctx context.Context, task *types.Task) error {
	specJSON, err := json.Marshal(task.Spec)
	if err != nil {
		return skerr.Wrapf(err, "encoding spec of task %s/%s", task.JobID, task.TaskName)
	}
	if _, err := jo.tx.Exec(ctx, jobStatements[insertTask],
		task.JobID,
		task.TaskName,
		task.TaskType,
		EncodeDateTime(task.SubmissionTime),
		task.RemoteID,
		string(specJSON),
		task.State,
		EncodeDateTime(task.CompletionTime),
		task.Error,
		task.RetryCount,
	); err != nil {
		return storeError(err)
	}
	return nil
}

// UpdateTask writes the mutable columns of an existing task. Returns
// ErrNotFound when the task does not exist.
func (jo *JobOperations) UpdateTask(ctx context.Context, task *types.Task) error {
	tag, err := jo.tx.Exec(ctx, jobStatements[updateTaskRow],
		EncodeDateTime(task.SubmissionTime),
		EncodeDateTime(task.CompletionTime),
		task.Error,
		task.State,
		task.RemoteID,
		task.RetryCount,
		task.JobID,
		task.TaskName,
	)
	if err != nil {
		return storeError(err)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Wrapf(ErrNotFound, "task %s/%s", task.JobID, task.TaskName)
	}
	return nil
}

// GetTask retrieves a task by its job id and name. Returns ErrNotFound when
// no such task is stored.
func (jo *JobOperations) GetTask(ctx context.Context, jobID, taskName string) (*types.Task, error) {
	task, err := scanTask(jo.tx.QueryRow(ctx, jobStatements[getTaskRow], jobID, taskName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, skerr.Wrapf(ErrNotFound, "task %s/%s", jobID, taskName)
		}
		return nil, skerr.Wrap(err)
	}
	return task, nil
}

// ListJobTasks lists all tasks belonging to a job.
func (jo *JobOperations) ListJobTasks(ctx context.Context, jobID string) ([]*types.Task, error) {
	rows, err := jo.tx.Query(ctx, jobStatements[listTasksForJob], jobID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	var rv []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		rv = append(rv, task)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// ListTasks lists stored tasks joined with the submitter and state of their
// parent job, ordered by the parent job's submission time. When states is
// non-empty only tasks in one of the given states are returned.
func (jo *JobOperations) ListTasks(ctx context.Context, states ...types.TaskState) ([]TaskListEntry, error) {
	stmt := jobStatements[listAllTasks]
	if len(states) > 0 {
		stmt = fmt.Sprintf(jobStatements[listTasksByState], RenderValueList(taskStateStrings(states)))
	}
	rows, err := jo.tx.Query(ctx, stmt)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	var rv []TaskListEntry
	for rows.Next() {
		var entry TaskListEntry
		task, err := scanTask(rows, &entry.SubmitterID, &entry.JobState)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		entry.Task = task
		rv = append(rv, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// CountJobsByState counts the jobs in any of the given states.
func (jo *JobOperations) CountJobsByState(ctx context.Context, states ...types.JobState) (int64, error) {
	stmt := fmt.Sprintf(jobStatements[countJobs], RenderValueList(jobStateStrings(states)))
	var count int64
	if err := jo.tx.QueryRow(ctx, stmt).Scan(&count); err != nil {
		return 0, skerr.Wrap(err)
	}
	return count, nil
}

// CountTasksByState counts the tasks in any of the given states, restricted
// to one job when jobID is non-empty.
func (jo *JobOperations) CountTasksByState(ctx context.Context, jobID string, states ...types.TaskState) (int64, error) {
	var row pgx.Row
	if jobID != "" {
		stmt := fmt.Sprintf(jobStatements[countTasksForJob], RenderValueList(taskStateStrings(states)))
		row = jo.tx.QueryRow(ctx, stmt, jobID)
	} else {
		stmt := fmt.Sprintf(jobStatements[countTasks], RenderValueList(taskStateStrings(states)))
		row = jo.tx.QueryRow(ctx, stmt)
	}
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, skerr.Wrap(err)
	}
	return count, nil
}

// CountTaskErrors counts the tasks of a job which carry a non-empty error.
func (jo *JobOperations) CountTaskErrors(ctx context.Context, jobID string) (int64, error) {
	var count int64
	if err := jo.tx.QueryRow(ctx, jobStatements[countErrorsForJob], jobID).Scan(&count); err != nil {
		return 0, skerr.Wrap(err)
	}
	return count, nil
}

// ResetRunningTasks returns every RUNNING task to NEW. Intended as an
// explicit operator action at service startup, recovering tasks whose
// worker vanished. Returns the number of tasks reset.
func (jo *JobOperations) ResetRunningTasks(ctx context.Context) (int64, error) {
	tag, err := jo.tx.Exec(ctx, jobStatements[resetRunning])
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// RemoveJob deletes a job. The foreign key from tasks cascades the delete
// of its tasks.
func (jo *JobOperations) RemoveJob(ctx context.Context, jobID string) error {
	if _, err := jo.tx.Exec(ctx, jobStatements[deleteJob], jobID); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// RemoveTasksForJob deletes all tasks belonging to a job, leaving the job
// itself in place.
func (jo *JobOperations) RemoveTasksForJob(ctx context.Context, jobID string) error {
	if _, err := jo.tx.Exec(ctx, jobStatements[deleteTasksForJob], jobID); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// RemoveAllJobs deletes every job and, by cascade, every task.
func (jo *JobOperations) RemoveAllJobs(ctx context.Context) error {
	if _, err := jo.tx.Exec(ctx, jobStatements[deleteAllJobs]); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// RemoveAllTasks deletes every task.
func (jo *JobOperations) RemoveAllTasks(ctx context.Context) error {
	if _, err := jo.tx.Exec(ctx, jobStatements[deleteAllTasks]); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// QueueTask appends one task to the task queue. Returns ErrAlreadyExists
// when the task is already queued.
func (jo *JobOperations) QueueTask(ctx context.Context, jobID, taskName string) error {
	if _, err := jo.tx.Exec(ctx, jobStatements[enqueueTask], jobID, taskName); err != nil {
		return storeError(err)
	}
	return nil
}

// ClearTaskQueue removes every entry from the task queue.
func (jo *JobOperations) ClearTaskQueue(ctx context.Context) error {
	if _, err := jo.tx.Exec(ctx, jobStatements[deleteQueue]); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// QueuedTasks lists the queue entries in dequeue order.
func (jo *JobOperations) QueuedTasks(ctx context.Context) ([]QueueEntry, error) {
	rows, err := jo.tx.Query(ctx, jobStatements[listQueue])
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	var rv []QueueEntry
	for rows.Next() {
		var entry QueueEntry
		if err := rows.Scan(&entry.JobID, &entry.TaskName); err != nil {
			return nil, skerr.Wrap(err)
		}
		rv = append(rv, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

// GetNextTask atomically removes the oldest queue entry and returns its
// task, or nil when the queue is empty. The locking selector skips entries
// held by concurrent consumers, so parallel callers each receive a distinct
// task. Rolling back the Transaction restores the queue entry.
//
// A queue entry whose task no longer exists is a stale token, eg. the job
// was deleted while queued. Stale tokens are dropped and the next entry is
// tried.
func (jo *JobOperations) GetNextTask(ctx context.Context) (*types.Task, error) {
	for {
		var jobID, taskName string
		err := jo.tx.QueryRow(ctx, jobStatements[dequeueTask]).Scan(&jobID, &taskName)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		task, err := jo.GetTask(ctx, jobID, taskName)
		if errors.Is(err, ErrNotFound) {
			sklog.Warningf("dropping stale queue entry for %s/%s", jobID, taskName)
			continue
		}
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		return task, nil
	}
}

// ComputeSummary counts jobs and tasks grouped by state.
func (jo *JobOperations) ComputeSummary(ctx context.Context) ([]SummaryEntry, error) {
	rows, err := jo.tx.Query(ctx, jobStatements[summary])
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	var rv []SummaryEntry
	for rows.Next() {
		var entry SummaryEntry
		if err := rows.Scan(&entry.Entity, &entry.State, &entry.Count); err != nil {
			return nil, skerr.Wrap(err)
		}
		rv = append(rv, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}

func jobStateStrings(states []types.JobState) []string {
	rv := make([]string, 0, len(states))
	for _, s := range states {
		rv = append(rv, string(s))
	}
	return rv
}

func taskStateStrings(states []types.TaskState) []string {
	rv := make([]string, 0, len(states))
	for _, s := range states {
		rv = append(rv, string(s))
	}
	return rv
}
