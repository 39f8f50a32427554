// Package manager implements the job lifecycle on top of the store:
// decomposing a submitted job into per-dataset, per-year tasks, queueing
// them, applying the retry policy to failed tasks, and aggregating task
// outcomes back into the state of the parent job.
package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eocis-portal/data-manager/go/config"
	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
	"github.com/eocis-portal/data-manager/go/store"
	"github.com/eocis-portal/data-manager/go/types"
)

// Keys under a dataset spec's metadata mapping used to build the output
// filename pattern. A missing key leaves its placeholder in the pattern.
const (
	MetadataKey     = "metadata"
	MetadataLevel   = "level"
	MetadataProduct = "product"
	MetadataVersion = "version"

	levelPlaceholder   = "{LEVEL}"
	productPlaceholder = "{PRODUCT}"
	versionPlaceholder = "{VERSION}"
)

// JobManager decomposes jobs into tasks and tracks their lifecycles.
type JobManager struct {
	store *store.Store
	cfg   *config.Config
}

// New returns a JobManager operating on the given store.
func New(st *store.Store, cfg *config.Config) *JobManager {
	return &JobManager{
		store: st,
		cfg:   cfg,
	}
}

// SubmitJob stores a new job built from the given spec and materialises its
// tasks. Either the job row, every task and every queue entry are committed
// together, or nothing is.
func (m *JobManager) SubmitJob(ctx context.Context, spec types.Spec) (*types.Job, error) {
	job := types.CreateJob(ctx, spec, "")
	err := m.store.InTransaction(ctx, func(t *store.Transaction) error {
		if err := t.JobOperations().CreateJob(ctx, job); err != nil {
			return skerr.Wrap(err)
		}
		return m.createTasks(ctx, t, job)
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	sklog.Infof("submitted job %s for %s", job.JobID, job.SubmitterID)
	return job, nil
}

// CreateTasks materialises the tasks for a freshly submitted job. The job
// row must already be stored in state NEW with a fully populated spec.
// Either every task is created and queued, or none is, leaving the job as a
// safe retry point.
func (m *JobManager) CreateTasks(ctx context.Context, jobID string) error {
	return m.store.InTransaction(ctx, func(t *store.Transaction) error {
		job, err := t.JobOperations().GetJob(ctx, jobID)
		if err != nil {
			return skerr.Wrap(err)
		}
		return m.createTasks(ctx, t, job)
	})
}

func (m *JobManager) createTasks(ctx context.Context, t *store.Transaction, job *types.Job) error {
	jo := t.JobOperations()
	so := t.SchemaOperations()

	spec := job.Spec
	startYear, err := spec.GetInt(types.SpecKeyStartYear)
	if err != nil {
		return skerr.Wrap(err)
	}
	endYear, err := spec.GetInt(types.SpecKeyEndYear)
	if err != nil {
		return skerr.Wrap(err)
	}
	if endYear < startYear {
		return skerr.Fmt("job %s: end year %d precedes start year %d", job.JobID, endYear, startYear)
	}
	bundle, err := so.GetBundle(ctx, spec.GetString(types.SpecKeyBundleID))
	if err != nil {
		return skerr.Wrap(err)
	}
	lonMin, latMin, lonMax, latMax := bundle.Bounds()

	datasetIDs, datasetVariables, err := groupVariables(spec.GetStringList(types.SpecKeyVariables))
	if err != nil {
		return skerr.Wrap(err)
	}

	created := 0
	for _, datasetID := range datasetIDs {
		ds, err := so.GetDataSet(ctx, datasetID)
		if err != nil {
			return skerr.Wrap(err)
		}
		namePattern := outputNamePattern(m.cfg.OutputFilenamePattern, ds)
		for year := startYear; year <= endYear; year++ {
			yearStr := strconv.Itoa(year)
			taskSpec := spec.DeepCopy()
			taskSpec[types.SpecKeyStartYear] = yearStr
			taskSpec[types.SpecKeyEndYear] = yearStr
			if year > startYear {
				taskSpec[types.SpecKeyStartMonth] = "1"
				taskSpec[types.SpecKeyStartDay] = "1"
			}
			if year < endYear {
				taskSpec[types.SpecKeyEndMonth] = "12"
				taskSpec[types.SpecKeyEndDay] = "31"
			}
			taskSpec[types.SpecKeyVariables] = datasetVariables[datasetID]
			taskSpec[types.SpecKeyInPath] = strings.ReplaceAll(ds.Location, types.LocationYearPlaceholder, yearStr)
			taskSpec[types.SpecKeyOutPath] = filepath.Join(m.cfg.OutputPath, job.JobID, yearStr)
			taskSpec[types.SpecKeyOutputNamePattern] = namePattern
			if !taskSpec.Has(types.SpecKeyLonMin) {
				taskSpec[types.SpecKeyLonMin] = lonMin
			}
			if !taskSpec.Has(types.SpecKeyLatMin) {
				taskSpec[types.SpecKeyLatMin] = latMin
			}
			if !taskSpec.Has(types.SpecKeyLonMax) {
				taskSpec[types.SpecKeyLonMax] = lonMax
			}
			if !taskSpec.Has(types.SpecKeyLatMax) {
				taskSpec[types.SpecKeyLatMax] = latMax
			}
			task := types.CreateTask(job.JobID, taskSpec, "")
			if err := jo.CreateTask(ctx, task); err != nil {
				return skerr.Wrap(err)
			}
			if err := jo.QueueTask(ctx, job.JobID, task.TaskName); err != nil {
				return skerr.Wrap(err)
			}
			created++
		}
	}
	job.SetRunning()
	if err := jo.UpdateJob(ctx, job); err != nil {
		return skerr.Wrap(err)
	}
	sklog.Infof("created %d tasks for job %s", created, job.JobID)
	return nil
}

// groupVariables splits "{dataset_id}:{variable_id}" references into
// per-dataset variable lists, preserving the order of first appearance.
func groupVariables(refs []string) ([]string, map[string][]string, error) {
	var datasetIDs []string
	grouped := map[string][]string{}
	for _, ref := range refs {
		datasetID, variableID, found := strings.Cut(ref, ":")
		if !found || datasetID == "" || variableID == "" {
			return nil, nil, skerr.Fmt("malformed variable reference %q", ref)
		}
		if _, ok := grouped[datasetID]; !ok {
			datasetIDs = append(datasetIDs, datasetID)
		}
		grouped[datasetID] = append(grouped[datasetID], variableID)
	}
	return datasetIDs, grouped, nil
}

// outputNamePattern substitutes the dataset's level, product and version
// into the configured filename template. The date placeholders are left for
// the worker.
func outputNamePattern(template string, ds *types.DataSet) string {
	metadata := ds.Spec.GetSub(MetadataKey)
	level, product, version := levelPlaceholder, productPlaceholder, versionPlaceholder
	if metadata != nil {
		if metadata.Has(MetadataLevel) {
			level = metadata.GetString(MetadataLevel)
		}
		if metadata.Has(MetadataProduct) {
			product = metadata.GetString(MetadataProduct)
		}
		if metadata.Has(MetadataVersion) {
			version = metadata.GetString(MetadataVersion)
		}
	}
	rv := strings.ReplaceAll(template, levelPlaceholder, level)
	rv = strings.ReplaceAll(rv, productPlaceholder, product)
	rv = strings.ReplaceAll(rv, versionPlaceholder, version)
	return rv
}

// UpdateJob recomputes the state of a job from its tasks. Called after a
// task reaches a terminal state. The counts and the final write share one
// transaction so the aggregation cannot race a concurrent task transition.
func (m *JobManager) UpdateJob(ctx context.Context, jobID string) error {
	return m.store.InTransaction(ctx, func(t *store.Transaction) error {
		return m.updateJob(ctx, t, jobID)
	})
}

func (m *JobManager) updateJob(ctx context.Context, t *store.Transaction, jobID string) error {
	jo := t.JobOperations()
	job, err := jo.GetJob(ctx, jobID)
	if err != nil {
		return skerr.Wrap(err)
	}
	active, err := jo.CountTasksByState(ctx, jobID, types.TaskStateNew, types.TaskStateRunning)
	if err != nil {
		return skerr.Wrap(err)
	}
	if active > 0 {
		if job.State != types.JobStateRunning {
			job.SetRunning()
			if err := jo.UpdateJob(ctx, job); err != nil {
				return skerr.Wrap(err)
			}
		}
		return nil
	}
	failed, err := jo.CountTasksByState(ctx, jobID, types.TaskStateFailed)
	if err != nil {
		return skerr.Wrap(err)
	}
	if failed == 0 {
		job.SetCompleted(ctx)
	} else {
		job.SetFailed(ctx, fmt.Sprintf("%d tasks failed", failed))
	}
	if err := jo.UpdateJob(ctx, job); err != nil {
		return skerr.Wrap(err)
	}
	sklog.Infof("job %s is now %s", jobID, job.State)
	return nil
}

// DequeueTask atomically removes the oldest queued task and returns it
// marked RUNNING, or nil when the queue is empty.
func (m *JobManager) DequeueTask(ctx context.Context, remoteID string) (*types.Task, error) {
	var task *types.Task
	err := m.store.InTransaction(ctx, func(t *store.Transaction) error {
		jo := t.JobOperations()
		var err error
		task, err = jo.GetNextTask(ctx)
		if err != nil {
			return skerr.Wrap(err)
		}
		if task == nil {
			return nil
		}
		task.SetRunning(ctx, remoteID)
		return jo.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return task, nil
}

// StartTask marks a task RUNNING with the given worker handle and ensures
// the parent job is RUNNING.
func (m *JobManager) StartTask(ctx context.Context, jobID, taskName, remoteID string) (*types.Task, error) {
	var task *types.Task
	err := m.store.InTransaction(ctx, func(t *store.Transaction) error {
		jo := t.JobOperations()
		var err error
		task, err = jo.GetTask(ctx, jobID, taskName)
		if err != nil {
			return skerr.Wrap(err)
		}
		task.SetRunning(ctx, remoteID)
		if err := jo.UpdateTask(ctx, task); err != nil {
			return skerr.Wrap(err)
		}
		return m.updateJob(ctx, t, jobID)
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return task, nil
}

// CompleteTask marks a task COMPLETED and aggregates the outcome into the
// parent job.
func (m *JobManager) CompleteTask(ctx context.Context, jobID, taskName string) (*types.Task, error) {
	var task *types.Task
	err := m.store.InTransaction(ctx, func(t *store.Transaction) error {
		jo := t.JobOperations()
		var err error
		task, err = jo.GetTask(ctx, jobID, taskName)
		if err != nil {
			return skerr.Wrap(err)
		}
		task.SetCompleted(ctx)
		if err := jo.UpdateTask(ctx, task); err != nil {
			return skerr.Wrap(err)
		}
		return m.updateJob(ctx, t, jobID)
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return task, nil
}

// FailTask records a worker-reported failure. While the task has retries
// left it is returned to NEW and re-queued; otherwise it stays FAILED and
// the outcome is aggregated into the parent job.
func (m *JobManager) FailTask(ctx context.Context, jobID, taskName, errMsg string) (*types.Task, error) {
	var task *types.Task
	err := m.store.InTransaction(ctx, func(t *store.Transaction) error {
		jo := t.JobOperations()
		var err error
		task, err = jo.GetTask(ctx, jobID, taskName)
		if err != nil {
			return skerr.Wrap(err)
		}
		task.SetFailed(ctx, errMsg)
		if task.RetryCount < m.cfg.MaxTaskRetries {
			task.Retry()
			if err := jo.UpdateTask(ctx, task); err != nil {
				return skerr.Wrap(err)
			}
			if err := jo.QueueTask(ctx, jobID, taskName); err != nil {
				return skerr.Wrap(err)
			}
			sklog.Infof("task %s/%s failed, retry %d of %d: %s", jobID, taskName, task.RetryCount, m.cfg.MaxTaskRetries, errMsg)
			return nil
		}
		if err := jo.UpdateTask(ctx, task); err != nil {
			return skerr.Wrap(err)
		}
		sklog.Warningf("task %s/%s failed permanently: %s", jobID, taskName, errMsg)
		return m.updateJob(ctx, t, jobID)
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return task, nil
}

// ResetRunningTasks returns every RUNNING task to NEW. An explicit operator
// action for service startup, after which the operator re-queues the reset
// tasks. Returns the number of tasks reset.
func (m *JobManager) ResetRunningTasks(ctx context.Context) (int64, error) {
	var reset int64
	err := m.store.InTransaction(ctx, func(t *store.Transaction) error {
		var err error
		reset, err = t.JobOperations().ResetRunningTasks(ctx)
		return err
	})
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	if reset > 0 {
		sklog.Infof("reset %d running tasks to NEW", reset)
	}
	return reset, nil
}
