// Package jobqueue implements the job queue (C3): a durable,
// per-location, priority FIFO with jobKey-based dedup, retries with
// exponential backoff, and completion/failure events, backed by
// asynq's Redis-based task queue.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/types"
)

// TaskTypeControlJob is the asynq task type name every control job
// shares; the job's own Type field (air_handler, boiler, ...) travels
// inside the payload, not the asynq type, since asynq task types are
// better suited to a single registered handler than one per
// equipment category.
const TaskTypeControlJob = "control:job"

// Payload is the asynq task payload for one control job.
type Payload struct {
	JobKey      string `json:"jobKey"`
	EquipmentID string `json:"equipmentId"`
	LocationID  string `json:"locationId"`
	Type        string `json:"type"`
	Priority    int    `json:"priority"`
	Reason      string `json:"reason"`
}

// Queue wraps an asynq client + inspector scoped to dispatch across
// per-location Redis queues, plus the bounded in-process job-history
// buffers spec §4.3 asks C3 to retain for debugging.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector

	historyMu sync.Mutex
	completed []JobRecord
	failed    []JobRecord
}

// New creates a Queue backed by a real Redis connection at redisAddr.
func New(redisAddr string) *Queue {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Close releases the underlying connections.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}

// EnqueueResult is the outcome of one Enqueue call.
type EnqueueResult struct {
	AlreadyQueued bool
	TaskID        string
}

// Enqueue submits a job keyed by job.JobKey. A second Enqueue call for
// a jobKey already in {waiting, active, delayed} is ignored — not
// treated as an error — and reported back as AlreadyQueued (spec
// §4.3 Invariant 1, §8 scenario 1).
//
// asynq's TaskID reservation is deliberately left with no Retention:
// the jobKey is permanent per equipment (types.Equipment.JobKey()), and
// spec §4.4 requires every equipment item to be re-evaluated on a
// 30-60s cadence forever, so a completed task's unique key must free
// the moment it finishes rather than staying reserved for a
// time-based retention window — a retained TaskID would turn the very
// first successful job for a piece of equipment into a permanent
// AlreadyQueued wall. The bounded completed/failed history spec §4.3
// also asks for is kept separately, in q.completed/q.failed
// (RecordCompleted/RecordFailed), so debugging visibility doesn't
// depend on holding the Redis-side task record open.
func (q *Queue) Enqueue(ctx context.Context, job types.Job) (EnqueueResult, error) {
	payload, err := json.Marshal(Payload{
		JobKey:      job.JobKey,
		EquipmentID: job.EquipmentID,
		LocationID:  job.LocationID,
		Type:        job.Type,
		Priority:    job.Priority,
		Reason:      job.Reason,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("jobqueue: marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeControlJob, payload)
	timeout := config.InFlightTimeout[job.Type]
	if timeout == 0 {
		timeout = config.DefaultInFlightTimeout
	}

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.JobKey),
		asynq.Queue(job.LocationID),
		asynq.MaxRetry(config.MaxJobAttempts-1),
		asynq.Timeout(timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return EnqueueResult{AlreadyQueued: true, TaskID: job.JobKey}, nil
		}
		return EnqueueResult{}, fmt.Errorf("jobqueue: enqueue %s: %w", job.JobKey, err)
	}
	return EnqueueResult{TaskID: info.ID}, nil
}

// JobRecord is one bounded debugging-history entry: a jobKey that
// reached a terminal state, when, and (for failures) why.
type JobRecord struct {
	JobKey    string
	Reason    string
	Timestamp time.Time
}

// RecordCompleted appends jobKey to the bounded completed-job history
// (spec §4.3 "completed retained (~50)"), evicting the oldest entry
// once config.MaxCompletedJobsRetained is reached. This is purely a
// debugging record — it has no bearing on whether jobKey can be
// re-enqueued, since that is governed by the live asynq task state,
// not by this history.
func (q *Queue) RecordCompleted(jobKey string) {
	q.historyMu.Lock()
	defer q.historyMu.Unlock()
	if len(q.completed) >= config.MaxCompletedJobsRetained {
		q.completed = q.completed[1:]
	}
	q.completed = append(q.completed, JobRecord{JobKey: jobKey, Timestamp: time.Now()})
}

// RecordFailed appends jobKey to the bounded failed-job history (spec
// §4.3 "Failed jobs retained (≥25) for debugging"), evicting the
// oldest entry once config.MaxFailedJobsRetained is reached.
func (q *Queue) RecordFailed(jobKey, reason string) {
	q.historyMu.Lock()
	defer q.historyMu.Unlock()
	if len(q.failed) >= config.MaxFailedJobsRetained {
		q.failed = q.failed[1:]
	}
	q.failed = append(q.failed, JobRecord{JobKey: jobKey, Reason: reason, Timestamp: time.Now()})
}

// RecentCompleted returns a copy of the retained completed-job history.
func (q *Queue) RecentCompleted() []JobRecord {
	q.historyMu.Lock()
	defer q.historyMu.Unlock()
	out := make([]JobRecord, len(q.completed))
	copy(out, q.completed)
	return out
}

// RecentFailed returns a copy of the retained failed-job history.
func (q *Queue) RecentFailed() []JobRecord {
	q.historyMu.Lock()
	defer q.historyMu.Unlock()
	out := make([]JobRecord, len(q.failed))
	copy(out, q.failed)
	return out
}

// State reports the current lifecycle state of jobKey, translated to
// the spec's vocabulary (spec §3 Job.state).
func (q *Queue) State(locationID, jobKey string) (types.JobState, error) {
	info, err := q.inspector.GetTaskInfo(locationID, jobKey)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return "", err
		}
		return "", fmt.Errorf("jobqueue: get task info: %w", err)
	}
	switch info.State {
	case asynq.TaskStatePending:
		return types.JobWaiting, nil
	case asynq.TaskStateActive:
		return types.JobActive, nil
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return types.JobDelayed, nil
	case asynq.TaskStateCompleted:
		return types.JobCompleted, nil
	case asynq.TaskStateArchived:
		return types.JobFailed, nil
	default:
		return types.JobState(info.State.String()), nil
	}
}

// NewServer builds the asynq.Server that consumes jobs for one
// location, with the worker-pool concurrency bound from spec §5
// ("a small bound, typically 2-4") and the retry/backoff policy from
// spec §4.3.
func NewServer(redisAddr, locationID string, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 4
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{locationID: 1},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				delay := config.RetryBaseDelay * time.Duration(1<<uint(n))
				if delay > config.RetryMaxDelay {
					delay = config.RetryMaxDelay
				}
				return delay
			},
		},
	)
}
