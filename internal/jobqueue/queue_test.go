package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"

	"github.com/automatabms/corefabric/internal/types"
)

func newTestQueue(t *testing.T) (*Queue, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	q := New(mr.Addr())
	return q, func() {
		q.Close()
		mr.Close()
	}
}

// TestEnqueueDeduplication exercises spec §8 scenario 1: calling
// enqueue twice for the same jobKey in quick succession must produce
// exactly one job, with the second call reported as already queued.
func TestEnqueueDeduplication(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	job := types.Job{
		JobKey:      "L9-E1-boiler",
		EquipmentID: "E1",
		LocationID:  "L9",
		Type:        "boiler",
		Priority:    10,
		Reason:      "test",
	}

	first, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if first.AlreadyQueued {
		t.Fatalf("expected first enqueue to succeed, not report already queued")
	}

	second, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if !second.AlreadyQueued {
		t.Errorf("expected second enqueue for the same jobKey to report already queued")
	}
}

// TestEnqueueSucceedsAfterCompletion exercises the flip side of spec
// §4.3 Invariant 1: jobKey dedup only covers {waiting, active,
// delayed}, so once a job has run to completion its jobKey must be
// enqueueable again rather than staying walled off by a retained
// TaskID (spec §4.4 requires every equipment item to be re-evaluated
// forever on a 30-60s cadence).
func TestEnqueueSucceedsAfterCompletion(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	q := New(mr.Addr())
	defer q.Close()

	job := types.Job{
		JobKey:      "L9-E5-boiler",
		EquipmentID: "E5",
		LocationID:  "L9",
		Type:        "boiler",
		Priority:    10,
		Reason:      "test",
	}

	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	done := make(chan struct{})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeControlJob, func(ctx context.Context, task *asynq.Task) error {
		close(done)
		return nil
	})

	srv := NewServer(mr.Addr(), "L9", 1)
	if err := srv.Start(mux); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to complete")
	}

	// Give asynq a moment to mark the task done and free its TaskID
	// reservation after the handler returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		second, err := q.Enqueue(context.Background(), job)
		if err != nil {
			t.Fatalf("second enqueue: %v", err)
		}
		if !second.AlreadyQueued {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected re-enqueue of a completed jobKey to succeed, still reported already queued")
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestEnqueueDistinctJobKeysBothSucceed(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()

	jobA := types.Job{JobKey: "L1-E1-pump", EquipmentID: "E1", LocationID: "L1", Type: "pump", Priority: 5}
	jobB := types.Job{JobKey: "L1-E2-pump", EquipmentID: "E2", LocationID: "L1", Type: "pump", Priority: 5}

	ra, err := q.Enqueue(context.Background(), jobA)
	if err != nil || ra.AlreadyQueued {
		t.Fatalf("jobA enqueue: result=%+v err=%v", ra, err)
	}
	rb, err := q.Enqueue(context.Background(), jobB)
	if err != nil || rb.AlreadyQueued {
		t.Fatalf("jobB enqueue: result=%+v err=%v", rb, err)
	}
}
