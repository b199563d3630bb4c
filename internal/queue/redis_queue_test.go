package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*ImportQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewImportQueueWithClient(client, time.Minute), mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "batch-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "batch-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "batch-1" {
		t.Fatalf("expected batch-1 first got %q", id)
	}

	inflight, err := q.InFlightCount(ctx)
	if err != nil || inflight != 1 {
		t.Fatalf("expected 1 inflight got %d err=%v", inflight, err)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	inflight, _ = q.InFlightCount(ctx)
	if inflight != 0 {
		t.Fatalf("expected 0 inflight after ack got %d", inflight)
	}

	depth, _ := q.ReadyDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected 1 ready got %d", depth)
	}
}

func TestDequeueEmptyReturnsNoError(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id got %q", id)
	}
}

func TestRequeueExpired(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "batch-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Not expired yet.
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no expired leases got %v", ids)
	}

	// Past the visibility deadline the lease is reclaimed.
	ids, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "batch-1" {
		t.Fatalf("expected batch-1 reclaimed got %v", ids)
	}

	depth, _ := q.ReadyDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected reclaimed batch ready got depth %d", depth)
	}
}

func TestDLQPush(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "batch-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.DLQPush(ctx, "batch-1"); err != nil {
		t.Fatalf("dlq push: %v", err)
	}

	inflight, _ := q.InFlightCount(ctx)
	if inflight != 0 {
		t.Fatalf("expected inflight cleared got %d", inflight)
	}
	dead, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(dead) != 1 || dead[0] != "batch-1" {
		t.Fatalf("expected batch-1 in dlq got %v", dead)
	}
}
