package redisqueue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/google/uuid"
)

func newTestQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := NewClient(ClientConfig{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	q := New(rdb, Config{Prefix: "rsvphub:test:" + uuid.NewString()})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q.Now = func() time.Time { return now }

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, q.prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	})
	return q, &now
}

func testJob(now time.Time) job.Job {
	return job.ForRegistration(job.KindRegistrationConfirmed, uuid.NewString(), "u1", uuid.NewString(), now)
}

func TestRedisQueue_EnqueueIsIdempotent(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()
	j := testJob(*now)

	created, err := q.Enqueue(ctx, j)
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	created, err = q.Enqueue(ctx, j)
	if err != nil || created {
		t.Fatalf("second enqueue: created=%v err=%v", created, err)
	}
}

func TestRedisQueue_ClaimLeaseAndRedelivery(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()
	j := testJob(*now)
	_, _ = q.Enqueue(ctx, j)

	first, err := q.Claim(ctx, "w1", 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.ID != j.ID || first.Attempts != 1 || first.Status != job.StatusProcessing {
		t.Fatalf("claimed = %+v", first)
	}

	if _, err := q.Claim(ctx, "w2", 30*time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("leased job claimable again: %v", err)
	}

	*now = now.Add(31 * time.Second)
	second, err := q.Claim(ctx, "w2", 30*time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if second.Attempts != 2 || second.LockedBy == nil || *second.LockedBy != "w2" {
		t.Fatalf("reclaimed = %+v", second)
	}

	if err := q.Ack(ctx, j.ID, "w1"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("ack by lapsed holder: want ErrLeaseLost, got %v", err)
	}
	if err := q.Ack(ctx, j.ID, "w2"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, _ := q.GetByID(ctx, j.ID)
	if got.Status != job.StatusDone {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRedisQueue_RetryAndDeadLetter(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()
	j := testJob(*now)
	_, _ = q.Enqueue(ctx, j)
	_, _ = q.Claim(ctx, "w1", time.Minute)

	if err := q.Retry(ctx, j.ID, "w1", now.Add(10*time.Second), "smtp down"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := q.Claim(ctx, "w1", time.Minute); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("retried job claimable before run_at: %v", err)
	}

	*now = now.Add(10 * time.Second)
	if _, err := q.Claim(ctx, "w1", time.Minute); err != nil {
		t.Fatalf("claim after run_at: %v", err)
	}
	if err := q.DeadLetter(ctx, j.ID, "w1", "exhausted"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	items, _, hasMore, err := q.ListDead(ctx, 10, time.Time{}, "")
	if err != nil || len(items) != 1 || hasMore {
		t.Fatalf("list dead: items=%d hasMore=%v err=%v", len(items), hasMore, err)
	}
	if items[0].LastError == nil || *items[0].LastError != "exhausted" {
		t.Fatalf("dead job = %+v", items[0])
	}

	if err := q.Requeue(ctx, j.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if err := q.Requeue(ctx, j.ID); !errors.Is(err, queue.ErrJobNotDead) {
		t.Fatalf("requeue live job: %v", err)
	}
	revived, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil || revived.Attempts != 1 {
		t.Fatalf("revived claim: %+v err=%v", revived, err)
	}
}

func TestRedisQueue_ListDeadPaginates(t *testing.T) {
	q, now := newTestQueue(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		j := testJob(*now)
		_, _ = q.Enqueue(ctx, j)
		_, _ = q.Claim(ctx, "w1", time.Minute)
		_ = q.DeadLetter(ctx, j.ID, "w1", "boom")
		ids = append(ids, j.ID)
		*now = now.Add(time.Second)
	}

	page1, next, hasMore, err := q.ListDead(ctx, 2, time.Time{}, "")
	if err != nil || len(page1) != 2 || !hasMore || next == nil {
		t.Fatalf("page1: %d %v %v", len(page1), hasMore, err)
	}
	if page1[0].ID != ids[2] {
		t.Fatalf("newest first expected")
	}

	last := page1[1]
	page2, _, hasMore, err := q.ListDead(ctx, 2, last.UpdatedAt, last.ID)
	if err != nil || len(page2) != 1 || hasMore || page2[0].ID != ids[0] {
		t.Fatalf("page2: %+v hasMore=%v err=%v", page2, hasMore, err)
	}

	n, err := q.RequeueDead(ctx, 10)
	if err != nil || n != 3 {
		t.Fatalf("requeue dead: n=%d err=%v", n, err)
	}
}
