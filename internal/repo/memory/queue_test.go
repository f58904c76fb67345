package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/utils"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue() (*Queue, *clock) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue()
	q.Now = c.now
	return q, c
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	q, c := newTestQueue()
	j := job.ForRegistration(job.KindRegistrationConfirmed, "reg-1", "u1", "e1", c.now())

	created, err := q.Enqueue(context.Background(), j)
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	created, err = q.Enqueue(context.Background(), j)
	if err != nil || created {
		t.Fatalf("second enqueue: created=%v err=%v", created, err)
	}
	if n := len(q.All()); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
}

func TestQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	q, c := newTestQueue()
	ctx := context.Background()
	j := job.ForRegistration(job.KindRegistrationConfirmed, "reg-1", "u1", "e1", c.now())
	_, _ = q.Enqueue(ctx, j)

	first, err := q.Claim(ctx, "w1", 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.Attempts != 1 || first.Status != job.StatusProcessing {
		t.Fatalf("claimed job = %+v", first)
	}

	if _, err := q.Claim(ctx, "w2", 30*time.Second); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("leased job must not be claimable, err=%v", err)
	}

	c.advance(31 * time.Second)

	second, err := q.Claim(ctx, "w2", 30*time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if second.ID != first.ID || second.Attempts != 2 || *second.LockedBy != "w2" {
		t.Fatalf("reclaimed job = %+v", second)
	}
}

func TestQueue_LapsedHolderCannotOverwriteOutcome(t *testing.T) {
	q, c := newTestQueue()
	ctx := context.Background()
	j := job.ForRegistration(job.KindRegistrationConfirmed, "reg-1", "u1", "e1", c.now())
	_, _ = q.Enqueue(ctx, j)

	_, _ = q.Claim(ctx, "w1", 30*time.Second)
	c.advance(31 * time.Second)
	if _, err := q.Claim(ctx, "w2", 30*time.Second); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	if err := q.DeadLetter(ctx, j.ID, "w1", "late failure"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale dead letter: want ErrLeaseLost, got %v", err)
	}
	if err := q.Ack(ctx, j.ID, "w2"); err != nil {
		t.Fatalf("ack by holder: %v", err)
	}
	if err := q.Retry(ctx, j.ID, "w1", c.now(), "late retry"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale retry after ack: want ErrLeaseLost, got %v", err)
	}
	if err := q.Ack(ctx, "missing", "w2"); !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("unknown id: want ErrJobNotFound, got %v", err)
	}

	got, _ := q.GetByID(ctx, j.ID)
	if got.Status != job.StatusDone || got.LastError != nil {
		t.Fatalf("outcome overwritten: %+v", got)
	}
}

func TestQueue_RetryWaitsForRunAt(t *testing.T) {
	q, c := newTestQueue()
	ctx := context.Background()
	j := job.ForRegistration(job.KindRegistrationCancelled, "reg-1", "u1", "e1", c.now())
	_, _ = q.Enqueue(ctx, j)
	_, _ = q.Claim(ctx, "w1", time.Minute)

	if err := q.Retry(ctx, j.ID, "w1", c.now().Add(10*time.Second), "smtp down"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := q.Claim(ctx, "w1", time.Minute); !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("expected empty before runAt, got %v", err)
	}

	c.advance(10 * time.Second)
	got, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim after runAt: %v", err)
	}
	if got.LastError == nil || *got.LastError != "smtp down" {
		t.Fatalf("last error not kept: %+v", got.LastError)
	}
}

func TestQueue_DeadLetterListAndRequeue(t *testing.T) {
	q, c := newTestQueue()
	ctx := context.Background()

	var ids []string
	for _, reg := range []string{"r1", "r2", "r3"} {
		j := job.ForRegistration(job.KindRegistrationConfirmed, reg, "u1", "e1", c.now())
		_, _ = q.Enqueue(ctx, j)
		_, _ = q.Claim(ctx, "w1", time.Minute)
		if err := q.DeadLetter(ctx, j.ID, "w1", "exhausted"); err != nil {
			t.Fatalf("dead letter: %v", err)
		}
		ids = append(ids, j.ID)
		c.advance(time.Second)
	}

	page, next, hasMore, err := q.ListDead(ctx, 2, time.Time{}, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || !hasMore || next == nil {
		t.Fatalf("page=%d hasMore=%v next=%v", len(page), hasMore, next)
	}
	if page[0].ID != ids[2] {
		t.Fatalf("expected newest first")
	}

	cur, err := utils.DecodeJobCursor(*next)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	rest, _, hasMore, err := q.ListDead(ctx, 2, cur.UpdatedAt, cur.ID)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest) != 1 || hasMore || rest[0].ID != ids[0] {
		t.Fatalf("page 2 = %+v hasMore=%v", rest, hasMore)
	}

	if err := q.Requeue(ctx, ids[0]); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if err := q.Requeue(ctx, ids[0]); !errors.Is(err, queue.ErrJobNotDead) {
		t.Fatalf("requeue of pending job: %v", err)
	}
	got, _ := q.GetByID(ctx, ids[0])
	if got.Status != job.StatusPending || got.Attempts != 0 {
		t.Fatalf("requeued job = %+v", got)
	}

	n, err := q.RequeueDead(ctx, 10)
	if err != nil || n != 2 {
		t.Fatalf("RequeueDead = %d, %v", n, err)
	}
}
