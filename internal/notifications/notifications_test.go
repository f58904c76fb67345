package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"github.com/segmentio/kafka-go"
)

type fakeNotifier struct {
	SendFn func(ctx context.Context, msg Message) error
}

func (f *fakeNotifier) Send(ctx context.Context, msg Message) error { return f.SendFn(ctx, msg) }

type fakeWriter struct {
	got []kafka.Message
	err error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.got = append(w.got, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func renderInput(kind job.Kind) RenderInput {
	org := user.User{ID: "org", Name: "Grace"}
	return RenderInput{
		JobID: "job-1",
		Kind:  kind,
		User:  user.User{ID: "u1", Email: "ada@example.com", Name: "Ada"},
		Event: event.Event{
			Title:    "Gophers <Live>",
			Location: "Lagos",
			StartAt:  time.Date(2026, 6, 5, 18, 30, 0, 0, time.UTC),
		},
		Organizer: &org,
	}
}

func TestRender(t *testing.T) {
	r := NewRenderer("en", "")

	tests := []struct {
		kind        job.Kind
		subject     string
		mentionsOrg bool
	}{
		{job.KindRegistrationConfirmed, "Registration Confirmation: Gophers <Live>", true},
		{job.KindRegistrationCancelled, "Registration Cancelled: Gophers <Live>", false},
		{job.KindEventReminder, "Event Reminder: Gophers <Live>", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg, err := r.Render(renderInput(tt.kind))
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if msg.Subject != tt.subject {
				t.Fatalf("subject = %q", msg.Subject)
			}
			if msg.To != "ada@example.com" || msg.JobID != "job-1" {
				t.Fatalf("message = %+v", msg)
			}
			if !strings.Contains(msg.Text, "Dear Ada,") || !strings.Contains(msg.Text, "Date: June 05, 2026 at 06:30 PM") {
				t.Fatalf("text body:\n%s", msg.Text)
			}
			if strings.Contains(msg.HTML, "<Live>") {
				t.Fatalf("html body not escaped:\n%s", msg.HTML)
			}
			if got := strings.Contains(msg.Text, "Organizer: Grace"); got != tt.mentionsOrg {
				t.Fatalf("organizer line present=%v, want %v", got, tt.mentionsOrg)
			}
		})
	}
}

func TestRender_UnknownKind(t *testing.T) {
	_, err := NewRenderer("en", "").Render(renderInput("event.deleted"))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestKafkaNotifier_KeysByJobID(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w}

	msg := Message{JobID: "job-9", Kind: "event.reminder", To: "a@b.c", Subject: "s"}
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.got) != 1 || string(w.got[0].Key) != "job-9" {
		t.Fatalf("written = %+v", w.got)
	}

	var decoded Message
	if err := json.Unmarshal(w.got[0].Value, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded != msg {
		t.Fatalf("decoded = %+v", decoded)
	}

	w.err = errors.New("broker gone")
	if err := n.Send(context.Background(), msg); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestLogNotifier(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := NewLogNotifier(log, LogNotifierConfig{}).Send(context.Background(), Message{JobID: "j"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := NewLogNotifier(log, LogNotifierConfig{Fail: true}).Send(context.Background(), Message{JobID: "j"}); err == nil {
		t.Fatalf("expected simulated failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLogNotifier(log, LogNotifierConfig{Sleep: time.Minute}).Send(ctx, Message{JobID: "j"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestProtectedNotifier_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fail := true
	calls := 0
	inner := &fakeNotifier{SendFn: func(ctx context.Context, msg Message) error {
		calls++
		if fail {
			return errors.New("smtp 451")
		}
		return nil
	}}

	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{FailureThreshold: 2, Cooldown: time.Minute})
	n.now = func() time.Time { return now }
	ctx := context.Background()

	_ = n.Send(ctx, Message{})
	_ = n.Send(ctx, Message{})
	if n.State() != "open" {
		t.Fatalf("state = %s, want open", n.State())
	}

	if err := n.Send(ctx, Message{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Fatalf("open circuit must not call transport, calls=%d", calls)
	}

	now = now.Add(2 * time.Minute)
	fail = false
	if err := n.Send(ctx, Message{}); err != nil {
		t.Fatalf("half-open trial: %v", err)
	}
	if n.State() != "closed" {
		t.Fatalf("state = %s, want closed", n.State())
	}
}

func TestProtectedNotifier_TimesOut(t *testing.T) {
	inner := &fakeNotifier{SendFn: func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	n := NewProtectedNotifier(inner, ProtectedNotifierConfig{Timeout: 10 * time.Millisecond})

	if err := n.Send(context.Background(), Message{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
