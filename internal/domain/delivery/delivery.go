package delivery

import (
	"context"
	"errors"
	"time"
)

// Status of one send, keyed by job id in the notification_deliveries table.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification send in progress")
)

// Ledger makes sends idempotent per job id.
//
// TryStart claims the right to send: it succeeds for a new job id, for a
// previously failed send, and for a "sending" row older than staleAfter (the
// worker that owned it is presumed dead). It returns ErrAlreadySent once the
// job was sent or skipped, and ErrInProgress while another worker holds it.
type Ledger interface {
	TryStart(ctx context.Context, jobID, kind, recipient string, staleAfter time.Duration) error
	MarkSent(ctx context.Context, jobID string) error
	MarkSkipped(ctx context.Context, jobID, reason string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
}
