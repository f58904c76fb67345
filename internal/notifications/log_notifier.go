package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LogNotifierConfig lets dev runs simulate a slow or failing provider.
type LogNotifierConfig struct {
	Sleep time.Duration
	Fail  bool
}

type LogNotifier struct {
	log *slog.Logger
	cfg LogNotifierConfig
}

func NewLogNotifier(log *slog.Logger, cfg LogNotifierConfig) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log, cfg: cfg}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.Sleep > 0 {
		select {
		case <-time.After(n.cfg.Sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.cfg.Fail {
		return fmt.Errorf("provider down (simulated)")
	}

	n.log.InfoContext(ctx, "notification sent",
		"job_id", msg.JobID,
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
