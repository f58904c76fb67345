package app

import (
	"log/slog"

	"github.com/geocoder89/rsvphub/internal/config"
	"github.com/geocoder89/rsvphub/internal/notifications"
)

// NewNotifier builds the configured transport behind the breaker. The returned
// close func flushes and releases the transport.
func NewNotifier(cfg config.Notifier, log *slog.Logger) (notifications.Notifier, func() error) {
	var inner notifications.Notifier
	closeFn := func() error { return nil }

	switch cfg.Kind {
	case "kafka":
		k := notifications.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		inner, closeFn = k, k.Close
		log.Info("notifier: kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	default:
		inner = notifications.NewLogNotifier(log, notifications.LogNotifierConfig{
			Sleep: cfg.SimulateSleep,
			Fail:  cfg.SimulateFail,
		})
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          cfg.SendTimeout,
		FailureThreshold: cfg.FailureLimit,
		Cooldown:         cfg.Cooldown,
	}), closeFn
}
