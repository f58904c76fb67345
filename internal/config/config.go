package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"dev"`
	Port int    `env:"PORT" envDefault:"8080"`

	// DB_URL wins when set; otherwise the URL is assembled from DB_* parts.
	DBURL string `env:"DB_URL"`
	DB    DB

	// Store selects the backend for events/registrations: postgres or memory.
	Store string `env:"STORE" envDefault:"postgres"`
	// LockTimeout bounds the wait for the event row lock.
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	// RequestTimeout bounds one coordinator call end to end.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"rsvphub"`
	TokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`

	// requests per user per window on the registration endpoints
	RateLimit       int           `env:"RATE_LIMIT" envDefault:"30"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"rsvphub"`

	// fraction of root spans kept, 0 < ratio <= 1
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"1"`

	Queue    Queue
	Worker   Worker
	Notifier Notifier
}

type DB struct {
	Host     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"rsvphub"`
	Password string `env:"DB_PASSWORD" envDefault:"rsvphub"`
	Name     string `env:"DB_NAME" envDefault:"rsvphub"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	StatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"10s"`
}

type Queue struct {
	// Backend is postgres or redis.
	Backend     string        `env:"QUEUE_BACKEND" envDefault:"postgres"`
	RedisAddr   string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPass   string        `env:"REDIS_PASSWORD"`
	RedisDB     int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix string        `env:"REDIS_QUEUE_PREFIX" envDefault:"rsvphub:jobs"`
	DoneTTL     time.Duration `env:"QUEUE_DONE_TTL" envDefault:"168h"`
}

type Worker struct {
	ID            string        `env:"WORKER_ID"`
	Concurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PollInterval  time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"200ms"`
	Lease         time.Duration `env:"WORKER_LEASE" envDefault:"30s"`
	ShutdownGrace time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"10s"`
	RetryBase     time.Duration `env:"RETRY_BASE" envDefault:"2s"`
	RetryMax      time.Duration `env:"RETRY_MAX" envDefault:"5m"`
	RetryJitter   time.Duration `env:"RETRY_JITTER" envDefault:"1s"`
	HealthPort    int           `env:"WORKER_HEALTH_PORT" envDefault:"8081"`

	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	ReminderLead      time.Duration `env:"REMINDER_LEAD" envDefault:"24h"`
}

type Notifier struct {
	// Kind is log or kafka.
	Kind         string        `env:"NOTIFIER" envDefault:"log"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9094"`
	KafkaTopic   string        `env:"KAFKA_MAIL_TOPIC" envDefault:"rsvphub.mail"`
	SendTimeout  time.Duration `env:"NOTIFIER_TIMEOUT" envDefault:"3s"`
	FailureLimit int           `env:"NOTIFIER_FAILURE_THRESHOLD" envDefault:"3"`
	Cooldown     time.Duration `env:"NOTIFIER_COOLDOWN" envDefault:"15s"`
	Lang         string        `env:"NOTIFIER_LANG" envDefault:"en"`
	Signoff      string        `env:"NOTIFIER_SIGNOFF" envDefault:"Event Management Team"`

	// dev knobs for the log notifier
	SimulateSleep time.Duration `env:"NOTIFIER_SLEEP"`
	SimulateFail  bool          `env:"NOTIFIER_FAIL"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DBURL == "" {
		cfg.DBURL = cfg.DB.URL()
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Store {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE must be postgres or memory, got %q", c.Store))
	}
	switch c.Queue.Backend {
	case "postgres", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be postgres, redis or memory, got %q", c.Queue.Backend))
	}
	switch c.Notifier.Kind {
	case "log", "kafka":
	default:
		errs = append(errs, fmt.Errorf("NOTIFIER must be log or kafka, got %q", c.Notifier.Kind))
	}
	if c.Env == "prod" && c.JWTSecret == "dev-secret-change-me" {
		errs = append(errs, errors.New("JWT_SECRET must be set in prod"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func (d DB) URL() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Name + "?sslmode=" + d.SSLMode
}

// LockTimeoutSQL renders LockTimeout as a postgres interval literal in ms.
func (c Config) LockTimeoutSQL() string {
	return fmt.Sprintf("%dms", c.LockTimeout.Milliseconds())
}

func (c Config) IsDev() bool {
	return strings.EqualFold(c.Env, "dev")
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}
