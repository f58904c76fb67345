package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/rsvphub/internal/auth"
	"github.com/geocoder89/rsvphub/internal/http/handlers"
	"github.com/geocoder89/rsvphub/internal/http/middlewares"
	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Log            *slog.Logger
	Prom           *observability.Prom
	JWT            middlewares.TokenVerifier
	Registrations  handlers.RegistrationService
	DeadLetters    queue.DeadLetters
	Reminders      handlers.ReminderTrigger
	Ready          map[string]handlers.Pinger
	ServiceName    string
	CORSOrigins    []string
	RequestTimeout time.Duration
	RateLimit      int
	RateWindow     time.Duration
	Dev            bool
}

func NewRouter(d Deps) *gin.Engine {
	if !d.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders(d.Dev))
	r.Use(middlewares.CORS(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))

	// health
	h := handlers.NewHealthHandler(d.Ready)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if d.Prom != nil {
		r.GET("/metrics", gin.WrapH(d.Prom.Handler()))
	}

	am := middlewares.NewAuthMiddleware(d.JWT)
	limiter := middlewares.NewRateLimiter(d.RateLimit, d.RateWindow)

	regs := handlers.NewRegistrationHandler(d.Registrations, d.RequestTimeout)
	r.GET("/events/:id/spots", regs.Spots)

	events := r.Group("/events/:id", am.RequireAuth())
	{
		limited := limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP)
		events.POST("/register", limited, regs.Register)
		events.POST("/unregister", limited, regs.Unregister)
		events.GET("/attendees", regs.Attendees)
	}

	admin := r.Group("/admin", am.RequireAuth(), am.RequireRole(auth.RoleAdmin), middlewares.RequireJSON())
	{
		jobs := handlers.NewAdminJobsHandler(d.DeadLetters)
		admin.GET("/jobs", jobs.List)
		admin.POST("/jobs/reprocess-dead", jobs.ReprocessDead)
		admin.GET("/jobs/:id", jobs.GetByID)
		admin.POST("/jobs/:id/retry", jobs.Retry)

		if d.Reminders != nil {
			reminders := handlers.NewRemindersHandler(d.Reminders)
			admin.POST("/reminders", reminders.Trigger)
		}
	}

	return r
}
