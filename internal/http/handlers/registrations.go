package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/http/middlewares"
	"github.com/geocoder89/rsvphub/internal/ledger"
	"github.com/gin-gonic/gin"
)

type RegistrationService interface {
	Register(ctx context.Context, userID, eventID string) (registration.Registration, error)
	Unregister(ctx context.Context, userID, eventID string) error
	AvailableSpots(ctx context.Context, eventID string) (ledger.Snapshot, error)
	Attendees(ctx context.Context, userID, eventID string) ([]registration.Registration, error)
}

type RegistrationHandler struct {
	svc     RegistrationService
	timeout time.Duration
}

func NewRegistrationHandler(svc RegistrationService, timeout time.Duration) *RegistrationHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RegistrationHandler{svc: svc, timeout: timeout}
}

// POST /events/:id/register
func (h *RegistrationHandler) Register(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	reg, err := h.svc.Register(cctx, userID, ctx.Param("id"))
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, reg)
}

// POST /events/:id/unregister
func (h *RegistrationHandler) Unregister(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	if err := h.svc.Unregister(cctx, userID, ctx.Param("id")); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"detail": "Successfully unregistered from event"})
}

// GET /events/:id/spots
func (h *RegistrationHandler) Spots(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	snap, err := h.svc.AvailableSpots(cctx, ctx.Param("id"))
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"eventId":   snap.EventID,
		"capacity":  snap.Capacity,
		"active":    snap.Active,
		"available": snap.Available(),
	})
}

// GET /events/:id/attendees
func (h *RegistrationHandler) Attendees(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)
	eventID := ctx.Param("id")

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	regs, err := h.svc.Attendees(cctx, userID, eventID)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"eventId":       eventID,
		"count":         len(regs),
		"registrations": regs,
	})
}
