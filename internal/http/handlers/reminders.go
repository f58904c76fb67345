package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type ReminderTrigger interface {
	EnqueueForEventID(ctx context.Context, eventID string) (int, error)
}

type TriggerRemindersRequest struct {
	EventID string `json:"eventId" binding:"required,uuid"`
}

type RemindersHandler struct {
	trigger ReminderTrigger
}

func NewRemindersHandler(trigger ReminderTrigger) *RemindersHandler {
	return &RemindersHandler{trigger: trigger}
}

// POST /admin/reminders
func (h *RemindersHandler) Trigger(ctx *gin.Context) {
	var req TriggerRemindersRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	n, err := h.trigger.EnqueueForEventID(cctx, req.EventID)
	if err != nil {
		switch {
		case errors.Is(err, event.ErrNotFound):
			RespondNotFound(ctx, "event_not_found", "Event not found")
		case errors.Is(err, scheduler.ErrEventInactive):
			RespondError(ctx, http.StatusUnprocessableEntity, "event_inactive", "Event is not active", nil)
		case errors.Is(err, scheduler.ErrEventStarted):
			RespondError(ctx, http.StatusUnprocessableEntity, "event_past", "Event already started", nil)
		default:
			_ = ctx.Error(err)
			RespondInternal(ctx, "Could not enqueue reminders")
		}
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"eventId":  req.EventID,
		"enqueued": n,
	})
}
