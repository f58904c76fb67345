package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/job"
	"github.com/geocoder89/rsvphub/internal/http/middlewares"
	"github.com/geocoder89/rsvphub/internal/queue"
	"github.com/geocoder89/rsvphub/internal/utils"
	"github.com/gin-gonic/gin"
)

type AdminJobsHandler struct {
	jobs queue.DeadLetters
}

func NewAdminJobsHandler(jobs queue.DeadLetters) *AdminJobsHandler {
	return &AdminJobsHandler{jobs: jobs}
}

func parseIntDefault(s string, fallback int) (int, bool) {
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GET /admin/jobs?status=dead&limit=20&cursor=...
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	limit, ok := parseIntDefault(ctx.Query("limit"), 20)
	if !ok || limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	if s := ctx.Query("status"); s != "" && s != string(job.StatusDead) {
		RespondBadRequest(ctx, "only status=dead can be listed", nil)
		return
	}

	var before time.Time
	var beforeID string
	if cursor := ctx.Query("cursor"); cursor != "" {
		cur, err := utils.DecodeJobCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		before, beforeID = cur.UpdatedAt, cur.ID
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	items, next, hasMore, err := h.jobs.ListDead(cctx, limit, before, beforeID)
	if err != nil {
		_ = ctx.Error(err)
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	})
}

// GET /admin/jobs/:id
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "job id must be a valid UUID", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	j, err := h.jobs.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "job_not_found", "Job not found")
			return
		}
		_ = ctx.Error(err)
		RespondInternal(ctx, "Could not fetch job")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, j)
}

// POST /admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "job id must be a valid UUID", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.jobs.Requeue(cctx, id); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			RespondNotFound(ctx, "job_not_found", "Job not found")
		case errors.Is(err, queue.ErrJobNotDead):
			RespondConflict(ctx, "job_not_dead", "Only dead-lettered jobs can be retried")
		default:
			_ = ctx.Error(err)
			RespondInternal(ctx, "Could not retry job")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"jobId":  id,
		"status": job.StatusPending,
	})
}

// POST /admin/jobs/reprocess-dead?limit=50
func (h *AdminJobsHandler) ReprocessDead(ctx *gin.Context) {
	limit, ok := parseIntDefault(ctx.Query("limit"), 50)
	if !ok || limit < 1 || limit > 1000 {
		RespondBadRequest(ctx, "limit must be between 1 and 1000", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	n, err := h.jobs.RequeueDead(cctx, limit)
	if err != nil {
		_ = ctx.Error(err)
		RespondInternal(ctx, "Could not reprocess dead jobs")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"requeued": n})
}
