package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/geocoder89/rsvphub/internal/apperr"
	"github.com/geocoder89/rsvphub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is what a Busy caller is told to wait.
const retryAfterSeconds = 1

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if id := ctx.GetString(middlewares.CtxRequestID); id != "" {
		return id
	}
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.AbortWithStatusJSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusNotFound, code, message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

// RespondAppError renders any error coming out of the coordinator. Unknown
// errors become a 500 without leaking their text.
func RespondAppError(ctx *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	if kind == apperr.KindInternal {
		_ = ctx.Error(err)
		RespondInternal(ctx, "Something went wrong")
		return
	}

	if apperr.Retryable(err) {
		ctx.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	message := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		message = ae.Message
	}
	RespondError(ctx, status, apperr.CodeOf(err), message, gin.H{"kind": kind})
}
