package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/models"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
	"github.com/jonesrussell/north-cloud/reader/internal/session"
	"github.com/jonesrussell/north-cloud/reader/internal/view"
)

// statusFor maps a service error to an HTTP status and a client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "post not found"
	case errors.Is(err, view.ErrNotFound):
		return http.StatusNotFound, "view not found"
	case errors.Is(err, view.ErrClosed):
		return http.StatusGone, "view closed"
	case errors.Is(err, models.ErrNoFieldsToUpdate):
		return http.StatusBadRequest, "at least one field must be provided for update"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case apperrors.IsConfigurationError(err):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict, "post with this id already exists"
	case errors.Is(err, view.ErrStreamActive):
		return http.StatusConflict, "view is already streaming a post"
	case errors.Is(err, view.ErrTooManyViews):
		return http.StatusServiceUnavailable, "too many open views"
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "catalog timed out"
	case querycache.IsFetchError(err):
		return http.StatusBadGateway, "catalog unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// respondError writes the mapped error. Server-side failures are attached
// to the gin context so the access log records them.
func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
