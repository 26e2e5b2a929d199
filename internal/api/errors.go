package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
)

// errorStatus maps a service error onto an HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrNotAllowed):
		return http.StatusForbidden, "not_allowed"
	case errors.Is(err, entities.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, domain.ErrDisabled), errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable, "service_disabled"
	case domain.StatusCode(err) != 0:
		return http.StatusBadGateway, "remote_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c echo.Context, err error, logger *zap.Logger) error {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
