package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// httpError maps a service error onto a status code
func httpError(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, utils.ErrValidation), errors.Is(err, utils.ErrParsing):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, utils.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, utils.ErrCancelled):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrDiscovery), errors.Is(err, utils.ErrFetch), errors.Is(err, utils.ErrStore):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError is the echo error handler: every failure answers {"detail": ...}
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := httpError(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(he.Code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.WithField("error_category", utils.CategorizeError(err)).Errorf("Request %s %s failed: %v", c.Request().Method, c.Path(), err)
		if code == http.StatusInternalServerError {
			msg = "internal error"
		}
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, errorBody{Detail: msg})
	}
	if writeErr != nil {
		s.log.Warnf("Could not write error response: %v", writeErr)
	}
}
