package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/logger"
	"github.com/shinyyama/rental-backend/internal/service"
	"go.uber.org/zap"
)

// UserIDKey is the echo context key holding the authenticated user id.
const UserIDKey = "userID"

type errorPayload struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

func currentUser(c echo.Context) uint64 {
	id, _ := c.Get(UserIDKey).(uint64)
	return id
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing user"))
}

// respondError writes the error envelope for err. Unclassified errors are
// logged and reported as internal without leaking their text.
func respondError(c echo.Context, log *zap.Logger, err error, internalMsg string) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		resp := NewErrorResponse("validation_error", "the given data was invalid")
		resp.Error.Fields = verr.Fields
		return c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.Is(err, service.ErrInvalidRecipient):
		return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("invalid_recipient", err.Error()))
	case errors.Is(err, service.ErrEmptyMessage):
		return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("empty_message", err.Error()))
	case errors.Is(err, convid.ErrInvalidFormat):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_format", err.Error()))
	case errors.Is(err, service.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, NewErrorResponse("access_denied", err.Error()))
	case errors.Is(err, service.ErrNotReacted):
		return c.JSON(http.StatusConflict, NewErrorResponse("not_reacted", err.Error()))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", err.Error()))
	}
	logger.For(c.Request().Context(), log).Error(internalMsg, zap.Error(err))
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", internalMsg))
}
