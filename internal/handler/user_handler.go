package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/rental-backend/internal/service"
	"go.uber.org/zap"
)

type UserHandler struct {
	users service.UserService
	log   *zap.Logger
}

func NewUserHandler(users service.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

func (h *UserHandler) Me(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	u, err := h.users.Get(c.Request().Context(), uid)
	if err != nil {
		return respondError(c, h.log, err, "failed to fetch user")
	}
	return c.JSON(http.StatusOK, u)
}
