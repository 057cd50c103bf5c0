package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/rental-backend/internal/service"
	"go.uber.org/zap"
)

type ConversationHandler struct {
	convs    service.ConversationService
	messages service.MessageService
	log      *zap.Logger
}

func NewConversationHandler(convs service.ConversationService, messages service.MessageService, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{convs: convs, messages: messages, log: log}
}

type StartConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

type MarkReadResponse struct {
	Status string `json:"status"`
	Marked int64  `json:"marked"`
}

func (h *ConversationHandler) List(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	return c.JSON(http.StatusOK, h.convs.List(c.Request().Context(), uid))
}

func (h *ConversationHandler) ListMessages(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	msgs, err := h.messages.List(c.Request().Context(), c.Param("conversationId"), uid)
	if err != nil {
		return respondError(c, h.log, err, "failed to fetch messages")
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	n, err := h.messages.MarkRead(c.Request().Context(), c.Param("conversationId"), uid)
	if err != nil {
		return respondError(c, h.log, err, "failed to mark read")
	}
	return c.JSON(http.StatusOK, MarkReadResponse{Status: "ok", Marked: n})
}

func (h *ConversationHandler) Start(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	var req service.StartInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	id, err := h.convs.Start(c.Request().Context(), uid, req)
	if err != nil {
		return respondError(c, h.log, err, "failed to start conversation")
	}
	return c.JSON(http.StatusOK, StartConversationResponse{ConversationID: id})
}
