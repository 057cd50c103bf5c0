package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/rental-backend/internal/media"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/service"
	"go.uber.org/zap"
)

type MessageHandler struct {
	messages  service.MessageService
	reactions service.ReactionService
	log       *zap.Logger
}

func NewMessageHandler(messages service.MessageService, reactions service.ReactionService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, reactions: reactions, log: log}
}

// Send accepts multipart/form-data (or a urlencoded form when there is no
// file) with property_id, receiver_id, message, file, reply_to_id, type and
// metadata.
func (h *MessageHandler) Send(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	in, err := readSendForm(c)
	if err != nil {
		if pre := service.Precheck(uid, in); pre != nil {
			return respondError(c, h.log, pre, "failed to send message")
		}
		return respondError(c, h.log, err, "failed to read message form")
	}
	msg, err := h.messages.Send(c.Request().Context(), uid, in)
	if err != nil {
		return respondError(c, h.log, err, "failed to send message")
	}
	return c.JSON(http.StatusCreated, msg)
}

func readSendForm(c echo.Context) (service.SendInput, error) {
	verr := &service.ValidationError{}
	in := service.SendInput{
		PropertyID: formUint(c, "property_id", verr),
		ReceiverID: formUint(c, "receiver_id", verr),
		Body:       c.FormValue("message"),
		Kind:       c.FormValue("type"),
	}
	if c.FormValue("reply_to_id") != "" {
		id := formUint(c, "reply_to_id", verr)
		in.ReplyToID = &id
	}
	if raw := strings.TrimSpace(c.FormValue("metadata")); raw != "" {
		if !json.Valid([]byte(raw)) {
			verr.Add("metadata", "must be valid JSON")
		} else {
			in.Metadata = json.RawMessage(raw)
		}
	}

	fh, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		return in, err
	default:
		f, err := fh.Open()
		if err != nil {
			return in, err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, media.MaxAttachmentBytes+1))
		if err != nil {
			return in, err
		}
		in.Attachment = &service.Attachment{
			Filename: fh.Filename,
			MIME:     fh.Header.Get(echo.HeaderContentType),
			Data:     data,
		}
	}

	if len(verr.Fields) > 0 {
		return in, verr
	}
	return in, nil
}

func formUint(c echo.Context, field string, verr *service.ValidationError) uint64 {
	raw := strings.TrimSpace(c.FormValue(field))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		verr.Add(field, "must be a positive integer")
		return 0
	}
	return v
}

func messageID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil
}

func (h *MessageHandler) Get(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	id, ok := messageID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid message id"))
	}
	msg, err := h.messages.Get(c.Request().Context(), id, uid)
	if err != nil {
		return respondError(c, h.log, err, "failed to fetch message")
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) Delete(c echo.Context) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	id, ok := messageID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid message id"))
	}
	msg, err := h.messages.Delete(c.Request().Context(), id, uid)
	if err != nil {
		return respondError(c, h.log, err, "failed to delete message")
	}
	return c.JSON(http.StatusOK, msg)
}

type ReactionResponse struct {
	MessageID uint64          `json:"messageId"`
	Reactions model.Reactions `json:"reactions"`
}

type reactionOp func(ctx context.Context, messageID, userID uint64, in service.ReactionInput) (*model.Message, error)

func (h *MessageHandler) AddReaction(c echo.Context) error {
	return h.react(c, h.reactions.Add)
}

func (h *MessageHandler) RemoveReaction(c echo.Context) error {
	return h.react(c, h.reactions.Remove)
}

func (h *MessageHandler) react(c echo.Context, op reactionOp) error {
	uid := currentUser(c)
	if uid == 0 {
		return unauthorized(c)
	}
	id, ok := messageID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid message id"))
	}
	var req service.ReactionInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if req.Emoji == "" {
		req.Emoji = c.QueryParam("emoji")
	}
	msg, err := op(c.Request().Context(), id, uid, req)
	if err != nil {
		return respondError(c, h.log, err, "failed to update reaction")
	}
	reactions := msg.Reactions
	if reactions == nil {
		reactions = model.Reactions{}
	}
	return c.JSON(http.StatusOK, ReactionResponse{MessageID: msg.ID, Reactions: reactions})
}
