// Package client is a typed HTTP client for the messaging API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shinyyama/rental-backend/internal/model"
)

// Client talks to the API as one user. Set Token for firebase auth or
// UserID for servers running in header auth mode.
type Client struct {
	BaseURL    string
	Token      string
	UserID     uint64
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx answer decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string][]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type Conversation struct {
	ConversationID string          `json:"conversationId"`
	Property       *model.Property `json:"property"`
	OtherUser      *model.User     `json:"otherUser"`
	LastMessage    *model.Message  `json:"lastMessage"`
	LastActivity   time.Time       `json:"lastActivity"`
	UnreadCount    int64           `json:"unreadCount"`
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type SendRequest struct {
	PropertyID uint64
	ReceiverID uint64
	Body       string
	ReplyToID  *uint64
	Kind       string
	Metadata   json.RawMessage
	File       *File
}

type ReactionResult struct {
	MessageID uint64          `json:"messageId"`
	Reactions model.Reactions `json:"reactions"`
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatUint(c.UserID, 10))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var env struct {
			Error struct {
				Code    string              `json:"code"`
				Message string              `json:"message"`
				Fields  map[string][]string `json:"fields"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &env)
		return &APIError{
			Status:  resp.StatusCode,
			Code:    env.Error.Code,
			Message: env.Error.Message,
			Fields:  env.Error.Fields,
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	if in == nil {
		return c.do(ctx, method, path, "", nil, out)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(b), out)
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead returns how many messages were newly marked.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	var out struct {
		Marked int64 `json:"marked"`
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/mark-read"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Marked, nil
}

func (c *Client) StartConversation(ctx context.Context, propertyID, receiverID uint64) (string, error) {
	in := map[string]uint64{"property_id": propertyID, "receiver_id": receiverID}
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/start", in, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

// Send posts a message as multipart/form-data.
func (c *Client) Send(ctx context.Context, in SendRequest) (*model.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"property_id": strconv.FormatUint(in.PropertyID, 10),
		"receiver_id": strconv.FormatUint(in.ReceiverID, 10),
	}
	if in.Body != "" {
		fields["message"] = in.Body
	}
	if in.Kind != "" {
		fields["type"] = in.Kind
	}
	if in.ReplyToID != nil {
		fields["reply_to_id"] = strconv.FormatUint(*in.ReplyToID, 10)
	}
	if len(in.Metadata) > 0 {
		fields["metadata"] = string(in.Metadata)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if in.File != nil {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, in.File.Name))
		ct := in.File.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(in.File.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", w.FormDataContentType(), &buf, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) GetMessage(ctx context.Context, id uint64) (*model.Message, error) {
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/messages/%d", id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id uint64) (*model.Message, error) {
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/messages/%d", id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) AddReaction(ctx context.Context, messageID uint64, emoji string) (*ReactionResult, error) {
	return c.reaction(ctx, http.MethodPost, messageID, emoji)
}

func (c *Client) RemoveReaction(ctx context.Context, messageID uint64, emoji string) (*ReactionResult, error) {
	return c.reaction(ctx, http.MethodDelete, messageID, emoji)
}

func (c *Client) reaction(ctx context.Context, method string, messageID uint64, emoji string) (*ReactionResult, error) {
	var out ReactionResult
	path := fmt.Sprintf("/api/messages/%d/reactions", messageID)
	if err := c.doJSON(ctx, method, path, map[string]string{"emoji": emoji}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleReaction removes the caller's reaction if msg already carries it and
// adds it otherwise.
func (c *Client) ToggleReaction(ctx context.Context, msg *model.Message, userID uint64, emoji string) (*ReactionResult, error) {
	if msg.Reactions.Has(emoji, userID) {
		return c.RemoveReaction(ctx, msg.ID, emoji)
	}
	return c.AddReaction(ctx, msg.ID, emoji)
}
