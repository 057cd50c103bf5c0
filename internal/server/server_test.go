package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/rental-backend/internal/config"
	"github.com/shinyyama/rental-backend/internal/db/dbtest"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memStore struct{}

func (memStore) Put(_ context.Context, objectPath, _ string, _ []byte) (string, error) {
	return "https://files.test/" + objectPath, nil
}

type harness struct {
	t      *testing.T
	srv    *Server
	tenant model.User
	owner  model.User
	other  model.User
	flat   model.Property
}

func newHarness(t *testing.T, rdb *redis.Client) *harness {
	t.Helper()
	gdb := dbtest.New(t)
	cfg := &config.Config{
		AuthMode:        config.AuthModeHeader,
		SendRateLimit:   2,
		SendRateWindow:  time.Minute,
		CORSOriginHosts: []string{"vercel.app"},
	}
	srv, err := New(Options{Config: cfg, DB: gdb, Log: zaptest.NewLogger(t), Store: memStore{}, Redis: rdb})
	require.NoError(t, err)

	h := &harness{t: t, srv: srv}
	h.tenant = dbtest.User(t, gdb, "tenant")
	h.owner = dbtest.User(t, gdb, "owner")
	h.other = dbtest.User(t, gdb, "other")
	h.flat = dbtest.Property(t, gdb, h.owner.ID, "Flat")
	return h
}

func (h *harness) do(req *http.Request, userID uint64) *httptest.ResponseRecorder {
	h.t.Helper()
	if userID != 0 {
		req.Header.Set("X-User-ID", fmt.Sprint(userID))
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) json(method, path string, body interface{}, userID uint64) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, userID)
}

func (h *harness) sendForm(fields map[string]string, userID uint64) *httptest.ResponseRecorder {
	h.t.Helper()
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req, userID)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type envelope struct {
	Error struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Fields  map[string][]string `json:"fields"`
	} `json:"error"`
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), 0)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiresUser(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), 4242)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[envelope](t, rec).Error.Code)
}

func TestMe(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/me", nil), h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner", decode[model.User](t, rec).Name)
}

func TestConversationFlow(t *testing.T) {
	h := newHarness(t, nil)
	convID := fmt.Sprintf("property_%d_users_%d_%d", h.flat.ID, h.tenant.ID, h.owner.ID)

	rec := h.sendForm(map[string]string{
		"property_id": fmt.Sprint(h.flat.ID),
		"receiver_id": fmt.Sprint(h.owner.ID),
		"message":     "Interested",
	}, h.tenant.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[model.Message](t, rec)
	assert.Equal(t, "Interested", sent.Body)
	require.NotNil(t, sent.Sender)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[[]struct {
		ConversationID string `json:"conversationId"`
		UnreadCount    int64  `json:"unreadCount"`
		OtherUser      struct {
			Name string `json:"name"`
		} `json:"otherUser"`
	}](t, rec)
	require.Len(t, inbox, 1)
	assert.Equal(t, convID, inbox[0].ConversationID)
	assert.EqualValues(t, 1, inbox[0].UnreadCount)
	assert.Equal(t, "tenant", inbox[0].OtherUser.Name)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/messages", nil), h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Message](t, rec), 1)

	rec = h.do(httptest.NewRequest(http.MethodPost, "/api/conversations/"+convID+"/mark-read", nil), h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["marked"])

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), h.owner.ID)
	assert.Contains(t, rec.Body.String(), `"unreadCount":0`)
}

func TestSendMultipartVoice(t *testing.T) {
	h := newHarness(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("property_id", fmt.Sprint(h.flat.ID)))
	require.NoError(t, mw.WriteField("receiver_id", fmt.Sprint(h.owner.ID)))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="voice-message.webm"`)
	hdr.Set("Content-Type", "video/webm")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(make([]byte, 5*8192))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/messages", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := h.do(req, h.tenant.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	msg := decode[model.Message](t, rec)
	assert.Equal(t, model.KindVoice, msg.Kind)
	info, ok := msg.VoiceInfo()
	require.True(t, ok)
	assert.Equal(t, 5, info.DurationSeconds)
	assert.True(t, info.Estimated)
}

func TestSendErrors(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct {
		name     string
		fields   map[string]string
		wantCode string
	}{
		{"self", map[string]string{"property_id": "abc", "receiver_id": fmt.Sprint(h.tenant.ID), "message": "hi"}, "invalid_recipient"},
		{"empty", map[string]string{"property_id": fmt.Sprint(h.flat.ID), "receiver_id": fmt.Sprint(h.owner.ID)}, "empty_message"},
		{"bad ids", map[string]string{"property_id": "abc", "receiver_id": fmt.Sprint(h.owner.ID), "message": "hi"}, "validation_error"},
		{"unknown property", map[string]string{"property_id": "999", "receiver_id": fmt.Sprint(h.owner.ID), "message": "hi"}, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.sendForm(tt.fields, h.tenant.ID)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			env := decode[envelope](t, rec)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			if tt.wantCode == "validation_error" {
				assert.Contains(t, env.Error.Fields, "property_id")
			}
		})
	}
}

func TestConversationErrors(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/conversations/chat-1/messages", nil), h.tenant.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_format", decode[envelope](t, rec).Error.Code)

	convID := fmt.Sprintf("property_%d_users_%d_%d", h.flat.ID, h.tenant.ID, h.owner.ID)
	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/messages", nil), h.other.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStartConversation(t *testing.T) {
	h := newHarness(t, nil)
	body := map[string]uint64{"property_id": h.flat.ID, "receiver_id": h.owner.ID}

	rec := h.json(http.MethodPost, "/api/conversations/start", body, h.tenant.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	want := fmt.Sprintf("property_%d_users_%d_%d", h.flat.ID, h.tenant.ID, h.owner.ID)
	assert.Equal(t, want, decode[map[string]string](t, rec)["conversationId"])

	rec = h.json(http.MethodPost, "/api/conversations/start", map[string]uint64{"property_id": h.flat.ID, "receiver_id": h.tenant.ID}, h.tenant.ID)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReactionsAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.sendForm(map[string]string{
		"property_id": fmt.Sprint(h.flat.ID),
		"receiver_id": fmt.Sprint(h.owner.ID),
		"message":     "Is parking included?",
	}, h.tenant.ID)
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[model.Message](t, rec)
	base := fmt.Sprintf("/api/messages/%d", msg.ID)

	rec = h.json(http.MethodPost, base+"/reactions", map[string]string{"emoji": "👍"}, h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"messageId":%d,"reactions":{"👍":[%d]}}`, msg.ID, h.owner.ID), rec.Body.String())

	rec = h.json(http.MethodDelete, base+"/reactions", map[string]string{"emoji": "👍"}, h.tenant.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_reacted", decode[envelope](t, rec).Error.Code)

	rec = h.do(httptest.NewRequest(http.MethodDelete, base+"/reactions?emoji=%F0%9F%91%8D", nil), h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"messageId":%d,"reactions":{}}`, msg.ID), rec.Body.String())

	rec = h.do(httptest.NewRequest(http.MethodDelete, base, nil), h.owner.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(httptest.NewRequest(http.MethodDelete, base, nil), h.tenant.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Message](t, rec).IsDeleted)

	rec = h.do(httptest.NewRequest(http.MethodGet, base, nil), h.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Message](t, rec).IsDeleted)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/messages/99999", nil), h.owner.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, rdb)

	send := func() *httptest.ResponseRecorder {
		return h.sendForm(map[string]string{
			"property_id": fmt.Sprint(h.flat.ID),
			"receiver_id": fmt.Sprint(h.owner.ID),
			"message":     "ping",
		}, h.tenant.ID)
	}
	assert.Equal(t, http.StatusCreated, send().Code)
	assert.Equal(t, http.StatusCreated, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = h.sendForm(map[string]string{
		"property_id": fmt.Sprint(h.flat.ID),
		"receiver_id": fmt.Sprint(h.tenant.ID),
		"message":     "pong",
	}, h.owner.ID)
	assert.Equal(t, http.StatusCreated, rec.Code, "limits are per user")
}

func TestCORSOrigins(t *testing.T) {
	allow := allowOrigin([]string{"vercel.app"})
	for origin, want := range map[string]bool{
		"http://localhost:3000":         true,
		"https://rental-web.vercel.app": true,
		"https://evil.example.com":      false,
		"ftp://rental.vercel.app":       false,
	} {
		got, err := allow(origin)
		require.NoError(t, err)
		assert.Equal(t, want, got, origin)
	}
}
