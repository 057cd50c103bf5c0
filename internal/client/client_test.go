package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendBuildsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "42", r.Header.Get("X-User-ID"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "3", r.FormValue("property_id"))
		assert.Equal(t, "9", r.FormValue("receiver_id"))
		assert.Equal(t, "see photo", r.FormValue("message"))
		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "room.png", fh.Filename)
		assert.Equal(t, "image/png", fh.Header.Get("Content-Type"))
		assert.Equal(t, []byte{1, 2, 3}, data)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(model.Message{ID: 11, Kind: model.KindImage})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.UserID = 42
	msg, err := c.Send(context.Background(), SendRequest{
		PropertyID: 3,
		ReceiverID: 9,
		Body:       "see photo",
		File:       &File{Name: "room.png", ContentType: "image/png", Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 11, msg.ID)
	assert.Equal(t, model.KindImage, msg.Kind)
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"validation_error","message":"bad","fields":{"receiver_id":["does not exist"]}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.Token = "tok"
	_, err := c.ListMessages(context.Background(), "property_1_users_2_3")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "validation_error", apiErr.Code)
	assert.Equal(t, []string{"does not exist"}, apiErr.Fields["receiver_id"])
}

func TestToggleReaction(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "👍", body["emoji"])
		_, _ = w.Write([]byte(`{"messageId":5,"reactions":{}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	msg := &model.Message{ID: 5}
	_, err := c.ToggleReaction(context.Background(), msg, 7, "👍")
	require.NoError(t, err)

	msg.Reactions, _ = msg.Reactions.Add("👍", 7)
	_, err = c.ToggleReaction(context.Background(), msg, 7, "👍")
	require.NoError(t, err)

	assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, methods)
}
