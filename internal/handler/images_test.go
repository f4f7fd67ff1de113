package handler

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylist-ai/shopping-assistant/internal/middleware"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
)

func newImageTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	h := NewImageHandler(st, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Session("test-secret", false))
		r.Post("/upload-image", h.Upload)
		r.Get("/images/{id}", h.Get)
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestImageUploadAndRetrieve(t *testing.T) {
	server := newImageTestServer(t)
	client := newClientWithJar(t)

	raw := []byte("fake-jpeg-bytes")
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	resp := postJSON(t, client, server.URL+"/api/upload-image", `{"image":"`+dataURL+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool   `json:"success"`
		ImageID string `json:"imageId"`
		URL     string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload.Success)
	require.NotEmpty(t, payload.ImageID)
	assert.Equal(t, "/api/images/"+payload.ImageID, payload.URL)

	getResp, err := client.Get(server.URL + payload.URL)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, "image/jpeg", getResp.Header.Get("Content-Type"))

	body, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	assert.Equal(t, raw, body)
}

func TestImageUploadBareBase64DefaultsToPNG(t *testing.T) {
	server := newImageTestServer(t)
	client := newClientWithJar(t)

	encoded := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	resp := postJSON(t, client, server.URL+"/api/upload-image", `{"image":"`+encoded+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		ImageID string `json:"imageId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	getResp, err := client.Get(server.URL + "/api/images/" + payload.ImageID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, "image/png", getResp.Header.Get("Content-Type"))
}

func TestImageUploadValidation(t *testing.T) {
	server := newImageTestServer(t)
	client := newClientWithJar(t)

	resp := postJSON(t, client, server.URL+"/api/upload-image", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, client, server.URL+"/api/upload-image", `{"image":"data:image/png;base64"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, client, server.URL+"/api/upload-image", `{"image":"!!!not-base64!!!"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImageNotFound(t *testing.T) {
	server := newImageTestServer(t)
	client := newClientWithJar(t)

	resp, err := client.Get(server.URL + "/api/images/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImageIsSessionScoped(t *testing.T) {
	server := newImageTestServer(t)
	owner := newClientWithJar(t)

	encoded := base64.StdEncoding.EncodeToString([]byte("private"))
	resp := postJSON(t, owner, server.URL+"/api/upload-image", `{"image":"`+encoded+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		ImageID string `json:"imageId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	stranger := newClientWithJar(t)
	getResp, err := stranger.Get(server.URL + "/api/images/" + payload.ImageID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}
