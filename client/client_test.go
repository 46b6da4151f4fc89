package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL)
	c.SetRetryCount(0)
	return c
}

func TestRetryOnlyIdempotent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"busy"}`)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	c.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(2 * time.Millisecond)

	_, err := c.GenerateMasks(context.Background(), "a.png")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "POST 不应重试")

	hits.Store(0)
	_, err = c.Upload(context.Background(), "a.png", []byte("png"))
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "上传不应重试")

	hits.Store(0)
	err = c.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(1+maxRetryCount), hits.Load(), "GET 遇到 5xx 应重试")
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload", r.URL.Path)
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "raw", string(data))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(UploadResult{Message: "Uploaded", Filename: header.Filename, URL: "/uploads/" + header.Filename})
	})

	res, err := c.Upload(context.Background(), "x.png", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/x.png", res.URL)
}

func TestMasksByPoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filename string        `json:"filename"`
			Points   []PromptPoint `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a.png", body.Filename)
		require.Len(t, body.Points, 1)
		assert.True(t, body.Points[0].Positive())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mask":"","combined":true,"warning":"No valid mask found"}`))
	})

	res, err := c.MasksByPoints(context.Background(), "a.png", []PromptPoint{{X: 0.1, Y: 0.2}})
	require.NoError(t, err)
	assert.Equal(t, "No valid mask found", res.Warning)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found"}`))
	})

	_, err := c.GenerateMasks(context.Background(), "a.png")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Not found", apiErr.Detail)

	_, err = c.ApplyColors(context.Background(), ColorRequest{Filename: "a.png"})
	require.ErrorAs(t, err, &apiErr)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health-check", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":"Ok"}`))
	})
	assert.NoError(t, c.Health(context.Background()))
}
