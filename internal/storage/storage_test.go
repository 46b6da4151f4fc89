package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getcharzp/sam2-vision/internal/config"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestAllowedExt(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.png", true},
		{"a.PNG", true},
		{"a.b.jpg", true},
		{"a.jpeg", true},
		{"a.gif", false},
		{"png", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AllowedExt(tt.name), tt.name)
	}
}

func TestCleanName(t *testing.T) {
	name, err := CleanName("../../etc/passwd.png")
	require.NoError(t, err)
	assert.Equal(t, "passwd.png", name)

	name, err = CleanName(`C:\Users\me\photo.jpg`)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", name)

	for _, bad := range []string{"", "..", ".", "/"} {
		_, err := CleanName(bad)
		assert.ErrorIs(t, err, ErrInvalidName, bad)
	}
}

func TestDetectImage(t *testing.T) {
	mtype, err := DetectImage(pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mtype)

	_, err = DetectImage([]byte("hello world"))
	assert.ErrorIs(t, err, ErrInvalidFileType)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType(pngBytes(t)))

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, image.NewGray(image.Rect(0, 0, 2, 2)), nil))
	assert.Equal(t, "image/jpeg", contentType(jpg.Bytes()))

	assert.Equal(t, "application/octet-stream", contentType([]byte{0x00, 0x01, 0x02}))
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, config.StorageConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)

	data := pngBytes(t)
	url, err := store.Save(ctx, "sub/dir/room.png", data)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/room.png", url)

	got, err := store.Open(ctx, "room.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Open(ctx, "missing.png")
	assert.True(t, errors.Is(err, ErrNotFound))

	// 覆盖同名文件
	_, err = store.Save(ctx, "room.png", []byte("v2"))
	require.NoError(t, err)
	got, err = store.Open(ctx, "room.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	srv := httptest.NewServer(http.StripPrefix("/uploads/", store.Handler()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/uploads/room.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}
