package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/sockserve/internal/config"
	"github.com/Brownie44l1/sockserve/internal/filestore"
	"github.com/Brownie44l1/sockserve/internal/response"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func resolve(t *testing.T, mode config.Mode, flags config.Flags) *response.ServiceResponse {
	t.Helper()
	out, err := New(nil).Resolve(mode, flags)
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	require.Nil(t, out.Stream)
	return out.Response
}

func header(t *testing.T, resp *response.ServiceResponse, key string) string {
	t.Helper()
	v, _ := resp.Headers.Get(key)
	return v
}

func TestResolveText(t *testing.T) {
	resp := resolve(t, config.Text{Body: "héllo"}, config.Flags{})
	assert.Equal(t, response.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=UTF-8", header(t, resp, "Content-Type"))
	assert.Equal(t, []byte("héllo"), resp.Body)
	assert.Equal(t, 6, resp.ContentLength)
	assert.False(t, resp.Chunked())
}

func TestResolveRedirect(t *testing.T) {
	resp := resolve(t, config.Redirect{Location: "https://example.com"}, config.Flags{})
	assert.Equal(t, response.StatusFound, resp.StatusCode)
	assert.Equal(t, "Location: https://example.com", resp.Headers.String())
	assert.Empty(t, resp.Body)
	assert.Equal(t, 0, resp.ContentLength)
	assert.False(t, resp.Chunked())
}

func TestResolveFileNotFound(t *testing.T) {
	resp := resolve(t, config.File{Path: "/nonexistent/path"}, config.Flags{})
	assert.Equal(t, response.StatusOK, resp.StatusCode)
	assert.Equal(t, "FILE NOT FOUND", string(resp.Body))
	assert.Equal(t, "text/html; charset=UTF-8", header(t, resp, "Content-Type"))
}

func TestResolveFileUnknownExtension(t *testing.T) {
	path := writeFile(t, "photo.bmp", []byte("BM...."))
	resp := resolve(t, config.File{Path: path}, config.Flags{})
	assert.Equal(t, response.StatusOK, resp.StatusCode)
	assert.Equal(t, "UNKNOWN FILE", string(resp.Body))
}

func TestResolveFileNotFoundIgnoresFlags(t *testing.T) {
	resp := resolve(t, config.File{Path: "/nonexistent/path"}, config.Flags{Download: true, Stream: true})
	assert.Equal(t, "FILE NOT FOUND", string(resp.Body))
	assert.False(t, resp.Chunked())
	_, ok := resp.Headers.Get("Content-Disposition")
	assert.False(t, ok)
}

func TestResolveFile(t *testing.T) {
	data := []byte(`{"ok":true}`)
	path := writeFile(t, "data.json", data)

	resp := resolve(t, config.File{Path: path}, config.Flags{})
	assert.Equal(t, response.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", header(t, resp, "Content-Type"))
	assert.Equal(t, data, resp.Body)
	assert.Equal(t, len(data), resp.ContentLength)
	assert.False(t, resp.Chunked())
}

func TestResolveFileDownload(t *testing.T) {
	path := writeFile(t, "logo.png", []byte("\x89PNG"))

	resp := resolve(t, config.File{Path: path}, config.Flags{Download: true})
	assert.Equal(t, "application/octet-stream", header(t, resp, "Content-Type"))
	assert.Equal(t, `attachment; filename="logo.png"`, header(t, resp, "Content-Disposition"))
	assert.Contains(t, resp.Headers.String(), `Content-Disposition: attachment; filename="logo.png"`)
	assert.False(t, resp.Chunked())
}

func TestResolveFileStream(t *testing.T) {
	path := writeFile(t, "tiny.css", []byte("a{}"))

	resp := resolve(t, config.File{Path: path}, config.Flags{Stream: true})
	assert.True(t, resp.Chunked())
	assert.Equal(t, 0, resp.ContentLength)
	assert.Equal(t, []byte("a{}"), resp.Body)
	assert.Equal(t, "chunked", header(t, resp, "Transfer-Encoding"))
}

func TestResolveFileDownloadAndStream(t *testing.T) {
	path := writeFile(t, "clip.mp4", []byte("....ftypmp42"))

	resp := resolve(t, config.File{Path: path}, config.Flags{Download: true, Stream: true})
	assert.Equal(t,
		"Content-Type: application/octet-stream\n"+
			"Content-Disposition: attachment; filename=\"clip.mp4\"\n"+
			"Transfer-Encoding: chunked",
		resp.Headers.String())
	assert.True(t, resp.Chunked())
}

func TestResolveCamera(t *testing.T) {
	out, err := New(nil).Resolve(config.Camera{Device: 3}, config.Flags{Stream: true})
	require.NoError(t, err)
	assert.Nil(t, out.Response)
	require.NotNil(t, out.Stream)
	assert.Equal(t, 3, out.Stream.Device)
}

func TestResolveNilMode(t *testing.T) {
	_, err := New(nil).Resolve(nil, config.Flags{})
	assert.Error(t, err)
}

func TestResolveReturnsFreshResponses(t *testing.T) {
	r := New(nil)
	a, err := r.Resolve(config.Text{Body: "x"}, config.Flags{})
	require.NoError(t, err)
	b, err := r.Resolve(config.Text{Body: "x"}, config.Flags{})
	require.NoError(t, err)

	a.Response.Headers.Set("Connection", "close")
	_, ok := b.Response.Headers.Get("Connection")
	assert.False(t, ok)
}

type brokenStore struct{}

func (brokenStore) Stat(path string) (filestore.File, bool, error) {
	return filestore.File{Path: path, Name: filepath.Base(path), Extension: filepath.Ext(path)}, true, nil
}

func (brokenStore) ReadAll(filestore.File) ([]byte, error) {
	return nil, errors.New("permission denied")
}

func TestResolveFileReadError(t *testing.T) {
	_, err := New(brokenStore{}).Resolve(config.File{Path: "secret.txt"}, config.Flags{})
	assert.ErrorContains(t, err, "permission denied")
}
