package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"snapshot_id":"a"}`), 0o644))

	src, err := NewFile(path)
	require.NoError(t, err)
	raw, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"snapshot_id":"a"}`, string(raw))

	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotModified)

	require.NoError(t, os.WriteFile(path, []byte(`{"snapshot_id":"bb"}`), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	raw, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"snapshot_id":"bb"}`, string(raw))

	_, err = NewFile(" ")
	assert.Error(t, err)
}

func TestFileSourceMissing(t *testing.T) {
	src, err := NewFile(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	_, err = src.Fetch(context.Background())
	assert.True(t, os.IsNotExist(err))
}

func TestHTTPSourceETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "t", r.Header.Get("X-Token"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"snapshot_id":"x"}`))
	}))
	defer srv.Close()

	src, err := NewHTTP(srv.URL, map[string]string{"X-Token": "t"}, time.Second)
	require.NoError(t, err)
	raw, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "snapshot_id")
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotModified)
}

func TestHTTPSourceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	src, err := NewHTTP(srv.URL, nil, 0)
	require.NoError(t, err)
	_, err = src.Fetch(context.Background())
	assert.EqualError(t, err, "source: status=503")
}
