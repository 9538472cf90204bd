// Package source 拉取上游采集方生成的 FeatureSnapshot 原始 JSON。
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNotModified 表示上游内容与上次相同，本轮无需评估。
var ErrNotModified = errors.New("source: not modified")

const maxSnapshotBytes = 16 << 20

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// File 读取本地文件；文件修改时间未变时返回 ErrNotModified。
type File struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

func NewFile(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("source: file path 不能为空")
	}
	return &File{path: path}, nil
}

func (f *File) Name() string { return "file:" + f.path }

func (f *File) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(f.path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	same := st.ModTime().Equal(f.modTime) && st.Size() == f.size
	f.mu.Unlock()
	if same {
		return nil, ErrNotModified
	}
	if st.Size() > maxSnapshotBytes {
		return nil, fmt.Errorf("source: %s too large (%d bytes)", f.path, st.Size())
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.modTime, f.size = st.ModTime(), st.Size()
	f.mu.Unlock()
	return raw, nil
}

// HTTP 通过 GET 拉取快照，支持 ETag 条件请求。
type HTTP struct {
	url     string
	headers map[string]string
	client  *http.Client

	mu   sync.Mutex
	etag string
}

func NewHTTP(url string, headers map[string]string, timeout time.Duration) (*HTTP, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("source: url 不能为空")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{url: url, headers: headers, client: &http.Client{Timeout: timeout}}, nil
}

func (h *HTTP) Name() string { return "http:" + h.url }

func (h *HTTP) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	h.mu.Lock()
	if h.etag != "" {
		req.Header.Set("If-None-Match", h.etag)
	}
	h.mu.Unlock()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("source: status=%d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, err
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		h.mu.Lock()
		h.etag = etag
		h.mu.Unlock()
	}
	return raw, nil
}
