package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"fieldbook/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of path-style S3 calls Storage makes.
type fakeS3 struct {
	mu            sync.Mutex
	bucketExists  bool
	objects       map[string][]byte
	contentTypes  map[string]string
	bucketCreated bool
	policySet     bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != "files" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !f.bucketExists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut && r.URL.Query().Has("policy"):
		f.policySet = true
		w.WriteHeader(http.StatusNoContent)
	case key == "" && r.Method == http.MethodPut:
		f.bucketExists = true
		f.bucketCreated = true
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		f.objects[key] = body
		f.contentTypes[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// decodeChunked strips aws-chunked framing: "<hex size>[;ext]\r\n<data>\r\n" until size 0.
func decodeChunked(b []byte) []byte {
	var out []byte
	for len(b) > 0 {
		line, rest, ok := bytes.Cut(b, []byte("\r\n"))
		if !ok {
			break
		}
		sizeHex, _, _ := bytes.Cut(line, []byte(";"))
		var size int
		if _, err := fmt.Sscanf(string(sizeHex), "%x", &size); err != nil || size == 0 || size > len(rest) {
			break
		}
		out = append(out, rest[:size]...)
		b = bytes.TrimPrefix(rest[size:], []byte("\r\n"))
	}
	return out
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>files</Name>`)
	keys := []string{"J25001/a1-plan.pdf", "J25001/b2-photo.jpg", "J25002/c3-site.png"}
	count := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		count++
		fmt.Fprintf(&sb, `<Contents><Key>%s</Key><Size>%d</Size><LastModified>2025-03-05T09:00:00.000Z</LastModified><ETag>"x"</ETag><StorageClass>STANDARD</StorageClass></Contents>`, k, 100+count)
	}
	fmt.Fprintf(&sb, `<KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated></ListBucketResult>`, count)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(sb.String()))
}

func newTestStorage(t *testing.T, exists bool, maxMB int64) (*Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucketExists: exists, objects: map[string][]byte{}, contentTypes: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	s, err := New(config.FilesConfig{
		Endpoint:    server.URL,
		Bucket:      "files",
		PublicURL:   "https://cdn.example.com/",
		MaxUploadMB: maxMB,
	}, nil)
	require.NoError(t, err)
	return s, fake
}

func TestNewValidation(t *testing.T) {
	_, err := New(config.FilesConfig{Bucket: "files"}, nil)
	assert.Error(t, err)
	_, err = New(config.FilesConfig{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	s, fake := newTestStorage(t, true, 1)

	url, err := s.Upload(context.Background(), "/J25001/a1-plan.pdf", bytes.NewBufferString("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/files/J25001/a1-plan.pdf", url)
	assert.Equal(t, []byte("%PDF-1.4"), fake.objects["J25001/a1-plan.pdf"])
	assert.Equal(t, "application/pdf", fake.contentTypes["J25001/a1-plan.pdf"])
	assert.False(t, fake.bucketCreated)
}

func TestUploadCreatesBucket(t *testing.T) {
	s, fake := newTestStorage(t, false, 1)

	_, err := s.Upload(context.Background(), "J25001/x.txt", strings.NewReader("hi"), "")
	require.NoError(t, err)
	assert.True(t, fake.bucketCreated)
	assert.True(t, fake.policySet)
	assert.Equal(t, "application/octet-stream", fake.contentTypes["J25001/x.txt"])
}

func TestUploadTooLarge(t *testing.T) {
	s, fake := newTestStorage(t, true, 1)

	_, err := s.Upload(context.Background(), "J25001/big.bin", bytes.NewReader(make([]byte, 1<<20+1)), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Empty(t, fake.objects)
}

func TestUploadRejectsEmptyKey(t *testing.T) {
	s, _ := newTestStorage(t, true, 1)
	_, err := s.Upload(context.Background(), " / ", strings.NewReader("x"), "")
	assert.Error(t, err)
	_, err = s.Upload(context.Background(), "k", nil, "")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	s, _ := newTestStorage(t, true, 1)

	all, err := s.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "J25001/a1-plan.pdf", all[0].Name)
	assert.Equal(t, "https://cdn.example.com/files/J25001/a1-plan.pdf", all[0].URL)
	assert.EqualValues(t, 101, all[0].Size)

	limited, err := s.List(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	job, err := s.List(context.Background(), "J25002/", 10)
	require.NoError(t, err)
	require.Len(t, job, 1)
	assert.Equal(t, "J25002/c3-site.png", job[0].Name)
}
