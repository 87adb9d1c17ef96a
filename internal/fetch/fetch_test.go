package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_WritesBody(t *testing.T) {
	// Larger than one chunk so the copy loop iterates.
	body := strings.Repeat("attachment-bytes.", 1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	target := filepath.Join(t.TempDir(), "file.bin")

	f := New(server.Client())
	require.NoError(t, f.Fetch(context.Background(), server.URL, target))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestFetch_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	target := filepath.Join(t.TempDir(), "file.bin")

	f := New(server.Client())
	err := f.Fetch(context.Background(), server.URL, target)
	require.Error(t, err)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, http.StatusNotFound, transferErr.StatusCode)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "no file should be created on failure")
}

func TestFetch_MidStreamFailureRemovesPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more than the handler delivers; the server aborts the
		// connection mid-body and the client read fails after some bytes
		// already reached disk.
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}))
	defer server.Close()

	target := filepath.Join(t.TempDir(), "file.bin")

	f := New(server.Client())
	err := f.Fetch(context.Background(), server.URL, target)
	require.Error(t, err)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "truncated file should not be left behind")
}

func TestFetch_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	target := filepath.Join(t.TempDir(), "file.bin")

	f := New(nil)
	err := f.Fetch(context.Background(), server.URL, target)
	require.Error(t, err)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Zero(t, transferErr.StatusCode)
}
