package gcs

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return client
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotPath, gotName, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Lock()
		gotPath = r.URL.Path
		gotName = r.URL.Query().Get("name")
		gotBody = string(body)
		mu.Unlock()
		fmt.Fprintln(w, `{"bucket":"pages-bucket","name":"pages/wiki/abc.html"}`)
	})

	store, err := New(newTestClient(t, handler), Config{Bucket: "pages-bucket"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/wiki/abc.html", "text/html", []byte("<html>hi</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://pages-bucket/pages/wiki/abc.html", uri)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.Contains(gotPath, "/b/pages-bucket/o"), "unexpected upload path %s", gotPath)
	assert.Equal(t, "pages/wiki/abc.html", gotName)
	assert.Contains(t, gotBody, "<html>hi</html>")

	sum := make([]byte, 4)
	binary.BigEndian.PutUint32(sum, crc32.Checksum([]byte("<html>hi</html>"), crc32.MakeTable(crc32.Castagnoli)))
	assert.Contains(t, gotBody, `"crc32c":"`+base64.StdEncoding.EncodeToString(sum)+`"`)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "pages-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "pages/wiki/abc.html", "text/html", []byte("data"))
	assert.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "pages-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", []byte("data"))
	assert.Error(t, err)
}
