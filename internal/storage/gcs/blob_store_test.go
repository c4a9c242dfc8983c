package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	blob "github.com/seractech/planwatch/internal/storage"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
		storage.WithJSONReads(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "planwatch/data/PO/PO1.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `[{"id":"1"}]`)

		fmt.Fprintln(w, `{"name":"planwatch/data/PO/PO1.json","bucket":"test-bucket"}`)
	})
	store := newTestStore(t, handler, "/planwatch/")

	uri, err := store.PutObject(context.Background(), "data/PO/PO1.json", "application/json", bytes.NewReader([]byte(`[{"id":"1"}]`)))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/planwatch/data/PO/PO1.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, "")

	_, err := store.PutObject(context.Background(), "data/_metadata.json", "application/json", bytes.NewReader([]byte("{}")))
	require.Error(t, err)
}

func TestGetObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "data/_metadata.json") {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ports":{}}`)
			return
		}
		http.Error(w, `{"error":{"code":404,"message":"No such object"}}`, http.StatusNotFound)
	})
	store := newTestStore(t, handler, "")

	data, err := store.GetObject(context.Background(), "data/_metadata.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"ports":{}}`, string(data))

	_, err = store.GetObject(context.Background(), "data/ZZ/ZZ9.json")
	require.ErrorIs(t, err, blob.ErrNotExist)
}

func TestEmptyPathRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), "")
	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "")
	require.Error(t, err)
}
