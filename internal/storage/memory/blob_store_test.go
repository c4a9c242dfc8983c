package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seractech/planwatch/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "data/PO/PO1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://data/PO/PO1.json", uri)

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "data/PO/PO1.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.GetObject(context.Background(), "data/PO/PO1.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
	require.Equal(t, 1, store.Puts("data/PO/PO1.json"))
	require.Equal(t, []string{"data/PO/PO1.json"}, store.Paths())
}

func TestBlobStoreMissingAndInjectedFailure(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotExist)

	boom := errors.New("disk full")
	store.FailPuts(func(string) error { return boom })
	_, err = store.PutObject(context.Background(), "a", "", bytes.NewReader(nil))
	require.ErrorIs(t, err, boom)

	store.FailPuts(nil)
	_, err = store.PutObject(context.Background(), "a", "", bytes.NewReader(nil))
	require.NoError(t, err)
}
