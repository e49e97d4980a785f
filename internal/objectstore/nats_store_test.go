// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startJetStream starts an in-memory NATS server and returns a JetStream handle.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	return js
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "test-bucket")
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", store.Bucket())

	key := "chapter-1.pcm"
	uploadData := []byte{0x00, 0x01, 0xfe, 0xff}

	require.NoError(t, store.Upload(ctx, key, uploadData))

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)
}

func TestNatsObjectStore_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	first, err := objectstore.New(ctx, js, "shared")
	require.NoError(t, err)
	require.NoError(t, first.Upload(ctx, "page", []byte("text")))

	second, err := objectstore.New(ctx, js, "shared")
	require.NoError(t, err)

	data, err := second.Download(ctx, "page")
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), data)
}

func TestNatsObjectStore_MissingKey(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "empty")
	require.NoError(t, err)

	_, err = store.Download(ctx, "nothing-here")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}
