package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	blobs, err := New(client, Config{Bucket: "b", Prefix: "/archive/"})
	require.NoError(t, err)

	name, err := blobs.objectName("/scans/1/page.html")
	require.NoError(t, err)
	require.Equal(t, "archive/scans/1/page.html", name)

	_, err = blobs.objectName("  ")
	require.Error(t, err)
}
