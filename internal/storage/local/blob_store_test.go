package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-watch/internal/storage/local"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		blobs, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, blobs)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// Change permissions to read-only
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		err := os.Chmod(tempDir, 0o500)
		require.NoError(t, err)

		cfg := local.Config{BaseDir: tempDir}
		_, err = local.New(cfg)
		assert.Error(t, err)

		// Change back to writable so cleanup can happen
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		err = os.Chmod(tempDir, 0o700)
		require.NoError(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	cfg := local.Config{BaseDir: tempDir}
	blobs, err := local.New(cfg)
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "test/object.txt"
		data := []byte("hello world")
		uri, err := blobs.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := blobs.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("NestedPath", func(t *testing.T) {
		path := "a/b/c/object.txt"
		data := []byte("nested hello")
		uri, err := blobs.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})
}

func TestGetAndDeleteObject(t *testing.T) {
	ctx := context.Background()
	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = blobs.PutObject(ctx, "checkpoints/scan-1.json", "application/json", bytes.NewReader([]byte(`{"queue":[]}`)))
	require.NoError(t, err)

	data, err := blobs.GetObject(ctx, "checkpoints/scan-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"queue":[]}`, string(data))

	require.NoError(t, blobs.DeleteObject(ctx, "checkpoints/scan-1.json"))
	require.NoError(t, blobs.DeleteObject(ctx, "checkpoints/scan-1.json"), "deleting twice is fine")

	_, err = blobs.GetObject(ctx, "checkpoints/scan-1.json")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPathTraversalRejected(t *testing.T) {
	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = blobs.PutObject(context.Background(), "../escape.txt", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = blobs.GetObject(context.Background(), "../../etc/passwd")
	require.Error(t, err)
}
