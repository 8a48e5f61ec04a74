package checkpoint

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-watch/internal/frontier"
	"github.com/JakeFAU/competitor-watch/internal/priority"
	"github.com/JakeFAU/competitor-watch/internal/storage/memory"
)

func TestSaveLoadResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	cp := New(blobs)

	f := frontier.New(frontier.Config{})
	require.True(t, f.Add("https://acme.test/", priority.Critical, 0, "", nil))
	require.True(t, f.Add("https://acme.test/blog", priority.Medium, 1, "", nil))
	require.True(t, f.Add("https://acme.test/pricing", priority.High, 1, "", nil))
	first, ok := f.Get()
	require.True(t, ok)
	f.Complete(first.URL)
	inFlight, ok := f.Get()
	require.True(t, ok)

	uri, err := cp.Save(ctx, "scan-1", f.Snapshot(inFlight))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(uri, "checkpoints/scan-1.json"))

	snap, found, err := cp.Load(ctx, "scan-1")
	require.NoError(t, err)
	require.True(t, found)

	resumed := frontier.New(frontier.Config{})
	resumed.Restore(snap)
	require.False(t, resumed.Add("https://acme.test/", priority.Critical, 0, "", nil))
	next, ok := resumed.Get()
	require.True(t, ok)
	require.Equal(t, "https://acme.test/pricing", next.URL)
	next, ok = resumed.Get()
	require.True(t, ok)
	require.Equal(t, "https://acme.test/blog", next.URL)

	require.NoError(t, cp.Delete(ctx, "scan-1"))
	_, found, err = cp.Load(ctx, "scan-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLoadRejectsCorruptObject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(ctx, Key("bad"), "application/json", strings.NewReader("{"))
	require.NoError(t, err)

	_, _, err = New(blobs).Load(ctx, "bad")
	require.ErrorContains(t, err, "decode checkpoint")
}
