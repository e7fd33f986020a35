package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), storage.Names{Original: "orig", Processed: "proc", Heatmaps: "heat"})
	require.NoError(t, err)
	return s
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	src := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("not really a video"), 0644))

	path, err := s.Upload(ctx, storage.Processed, "processed_clip.mp4", src, storage.ContentTypeMP4)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "file://"))
	assert.True(t, strings.HasSuffix(path, "/proc/processed_clip.mp4"))

	ok, err := s.Exists(ctx, storage.Processed, "processed_clip.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	dst := filepath.Join(t.TempDir(), "nested", "copy.mp4")
	require.NoError(t, s.Download(ctx, storage.Processed, "processed_clip.mp4", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(got))
}

func TestMissingObject(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.Exists(ctx, storage.Original, "ghost.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(ctx, storage.Original, "ghost.mp4")
	assert.True(t, errors.Is(err, errors.ErrAssetNotFound))

	err = s.Download(ctx, storage.Original, "ghost.mp4", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, errors.ErrAssetNotFound))
}

func TestRejectsTraversal(t *testing.T) {
	s := newStore(t)
	_, err := s.UploadBytes(context.Background(), storage.Heatmaps, "../escape.png", []byte{1}, storage.ContentTypePNG)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestListAndOpen(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, k := range []string{"b.mp4", "a.mp4"} {
		_, err := s.UploadBytes(ctx, storage.Original, k, []byte(k), storage.ContentTypeMP4)
		require.NoError(t, err)
	}

	objs, err := s.List(ctx, storage.Original)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a.mp4", objs[0].Key)
	assert.Equal(t, int64(5), objs[1].Size)

	rc, err := s.Open(ctx, storage.Original, "b.mp4")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "b.mp4", string(data))
}
