package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "7300000000000000001.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFolderStore_Store(t *testing.T) {
	root := t.TempDir()
	src := writeArtifact(t, "video-bytes")
	hash, err := utils.CalculateFileSHA256(src)
	require.NoError(t, err)

	fs := NewFolderStore(root, "Harvest", true, testLogger())
	fs.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	res, err := fs.Store(context.Background(), src, []string{"profile", "alice"})
	require.NoError(t, err)
	assert.Equal(t, hash, res.ExternalID)
	assert.Equal(t, "Harvest/profile/alice", res.Folder)
	assert.Equal(t, "Harvest/profile/alice/7300000000000000001.yaml", res.MetadataID)

	dest := filepath.Join(root, "Harvest", "profile", "alice", "7300000000000000001.mp4")
	assert.Equal(t, "file://"+filepath.ToSlash(dest), res.Link)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	meta, err := ReadMetadata(filepath.Join(root, filepath.FromSlash(res.MetadataID)))
	require.NoError(t, err)
	assert.Equal(t, hash, meta.SHA256)
	assert.Equal(t, int64(11), meta.SizeBytes)
	assert.Equal(t, src, meta.SourcePath)
	assert.Equal(t, "Harvest/profile/alice", meta.Folder)

	// Storing the same content again reuses the file
	again, err := fs.Store(context.Background(), src, []string{"profile", "alice"})
	require.NoError(t, err)
	assert.Equal(t, res.ExternalID, again.ExternalID)
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "artifact and sidecar only, no temp files left")
}

func TestFolderStore_SegmentsAreSanitized(t *testing.T) {
	root := t.TempDir()
	src := writeArtifact(t, "x")
	fs := NewFolderStore(root, "", false, testLogger())

	res, err := fs.Store(context.Background(), src, []string{"..", "a/b", "  "})
	require.NoError(t, err)
	assert.Equal(t, "untitled/a_b", res.Folder)
	assert.Empty(t, res.MetadataID)
	_, err = os.Stat(filepath.Join(root, "untitled", "a_b", "7300000000000000001.mp4"))
	assert.NoError(t, err)
}

func TestFolderStore_Errors(t *testing.T) {
	src := writeArtifact(t, "x")

	_, err := NewFolderStore(filepath.Join(t.TempDir(), "missing"), "", false, testLogger()).
		Store(context.Background(), src, []string{"a"})
	assert.ErrorIs(t, err, utils.ErrFilesystem)

	_, err = NewFolderStore(t.TempDir(), "", false, testLogger()).
		Store(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"), []string{"a"})
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

type stubStrategy struct {
	name string
	err  error
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Store(context.Context, string, []string) (*models.StoreResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.StoreResult{ExternalID: "id-" + s.name}, nil
}

func TestChain(t *testing.T) {
	t.Run("first accepting root wins", func(t *testing.T) {
		c := NewChain(testLogger(), stubStrategy{name: "full", err: errors.New("no space")}, stubStrategy{name: "spare"})
		res, err := c.Store(context.Background(), "/tmp/x", nil)
		require.NoError(t, err)
		assert.Equal(t, "id-spare", res.ExternalID)
		assert.Equal(t, "spare", res.Strategy)
	})

	t.Run("all fail", func(t *testing.T) {
		c := NewChain(testLogger(), stubStrategy{name: "a", err: utils.ErrFilesystem})
		_, err := c.Store(context.Background(), "/tmp/x", nil)
		assert.ErrorIs(t, err, utils.ErrStore)
		assert.ErrorIs(t, err, utils.ErrFilesystem)
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := NewChain(testLogger()).Store(context.Background(), "/tmp/x", nil)
		assert.ErrorIs(t, err, utils.ErrStore)
	})

	t.Run("real roots fall over", func(t *testing.T) {
		src := writeArtifact(t, "content")
		spare := t.TempDir()
		c := NewChain(testLogger(),
			NewFolderStore(filepath.Join(t.TempDir(), "unmounted"), "", false, testLogger()),
			NewFolderStore(spare, "", false, testLogger()),
		)
		res, err := c.Store(context.Background(), src, []string{"hashtag", "cats"})
		require.NoError(t, err)
		assert.Equal(t, "folder:"+spare, res.Strategy)
	})
}
