package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wilsonzlin/ltsu/internal/backend"
	"github.com/wilsonzlin/ltsu/internal/fileref"
	"github.com/wilsonzlin/ltsu/internal/part"
	"github.com/wilsonzlin/ltsu/internal/state"
)

type fakeBackend struct {
	limits   backend.Limits
	ideal    int64
	uploadID string
}

func (f *fakeBackend) Limits() backend.Limits { return f.limits }
func (f *fakeBackend) IdealPartSize(ctx context.Context, size int64) (int64, error) {
	return f.ideal, nil
}
func (f *fakeBackend) Initiate(ctx context.Context, name string, partSize int64) (string, error) {
	return f.uploadID, nil
}
func (f *fakeBackend) UploadPart(ctx context.Context, uploadID string, p part.Part, newStream backend.StreamFactory) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) Complete(ctx context.Context, uploadID string, size int64, partHashes [][]byte) error {
	return nil
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		limits: backend.Limits{MinParts: 1, MaxParts: 10000, MinPartSize: 1 << 20, MaxPartSize: 4 << 30},
		ideal:  1 << 20,
	}
}

func TestOpen_CreatesNewSession(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	b := newFakeBackend()
	b.uploadID = "upload-1"
	f := fileref.File{Path: "/data/big.img", Size: 5 << 20, LastModified: "2026-01-01T00:00:00Z"}

	h, err := Open(context.Background(), store, b, f, false)
	require.NoError(t, err)
	assert.Equal(t, "upload-1", h.Session.UploadID)
	assert.Equal(t, 5, h.Session.PartsNeeded)
	assert.Equal(t, 0, h.PartsCompleted)
	assert.Len(t, h.MissingParts(), 5)
}

func TestOpen_ResumesMatchingSession(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	f := fileref.File{Path: "/data/big.img", Size: 3 << 20, LastModified: "2026-01-01T00:00:00Z"}
	require.NoError(t, store.WriteSession(state.Session{
		UploadID: "existing", FilePath: f.Path, FileLastChanged: f.LastModified,
		PartSize: 1 << 20, PartsNeeded: 3,
	}))
	require.NoError(t, store.WritePartHash(0, []byte("hash0")))

	h, err := Open(context.Background(), store, newFakeBackend(), f, false)
	require.NoError(t, err)
	assert.Equal(t, "existing", h.Session.UploadID)
	assert.Equal(t, 1, h.PartsCompleted)
	assert.Equal(t, []int{1, 2}, h.MissingParts())
}

func TestOpen_RejectsChangedFileWithoutForce(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.WriteSession(state.Session{
		UploadID: "existing", FilePath: "/data/big.img", FileLastChanged: "2024-01-01T00:00:00Z",
		PartSize: 1 << 20, PartsNeeded: 3,
	}))

	f := fileref.File{Path: "/data/big.img", Size: 3 << 20, LastModified: "2026-01-01T00:00:00Z"}
	_, err = Open(context.Background(), store, newFakeBackend(), f, false)
	assert.ErrorIs(t, err, ErrFileChanged)
}

func TestOpen_ForceBypassesChangedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.WriteSession(state.Session{
		UploadID: "existing", FilePath: "/data/big.img", FileLastChanged: "2024-01-01T00:00:00Z",
		PartSize: 1 << 20, PartsNeeded: 3,
	}))

	f := fileref.File{Path: "/data/big.img", Size: 3 << 20, LastModified: "2026-01-01T00:00:00Z"}
	h, err := Open(context.Background(), store, newFakeBackend(), f, true)
	require.NoError(t, err)
	assert.Equal(t, "existing", h.Session.UploadID)
}

func TestOpen_RejectsTooSmall(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	b := newFakeBackend()
	b.limits.MinParts = 5
	f := fileref.File{Path: "/data/tiny.img", Size: 10, LastModified: "2026-01-01T00:00:00Z"}

	_, err = Open(context.Background(), store, b, f, false)
	assert.ErrorIs(t, err, ErrFileTooSmall)
}

func TestHandle_RecordPartHashAndReady(t *testing.T) {
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	h := &Handle{Session: state.Session{PartsNeeded: 2}, Hashes: make([][]byte, 2)}
	assert.False(t, h.Ready())

	n, err := h.RecordPartHash(store, 0, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.RecordPartHash(store, 1, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, h.Ready())
	assert.Equal(t, 2, h.CompletedCount())
}
