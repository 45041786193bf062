package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aristath/maestro/internal/database"
	testingpkg "github.com/aristath/maestro/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Upload(ctx context.Context, key string, body io.Reader) error {
	args := m.Called(ctx, key, body)
	return args.Error(0)
}

func (m *MockObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ObjectInfo), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func newBackupService(t *testing.T, store ObjectStore, keep int) *BackupService {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	svc := NewBackupService(store, []*database.DB{db}, t.TempDir(), "maestro/", keep, nil, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 6, 3, 2, 0, 0, 0, time.UTC) }
	return svc
}

func untar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}

func TestBackupService_CreateAndUpload(t *testing.T) {
	store := new(MockObjectStore)
	svc := newBackupService(t, store, 3)

	var uploaded []byte
	store.On("Upload", mock.Anything, "maestro/maestro-backup-2024-06-03-020000.tar.gz", mock.Anything).
		Run(func(args mock.Arguments) {
			data, err := io.ReadAll(args.Get(2).(io.Reader))
			require.NoError(t, err)
			uploaded = data
		}).
		Return(nil)

	info, err := svc.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "maestro/maestro-backup-2024-06-03-020000.tar.gz", info.Key)
	assert.Equal(t, int64(len(uploaded)), info.SizeBytes)

	files := untar(t, uploaded)
	require.Contains(t, files, "ledger.db")
	require.Contains(t, files, metadataFilename)

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFilename], &meta))
	require.Len(t, meta.Databases, 1)
	assert.Equal(t, "ledger", meta.Databases[0].Name)
	assert.Equal(t, int64(len(files["ledger.db"])), meta.Databases[0].SizeBytes)
	assert.Contains(t, meta.Databases[0].Checksum, "sha256:")

	store.AssertExpectations(t)
}

func TestBackupService_UploadFailure(t *testing.T) {
	store := new(MockObjectStore)
	svc := newBackupService(t, store, 3)
	store.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("access denied"))

	_, err := svc.CreateAndUpload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestBackupService_ListBackups(t *testing.T) {
	store := new(MockObjectStore)
	svc := newBackupService(t, store, 3)
	store.On("List", mock.Anything, "maestro/maestro-backup-").Return([]ObjectInfo{
		{Key: "maestro/maestro-backup-2024-06-01-020000.tar.gz", Size: 10},
		{Key: "maestro/maestro-backup-2024-06-02-020000.tar.gz", Size: 20},
		{Key: "maestro/maestro-backup-garbage.tar.gz", Size: 5},
	}, nil)

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "maestro/maestro-backup-2024-06-02-020000.tar.gz", backups[0].Key)
	assert.Equal(t, int64(24), backups[0].AgeHours)
	assert.Equal(t, int64(48), backups[1].AgeHours)
}

func TestBackupService_RotateKeepsNewest(t *testing.T) {
	store := new(MockObjectStore)
	svc := newBackupService(t, store, 2)
	store.On("List", mock.Anything, "maestro/maestro-backup-").Return([]ObjectInfo{
		{Key: "maestro/maestro-backup-2024-05-30-020000.tar.gz"},
		{Key: "maestro/maestro-backup-2024-06-02-020000.tar.gz"},
		{Key: "maestro/maestro-backup-2024-05-31-020000.tar.gz"},
		{Key: "maestro/maestro-backup-2024-06-01-020000.tar.gz"},
	}, nil)
	store.On("Delete", mock.Anything, "maestro/maestro-backup-2024-05-31-020000.tar.gz").Return(nil)
	store.On("Delete", mock.Anything, "maestro/maestro-backup-2024-05-30-020000.tar.gz").Return(errors.New("boom"))

	deleted, err := svc.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Delete", mock.Anything, "maestro/maestro-backup-2024-06-01-020000.tar.gz")
}

func TestBackupService_RotateNothingToDo(t *testing.T) {
	store := new(MockObjectStore)
	svc := newBackupService(t, store, 5)
	store.On("List", mock.Anything, mock.Anything).Return([]ObjectInfo{
		{Key: "maestro/maestro-backup-2024-06-02-020000.tar.gz"},
	}, nil)

	deleted, err := svc.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
