package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/internal/common"
	"github.com/qazdrive/uploadhub/internal/storage"
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/qazdrive/uploadhub/pkg/types"
	"github.com/qazdrive/uploadhub/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *common.Database {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&types.User{}, &types.UploadSession{})
	require.NoError(t, err)

	return &common.Database{DB: db}
}

func testConfig() *config.UploadConfig {
	return &config.UploadConfig{
		SessionTTL:    24 * time.Hour,
		MaxChunkBytes: 4 * 1024 * 1024,
		SweepInterval: time.Hour,
		SweepGrace:    5 * time.Minute,
	}
}

func setupTestService(t *testing.T) (*Service, *GormSessionStore, storage.BlobStorage) {
	db := setupTestDB(t)
	store := NewGormSessionStore(db)

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	return NewService(store, blobs, testConfig()), store, blobs
}

func createTestUser(t *testing.T, store *GormSessionStore) *types.User {
	user := &types.User{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "hashedpassword",
		IsActive: true,
	}
	require.NoError(t, store.db.Create(user).Error)
	return user
}

func submitFirstChunk(t *testing.T, service *Service, user *types.User, content string) *ChunkResult {
	result, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{
		Filename: "lesson.mp4",
		Content:  strings.NewReader(content),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	return result
}

func readBlob(t *testing.T, blobs storage.BlobStorage, path string) []byte {
	reader, err := blobs.Retrieve(context.Background(), path)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	return data
}

func TestSubmitChunk_StartsNewSession(t *testing.T) {
	service, store, blobs := setupTestService(t)
	user := createTestUser(t, store)

	result := submitFirstChunk(t, service, user, "first chunk of data")

	assert.NotEqual(t, uuid.Nil, result.SessionID)
	assert.Equal(t, int64(len("first chunk of data")), result.Offset)
	assert.False(t, result.Retry)
	assert.False(t, result.ExpiresAt.IsZero())

	session, err := store.GetByID(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusUploading, session.Status)
	assert.Equal(t, "lesson.mp4", session.Filename)
	assert.Equal(t, result.Offset, session.Offset)
	require.NotNil(t, session.UserID)
	assert.Equal(t, user.ID, *session.UserID)

	assert.Equal(t, []byte("first chunk of data"), readBlob(t, blobs, session.StoragePath))
}

func TestSubmitChunk_AppendsSequentialChunks(t *testing.T) {
	service, store, blobs := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "hello ")

	second, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{
		SessionID: &first.SessionID,
		Range:     &ByteRange{Start: first.Offset, End: first.Offset + 4, Total: 100},
		Content:   strings.NewReader("world"),
		Size:      5,
	})
	require.NoError(t, err)
	assert.False(t, second.Retry)
	assert.Equal(t, int64(len("hello world")), second.Offset)

	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, second.Offset, session.Offset)
	assert.Equal(t, []byte("hello world"), readBlob(t, blobs, session.StoragePath))
}

func TestSubmitChunk_OffsetMismatchReturnsRetry(t *testing.T) {
	service, store, blobs := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "0123456789")

	tests := []struct {
		name  string
		start int64
	}{
		{"duplicate send", 0},
		{"stale resume", 5},
		{"client ahead of server", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{
				SessionID: &first.SessionID,
				Range:     &ByteRange{Start: tt.start, End: tt.start + 9, Total: 100},
				Content:   strings.NewReader("0123456789"),
				Size:      10,
			})
			require.NoError(t, err)
			assert.True(t, result.Retry)
			assert.Equal(t, int64(10), result.Offset, "response must carry the authoritative offset")
		})
	}

	// No mismatched chunk may touch the blob
	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), session.Offset)
	assert.Equal(t, []byte("0123456789"), readBlob(t, blobs, session.StoragePath))
}

func TestSubmitChunk_EndExceedingTotalRejected(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "0123456789")

	// Rejected even when the offset also disagrees: range validation wins
	for _, start := range []int64{10, 99} {
		_, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{
			SessionID: &first.SessionID,
			Range:     &ByteRange{Start: start, End: 100, Total: 100},
			Content:   strings.NewReader("x"),
			Size:      1,
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidRequest))
		assert.Contains(t, err.Error(), "end bytes cannot exceed total bytes")
	}
}

func TestSubmitChunk_UnknownSession(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	unknown := uuid.New()
	_, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{
		SessionID: &unknown,
		Range:     &ByteRange{Start: 0, End: 9, Total: 100},
		Content:   strings.NewReader("0123456789"),
		Size:      10,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestSubmitChunk_MissingPayload(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	_, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{Filename: "lesson.mp4"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidRequest))
	assert.Contains(t, err.Error(), "no file found in request")
}

func TestSubmitChunk_OversizedChunkRejected(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	_, err := service.SubmitChunk(context.Background(), user, &ChunkRequest{
		Filename: "lesson.mp4",
		Content:  bytes.NewReader(make([]byte, 8)),
		Size:     service.config.MaxChunkBytes + 1,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidRequest))
}

func TestSubmitChunk_AnonymousDeniedByDefault(t *testing.T) {
	service, _, _ := setupTestService(t)

	_, err := service.SubmitChunk(context.Background(), nil, &ChunkRequest{
		Filename: "lesson.mp4",
		Content:  strings.NewReader("data"),
		Size:     4,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPermissionDenied))
}

func TestSubmitChunk_AnonymousAllowedWhenConfigured(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormSessionStore(db)
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AllowAnonymous = true
	service := NewService(store, blobs, cfg)

	result, err := service.SubmitChunk(context.Background(), nil, &ChunkRequest{
		Filename: "lesson.mp4",
		Content:  strings.NewReader("data"),
		Size:     4,
	})
	require.NoError(t, err)

	session, err := store.GetByID(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Nil(t, session.UserID)
}

func TestSubmitChunk_OwnerIsolation(t *testing.T) {
	service, store, _ := setupTestService(t)
	owner := createTestUser(t, store)

	other := &types.User{Username: "intruder", Email: "intruder@example.com", Password: "x", IsActive: true}
	require.NoError(t, store.db.Create(other).Error)

	first := submitFirstChunk(t, service, owner, "private data")

	_, err := service.SubmitChunk(context.Background(), other, &ChunkRequest{
		SessionID: &first.SessionID,
		Range:     &ByteRange{Start: first.Offset, End: first.Offset, Total: 100},
		Content:   strings.NewReader("x"),
		Size:      1,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound), "foreign sessions must be indistinguishable from missing ones")
}

func TestSubmitChunk_AnonymousCannotTouchOwnedSession(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormSessionStore(db)
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AllowAnonymous = true
	service := NewService(store, blobs, cfg)

	owner := createTestUser(t, store)
	first := submitFirstChunk(t, service, owner, "private data")

	// An unauthenticated caller holding a session id must not be able to
	// continue or complete someone else's upload.
	_, err = service.SubmitChunk(context.Background(), nil, &ChunkRequest{
		SessionID: &first.SessionID,
		Range:     &ByteRange{Start: first.Offset, End: first.Offset + 9, Total: 100},
		Content:   strings.NewReader("0123456789"),
		Size:      10,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))

	_, err = service.Complete(context.Background(), nil, &CompleteRequest{SessionID: first.SessionID})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))

	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.Offset, session.Offset)
	assert.Equal(t, types.UploadStatusUploading, session.Status)
}

func TestSubmitChunk_ConcurrentSameOffset(t *testing.T) {
	service, store, blobs := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "0123456789")

	const workers = 8
	chunk := "abcdefghij"

	var wg sync.WaitGroup
	results := make([]*ChunkResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.SubmitChunk(context.Background(), user, &ChunkRequest{
				SessionID: &first.SessionID,
				Range:     &ByteRange{Start: 10, End: 19, Total: 100},
				Content:   strings.NewReader(chunk),
				Size:      int64(len(chunk)),
			})
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if !results[i].Retry {
			applied++
			assert.Equal(t, int64(20), results[i].Offset)
		} else {
			assert.Equal(t, int64(20), results[i].Offset)
		}
	}
	assert.Equal(t, 1, applied, "exactly one of the racing chunks may append")

	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), session.Offset)
	assert.Equal(t, []byte("0123456789"+chunk), readBlob(t, blobs, session.StoragePath))
}

func TestComplete_Success(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	content := "the whole file"
	first := submitFirstChunk(t, service, user, content)

	var finalized *types.UploadSession
	service.OnComplete(func(ctx context.Context, session *types.UploadSession) (types.JSONMap, error) {
		finalized = session
		return types.JSONMap{"video_id": "abc"}, nil
	})

	result, err := service.Complete(context.Background(), user, &CompleteRequest{
		SessionID: first.SessionID,
		Checksum:  utils.ComputeSHA256([]byte(content)),
		Metadata:  types.JSONMap{"title": "Lesson 1"},
	})
	require.NoError(t, err)
	require.NoError(t, result.FinalizeErr)
	assert.Equal(t, types.JSONMap{"video_id": "abc"}, result.Data)

	require.NotNil(t, finalized)
	assert.Equal(t, "Lesson 1", finalized.Metadata["title"])

	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusComplete, session.Status)
	assert.NotNil(t, session.CompletedAt)
	assert.Equal(t, "Lesson 1", session.Metadata["title"])
}

func TestComplete_NoChecksumSkipsVerification(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "content")

	result, err := service.Complete(context.Background(), user, &CompleteRequest{SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusComplete, result.Session.Status)
}

func TestComplete_ChecksumMismatch(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "content")

	_, err := service.Complete(context.Background(), user, &CompleteRequest{
		SessionID: first.SessionID,
		Checksum:  utils.ComputeSHA256([]byte("different content")),
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidRequest))
	assert.Contains(t, err.Error(), "checksum does not match")

	// A failed handshake leaves the session resumable
	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusUploading, session.Status)
}

func TestComplete_AlreadyComplete(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "content")

	_, err := service.Complete(context.Background(), user, &CompleteRequest{SessionID: first.SessionID})
	require.NoError(t, err)

	_, err = service.Complete(context.Background(), user, &CompleteRequest{SessionID: first.SessionID})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestComplete_FinalizeFailureDoesNotRollBack(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "content")

	service.OnComplete(func(ctx context.Context, session *types.UploadSession) (types.JSONMap, error) {
		return nil, fmt.Errorf("referenced course does not exist")
	})

	result, err := service.Complete(context.Background(), user, &CompleteRequest{SessionID: first.SessionID})
	require.NoError(t, err)
	require.Error(t, result.FinalizeErr)
	assert.Contains(t, result.FinalizeErr.Error(), "referenced course does not exist")

	session, err := store.GetByID(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusComplete, session.Status)
}

func TestSubmitChunk_RejectedAfterComplete(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "content")
	offset := first.Offset

	_, err := service.Complete(context.Background(), user, &CompleteRequest{SessionID: first.SessionID})
	require.NoError(t, err)

	_, err = service.SubmitChunk(context.Background(), user, &ChunkRequest{
		SessionID: &first.SessionID,
		Range:     &ByteRange{Start: offset, End: offset, Total: 100},
		Content:   strings.NewReader("x"),
		Size:      1,
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestGetStatus(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "0123456789")

	session, err := service.GetStatus(context.Background(), user, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, session.ID)
	assert.Equal(t, int64(10), session.Offset)
	assert.Equal(t, types.UploadStatusUploading, session.Status)

	_, err = service.GetStatus(context.Background(), user, uuid.New())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestGetStatus_TerminalSessionStaysVisible(t *testing.T) {
	service, store, _ := setupTestService(t)
	user := createTestUser(t, store)

	first := submitFirstChunk(t, service, user, "0123456789")

	_, err := service.Complete(context.Background(), user, &CompleteRequest{SessionID: first.SessionID})
	require.NoError(t, err)

	// A client polling after the completion handshake still sees the outcome
	session, err := service.GetStatus(context.Background(), user, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusComplete, session.Status)
	assert.NotNil(t, session.CompletedAt)

	// Ownership still applies to terminal sessions
	other := &types.User{Username: "intruder", Email: "intruder@example.com", Password: "x", IsActive: true}
	require.NoError(t, store.db.Create(other).Error)

	_, err = service.GetStatus(context.Background(), other, first.SessionID)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}
