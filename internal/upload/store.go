package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/internal/common"
	"github.com/qazdrive/uploadhub/pkg/types"
	"gorm.io/gorm"
)

// SessionStore persists and retrieves chunked upload session records
type SessionStore interface {
	// Create inserts a new session record
	Create(ctx context.Context, session *types.UploadSession) error

	// GetForOwner returns the non-terminal session with the given id,
	// restricted to the owner. A nil owner matches only anonymous
	// sessions. Returns gorm.ErrRecordNotFound when no matching
	// session exists.
	GetForOwner(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*types.UploadSession, error)

	// GetByID returns the session regardless of owner or status
	GetByID(ctx context.Context, id uuid.UUID) (*types.UploadSession, error)

	// AdvanceOffset moves the offset from 'from' to 'to' only if the
	// stored offset still equals 'from' and the session is still
	// uploading. Returns false when the conditional write matched no row.
	AdvanceOffset(ctx context.Context, id uuid.UUID, from, to int64) (bool, error)

	// MarkComplete transitions an uploading session to complete, setting
	// completed_at and the pending metadata. Returns false if the session
	// was not in the uploading state.
	MarkComplete(ctx context.Context, id uuid.UUID, completedAt time.Time, metadata types.JSONMap) (bool, error)

	// MarkFailed transitions an uploading session to failed
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)

	// Delete removes the session record
	Delete(ctx context.Context, id uuid.UUID) error

	// ListExpired returns uploading sessions created before the cutoff
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]types.UploadSession, error)
}

// GormSessionStore implements SessionStore on the relational database
type GormSessionStore struct {
	db *common.Database
}

// NewGormSessionStore creates a session store backed by the given database
func NewGormSessionStore(db *common.Database) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// Create inserts a new session record
func (s *GormSessionStore) Create(ctx context.Context, session *types.UploadSession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// GetForOwner returns the owned, non-terminal session with the given id
func (s *GormSessionStore) GetForOwner(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*types.UploadSession, error) {
	query := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, types.UploadStatusUploading)
	if owner != nil {
		query = query.Where("user_id = ?", *owner)
	} else {
		query = query.Where("user_id IS NULL")
	}

	var session types.UploadSession
	if err := query.First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// GetByID returns the session regardless of owner or status
func (s *GormSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*types.UploadSession, error) {
	var session types.UploadSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// AdvanceOffset performs a compare-and-swap on the session offset
func (s *GormSessionStore) AdvanceOffset(ctx context.Context, id uuid.UUID, from, to int64) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&types.UploadSession{}).
		Where(`id = ? AND "offset" = ? AND status = ?`, id, from, types.UploadStatusUploading).
		Update("offset", to)

	if result.Error != nil {
		return false, fmt.Errorf("failed to advance offset: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkComplete transitions an uploading session to complete
func (s *GormSessionStore) MarkComplete(ctx context.Context, id uuid.UUID, completedAt time.Time, metadata types.JSONMap) (bool, error) {
	updates := map[string]interface{}{
		"status":       types.UploadStatusComplete,
		"completed_at": completedAt,
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}

	result := s.db.WithContext(ctx).
		Model(&types.UploadSession{}).
		Where("id = ? AND status = ?", id, types.UploadStatusUploading).
		Updates(updates)

	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session complete: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed transitions an uploading session to failed
func (s *GormSessionStore) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&types.UploadSession{}).
		Where("id = ? AND status = ?", id, types.UploadStatusUploading).
		Update("status", types.UploadStatusFailed)

	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Delete removes the session record
func (s *GormSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&types.UploadSession{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	return nil
}

// ListExpired returns uploading sessions created before the cutoff
func (s *GormSessionStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]types.UploadSession, error) {
	var sessions []types.UploadSession
	query := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", types.UploadStatusUploading, cutoff).
		Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return sessions, nil
}

// isNotFound reports whether the store error means no matching record
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
