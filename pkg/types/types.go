package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// User represents a user in the system
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"not null"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	IsAdmin   bool      `json:"is_admin" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the user ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// APIKey represents an API key for programmatic access
type APIKey struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID      uuid.UUID  `json:"user_id" gorm:"not null"`
	Name        string     `json:"name" gorm:"not null"`
	KeyHash     string     `json:"-" gorm:"not null"`
	Permissions []string   `json:"permissions" gorm:"serializer:json"`
	ExpiresAt   *time.Time `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	IsActive    bool       `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	User        User       `json:"user" gorm:"foreignKey:UserID"`
}

// BeforeCreate generates a UUID for the API key ID
func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// UploadStatus enumerates the lifecycle states of an upload session.
// Transitions are forward-only: uploading -> complete or uploading -> failed.
type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusComplete  UploadStatus = "complete"
	UploadStatusFailed    UploadStatus = "failed"
)

// Terminal reports whether the status allows no further transitions
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusComplete || s == UploadStatusFailed
}

// UploadSession tracks one in-progress (or terminal) resumable upload.
// Offset is the single source of truth for resumption: it always equals
// the byte length of the blob at StoragePath after any committed operation.
type UploadSession struct {
	ID          uuid.UUID    `json:"upload_id" gorm:"primaryKey"`
	UserID      *uuid.UUID   `json:"user_id" gorm:"index"`
	Filename    string       `json:"filename" gorm:"not null"`
	StoragePath string       `json:"-" gorm:"not null"`
	Offset      int64        `json:"offset" gorm:"not null;default:0"`
	Status      UploadStatus `json:"status" gorm:"not null;default:uploading;index"`
	Metadata    JSONMap      `json:"metadata" gorm:"serializer:json"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at"`
}

// BeforeCreate generates a UUID for the session ID
func (u *UploadSession) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// ExpiresAt returns the time at which an incomplete session becomes
// eligible for cleanup
func (u *UploadSession) ExpiresAt(ttl time.Duration) time.Time {
	return u.CreatedAt.Add(ttl)
}

// Expired reports whether the session has outlived the given TTL
func (u *UploadSession) Expired(ttl time.Duration) bool {
	return time.Now().After(u.ExpiresAt(ttl))
}

// Course groups a set of instructional videos
type Course struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the course ID
func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Video is the domain artifact created from a completed upload
type Video struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	CourseID    uuid.UUID `json:"course_id" gorm:"not null;index"`
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description"`
	Language    string    `json:"language" gorm:"not null"`
	SortOrder   int       `json:"order" gorm:"not null;default:1"`
	StoragePath string    `json:"-" gorm:"not null"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Course      Course    `json:"-" gorm:"foreignKey:CourseID"`
}

// BeforeCreate generates a UUID for the video ID
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// UserVideoProgress records how far a user has watched a video
type UserVideoProgress struct {
	ID           uuid.UUID `json:"id" gorm:"primaryKey"`
	UserID       uuid.UUID `json:"user_id" gorm:"not null;uniqueIndex:idx_user_video"`
	VideoID      uuid.UUID `json:"video_id" gorm:"not null;uniqueIndex:idx_user_video"`
	LastPosition int       `json:"last_position" gorm:"not null;default:0"`
	IsCompleted  bool      `json:"is_completed" gorm:"default:false"`
	WatchedAt    time.Time `json:"watched_at" gorm:"autoUpdateTime"`
}

// BeforeCreate generates a UUID for the progress record ID
func (p *UserVideoProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// AuthToken represents a JWT token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
