package courses

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/internal/common"
	"github.com/qazdrive/uploadhub/internal/storage"
	"github.com/qazdrive/uploadhub/pkg/types"
	"github.com/qazdrive/uploadhub/pkg/utils"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service manages the course video catalog. Its VideoFromUpload method is
// the finalize callback registered with the upload engine: it turns the
// raw blob of a completed upload session into a Video catalog entry.
type Service struct {
	db    *common.Database
	blobs storage.BlobStorage
}

// NewService creates a new courses service
func NewService(db *common.Database, blobs storage.BlobStorage) *Service {
	return &Service{
		db:    db,
		blobs: blobs,
	}
}

// CreateCourseRequest carries the fields for a new course
type CreateCourseRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// CreateCourse adds a new course to the catalog
func (s *Service) CreateCourse(ctx context.Context, req *CreateCourseRequest) (*types.Course, error) {
	course := &types.Course{
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.db.WithContext(ctx).Create(course).Error; err != nil {
		return nil, fmt.Errorf("failed to create course: %w", err)
	}
	return course, nil
}

// GetCourse returns the course with the given id
func (s *Service) GetCourse(ctx context.Context, id uuid.UUID) (*types.Course, error) {
	var course types.Course
	if err := s.db.WithContext(ctx).First(&course, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("course not found")
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

// ListCourses returns all courses
func (s *Service) ListCourses(ctx context.Context) ([]types.Course, error) {
	var courses []types.Course
	if err := s.db.WithContext(ctx).Order("created_at").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

// ListVideos returns the videos of a course, optionally filtered by
// language, in lesson order
func (s *Service) ListVideos(ctx context.Context, courseID uuid.UUID, language string) ([]types.Video, error) {
	query := s.db.WithContext(ctx).Where("course_id = ?", courseID)
	if language != "" {
		query = query.Where("language = ?", language)
	}

	var videos []types.Video
	if err := query.Order("sort_order").Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return videos, nil
}

// GetVideo returns the video with the given id
func (s *Service) GetVideo(ctx context.Context, id uuid.UUID) (*types.Video, error) {
	var video types.Video
	if err := s.db.WithContext(ctx).First(&video, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("video not found")
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &video, nil
}

// UpdateProgress records how far a user has watched a video
func (s *Service) UpdateProgress(ctx context.Context, userID, videoID uuid.UUID, position int, completed bool) (*types.UserVideoProgress, error) {
	if _, err := s.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}

	var progress types.UserVideoProgress
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND video_id = ?", userID, videoID).
		First(&progress).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to load progress: %w", err)
		}
		progress = types.UserVideoProgress{
			UserID:  userID,
			VideoID: videoID,
		}
	}

	progress.LastPosition = position
	if completed {
		progress.IsCompleted = true
	}

	if err := s.db.WithContext(ctx).Save(&progress).Error; err != nil {
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}
	return &progress, nil
}

// VideoFromUpload is the upload finalize callback. It reads the pending
// metadata from the completed session, moves the blob to its permanent
// location and creates the Video record.
func (s *Service) VideoFromUpload(ctx context.Context, session *types.UploadSession) (types.JSONMap, error) {
	courseIDRaw, _ := session.Metadata["course_id"].(string)
	title, _ := session.Metadata["title"].(string)
	description, _ := session.Metadata["description"].(string)
	language, _ := session.Metadata["language"].(string)

	if courseIDRaw == "" || title == "" || language == "" {
		return nil, fmt.Errorf("course_id, title and language are required")
	}

	courseID, err := uuid.Parse(courseIDRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid course_id: %w", err)
	}

	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	order := 1
	switch v := session.Metadata["order"].(type) {
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			order = parsed
		}
	case float64:
		order = int(v)
	}

	checksum, err := s.blobChecksum(ctx, session.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded video: %w", err)
	}

	ext := filepath.Ext(utils.SanitizeFilename(session.Filename))
	finalPath := fmt.Sprintf("course_videos/%s_%s_%s%s", course.ID, language, session.ID, ext)

	if err := s.blobs.Rename(ctx, session.StoragePath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move video to permanent location: %w", err)
	}

	video := &types.Video{
		CourseID:    course.ID,
		Title:       title,
		Description: description,
		Language:    language,
		SortOrder:   order,
		StoragePath: finalPath,
		Size:        session.Offset,
		SHA256:      checksum,
	}
	if err := s.db.WithContext(ctx).Create(video).Error; err != nil {
		// The blob already moved; keep it so the video can be re-registered
		return nil, fmt.Errorf("failed to create video record: %w", err)
	}

	log.Info().
		Str("video_id", video.ID.String()).
		Str("course_id", course.ID.String()).
		Str("language", language).
		Int64("size", video.Size).
		Msg("video created from upload")

	return types.JSONMap{"video_id": video.ID.String()}, nil
}

func (s *Service) blobChecksum(ctx context.Context, path string) (string, error) {
	reader, err := s.blobs.Retrieve(ctx, path)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	return utils.ComputeSHA256FromReader(reader)
}
