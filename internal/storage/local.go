package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage for the local filesystem
type LocalStorage struct {
	basePath string
	mutex    sync.RWMutex // For concurrent access safety
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Store saves content to the local filesystem with atomic writes and integrity checks
func (ls *LocalStorage) Store(ctx context.Context, path string, content io.Reader, contentType string) error {
	startTime := time.Now()

	// Check if context is cancelled before starting
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := filepath.Join(ls.basePath, path)

	// Ensure the directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Str("dir", dir).Msg("failed to create directory")
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temporary file for atomic write
	tempPath := fullPath + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("path", path).Str("temp_path", tempPath).Msg("failed to create temporary file")
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	// Ensure cleanup of temp file on failure
	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	// Create hash writer for integrity verification
	hasher := sha256.New()
	multiWriter := io.MultiWriter(tempFile, hasher)

	// Copy content to temp file while calculating checksum
	bytesWritten, err := io.Copy(multiWriter, content)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write content to temporary file")
		return fmt.Errorf("failed to write content: %w", err)
	}

	// Ensure data is flushed to disk
	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync temporary file")
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	tempFile.Close()

	// Atomic move from temp to final location
	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("path", path).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	duration := time.Since(startTime)

	log.Info().
		Str("path", path).
		Str("content_type", contentType).
		Int64("bytes_written", bytesWritten).
		Str("checksum", checksum).
		Dur("duration", duration).
		Msg("file stored successfully")

	return nil
}

// Append writes content to the end of the file at path, creating it if
// needed. The file is fsynced before returning so the reported byte count
// is durable.
func (ls *LocalStorage) Append(ctx context.Context, path string, content io.Reader) (int64, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := filepath.Join(ls.basePath, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Str("dir", dir).Msg("failed to create directory")
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open file for append")
		return 0, fmt.Errorf("failed to open file for append: %w", err)
	}
	defer file.Close()

	bytesWritten, err := io.Copy(file, content)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to append content")
		return bytesWritten, fmt.Errorf("failed to append content: %w", err)
	}

	if err := file.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync file after append")
		return bytesWritten, fmt.Errorf("failed to sync file: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int64("bytes_written", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("chunk appended")

	return bytesWritten, nil
}

// Retrieve gets content from the local filesystem with concurrent access safety
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file not found")
			return nil, fmt.Errorf("file not found: %s", path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Rename atomically moves a blob to a new path, creating parent directories
func (ls *LocalStorage) Rename(ctx context.Context, oldPath, newPath string) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	oldFull := filepath.Join(ls.basePath, oldPath)
	newFull := filepath.Join(ls.basePath, newPath)

	if err := os.MkdirAll(filepath.Dir(newFull), 0755); err != nil {
		log.Error().Err(err).Str("path", newPath).Msg("failed to create directory")
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.Rename(oldFull, newFull); err != nil {
		log.Error().Err(err).Str("old_path", oldPath).Str("new_path", newPath).Msg("failed to rename file")
		return fmt.Errorf("failed to rename file: %w", err)
	}

	log.Info().Str("old_path", oldPath).Str("new_path", newPath).Msg("file renamed")
	return nil
}

// Delete removes content from the local filesystem with concurrent access safety
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file already deleted or does not exist")
			return nil // Already deleted
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Info().Str("path", path).Msg("file deleted successfully")
	return nil
}

// Exists checks if content exists in the local filesystem with concurrent access safety
func (ls *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to check file existence")
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// GetSize returns the size of content in the local filesystem with concurrent access safety
func (ls *LocalStorage) GetSize(ctx context.Context, path string) (int64, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file not found when getting size")
			return 0, fmt.Errorf("file not found: %s", path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to get file info")
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	return info.Size(), nil
}

// List returns the relative paths of all files under the given prefix
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	searchPath := filepath.Join(ls.basePath, prefix)

	var paths []string
	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				log.Debug().Err(err).Str("path", path).Msg("skipping inaccessible path")
				return filepath.SkipDir
			}
			return err
		}

		if !info.IsDir() {
			relPath, err := filepath.Rel(ls.basePath, path)
			if err != nil {
				return err
			}
			paths = append(paths, relPath)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("failed to list files")
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return paths, nil
}
