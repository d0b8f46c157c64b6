package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/internal/storage"
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/qazdrive/uploadhub/pkg/types"
	"github.com/qazdrive/uploadhub/pkg/utils"
	"github.com/rs/zerolog/log"
)

// FinalizeFunc turns a completed upload session into a domain artifact.
// The returned map becomes the completion response body. A finalize
// failure does not roll back the completed session: upload durability is
// decoupled from domain-object creation.
type FinalizeFunc func(ctx context.Context, session *types.UploadSession) (types.JSONMap, error)

// Service is the chunked upload engine: it resolves sessions, applies
// chunks in order, and runs the completion handshake.
type Service struct {
	store    SessionStore
	blobs    storage.BlobStorage
	config   *config.UploadConfig
	locks    *sessionLocks
	finalize FinalizeFunc
}

// NewService creates a new upload service
func NewService(store SessionStore, blobs storage.BlobStorage, cfg *config.UploadConfig) *Service {
	return &Service{
		store:  store,
		blobs:  blobs,
		config: cfg,
		locks:  newSessionLocks(),
	}
}

// OnComplete registers the finalize callback invoked after a successful
// completion handshake
func (s *Service) OnComplete(fn FinalizeFunc) {
	s.finalize = fn
}

// ChunkRequest is one chunk submission
type ChunkRequest struct {
	// SessionID continues an existing upload; nil starts a new one
	SessionID *uuid.UUID
	// Range is the declared byte range; nil on the first chunk
	Range *ByteRange
	// Filename is the client-declared name, kept for display only
	Filename string
	// Content is the raw chunk payload
	Content io.Reader
	// Size is the declared payload length in bytes
	Size int64
}

// ChunkResult is the response to a chunk submission
type ChunkResult struct {
	SessionID uuid.UUID `json:"upload_id"`
	Offset    int64     `json:"offset"`
	ExpiresAt time.Time `json:"expires_at"`
	// Retry is set when the declared start disagreed with the recorded
	// offset; the client should resume from Offset
	Retry bool `json:"retry,omitempty"`
}

// CompleteRequest asks to finalize an upload
type CompleteRequest struct {
	SessionID uuid.UUID
	// Checksum, when set, must match the SHA256 of the stored blob
	Checksum string
	// Metadata carries domain fields through to the finalize callback
	Metadata types.JSONMap
}

// CompleteResult is the outcome of the completion handshake. FinalizeErr
// is set when the upload completed but the finalize callback failed.
type CompleteResult struct {
	Session     *types.UploadSession
	Data        types.JSONMap
	FinalizeErr error
}

// SubmitChunk applies one chunk submission and returns the authoritative
// session state
func (s *Service) SubmitChunk(ctx context.Context, user *types.User, req *ChunkRequest) (*ChunkResult, error) {
	if err := s.checkPermission(user); err != nil {
		return nil, err
	}

	if req.Content == nil {
		return nil, invalidRequest("no file found in request")
	}
	if s.config.MaxChunkBytes > 0 && req.Size > s.config.MaxChunkBytes {
		return nil, invalidRequest(fmt.Sprintf("chunk exceeds maximum size of %s", utils.FormatBytes(s.config.MaxChunkBytes)))
	}

	if req.Range == nil {
		return s.startSession(ctx, user, req)
	}
	return s.continueSession(ctx, user, req)
}

// startSession handles the first chunk of a new upload: it allocates the
// session record and storage locator, then appends the full payload.
func (s *Service) startSession(ctx context.Context, user *types.User, req *ChunkRequest) (*ChunkResult, error) {
	session := &types.UploadSession{
		ID:       uuid.New(),
		Filename: req.Filename,
		Status:   types.UploadStatusUploading,
	}
	if user != nil {
		session.UserID = &user.ID
	}
	session.StoragePath = fmt.Sprintf("chunked_uploads/%s/%s.part",
		time.Now().UTC().Format("2006/01/02"), session.ID)

	if err := s.store.Create(ctx, session); err != nil {
		return nil, storageError("failed to create upload session", err)
	}

	written, err := s.blobs.Append(ctx, session.StoragePath, req.Content)
	if err != nil {
		// Roll back the half-created session so no phantom upload lingers
		s.rollbackSession(ctx, session)
		return nil, storageError("failed to store initial chunk", err)
	}

	if _, err := s.store.AdvanceOffset(ctx, session.ID, 0, written); err != nil {
		s.rollbackSession(ctx, session)
		return nil, storageError("failed to record upload offset", err)
	}

	log.Info().
		Str("upload_id", session.ID.String()).
		Str("filename", session.Filename).
		Int64("offset", written).
		Msg("started upload session")

	return &ChunkResult{
		SessionID: session.ID,
		Offset:    written,
		ExpiresAt: session.ExpiresAt(s.config.SessionTTL),
	}, nil
}

// continueSession applies a chunk with a declared byte range to an
// existing session
func (s *Service) continueSession(ctx context.Context, user *types.User, req *ChunkRequest) (*ChunkResult, error) {
	if req.SessionID == nil {
		return nil, notFound("upload not found")
	}

	// end >= total means the declared range overruns the declared file
	// size, regardless of offset state
	if req.Range.End >= req.Range.Total {
		return nil, invalidRequest("end bytes cannot exceed total bytes")
	}

	release := s.locks.acquire(*req.SessionID)
	defer release()

	session, err := s.store.GetForOwner(ctx, *req.SessionID, ownerID(user))
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("upload not found")
		}
		return nil, storageError("failed to load upload session", err)
	}

	if session.Offset != req.Range.Start {
		// The client's view of progress disagrees with ours: a retried
		// request after a dropped ack, a duplicate send, or a gap. Do
		// not append; report the authoritative offset instead.
		log.Debug().
			Str("upload_id", session.ID.String()).
			Int64("offset", session.Offset).
			Int64("declared_start", req.Range.Start).
			Msg("chunk offset mismatch, instructing client to retry")

		return &ChunkResult{
			SessionID: session.ID,
			Offset:    session.Offset,
			ExpiresAt: session.ExpiresAt(s.config.SessionTTL),
			Retry:     true,
		}, nil
	}

	written, err := s.blobs.Append(ctx, session.StoragePath, req.Content)
	if err != nil {
		s.failSession(ctx, session)
		return nil, storageError("failed to append chunk", err)
	}

	ok, err := s.store.AdvanceOffset(ctx, session.ID, session.Offset, session.Offset+written)
	if err != nil || !ok {
		// The blob now holds bytes the offset does not account for; the
		// session cannot be trusted for resumption anymore
		s.failSession(ctx, session)
		if err == nil {
			err = fmt.Errorf("offset advance matched no row")
		}
		return nil, storageError("failed to record upload offset", err)
	}

	newOffset := session.Offset + written
	log.Debug().
		Str("upload_id", session.ID.String()).
		Int64("chunk_size", written).
		Int64("offset", newOffset).
		Msg("chunk appended")

	return &ChunkResult{
		SessionID: session.ID,
		Offset:    newOffset,
		ExpiresAt: session.ExpiresAt(s.config.SessionTTL),
	}, nil
}

// Complete runs the completion handshake: verifies the optional checksum,
// transitions the session to complete and invokes the finalize callback.
func (s *Service) Complete(ctx context.Context, user *types.User, req *CompleteRequest) (*CompleteResult, error) {
	if err := s.checkPermission(user); err != nil {
		return nil, err
	}

	release := s.locks.acquire(req.SessionID)
	defer release()

	session, err := s.store.GetForOwner(ctx, req.SessionID, ownerID(user))
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("upload not found")
		}
		return nil, storageError("failed to load upload session", err)
	}

	if req.Checksum != "" {
		actual, err := s.blobChecksum(ctx, session.StoragePath)
		if err != nil {
			return nil, storageError("failed to verify upload checksum", err)
		}
		if actual != req.Checksum {
			return nil, invalidRequest("checksum does not match")
		}
	}

	now := time.Now()
	ok, err := s.store.MarkComplete(ctx, session.ID, now, req.Metadata)
	if err != nil {
		return nil, storageError("failed to complete upload session", err)
	}
	if !ok {
		return nil, notFound("upload not found")
	}

	session.Status = types.UploadStatusComplete
	session.CompletedAt = &now
	if req.Metadata != nil {
		session.Metadata = req.Metadata
	}

	log.Info().
		Str("upload_id", session.ID.String()).
		Str("filename", session.Filename).
		Int64("size", session.Offset).
		Msg("upload completed")

	result := &CompleteResult{Session: session}
	if s.finalize != nil {
		data, err := s.finalize(ctx, session)
		if err != nil {
			// The upload itself succeeded; finalize failures are the
			// domain layer's to recover from
			log.Error().
				Err(err).
				Str("upload_id", session.ID.String()).
				Msg("finalize callback failed")
			result.FinalizeErr = err
			return result, nil
		}
		result.Data = data
	}

	return result, nil
}

// GetStatus returns the owned session for a status check. Unlike chunk
// submission it also resolves terminal sessions, so a client can still
// observe the outcome after the completion handshake.
func (s *Service) GetStatus(ctx context.Context, user *types.User, sessionID uuid.UUID) (*types.UploadSession, error) {
	if err := s.checkPermission(user); err != nil {
		return nil, err
	}

	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("upload not found")
		}
		return nil, storageError("failed to load upload session", err)
	}
	if !ownedBy(session, ownerID(user)) {
		return nil, notFound("upload not found")
	}
	return session, nil
}

// SessionTTL exposes the configured session lifetime
func (s *Service) SessionTTL() time.Duration {
	return s.config.SessionTTL
}

func (s *Service) checkPermission(user *types.User) error {
	if user == nil && !s.config.AllowAnonymous {
		return permissionDenied("authentication required to upload files")
	}
	return nil
}

// rollbackSession removes a session record and its blob after a failed
// creation attempt
func (s *Service) rollbackSession(ctx context.Context, session *types.UploadSession) {
	if err := s.store.Delete(ctx, session.ID); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID.String()).Msg("failed to roll back session record")
	}
	if err := s.blobs.Delete(ctx, session.StoragePath); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID.String()).Msg("failed to roll back session blob")
	}
}

// failSession marks an established session failed and discards its blob.
// Failed is terminal: the caller must start a new upload.
func (s *Service) failSession(ctx context.Context, session *types.UploadSession) {
	if _, err := s.store.MarkFailed(ctx, session.ID); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID.String()).Msg("failed to mark session failed")
	}
	if err := s.blobs.Delete(ctx, session.StoragePath); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID.String()).Msg("failed to delete session blob")
	}
}

func (s *Service) blobChecksum(ctx context.Context, path string) (string, error) {
	reader, err := s.blobs.Retrieve(ctx, path)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	return utils.ComputeSHA256FromReader(reader)
}

func ownerID(user *types.User) *uuid.UUID {
	if user == nil {
		return nil
	}
	return &user.ID
}

// ownedBy reports whether the session belongs to the given owner.
// Anonymous sessions belong only to anonymous callers.
func ownedBy(session *types.UploadSession, owner *uuid.UUID) bool {
	if session.UserID == nil || owner == nil {
		return session.UserID == nil && owner == nil
	}
	return *session.UserID == *owner
}
