package upload

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/internal/common"
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/qazdrive/uploadhub/pkg/types"
	"github.com/rs/zerolog/log"
)

const sweepLockKey = "upload:sweep"

// Sweeper removes expired upload sessions and their blobs. It is safe to
// run concurrently with active ingestion: every candidate is re-checked
// under the session lock before deletion, and a grace window keeps a
// session that just received a chunk out of reach.
type Sweeper struct {
	service *Service
	cache   *common.Cache
	config  *config.UploadConfig
}

// NewSweeper creates a sweeper over the given upload service. The cache
// is optional; when present it keeps multiple instances from sweeping at
// the same time.
func NewSweeper(service *Service, cache *common.Cache, cfg *config.UploadConfig) *Sweeper {
	return &Sweeper{
		service: service,
		cache:   cache,
		config:  cfg,
	}
}

// Run sweeps on the configured interval until the context is cancelled
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.config.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", sw.config.SweepInterval).
		Dur("session_ttl", sw.config.SessionTTL).
		Msg("upload session sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("upload session sweeper stopped")
			return
		case <-ticker.C:
			if removed, err := sw.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("upload session sweep failed")
			} else if removed > 0 {
				log.Info().Int("count", removed).Msg("cleaned up expired upload sessions")
			}
		}
	}
}

// SweepOnce deletes all currently expired sessions and returns how many
// were removed
func (sw *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if sw.cache != nil {
		acquired, err := sw.cache.AcquireLock(ctx, sweepLockKey, sw.config.SweepInterval)
		if err != nil {
			return 0, err
		}
		if !acquired {
			log.Debug().Msg("another sweeper holds the lock, skipping")
			return 0, nil
		}
		defer sw.cache.ReleaseLock(ctx, sweepLockKey)
	}

	cutoff := time.Now().Add(-sw.config.SessionTTL)
	expired, err := sw.service.store.ListExpired(ctx, cutoff, 0)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range expired {
		if sw.sweepSession(ctx, expired[i].ID, cutoff) {
			removed++
		}
	}
	return removed, nil
}

// sweepSession deletes one expired session after re-checking it under the
// session lock
func (sw *Sweeper) sweepSession(ctx context.Context, id uuid.UUID, cutoff time.Time) bool {
	release := sw.service.locks.acquire(id)
	defer release()

	// Re-read: the session may have completed, failed, or received a
	// chunk since the sweep decision
	session, err := sw.service.store.GetByID(ctx, id)
	if err != nil {
		return false
	}
	if session.Status != types.UploadStatusUploading {
		return false
	}
	if !session.CreatedAt.Before(cutoff) {
		return false
	}
	if time.Since(session.UpdatedAt) < sw.config.SweepGrace {
		// A chunk landed since the sweep decision; leave it alone
		return false
	}

	if err := sw.service.store.Delete(ctx, session.ID); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID.String()).Msg("failed to delete expired session")
		return false
	}
	if err := sw.service.blobs.Delete(ctx, session.StoragePath); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID.String()).Msg("failed to delete expired session blob")
	}

	log.Info().
		Str("upload_id", session.ID.String()).
		Str("filename", session.Filename).
		Time("created_at", session.CreatedAt).
		Msg("removed expired upload session")
	return true
}
