package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/errs"
	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/retry"
	"github.com/snarg/motion-engine/internal/secrets"
	"github.com/snarg/motion-engine/internal/store"
)

const refreshSafetyMargin = 300 * time.Second

// wardenStore is the slice of *store.DB the warden needs.
type wardenStore interface {
	ListMusicConnectedUsers(ctx context.Context) ([]store.User, error)
	AcquireRefreshLease(ctx context.Context, userID, leaseID string, ttl time.Duration) (bool, error)
	ReleaseRefreshLease(ctx context.Context, userID, leaseID string) error
	SetMusicConnected(ctx context.Context, userID string, connected bool) error
}

// Warden is C4: the periodic control loop that keeps every connected
// user's third-party access token fresh under at-most-one-writer
// concurrency. Shaped like the teacher's Pipeline.maintenanceLoop
// (ticker + ctx.Done select), generalized to per-user fan-out with
// isolated failure handling (spec §4.4 "a failure for user A must not
// affect processing of user B").
type Warden struct {
	db       wardenStore
	secrets  secrets.Store
	music    musicservice.Client
	cache    *TokenCache
	tick     time.Duration
	leaseTTL time.Duration
	log      zerolog.Logger
}

func NewWarden(db wardenStore, secretStore secrets.Store, music musicservice.Client, cache *TokenCache, tick, leaseTTL time.Duration, log zerolog.Logger) *Warden {
	return &Warden{
		db:       db,
		secrets:  secretStore,
		music:    music,
		cache:    cache,
		tick:     tick,
		leaseTTL: leaseTTL,
		log:      log.With().Str("component", "token_warden").Logger(),
	}
}

// Run blocks, ticking every w.tick until ctx is cancelled.
func (w *Warden) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

func (w *Warden) runTick(ctx context.Context) {
	users, err := w.db.ListMusicConnectedUsers(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("list music-connected users failed")
		return
	}

	for _, u := range users {
		w.refreshOne(ctx, u)
	}
}

func (w *Warden) refreshOne(ctx context.Context, user store.User) {
	log := w.log.With().Str("user_id", user.UserID).Logger()

	leaseID := uuid.NewString()
	acquired, err := w.db.AcquireRefreshLease(ctx, user.UserID, leaseID, w.leaseTTL)
	if err != nil {
		log.Error().Err(err).Msg("acquire refresh lease failed")
		return
	}
	if !acquired {
		log.Debug().Msg("refresh lease held elsewhere, skipping this tick")
		return
	}
	defer func() {
		if err := w.db.ReleaseRefreshLease(ctx, user.UserID, leaseID); err != nil {
			log.Warn().Err(err).Msg("release refresh lease failed")
		}
	}()

	cred, err := w.secrets.Get(ctx, user.TokenRef)
	if err != nil {
		log.Error().Err(err).Msg("load credential material failed")
		return
	}

	if time.Until(cred.ExpiresAt) > refreshSafetyMargin {
		log.Debug().Msg("token not yet due for refresh, skipping")
		return
	}

	var result musicservice.RefreshResult
	refreshErr := retry.Do(ctx, retry.Defaults(), func(attempt int) (bool, error) {
		var err error
		result, err = w.music.RefreshAccessToken(ctx, cred.RefreshToken)
		if err == nil {
			return false, nil
		}
		if musicservice.IsInvalidGrant(err) {
			return false, err
		}
		return errs.Is(err, errs.Transient) || errs.Is(err, errs.RateLimited), err
	})

	if refreshErr != nil {
		if musicservice.IsInvalidGrant(refreshErr) {
			log.Warn().Msg("refresh token revoked, disabling music connection")
			if err := w.db.SetMusicConnected(ctx, user.UserID, false); err != nil {
				log.Error().Err(err).Msg("disable music connection failed")
			}
			w.cache.Invalidate(user.UserID)
			metrics.TokenRefreshesTotal.WithLabelValues("revoked").Inc()
			return
		}
		log.Warn().Err(refreshErr).Msg("token refresh failed, will retry next tick")
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return
	}

	newCred := secrets.Credential{
		RefreshToken: cred.RefreshToken,
		AccessToken:  result.AccessToken,
		ExpiresAt:    result.ExpiresAt,
	}
	if result.RefreshToken != "" {
		newCred.RefreshToken = result.RefreshToken
	}
	if err := w.secrets.Put(ctx, user.TokenRef, newCred); err != nil {
		log.Error().Err(err).Msg("persist refreshed credential failed")
		return
	}
	w.cache.Invalidate(user.UserID)
	metrics.TokenRefreshesTotal.WithLabelValues("refreshed").Inc()
	log.Info().Time("expires_at", newCred.ExpiresAt).Msg("access token refreshed")
}
