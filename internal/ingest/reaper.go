package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/store"
)

// reaperStore is the slice of *store.DB the reaper needs.
type reaperStore interface {
	ListActiveSessions(ctx context.Context) ([]store.StaleActiveSession, error)
	GetSensor(ctx context.Context, sensorID string) (*store.Sensor, error)
	GetUser(ctx context.Context, userID string) (*store.User, error)
	CloseSession(ctx context.Context, sessionID string, endAt time.Time) (bool, error)
	InsertMotionEvent(ctx context.Context, e *store.MotionEvent, ttl time.Duration) error
}

// Reaper is C3: the periodic control loop that closes sessions whose
// last motion is older than their sensor's configured inactivity
// timeout. Same ticker shape as Warden, grounded on the teacher's
// Pipeline.maintenanceLoop.
type Reaper struct {
	db         reaperStore
	cache      *TokenCache
	music      musicservice.Client
	tick       time.Duration
	eventTTL   time.Duration
	log        zerolog.Logger
	newEventID func() string
}

func NewReaper(db reaperStore, cache *TokenCache, music musicservice.Client, tick, eventTTL time.Duration, newEventID func() string, log zerolog.Logger) *Reaper {
	return &Reaper{
		db:         db,
		cache:      cache,
		music:      music,
		tick:       tick,
		eventTTL:   eventTTL,
		newEventID: newEventID,
		log:        log.With().Str("component", "timeout_reaper").Logger(),
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runTick(ctx)
		}
	}
}

func (r *Reaper) runTick(ctx context.Context) {
	sessions, err := r.db.ListActiveSessions(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("list active sessions failed")
		return
	}

	now := time.Now()
	for _, s := range sessions {
		r.reapOne(ctx, s, now)
	}
}

func (r *Reaper) reapOne(ctx context.Context, s store.StaleActiveSession, now time.Time) {
	log := r.log.With().Str("session_id", s.SessionID).Str("sensor_id", s.SensorID).Logger()

	sensor, err := r.db.GetSensor(ctx, s.SensorID)
	if err != nil {
		log.Error().Err(err).Msg("load owning sensor failed")
		return
	}
	if now.Sub(s.LastMotionAt) < time.Duration(sensor.InactivityTimeoutSeconds)*time.Second {
		return
	}

	user, err := r.db.GetUser(ctx, s.UserID)
	if err != nil {
		log.Error().Err(err).Msg("load owning user failed")
	} else if user.MusicConnected {
		if tok, err := r.cache.Get(ctx, user); err != nil {
			log.Warn().Err(err).Msg("fetch access token for pause failed, closing session anyway")
		} else if err := r.music.PausePlayback(ctx, tok, sensor.PlaybackTargetID); err != nil {
			log.Warn().Err(err).Msg("pause playback failed, closing session anyway")
		}
	}

	closed, err := r.db.CloseSession(ctx, s.SessionID, now)
	if err != nil {
		log.Error().Err(err).Msg("close session failed")
		return
	}
	if !closed {
		log.Debug().Msg("session already closed by another closer")
		return
	}

	event := &store.MotionEvent{
		EventID:     r.newEventID(),
		SensorID:    s.SensorID,
		UserID:      s.UserID,
		SessionID:   s.SessionID,
		OccurredAt:  now,
		EventType:   store.EventDetected,
		ActionTaken: "session-closed",
	}
	if err := r.db.InsertMotionEvent(ctx, event, r.eventTTL); err != nil {
		log.Error().Err(err).Msg("insert session-closed audit event failed")
	}
	metrics.SessionsReapedTotal.Inc()
	log.Info().Msg("session closed on inactivity timeout")
}
