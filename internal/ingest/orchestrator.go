package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/errs"
	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/store"
)

// orchestratorStore is the slice of *store.DB the orchestrator needs.
type orchestratorStore interface {
	GetSensor(ctx context.Context, sensorID string) (*store.Sensor, error)
	GetUser(ctx context.Context, userID string) (*store.User, error)
	OpenOrAdoptSession(ctx context.Context, candidate *store.Session, ttl time.Duration) (*store.Session, bool, error)
	ExtendSession(ctx context.Context, sessionID string, occurredAt time.Time) (bool, error)
	MarkPlaybackStarted(ctx context.Context, sessionID string) error
	UpdateSensorLastMotion(ctx context.Context, sensorID string, at time.Time) error
	InsertMotionEvent(ctx context.Context, e *store.MotionEvent, ttl time.Duration) error
}

// Orchestrator is C2: the per-event motion-to-playback state machine
// (spec §4.2).
type Orchestrator struct {
	db         orchestratorStore
	cache      *TokenCache
	music      musicservice.Client
	sessionTTL time.Duration
	eventTTL   time.Duration
	log        zerolog.Logger
}

func NewOrchestrator(db orchestratorStore, cache *TokenCache, music musicservice.Client, sessionTTL, eventTTL time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		db:         db,
		cache:      cache,
		music:      music,
		sessionTTL: sessionTTL,
		eventTTL:   eventTTL,
		log:        log.With().Str("component", "motion_orchestrator").Logger(),
	}
}

// HandleMotion runs the full admission-to-playback pipeline for one
// decoded motion_detected payload.
func (o *Orchestrator) HandleMotion(ctx context.Context, p Payload) error {
	log := o.log.With().Str("sensor_id", p.SensorID).Logger()

	sensor, err := o.db.GetSensor(ctx, p.SensorID)
	if err != nil {
		if store.IsNoRows(err) {
			return errs.Wrap(errs.NotFound, "sensor not found", err)
		}
		return err
	}
	user, err := o.db.GetUser(ctx, sensor.UserID)
	if err != nil {
		if store.IsNoRows(err) {
			return errs.Wrap(errs.NotFound, "user not found", err)
		}
		return err
	}

	// Admission checks, each short-circuiting with a distinct audit tag.
	if !sensor.Enabled {
		return o.suppress(ctx, sensor, p, store.EventDisabledSuppressed, "disabled-suppressed")
	}

	inQuiet, err := InQuietHours(sensor.QuietHours, p.OccurredAt)
	if err != nil {
		log.Warn().Err(err).Msg("quiet hours check failed, treating as not suppressed")
	} else if inQuiet {
		return o.suppress(ctx, sensor, p, store.EventQuietHoursSuppressed, "quiet-hours-suppressed")
	}

	if sensor.LastMotionAt != nil {
		debounce := time.Duration(sensor.MotionDebounceSeconds) * time.Second
		if p.OccurredAt.Sub(*sensor.LastMotionAt) < debounce {
			return o.suppress(ctx, sensor, p, store.EventDebounced, "debounced")
		}
	}

	session, created, err := o.resolveSession(ctx, sensor, p.OccurredAt)
	if err != nil {
		return err
	}

	if !created {
		if _, err := o.db.ExtendSession(ctx, session.SessionID, p.OccurredAt); err != nil {
			log.Error().Err(err).Msg("extend session failed")
		}
	}

	o.issuePlaybackCommand(ctx, sensor, user, session, created)

	lastMotion := p.OccurredAt
	if sensor.LastMotionAt != nil && sensor.LastMotionAt.After(lastMotion) {
		lastMotion = *sensor.LastMotionAt
	}
	if err := o.db.UpdateSensorLastMotion(ctx, sensor.SensorID, lastMotion); err != nil {
		log.Error().Err(err).Msg("update sensor last motion failed")
	}

	actionTaken := "session-extended"
	if created {
		actionTaken = "session-opened"
	}
	return o.audit(ctx, sensor, user, session.SessionID, p, store.EventDetected, actionTaken)
}

func (o *Orchestrator) resolveSession(ctx context.Context, sensor *store.Sensor, occurredAt time.Time) (*store.Session, bool, error) {
	candidate := &store.Session{
		SessionID:       newSessionID(sensor.SensorID, occurredAt),
		SensorID:        sensor.SensorID,
		UserID:          sensor.UserID,
		StartAt:         occurredAt,
		LastMotionAt:    occurredAt,
		MotionCount:     1,
		PlaybackStarted: false,
	}
	return o.db.OpenOrAdoptSession(ctx, candidate, o.sessionTTL)
}

func (o *Orchestrator) issuePlaybackCommand(ctx context.Context, sensor *store.Sensor, user *store.User, session *store.Session, created bool) {
	log := o.log.With().Str("sensor_id", sensor.SensorID).Str("session_id", session.SessionID).Logger()

	if !user.MusicConnected {
		log.Debug().Msg("user has no connected music service, skipping playback command")
		return
	}

	tok, err := o.cache.Get(ctx, user)
	if err != nil {
		log.Warn().Err(err).Msg("fetch access token failed, motion still recorded")
		return
	}

	state, err := o.music.GetPlaybackState(ctx, tok, sensor.PlaybackTargetID)
	if err != nil {
		log.Warn().Err(err).Msg("query playback state failed")
		return
	}
	alreadyActive := state.IsPlaying && state.DeviceID == sensor.PlaybackTargetID &&
		state.ContextRef == sensor.PlaybackContextRef && session.PlaybackStarted
	if alreadyActive {
		metrics.PlaybackCommandsTotal.WithLabelValues("already_active").Inc()
		return
	}

	if err := o.music.StartPlayback(ctx, tok, sensor.PlaybackTargetID, sensor.PlaybackContextRef); err != nil {
		log.Warn().Err(err).Msg("start playback failed, motion still recorded")
		metrics.PlaybackCommandsTotal.WithLabelValues("failed").Inc()
		return
	}
	if err := o.db.MarkPlaybackStarted(ctx, session.SessionID); err != nil {
		log.Error().Err(err).Msg("mark playback started failed")
	}
	metrics.PlaybackCommandsTotal.WithLabelValues("started").Inc()
}

func (o *Orchestrator) suppress(ctx context.Context, sensor *store.Sensor, p Payload, eventType store.MotionEventType, actionTaken string) error {
	return o.audit(ctx, sensor, nil, "", p, eventType, actionTaken)
}

func (o *Orchestrator) audit(ctx context.Context, sensor *store.Sensor, user *store.User, sessionID string, p Payload, eventType store.MotionEventType, actionTaken string) error {
	userID := sensor.UserID
	if user != nil {
		userID = user.UserID
	}
	metadata, _ := json.Marshal(p.Metadata)
	event := &store.MotionEvent{
		EventID:     uuid.NewString(),
		SensorID:    sensor.SensorID,
		UserID:      userID,
		SessionID:   sessionID,
		OccurredAt:  p.OccurredAt,
		EventType:   eventType,
		ActionTaken: actionTaken,
		Metadata:    metadata,
	}
	metrics.MotionEventsTotal.WithLabelValues(string(eventType)).Inc()
	return o.db.InsertMotionEvent(ctx, event, o.eventTTL)
}

func newSessionID(sensorID string, startAt time.Time) string {
	return sensorID + "-" + startAt.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()
}
