package ingest

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/config"
	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/mqttclient"
	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/secrets"
	"github.com/snarg/motion-engine/internal/store"
)

// Engine is the top-level wiring for C1 through C4: it owns the
// Orchestrator, Reaper, and Warden, dispatches inbound MQTT messages to
// them, and reports the live gauges the HTTP layer's Collector scrapes.
// Shaped after the teacher's Pipeline, which plays the same role wiring
// its handler table to a *mqttclient.Client.
type Engine struct {
	db           *store.DB
	mqtt         *mqttclient.Client
	orchestrator *Orchestrator
	reaper       *Reaper
	warden       *Warden
	log          zerolog.Logger

	activeSessions int64 // atomic, refreshed by pollActiveSessions every 15s
	connectedUsers int64 // atomic, refreshed by pollActiveSessions every 15s
}

// Options bundles everything Engine needs to construct its components.
type Options struct {
	DB          *store.DB
	MQTT        *mqttclient.Client
	Music       musicservice.Client
	SecretStore secrets.Store
	Config      *config.Config
	Log         zerolog.Logger
}

func NewEngine(opts Options) *Engine {
	cache := NewTokenCache(opts.SecretStore, opts.Music, opts.Log)

	orchestrator := NewOrchestrator(opts.DB, cache, opts.Music, opts.Config.SessionTTL, opts.Config.MotionEventTTL, opts.Log)
	reaper := NewReaper(opts.DB, cache, opts.Music, opts.Config.ReaperTickInterval, opts.Config.MotionEventTTL, newEventID, opts.Log)
	warden := NewWarden(opts.DB, opts.SecretStore, opts.Music, cache, opts.Config.WardenTickInterval, opts.Config.WardenLeaseTTL, opts.Log)

	return &Engine{
		db:           opts.DB,
		mqtt:         opts.MQTT,
		orchestrator: orchestrator,
		reaper:       reaper,
		warden:       warden,
		log:          opts.Log.With().Str("component", "engine").Logger(),
	}
}

func newEventID() string {
	return uuid.NewString()
}

// Start wires the MQTT message handler and launches the reaper and
// warden control loops. It returns immediately; both loops run until ctx
// is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.mqtt.SetMessageHandler(e.HandleMessage)

	go e.reaper.Run(ctx)
	go e.warden.Run(ctx)
	go e.pollActiveSessions(ctx)
}

// pollActiveSessions periodically refreshes the ActiveSessionCount gauge
// from storage, since sessions are opened/closed by the orchestrator and
// reaper rather than tracked in one place in memory.
func (e *Engine) pollActiveSessions(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	e.refreshGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshGauges(ctx)
		}
	}
}

func (e *Engine) refreshGauges(ctx context.Context) {
	if sessions, err := e.db.ListActiveSessions(ctx); err == nil {
		atomic.StoreInt64(&e.activeSessions, int64(len(sessions)))
	}
	if users, err := e.db.ListMusicConnectedUsers(ctx); err == nil {
		atomic.StoreInt64(&e.connectedUsers, int64(len(users)))
	}
}

// ActiveSessionCount implements metrics.EngineStats.
func (e *Engine) ActiveSessionCount() int {
	return int(atomic.LoadInt64(&e.activeSessions))
}

// ConnectedMusicUserCount implements metrics.EngineStats.
func (e *Engine) ConnectedMusicUserCount() int {
	return int(atomic.LoadInt64(&e.connectedUsers))
}

// HandleMessage is the mqttclient.MessageHandler wired in Start. It
// parses the topic, decodes the payload, and dispatches motion events to
// the orchestrator; status and registration payloads are logged but
// otherwise dropped (spec §4.1: "registration payloads are recorded and
// surfaced but do not by themselves create sensors").
func (e *Engine) HandleMessage(topic string, payload []byte) {
	route := ParseTopic(topic)
	if route == nil {
		e.log.Warn().Str("topic", topic).Msg("ignoring message on unrecognized topic")
		return
	}

	metrics.MQTTMessagesTotal.WithLabelValues(route.Kind).Inc()

	p, err := DecodePayload(route.Kind, payload)
	if err != nil {
		e.log.Warn().Err(err).Str("topic", topic).Str("sensor_id", route.SensorID).Msg("failed to decode device payload")
		return
	}

	if p.SensorID != "" && p.SensorID != route.SensorID {
		e.log.Warn().Str("topic_sensor_id", route.SensorID).Str("payload_sensor_id", p.SensorID).
			Msg("payload sensorId disagrees with topic, dropping message")
		return
	}
	p.SensorID = route.SensorID

	switch p.Type {
	case EventMotionDetected:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.orchestrator.HandleMotion(ctx, p); err != nil {
			e.log.Error().Err(err).Str("sensor_id", p.SensorID).Msg("motion handling failed")
		}
	case EventStatusReport:
		e.log.Info().Str("sensor_id", p.SensorID).Str("status", p.Status).Msg("sensor status report")
	case EventRegistration:
		e.log.Info().Str("sensor_id", p.SensorID).
			Str("raw", base64.StdEncoding.EncodeToString(p.RawRegistration)).
			Msg("sensor registration payload received")
	default:
		e.log.Warn().Str("sensor_id", p.SensorID).Msg("unrecognized payload type")
	}
}

// retentionLoop periodically purges expired sessions and motion events.
// Grounded on the teacher's Pipeline.maintenanceLoop ticker shape, reused
// here for the separate retention tick the spec calls out (§4.6) rather
// than folded into the reaper's own tick.
func (e *Engine) retentionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runRetention(ctx)
		}
	}
}

func (e *Engine) runRetention(ctx context.Context) {
	if n, err := e.db.PurgeExpiredSessions(ctx); err != nil {
		e.log.Warn().Err(err).Msg("purge expired sessions failed")
	} else if n > 0 {
		e.log.Info().Int64("count", n).Msg("purged expired sessions")
	}
	if n, err := e.db.PurgeExpiredMotionEvents(ctx); err != nil {
		e.log.Warn().Err(err).Msg("purge expired motion events failed")
	} else if n > 0 {
		e.log.Info().Int64("count", n).Msg("purged expired motion events")
	}
}

// StartRetention launches the retention loop at the configured interval.
func (e *Engine) StartRetention(ctx context.Context, interval time.Duration) {
	go e.retentionLoop(ctx, interval)
}
