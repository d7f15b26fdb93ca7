// Package provision implements C5, the Device Provisioner: the
// transactional workflow that turns a registration request into a fully
// wired sensor — a Postgres row, a broker identity, a minted client
// certificate, and a topic-scoped authorization policy — and its
// inverse, deprovisioning. Modeled on the teacher's layered-dependency
// components (internal/ingest/identity.go resolves identity against a
// cache-then-store backend); here the "store" is the MQTT broker's ACL
// registry rather than Postgres, and writes are compensated rather than
// cached.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/broker"
	"github.com/snarg/motion-engine/internal/errs"
	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/sensordefaults"
	"github.com/snarg/motion-engine/internal/store"
)

const defaultPolicyName = "default-sensor-policy"

// sensorStore is the slice of *store.DB the provisioner needs, narrowed
// to an interface so Provision's compensation logic can be exercised
// without a live Postgres connection.
type sensorStore interface {
	SensorExists(ctx context.Context, sensorID string) (bool, error)
	InsertSensor(ctx context.Context, s *store.Sensor) error
	DeleteSensor(ctx context.Context, sensorID string) error
}

// Request is the inbound registration payload (spec §4.5 step 1).
type Request struct {
	SensorID                 string
	UserID                   string
	MotionDebounceSeconds    int
	InactivityTimeoutSeconds int
	QuietHours               *store.QuietHours
	PlaybackTargetID         string
	PlaybackContextRef       string
}

// Result is returned to the caller (registration handler or CLI) on a
// successful provision.
type Result struct {
	SensorID    string
	ThingHandle string
	CertPEM     []byte
	PrivateKey  []byte
	NotAfter    time.Time
}

type Provisioner struct {
	db       sensorStore
	registry *broker.Registry
	defaults *sensordefaults.Watcher
	certTTL  time.Duration
	log      zerolog.Logger
}

// New builds a Provisioner. defaults may be nil, in which case a request's
// zero-valued fields are persisted as-is.
func New(db *store.DB, registry *broker.Registry, defaults *sensordefaults.Watcher, certTTL time.Duration, log zerolog.Logger) *Provisioner {
	return &Provisioner{db: db, registry: registry, defaults: defaults, certTTL: certTTL, log: log.With().Str("component", "provisioner").Logger()}
}

// applyDefaults fills in any zero-valued request field from the hot-reloaded
// sensor-defaults file, leaving caller-supplied values untouched.
func (p *Provisioner) applyDefaults(req Request) Request {
	if p.defaults == nil {
		return req
	}
	d := p.defaults.Get()
	if req.MotionDebounceSeconds == 0 {
		req.MotionDebounceSeconds = d.MotionDebounceSeconds
	}
	if req.InactivityTimeoutSeconds == 0 {
		req.InactivityTimeoutSeconds = d.InactivityTimeoutSeconds
	}
	if req.QuietHours == nil {
		req.QuietHours = d.QuietHours
	}
	return req
}

// compensation is a single undo step, run in reverse order if a later
// step of Provision fails. Mirrors the teacher's fully-sequential
// setup-then-teardown shape (cmd/tr-engine/main.go's defer chain) but
// built explicitly since provisioning must compensate mid-function, not
// just at process shutdown.
type compensation func()

// Provision runs the full registration workflow (spec §4.5). On any
// failure it unwinds everything already committed, in reverse order, and
// returns the original error.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	log := p.log.With().Str("sensor_id", req.SensorID).Logger()

	if req.SensorID == "" || req.UserID == "" {
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "invalid").Inc()
		return nil, errs.New(errs.Validation, "sensorId and userId are required")
	}
	req = p.applyDefaults(req)

	exists, err := p.db.SensorExists(ctx, req.SensorID)
	if err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "failed").Inc()
		return nil, errs.Wrap(errs.Transient, "check existing sensor", err)
	}
	if exists {
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "conflict").Inc()
		return nil, errs.New(errs.Conflict, "sensor already provisioned")
	}

	var compensations []compensation
	undo := func() {
		for i := len(compensations) - 1; i >= 0; i-- {
			compensations[i]()
		}
	}

	if _, err := p.registry.CreateIdentity(req.SensorID); err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "failed").Inc()
		return nil, errs.Wrap(errs.Transient, "create broker identity", err)
	}
	compensations = append(compensations, func() {
		if err := p.registry.DeleteIdentity(req.SensorID); err != nil {
			log.Error().Err(err).Msg("compensation: delete broker identity failed")
		}
	})

	cert, err := mintCertificate(req.SensorID, p.certTTL, time.Now())
	if err != nil {
		undo()
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "failed").Inc()
		return nil, errs.Wrap(errs.Fatal, "mint device certificate", err)
	}

	if err := p.registry.AttachCertificate(req.SensorID, cert.Handle); err != nil {
		undo()
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "failed").Inc()
		return nil, errs.Wrap(errs.Transient, "attach certificate", err)
	}
	compensations = append(compensations, func() {
		if err := p.registry.DetachCertificate(req.SensorID); err != nil {
			log.Error().Err(err).Msg("compensation: detach certificate failed")
		}
	})

	if err := p.registry.BindPolicy(req.SensorID, defaultPolicyName); err != nil {
		undo()
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "failed").Inc()
		return nil, errs.Wrap(errs.Transient, "bind topic policy", err)
	}
	compensations = append(compensations, func() {
		if err := p.registry.DetachPolicy(req.SensorID); err != nil {
			log.Error().Err(err).Msg("compensation: detach policy failed")
		}
	})

	sensor := &store.Sensor{
		SensorID:                 req.SensorID,
		UserID:                   req.UserID,
		Enabled:                  true,
		MotionDebounceSeconds:    req.MotionDebounceSeconds,
		InactivityTimeoutSeconds: req.InactivityTimeoutSeconds,
		QuietHours:               req.QuietHours,
		PlaybackTargetID:         req.PlaybackTargetID,
		PlaybackContextRef:       req.PlaybackContextRef,
		Status:                   store.SensorRegistered,
		ThingHandle:              req.SensorID,
		CertificateHandle:        cert.Handle,
	}
	if err := p.db.InsertSensor(ctx, sensor); err != nil {
		undo()
		metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "failed").Inc()
		return nil, errs.Wrap(errs.Transient, "persist sensor record", err)
	}

	metrics.ProvisioningOperationsTotal.WithLabelValues("provision", "succeeded").Inc()
	log.Info().Msg("sensor provisioned")
	return &Result{
		SensorID:    req.SensorID,
		ThingHandle: req.SensorID,
		CertPEM:     cert.CertPEM,
		PrivateKey:  cert.PrivateKey,
		NotAfter:    cert.NotAfter,
	}, nil
}

// Deprovision tears down a sensor's broker identity and Postgres record.
// Calling it again once the sensor is gone changes nothing and returns
// errs.NotFound rather than silently succeeding, matching Provision's own
// existence check.
func (p *Provisioner) Deprovision(ctx context.Context, sensorID string) error {
	log := p.log.With().Str("sensor_id", sensorID).Logger()

	exists, err := p.db.SensorExists(ctx, sensorID)
	if err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "failed").Inc()
		return errs.Wrap(errs.Transient, "check existing sensor", err)
	}
	if !exists {
		metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "not_found").Inc()
		return errs.New(errs.NotFound, "sensor not provisioned")
	}

	if err := p.registry.DetachPolicy(sensorID); err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "failed").Inc()
		return fmt.Errorf("detach policy: %w", err)
	}
	if err := p.registry.DetachCertificate(sensorID); err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "failed").Inc()
		return fmt.Errorf("detach certificate: %w", err)
	}
	if err := p.registry.DeleteIdentity(sensorID); err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "failed").Inc()
		return fmt.Errorf("delete broker identity: %w", err)
	}
	if err := p.db.DeleteSensor(ctx, sensorID); err != nil {
		metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "failed").Inc()
		return errs.Wrap(errs.Transient, "delete sensor record", err)
	}

	metrics.ProvisioningOperationsTotal.WithLabelValues("deprovision", "succeeded").Inc()
	log.Info().Msg("sensor deprovisioned")
	return nil
}
