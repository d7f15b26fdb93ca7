package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/broker"
	"github.com/snarg/motion-engine/internal/errs"
	"github.com/snarg/motion-engine/internal/store"
)

type fakeSensorStore struct {
	existing      map[string]bool
	insertErr     error
	inserted      []*store.Sensor
	deletedIDs    []string
}

func newFakeSensorStore() *fakeSensorStore {
	return &fakeSensorStore{existing: make(map[string]bool)}
}

func (f *fakeSensorStore) SensorExists(_ context.Context, sensorID string) (bool, error) {
	return f.existing[sensorID], nil
}

func (f *fakeSensorStore) InsertSensor(_ context.Context, s *store.Sensor) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, s)
	f.existing[s.SensorID] = true
	return nil
}

func (f *fakeSensorStore) DeleteSensor(_ context.Context, sensorID string) error {
	f.deletedIDs = append(f.deletedIDs, sensorID)
	delete(f.existing, sensorID)
	return nil
}

func newTestProvisioner(db sensorStore) *Provisioner {
	return &Provisioner{
		db:       db,
		registry: broker.NewRegistry(),
		certTTL:  24 * time.Hour,
		log:      zerolog.Nop(),
	}
}

func TestProvisionRejectsDuplicateSensor(t *testing.T) {
	db := newFakeSensorStore()
	db.existing["sensor-1"] = true
	p := newTestProvisioner(db)

	_, err := p.Provision(context.Background(), Request{SensorID: "sensor-1", UserID: "user-1"})
	if !errs.Is(err, errs.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestProvisionRejectsMissingFields(t *testing.T) {
	p := newTestProvisioner(newFakeSensorStore())
	_, err := p.Provision(context.Background(), Request{SensorID: "", UserID: "user-1"})
	if !errs.Is(err, errs.Validation) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestProvisionWiresBrokerIdentityAndSensorRow(t *testing.T) {
	db := newFakeSensorStore()
	p := newTestProvisioner(db)

	result, err := p.Provision(context.Background(), Request{
		SensorID: "sensor-1",
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SensorID != "sensor-1" || len(result.CertPEM) == 0 || len(result.PrivateKey) == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	id, ok := p.registry.ListIdentity("sensor-1")
	if !ok {
		t.Fatalf("expected broker identity to exist")
	}
	if id.PolicyName == "" || id.CertificateHandle == "" {
		t.Fatalf("expected identity to have policy and certificate bound: %+v", id)
	}
	if len(db.inserted) != 1 || db.inserted[0].CertificateHandle == "" {
		t.Fatalf("expected sensor row to carry certificate handle")
	}
}

func TestProvisionCompensatesOnInsertFailure(t *testing.T) {
	db := newFakeSensorStore()
	db.insertErr = errors.New("connection reset")
	p := newTestProvisioner(db)

	_, err := p.Provision(context.Background(), Request{SensorID: "sensor-1", UserID: "user-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := p.registry.ListIdentity("sensor-1"); ok {
		t.Fatalf("expected broker identity to be rolled back after insert failure")
	}
}

func TestDeprovisionOfAlreadyGoneSensorReturnsNotFound(t *testing.T) {
	db := newFakeSensorStore()
	p := newTestProvisioner(db)

	if _, err := p.Provision(context.Background(), Request{SensorID: "sensor-1", UserID: "user-1"}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := p.Deprovision(context.Background(), "sensor-1"); err != nil {
		t.Fatalf("deprovision: %v", err)
	}
	// second deprovision of an already-gone sensor must surface NotFound
	if err := p.Deprovision(context.Background(), "sensor-1"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, ok := p.registry.ListIdentity("sensor-1"); ok {
		t.Fatalf("expected broker identity to be gone")
	}
}
