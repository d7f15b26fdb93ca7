package broker

import (
	"testing"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

func client(id string) *mqttbroker.Client {
	return &mqttbroker.Client{ID: id}
}

func TestCreateIdentityRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateIdentity("sensor-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.CreateIdentity("sensor-1"); err != ErrIdentityExists {
		t.Fatalf("expected ErrIdentityExists, got %v", err)
	}
}

func TestBindPolicyScopesTopicsToThingHandle(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateIdentity("sensor-1"); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if err := r.BindPolicy("sensor-1", "default-sensor-policy"); err != nil {
		t.Fatalf("bind policy: %v", err)
	}
	id, ok := r.ListIdentity("sensor-1")
	if !ok {
		t.Fatalf("expected identity to exist")
	}
	if len(id.PublishTopics) != 3 || len(id.SubscribeTopics) != 2 {
		t.Fatalf("unexpected topic scopes: %+v", id)
	}
}

func TestOnConnectAuthenticateRequiresProvisionedIdentity(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateIdentity("sensor-1"); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if !r.OnConnectAuthenticate(client("sensor-1"), packets.Packet{}) {
		t.Fatalf("expected known identity to authenticate")
	}
	if r.OnConnectAuthenticate(client("sensor-2"), packets.Packet{}) {
		t.Fatalf("expected unknown identity to be rejected")
	}
}

func TestOnACLCheckEnforcesBoundTopics(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateIdentity("sensor-1"); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if err := r.BindPolicy("sensor-1", "default-sensor-policy"); err != nil {
		t.Fatalf("bind policy: %v", err)
	}
	cl := client("sensor-1")

	if !r.OnACLCheck(cl, "sensors/sensor-1/motion", true) {
		t.Fatalf("expected publish to own motion topic to be allowed")
	}
	if r.OnACLCheck(cl, "sensors/sensor-2/motion", true) {
		t.Fatalf("expected publish to another sensor's topic to be denied")
	}
	if !r.OnACLCheck(cl, "sensors/sensor-1/commands", false) {
		t.Fatalf("expected subscribe to own commands topic to be allowed")
	}
	if r.OnACLCheck(cl, "sensors/sensor-1/motion", false) {
		t.Fatalf("expected subscribe to a publish-only topic to be denied")
	}
}

func TestDeleteIdentityRevokesAccess(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateIdentity("sensor-1"); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if err := r.DeleteIdentity("sensor-1"); err != nil {
		t.Fatalf("delete identity: %v", err)
	}
	if r.OnConnectAuthenticate(client("sensor-1"), packets.Packet{}) {
		t.Fatalf("expected deleted identity to be rejected")
	}
	// deleting again is tolerated
	if err := r.DeleteIdentity("sensor-1"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}
