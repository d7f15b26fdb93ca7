// Package broker is the C5 Device Provisioner's control-plane adapter
// over the MQTT broker's identity/ACL surface: creating a "thing" (broker
// identity), attaching a certificate principal, and binding a
// topic-scoped authorization policy, plus the inverse teardown.
//
// The production broker is managed out-of-process (spec §1 lists the MQTT
// broker as an external collaborator); this package runs an embedded
// github.com/mochi-mqtt/server/v2 instance as the identity/ACL control
// plane the provisioner drives directly, the way the teacher carries
// mochi-mqtt in its dependency set for exactly this kind of embedded
// broker surface without ever exercising it — wired here instead of left
// idle (see DESIGN.md).
package broker

import (
	"sync"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Identity is one provisioned device's broker-side principal.
type Identity struct {
	ThingHandle       string // == sensorId, the connect clientId the device must present
	CertificateHandle string // opaque handle for the attached certificate
	PolicyName        string
	PublishTopics     []string
	SubscribeTopics   []string
}

// Registry is the identity/ACL control plane. It implements
// hooks.Hook (via embedded HookBase) so it can be installed directly onto
// a running mochi-mqtt server with AddHook, and is also the type the
// provisioner calls to create/detach/delete identities.
type Registry struct {
	mqttbroker.HookBase

	mu         sync.RWMutex
	identities map[string]*Identity // thingHandle -> Identity
}

func NewRegistry() *Registry {
	return &Registry{identities: make(map[string]*Identity)}
}

func (r *Registry) ID() string { return "sensor-identity-registry" }

func (r *Registry) Provides(b byte) bool {
	switch b {
	case mqttbroker.OnConnectAuthenticate, mqttbroker.OnACLCheck:
		return true
	default:
		return false
	}
}

// OnConnectAuthenticate allows a connection only if its clientId matches
// a currently-provisioned thing handle, per spec §6.1 "connect clientId
// must equal the identity name". Certificate verification itself happens
// at the TLS layer (mutual auth, port 8883); this hook enforces the
// identity-naming invariant on top of that.
func (r *Registry) OnConnectAuthenticate(cl *mqttbroker.Client, pk packets.Packet) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.identities[cl.ID]
	return ok
}

// OnACLCheck enforces the topic-scoped policy bound at provisioning:
// publish only on sensors/{sensorId}/{motion,status,register}, subscribe
// only on sensors/{sensorId}/{config,commands}.
func (r *Registry) OnACLCheck(cl *mqttbroker.Client, topic string, write bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[cl.ID]
	if !ok {
		return false
	}
	allowed := id.SubscribeTopics
	if write {
		allowed = id.PublishTopics
	}
	for _, t := range allowed {
		if t == topic {
			return true
		}
	}
	return false
}

// CreateIdentity registers a new broker identity for sensorId and returns
// its handle. Step 3 of Provision (spec §4.5).
func (r *Registry) CreateIdentity(sensorID string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.identities[sensorID]; exists {
		return nil, ErrIdentityExists
	}
	id := &Identity{ThingHandle: sensorID}
	r.identities[sensorID] = id
	return id, nil
}

// AttachCertificate records the certificate handle for an identity. Step
// 5 of Provision.
func (r *Registry) AttachCertificate(thingHandle, certificateHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[thingHandle]
	if !ok {
		return ErrIdentityNotFound
	}
	id.CertificateHandle = certificateHandle
	return nil
}

// BindPolicy attaches the topic-scoped authorization policy to the
// identity. Step 6 of Provision.
func (r *Registry) BindPolicy(thingHandle, policyName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[thingHandle]
	if !ok {
		return ErrIdentityNotFound
	}
	id.PolicyName = policyName
	id.PublishTopics = []string{
		"sensors/" + thingHandle + "/motion",
		"sensors/" + thingHandle + "/status",
		"sensors/" + thingHandle + "/register",
	}
	id.SubscribeTopics = []string{
		"sensors/" + thingHandle + "/config",
		"sensors/" + thingHandle + "/commands",
	}
	return nil
}

// DetachPolicy removes the bound policy, leaving the identity and
// certificate in place. Used both by compensation on a failed provision
// and as the first deprovision step.
func (r *Registry) DetachPolicy(thingHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[thingHandle]
	if !ok {
		return nil // already gone — deprovision tolerates this
	}
	id.PolicyName = ""
	id.PublishTopics = nil
	id.SubscribeTopics = nil
	return nil
}

// DetachCertificate clears the certificate handle without deleting the
// identity.
func (r *Registry) DetachCertificate(thingHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[thingHandle]
	if !ok {
		return nil
	}
	id.CertificateHandle = ""
	return nil
}

// DeleteIdentity removes the broker identity entirely. Tolerates the
// identity already being gone.
func (r *Registry) DeleteIdentity(thingHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.identities, thingHandle)
	return nil
}

// ListIdentity returns the identity for a handle, or (nil, false) if it
// doesn't exist. Deprovision does not call it: an identity carries at most
// one certificate, which DetachCertificate clears directly.
func (r *Registry) ListIdentity(thingHandle string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[thingHandle]
	return id, ok
}

var (
	ErrIdentityExists   = hookError("broker identity already exists")
	ErrIdentityNotFound = hookError("broker identity not found")
)

type hookError string

func (e hookError) Error() string { return string(e) }

// NewServer wires a Registry as an auth/ACL hook on a fresh embedded
// mochi-mqtt server instance, grounded on the teacher's go.mod carrying
// mochi-mqtt as the broker dependency.
func NewServer(registry *Registry) (*mqttbroker.Server, error) {
	server := mqttbroker.New(nil)
	if err := server.AddHook(registry, nil); err != nil {
		return nil, err
	}
	return server, nil
}

var _ hooks.Hook = (*Registry)(nil)
