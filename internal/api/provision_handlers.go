package api

import (
	"encoding/base64"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/snarg/motion-engine/internal/config"
	"github.com/snarg/motion-engine/internal/errs"
	"github.com/snarg/motion-engine/internal/provision"
	"github.com/snarg/motion-engine/internal/store"
)

// ProvisionHandler serves C5's admin-facing provision/deprovision surface
// (spec §6.2). It never stores the minted private key — it is returned
// once, in the response body, and the caller is responsible for it.
type ProvisionHandler struct {
	provisioner *provision.Provisioner
	brokerCfg   BrokerInfo
}

// BrokerInfo carries the static broker connection details echoed back in
// every provisioning response, so a newly provisioned sensor knows where
// to dial in without a second round trip.
type BrokerInfo struct {
	Endpoint string
	Region   string
}

func NewProvisionHandler(provisioner *provision.Provisioner, cfg *config.Config) *ProvisionHandler {
	return &ProvisionHandler{
		provisioner: provisioner,
		brokerCfg:   BrokerInfo{Endpoint: cfg.BrokerEndpoint, Region: cfg.BrokerRegion},
	}
}

type provisionRequest struct {
	SensorID                 string             `json:"sensorId"`
	UserID                   string             `json:"userId"`
	MotionDebounceSeconds    int                `json:"motionDebounceSeconds"`
	InactivityTimeoutSeconds int                `json:"inactivityTimeoutSeconds"`
	QuietHours               *quietHoursPayload `json:"quietHours,omitempty"`
	PlaybackTargetID         string             `json:"playbackTargetId"`
	PlaybackContextRef       string             `json:"playbackContextRef"`
}

type quietHoursPayload struct {
	StartHHMM string `json:"startHHMM"`
	EndHHMM   string `json:"endHHMM"`
	Timezone  string `json:"timezone"`
}

type provisionResponse struct {
	SensorID          string   `json:"sensorId"`
	ThingHandle       string   `json:"thingHandle"`
	CertificateHandle string   `json:"certificateHandle"`
	CertificatePEM    string   `json:"certificatePem"`
	PrivateKeyPEM     string   `json:"privateKeyPem"`
	PrivateKeyWarning string   `json:"privateKeyWarning"`
	BrokerEndpoint    string   `json:"brokerEndpoint"`
	Region            string   `json:"region"`
	PolicyName        string   `json:"policyName"`
	MQTTTopics        []string `json:"mqttTopics"`
	NotAfter          string   `json:"notAfter"`
}

// Provision handles POST /api/v1/sensors.
func (h *ProvisionHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	preq := provision.Request{
		SensorID:                 req.SensorID,
		UserID:                   req.UserID,
		MotionDebounceSeconds:    req.MotionDebounceSeconds,
		InactivityTimeoutSeconds: req.InactivityTimeoutSeconds,
		PlaybackTargetID:         req.PlaybackTargetID,
		PlaybackContextRef:       req.PlaybackContextRef,
	}
	if req.QuietHours != nil {
		preq.QuietHours = &store.QuietHours{
			StartHHMM: req.QuietHours.StartHHMM,
			EndHHMM:   req.QuietHours.EndHHMM,
			Timezone:  req.QuietHours.Timezone,
		}
	}

	result, err := h.provisioner.Provision(r.Context(), preq)
	if err != nil {
		writeProvisionError(w, r, err)
		return
	}

	thingHandle := result.ThingHandle
	resp := provisionResponse{
		SensorID:          result.SensorID,
		ThingHandle:       thingHandle,
		CertificateHandle: result.SensorID, // cert handle mirrors the thing handle by construction
		CertificatePEM:    base64.StdEncoding.EncodeToString(result.CertPEM),
		PrivateKeyPEM:     base64.StdEncoding.EncodeToString(result.PrivateKey),
		PrivateKeyWarning: "this private key is returned exactly once and is not retained by the server; store it securely now",
		BrokerEndpoint:    h.brokerCfg.Endpoint,
		Region:            h.brokerCfg.Region,
		PolicyName:        "default-sensor-policy",
		MQTTTopics: []string{
			"sensors/" + thingHandle + "/motion",
			"sensors/" + thingHandle + "/status",
			"sensors/" + thingHandle + "/register",
			"sensors/" + thingHandle + "/config",
			"sensors/" + thingHandle + "/commands",
		},
		NotAfter: result.NotAfter.Format("2006-01-02T15:04:05Z07:00"),
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// Deprovision handles DELETE /api/v1/sensors/{sensorId}.
func (h *ProvisionHandler) Deprovision(w http.ResponseWriter, r *http.Request, sensorID string) {
	if sensorID == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "missing sensorId")
		return
	}
	if err := h.provisioner.Deprovision(r.Context(), sensorID); err != nil {
		writeProvisionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeProvisionError(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)
	switch {
	case errs.Is(err, errs.Validation):
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
	case errs.Is(err, errs.Conflict):
		WriteErrorWithCode(w, http.StatusConflict, ErrConflict, err.Error())
	case errs.Is(err, errs.NotFound):
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("provisioning operation failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "provisioning operation failed")
	}
}
