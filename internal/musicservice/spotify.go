package musicservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SpotifyClient is the default Client implementation: a thin wrapper over
// the Spotify Web API's OAuth refresh endpoint and Connect playback
// endpoints, using the stdlib net/http client the way the teacher's
// transcribe.WhisperClient does (no HTTP client library anywhere in the
// reference pack improves on stdlib here; see DESIGN.md).
type SpotifyClient struct {
	authURL      string
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	log          zerolog.Logger
}

func NewSpotifyClient(authURL, baseURL, clientID, clientSecret string, timeout time.Duration, log zerolog.Logger) *SpotifyClient {
	return &SpotifyClient{
		authURL:      authURL,
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
	}
}

func (c *SpotifyClient) RefreshAccessToken(ctx context.Context, refreshToken string) (RefreshResult, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return RefreshResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "invalid_grant" {
			return RefreshResult{}, invalidGrantErr()
		}
	}
	if err := ClassifyStatus(resp.StatusCode, resp.Header); err != nil {
		return RefreshResult{}, err
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RefreshResult{}, fmt.Errorf("decode refresh response: %w", err)
	}

	return RefreshResult{
		AccessToken:  body.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		RefreshToken: body.RefreshToken,
	}, nil
}

func (c *SpotifyClient) GetPlaybackState(ctx context.Context, accessToken, deviceID string) (PlaybackState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/me/player", accessToken, nil)
	if err != nil {
		return PlaybackState{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PlaybackState{}, fmt.Errorf("get playback state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return PlaybackState{IsPlaying: false}, nil
	}
	if err := ClassifyStatus(resp.StatusCode, resp.Header); err != nil {
		return PlaybackState{}, err
	}

	var body struct {
		IsPlaying bool `json:"is_playing"`
		Device    struct {
			ID string `json:"id"`
		} `json:"device"`
		Context struct {
			URI string `json:"uri"`
		} `json:"context"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PlaybackState{}, fmt.Errorf("decode playback state: %w", err)
	}
	return PlaybackState{
		IsPlaying:  body.IsPlaying,
		DeviceID:   body.Device.ID,
		ContextRef: body.Context.URI,
	}, nil
}

func (c *SpotifyClient) StartPlayback(ctx context.Context, accessToken, deviceID, contextRef string) error {
	payload, _ := json.Marshal(map[string]string{"context_uri": contextRef})
	path := "/me/player/play"
	if deviceID != "" {
		path += "?device_id=" + url.QueryEscape(deviceID)
	}
	req, err := c.newRequest(ctx, http.MethodPut, path, accessToken, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	defer resp.Body.Close()
	return ClassifyStatus(resp.StatusCode, resp.Header)
}

func (c *SpotifyClient) PausePlayback(ctx context.Context, accessToken, deviceID string) error {
	path := "/me/player/pause"
	if deviceID != "" {
		path += "?device_id=" + url.QueryEscape(deviceID)
	}
	req, err := c.newRequest(ctx, http.MethodPut, path, accessToken, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}
	defer resp.Body.Close()

	// 404 ("no active device") is absorbed as success per spec §4.3 step 2.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return ClassifyStatus(resp.StatusCode, resp.Header)
}

func (c *SpotifyClient) ListDevices(ctx context.Context, accessToken string) ([]Device, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/me/player/devices", accessToken, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer resp.Body.Close()
	if err := ClassifyStatus(resp.StatusCode, resp.Header); err != nil {
		return nil, err
	}

	var body struct {
		Devices []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Active bool   `json:"is_active"`
		} `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	out := make([]Device, 0, len(body.Devices))
	for _, d := range body.Devices {
		out = append(out, Device{ID: d.ID, Name: d.Name, Active: d.Active})
	}
	return out, nil
}

func (c *SpotifyClient) newRequest(ctx context.Context, method, path, accessToken string, body *strings.Reader) (*http.Request, error) {
	var r *http.Request
	var err error
	if body == nil {
		r, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	} else {
		r, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	}
	if err != nil {
		return nil, err
	}
	r.Header.Set("Authorization", "Bearer "+accessToken)
	return r, nil
}

// invalidGrantErr is kept distinct from ClassifyStatus because Spotify
// signals a revoked refresh token with a 400 + {"error":"invalid_grant"}
// body rather than a 401, unlike the access-token rejection path.
func invalidGrantErr() error {
	return &invalidGrantError{}
}

type invalidGrantError struct{}

func (e *invalidGrantError) Error() string { return "invalid_grant: refresh token revoked" }

// IsInvalidGrant reports whether err is the invalid_grant sentinel
// returned by RefreshAccessToken.
func IsInvalidGrant(err error) bool {
	_, ok := err.(*invalidGrantError)
	return ok
}

// NewInvalidGrantError constructs the invalid_grant sentinel for tests
// exercising callers' handling of a revoked refresh token.
func NewInvalidGrantError() error {
	return invalidGrantErr()
}
