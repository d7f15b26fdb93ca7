package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/secrets"
	"github.com/snarg/motion-engine/internal/store"
)

type fakeMusicClient struct {
	refreshCalls int32
	refreshFn    func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error)
}

func (f *fakeMusicClient) RefreshAccessToken(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	return f.refreshFn(ctx, refreshToken)
}
func (f *fakeMusicClient) GetPlaybackState(ctx context.Context, accessToken, deviceID string) (musicservice.PlaybackState, error) {
	return musicservice.PlaybackState{}, nil
}
func (f *fakeMusicClient) StartPlayback(ctx context.Context, accessToken, deviceID, contextRef string) error {
	return nil
}
func (f *fakeMusicClient) PausePlayback(ctx context.Context, accessToken, deviceID string) error {
	return nil
}
func (f *fakeMusicClient) ListDevices(ctx context.Context, accessToken string) ([]musicservice.Device, error) {
	return nil, nil
}

func TestTokenCacheRefreshesExpiredCredential(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		return musicservice.RefreshResult{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	cache := NewTokenCache(secretStore, music, zerolog.Nop())
	user := &store.User{UserID: "user-1", TokenRef: "ref-1"}

	tok, err := cache.Get(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "fresh" {
		t.Fatalf("expected fresh token, got %q", tok)
	}
	if music.refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", music.refreshCalls)
	}

	// second call should be served from cache, no further refresh.
	if _, err := cache.Get(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if music.refreshCalls != 1 {
		t.Fatalf("expected cached read to avoid a second refresh, got %d calls", music.refreshCalls)
	}
}

func TestTokenCacheServesUnexpiredCredentialWithoutRefresh(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "still-good",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		t.Fatalf("refresh should not be called for an unexpired credential")
		return musicservice.RefreshResult{}, nil
	}}
	cache := NewTokenCache(secretStore, music, zerolog.Nop())
	user := &store.User{UserID: "user-1", TokenRef: "ref-1"}

	tok, err := cache.Get(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "still-good" {
		t.Fatalf("expected still-good token, got %q", tok)
	}
}

func TestTokenCacheInvalidateForcesRefreshOnNextGet(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "first",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	calls := 0
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		calls++
		return musicservice.RefreshResult{AccessToken: "round", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	cache := NewTokenCache(secretStore, music, zerolog.Nop())
	user := &store.User{UserID: "user-1", TokenRef: "ref-1"}

	if _, err := cache.Get(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cache.Invalidate("user-1")

	// put a new expired credential, as the warden would after its own refresh
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "second",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	if _, err := cache.Get(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected invalidate to force a second refresh, got %d calls", calls)
	}
}
