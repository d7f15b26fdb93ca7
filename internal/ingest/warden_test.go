package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/secrets"
	"github.com/snarg/motion-engine/internal/store"
)

type fakeWardenStore struct {
	mu             sync.Mutex
	users          []store.User
	leases         map[string]string
	disconnected   map[string]bool
	listErr        error
	acquireLeaseOK bool
}

func newFakeWardenStore(users ...store.User) *fakeWardenStore {
	return &fakeWardenStore{
		users:          users,
		leases:         make(map[string]string),
		disconnected:   make(map[string]bool),
		acquireLeaseOK: true,
	}
}

func (f *fakeWardenStore) ListMusicConnectedUsers(ctx context.Context) ([]store.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.users, nil
}

func (f *fakeWardenStore) AcquireRefreshLease(ctx context.Context, userID, leaseID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.acquireLeaseOK {
		return false, nil
	}
	f.leases[userID] = leaseID
	return true, nil
}

func (f *fakeWardenStore) ReleaseRefreshLease(ctx context.Context, userID, leaseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leases[userID] == leaseID {
		delete(f.leases, userID)
	}
	return nil
}

func (f *fakeWardenStore) SetMusicConnected(ctx context.Context, userID string, connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[userID] = !connected
	return nil
}

func newTestWarden(db wardenStore, secretStore secrets.Store, music musicservice.Client) *Warden {
	cache := NewTokenCache(secretStore, music, zerolog.Nop())
	return NewWarden(db, secretStore, music, cache, time.Minute, time.Minute, zerolog.Nop())
}

func TestWardenSkipsTokenNotYetDue(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "still-good",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		t.Fatalf("refresh should not be called")
		return musicservice.RefreshResult{}, nil
	}}
	db := newFakeWardenStore(store.User{UserID: "user-1", MusicConnected: true, TokenRef: "ref-1"})
	w := newTestWarden(db, secretStore, music)

	w.runTick(context.Background())
}

func TestWardenRefreshesDueToken(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(10 * time.Second),
	})
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		return musicservice.RefreshResult{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	db := newFakeWardenStore(store.User{UserID: "user-1", MusicConnected: true, TokenRef: "ref-1"})
	w := newTestWarden(db, secretStore, music)

	w.runTick(context.Background())

	cred, err := secretStore.Get(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.AccessToken != "fresh" {
		t.Fatalf("expected refreshed token to be persisted, got %q", cred.AccessToken)
	}
	if len(db.leases) != 0 {
		t.Fatalf("expected lease to be released after refresh, got %+v", db.leases)
	}
}

func TestWardenDisablesUserOnInvalidGrant(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		return musicservice.RefreshResult{}, musicservice.NewInvalidGrantError()
	}}
	db := newFakeWardenStore(store.User{UserID: "user-1", MusicConnected: true, TokenRef: "ref-1"})
	w := newTestWarden(db, secretStore, music)

	w.runTick(context.Background())

	if !db.disconnected["user-1"] {
		t.Fatalf("expected user to be marked disconnected after invalid_grant")
	}
}

func TestWardenSkipsUserWhenLeaseNotAcquired(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-1", secrets.Credential{
		RefreshToken: "refresh-1",
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		t.Fatalf("refresh should not be attempted without the lease")
		return musicservice.RefreshResult{}, nil
	}}
	db := newFakeWardenStore(store.User{UserID: "user-1", MusicConnected: true, TokenRef: "ref-1"})
	db.acquireLeaseOK = false
	w := newTestWarden(db, secretStore, music)

	w.runTick(context.Background())
}

func TestWardenIsolatesFailuresPerUser(t *testing.T) {
	secretStore := secrets.NewMemoryStore()
	_ = secretStore.Put(context.Background(), "ref-bad", secrets.Credential{RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute)})
	_ = secretStore.Put(context.Background(), "ref-good", secrets.Credential{RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute)})

	music := &fakeMusicClient{refreshFn: func(ctx context.Context, refreshToken string) (musicservice.RefreshResult, error) {
		if refreshToken == "r" {
			return musicservice.RefreshResult{AccessToken: "ok", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
		return musicservice.RefreshResult{}, nil
	}}
	db := newFakeWardenStore(
		store.User{UserID: "user-bad", MusicConnected: true, TokenRef: "ref-missing"},
		store.User{UserID: "user-good", MusicConnected: true, TokenRef: "ref-good"},
	)
	w := newTestWarden(db, secretStore, music)

	w.runTick(context.Background())

	cred, err := secretStore.Get(context.Background(), "ref-good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.AccessToken != "ok" {
		t.Fatalf("expected user-good to refresh despite user-bad's missing credential, got %q", cred.AccessToken)
	}
}
