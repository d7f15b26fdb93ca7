package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/secrets"
	"github.com/snarg/motion-engine/internal/store"
)

const tokenCacheMaxTTL = 300 * time.Second

type cacheEntry struct {
	accessToken string
	expiresAt   time.Time
}

// TokenCache is the in-process read-through access-token cache described
// in spec §4.4: keyed by userId, TTL = min(expiresAt-now, 300s), with
// per-user singleflight so concurrent callers observing an expired token
// drive exactly one refresh (spec §5 "per-user singleflight"). There is
// no caching library anywhere in the reference pack for this shape — the
// teacher's only cache is internal/ingest's identity resolver, a plain
// mutex-guarded map — so TokenCache follows that idiom directly, adding
// golang.org/x/sync/singleflight for the dedupe the identity resolver
// doesn't need (see DESIGN.md).
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	group   singleflight.Group
	secrets secrets.Store
	music   musicservice.Client
	log     zerolog.Logger
}

func NewTokenCache(secretStore secrets.Store, music musicservice.Client, log zerolog.Logger) *TokenCache {
	return &TokenCache{
		entries: make(map[string]cacheEntry),
		secrets: secretStore,
		music:   music,
		log:     log.With().Str("component", "token_cache").Logger(),
	}
}

// Get returns a usable access token for user, refreshing synchronously if
// the cached entry is missing or expired (spec §4.4 "must call the
// warden's refresh path synchronously ... without waiting for the next
// tick").
func (c *TokenCache) Get(ctx context.Context, user *store.User) (string, error) {
	if tok, ok := c.lookup(user.UserID); ok {
		return tok, nil
	}

	v, err, _ := c.group.Do(user.UserID, func() (interface{}, error) {
		if tok, ok := c.lookup(user.UserID); ok {
			return tok, nil
		}
		return c.refresh(ctx, user)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached entry for userID, called by the warden
// immediately after it writes a new token so the next reader doesn't
// serve a stale one out of the TTL window.
func (c *TokenCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *TokenCache) lookup(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || !time.Now().Before(e.expiresAt) {
		return "", false
	}
	return e.accessToken, true
}

func (c *TokenCache) refresh(ctx context.Context, user *store.User) (string, error) {
	cred, err := c.secrets.Get(ctx, user.TokenRef)
	if err != nil {
		return "", err
	}

	if time.Until(cred.ExpiresAt) > 0 {
		c.store(user.UserID, cred.AccessToken, cred.ExpiresAt)
		return cred.AccessToken, nil
	}

	result, err := c.music.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	newCred := secrets.Credential{
		RefreshToken: cred.RefreshToken,
		AccessToken:  result.AccessToken,
		ExpiresAt:    result.ExpiresAt,
	}
	if result.RefreshToken != "" {
		newCred.RefreshToken = result.RefreshToken
	}
	if err := c.secrets.Put(ctx, user.TokenRef, newCred); err != nil {
		return "", err
	}

	c.store(user.UserID, newCred.AccessToken, newCred.ExpiresAt)
	metrics.TokenRefreshesTotal.WithLabelValues("refreshed").Inc()
	return newCred.AccessToken, nil
}

func (c *TokenCache) store(userID, accessToken string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl > tokenCacheMaxTTL {
		ttl = tokenCacheMaxTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cacheEntry{accessToken: accessToken, expiresAt: time.Now().Add(ttl)}
}
