package auth

import (
	"sync"
	"time"
)

// In-memory token blacklist for logout. Entries expire with the token itself,
// so the map stays bounded by the number of logouts within one token lifetime.
var (
	blacklistMu sync.RWMutex
	blacklist   = make(map[string]time.Time)
)

// BlacklistToken invalidates a token until its natural expiry
func BlacklistToken(token string, expiresAt time.Time) {
	blacklistMu.Lock()
	defer blacklistMu.Unlock()

	blacklist[token] = expiresAt

	// opportunistic sweep of expired entries
	now := time.Now()
	for t, exp := range blacklist {
		if exp.Before(now) {
			delete(blacklist, t)
		}
	}
}

// IsTokenBlacklisted reports whether the token was logged out
func IsTokenBlacklisted(token string) bool {
	blacklistMu.RLock()
	exp, ok := blacklist[token]
	blacklistMu.RUnlock()

	if !ok {
		return false
	}
	if exp.Before(time.Now()) {
		blacklistMu.Lock()
		delete(blacklist, token)
		blacklistMu.Unlock()
		return false
	}
	return true
}
