package chargepoint

import (
	"sync"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// cacheEntry is one AuthorizationCache row: an idTag's last known
// IdTagInfo plus its expiry, matching spec.md's persisted-state table.
type cacheEntry struct {
	info    v16.IdTagInfo
	expires time.Time
}

// LocalAuth holds the AuthorizationCache and the LocalAuthorizationList
// (monotonic listVersion), consulted before an Authorize round-trip is
// attempted when the charge point is offline or LocalPreAuthorize is set.
type LocalAuth struct {
	mu sync.RWMutex

	cache map[string]cacheEntry

	listVersion int
	list        map[string]v16.IdTagInfo
}

// NewLocalAuth creates an empty cache and an empty local list at version 0.
func NewLocalAuth() *LocalAuth {
	return &LocalAuth{
		cache: make(map[string]cacheEntry),
		list:  make(map[string]v16.IdTagInfo),
	}
}

// CacheStore records a CSMS Authorize/StartTransaction response for idTag,
// good for the IdTagInfo's ExpiryDate if present, else a day.
func (a *LocalAuth) CacheStore(idTag string, info v16.IdTagInfo) {
	expiry := time.Now().Add(24 * time.Hour)
	if info.ExpiryDate != nil {
		expiry = info.ExpiryDate.Time
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[idTag] = cacheEntry{info: info, expires: expiry}
}

// CacheLookup returns a cached IdTagInfo, ignoring (and lazily dropping)
// expired entries.
func (a *LocalAuth) CacheLookup(idTag string) (v16.IdTagInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[idTag]
	if !ok {
		return v16.IdTagInfo{}, false
	}
	if time.Now().After(e.expires) {
		delete(a.cache, idTag)
		return v16.IdTagInfo{}, false
	}
	return e.info, true
}

// ListLookup resolves idTag against the LocalAuthorizationList.
func (a *LocalAuth) ListLookup(idTag string) (v16.IdTagInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	info, ok := a.list[idTag]
	return info, ok
}

// ListVersion returns the current LocalAuthorizationList version.
func (a *LocalAuth) ListVersion() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.listVersion
}

// Update applies a SendLocalList Full or Differential update, rejecting it
// if listVersion isn't newer than the current one.
func (a *LocalAuth) Update(req v16.SendLocalListRequest) v16.UpdateStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.ListVersion <= a.listVersion {
		return v16.UpdateStatusVersionMismatch
	}

	switch req.UpdateType {
	case v16.UpdateTypeFull:
		a.list = make(map[string]v16.IdTagInfo, len(req.LocalAuthorizationList))
		for _, e := range req.LocalAuthorizationList {
			if e.IdTagInfo != nil {
				a.list[e.IdTag] = *e.IdTagInfo
			}
		}
	case v16.UpdateTypeDifferential:
		for _, e := range req.LocalAuthorizationList {
			if e.IdTagInfo == nil {
				delete(a.list, e.IdTag)
				continue
			}
			a.list[e.IdTag] = *e.IdTagInfo
		}
	default:
		return v16.UpdateStatusFailed
	}

	a.listVersion = req.ListVersion
	return v16.UpdateStatusAccepted
}

// CacheEntrySnapshot is one AuthorizationCache row, for persisting a
// point-in-time copy of the cache to storage.
type CacheEntrySnapshot struct {
	IdTag   string
	Info    v16.IdTagInfo
	Expires time.Time
}

// Snapshot returns a consistent copy of the AuthorizationCache and the
// LocalAuthorizationList (with its version), for a caller that persists
// local auth state rather than serving lookups directly.
func (a *LocalAuth) Snapshot() (cache []CacheEntrySnapshot, list map[string]v16.IdTagInfo, listVersion int) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cache = make([]CacheEntrySnapshot, 0, len(a.cache))
	for idTag, e := range a.cache {
		cache = append(cache, CacheEntrySnapshot{IdTag: idTag, Info: e.info, Expires: e.expires})
	}

	list = make(map[string]v16.IdTagInfo, len(a.list))
	for idTag, info := range a.list {
		list[idTag] = info
	}

	return cache, list, a.listVersion
}
