package authsig

import (
	"container/list"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
)

// keyCacheEntry is the payload stored in each list element.
type keyCacheEntry struct {
	clientID string
	key      ed25519.PublicKey
	revoked  bool
}

// KeyCache is a fixed-capacity LRU over RegistrationStore lookups, keyed by
// client id, so the hot path of signature verification doesn't pay a
// storage round trip (plus decrypt) per request.
type KeyCache struct {
	store *RegistrationStore

	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

// NewKeyCache builds a KeyCache backed by store with room for capacity
// entries.
func NewKeyCache(store *RegistrationStore, capacity int) *KeyCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &KeyCache{
		store:    store,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Lookup returns clientID's active public key, consulting the cache first
// and falling back to the backing RegistrationStore on a miss. A revoked
// registration is a lookup failure (KindPublicKeyLookupFailed).
func (c *KeyCache) Lookup(clientID string) (ed25519.PublicKey, error) {
	if key, ok := c.get(clientID); ok {
		return key, nil
	}

	reg, found, err := c.store.Lookup(clientID)
	if err != nil {
		return nil, newAuthErr(KindPublicKeyLookupFailed, "KEY_LOOKUP_STORAGE_ERROR", fmt.Sprintf("public key lookup failed: %v", err))
	}
	if !found {
		return nil, newAuthErr(KindPublicKeyLookupFailed, "KEY_LOOKUP_UNKNOWN_CLIENT", "no registered public key for client")
	}

	raw, err := hex.DecodeString(reg.PublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, newAuthErr(KindPublicKeyLookupFailed, "KEY_LOOKUP_CORRUPT_KEY", "stored public key is malformed")
	}

	blocked := reg.Status != RegistrationActive
	c.put(clientID, raw, blocked)

	if blocked {
		return nil, newAuthErr(KindPublicKeyLookupFailed, "KEY_LOOKUP_REVOKED", "client's public key is not active")
	}
	return ed25519.PublicKey(raw), nil
}

// Invalidate drops clientID from the cache, forcing the next Lookup to hit
// the backing store — call after Revoke or re-registration.
func (c *KeyCache) Invalidate(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[clientID]; ok {
		c.ll.Remove(el)
		delete(c.items, clientID)
	}
}

func (c *KeyCache) get(clientID string) (ed25519.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[clientID]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	entry := el.Value.(*keyCacheEntry)
	if entry.revoked {
		return nil, false
	}
	return entry.key, true
}

func (c *KeyCache) put(clientID string, key ed25519.PublicKey, revoked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[clientID]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*keyCacheEntry).key = key
		el.Value.(*keyCacheEntry).revoked = revoked
		return
	}

	el := c.ll.PushFront(&keyCacheEntry{clientID: clientID, key: key, revoked: revoked})
	c.items[clientID] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*keyCacheEntry).clientID)
		}
	}
}
