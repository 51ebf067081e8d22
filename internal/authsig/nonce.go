package authsig

import (
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// nonceCharset is the allowed charset for a non-UUID4 nonce (spec.md §4.9
// step 5): length <=128, [A-Za-z0-9_-].
var nonceCharset = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// NonceStore is a bounded, TTL-swept set of seen nonces per client, evicted
// oldest-first once at capacity — the teacher's TokenManager expiry-sweep
// idiom (pkg/manager/token.go), generalized from token expiry to
// size-bounded nonce tracking.
type NonceStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]time.Time // "client:nonce" -> seen-at
	order    []string             // insertion order, for oldest-first eviction
}

// NewNonceStore builds a NonceStore with the given TTL and capacity.
func NewNonceStore(ttl time.Duration, capacity int) *NonceStore {
	return &NonceStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]time.Time),
	}
}

// ValidateFormat checks nonce against the required shape: UUID4 when
// requireUUID4 is set, else the generic bounded charset.
func ValidateFormat(nonce string, requireUUID4 bool) error {
	if requireUUID4 {
		parsed, err := uuid.Parse(nonce)
		if err != nil || parsed.Version() != 4 {
			return newAuthErr(KindNonceValidationFailed, "NONCE_NOT_UUID4", "nonce must be a UUID4")
		}
		return nil
	}
	if !nonceCharset.MatchString(nonce) {
		return newAuthErr(KindNonceValidationFailed, "NONCE_INVALID_FORMAT", "nonce must be 1-128 characters of [A-Za-z0-9_-]")
	}
	return nil
}

// CheckAndInsert sweeps expired entries, evicts the oldest entry if the
// store is at capacity, then inserts (client, nonce) if not already
// present. Returns an error if the nonce was already seen (replay).
func (s *NonceStore) CheckAndInsert(client, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.sweepLocked(now)

	key := client + ":" + nonce
	if _, seen := s.entries[key]; seen {
		return newAuthErr(KindNonceValidationFailed, "NONCE_REPLAYED", "nonce has already been used")
	}

	if s.capacity > 0 && len(s.entries) >= s.capacity {
		s.evictOldestLocked()
	}

	s.entries[key] = now
	s.order = append(s.order, key)
	return nil
}

func (s *NonceStore) sweepLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	cutoff := now.Add(-s.ttl)
	kept := s.order[:0]
	for _, key := range s.order {
		if s.entries[key].Before(cutoff) {
			delete(s.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	s.order = kept
}

func (s *NonceStore) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.entries, oldest)
}

// Utilization reports the store's current fill level as a percentage of its
// capacity (0-100), for health scoring.
func (s *NonceStore) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity <= 0 {
		return 0
	}
	return float64(len(s.entries)) / float64(s.capacity) * 100
}
