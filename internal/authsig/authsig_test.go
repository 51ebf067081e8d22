package authsig

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/config"
	"github.com/datafold/datafold/internal/dflog"
	"github.com/datafold/datafold/internal/dfmetrics"
	"github.com/datafold/datafold/internal/encryption"
	"github.com/datafold/datafold/internal/kv"
)

// -- in-package kv doubles, matching the pattern used across the other
// internal packages' tests --

type memTree struct{ data map[string][]byte }

func newMemTree() *memTree { return &memTree{data: make(map[string][]byte)} }

func (t *memTree) Get(key []byte) ([]byte, bool, error) {
	v, ok := t.data[string(key)]
	return v, ok, nil
}
func (t *memTree) Put(key, value []byte) error { t.data[string(key)] = value; return nil }
func (t *memTree) Delete(key []byte) error     { delete(t.data, string(key)); return nil }
func (t *memTree) ScanPrefix(prefix []byte) ([]kv.Entry, error) {
	var out []kv.Entry
	for k, v := range t.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			out = append(out, kv.Entry{Key: []byte(k), Value: v})
		}
	}
	return out, nil
}
func (t *memTree) ScanRange(start, end []byte) ([]kv.Entry, error) {
	var out []kv.Entry
	for k, v := range t.data {
		if (start == nil || k >= string(start)) && (end == nil || k <= string(end)) {
			out = append(out, kv.Entry{Key: []byte(k), Value: v})
		}
	}
	return out, nil
}

func TestParseSignatureInputRoundTrip(t *testing.T) {
	header := `sig1=("@method" "@target-uri");created=1700000000;keyid="client-a";alg="ed25519";nonce="abc123"`
	si, err := ParseSignatureInput(header)
	if err != nil {
		t.Fatalf("ParseSignatureInput: %v", err)
	}
	if len(si.Components) != 2 || si.Components[0] != "@method" || si.Components[1] != "@target-uri" {
		t.Fatalf("unexpected components: %v", si.Components)
	}
	if si.Created != 1700000000 || si.KeyID != "client-a" || si.Alg != "ed25519" || si.Nonce != "abc123" {
		t.Fatalf("unexpected parsed fields: %+v", si)
	}
}

func TestParseSignatureInputRejectsMissingParam(t *testing.T) {
	header := `sig1=("@method");created=1700000000;keyid="client-a";alg="ed25519"`
	if _, err := ParseSignatureInput(header); err == nil {
		t.Fatal("expected error for missing nonce parameter")
	}
}

func TestCanonicalMessageCoversDeclaredComponents(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.test/api/query?schema=user", nil)
	si := &SignatureInput{Components: []string{"@method", "@target-uri"}}
	msg := CanonicalMessage(r, si)
	want := "\"@method\": POST\n\"@target-uri\": /api/query?schema=user\n\"@signature-params\": (\"@method\" \"@target-uri\")"
	if msg != want {
		t.Fatalf("canonical message mismatch:\ngot:  %q\nwant: %q", msg, want)
	}
}

func TestVerifyDetachedRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	message := "hello world"
	sig := ed25519.Sign(priv, []byte(message))
	if err := VerifyDetached(pub, message, hex.EncodeToString(sig)); err != nil {
		t.Fatalf("VerifyDetached: %v", err)
	}
	if err := VerifyDetached(pub, "tampered", hex.EncodeToString(sig)); err == nil {
		t.Fatal("expected verification failure for tampered message")
	}
}

func TestNonceStoreRejectsReplay(t *testing.T) {
	store := NewNonceStore(time.Minute, 10)
	if err := store.CheckAndInsert("client-a", "n1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.CheckAndInsert("client-a", "n1"); err == nil {
		t.Fatal("expected replay rejection on second insert of the same nonce")
	}
	if err := store.CheckAndInsert("client-b", "n1"); err != nil {
		t.Fatalf("same nonce for a different client should be accepted: %v", err)
	}
}

func TestNonceStoreEvictsOldestAtCapacity(t *testing.T) {
	store := NewNonceStore(time.Hour, 2)
	if err := store.CheckAndInsert("c", "n1"); err != nil {
		t.Fatalf("insert n1: %v", err)
	}
	if err := store.CheckAndInsert("c", "n2"); err != nil {
		t.Fatalf("insert n2: %v", err)
	}
	if err := store.CheckAndInsert("c", "n3"); err != nil {
		t.Fatalf("insert n3: %v", err)
	}
	// n1 should have been evicted to make room for n3; re-inserting it must succeed.
	if err := store.CheckAndInsert("c", "n1"); err != nil {
		t.Fatalf("expected n1 to have been evicted, got replay rejection: %v", err)
	}
}

func TestValidateFormatRequiresUUID4WhenConfigured(t *testing.T) {
	if err := ValidateFormat("not-a-uuid", true); err == nil {
		t.Fatal("expected rejection of a non-UUID4 nonce")
	}
	if err := ValidateFormat(uuid.New().String(), true); err != nil {
		t.Fatalf("expected a real UUID4 to validate: %v", err)
	}
	if err := ValidateFormat("short-token_123", false); err != nil {
		t.Fatalf("expected a charset-valid token to validate: %v", err)
	}
}

func TestRateLimiterExceedsBudget(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{
		Enabled: true, MaxRequestsPerWindow: 2, WindowSizeSecs: 60,
	})
	if !limiter.Allow("c") || !limiter.Allow("c") {
		t.Fatal("expected the first two requests within budget to be allowed")
	}
	if limiter.Allow("c") {
		t.Fatal("expected the third request to exceed the rate limit")
	}
}

func TestAttackDetectorEscalatesSeverity(t *testing.T) {
	detector := NewAttackDetector(config.AttackDetectionConfig{
		Enabled: true, BruteForceThreshold: 2, BruteForceWindowSecs: 60,
	})
	if sev := detector.RecordBruteForce("c"); sev != SeverityNone {
		t.Fatalf("expected no severity on first failure, got %v", sev)
	}
	if sev := detector.RecordBruteForce("c"); sev != SeverityWarning {
		t.Fatalf("expected warning severity at the threshold, got %v", sev)
	}
	if sev := detector.RecordBruteForce("c"); sev != SeverityWarning {
		t.Fatalf("expected warning severity past the threshold, got %v", sev)
	}
	if sev := detector.RecordBruteForce("c"); sev != SeverityCritical {
		t.Fatalf("expected critical severity at double the threshold, got %v", sev)
	}
}

func newTestRegistrationStore(t *testing.T) *RegistrationStore {
	t.Helper()
	store, err := NewRegistrationStore(newMemTree(), newMemTree(), nil, encryption.ReadOnlyCompatibility)
	if err != nil {
		t.Fatalf("NewRegistrationStore: %v", err)
	}
	return store
}

func TestKeyCacheServesRegisteredKeyAndRejectsRevoked(t *testing.T) {
	store := newTestRegistrationStore(t)
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := store.Register("client-a", pub); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cache := NewKeyCache(store, 16)
	got, err := cache.Lookup("client-a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ed25519.PublicKey(got).Equal(pub) {
		t.Fatal("cached key does not match registered key")
	}

	if err := store.Revoke("client-a"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	cache.Invalidate("client-a")
	if _, err := cache.Lookup("client-a"); err == nil {
		t.Fatal("expected lookup of a revoked client to fail")
	}
}

// buildSignedRequest constructs an authenticated POST request the
// middleware's pipeline should accept end to end.
func buildSignedRequest(t *testing.T, priv ed25519.PrivateKey, keyID, nonce string, created time.Time) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "http://example.test/api/mutate", nil)
	r.RemoteAddr = "10.0.0.1:5555"

	si := &SignatureInput{
		Components: []string{"@method", "@target-uri"},
		Created:    created.Unix(),
		KeyID:      keyID,
		Alg:        "ed25519",
		Nonce:      nonce,
	}

	r.Header.Set("Signature-Input", rawSignatureInputHeader(si))
	message := CanonicalMessage(r, si)
	sig := ed25519.Sign(priv, []byte(message))
	r.Header.Set("Signature", "sig1=:"+hex.EncodeToString(sig)+":")
	return r
}

func rawSignatureInputHeader(si *SignatureInput) string {
	return `sig1=("@method" "@target-uri");created=` + strconv.FormatInt(si.Created, 10) +
		`;keyid="` + si.KeyID + `";alg="` + si.Alg + `";nonce="` + si.Nonce + `"`
}

func newTestMiddleware(t *testing.T, store *RegistrationStore) *Middleware {
	t.Helper()
	cfg := config.NewSignatureAuthConfig(config.ProfileStandard)
	return NewMiddleware(
		cfg,
		NewNonceStore(time.Duration(cfg.NonceTTLSecs)*time.Second, cfg.MaxNonceStoreSize),
		NewKeyCache(store, 64),
		NewRateLimiter(cfg.RateLimiting),
		NewAttackDetector(cfg.AttackDetection),
		dfmetrics.NewAuthHealthCollector(),
		dflog.SecurityLogConfig{Enabled: false},
	)
}

func TestMiddlewareAcceptsValidSignedRequest(t *testing.T) {
	store := newTestRegistrationStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := store.Register("client-a", pub); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mw := newTestMiddleware(t, store)
	called := false
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		ac, ok := ClientFromContext(r.Context())
		if !ok || ac.ClientID != "client-a" {
			t.Fatalf("expected authenticated client in context, got %+v (ok=%v)", ac, ok)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := buildSignedRequest(t, priv, "client-a", uuid.New().String(), time.Now())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected inner handler to be called for a valid request")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareRejectsReplayedNonce(t *testing.T) {
	store := newTestRegistrationStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := store.Register("client-a", pub); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mw := newTestMiddleware(t, store)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	nonce := uuid.New().String()
	req1 := buildSignedRequest(t, priv, "client-a", nonce, time.Now())
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := buildSignedRequest(t, priv, "client-a", nonce, time.Now())
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected replayed nonce to be rejected with 401, got %d", rec2.Code)
	}
}

func TestMiddlewareRejectsStaleTimestamp(t *testing.T) {
	store := newTestRegistrationStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := store.Register("client-a", pub); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mw := newTestMiddleware(t, store)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := buildSignedRequest(t, priv, "client-a", uuid.New().String(), time.Now().Add(-1*time.Hour))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected a stale timestamp to be rejected with 401, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsUnknownClient(t *testing.T) {
	store := newTestRegistrationStore(t)
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	mw := newTestMiddleware(t, store)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := buildSignedRequest(t, priv, "never-registered", uuid.New().String(), time.Now())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected an unregistered client to be rejected with 401, got %d", rec.Code)
	}
}
