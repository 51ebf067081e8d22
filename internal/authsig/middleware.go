package authsig

import (
	"net/http"
	"time"

	"github.com/datafold/datafold/internal/config"
	"github.com/datafold/datafold/internal/dflog"
	"github.com/datafold/datafold/internal/dfmetrics"
)

// Middleware runs the seven-step request signature validation pipeline of
// spec.md §4.9 in front of a net/http handler, in the teacher's
// ingress.Middleware wrapping idiom.
type Middleware struct {
	cfg        config.SignatureAuthConfig
	nonces     *NonceStore
	keys       *KeyCache
	limiter    *RateLimiter
	attacks    *AttackDetector
	health     *dfmetrics.AuthHealthCollector
	logCfg     dflog.SecurityLogConfig
}

// NewMiddleware builds a Middleware wiring the nonce store, key cache, rate
// limiter, and attack detector behind one signature_auth config tree. The
// client id used throughout the pipeline is the keyid parsed from
// Signature-Input.
func NewMiddleware(cfg config.SignatureAuthConfig, nonces *NonceStore, keys *KeyCache, limiter *RateLimiter, attacks *AttackDetector, health *dfmetrics.AuthHealthCollector, logCfg dflog.SecurityLogConfig) *Middleware {
	return &Middleware{
		cfg:     cfg,
		nonces:  nonces,
		keys:    keys,
		limiter: limiter,
		attacks: attacks,
		health:  health,
		logCfg:  logCfg,
	}
}

// Wrap returns next guarded by the validation pipeline.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ac, err := m.authenticate(r)
		elapsed := time.Since(start)

		if m.cfg.ResponseSecurity.ConsistentTiming {
			m.padToBaseline(elapsed)
		}

		if err != nil {
			m.reject(w, r, err)
			return
		}

		dfmetrics.AuthRequestsTotal.WithLabelValues("success").Inc()
		dfmetrics.AuthLatency.WithLabelValues("success").Observe(time.Since(start).Seconds())
		if m.cfg.SecurityLogging.LogSuccessfulAuth {
			dflog.SecurityLog(m.logCfg, dflog.SeverityInfo, "AUTH_SUCCESS", "", ac.ClientID, nil)
		}

		next.ServeHTTP(w, withAuthenticatedClient(r, ac))
	})
}

// authenticate runs the seven validation steps in strict order, returning
// as soon as one fails.
func (m *Middleware) authenticate(r *http.Request) (AuthenticatedClient, error) {
	// Step 1: rate limit, keyed on a best-effort client identity (remote
	// addr) since the signature hasn't been parsed yet.
	provisionalClient := r.RemoteAddr
	if !m.limiter.Allow(provisionalClient) {
		return AuthenticatedClient{}, newAuthErr(KindRateLimitExceeded, "RATE_LIMIT_EXCEEDED", "too many requests")
	}

	// Step 2: parse Signature-Input.
	header := r.Header.Get("Signature-Input")
	sigHeader := r.Header.Get("Signature")
	if header == "" || sigHeader == "" {
		return AuthenticatedClient{}, newAuthErr(KindMissingHeaders, "MISSING_SIGNATURE_HEADERS", "Signature-Input and Signature headers are required")
	}
	si, err := ParseSignatureInput(header)
	if err != nil {
		return AuthenticatedClient{}, err
	}

	client := si.KeyID

	// Step 3: required components present.
	covered := make(map[string]bool, len(si.Components))
	for _, c := range si.Components {
		covered[c] = true
	}
	for _, required := range m.cfg.RequiredSignatureComponents {
		if !covered[required] {
			return AuthenticatedClient{}, newAuthErr(KindMissingHeaders, "MISSING_REQUIRED_COMPONENT", "signature does not cover a required component: "+required)
		}
	}

	// Step 4: timestamp / clock skew.
	createdAt := time.Unix(si.Created, 0)
	now := time.Now()
	window := m.cfg.TimestampWindow()
	if now.Sub(createdAt) > window {
		m.recordFailure(client, "TIMESTAMP_TOO_OLD")
		return AuthenticatedClient{}, newAuthErr(KindTimestampValidationFailed, "TIMESTAMP_TOO_OLD", "signature timestamp is outside the allowed window")
	}
	maxFuture := time.Duration(m.cfg.MaxFutureTimestampSecs) * time.Second
	if createdAt.Sub(now) > maxFuture {
		m.recordFailure(client, "TIMESTAMP_TOO_FAR_FUTURE")
		return AuthenticatedClient{}, newAuthErr(KindTimestampValidationFailed, "TIMESTAMP_TOO_FAR_FUTURE", "signature timestamp is too far in the future")
	}

	// Step 5: nonce format and replay.
	if err := ValidateFormat(si.Nonce, m.cfg.RequireUUID4Nonces); err != nil {
		m.recordReplayFailure(client)
		return AuthenticatedClient{}, err
	}
	if err := m.nonces.CheckAndInsert(client, si.Nonce); err != nil {
		m.recordReplayFailure(client)
		return AuthenticatedClient{}, err
	}

	// Step 6: key lookup.
	pub, err := m.keys.Lookup(client)
	if err != nil {
		m.recordFailure(client, "PUBLIC_KEY_LOOKUP_FAILED")
		return AuthenticatedClient{}, err
	}

	// Step 7: Ed25519 verify over the canonical message.
	sigHex, err := ParseSignatureHeader(sigHeader)
	if err != nil {
		m.recordFailure(client, "SIGNATURE_HEADER_MALFORMED")
		return AuthenticatedClient{}, err
	}
	message := CanonicalMessage(r, si)
	if err := VerifyDetached(pub, message, sigHex); err != nil {
		m.recordFailure(client, "SIGNATURE_VERIFICATION_FAILED")
		return AuthenticatedClient{}, err
	}

	return AuthenticatedClient{ClientID: client}, nil
}

func (m *Middleware) recordFailure(client, code string) {
	m.limiter.RecordFailure(client)
	severity := m.attacks.RecordBruteForce(client)
	if severity != SeverityNone {
		dfmetrics.AttackPatternsDetected.WithLabelValues("brute_force").Inc()
		dflog.SecurityLog(m.logCfg, dflog.SeverityError, "BRUTE_FORCE_DETECTED", "", client, map[string]string{"reason": code, "severity": string(severity)})
	}
	dflog.SecurityLog(m.logCfg, dflog.SeverityWarning, code, "", client, nil)
}

func (m *Middleware) recordReplayFailure(client string) {
	m.limiter.RecordFailure(client)
	severity := m.attacks.RecordReplay(client)
	if severity != SeverityNone {
		dfmetrics.AttackPatternsDetected.WithLabelValues("replay").Inc()
		dflog.SecurityLog(m.logCfg, dflog.SeverityError, "REPLAY_ATTACK_DETECTED", "", client, map[string]string{"severity": string(severity)})
	}
}

// padToBaseline sleeps out the remainder of the attack_detection
// base_response_delay_ms budget, so failure responses don't leak timing
// information about which validation step rejected the request.
func (m *Middleware) padToBaseline(elapsed time.Duration) {
	baseline := time.Duration(m.cfg.AttackDetection.BaseResponseDelayMs) * time.Millisecond
	if remaining := baseline - elapsed; remaining > 0 {
		time.Sleep(remaining)
	}
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	dfmetrics.AuthRequestsTotal.WithLabelValues("rejected").Inc()

	authErr, ok := err.(*AuthenticationError)
	if !ok {
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	if m.cfg.ResponseSecurity.IncludeSecurityHeaders {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	if m.cfg.ResponseSecurity.IncludeCorrelationID {
		w.Header().Set("X-Correlation-ID", authErr.CorrelationID.String())
	}

	message := "authentication failed"
	if m.cfg.ResponseSecurity.DetailedErrorMessages {
		message = authErr.Message
	}
	http.Error(w, message, authErr.HTTPStatus())
}
