// Package authsig implements the HTTP request signature authentication of
// spec.md §4.9: a net/http middleware running the seven-step validation
// pipeline, backed by a nonce store, a public-key LRU cache, a rate
// limiter, and an attack detector.
package authsig

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ErrorKind tags an AuthenticationError, determining the HTTP status it
// maps to.
type ErrorKind string

const (
	KindMissingHeaders              ErrorKind = "MissingHeaders"
	KindInvalidSignatureFormat      ErrorKind = "InvalidSignatureFormat"
	KindSignatureVerificationFailed ErrorKind = "SignatureVerificationFailed"
	KindTimestampValidationFailed   ErrorKind = "TimestampValidationFailed"
	KindNonceValidationFailed       ErrorKind = "NonceValidationFailed"
	KindPublicKeyLookupFailed       ErrorKind = "PublicKeyLookupFailed"
	KindConfigurationError          ErrorKind = "ConfigurationError"
	KindUnsupportedAlgorithm        ErrorKind = "UnsupportedAlgorithm"
	KindRateLimitExceeded           ErrorKind = "RateLimitExceeded"
)

// AuthenticationError is the typed failure the validation pipeline
// short-circuits on.
type AuthenticationError struct {
	Kind          ErrorKind
	Code          string // machine-readable UPPER_SNAKE code
	Message       string
	CorrelationID uuid.UUID
}

func (e *AuthenticationError) Error() string { return e.Message }

func newAuthErr(kind ErrorKind, code, message string) *AuthenticationError {
	return &AuthenticationError{Kind: kind, Code: code, Message: message, CorrelationID: uuid.New()}
}

// HTTPStatus maps an ErrorKind to the response status spec.md §4.9
// prescribes: 400 for format, 401 for signature/nonce/timestamp/key, 429
// for rate limit, 500 for configuration.
func (e *AuthenticationError) HTTPStatus() int {
	switch e.Kind {
	case KindMissingHeaders, KindInvalidSignatureFormat, KindUnsupportedAlgorithm:
		return http.StatusBadRequest
	case KindSignatureVerificationFailed, KindTimestampValidationFailed, KindNonceValidationFailed, KindPublicKeyLookupFailed:
		return http.StatusUnauthorized
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AuthenticatedClient is attached to the request context on success.
type AuthenticatedClient struct {
	ClientID string
}

type contextKey int

const authenticatedClientKey contextKey = iota

// withAuthenticatedClient returns a copy of r carrying ac in its context.
func withAuthenticatedClient(r *http.Request, ac AuthenticatedClient) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), authenticatedClientKey, ac))
}

// ClientFromContext returns the AuthenticatedClient the middleware attached,
// if any.
func ClientFromContext(ctx context.Context) (AuthenticatedClient, bool) {
	ac, ok := ctx.Value(authenticatedClientKey).(AuthenticatedClient)
	return ac, ok
}
