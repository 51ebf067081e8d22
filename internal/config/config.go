// Package config declares the configuration surface enumerated in spec.md
// §6. Reading these structs from a file on disk is an external
// collaborator's job and out of scope; this package only owns the shapes,
// defaults, and the Strict/Standard/Lenient profile presets.
package config

import "time"

// MasterKeySource selects how the crypto subsystem obtains its master key.
type MasterKeySource string

const (
	MasterKeyRandom     MasterKeySource = "random"
	MasterKeyPassphrase MasterKeySource = "passphrase"
	MasterKeyExternal   MasterKeySource = "external"
)

// CryptoConfig controls the encryption-at-rest subsystem (C2/C3).
type CryptoConfig struct {
	Enabled         bool            `yaml:"enabled"`
	MasterKeySource MasterKeySource `yaml:"master_key_source"`
	Passphrase      string          `yaml:"passphrase,omitempty"`
	// ExternalSource names the environment variable holding a base64-encoded
	// 32-byte master key when MasterKeySource is "external" (see DESIGN.md
	// Open Questions — External{key_source}).
	ExternalSource   string         `yaml:"external_source,omitempty"`
	KeyDerivation    KDFParams      `yaml:"key_derivation"`
}

// KDFParams are the tunable Argon2id cost parameters of spec.md §4.2.
type KDFParams struct {
	MemoryCostKiB uint32 `yaml:"memory_cost"`
	TimeCost      uint32 `yaml:"time_cost"`
	Parallelism   uint8  `yaml:"parallelism"`
}

// DefaultKDFParams mirrors Argon2id's recommended interactive profile.
func DefaultKDFParams() KDFParams {
	return KDFParams{MemoryCostKiB: 64 * 1024, TimeCost: 3, Parallelism: 2}
}

// SecurityProfile selects one of the three named presets of spec.md §6.
type SecurityProfile string

const (
	ProfileStrict   SecurityProfile = "strict"
	ProfileStandard SecurityProfile = "standard"
	ProfileLenient  SecurityProfile = "lenient"
)

// RateLimitConfig is the signature_auth.rate_limiting config block.
type RateLimitConfig struct {
	Enabled                 bool `yaml:"enabled"`
	MaxRequestsPerWindow    int  `yaml:"max_requests_per_window"`
	WindowSizeSecs          int  `yaml:"window_size_secs"`
	TrackFailuresSeparately bool `yaml:"track_failures_separately"`
	MaxFailuresPerWindow    int  `yaml:"max_failures_per_window"`
}

// AttackDetectionConfig is the signature_auth.attack_detection config block.
type AttackDetectionConfig struct {
	Enabled               bool `yaml:"enabled"`
	BruteForceThreshold   int  `yaml:"brute_force_threshold"`
	BruteForceWindowSecs  int  `yaml:"brute_force_window_secs"`
	ReplayThreshold       int  `yaml:"replay_threshold"`
	EnableTimingProtection bool `yaml:"enable_timing_protection"`
	BaseResponseDelayMs   int  `yaml:"base_response_delay_ms"`
}

// ResponseSecurityConfig is the signature_auth.response_security block.
type ResponseSecurityConfig struct {
	IncludeSecurityHeaders bool `yaml:"include_security_headers"`
	ConsistentTiming       bool `yaml:"consistent_timing"`
	DetailedErrorMessages  bool `yaml:"detailed_error_messages"`
	IncludeCorrelationID   bool `yaml:"include_correlation_id"`
}

// SecurityLoggingConfig is the signature_auth.security_logging block.
type SecurityLoggingConfig struct {
	Enabled                   bool   `yaml:"enabled"`
	MinSeverity               string `yaml:"min_severity"`
	IncludeCorrelationIDs     bool   `yaml:"include_correlation_ids"`
	IncludeClientInfo         bool   `yaml:"include_client_info"`
	IncludePerformanceMetrics bool   `yaml:"include_performance_metrics"`
	LogSuccessfulAuth         bool   `yaml:"log_successful_auth"`
	MaxLogEntrySize           int    `yaml:"max_log_entry_size"`
}

// SignatureAuthConfig is the full signature_auth config tree of spec.md §6.
type SignatureAuthConfig struct {
	SecurityProfile            SecurityProfile        `yaml:"security_profile"`
	AllowedTimeWindowSecs      int                    `yaml:"allowed_time_window_secs"`
	ClockSkewToleranceSecs     int                    `yaml:"clock_skew_tolerance_secs"`
	NonceTTLSecs               int                    `yaml:"nonce_ttl_secs"`
	MaxNonceStoreSize          int                    `yaml:"max_nonce_store_size"`
	EnforceRFC3339Timestamps   bool                   `yaml:"enforce_rfc3339_timestamps"`
	RequireUUID4Nonces         bool                   `yaml:"require_uuid4_nonces"`
	MaxFutureTimestampSecs     int                    `yaml:"max_future_timestamp_secs"`
	RequiredSignatureComponents []string              `yaml:"required_signature_components"`
	RateLimiting               RateLimitConfig        `yaml:"rate_limiting"`
	AttackDetection            AttackDetectionConfig  `yaml:"attack_detection"`
	ResponseSecurity           ResponseSecurityConfig `yaml:"response_security"`
	SecurityLogging            SecurityLoggingConfig  `yaml:"security_logging"`
}

// TimestampWindow returns the allowed window plus clock-skew tolerance used
// by step 4 of the validation pipeline.
func (c SignatureAuthConfig) TimestampWindow() time.Duration {
	return time.Duration(c.AllowedTimeWindowSecs+c.ClockSkewToleranceSecs) * time.Second
}

// NewSignatureAuthConfig builds the named preset of spec.md §6.
func NewSignatureAuthConfig(profile SecurityProfile) SignatureAuthConfig {
	switch profile {
	case ProfileStrict:
		return SignatureAuthConfig{
			SecurityProfile:        ProfileStrict,
			AllowedTimeWindowSecs:  60,
			ClockSkewToleranceSecs: 5,
			NonceTTLSecs:           120,
			MaxNonceStoreSize:      100_000,
			RequireUUID4Nonces:     true,
			MaxFutureTimestampSecs: 5,
			RequiredSignatureComponents: []string{"@method", "@target-uri"},
			RateLimiting: RateLimitConfig{
				Enabled: true, MaxRequestsPerWindow: 60, WindowSizeSecs: 60,
				TrackFailuresSeparately: true, MaxFailuresPerWindow: 5,
			},
			AttackDetection: AttackDetectionConfig{
				Enabled: true, BruteForceThreshold: 5, BruteForceWindowSecs: 60,
				ReplayThreshold: 3, EnableTimingProtection: true, BaseResponseDelayMs: 50,
			},
			ResponseSecurity: ResponseSecurityConfig{
				IncludeSecurityHeaders: true, ConsistentTiming: true,
				DetailedErrorMessages: false, IncludeCorrelationID: true,
			},
			SecurityLogging: SecurityLoggingConfig{
				Enabled: true, MinSeverity: "info", IncludeCorrelationIDs: true,
				IncludeClientInfo: true, IncludePerformanceMetrics: true,
				LogSuccessfulAuth: true, MaxLogEntrySize: 4096,
			},
		}
	case ProfileLenient:
		return SignatureAuthConfig{
			SecurityProfile:        ProfileLenient,
			AllowedTimeWindowSecs:  600,
			ClockSkewToleranceSecs: 120,
			NonceTTLSecs:           1800,
			MaxNonceStoreSize:      100_000,
			RequireUUID4Nonces:     false,
			MaxFutureTimestampSecs: 300,
			RequiredSignatureComponents: []string{"@method", "@target-uri"},
			RateLimiting: RateLimitConfig{Enabled: false},
			AttackDetection: AttackDetectionConfig{
				Enabled: false, EnableTimingProtection: false,
			},
			ResponseSecurity: ResponseSecurityConfig{
				IncludeSecurityHeaders: true, ConsistentTiming: false,
				DetailedErrorMessages: true, IncludeCorrelationID: true,
			},
			SecurityLogging: SecurityLoggingConfig{
				Enabled: true, MinSeverity: "warning", IncludeCorrelationIDs: true,
				IncludeClientInfo: true, MaxLogEntrySize: 4096,
			},
		}
	default: // ProfileStandard
		return SignatureAuthConfig{
			SecurityProfile:        ProfileStandard,
			AllowedTimeWindowSecs:  300,
			ClockSkewToleranceSecs: 30,
			NonceTTLSecs:           600,
			MaxNonceStoreSize:      100_000,
			RequireUUID4Nonces:     true,
			MaxFutureTimestampSecs: 60,
			RequiredSignatureComponents: []string{"@method", "@target-uri"},
			RateLimiting: RateLimitConfig{
				Enabled: true, MaxRequestsPerWindow: 300, WindowSizeSecs: 60,
				TrackFailuresSeparately: true, MaxFailuresPerWindow: 20,
			},
			AttackDetection: AttackDetectionConfig{
				Enabled: true, BruteForceThreshold: 10, BruteForceWindowSecs: 300,
				ReplayThreshold: 5, EnableTimingProtection: true, BaseResponseDelayMs: 25,
			},
			ResponseSecurity: ResponseSecurityConfig{
				IncludeSecurityHeaders: true, ConsistentTiming: true,
				DetailedErrorMessages: false, IncludeCorrelationID: true,
			},
			SecurityLogging: SecurityLoggingConfig{
				Enabled: true, MinSeverity: "warning", IncludeCorrelationIDs: true,
				IncludeClientInfo: true, IncludePerformanceMetrics: true,
				MaxLogEntrySize: 4096,
			},
		}
	}
}

// NodeConfig is the top-level node configuration of spec.md §6.
type NodeConfig struct {
	StoragePath          string              `yaml:"storage_path"`
	DefaultTrustDistance  int                `yaml:"default_trust_distance"`
	Crypto               *CryptoConfig       `yaml:"crypto,omitempty"`
	SignatureAuth         SignatureAuthConfig `yaml:"signature_auth"`
}
