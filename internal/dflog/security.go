package dflog

// Severity orders security events so SecurityLog can filter against a
// configured floor (security_logging.min_severity in spec.md §6).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SecurityLogConfig mirrors signature_auth's security_logging config block.
type SecurityLogConfig struct {
	Enabled                  bool
	MinSeverity               Severity
	IncludeCorrelationIDs     bool
	IncludeClientInfo         bool
	IncludePerformanceMetrics bool
	LogSuccessfulAuth         bool
	MaxLogEntrySize           int
}

// SecurityLog records a single authentication/attack-detection event if it
// clears the configured severity floor. kind is a machine code such as
// "NONCE_VALIDATION_FAILED" or "BRUTE_FORCE_DETECTED".
func SecurityLog(cfg SecurityLogConfig, severity Severity, kind, correlationID, clientID string, fields map[string]string) {
	if !cfg.Enabled || severity < cfg.MinSeverity {
		return
	}

	evt := Logger.WithLevel(severityToZerolog(severity)).Str("event_kind", kind)
	if cfg.IncludeCorrelationIDs && correlationID != "" {
		evt = evt.Str("correlation_id", correlationID)
	}
	if cfg.IncludeClientInfo && clientID != "" {
		evt = evt.Str("client_id", clientID)
	}
	for k, v := range fields {
		if cfg.MaxLogEntrySize > 0 && len(v) > cfg.MaxLogEntrySize {
			v = v[:cfg.MaxLogEntrySize]
		}
		evt = evt.Str(k, v)
	}
	evt.Msg("security event")
}
