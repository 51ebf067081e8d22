package dflog

import "github.com/rs/zerolog"

func severityToZerolog(s Severity) zerolog.Level {
	switch s {
	case SeverityWarning:
		return zerolog.WarnLevel
	case SeverityError:
		return zerolog.ErrorLevel
	case SeverityCritical:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
