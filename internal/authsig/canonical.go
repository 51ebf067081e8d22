package authsig

import (
	"net/http"
	"strings"
)

// CanonicalMessage builds the newline-separated message a signature covers
// (spec.md §4.9 "Canonical message"): one `"<component>": <value>` line per
// covered component in declared order, followed by the signature-params
// line. Missing covered headers are treated as empty strings.
func CanonicalMessage(r *http.Request, si *SignatureInput) string {
	var b strings.Builder
	for _, component := range si.Components {
		b.WriteString(`"`)
		b.WriteString(component)
		b.WriteString(`": `)
		b.WriteString(componentValue(r, component))
		b.WriteString("\n")
	}

	b.WriteString(`"@signature-params": (`)
	for i, component := range si.Components {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(`"`)
		b.WriteString(component)
		b.WriteString(`"`)
	}
	b.WriteString(")")
	return b.String()
}

func componentValue(r *http.Request, component string) string {
	switch component {
	case "@method":
		return strings.ToUpper(r.Method)
	case "@target-uri":
		if r.URL.RawQuery != "" {
			return r.URL.Path + "?" + r.URL.RawQuery
		}
		return r.URL.Path
	default:
		return r.Header.Get(component)
	}
}
