package authsig

import (
	"fmt"
	"strconv"
	"strings"
)

// SignatureInput is the parsed form of a Signature-Input header value
// (spec.md §6 grammar):
//
//	sig1=("@method" "@target-uri" <headers...>);created=<unix>;keyid="<id>";alg="<alg>";nonce="<nonce>"
type SignatureInput struct {
	Components []string
	Created    int64
	KeyID      string
	Alg        string
	Nonce      string
}

// ParseSignatureInput parses the sig1=(...);param=value;... grammar,
// extracting the covered-components list and the four required
// parameters.
func ParseSignatureInput(header string) (*SignatureInput, error) {
	header = strings.TrimSpace(header)
	const prefix = "sig1="
	if !strings.HasPrefix(header, prefix) {
		return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_MISSING_LABEL", "Signature-Input must start with sig1=")
	}
	rest := header[len(prefix):]

	open := strings.IndexByte(rest, '(')
	shut := strings.IndexByte(rest, ')')
	if open != 0 || shut < 0 || shut < open {
		return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_MALFORMED_COMPONENTS", "Signature-Input component list is malformed")
	}

	componentList := rest[open+1 : shut]
	components, err := parseQuotedList(componentList)
	if err != nil {
		return nil, err
	}

	params, err := parseParams(rest[shut+1:])
	if err != nil {
		return nil, err
	}

	si := &SignatureInput{Components: components}
	for key, value := range params {
		switch key {
		case "created":
			created, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_BAD_CREATED", "created parameter is not a valid unix timestamp")
			}
			si.Created = created
		case "keyid":
			si.KeyID = value
		case "alg":
			si.Alg = value
		case "nonce":
			si.Nonce = value
		}
	}

	if si.Created == 0 || si.KeyID == "" || si.Alg == "" || si.Nonce == "" {
		return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_MISSING_PARAM", "Signature-Input is missing a required parameter")
	}
	return si, nil
}

func parseQuotedList(s string) ([]string, error) {
	var out []string
	fields := strings.Fields(s)
	for _, f := range fields {
		unquoted, err := unquote(f)
		if err != nil {
			return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_BAD_COMPONENT", fmt.Sprintf("component %q is not a quoted string", f))
		}
		out = append(out, unquoted)
	}
	return out, nil
}

// parseParams parses the ";key=value;key=\"value\"" suffix following the
// component list.
func parseParams(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_BAD_PARAM", fmt.Sprintf("malformed parameter %q", part))
		}
		key := part[:eq]
		value := part[eq+1:]
		if strings.HasPrefix(value, `"`) {
			unquoted, err := unquote(value)
			if err != nil {
				return nil, newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_INPUT_BAD_PARAM", fmt.Sprintf("malformed quoted value for %q", key))
			}
			value = unquoted
		}
		out[key] = value
	}
	return out, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("not a quoted string: %q", s)
	}
	return s[1 : len(s)-1], nil
}
