package authsig

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
)

// VerifyDetached checks a hex-encoded Ed25519 signature against message,
// independent of the live request pipeline — the supplemented offline
// verification path of spec.md §6 (POST /api/crypto/signatures/verify).
func VerifyDetached(pubkey ed25519.PublicKey, message, signatureHex string) error {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_NOT_HEX", "signature is not valid hex")
	}
	if len(sig) != ed25519.SignatureSize {
		return newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_WRONG_SIZE", "signature has the wrong length for Ed25519")
	}
	if !ed25519.Verify(pubkey, []byte(message), sig) {
		return newAuthErr(KindSignatureVerificationFailed, "SIGNATURE_MISMATCH", "signature does not verify against the canonical message")
	}
	return nil
}

// ParseSignatureHeader extracts the hex-encoded signature value from a
// Signature header in the "sig1=:<hex>:" form (§6 grammar, mirroring
// Signature-Input's sig1= labeling).
func ParseSignatureHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	const prefix = "sig1=:"
	const suffix = ":"
	if !strings.HasPrefix(header, prefix) || !strings.HasSuffix(header, suffix) || len(header) <= len(prefix)+len(suffix)-1 {
		return "", newAuthErr(KindInvalidSignatureFormat, "SIGNATURE_MISSING_LABEL", "Signature header must be sig1=:<hex>:")
	}
	return header[len(prefix) : len(header)-len(suffix)], nil
}
