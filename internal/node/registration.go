package node

import (
	"crypto/ed25519"

	"github.com/datafold/datafold/internal/authsig"
)

// RegisterClientKey implements the unauthenticated `/api/crypto/keys/register`
// endpoint of spec.md §6 — it is on the signature-auth skip list, so the
// caller is expected to have validated the request by other means (a
// one-time enrollment token, an admin session) before calling this.
func (n *Node) RegisterClientKey(clientID string, publicKey ed25519.PublicKey) (*authsig.Registration, error) {
	reg, err := n.Registrations.Register(clientID, publicKey)
	if err != nil {
		return nil, err
	}
	n.KeyCache.Invalidate(clientID)
	return reg, nil
}

// RevokeClientKey transitions clientID's registration to revoked and drops
// it from the key cache so the next request fails key lookup immediately.
func (n *Node) RevokeClientKey(clientID string) error {
	if err := n.Registrations.Revoke(clientID); err != nil {
		return err
	}
	n.KeyCache.Invalidate(clientID)
	return nil
}

// VerifySignature implements the supplemented offline verification endpoint
// `POST /api/crypto/signatures/verify` (SPEC_FULL.md §4), independent of the
// live request pipeline.
func (n *Node) VerifySignature(publicKey ed25519.PublicKey, message, signatureHex string) error {
	return authsig.VerifyDetached(publicKey, message, signatureHex)
}

// CryptoStatus reports whether encryption at rest is enabled and, if so,
// which master-key source produced the active key. Unlike the original
// actix-web crypto-init routes this wraps, the master key is resolved once
// at Open time from cfg.Crypto rather than through a runtime init call, so
// there is nothing left to initialize here — this only ever reports state.
func (n *Node) CryptoStatus() (enabled bool, source string) {
	if n.cfg.Crypto == nil || !n.cfg.Crypto.Enabled {
		return false, ""
	}
	return true, string(n.cfg.Crypto.MasterKeySource)
}
