package authsig

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/encryption"
	"github.com/datafold/datafold/internal/kv"
)

// RegistrationStatus is the lifecycle state of a client's public key.
type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "active"
	RegistrationRevoked   RegistrationStatus = "revoked"
	RegistrationSuspended RegistrationStatus = "suspended"
)

// Registration is a client's registered signing key, stored one-per-client
// in the public_key_registrations tree and indexed by client id in
// client_key_index.
type Registration struct {
	RegistrationID uuid.UUID          `json:"registration_id"`
	ClientID       string             `json:"client_id"`
	PublicKey      string             `json:"public_key"` // hex-encoded 32-byte Ed25519 key
	Status         RegistrationStatus `json:"status"`
	RegisteredAt   time.Time          `json:"registered_at"`
	LastUsedAt     *time.Time         `json:"last_used_at,omitempty"`
}

// RegistrationStore persists client public keys, encrypted under
// encryption.ContextRegistration — grounded the same way pkg/manager/token.go
// persists join tokens over a dedicated bucket.
type RegistrationStore struct {
	byID     *encryption.Wrapper // public_key_registrations: registration_id -> Registration
	byClient *encryption.Wrapper // client_key_index: client_id -> registration_id
}

// NewRegistrationStore wraps the two named trees for registration-context
// encrypted access.
func NewRegistrationStore(registrations, clientIndex kv.Tree, keys *encryption.KeyManager, mode encryption.MigrationMode) (*RegistrationStore, error) {
	byID, err := encryption.NewWrapper(registrations, keys, encryption.ContextRegistration, mode)
	if err != nil {
		return nil, fmt.Errorf("authsig: registration store: %w", err)
	}
	byClient, err := encryption.NewWrapper(clientIndex, keys, encryption.ContextRegistration, mode)
	if err != nil {
		return nil, fmt.Errorf("authsig: registration store: %w", err)
	}
	return &RegistrationStore{byID: byID, byClient: byClient}, nil
}

// Register creates an active registration for clientID with the given
// Ed25519 public key, replacing any prior registration for that client.
func (s *RegistrationStore) Register(clientID string, publicKey ed25519.PublicKey) (*Registration, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("authsig: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	reg := &Registration{
		RegistrationID: uuid.New(),
		ClientID:       clientID,
		PublicKey:      hex.EncodeToString(publicKey),
		Status:         RegistrationActive,
		RegisteredAt:   time.Now().UTC(),
	}
	if err := s.byID.Put([]byte(reg.RegistrationID.String()), reg); err != nil {
		return nil, fmt.Errorf("authsig: failed to persist registration: %w", err)
	}
	if err := s.byClient.Put([]byte(clientID), reg.RegistrationID.String()); err != nil {
		return nil, fmt.Errorf("authsig: failed to index registration: %w", err)
	}
	return reg, nil
}

// Lookup resolves a client's current registration, or (nil, false) if the
// client has never registered a key.
func (s *RegistrationStore) Lookup(clientID string) (*Registration, bool, error) {
	var regID string
	found, err := s.byClient.Get([]byte(clientID), &regID)
	if err != nil || !found {
		return nil, false, err
	}
	var reg Registration
	found, err = s.byID.Get([]byte(regID), &reg)
	if err != nil || !found {
		return nil, false, err
	}
	return &reg, true, nil
}

// Revoke marks clientID's registration as revoked; future lookups still
// resolve it (so callers can distinguish "unknown client" from "revoked
// client") but authentication must reject a revoked key.
func (s *RegistrationStore) Revoke(clientID string) error {
	reg, found, err := s.Lookup(clientID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("authsig: no registration for client %q", clientID)
	}
	reg.Status = RegistrationRevoked
	return s.byID.Put([]byte(reg.RegistrationID.String()), reg)
}

// Suspend marks clientID's registration as suspended — a reversible hold
// short of Revoke, e.g. pending a manual review.
func (s *RegistrationStore) Suspend(clientID string) error {
	reg, found, err := s.Lookup(clientID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("authsig: no registration for client %q", clientID)
	}
	reg.Status = RegistrationSuspended
	return s.byID.Put([]byte(reg.RegistrationID.String()), reg)
}

// TouchLastUsed stamps a registration's last-used timestamp after a
// successful authentication.
func (s *RegistrationStore) TouchLastUsed(clientID string) error {
	reg, found, err := s.Lookup(clientID)
	if err != nil || !found {
		return err
	}
	now := time.Now().UTC()
	reg.LastUsedAt = &now
	return s.byID.Put([]byte(reg.RegistrationID.String()), reg)
}
