// Package dfcrypto provides the primitive cryptographic operations
// DataFold's encryption-at-rest and signature-auth subsystems are built
// from: Ed25519 signatures, Argon2id key derivation, and AES-256-GCM
// authenticated encryption (spec.md §4.2).
package dfcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// ErrPlaintextTooLarge is returned by Seal when the plaintext exceeds the
// 100 MiB per-call ceiling spec.md §4.2 mandates.
var ErrPlaintextTooLarge = fmt.Errorf("dfcrypto: plaintext exceeds maximum size of %d bytes", MaxPlaintextSize)

// MaxPlaintextSize is the hard ceiling on a single Seal/Open call.
const MaxPlaintextSize = 100 * 1024 * 1024

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// NonceSize is the AES-GCM standard nonce length in bytes.
const NonceSize = 12

// Keypair wraps an Ed25519 signing keypair.
type Keypair struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("dfcrypto: failed to generate keypair: %w", err)
	}
	return &Keypair{Public: pub, private: priv}, nil
}

// KeypairFromPrivate wraps an existing 64-byte Ed25519 private key.
func KeypairFromPrivate(priv ed25519.PrivateKey) (*Keypair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("dfcrypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[32:])
	return &Keypair{Public: pub, private: priv}, nil
}

// Sign produces a 64-byte Ed25519 signature over message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// Zero overwrites the private key material so it is never retained in
// memory longer than necessary (spec.md §4.2 "key material must be
// zeroized on drop").
func (k *Keypair) Zero() {
	zeroize(k.private)
}

// Verify checks a 64-byte Ed25519 signature over message against a raw
// 32-byte public key.
func Verify(public ed25519.PublicKey, message, signature []byte) error {
	if len(public) != ed25519.PublicKeySize {
		return fmt.Errorf("dfcrypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(public))
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("dfcrypto: signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	if !ed25519.Verify(public, message, signature) {
		return fmt.Errorf("dfcrypto: signature verification failed")
	}
	return nil
}

// KDFParams are the tunable Argon2id cost parameters.
type KDFParams struct {
	MemoryCostKiB uint32
	TimeCost      uint32
	Parallelism   uint8
}

// DeriveMasterKey derives a 32-byte master key from a passphrase and a
// 16-byte random salt using Argon2id (spec.md §4.2).
func DeriveMasterKey(passphrase string, salt [16]byte, params KDFParams) [32]byte {
	key := argon2.IDKey([]byte(passphrase), salt[:], params.TimeCost, params.MemoryCostKiB, params.Parallelism, KeySize)
	var out [32]byte
	copy(out[:], key)
	zeroize(key)
	return out
}

// NewSalt generates a fresh random 16-byte salt for DeriveMasterKey.
func NewSalt() ([16]byte, error) {
	var salt [16]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, fmt.Errorf("dfcrypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext with AES-256-GCM under key, returning a fresh
// random 12-byte nonce and the ciphertext-with-tag.
func Seal(key [32]byte, plaintext []byte) (nonce, ciphertext []byte, err error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, nil, ErrPlaintextTooLarge
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("dfcrypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("dfcrypto: failed to create GCM: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("dfcrypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts and authenticates ciphertext produced by Seal.
func Open(key [32]byte, nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > MaxPlaintextSize+16 {
		return nil, ErrPlaintextTooLarge
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("dfcrypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("dfcrypto: failed to create GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("dfcrypto: invalid nonce size %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("dfcrypto: decryption failed: %w", err)
	}
	return plaintext, nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
