// Package encryption implements the encryption-at-rest wrapper of spec.md
// §4.3: per-context derived keys, a backward-compatible encrypted
// envelope, and online migration between plaintext and encrypted storage.
package encryption

import (
	"encoding/json"
	"fmt"

	"github.com/datafold/datafold/internal/dfcrypto"
	"github.com/datafold/datafold/internal/kv"
)

// MigrationMode selects how the wrapper treats legacy (unencrypted) bytes
// on read and write, per spec.md §4.3.
type MigrationMode int

const (
	// ReadOnlyCompatibility accepts both forms on read, writes pass
	// through unencrypted, and corrupted legacy bytes are treated as
	// absent rather than an error.
	ReadOnlyCompatibility MigrationMode = iota
	// Gradual accepts both forms on read and writes encrypted envelopes;
	// corrupt legacy bytes are a hard read error.
	Gradual
	// Full only ever writes encrypted envelopes and requires an explicit
	// batch migration to convert any remaining legacy data.
	Full
)

// Wrapper implements the storage/read contract of spec.md §4.3 over one
// kv.Tree, for one encryption context.
type Wrapper struct {
	tree    kv.Tree
	keys    *KeyManager
	context Context
	mode    MigrationMode
}

// NewWrapper builds a Wrapper. keys may be nil only when mode is
// ReadOnlyCompatibility (a wrapper that never needs to encrypt); Gradual
// and Full both require a KeyManager.
func NewWrapper(tree kv.Tree, keys *KeyManager, ctx Context, mode MigrationMode) (*Wrapper, error) {
	if keys == nil && mode != ReadOnlyCompatibility {
		return nil, fmt.Errorf("encryption: mode %v requires encryption capabilities", mode)
	}
	return &Wrapper{tree: tree, keys: keys, context: ctx, mode: mode}, nil
}

// Put serializes value to canonical JSON bytes, encrypts it under the
// wrapper's context key (unless the mode says otherwise), and writes the
// result at key.
func (w *Wrapper) Put(key []byte, value any) error {
	canonical, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encryption: failed to serialize value: %w", err)
	}

	if w.mode == ReadOnlyCompatibility {
		return w.tree.Put(key, canonical)
	}

	envelopeBytes, err := w.encrypt(canonical)
	if err != nil {
		return err
	}
	return w.tree.Put(key, envelopeBytes)
}

// Get fetches raw bytes at key and decodes them into out, following the
// read contract: sniff the envelope magic, decrypt if present, else fall
// through to legacy decode.
func (w *Wrapper) Get(key []byte, out any) (bool, error) {
	raw, found, err := w.tree.Get(key)
	if err != nil {
		return false, fmt.Errorf("encryption: storage read failed: %w", err)
	}
	if !found {
		return false, nil
	}

	if IsEnvelope(raw) {
		canonical, err := w.decryptEnvelope(raw)
		if err != nil {
			return false, err
		}
		if err := json.Unmarshal(canonical, out); err != nil {
			return false, fmt.Errorf("encryption: failed to deserialize decrypted value: %w", err)
		}
		return true, nil
	}

	// Legacy fall-through: treat raw bytes as canonical serialization.
	if err := json.Unmarshal(raw, out); err != nil {
		if w.mode == ReadOnlyCompatibility {
			// Corrupted legacy bytes are shielded from the caller.
			return false, nil
		}
		return false, fmt.Errorf("encryption: corrupt legacy data at key: %w", err)
	}
	return true, nil
}

// Delete removes the entry at key regardless of its storage form.
func (w *Wrapper) Delete(key []byte) error {
	return w.tree.Delete(key)
}

func (w *Wrapper) encrypt(canonical []byte) ([]byte, error) {
	subkey, err := w.keys.SubkeyFor(w.context)
	if err != nil {
		return nil, newCryptoError(ErrKeyDerivationFailed, w.context, err)
	}
	nonce, ciphertext, err := dfcrypto.Seal(subkey, canonical)
	if err != nil {
		return nil, newCryptoError(ErrInvalidInputSize, w.context, err)
	}
	env := Envelope{Version: envelopeVersion, Context: string(w.context), Nonce: nonce, Ciphertext: ciphertext}
	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encryption: failed to marshal envelope: %w", err)
	}
	return data, nil
}

func (w *Wrapper) decryptEnvelope(raw []byte) ([]byte, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, newCryptoError(ErrCorruptEnvelope, w.context, err)
	}
	if Context(env.Context) != w.context {
		return nil, fmt.Errorf("encryption: envelope context %q does not match caller's declared context %q", env.Context, w.context)
	}
	subkey, err := w.keys.SubkeyFor(w.context)
	if err != nil {
		return nil, newCryptoError(ErrKeyDerivationFailed, w.context, err)
	}
	plaintext, err := dfcrypto.Open(subkey, env.Nonce, env.Ciphertext)
	if err != nil {
		return nil, newCryptoError(ErrAuthenticationFailed, w.context, err)
	}
	return plaintext, nil
}
