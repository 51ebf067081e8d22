package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Context labels the five encryption domains spec.md §4.3 names. Each gets
// an independently derived subkey so compromising one context's key does
// not expose another's.
type Context string

const (
	ContextAtomData        Context = "atom_data"
	ContextSchemaData      Context = "schema_data"
	ContextMetadata        Context = "metadata"
	ContextTransformState  Context = "transform_state"
	ContextRegistration    Context = "registration"
)

// AllContexts lists every context KeyManager derives a subkey for.
var AllContexts = []Context{
	ContextAtomData, ContextSchemaData, ContextMetadata, ContextTransformState, ContextRegistration,
}

// KeyManager derives one 32-byte AES-256 subkey per context from a single
// master key using HKDF, salted by the context's own byte string (spec.md
// §4.3: "salt = context bytes").
type KeyManager struct {
	masterKey [32]byte
	subkeys   map[Context][32]byte
}

// NewKeyManager derives subkeys for every known context up front; key
// derivation failures are fatal at construction time (spec.md §4.3).
func NewKeyManager(masterKey [32]byte) (*KeyManager, error) {
	km := &KeyManager{masterKey: masterKey, subkeys: make(map[Context][32]byte, len(AllContexts))}
	for _, ctx := range AllContexts {
		key, err := deriveSubkey(masterKey, ctx)
		if err != nil {
			return nil, fmt.Errorf("encryption: failed to derive subkey for context %q: %w", ctx, err)
		}
		km.subkeys[ctx] = key
	}
	return km, nil
}

func deriveSubkey(masterKey [32]byte, ctx Context) ([32]byte, error) {
	var out [32]byte
	reader := hkdf.New(sha256.New, masterKey[:], []byte(ctx), nil)
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// SubkeyFor returns the derived subkey for ctx, deriving it on demand if the
// caller asks for a context outside AllContexts.
func (km *KeyManager) SubkeyFor(ctx Context) ([32]byte, error) {
	if key, ok := km.subkeys[ctx]; ok {
		return key, nil
	}
	return deriveSubkey(km.masterKey, ctx)
}
