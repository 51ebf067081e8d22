// Package node implements the node facade of spec.md §5: one instance of
// every component (kv store, crypto, atoms, schemas, transforms, query
// runtime, signature auth) wired together behind a single entrypoint.
package node

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/atom"
	"github.com/datafold/datafold/internal/authsig"
	"github.com/datafold/datafold/internal/bus"
	"github.com/datafold/datafold/internal/config"
	"github.com/datafold/datafold/internal/dfcrypto"
	"github.com/datafold/datafold/internal/dflog"
	"github.com/datafold/datafold/internal/dfmetrics"
	"github.com/datafold/datafold/internal/encryption"
	"github.com/datafold/datafold/internal/kv"
	"github.com/datafold/datafold/internal/query"
	"github.com/datafold/datafold/internal/schema"
	"github.com/datafold/datafold/internal/transform"
)

// Node owns one instance of every DataFold component over a single storage
// directory, plus the outer lock ApproveSchema takes around approval and the
// dependency-graph rebuild; each component keeps the fine-grained locking it
// was built with.
type Node struct {
	mu sync.Mutex

	cfg   config.NodeConfig
	store kv.Store
	keys  *encryption.KeyManager
	bus   *bus.Bus

	Schemas      *schema.Registry
	Atoms        *atom.Service
	Graph        *transform.DependencyGraph
	Orchestrator *transform.Orchestrator
	Query        *query.Runtime

	Nonces        *authsig.NonceStore
	Registrations *authsig.RegistrationStore
	KeyCache      *authsig.KeyCache
	RateLimiter   *authsig.RateLimiter
	Attacks       *authsig.AttackDetector
	Health        *dfmetrics.AuthHealthCollector
	Middleware    *authsig.Middleware
}

// Open builds a Node from cfg: opens the embedded store, resolves the
// master key, loads every persisted schema, rebuilds the transform
// dependency graph, and wires the query runtime and signature-auth
// middleware over the same bus and stores.
func Open(cfg config.NodeConfig) (*Node, error) {
	store, err := kv.Open(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("node: failed to open storage at %q: %w", cfg.StoragePath, err)
	}

	keys, err := resolveKeyManager(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	mode := encryption.Full
	if cfg.Crypto == nil || !cfg.Crypto.Enabled {
		mode = encryption.ReadOnlyCompatibility
	}

	b := bus.New(256)

	schemas, err := schema.NewRegistry(store, keys, mode)
	if err != nil {
		store.Close()
		return nil, err
	}

	atoms, err := atom.NewService(store, keys, mode, b)
	if err != nil {
		store.Close()
		return nil, err
	}

	n := &Node{cfg: cfg, store: store, keys: keys, bus: b, Schemas: schemas, Atoms: atoms}
	n.rebuildGraphLocked()

	orch, err := transform.NewOrchestrator(store, n.Graph, b, n.lookupTransform, n.resolveField, n.writeFieldRaw)
	if err != nil {
		store.Close()
		return nil, err
	}
	n.Orchestrator = orch

	go n.serveFieldValueSetRequests()

	n.Query = query.NewRuntime(schemas, atoms, b, n.requestReplyFieldSet, cfg.DefaultTrustDistance)

	registrations, keyCache, err := n.buildAuthStack(store, keys, mode)
	if err != nil {
		store.Close()
		return nil, err
	}
	n.Registrations = registrations
	n.KeyCache = keyCache
	n.Nonces = authsig.NewNonceStore(time.Duration(cfg.SignatureAuth.NonceTTLSecs)*time.Second, cfg.SignatureAuth.MaxNonceStoreSize)
	n.RateLimiter = authsig.NewRateLimiter(cfg.SignatureAuth.RateLimiting)
	n.Attacks = authsig.NewAttackDetector(cfg.SignatureAuth.AttackDetection)
	n.Health = dfmetrics.NewAuthHealthCollector()
	n.Middleware = authsig.NewMiddleware(cfg.SignatureAuth, n.Nonces, n.KeyCache, n.RateLimiter, n.Attacks, n.Health, securityLogConfig(cfg.SignatureAuth.SecurityLogging))

	return n, nil
}

// Close releases the underlying storage handle.
func (n *Node) Close() error {
	return n.store.Close()
}

func (n *Node) buildAuthStack(store kv.Store, keys *encryption.KeyManager, mode encryption.MigrationMode) (*authsig.RegistrationStore, *authsig.KeyCache, error) {
	regTree, err := store.Tree("public_key_registrations")
	if err != nil {
		return nil, nil, fmt.Errorf("node: failed to open public_key_registrations tree: %w", err)
	}
	idxTree, err := store.Tree("client_key_index")
	if err != nil {
		return nil, nil, fmt.Errorf("node: failed to open client_key_index tree: %w", err)
	}
	registrations, err := authsig.NewRegistrationStore(regTree, idxTree, keys, mode)
	if err != nil {
		return nil, nil, err
	}
	return registrations, authsig.NewKeyCache(registrations, 4096), nil
}

func securityLogConfig(c config.SecurityLoggingConfig) dflog.SecurityLogConfig {
	return dflog.SecurityLogConfig{
		Enabled:                   c.Enabled,
		MinSeverity:               parseSeverity(c.MinSeverity),
		IncludeCorrelationIDs:     c.IncludeCorrelationIDs,
		IncludeClientInfo:         c.IncludeClientInfo,
		IncludePerformanceMetrics: c.IncludePerformanceMetrics,
		LogSuccessfulAuth:         c.LogSuccessfulAuth,
		MaxLogEntrySize:           c.MaxLogEntrySize,
	}
}

func parseSeverity(s string) dflog.Severity {
	switch s {
	case "warning":
		return dflog.SeverityWarning
	case "error":
		return dflog.SeverityError
	case "critical":
		return dflog.SeverityCritical
	default:
		return dflog.SeverityInfo
	}
}

// resolveKeyManager derives or loads the master key per
// crypto.master_key_source, then builds the per-context KeyManager.
func resolveKeyManager(cfg config.NodeConfig, store kv.Store) (*encryption.KeyManager, error) {
	if cfg.Crypto == nil || !cfg.Crypto.Enabled {
		return nil, nil
	}

	var masterKey [32]byte
	switch cfg.Crypto.MasterKeySource {
	case config.MasterKeyRandom:
		if _, err := io.ReadFull(rand.Reader, masterKey[:]); err != nil {
			return nil, fmt.Errorf("node: failed to generate random master key: %w", err)
		}

	case config.MasterKeyPassphrase:
		salt, err := loadOrCreateSalt(store)
		if err != nil {
			return nil, err
		}
		params := dfcrypto.KDFParams{
			MemoryCostKiB: cfg.Crypto.KeyDerivation.MemoryCostKiB,
			TimeCost:      cfg.Crypto.KeyDerivation.TimeCost,
			Parallelism:   cfg.Crypto.KeyDerivation.Parallelism,
		}
		masterKey = dfcrypto.DeriveMasterKey(cfg.Crypto.Passphrase, salt, params)

	case config.MasterKeyExternal:
		encoded, ok := os.LookupEnv(cfg.Crypto.ExternalSource)
		if !ok {
			return nil, fmt.Errorf("node: external master key source %q is not set", cfg.Crypto.ExternalSource)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("node: external master key in %q must be base64-encoded 32 bytes", cfg.Crypto.ExternalSource)
		}
		copy(masterKey[:], raw)

	default:
		return nil, fmt.Errorf("node: unknown master key source %q", cfg.Crypto.MasterKeySource)
	}

	return encryption.NewKeyManager(masterKey)
}

// loadOrCreateSalt persists a random 16-byte salt in the metadata tree the
// first time a node starts under passphrase-derived keying, then reuses it
// on every subsequent restart so the derived master key stays stable.
func loadOrCreateSalt(store kv.Store) ([16]byte, error) {
	var salt [16]byte
	tree, err := store.Tree("metadata")
	if err != nil {
		return salt, fmt.Errorf("node: failed to open metadata tree: %w", err)
	}

	const saltKey = "crypto_salt"
	raw, found, err := tree.Get([]byte(saltKey))
	if err != nil {
		return salt, fmt.Errorf("node: failed to read crypto salt: %w", err)
	}
	if found && len(raw) == 16 {
		copy(salt[:], raw)
		return salt, nil
	}

	generated, err := dfcrypto.NewSalt()
	if err != nil {
		return salt, err
	}
	if err := tree.Put([]byte(saltKey), generated[:]); err != nil {
		return salt, fmt.Errorf("node: failed to persist crypto salt: %w", err)
	}
	return generated, nil
}

// rebuildGraphLocked repopulates n.Graph from every approved schema's
// transform logic. Callers must hold n.mu.
func (n *Node) rebuildGraphLocked() {
	n.Graph = transform.NewDependencyGraph()
	for _, s := range n.Schemas.ListByState(schema.StateApproved) {
		for fieldName, def := range s.Fields {
			if def.Transform == nil {
				continue
			}
			output := transform.NewCoordinate(s.Name, fieldName)
			deps, err := transform.ExtractDependencies(def.Transform.Logic)
			if err != nil {
				continue
			}
			for _, dep := range deps {
				n.Graph.AddEdge(dep, output)
			}
		}
	}
}

// ApproveSchema runs the registry's own cycle detection, then refreshes the
// transform dependency graph so newly approved transforms take effect.
func (n *Node) ApproveSchema(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.Schemas.Approve(name); err != nil {
		return err
	}
	n.rebuildGraphLocked()
	return nil
}

// lookupTransform implements transform.Lookup: the transform id is the
// "schema:field" coordinate of the field that owns the transform.
func (n *Node) lookupTransform(transformID string) (logic, outputSchema, outputField string, err error) {
	coordSchema, field := splitCoordinate(transformID)
	s, err := n.Schemas.GetSchema(coordSchema)
	if err != nil {
		return "", "", "", err
	}
	def, ok := s.Fields[field]
	if !ok || def.Transform == nil {
		return "", "", "", fmt.Errorf("node: %q has no transform", transformID)
	}
	return def.Transform.Logic, coordSchema, field, nil
}

func splitCoordinate(coord string) (schemaName, field string) {
	for i := 0; i < len(coord); i++ {
		if coord[i] == ':' {
			return coord[:i], coord[i+1:]
		}
	}
	return coord, ""
}

// resolveField implements transform.FieldResolver over internal/atom.
func (n *Node) resolveField(schemaName, field string) (transform.Value, error) {
	a, err := n.Atoms.GetLatestAtom(atom.Coordinate(schemaName, field))
	if err != nil {
		return transform.Value{}, &transform.EvalError{Kind: transform.ErrDependencyUnresolved, Detail: fmt.Sprintf("no value for %s.%s", schemaName, field)}
	}
	return decodeValue(a.Content), nil
}

// writeFieldRaw implements transform.ResultWriter: it persists a computed
// transform output the same way a direct mutation would.
func (n *Node) writeFieldRaw(schemaName, field string, content []byte) error {
	_, err := n.writeField(schemaName, field, content)
	return err
}

// writeField creates a new atom for (schemaName, field), chaining it onto
// whatever atom the field's Single ref currently points at, then swings the
// ref to the new atom. It creates the ref on first write.
func (n *Node) writeField(schemaName, field string, content []byte) (uuid.UUID, error) {
	id := atom.Coordinate(schemaName, field)

	var prev *uuid.UUID
	if current, err := n.Atoms.GetLatestAtom(id); err == nil {
		u := current.UUID
		prev = &u
	}

	a, err := n.Atoms.CreateAtom(schemaName, field, prev, content, atom.StatusActive)
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := n.Atoms.UpdateAtomRef(id, a.UUID, "", "", nil, ""); err != nil {
		if _, cerr := n.Atoms.CreateAtomRef(id, a.UUID, atom.RefTypeSingle); cerr != nil {
			return uuid.Nil, cerr
		}
	}
	return a.UUID, nil
}

// serveFieldValueSetRequests answers every FieldValueSetRequest published
// by internal/query's mutation path by writing the field and swinging its
// ref, then replying with the correlated response.
func (n *Node) serveFieldValueSetRequests() {
	consumer := bus.Subscribe[bus.FieldValueSetRequest](n.bus)
	for req := range consumer.Events() {
		req := req
		go func() {
			resp := bus.FieldValueSetResponse{CorrelationID: req.CorrelationID}
			atomUUID, err := n.writeField(req.Schema, req.Field, req.Value)
			if err != nil {
				resp.Err = err.Error()
			} else {
				resp.AtomUUID = atomUUID
			}
			bus.Publish(n.bus, resp)
		}()
	}
}

// requestReplyFieldSet implements query.RequestReplyFunc over the generic
// RequestReply correlation helper.
func (n *Node) requestReplyFieldSet(ctx context.Context, req bus.FieldValueSetRequest, timeout time.Duration) (bus.FieldValueSetResponse, error) {
	return RequestReply(ctx, n.bus, req, req.CorrelationID,
		func(resp bus.FieldValueSetResponse) uuid.UUID { return resp.CorrelationID },
		timeout)
}

// decodeValue parses an atom's raw content bytes back into a transform
// Value, mirroring the encoding writeField never needs to reverse for
// itself: numbers are plain decimal text, "true"/"false" are bool, anything
// else is a string.
func decodeValue(content []byte) transform.Value {
	s := string(content)
	switch s {
	case "true":
		return transform.Value{Kind: transform.KindBool, Bool: true}
	case "false":
		return transform.Value{Kind: transform.KindBool, Bool: false}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return transform.Value{Kind: transform.KindNumber, Num: n}
	}
	return transform.Value{Kind: transform.KindString, Str: s}
}
