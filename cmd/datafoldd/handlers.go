package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/datafold/datafold/internal/authsig"
	"github.com/datafold/datafold/internal/node"
	"github.com/datafold/datafold/internal/query"
	"github.com/datafold/datafold/internal/schema"
	"github.com/datafold/datafold/internal/transform"
)

// newRouter builds the HTTP surface of spec.md §6 over n. Signature-required
// routes are wrapped individually rather than globally, since /api/system/status
// and /api/crypto/keys/register are on the skip list.
func newRouter(n *node.Node) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/system/status", handleSystemStatus(n))
	mux.HandleFunc("/api/crypto/keys/register", handleKeysRegister(n))

	mux.Handle("/api/crypto/status", n.Middleware.Wrap(http.HandlerFunc(handleCryptoStatus(n))))
	mux.Handle("/api/crypto/keys/status/", n.Middleware.Wrap(http.HandlerFunc(handleKeysStatus(n))))
	mux.Handle("/api/crypto/signatures/verify", n.Middleware.Wrap(http.HandlerFunc(handleSignaturesVerify(n))))

	mux.Handle("/api/schemas", n.Middleware.Wrap(http.HandlerFunc(handleSchemas(n))))
	mux.Handle("/api/schema/", n.Middleware.Wrap(http.HandlerFunc(handleSchemaAction(n))))

	mux.Handle("/api/execute", n.Middleware.Wrap(http.HandlerFunc(handleExecute(n))))
	mux.Handle("/api/query", n.Middleware.Wrap(http.HandlerFunc(handleQuery(n))))
	mux.Handle("/api/mutation", n.Middleware.Wrap(http.HandlerFunc(handleMutation(n))))

	mux.Handle("/api/transforms", n.Middleware.Wrap(http.HandlerFunc(handleTransformsQueue(n))))
	mux.Handle("/api/transform/", n.Middleware.Wrap(http.HandlerFunc(handleTransformRun(n))))

	return mux
}

func handleSystemStatus(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":              "ok",
			"time":                time.Now().UTC().Format(time.RFC3339),
			"transform_queue_len": n.Orchestrator.Len(),
		})
	}
}

type registerKeyRequest struct {
	ClientID  string `json:"client_id"`
	PublicKey string `json:"public_key"` // hex-encoded
}

func handleKeysRegister(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "POST required")
			return
		}
		var req registerKeyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
			return
		}
		raw, err := hex.DecodeString(req.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			writeError(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY", "public_key must be hex-encoded 32 bytes")
			return
		}
		reg, err := n.RegisterClientKey(req.ClientID, ed25519.PublicKey(raw))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "KEY_REGISTRATION_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, reg)
	}
}

// handleCryptoStatus reports encryption-at-rest state. The master key is
// resolved once at node startup from config rather than through a runtime
// init call, so this is a status report, not a toggle.
func handleCryptoStatus(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, source := n.CryptoStatus()
		writeJSON(w, http.StatusOK, map[string]any{
			"encryption_enabled": enabled,
			"master_key_source":  source,
		})
	}
}

func handleKeysStatus(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := strings.TrimPrefix(r.URL.Path, "/api/crypto/keys/status/")
		if clientID == "" {
			writeError(w, http.StatusBadRequest, "MISSING_CLIENT_ID", "client_id path segment is required")
			return
		}
		reg, found, err := n.Registrations.Lookup(clientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "KEY_LOOKUP_FAILED", err.Error())
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "no registration for client")
			return
		}
		writeJSON(w, http.StatusOK, reg)
	}
}

type verifySignatureRequest struct {
	PublicKey string `json:"public_key"` // hex
	Message   string `json:"message"`
	Signature string `json:"signature"` // hex
}

func handleSignaturesVerify(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "POST required")
			return
		}
		var req verifySignatureRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
			return
		}
		raw, err := hex.DecodeString(req.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			writeError(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY", "public_key must be hex-encoded 32 bytes")
			return
		}
		err = n.VerifySignature(ed25519.PublicKey(raw), req.Message, req.Signature)
		writeJSON(w, http.StatusOK, map[string]any{"valid": err == nil})
	}
}

func handleSchemas(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			out := map[string][]*schema.Schema{}
			for _, st := range []schema.State{schema.StateAvailable, schema.StateApproved, schema.StateBlocked} {
				out[string(st)] = n.Schemas.ListByState(st)
			}
			writeJSON(w, http.StatusOK, out)
		case http.MethodPost:
			var s schema.Schema
			if err := decodeJSON(r, &s); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
				return
			}
			if err := n.Schemas.LoadSchema(&s); err != nil {
				writeError(w, http.StatusBadRequest, "SCHEMA_LOAD_FAILED", err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, s)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "GET or POST required")
		}
	}
}

// handleSchemaAction serves /api/schema/{name}/{load,approve,block}.
func handleSchemaAction(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/schema/"), "/")
		if len(parts) != 2 || parts[0] == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "expected /api/schema/{name}/{load,approve,block}")
			return
		}
		name, action := parts[0], parts[1]

		var err error
		switch action {
		case "approve":
			err = n.ApproveSchema(name)
		case "block":
			err = n.Schemas.Block(name)
		case "load":
			var s schema.Schema
			if decodeErr := decodeJSON(r, &s); decodeErr != nil {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", decodeErr.Error())
				return
			}
			s.Name = name
			err = n.Schemas.LoadSchema(&s)
		default:
			writeError(w, http.StatusNotFound, "UNKNOWN_ACTION", "action must be load, approve, or block")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "SCHEMA_ACTION_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"schema": name, "action": action, "status": "ok"})
	}
}

type operationRequest struct {
	Schema        string            `json:"schema"`
	Fields        []string          `json:"fields,omitempty"`
	FieldValues   map[string]string `json:"field_values,omitempty"`
	TrustDistance int               `json:"trust_distance,omitempty"`
}

func (req operationRequest) fieldValueBytes() map[string][]byte {
	out := make(map[string][]byte, len(req.FieldValues))
	for k, v := range req.FieldValues {
		out[k] = []byte(v)
	}
	return out
}

// clientPubkey treats the authenticated client id as the permission-check
// identity: each registered signing key is one client, and PermissionPolicy's
// PolicyExplicit pubkey sets are populated with client ids.
func clientPubkey(r *http.Request) string {
	ac, _ := authsig.ClientFromContext(r.Context())
	return ac.ClientID
}

func handleQuery(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
			return
		}
		res, err := n.Execute(r.Context(), node.Operation{Query: &query.QueryParams{
			Schema:        req.Schema,
			Fields:        req.Fields,
			TrustDistance: req.TrustDistance,
			Pubkey:        clientPubkey(r),
		}})
		if err != nil {
			writeError(w, http.StatusBadRequest, "QUERY_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res.Query)
	}
}

func handleMutation(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := n.Execute(ctx, node.Operation{Mutation: &query.MutationParams{
			Schema:        req.Schema,
			FieldValues:   req.fieldValueBytes(),
			TrustDistance: req.TrustDistance,
			Pubkey:        clientPubkey(r),
		}})
		if err != nil {
			writeError(w, http.StatusBadRequest, "MUTATION_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res.Mutation)
	}
}

// handleExecute accepts the tagged Operation envelope directly, for callers
// that already distinguish query vs. mutation client-side.
func handleExecute(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query    *operationRequest `json:"query,omitempty"`
			Mutation *operationRequest `json:"mutation,omitempty"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
			return
		}

		op := node.Operation{}
		switch {
		case req.Query != nil:
			op.Query = &query.QueryParams{
				Schema: req.Query.Schema, Fields: req.Query.Fields,
				TrustDistance: req.Query.TrustDistance, Pubkey: clientPubkey(r),
			}
		case req.Mutation != nil:
			op.Mutation = &query.MutationParams{
				Schema: req.Mutation.Schema, FieldValues: req.Mutation.fieldValueBytes(),
				TrustDistance: req.Mutation.TrustDistance, Pubkey: clientPubkey(r),
			}
		default:
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "request must set exactly one of query or mutation")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := n.Execute(ctx, op)
		if err != nil {
			writeError(w, http.StatusBadRequest, "EXECUTE_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleTransformsQueue(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queued, err := n.Orchestrator.ListQueued()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "QUEUE_LIST_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"queue": queued, "length": n.Orchestrator.Len()})
	}
}

// handleTransformRun serves /api/transform/{id}/run.
func handleTransformRun(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/transform/"), "/")
		if len(parts) != 2 || parts[1] != "run" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "expected /api/transform/{id}/run")
			return
		}
		transformID := parts[0]
		if err := n.Orchestrator.Add(transformID, transform.ReasonManual); err != nil {
			writeError(w, http.StatusBadRequest, "TRANSFORM_ENQUEUE_FAILED", err.Error())
			return
		}
		result, err := n.Orchestrator.ProcessOne()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "TRANSFORM_RUN_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
