package node

import (
	"context"
	"fmt"

	"github.com/datafold/datafold/internal/query"
)

// Operation is the tagged Query/Mutation variant of spec.md §5 — exactly
// one of Query or Mutation is set.
type Operation struct {
	Query    *query.QueryParams
	Mutation *query.MutationParams
}

// Result carries whichever half of Operation was executed.
type Result struct {
	Query    *query.QueryResult
	Mutation *query.MutationResult
}

// PeerFetcher is the narrow extension point for best-effort atom replication
// between nodes: given a schema/field coordinate, fetch the latest known atom
// content from a remote peer. DataFold is explicitly not a replicated log (no
// consensus, no guaranteed delivery) — a PeerFetcher is free to return
// an error or a stale value. No implementation lives in this module; p2p
// discovery and transport are an external collaborator's job.
type PeerFetcher interface {
	FetchRemote(ctx context.Context, schemaName, field string) ([]byte, error)
}

// Execute is the one entrypoint the (out-of-scope) HTTP router calls once
// authsig.Middleware has attached an AuthenticatedClient to the request
// context — the router is expected to have already resolved op.Query's or
// op.Mutation's Pubkey from that client.
func (n *Node) Execute(ctx context.Context, op Operation) (Result, error) {
	switch {
	case op.Query != nil:
		res, err := n.Query.ExecuteQuery(ctx, *op.Query)
		if err != nil {
			return Result{}, err
		}
		return Result{Query: &res}, nil

	case op.Mutation != nil:
		res, err := n.Query.ExecuteMutation(ctx, *op.Mutation)
		if err != nil {
			return Result{}, err
		}
		return Result{Mutation: &res}, nil

	default:
		return Result{}, fmt.Errorf("node: operation has neither Query nor Mutation set")
	}
}
