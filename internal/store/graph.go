package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c360studio/changeops/internal/errs"
)

// Node collections host configuration-item nodes alongside the typed
// package entities the rest of C2-C10 store; edges reference nodes by
// key within the same tenant.
const (
	CollectionNodes = "graph-nodes"
	CollectionEdges = "graph-edges"
)

// Node is a configuration-item node in the graph store.
type Node struct {
	Key       string         `json:"key"`
	TenantID  string         `json:"tenant_id"`
	Kind      string         `json:"kind"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Edge is a configuration-item edge between two nodes in the same
// tenant.
type Edge struct {
	Key       string    `json:"key"`
	TenantID  string    `json:"tenant_id"`
	FromKey   string    `json:"from_key"`
	ToKey     string    `json:"to_key"`
	Label     string    `json:"label"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Graph wraps a Store with typed node/edge operations and enforces the
// C2 rule that edge writes require both endpoints to already exist
// within the same tenant.
type Graph struct {
	store Store
}

// NewGraph wraps store for typed node/edge access.
func NewGraph(store Store) *Graph {
	return &Graph{store: store}
}

// UpsertNode creates or replaces a node.
func (g *Graph) UpsertNode(ctx context.Context, tenantID string, n Node, expectedVersion *uint64) (Record, error) {
	n.TenantID = tenantID
	n.UpdatedAt = time.Now()
	data, err := json.Marshal(n)
	if err != nil {
		return Record{}, err
	}
	return g.store.Upsert(ctx, tenantID, CollectionNodes, n.Key, data, expectedVersion)
}

// GetNode retrieves a node by key.
func (g *Graph) GetNode(ctx context.Context, tenantID, key string) (Node, Record, error) {
	rec, err := g.store.Get(ctx, tenantID, CollectionNodes, key)
	if err != nil {
		return Node{}, Record{}, err
	}
	var n Node
	if err := json.Unmarshal(rec.Data, &n); err != nil {
		return Node{}, Record{}, err
	}
	return n, rec, nil
}

// UpsertEdge creates or replaces an edge after validating that both
// endpoints exist within tenantID. A dangling edge is an
// INVARIANT_VIOLATION, never silently stored.
func (g *Graph) UpsertEdge(ctx context.Context, tenantID string, e Edge, expectedVersion *uint64) (Record, error) {
	if _, _, err := g.GetNode(ctx, tenantID, e.FromKey); err != nil {
		return Record{}, errs.Newf(errs.CodeInvariantViolation, "edge endpoint %q does not exist in tenant %s", e.FromKey, tenantID)
	}
	if _, _, err := g.GetNode(ctx, tenantID, e.ToKey); err != nil {
		return Record{}, errs.Newf(errs.CodeInvariantViolation, "edge endpoint %q does not exist in tenant %s", e.ToKey, tenantID)
	}

	e.TenantID = tenantID
	e.UpdatedAt = time.Now()
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, err
	}
	return g.store.Upsert(ctx, tenantID, CollectionEdges, e.Key, data, expectedVersion)
}

// GetEdge retrieves an edge by key.
func (g *Graph) GetEdge(ctx context.Context, tenantID, key string) (Edge, Record, error) {
	rec, err := g.store.Get(ctx, tenantID, CollectionEdges, key)
	if err != nil {
		return Edge{}, Record{}, err
	}
	var e Edge
	if err := json.Unmarshal(rec.Data, &e); err != nil {
		return Edge{}, Record{}, err
	}
	return e, rec, nil
}
