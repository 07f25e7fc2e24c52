// Package store implements the storage-agnostic graph store (C2): a
// minimal get/list/upsert/delete surface for configuration-item nodes,
// edges, and package entities, with optimistic versioning and opaque
// cursor paging. The relational persistence layer itself is out of
// scope — this package defines the interface the rest of the core
// consumes and ships one in-memory and one NATS-JetStream-KV-backed
// implementation of it, following the teacher's storage/entity.go.
package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/c360studio/changeops/internal/errs"
)

// Record is one stored entity: an opaque JSON payload plus the metadata
// every optimistic writer needs.
type Record struct {
	Key       string
	TenantID  string
	Version   uint64
	Data      []byte
	UpdatedAt time.Time
}

// Store is the abstract persistence surface every component in C3-C10
// is built against. Collection names partition the keyspace (e.g.
// "drafts", "draft-versions", "overrides", "workflow-definitions").
// tenantId is explicit on every call — there is no ambient tenant.
type Store interface {
	// Get returns the current record, or a NOT_FOUND error.
	Get(ctx context.Context, tenantID, collection, key string) (Record, error)

	// List returns up to limit records in a collection for tenantID,
	// starting after cursor. An empty cursor starts from the beginning.
	// The returned nextCursor is opaque; pass it back verbatim to
	// continue. An empty nextCursor means there are no more records.
	List(ctx context.Context, tenantID, collection, cursor string, limit int) (records []Record, nextCursor string, err error)

	// Upsert creates or replaces a record. If expectedVersion is nil the
	// write is unconditional (insert, or blind overwrite). If
	// expectedVersion is non-nil, the write fails with CONFLICT unless
	// the stored version matches.
	Upsert(ctx context.Context, tenantID, collection, key string, data []byte, expectedVersion *uint64) (Record, error)

	// Delete removes a record, honoring expectedVersion the same way as
	// Upsert.
	Delete(ctx context.Context, tenantID, collection, key string, expectedVersion *uint64) error
}

// ErrNotFound is returned (wrapped in a *errs.CodeError) when a key does
// not exist in a collection.
var ErrNotFound = errs.New(errs.CodeNotFound, "entity not found")

// ErrConflict is returned (wrapped) when expectedVersion does not match
// the stored version.
var ErrConflict = errs.New(errs.CodeConflict, "version conflict")

// EncodeCursor turns a monotone offset into an opaque pagination cursor.
// Cursors are never meant to be constructed by callers directly; this
// exists so implementations share one wire format.
func EncodeCursor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodeCursor parses an opaque cursor back into an offset. An empty
// cursor decodes to offset 0.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	return offset, nil
}
