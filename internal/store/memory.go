package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/changeops/internal/errs"
)

// MemoryStore is an in-memory Store used by tests and by the CLI harness
// when run without a NATS backend. It keeps insertion order per
// collection so List pagination is stable.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // collection -> key -> record
	// order tracks insertion order per collection for stable pagination.
	order map[string][]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]map[string]*Record),
		order: make(map[string][]string),
	}
}

func tenantKey(tenantID, key string) string { return tenantID + "/" + key }

func (m *MemoryStore) Get(_ context.Context, tenantID, collection, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[collection][tenantKey(tenantID, key)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(*rec), nil
}

func (m *MemoryStore) List(_ context.Context, tenantID, collection, cursor string, limit int) ([]Record, string, error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Record
	for _, k := range m.order[collection] {
		rec, ok := m.data[collection][k]
		if !ok || rec.TenantID != tenantID {
			continue
		}
		matched = append(matched, cloneRecord(*rec))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })

	if offset >= len(matched) {
		return nil, "", nil
	}

	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page := matched[offset:end]

	next := ""
	if end < len(matched) {
		next = EncodeCursor(end)
	}
	return page, next, nil
}

func (m *MemoryStore) Upsert(_ context.Context, tenantID, collection, key string, data []byte, expectedVersion *uint64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[collection] == nil {
		m.data[collection] = make(map[string]*Record)
	}

	tk := tenantKey(tenantID, key)
	existing, exists := m.data[collection][tk]

	if expectedVersion != nil {
		// A zero expectedVersion means "create": mirrors NATSKVStore's use
		// of kv.Create, which rejects only if the key already exists.
		if *expectedVersion == 0 {
			if exists {
				return Record{}, errs.Wrap(errs.CodeConflict, "expected to create but record already exists", ErrConflict)
			}
		} else {
			if !exists {
				return Record{}, errs.Wrap(errs.CodeConflict, "expected version set but record does not exist", ErrConflict)
			}
			if existing.Version != *expectedVersion {
				return Record{}, errs.Wrap(errs.CodeConflict,
					"expected version mismatch", ErrConflict)
			}
		}
	}

	newVersion := uint64(1)
	if exists {
		newVersion = existing.Version + 1
	}

	rec := &Record{
		Key:       key,
		TenantID:  tenantID,
		Version:   newVersion,
		Data:      append([]byte(nil), data...),
		UpdatedAt: time.Now(),
	}
	m.data[collection][tk] = rec

	if !exists {
		m.order[collection] = append(m.order[collection], tk)
	}

	return cloneRecord(*rec), nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, collection, key string, expectedVersion *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tk := tenantKey(tenantID, key)
	existing, exists := m.data[collection][tk]
	if !exists {
		return ErrNotFound
	}
	if expectedVersion != nil && existing.Version != *expectedVersion {
		return ErrConflict
	}

	delete(m.data[collection], tk)
	for i, k := range m.order[collection] {
		if k == tk {
			m.order[collection] = append(m.order[collection][:i], m.order[collection][i+1:]...)
			break
		}
	}
	return nil
}

func cloneRecord(r Record) Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

var _ Store = (*MemoryStore)(nil)
