package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSKVStore backs Store with one JetStream KV bucket per collection.
// jetstream.KeyValue revisions are used directly as the optimistic
// version: Create rejects if the key already exists, Update rejects
// unless the caller's expected revision is current — the same mechanism
// the teacher's storage.Store uses for proposals/tasks/results, here
// generalized to an arbitrary set of collections.
type NATSKVStore struct {
	js      jetstream.JetStream
	prefix  string
	history uint8

	mu      chanMutex
	buckets map[string]jetstream.KeyValue
}

// chanMutex is a context-cancellable mutex built on a buffered channel,
// used instead of sync.Mutex only because bucket creation below does
// network I/O and we want callers able to cancel via ctx.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

func (c chanMutex) Lock(ctx context.Context) error {
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c chanMutex) Unlock() { c <- struct{}{} }

// NewNATSKVStore constructs a store backed by js. prefix namespaces bucket
// names (e.g. "CHANGEOPS") so multiple environments can share a NATS
// account. history is how many past revisions JetStream retains per key.
func NewNATSKVStore(js jetstream.JetStream, prefix string, history uint8) *NATSKVStore {
	if history == 0 {
		history = 5
	}
	return &NATSKVStore{
		js:      js,
		prefix:  prefix,
		history: history,
		mu:      newChanMutex(),
		buckets: make(map[string]jetstream.KeyValue),
	}
}

func (s *NATSKVStore) bucketName(collection string) string {
	return strings.ToUpper(s.prefix + "_" + strings.ReplaceAll(collection, "-", "_"))
}

func (s *NATSKVStore) bucket(ctx context.Context, collection string) (jetstream.KeyValue, error) {
	if err := s.mu.Lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	name := s.bucketName(collection)
	if kv, ok := s.buckets[name]; ok {
		return kv, nil
	}

	kv, err := s.js.KeyValue(ctx, name)
	if err == nil {
		s.buckets[name] = kv
		return kv, nil
	}

	kv, err = s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("changeops %s storage", strings.ToLower(collection)),
		History:     s.history,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	s.buckets[name] = kv
	return kv, nil
}

// natsKey namespaces a logical key by tenant so two tenants never collide
// within the same bucket, and KV keys stay legal NATS subject tokens.
func natsKey(tenantID, key string) string {
	return strings.NewReplacer("/", ".", " ", "_").Replace(tenantID) + "." +
		strings.NewReplacer("/", ".", " ", "_").Replace(key)
}

func (s *NATSKVStore) Get(ctx context.Context, tenantID, collection, key string) (Record, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return Record{}, err
	}

	entry, err := kv.Get(ctx, natsKey(tenantID, key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}

	return Record{
		Key:       key,
		TenantID:  tenantID,
		Version:   entry.Revision(),
		Data:      entry.Value(),
		UpdatedAt: entry.Created(),
	}, nil
}

func (s *NATSKVStore) List(ctx context.Context, tenantID, collection, cursor string, limit int) ([]Record, string, error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, "", err
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list keys: %w", err)
	}

	var keys []string
	prefix := strings.NewReplacer("/", ".", " ", "_").Replace(tenantID) + "."
	for k := range lister.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if offset >= len(keys) {
		return nil, "", nil
	}
	end := offset + limit
	if limit <= 0 || end > len(keys) {
		end = len(keys)
	}

	records := make([]Record, 0, end-offset)
	for _, k := range keys[offset:end] {
		entry, err := kv.Get(ctx, k)
		if err != nil {
			continue
		}
		records = append(records, Record{
			Key:       strings.TrimPrefix(k, prefix),
			TenantID:  tenantID,
			Version:   entry.Revision(),
			Data:      entry.Value(),
			UpdatedAt: entry.Created(),
		})
	}

	next := ""
	if end < len(keys) {
		next = EncodeCursor(end)
	}
	return records, next, nil
}

func (s *NATSKVStore) Upsert(ctx context.Context, tenantID, collection, key string, data []byte, expectedVersion *uint64) (Record, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return Record{}, err
	}

	nk := natsKey(tenantID, key)

	var rev uint64
	if expectedVersion == nil {
		rev, err = kv.Put(ctx, nk, data)
	} else if *expectedVersion == 0 {
		rev, err = kv.Create(ctx, nk, data)
	} else {
		rev, err = kv.Update(ctx, nk, data, *expectedVersion)
	}

	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return Record{}, ErrConflict
		}
		return Record{}, fmt.Errorf("upsert %s/%s: %w", collection, key, err)
	}

	return Record{Key: key, TenantID: tenantID, Version: rev, Data: data}, nil
}

func (s *NATSKVStore) Delete(ctx context.Context, tenantID, collection, key string, expectedVersion *uint64) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}

	nk := natsKey(tenantID, key)

	if expectedVersion == nil {
		if err := kv.Delete(ctx, nk); err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("delete %s/%s: %w", collection, key, err)
		}
		return nil
	}

	if err := kv.Delete(ctx, nk, jetstream.LastRevision(*expectedVersion)); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		if isWrongLastSequence(err) {
			return ErrConflict
		}
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// isWrongLastSequence detects JetStream's "wrong last sequence" error,
// which surfaces as a plain API error rather than a typed sentinel across
// nats.go versions.
func isWrongLastSequence(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}

var _ Store = (*NATSKVStore)(nil)
