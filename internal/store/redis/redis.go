// Package redis provides a Redis-backed store.Store. Each document is a
// JSON string. Only the fields declared when the store is created are
// indexed, each in a set keyed by collection, field and canonical value, so
// an equality query is a single SMEMBERS plus MGET.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/groupchat/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "groupchat:"

	docPrefix = "doc:" // doc:{collection}:{id} - document body
	idxPrefix = "idx:" // idx:{collection}:{field}:{value} - set of ids

	maxTxRetries = 10
)

// Store persists documents in Redis.
type Store struct {
	rdb     *redis.Client
	prefix  string
	indexes store.Indexes
}

// Open connects using a redis:// URL, or a bare host:port address. Equality
// queries are served for the fields in indexes only.
func Open(ctx context.Context, dsn string, indexes store.Indexes) (*Store, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStore(rdb, DefaultPrefix, indexes), nil
}

// NewStore wraps an existing client. An empty prefix uses DefaultPrefix.
func NewStore(rdb *redis.Client, prefix string, indexes store.Indexes) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, indexes: indexes}
}

func (s *Store) docKey(collection, id string) string {
	return s.prefix + docPrefix + collection + ":" + id
}

func (s *Store) idxKey(collection, field, canonical string) string {
	return s.prefix + idxPrefix + collection + ":" + field + ":" + canonical
}

func (s *Store) Insert(ctx context.Context, collection string, doc any) (string, error) {
	id, body, err := store.PrepareDocument(doc)
	if err != nil {
		return "", err
	}
	entries, err := indexEntries(body, s.indexes[collection])
	if err != nil {
		return "", err
	}
	key := s.docKey(collection, id)

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("redis: %s/%s already exists", collection, id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			for field, canonical := range entries {
				pipe.SAdd(ctx, s.idxKey(collection, field, canonical), id)
			}
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		return "", fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (store.Record, error) {
	body, err := s.rdb.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return store.Record{ID: id, Body: body}, nil
}

func (s *Store) QueryByEquality(ctx context.Context, collection, field string, value any) ([]store.Record, error) {
	if err := store.ValidateField(field); err != nil {
		return nil, err
	}
	if !s.indexes.Has(collection, field) {
		return nil, fmt.Errorf("redis: %s.%s is not indexed", collection, field)
	}
	canonical, err := store.CanonicalValue(value)
	if err != nil {
		return nil, err
	}

	ids, err := s.rdb.SMembers(ctx, s.idxKey(collection, field, canonical)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, field, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, field, err)
	}

	records := make([]store.Record, 0, len(values))
	for i, v := range values {
		body, ok := v.(string)
		if !ok {
			// Index entry without a document; skip it.
			continue
		}
		records = append(records, store.Record{ID: ids[i], Body: []byte(body)})
	}
	return records, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	if _, err := store.EncodeFields(fields); err != nil {
		return err
	}
	key := s.docKey(collection, id)

	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		merged, err := store.MergeFields(body, fields)
		if err != nil {
			return err
		}
		indexed := s.indexes[collection]
		before, err := indexEntries(body, indexed)
		if err != nil {
			return err
		}
		after, err := indexEntries(merged, indexed)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			for field, old := range before {
				if after[field] != old {
					pipe.SRem(ctx, s.idxKey(collection, field, old), id)
				}
			}
			for field, canonical := range after {
				if before[field] != canonical {
					pipe.SAdd(ctx, s.idxKey(collection, field, canonical), id)
				}
			}
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// watch runs txf under WATCH, retrying when another client touched the key.
func (s *Store) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis: too much contention on %s", key)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// indexEntries maps each indexed field holding a scalar to its canonical
// value. Absent fields and arrays or objects are not indexed.
func indexEntries(body []byte, fields []string) (map[string]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("redis: decode document: %w", err)
	}
	entries := make(map[string]string, len(fields))
	for _, field := range fields {
		raw, ok := obj[field]
		if !ok || len(raw) == 0 || raw[0] == '{' || raw[0] == '[' {
			continue
		}
		canonical, err := store.CanonicalValue(raw)
		if err != nil {
			return nil, err
		}
		entries[field] = canonical
	}
	return entries, nil
}
