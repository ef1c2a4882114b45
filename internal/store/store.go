// Package store defines the persistent document store the chat core talks
// to. A store keeps JSON documents in named collections, reachable by id and
// by equality on a single top-level field. Nothing else is assumed, so any
// key-value or document database can back it without secondary indexes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("store: document not found")

// Store is the persistence contract used by the registry, the invite
// generator and the message router.
type Store interface {
	// Insert stores doc, which must encode to a JSON object. When the object
	// has no "id" field a new one is assigned. The id is returned.
	Insert(ctx context.Context, collection string, doc any) (string, error)
	// GetByID returns the document with the given id or ErrNotFound.
	GetByID(ctx context.Context, collection, id string) (Record, error)
	// QueryByEquality returns every document whose top-level field equals
	// value. Order is unspecified.
	QueryByEquality(ctx context.Context, collection, field string, value any) ([]Record, error)
	// Update merges fields into the top level of an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) error
	Ping(ctx context.Context) error
	Close() error
}

// Indexes declares, per collection, the top-level fields a backend must be
// able to query by equality. Backends without secondary indexes of their own
// maintain entries for these fields only.
type Indexes map[string][]string

// Has reports whether field is declared for collection.
func (ix Indexes) Has(collection, field string) bool {
	return slices.Contains(ix[collection], field)
}

// Record is a stored document.
type Record struct {
	ID   string
	Body json.RawMessage
}

// Decode unmarshals the document body into out.
func (r Record) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", r.ID, err)
	}
	return nil
}

// Fields is a partial document applied by Update.
type Fields map[string]any

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateField rejects field names that cannot be used as a top-level
// equality key on every backend.
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("store: invalid field name %q", field)
	}
	return nil
}

// PrepareDocument encodes doc as a JSON object carrying an "id" field and
// returns that id with the encoded body.
func PrepareDocument(doc any) (string, []byte, error) {
	obj, err := toObject(doc)
	if err != nil {
		return "", nil, err
	}

	var id string
	if raw, ok := obj["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id == "" {
		id = uuid.NewString()
		obj["id"], _ = json.Marshal(id)
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return "", nil, fmt.Errorf("store: encode document: %w", err)
	}
	return id, body, nil
}

// EncodeFields encodes a partial document as a JSON object. The id of a
// document cannot be changed.
func EncodeFields(fields Fields) ([]byte, error) {
	if len(fields) == 0 {
		return nil, errors.New("store: no fields to update")
	}
	for name := range fields {
		if name == "id" {
			return nil, errors.New("store: id cannot be updated")
		}
		if err := ValidateField(name); err != nil {
			return nil, err
		}
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("store: encode fields: %w", err)
	}
	return patch, nil
}

// MergeFields applies fields to the top level of an encoded document.
func MergeFields(body []byte, fields Fields) ([]byte, error) {
	patch, err := EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	var obj, changes map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("store: decode document: %w", err)
	}
	if err := json.Unmarshal(patch, &changes); err != nil {
		return nil, fmt.Errorf("store: decode fields: %w", err)
	}
	for name, raw := range changes {
		obj[name] = raw
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("store: encode document: %w", err)
	}
	return merged, nil
}

// CanonicalValue returns a stable JSON encoding of value so that equal
// values compare equal regardless of how they were produced.
func CanonicalValue(value any) (string, error) {
	raw, ok := value.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(value); err != nil {
			return "", fmt.Errorf("store: encode value: %w", err)
		}
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("store: decode value: %w", err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("store: encode value: %w", err)
	}
	return string(canonical), nil
}

// FieldValue returns the raw top-level field of an encoded document.
func FieldValue(body []byte, field string) (json.RawMessage, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, false, fmt.Errorf("store: decode document: %w", err)
	}
	raw, ok := obj[field]
	return raw, ok, nil
}

func toObject(doc any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("store: encode document: %w", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, errors.New("store: document must encode to a JSON object")
	}
	return obj, nil
}
