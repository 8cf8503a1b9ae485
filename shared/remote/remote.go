// Package remote defines the document and blob collaborators the client
// synchronizes with. Implementations live in memstore (in-process) and
// httpstore (JSON over HTTP).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced document does not exist.
	ErrNotFound = errors.New("remote document not found")
	// ErrConflict means an atomic update lost too many races.
	ErrConflict = errors.New("remote update conflict")
	// ErrUnavailable is a transient failure: network down, timeout, 5xx.
	ErrUnavailable = errors.New("remote unavailable")
)

// Ref addresses one document.
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Document is a versioned JSON document. Version increases on every write.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data"`
}

// Ref returns the document's address.
func (d *Document) Ref() Ref {
	return Ref{Collection: d.Collection, ID: d.ID}
}

// Decode unmarshals the document data into v.
func (d *Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Ref(), err)
	}
	return nil
}

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Filter compares a top-level field of the document data with Value.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Query selects documents of one collection, optionally ordered by a field.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"orderBy,omitempty"`
	Descending bool     `json:"descending,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Where returns a copy of q with an extra filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// Snapshot is the full result of a subscribed query at one point in time.
type Snapshot struct {
	Documents []*Document
}

// Mutator computes the new data of a document from its current state.
// current is nil when the document does not exist. Returning an error aborts
// the update and is passed back to the caller unchanged.
type Mutator func(current *Document) (any, error)

// DocumentStore is the remote document database.
type DocumentStore interface {
	Get(ctx context.Context, ref Ref) (*Document, error)
	// Set creates or replaces the document at ref.
	Set(ctx context.Context, ref Ref, data any) (*Document, error)
	Query(ctx context.Context, q Query) ([]*Document, error)
	// RunAtomicUpdate applies fn as one read-modify-write with respect to
	// other writers of ref.
	RunAtomicUpdate(ctx context.Context, ref Ref, fn Mutator) (*Document, error)
	// Subscribe emits a snapshot of q now and after every change, until ctx ends.
	Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error)
}

// BlobStore is the remote object storage.
type BlobStore interface {
	// Upload stores data at path and returns its download URL.
	Upload(ctx context.Context, data []byte, path string) (string, error)
}

// BlobReader serves uploaded blobs back; used by the development server.
type BlobReader interface {
	ReadBlob(ctx context.Context, path string) ([]byte, error)
}

// Marshal encodes data for storage, passing json.RawMessage through.
func Marshal(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}
