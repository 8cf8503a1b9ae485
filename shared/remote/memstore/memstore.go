// Package memstore is an in-process remote.DocumentStore and remote.BlobStore.
// It backs the development server and tests. A single mutex serializes every
// write, which makes RunAtomicUpdate trivially atomic.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dfryer1193/readshelf/shared/remote"
)

var (
	_ remote.DocumentStore = (*Store)(nil)
	_ remote.BlobStore     = (*Store)(nil)
	_ remote.BlobReader    = (*Store)(nil)
)

type subscription struct {
	query remote.Query
	ch    chan remote.Snapshot
}

// Store keeps documents and blobs in memory.
type Store struct {
	mu      sync.Mutex
	docs    map[string]map[string]*remote.Document
	blobs   map[string][]byte
	subs    map[int]*subscription
	nextSub int

	blobBaseURL string
}

// New creates an empty Store. Uploaded blobs get download URLs under
// blobBaseURL.
func New(blobBaseURL string) *Store {
	return &Store{
		docs:        make(map[string]map[string]*remote.Document),
		blobs:       make(map[string][]byte),
		subs:        make(map[int]*subscription),
		blobBaseURL: strings.TrimRight(blobBaseURL, "/"),
	}
}

// SetBlobBaseURL changes the prefix of download URLs returned by Upload.
func (s *Store) SetBlobBaseURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobBaseURL = strings.TrimRight(u, "/")
}

func clone(d *remote.Document) *remote.Document {
	c := *d
	c.Data = slices.Clone(d.Data)
	return &c
}

// Get returns a copy of the document at ref.
func (s *Store) Get(ctx context.Context, ref remote.Ref) (*remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[ref.Collection][ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrNotFound, ref)
	}
	return clone(d), nil
}

// Set upserts the document at ref.
func (s *Store) Set(ctx context.Context, ref remote.Ref, data any) (*remote.Document, error) {
	raw, err := remote.Marshal(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ref, raw), nil
}

// write stores raw at ref and notifies subscribers. Callers hold s.mu.
func (s *Store) write(ref remote.Ref, raw []byte) *remote.Document {
	coll, ok := s.docs[ref.Collection]
	if !ok {
		coll = make(map[string]*remote.Document)
		s.docs[ref.Collection] = coll
	}

	var version int64 = 1
	if prev, ok := coll[ref.ID]; ok {
		version = prev.Version + 1
	}

	d := &remote.Document{
		Collection: ref.Collection,
		ID:         ref.ID,
		Version:    version,
		Data:       slices.Clone(raw),
	}
	coll[ref.ID] = d

	s.notify(ref.Collection)
	return clone(d)
}

// Query evaluates q over the collection.
func (s *Store) Query(ctx context.Context, q remote.Query) ([]*remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(q), nil
}

func (s *Store) query(q remote.Query) []*remote.Document {
	docs := make([]*remote.Document, 0, len(s.docs[q.Collection]))
	for _, d := range s.docs[q.Collection] {
		docs = append(docs, clone(d))
	}
	return remote.Apply(q, docs)
}

// RunAtomicUpdate runs fn and the write under the store lock.
func (s *Store) RunAtomicUpdate(ctx context.Context, ref remote.Ref, fn remote.Mutator) (*remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *remote.Document
	if d, ok := s.docs[ref.Collection][ref.ID]; ok {
		current = clone(d)
	}

	data, err := fn(current)
	if err != nil {
		return nil, err
	}
	raw, err := remote.Marshal(data)
	if err != nil {
		return nil, err
	}
	return s.write(ref, raw), nil
}

// Subscribe emits the current result of q and a fresh one after each write
// to its collection. Slow readers only see the latest snapshot.
func (s *Store) Subscribe(ctx context.Context, q remote.Query) (<-chan remote.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	sub := &subscription{query: q, ch: make(chan remote.Snapshot, 1)}
	s.subs[id] = sub
	sub.ch <- remote.Snapshot{Documents: s.query(q)}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (s *Store) notify(collection string) {
	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		snap := remote.Snapshot{Documents: s.query(sub.query)}
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

// Upload stores data and returns its download URL.
func (s *Store) Upload(ctx context.Context, data []byte, path string) (string, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", fmt.Errorf("blob path is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[path] = slices.Clone(data)
	return s.blobBaseURL + "/v1/blobs/" + path, nil
}

// ReadBlob returns an uploaded blob.
func (s *Store) ReadBlob(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blobs[strings.TrimLeft(path, "/")]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", remote.ErrNotFound, path)
	}
	return slices.Clone(data), nil
}

// Collections lists collection names, for diagnostics.
func (s *Store) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.docs))
}
