// Package memory provides an in-process index store for development and dry runs.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/index"
)

// ErrAlreadyIndexed is returned by Add for a reference already in the catalog.
var ErrAlreadyIndexed = errors.New("reference already indexed")

// Store keeps documents per catalog key.
type Store struct {
	mu      sync.RWMutex
	catalog map[string]map[string]index.Document
	now     func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		catalog: make(map[string]map[string]index.Document),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get implements crawler.IndexStore.
func (s *Store) Get(_ context.Context, catalogKey, reference string) (crawler.IndexedJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.catalog[catalogKey][reference]
	if !ok {
		return crawler.IndexedJob{}, false, nil
	}
	return doc.Indexed(nil), true, nil
}

// Add implements crawler.IndexStore.
func (s *Store) Add(ctx context.Context, catalogKey string, record crawler.JobRecord) error {
	added, err := s.AddIfAbsent(ctx, catalogKey, record)
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadyIndexed
	}
	return nil
}

// AddIfAbsent implements crawler.AtomicAdder.
func (s *Store) AddIfAbsent(_ context.Context, catalogKey string, record crawler.JobRecord) (bool, error) {
	if record.Reference == "" {
		return false, errors.New("reference is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.catalog[catalogKey]
	if !ok {
		docs = make(map[string]index.Document)
		s.catalog[catalogKey] = docs
	}
	if _, exists := docs[record.Reference]; exists {
		return false, nil
	}
	docs[record.Reference] = index.NewDocument(catalogKey, record, s.now())
	return true, nil
}

// Documents returns every document in catalogKey.
func (s *Store) Documents(catalogKey string) []index.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]index.Document, 0, len(s.catalog[catalogKey]))
	for _, doc := range s.catalog[catalogKey] {
		out = append(out, doc)
	}
	return out
}
