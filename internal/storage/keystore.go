package storage

import (
	"sync"

	"github.com/universal-ai/gateway/internal/models"
)

// KeyStore owns every API key record. All reads and writes go through it;
// callers only ever receive copies.
type KeyStore struct {
	mu      sync.Mutex
	keys    map[string]*models.APIKey
	order   []string
	version uint64
}

// NewKeyStore creates an empty key store
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys: make(map[string]*models.APIKey),
	}
}

// Get returns a copy of the record for key
func (s *KeyStore) Get(key string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[key]
	if !ok {
		return nil, models.ErrKeyNotFound
	}
	return k.Clone(), nil
}

// Put inserts or overwrites a record. An overwritten record keeps its
// original position in List.
func (s *KeyStore) Put(key *models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(key)
}

// Create inserts a record only if its key is not present yet
func (s *KeyStore) Create(key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.Key]; ok {
		return models.ErrKeyExists
	}
	s.putLocked(key)
	return nil
}

func (s *KeyStore) putLocked(key *models.APIKey) {
	if _, ok := s.keys[key.Key]; !ok {
		s.order = append(s.order, key.Key)
	}
	s.keys[key.Key] = key.Clone()
	s.version++
}

// List returns copies of all records in insertion order
func (s *KeyStore) List() []*models.APIKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]*models.APIKey, 0, len(s.order))
	for _, k := range s.order {
		keys = append(keys, s.keys[k].Clone())
	}
	return keys
}

// Len returns the number of stored keys
func (s *KeyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Update runs fn against a working copy of the record inside the store's
// critical section. The copy replaces the stored record only when fn
// returns nil, so a failed fn never leaves a partial mutation behind.
func (s *KeyStore) Update(key string, fn func(k *models.APIKey) error) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.keys[key]
	if !ok {
		return nil, models.ErrKeyNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	s.keys[key] = working
	s.version++
	return working.Clone(), nil
}

// Replace swaps the whole content of the store, keeping the order of keys
func (s *KeyStore) Replace(keys []*models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = make(map[string]*models.APIKey, len(keys))
	s.order = s.order[:0]
	for _, k := range keys {
		s.putLocked(k)
	}
}

// Version changes every time the store is mutated
func (s *KeyStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}
