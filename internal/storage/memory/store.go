// Package memory is an in-process record store used for dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"house_hunter/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	records   map[string]*domain.StoreRecord // by record id
	byListing map[string]string              // listing id -> record id
	writes    int
}

func NewStore() *Store {
	return &Store{
		records:   make(map[string]*domain.StoreRecord),
		byListing: make(map[string]string),
	}
}

// Find returns a copy of the record for listingID, nil when absent.
func (s *Store) Find(ctx context.Context, listingID string) (*domain.StoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recordID, ok := s.byListing[listingID]
	if !ok {
		return nil, nil
	}
	return clone(s.records[recordID]), nil
}

func (s *Store) Create(ctx context.Context, record *domain.StoreRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byListing[record.ID]; ok {
		return "", fmt.Errorf("listing %s already stored", record.ID)
	}

	stored := clone(record)
	stored.RecordID = uuid.NewString()
	if stored.Status == "" {
		stored.Status = domain.StatusNew
	}

	s.records[stored.RecordID] = stored
	s.byListing[stored.ID] = stored.RecordID
	s.writes++

	return stored.RecordID, nil
}

func (s *Store) Update(ctx context.Context, recordID string, patch domain.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("record %s not found", recordID)
	}
	patch.Apply(rec)
	s.writes++

	return nil
}

// Put stores rec as is, operator fields included. Used to seed the store.
func (s *Store) Put(rec *domain.StoreRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := clone(rec)
	if stored.RecordID == "" {
		stored.RecordID = uuid.NewString()
	}
	s.records[stored.RecordID] = stored
	s.byListing[stored.ID] = stored.RecordID
}

// All returns copies of every stored record.
func (s *Store) All() []*domain.StoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.StoreRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, clone(rec))
	}
	return out
}

// Writes counts successful Create and Update calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func clone(rec *domain.StoreRecord) *domain.StoreRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	if rec.ZipCode != nil {
		zip := *rec.ZipCode
		c.ZipCode = &zip
	}
	if rec.LifeScore != nil {
		score := *rec.LifeScore
		c.LifeScore = &score
	}
	if rec.ViewedOn != nil {
		viewed := *rec.ViewedOn
		c.ViewedOn = &viewed
	}
	if rec.TravelTimes != nil {
		c.TravelTimes = make(domain.TravelTimes, len(rec.TravelTimes))
		for k, v := range rec.TravelTimes {
			c.TravelTimes[k] = v
		}
	}
	return &c
}
