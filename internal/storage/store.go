package storage

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore holds the authoritative lifecycle state: requests and matches.
// Implementations return copies; callers mutate a copy and write it back, so
// a half-applied transition is never visible to readers.
type RideStore interface {
	SaveRequest(r models.RideRequest) error
	UpdateRequest(r models.RideRequest) error
	GetRequest(id string) (models.RideRequest, bool)

	SaveMatch(m models.RideMatch) error
	UpdateMatch(m models.RideMatch) error
	MatchByRide(rideID string) (models.RideMatch, bool)

	// ActiveMatchForDriver returns the driver's match whose ride is in a
	// non-terminal post-acceptance state, if any. At most one can exist.
	ActiveMatchForDriver(driverID string) (models.RideMatch, bool)

	MatchesByDriver(driverID string) []models.RideMatch
	RequestsByRider(riderID string) []models.RideRequest
	AllMatches() []models.RideMatch
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.RideRequest
	matches  map[string]models.RideMatch // keyed by ride id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.RideRequest),
		matches:  make(map[string]models.RideMatch),
	}
}

func (s *MemoryStore) SaveRequest(r models.RideRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = r
	return nil
}

func (s *MemoryStore) UpdateRequest(r models.RideRequest) error {
	return s.SaveRequest(r)
}

func (s *MemoryStore) GetRequest(id string) (models.RideRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	return r, ok
}

func (s *MemoryStore) SaveMatch(m models.RideMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.RideID] = m
	return nil
}

func (s *MemoryStore) UpdateMatch(m models.RideMatch) error {
	return s.SaveMatch(m)
}

func (s *MemoryStore) MatchByRide(rideID string) (models.RideMatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[rideID]
	return m, ok
}

func (s *MemoryStore) ActiveMatchForDriver(driverID string) (models.RideMatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for rideID, m := range s.matches {
		if m.DriverID != driverID {
			continue
		}
		r, ok := s.requests[rideID]
		if !ok {
			continue
		}
		switch r.Status {
		case models.StatusAccepted, models.StatusDriverArriving, models.StatusStarted:
			return m, true
		}
	}
	return models.RideMatch{}, false
}

func (s *MemoryStore) MatchesByDriver(driverID string) []models.RideMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RideMatch
	for _, m := range s.matches {
		if m.DriverID == driverID {
			out = append(out, m)
		}
	}
	return out
}

func (s *MemoryStore) RequestsByRider(riderID string) []models.RideRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RideRequest
	for _, r := range s.requests {
		if r.RiderID == riderID {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) AllMatches() []models.RideMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RideMatch, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	return out
}
