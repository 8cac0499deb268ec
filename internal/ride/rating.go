package ride

import (
	"github.com/example/ride-dispatch/internal/storage"
)

// Journal reads the rating and comment fields embedded in ride matches and
// aggregates them for reporting. It keeps no state of its own: every read
// path goes through the same match record the rider wrote.
type Journal struct {
	store storage.RideStore
}

func NewJournal(store storage.RideStore) *Journal {
	return &Journal{store: store}
}

// ForRide returns the rating attached to the ride, if any.
func (j *Journal) ForRide(rideID string) (rating int, comment string, ok bool) {
	m, found := j.store.MatchByRide(rideID)
	if !found || !m.Rated() {
		return 0, "", false
	}
	return m.Rating, m.Comment, true
}

// Distribution counts submitted ratings per star value 1..5.
func (j *Journal) Distribution() map[int]int {
	dist := map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
	for _, m := range j.store.AllMatches() {
		if m.Rated() {
			dist[m.Rating]++
		}
	}
	return dist
}
