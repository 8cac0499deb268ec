package matcher

import (
	"sort"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Candidate is one eligible online driver for a pending request, with the
// estimated time to reach the pickup.
type Candidate struct {
	Driver     models.Driver
	ETASeconds float64
}

// Service produces the ranked candidate list a new ride request is broadcast
// to. Ranking favors short pickup ETA, nudged by driver rating.
type Service struct {
	Geo  geo.Geo
	ETA  *eta.Estimator
	TopN int
}

func (s *Service) Candidates(pickup models.Coord) []Candidate {
	limit := s.TopN
	if limit <= 0 {
		limit = 10
	}
	drivers := s.Geo.Nearby(pickup.Lat, pickup.Lon, limit)
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, Candidate{Driver: d, ETASeconds: s.ETA.Seconds(d.Loc, pickup)})
	}
	sort.Slice(out, func(i, j int) bool { return cost(out[i]) < cost(out[j]) })
	return out
}

// PickupETA estimates how long the given driver needs to reach the pickup.
func (s *Service) PickupETA(driverID string, pickup models.Coord) float64 {
	d, ok := s.Geo.Get(driverID)
	if !ok {
		return 0
	}
	return s.ETA.Seconds(d.Loc, pickup)
}

// cost = w1*eta + w2*(5 - rating)
func cost(c Candidate) float64 {
	return c.ETASeconds + 30.0*(5.0-c.Driver.Rating)
}
