package fare

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMinimumFareApplies(t *testing.T) {
	tbl := DefaultTable()
	// Zero-distance trip: base fare is below the minimum for economy.
	est := tbl.Estimate(models.Coord{Lat: 1, Lon: 1}, models.Coord{Lat: 1, Lon: 1}, models.VehicleEconomy)
	assert.True(t, est.Equal(dec("5.00")), "got %s", est)
}

func TestClassOrdering(t *testing.T) {
	tbl := DefaultTable()
	from := models.Coord{Lat: 0, Lon: 0}
	to := models.Coord{Lat: 0.1, Lon: 0.1} // ~15.7 km

	economy := tbl.Estimate(from, to, models.VehicleEconomy)
	comfort := tbl.Estimate(from, to, models.VehicleComfort)
	premium := tbl.Estimate(from, to, models.VehiclePremium)

	assert.True(t, economy.LessThan(comfort))
	assert.True(t, comfort.LessThan(premium))
}

func TestUnknownClassFallsBackToEconomy(t *testing.T) {
	tbl := DefaultTable()
	from := models.Coord{Lat: 0, Lon: 0}
	to := models.Coord{Lat: 0.1, Lon: 0.1}
	assert.True(t, tbl.Estimate(from, to, "boat").Equal(tbl.Estimate(from, to, models.VehicleEconomy)))
}

func TestTwoDecimalRounding(t *testing.T) {
	tbl := DefaultTable()
	est := tbl.Estimate(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0.1, Lon: 0.1}, models.VehicleEconomy)
	assert.Equal(t, int32(-2), est.Exponent())
}
