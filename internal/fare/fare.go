package fare

import (
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Estimator derives an estimated fare from trip distance and vehicle class.
// The lifecycle treats it as opaque; swapping in surge pricing or an external
// quoting service only touches this package.
type Estimator interface {
	Estimate(pickup, dropoff models.Coord, class models.VehicleClass) decimal.Decimal
}

type classRate struct {
	base  decimal.Decimal
	perKM decimal.Decimal
}

// Table prices a ride as base + per-km * haversine distance, by class.
type Table struct {
	rates   map[models.VehicleClass]classRate
	minimum decimal.Decimal
}

func DefaultTable() *Table {
	return &Table{
		rates: map[models.VehicleClass]classRate{
			models.VehicleEconomy: {base: dec("2.50"), perKM: dec("1.20")},
			models.VehicleComfort: {base: dec("3.50"), perKM: dec("1.80")},
			models.VehiclePremium: {base: dec("5.00"), perKM: dec("2.50")},
		},
		minimum: dec("5.00"),
	}
}

func (t *Table) Estimate(pickup, dropoff models.Coord, class models.VehicleClass) decimal.Decimal {
	rate, ok := t.rates[class]
	if !ok {
		rate = t.rates[models.VehicleEconomy]
	}
	km := geo.Haversine(pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon) / 1000.0
	est := rate.base.Add(rate.perKM.Mul(decimal.NewFromFloat(km))).Round(2)
	if est.LessThan(t.minimum) {
		return t.minimum
	}
	return est
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
