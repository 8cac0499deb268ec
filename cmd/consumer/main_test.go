package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeUpdater struct {
	geoCalls  int
	hsetCalls int
	geoFails  int
	hsetFails int
	lastLoc   *redis.GeoLocation
	lastMeta  map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(_ context.Context, _ string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.geoFails {
		return errors.New("geoadd failed")
	}
	f.lastLoc = loc
	return nil
}

func (f *fakeUpdater) HSet(_ context.Context, _ string, values map[string]interface{}) error {
	f.hsetCalls++
	if f.hsetCalls <= f.hsetFails {
		return errors.New("hset failed")
	}
	f.lastMeta = values
	return nil
}

func testDriver() *models.Driver {
	return &models.Driver{
		ID:      "driver-7",
		Loc:     models.Coord{Lat: 40.71, Lon: -74.0},
		Rating:  4.6,
		Online:  true,
		Updated: time.Now(),
	}
}

func TestUpdateGeoSucceedsFirstTry(t *testing.T) {
	f := &fakeUpdater{}
	err := updateGeoWithRetry(context.Background(), f, "drivers_geo", testDriver(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, f.geoCalls)
	assert.Equal(t, 1, f.hsetCalls)
	assert.Equal(t, "driver-7", f.lastLoc.Name)
	assert.Equal(t, -74.0, f.lastLoc.Longitude)
	assert.Equal(t, 4.6, f.lastMeta["rating"])
	assert.Equal(t, true, f.lastMeta["online"])
}

func TestUpdateGeoRetriesTransientFailure(t *testing.T) {
	f := &fakeUpdater{geoFails: 2}
	err := updateGeoWithRetry(context.Background(), f, "drivers_geo", testDriver(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, f.geoCalls)
	assert.NotNil(t, f.lastLoc)
}

func TestUpdateGeoGivesUpAfterAttempts(t *testing.T) {
	f := &fakeUpdater{geoFails: 10}
	err := updateGeoWithRetry(context.Background(), f, "drivers_geo", testDriver(), 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, f.geoCalls)
	assert.Equal(t, 0, f.hsetCalls)
}

func TestUpdateGeoRetriesMetadataWrite(t *testing.T) {
	f := &fakeUpdater{hsetFails: 1}
	err := updateGeoWithRetry(context.Background(), f, "drivers_geo", testDriver(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, f.hsetCalls)
	assert.NotNil(t, f.lastMeta)
}
