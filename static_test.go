package gtfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblanchfield/tfi-gtfs/testutil"
)

func newTestGTFS(t *testing.T, feed testutil.Feed, mutate func(*Options)) *GTFS {
	t.Helper()
	opts := Options{DataDir: feed.Write(t)}
	if mutate != nil {
		mutate(&opts)
	}
	g, err := New(context.Background(), opts)
	require.NoError(t, err)
	return g
}

func TestLoadStatic(t *testing.T) {
	ctx := context.Background()
	g := newTestGTFS(t, testutil.DefaultFeed(), nil)

	assert.Equal(t, int64(2), g.NumStops(ctx))
	assert.True(t, g.IsValidStopNumber(ctx, "1358"))
	assert.True(t, g.IsValidStopNumber(ctx, "1359"))
	assert.False(t, g.IsValidStopNumber(ctx, "9999"))
	assert.Equal(t, "Parnell Square", g.StopName(ctx, "1358"))
	assert.Equal(t, "", g.StopName(ctx, "9999"))
}

func TestTripInfo(t *testing.T) {
	ctx := context.Background()
	g := newTestGTFS(t, testutil.DefaultFeed(), nil)

	info := g.TripInfo(ctx, "3582_11643")
	require.NotNil(t, info)
	assert.Equal(t, "49", info.Route)
	assert.Equal(t, "Dublin Bus", info.Agency)
	assert.Equal(t, "180", info.ServiceID)
	assert.Equal(t, "20230915", info.StartDate)
	assert.Equal(t, "20230915", info.EndDate)
	// Friday only, Monday at index 0.
	assert.Equal(t, [7]bool{false, false, false, false, true, false, false}, info.Days)

	assert.Nil(t, g.TripInfo(ctx, "no_such"))
}

func TestStopFilter(t *testing.T) {
	ctx := context.Background()

	feed := testutil.DefaultFeed()
	// Route 68's trip serves only stop 1359.
	feed.StopTimes = []string{
		"3582_11643,09:24:16,09:24:16,8220DB001358,23",
		"3582_6405,09:40:00,09:40:00,8220DB001359,78",
	}

	g := newTestGTFS(t, feed, func(opts *Options) {
		opts.FilterStops = []string{"1358"}
	})

	assert.True(t, g.IsValidStopNumber(ctx, "1358"))
	assert.False(t, g.IsValidStopNumber(ctx, "1359"))

	// Trips that never touch a filtered stop are not materialized.
	assert.NotNil(t, g.TripInfo(ctx, "3582_11643"))
	assert.Nil(t, g.TripInfo(ctx, "3582_6405"))
}

func TestStopCodeFallsBackToStopID(t *testing.T) {
	ctx := context.Background()

	feed := testutil.DefaultFeed()
	feed.Stops = append(feed.Stops, "8230DB004747,,Merrion Gates")
	feed.StopTimes = append(feed.StopTimes, "3582_6405,09:55:00,09:55:00,8230DB004747,80")

	g := newTestGTFS(t, feed, nil)

	assert.True(t, g.IsValidStopNumber(ctx, "8230DB004747"))
	assert.Equal(t, "Merrion Gates", g.StopName(ctx, "8230DB004747"))
}

func TestSnapshotReused(t *testing.T) {
	ctx := context.Background()

	feed := testutil.DefaultFeed()
	dir := feed.Write(t)

	g, err := New(ctx, Options{DataDir: dir})
	require.NoError(t, err)
	require.True(t, g.IsValidStopNumber(ctx, "1358"))

	// With the CSVs gone only the snapshot can satisfy a second
	// startup.
	require.NoError(t, os.Remove(filepath.Join(dir, "agency.txt")))

	g2, err := New(ctx, Options{DataDir: dir})
	require.NoError(t, err)
	assert.True(t, g2.IsValidStopNumber(ctx, "1358"))
	assert.Equal(t, "Parnell Square", g2.StopName(ctx, "1358"))
}

func TestSnapshotFilterMismatchForcesReload(t *testing.T) {
	ctx := context.Background()

	feed := testutil.DefaultFeed()
	dir := feed.Write(t)

	_, err := New(ctx, Options{DataDir: dir})
	require.NoError(t, err)

	g, err := New(ctx, Options{DataDir: dir, FilterStops: []string{"1358"}})
	require.NoError(t, err)
	assert.True(t, g.IsValidStopNumber(ctx, "1358"))
	assert.False(t, g.IsValidStopNumber(ctx, "1359"))
}

func TestStaticMissing(t *testing.T) {
	_, err := New(context.Background(), Options{DataDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrStaticMissing)
}

func TestUnknownAgencyIsFatal(t *testing.T) {
	feed := testutil.DefaultFeed()
	feed.Routes = append(feed.Routes, "3582_46341,999,150")

	_, err := New(context.Background(), Options{DataDir: feed.Write(t)})
	assert.ErrorContains(t, err, "unknown agency")
}

func TestUnknownServiceIsFatal(t *testing.T) {
	feed := testutil.DefaultFeed()
	feed.Trips = append(feed.Trips, "3582_46339,999,3582_9999")
	feed.StopTimes = append(feed.StopTimes, "3582_9999,10:00:00,10:00:00,8220DB001358,5")

	_, err := New(context.Background(), Options{DataDir: feed.Write(t)})
	assert.ErrorContains(t, err, "unknown service")
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	ctx := context.Background()

	feed := testutil.DefaultFeed()
	feed.StopTimes = append(feed.StopTimes,
		"3582_6405,xx:yy:zz,xx:yy:zz,8220DB001358,79", // bad arrival time
		"3582_6405,10:00:00,10:00:00,8220DB009999,80", // unknown stop
	)

	g, err := New(ctx, Options{DataDir: feed.Write(t)})
	require.NoError(t, err)
	assert.True(t, g.IsValidStopNumber(ctx, "1358"))
}
