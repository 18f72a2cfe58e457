package gtfs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveTripUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_live_trip_updates_total",
		Help: "Stop time updates applied from the live feed.",
	})
	liveUnrecognisedTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_live_unrecognised_trips_total",
		Help: "Live trip updates referencing a trip_id absent from the static data.",
	})
	liveAddedTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_live_added_trips_total",
		Help: "Added trips ingested from the live feed.",
	})
	liveCancelledTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_live_cancelled_trips_total",
		Help: "Trip cancellations ingested from the live feed.",
	})
	liveFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_live_fetch_errors_total",
		Help: "Live feed fetches that failed or returned an unusable response.",
	})
	liveRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_live_rate_limited_total",
		Help: "Live feed fetches rejected with HTTP 429.",
	})
	staticReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtfs_static_reloads_total",
		Help: "Full static dataset loads.",
	})
)
