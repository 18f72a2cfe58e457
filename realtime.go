package gtfs

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seanblanchfield/tfi-gtfs/downloader"
	"github.com/seanblanchfield/tfi-gtfs/parse"
)

// Delays below this are feed garbage (observed in the wild as roughly
// -1e9 seconds) and are dropped. A week of genuine earliness does not
// happen.
const garbageDelayCutoff = -7 * 24 * time.Hour

// RefreshLive fetches the live feed once and applies it. Every failure
// mode is logged and leaves the previous live state in place; a 429
// additionally bumps the rate limit count the poller backs off on.
func (g *GTFS) RefreshLive(ctx context.Context) {
	if g.opts.LiveURL == "" {
		return
	}

	body, err := g.fetchLive(ctx)
	if err != nil {
		liveFetchErrors.Inc()
		logrus.WithError(err).Error("live feed fetch failed")
		return
	}
	if body == nil {
		// Rate limited; counted in fetchLive.
		return
	}
	g.rateLimitCount = 0

	feed, err := parse.Realtime(body)
	if err != nil {
		liveFetchErrors.Inc()
		logrus.WithError(err).Error("discarding unparseable live feed response")
		return
	}

	g.applyFeed(ctx, feed)
}

// fetchLive returns the response body, or (nil, nil) on a 429.
func (g *GTFS) fetchLive(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, liveFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.LiveURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", g.opts.APIKey)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		g.rateLimitCount++
		liveRateLimited.Inc()
		logrus.Warnf("live feed rate limited, %d in a row", g.rateLimitCount)
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("live feed returned %s, check API_KEY", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("live feed returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading live feed response: %w", err)
	}
	return body, nil
}

// applyFeed publishes one parsed live feed to the store: per-trip
// delay lists, added trips per stop, and the cancelled trip set.
func (g *GTFS) applyFeed(ctx context.Context, feed *parse.Feed) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var updates, unrecognised, added, cancelled int
	additions := map[string][]addedTrip{}
	delayTrips := map[string]bool{}

	for _, trip := range feed.Trips {
		switch trip.ScheduleRelationship {
		case parse.TripCancelled:
			cancelled++
			liveCancelledTrips.Inc()
			g.store.Add(ctx, nsCancelled, trip.TripID)

		case parse.TripAdded:
			for _, stup := range trip.StopTimeUpdates {
				stopNumber, ok := g.liveStopNumber(ctx, stup.StopID)
				if !ok {
					continue
				}
				// Added trips have no schedule to be relative
				// to; only absolute arrival times are usable.
				if !stup.HasArrivalTime {
					continue
				}
				added++
				liveAddedTrips.Inc()
				additions[stopNumber] = append(additions[stopNumber], addedTrip{
					RouteID:    trip.RouteID,
					Arrival:    stup.ArrivalTime,
					ObservedAt: feed.Timestamp,
				})
			}

		case parse.TripScheduled:
			if g.tripInfo(ctx, trip.TripID) == nil {
				unrecognised++
				liveUnrecognisedTrips.Inc()
				continue
			}

			delays := []delayUpdate{}
			for _, stup := range trip.StopTimeUpdates {
				stopNumber, ok := g.liveStopNumber(ctx, stup.StopID)
				if !ok {
					continue
				}

				du := delayUpdate{
					StopSequence: stup.StopSequence,
					StopNumber:   stopNumber,
					ObservedAt:   feed.Timestamp,
				}
				if stup.HasArrivalTime {
					du.ArrivalTime = stup.ArrivalTime
				} else {
					if stup.Delay < garbageDelayCutoff {
						logrus.Warnf("dropping garbage delay %s for trip %s", stup.Delay, trip.TripID)
						continue
					}
					du.HasDelay = true
					du.Delay = int32(stup.Delay / time.Second)
				}
				updates++
				liveTripUpdates.Inc()
				delays = append(delays, du)
			}

			if len(delays) > 0 {
				// The resolver binary-searches these.
				sort.SliceStable(delays, func(i, j int) bool {
					return delays[i].StopSequence < delays[j].StopSequence
				})
				if buf, err := encode(delays); err == nil {
					g.store.Set(ctx, nsDelays, trip.TripID, buf)
					delayTrips[trip.TripID] = true
				}
			}
		}
	}

	additionStops := map[string]bool{}
	for stopNumber, trips := range additions {
		if buf, err := encode(trips); err == nil {
			g.store.Set(ctx, nsAdditions, stopNumber, buf)
			additionStops[stopNumber] = true
		}
	}

	// Entries from the previous pass that this feed no longer
	// mentions are gone, not merely unchanged.
	for tripID := range g.liveDelayTrips {
		if !delayTrips[tripID] {
			g.store.Delete(ctx, nsDelays, tripID)
		}
	}
	for stopNumber := range g.liveAdditionStops {
		if !additionStops[stopNumber] {
			g.store.Delete(ctx, nsAdditions, stopNumber)
		}
	}
	g.liveDelayTrips = delayTrips
	g.liveAdditionStops = additionStops

	logrus.Infof("live feed: %d stop time updates, %d unrecognised trips, %d added, %d cancelled",
		updates, unrecognised, added, cancelled)
}

// liveStopNumber maps a live feed stop_id to a stop number. With a
// stop filter active, stops outside it are silently irrelevant;
// without one, an unknown stop_id is worth a warning.
func (g *GTFS) liveStopNumber(ctx context.Context, stopID string) (string, bool) {
	number, ok := g.store.Get(ctx, nsStop, stopID)
	if g.filter != nil {
		if !ok || !g.filter[string(number)] {
			return "", false
		}
		return string(number), true
	}
	if !ok {
		logrus.Warnf("live feed references unknown stop_id %q", stopID)
		return "", false
	}
	return string(number), true
}

// StartPoller refreshes the live feed on PollingPeriod until ctx is
// cancelled, backing off exponentially while rate limited, and checks
// hourly whether the static feed has been superseded upstream.
func (g *GTFS) StartPoller(ctx context.Context) {
	go g.pollLoop(ctx)
}

func (g *GTFS) pollLoop(ctx context.Context) {
	nextStaticCheck := time.Now().Add(staticCheckInterval)

	for {
		g.RefreshLive(ctx)

		delay := g.opts.PollingPeriod
		if g.rateLimitCount > 0 {
			delay += time.Duration(float64(g.opts.PollingPeriod) * math.Pow(1.5, float64(g.rateLimitCount)))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if time.Now().After(nextStaticCheck) {
			nextStaticCheck = time.Now().Add(staticCheckInterval)
			g.maybeRefreshStatic(ctx)
		}
	}
}

// maybeRefreshStatic re-downloads and reloads the static feed when the
// upstream copy is newer than the one on disk.
func (g *GTFS) maybeRefreshStatic(ctx context.Context) {
	if g.opts.StaticURL == "" {
		return
	}

	stale, err := downloader.Stale(ctx, g.opts.DataDir, g.opts.StaticURL)
	if err != nil {
		logrus.WithError(err).Warn("static freshness check failed")
		return
	}
	if !stale {
		return
	}

	logrus.Info("static feed superseded upstream, refreshing")
	if err := downloader.Fetch(ctx, g.opts.StaticURL, g.opts.DataDir); err != nil {
		logrus.WithError(err).Error("static feed download failed")
		return
	}
	if err := g.LoadStatic(ctx); err != nil {
		logrus.WithError(err).Error("static feed reload failed")
	}
}
