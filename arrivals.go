package gtfs

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seanblanchfield/tfi-gtfs/record"
)

// Arrival is one upcoming arrival at a stop. RealTimeArrival is nil
// when no live delay is known for the trip at this point.
type Arrival struct {
	Route            string     `json:"route" yaml:"route"`
	Agency           string     `json:"agency" yaml:"agency"`
	ScheduledArrival time.Time  `json:"scheduled_arrival" yaml:"scheduled_arrival"`
	RealTimeArrival  *time.Time `json:"real_time_arrival" yaml:"real_time_arrival"`
}

// effectiveTime is what the arrival list is ordered by: live estimate
// when present, schedule otherwise.
func (a Arrival) effectiveTime() time.Time {
	if a.RealTimeArrival != nil {
		return *a.RealTimeArrival
	}
	return a.ScheduledArrival
}

// TripInfo is the static context of a trip: its route, operator and
// service calendar. Days[0] is Monday.
type TripInfo struct {
	Route     string
	Agency    string
	ServiceID string
	StartDate string
	EndDate   string
	Days      [7]bool
}

// TripInfo resolves a trip_id against the static data. Any missing
// link in trip -> route -> agency or trip -> service yields nil.
func (g *GTFS) TripInfo(ctx context.Context, tripID string) *TripInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tripInfo(ctx, tripID)
}

func (g *GTFS) tripInfo(ctx context.Context, tripID string) *TripInfo {
	buf, ok := g.store.Get(ctx, nsTrip, tripID)
	if !ok {
		return nil
	}
	trip, err := record.UnpackTrip(buf)
	if err != nil {
		logrus.Warnf("corrupt trip record for %s: %v", tripID, err)
		return nil
	}

	routeBuf, ok := g.store.Get(ctx, nsRoute, trip.RouteID)
	if !ok {
		return nil
	}
	var route routeInfo
	if err := decode(routeBuf, &route); err != nil {
		logrus.Warnf("corrupt route record for %s: %v", trip.RouteID, err)
		return nil
	}

	agency, ok := g.store.Get(ctx, nsAgency, route.AgencyID)
	if !ok {
		return nil
	}

	svcBuf, ok := g.store.Get(ctx, nsService, trip.ServiceID)
	if !ok {
		return nil
	}
	var svc serviceInfo
	if err := decode(svcBuf, &svc); err != nil {
		logrus.Warnf("corrupt service record for %s: %v", trip.ServiceID, err)
		return nil
	}

	return &TripInfo{
		Route:     route.Name,
		Agency:    string(agency),
		ServiceID: trip.ServiceID,
		StartDate: svc.StartDate,
		EndDate:   svc.EndDate,
		Days:      svc.Days,
	}
}

// GetScheduledArrivals resolves the upcoming arrivals at stopNumber as
// of now, looking maxWait ahead. Scheduled trips are merged with live
// delays, cancellations and added trips, filtered to the future, and
// ordered soonest first.
func (g *GTFS) GetScheduledArrivals(ctx context.Context, stopNumber string, now time.Time, maxWait time.Duration) []Arrival {
	g.mu.RLock()
	defer g.mu.RUnlock()

	arrivals := []Arrival{}

	for _, hour := range tryHours(now, maxWait) {
		bucket, ok := g.store.Get(ctx, nsStopTimes, bucketKeyFor(stopNumber, hour))
		if !ok {
			continue
		}
		sts, err := record.UnpackBucket(bucket)
		if err != nil {
			logrus.Warnf("corrupt stop_times bucket %s: %v", bucketKeyFor(stopNumber, hour), err)
			continue
		}
		for _, st := range sts {
			if arrival, ok := g.resolveArrival(ctx, st, now); ok {
				arrivals = append(arrivals, arrival)
			}
		}
	}

	arrivals = append(arrivals, g.liveAdditions(ctx, stopNumber)...)

	sort.SliceStable(arrivals, func(i, j int) bool {
		return arrivals[i].effectiveTime().Before(arrivals[j].effectiveTime())
	})
	return arrivals
}

// tryHours is the set of wall-clock hours whose buckets can hold a
// relevant arrival: the previous hour (late-running trips), the
// current one, and one bucket per whole hour of the wait window.
func tryHours(now time.Time, maxWait time.Duration) []int {
	ahead := int(math.Ceil(maxWait.Hours()))
	if ahead > 23 {
		ahead = 23
	}

	hours := []int{(now.Hour() + 23) % 24}
	for h := now.Hour(); h <= now.Hour()+ahead; h++ {
		hours = append(hours, h%24)
	}

	seen := [24]bool{}
	uniq := hours[:0]
	for _, h := range hours {
		if !seen[h] {
			seen[h] = true
			uniq = append(uniq, h)
		}
	}
	return uniq
}

// resolveArrival decides whether one packed stop_time is an upcoming
// arrival: pin its offset to a calendar day, check the service runs
// that day, apply live cancellation and delay, and drop it if the
// result is in the past.
func (g *GTFS) resolveArrival(ctx context.Context, st record.StopTime, now time.Time) (Arrival, bool) {
	offset := st.ArrivalOffset()

	// The offset is relative to midnight of the service day, which
	// is not always today: around midnight a 23:58 record seen at
	// 00:05 belongs to yesterday, and a post-midnight 25:10 record
	// seen at 23:50 belongs to today's service day ending tomorrow.
	// Whichever reading lands within 12h of now wins.
	sinceMidnight := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	if sinceMidnight-offset > 12*time.Hour {
		offset += 24 * time.Hour
	} else if offset-sinceMidnight > 12*time.Hour {
		offset -= 24 * time.Hour
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	arrivalAt := midnight.Add(offset)

	info := g.tripInfo(ctx, st.TripID)
	if info == nil {
		return Arrival{}, false
	}

	date := arrivalAt.Format("20060102")
	scheduled := info.StartDate <= date && date <= info.EndDate &&
		info.Days[(int(arrivalAt.Weekday())+6)%7]

	var added, removed bool
	if exc, ok := g.store.Get(ctx, nsException, exceptionKey(info.ServiceID, date)); ok && len(exc) == 1 {
		added = exc[0] == exceptionAdded
		removed = exc[0] == exceptionRemoved
	}
	if !(added || (scheduled && !removed)) {
		return Arrival{}, false
	}

	if g.store.Has(ctx, nsCancelled, st.TripID) {
		return Arrival{}, false
	}

	arrival := Arrival{
		Route:            info.Route,
		Agency:           info.Agency,
		ScheduledArrival: arrivalAt,
	}
	if delay, ok := g.liveDelay(ctx, st.TripID, int(st.StopSequence)); ok {
		rt := arrivalAt.Add(delay)
		arrival.RealTimeArrival = &rt
	}

	// Keep it while either reading is still ahead of now.
	future := arrivalAt.After(now) ||
		(arrival.RealTimeArrival != nil && arrival.RealTimeArrival.After(now))
	if !future {
		return Arrival{}, false
	}
	return arrival, true
}

// liveDelay finds the delay in force for a trip at a stop sequence:
// the latest live update at or before it. Reports false when the trip
// has no live data, no update covers the sequence yet, or the covering
// update carried an absolute arrival time instead of a delay.
func (g *GTFS) liveDelay(ctx context.Context, tripID string, stopSequence int) (time.Duration, bool) {
	buf, ok := g.store.Get(ctx, nsDelays, tripID)
	if !ok {
		return 0, false
	}
	var updates []delayUpdate
	if err := decode(buf, &updates); err != nil {
		logrus.Warnf("corrupt live delays for trip %s: %v", tripID, err)
		return 0, false
	}

	// updates is sorted by StopSequence; find the last one at or
	// before stopSequence.
	i := sort.Search(len(updates), func(i int) bool {
		return updates[i].StopSequence > stopSequence
	})
	if i == 0 {
		return 0, false
	}
	u := updates[i-1]
	if !u.HasDelay {
		return 0, false
	}
	return time.Duration(u.Delay) * time.Second, true
}

// liveAdditions returns arrivals for trips the live feed added at this
// stop. Their arrival times are absolute, so schedule and estimate
// coincide.
func (g *GTFS) liveAdditions(ctx context.Context, stopNumber string) []Arrival {
	buf, ok := g.store.Get(ctx, nsAdditions, stopNumber)
	if !ok {
		return nil
	}
	var trips []addedTrip
	if err := decode(buf, &trips); err != nil {
		logrus.Warnf("corrupt live additions for stop %s: %v", stopNumber, err)
		return nil
	}

	arrivals := []Arrival{}
	for _, trip := range trips {
		routeBuf, ok := g.store.Get(ctx, nsRoute, trip.RouteID)
		if !ok {
			continue
		}
		var route routeInfo
		if err := decode(routeBuf, &route); err != nil {
			continue
		}
		agency, ok := g.store.Get(ctx, nsAgency, route.AgencyID)
		if !ok {
			continue
		}

		rt := trip.Arrival
		arrivals = append(arrivals, Arrival{
			Route:            route.Name,
			Agency:           string(agency),
			ScheduledArrival: trip.Arrival,
			RealTimeArrival:  &rt,
		})
	}
	return arrivals
}
