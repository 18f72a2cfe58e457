package parse

import (
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"
)

// GTFS-realtime FeedMessage parsing, trimmed to what the arrival
// resolver consumes: trip_update entities only. Vehicle positions and
// alerts are ignored.

type TripScheduleRelationship int

const (
	TripScheduled TripScheduleRelationship = iota
	TripAdded
	TripUnscheduled
	TripCancelled
)

// One SCHEDULED stop_time_update within a trip update. Exactly one of
// ArrivalTime (absolute, from arrival.time) and Delay (relative, from
// arrival.delay) is meaningful; HasArrivalTime tells which.
type StopTimeUpdate struct {
	StopID         string
	StopSequence   int
	HasArrivalTime bool
	ArrivalTime    time.Time
	Delay          time.Duration
}

type TripUpdate struct {
	TripID               string
	RouteID              string
	ScheduleRelationship TripScheduleRelationship
	StopTimeUpdates      []StopTimeUpdate
}

// Key data from one GTFS-realtime feed fetch.
type Feed struct {
	Timestamp time.Time
	Trips     []TripUpdate
}

func Realtime(buf []byte) (*Feed, error) {
	f := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(buf, f); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	feed := &Feed{
		Timestamp: time.Unix(int64(f.GetHeader().GetTimestamp()), 0),
	}

	for _, entity := range f.GetEntity() {
		// We only care about TripUpdates
		if entity.TripUpdate == nil {
			continue
		}

		trip := entity.TripUpdate.GetTrip()
		if trip.GetTripId() == "" {
			continue
		}

		tu := TripUpdate{
			TripID:  trip.GetTripId(),
			RouteID: trip.GetRouteId(),
		}

		switch trip.GetScheduleRelationship() {
		case gtfsproto.TripDescriptor_SCHEDULED:
			tu.ScheduleRelationship = TripScheduled
		case gtfsproto.TripDescriptor_ADDED:
			tu.ScheduleRelationship = TripAdded
		case gtfsproto.TripDescriptor_UNSCHEDULED:
			tu.ScheduleRelationship = TripUnscheduled
		case gtfsproto.TripDescriptor_CANCELED:
			tu.ScheduleRelationship = TripCancelled
		default:
			// DUPLICATED and friends are not supported.
			continue
		}

		for _, stup := range entity.TripUpdate.GetStopTimeUpdate() {
			// SKIPPED and NO_DATA carry nothing the resolver
			// can apply.
			if stup.GetScheduleRelationship() != gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED {
				continue
			}

			update := StopTimeUpdate{
				StopID:       stup.GetStopId(),
				StopSequence: int(stup.GetStopSequence()),
			}

			if arrivalUnix := stup.GetArrival().GetTime(); arrivalUnix != 0 {
				update.HasArrivalTime = true
				update.ArrivalTime = time.Unix(arrivalUnix, 0)
			} else {
				update.Delay = time.Duration(stup.GetArrival().GetDelay()) * time.Second
			}

			tu.StopTimeUpdates = append(tu.StopTimeUpdates, update)
		}

		feed.Trips = append(feed.Trips, tu)
	}

	return feed, nil
}
