package parse

import (
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"
)

func buildFeed(t *testing.T, timestamp uint64, entities []*gtfsproto.FeedEntity) []byte {
	t.Helper()
	msg := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(timestamp),
		},
		Entity: entities,
	}
	buf, err := proto.Marshal(msg)
	require.NoError(t, err)
	return buf
}

func tripUpdateEntity(
	id string,
	trip *gtfsproto.TripDescriptor,
	updates ...*gtfsproto.TripUpdate_StopTimeUpdate,
) *gtfsproto.FeedEntity {
	return &gtfsproto.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfsproto.TripUpdate{
			Trip:           trip,
			StopTimeUpdate: updates,
		},
	}
}

func TestRealtimeScheduledTrip(t *testing.T) {
	buf := buildFeed(t, 1694767800, []*gtfsproto.FeedEntity{
		tripUpdateEntity(
			"e1",
			&gtfsproto.TripDescriptor{
				TripId:               proto.String("3582_6405"),
				ScheduleRelationship: gtfsproto.TripDescriptor_SCHEDULED.Enum(),
			},
			&gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:       proto.String("8220DB001358"),
				StopSequence: proto.Uint32(78),
				Arrival:      &gtfsproto.TripUpdate_StopTimeEvent{Delay: proto.Int32(88)},
			},
			&gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:       proto.String("8220DB001359"),
				StopSequence: proto.Uint32(79),
				Arrival:      &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(1694768018)},
			},
		),
	})

	feed, err := Realtime(buf)
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1694767800, 0), feed.Timestamp)
	require.Len(t, feed.Trips, 1)

	trip := feed.Trips[0]
	assert.Equal(t, "3582_6405", trip.TripID)
	assert.Equal(t, TripScheduled, trip.ScheduleRelationship)
	require.Len(t, trip.StopTimeUpdates, 2)

	assert.Equal(t, StopTimeUpdate{
		StopID:       "8220DB001358",
		StopSequence: 78,
		Delay:        88 * time.Second,
	}, trip.StopTimeUpdates[0])

	assert.Equal(t, StopTimeUpdate{
		StopID:         "8220DB001359",
		StopSequence:   79,
		HasArrivalTime: true,
		ArrivalTime:    time.Unix(1694768018, 0),
	}, trip.StopTimeUpdates[1])
}

func TestRealtimeSkippedAndNoDataDropped(t *testing.T) {
	buf := buildFeed(t, 1694767800, []*gtfsproto.FeedEntity{
		tripUpdateEntity(
			"e1",
			&gtfsproto.TripDescriptor{
				TripId:               proto.String("t1"),
				ScheduleRelationship: gtfsproto.TripDescriptor_SCHEDULED.Enum(),
			},
			&gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:               proto.String("s1"),
				StopSequence:         proto.Uint32(1),
				ScheduleRelationship: gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
			},
			&gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:               proto.String("s2"),
				StopSequence:         proto.Uint32(2),
				ScheduleRelationship: gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA.Enum(),
			},
			&gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:       proto.String("s3"),
				StopSequence: proto.Uint32(3),
				Arrival:      &gtfsproto.TripUpdate_StopTimeEvent{Delay: proto.Int32(60)},
			},
		),
	})

	feed, err := Realtime(buf)
	require.NoError(t, err)
	require.Len(t, feed.Trips, 1)
	require.Len(t, feed.Trips[0].StopTimeUpdates, 1)
	assert.Equal(t, "s3", feed.Trips[0].StopTimeUpdates[0].StopID)
}

func TestRealtimeAddedAndCancelled(t *testing.T) {
	buf := buildFeed(t, 1694767800, []*gtfsproto.FeedEntity{
		tripUpdateEntity(
			"e1",
			&gtfsproto.TripDescriptor{
				TripId:               proto.String("added1"),
				RouteId:              proto.String("3582_46339"),
				ScheduleRelationship: gtfsproto.TripDescriptor_ADDED.Enum(),
			},
			&gtfsproto.TripUpdate_StopTimeUpdate{
				StopId:  proto.String("8220DB001358"),
				Arrival: &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(1694768100)},
			},
		),
		tripUpdateEntity(
			"e2",
			&gtfsproto.TripDescriptor{
				TripId:               proto.String("gone1"),
				ScheduleRelationship: gtfsproto.TripDescriptor_CANCELED.Enum(),
			},
		),
	})

	feed, err := Realtime(buf)
	require.NoError(t, err)
	require.Len(t, feed.Trips, 2)

	assert.Equal(t, TripAdded, feed.Trips[0].ScheduleRelationship)
	assert.Equal(t, "3582_46339", feed.Trips[0].RouteID)
	require.Len(t, feed.Trips[0].StopTimeUpdates, 1)
	assert.True(t, feed.Trips[0].StopTimeUpdates[0].HasArrivalTime)

	assert.Equal(t, TripCancelled, feed.Trips[1].ScheduleRelationship)
}

func TestRealtimeIgnoresNonTripEntities(t *testing.T) {
	buf := buildFeed(t, 1694767800, []*gtfsproto.FeedEntity{
		{
			Id:      proto.String("v1"),
			Vehicle: &gtfsproto.VehiclePosition{},
		},
	})

	feed, err := Realtime(buf)
	require.NoError(t, err)
	assert.Empty(t, feed.Trips)
}

func TestRealtimeCorruptBuffer(t *testing.T) {
	_, err := Realtime([]byte("not a protobuf, at all, not even a little"))
	assert.Error(t, err)
}
