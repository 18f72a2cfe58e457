package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		trip Trip
	}{
		{"typical", Trip{RouteID: "3582_46339", ServiceID: "180"}},
		{"max width", Trip{RouteID: "123456789012", ServiceID: "1234"}},
		{"empty service", Trip{RouteID: "10", ServiceID: ""}},
		{"non-ascii", Trip{RouteID: "línea9", ServiceID: "á"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := PackTrip(tc.trip)
			require.NoError(t, err)
			assert.Len(t, buf, TripLen)

			trip, err := UnpackTrip(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.trip, trip)

			// pack(unpack(x)) == x
			buf2, err := PackTrip(trip)
			require.NoError(t, err)
			assert.Equal(t, buf, buf2)
		})
	}
}

func TestTripFieldTooWide(t *testing.T) {
	_, err := PackTrip(Trip{RouteID: "1234567890123", ServiceID: "1"})
	assert.Error(t, err)

	_, err = PackTrip(Trip{RouteID: "1", ServiceID: "12345"})
	assert.Error(t, err)

	// non-ascii strings are measured in bytes, not runes
	_, err = PackTrip(Trip{RouteID: "1", ServiceID: "ééé"})
	assert.Error(t, err)
}

func TestStopTimeRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		st   StopTime
	}{
		{"typical", StopTime{TripID: "3582_11643", ArrivalHour: 9, ArrivalMin: 15, ArrivalSec: 50, StopSequence: 23}},
		{"post-midnight", StopTime{TripID: "3582_6405", ArrivalHour: 25, ArrivalMin: 10, ArrivalSec: 0, StopSequence: 1}},
		{"max trip id", StopTime{TripID: "123456789012", ArrivalHour: 23, ArrivalMin: 59, ArrivalSec: 59, StopSequence: 127}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := PackStopTime(tc.st)
			require.NoError(t, err)
			assert.Len(t, buf, StopTimeLen)

			st, err := UnpackStopTime(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.st, st)
		})
	}
}

func TestStopTimePreservesRawHour(t *testing.T) {
	// GTFS encodes post-midnight service with hours >= 24. The raw
	// hour must survive so wall clock time can be recovered.
	st := StopTime{TripID: "t", ArrivalHour: 25, ArrivalMin: 10}
	buf, err := PackStopTime(st)
	require.NoError(t, err)

	got, err := UnpackStopTime(buf)
	require.NoError(t, err)
	assert.Equal(t, int8(25), got.ArrivalHour)
	assert.Equal(t, 25*time.Hour+10*time.Minute, got.ArrivalOffset())
}

func TestBucket(t *testing.T) {
	sts := []StopTime{
		{TripID: "a", ArrivalHour: 9, ArrivalMin: 1, ArrivalSec: 2, StopSequence: 3},
		{TripID: "b", ArrivalHour: 9, ArrivalMin: 4, ArrivalSec: 5, StopSequence: 6},
		{TripID: "c", ArrivalHour: 33, ArrivalMin: 7, ArrivalSec: 8, StopSequence: 9},
	}

	var bucket []byte
	var err error
	for _, st := range sts {
		bucket, err = AppendStopTime(bucket, st)
		require.NoError(t, err)
	}
	assert.Len(t, bucket, 3*StopTimeLen)

	got, err := UnpackBucket(bucket)
	require.NoError(t, err)
	assert.Equal(t, sts, got)
}

func TestBucketBadLength(t *testing.T) {
	_, err := UnpackBucket(make([]byte, 17))
	assert.Error(t, err)
}

func TestUnpackBadLength(t *testing.T) {
	_, err := UnpackTrip(make([]byte, 15))
	assert.Error(t, err)
	_, err = UnpackStopTime(make([]byte, 17))
	assert.Error(t, err)
}
