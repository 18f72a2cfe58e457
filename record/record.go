package record

import (
	"bytes"
	"fmt"
	"time"
)

// Fixed width binary encodings for the two big static tables. An
// Irish national feed carries a few hundred thousand trips and 5-20M
// stop_times rows, so per-row overhead matters: both records pack
// into 16 bytes.

const (
	// TripLen is the encoded size of a Trip.
	TripLen = 16

	// StopTimeLen is the encoded size of a StopTime.
	StopTimeLen = 16

	tripIDWidth    = 12
	routeIDWidth   = 12
	serviceIDWidth = 4
)

// A Trip associates a trip_id with its route and service. The IDs are
// stored zero padded: route_id up to 12 bytes, service_id up to 4.
type Trip struct {
	RouteID   string
	ServiceID string
}

// A StopTime is one scheduled arrival of a trip at a stop.
// ArrivalHour is the raw GTFS hour and may exceed 23: post-midnight
// service is encoded as e.g. 25:10:00 and the pre-mod hour must
// survive the round trip so wall-clock time can be recovered.
type StopTime struct {
	TripID       string
	ArrivalHour  int8
	ArrivalMin   int8
	ArrivalSec   int8
	StopSequence int8
}

// ArrivalOffset returns the arrival time as a duration since midnight
// of the trip's service day. May exceed 24h.
func (st StopTime) ArrivalOffset() time.Duration {
	return time.Duration(st.ArrivalHour)*time.Hour +
		time.Duration(st.ArrivalMin)*time.Minute +
		time.Duration(st.ArrivalSec)*time.Second
}

func packString(dst []byte, s string, width int) error {
	if len(s) > width {
		return fmt.Errorf("%q exceeds %d bytes", s, width)
	}
	copy(dst, s)
	return nil
}

func unpackString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

// PackTrip encodes t into a 16 byte buffer.
func PackTrip(t Trip) ([]byte, error) {
	buf := make([]byte, TripLen)
	if err := packString(buf[:routeIDWidth], t.RouteID, routeIDWidth); err != nil {
		return nil, fmt.Errorf("route_id: %w", err)
	}
	if err := packString(buf[routeIDWidth:], t.ServiceID, serviceIDWidth); err != nil {
		return nil, fmt.Errorf("service_id: %w", err)
	}
	return buf, nil
}

// UnpackTrip decodes a buffer produced by PackTrip. Trailing NULs are
// stripped from both IDs.
func UnpackTrip(buf []byte) (Trip, error) {
	if len(buf) != TripLen {
		return Trip{}, fmt.Errorf("packed trip is %d bytes, want %d", len(buf), TripLen)
	}
	return Trip{
		RouteID:   unpackString(buf[:routeIDWidth]),
		ServiceID: unpackString(buf[routeIDWidth:]),
	}, nil
}

// PackStopTime encodes st into a 16 byte buffer.
func PackStopTime(st StopTime) ([]byte, error) {
	buf := make([]byte, StopTimeLen)
	if err := packString(buf[:tripIDWidth], st.TripID, tripIDWidth); err != nil {
		return nil, fmt.Errorf("trip_id: %w", err)
	}
	buf[12] = byte(st.ArrivalHour)
	buf[13] = byte(st.ArrivalMin)
	buf[14] = byte(st.ArrivalSec)
	buf[15] = byte(st.StopSequence)
	return buf, nil
}

// UnpackStopTime decodes a buffer produced by PackStopTime.
func UnpackStopTime(buf []byte) (StopTime, error) {
	if len(buf) != StopTimeLen {
		return StopTime{}, fmt.Errorf("packed stop_time is %d bytes, want %d", len(buf), StopTimeLen)
	}
	return StopTime{
		TripID:       unpackString(buf[:tripIDWidth]),
		ArrivalHour:  int8(buf[12]),
		ArrivalMin:   int8(buf[13]),
		ArrivalSec:   int8(buf[14]),
		StopSequence: int8(buf[15]),
	}, nil
}

// AppendStopTime appends the encoding of st to a bucket buffer.
func AppendStopTime(bucket []byte, st StopTime) ([]byte, error) {
	buf, err := PackStopTime(st)
	if err != nil {
		return nil, err
	}
	return append(bucket, buf...), nil
}

// UnpackBucket decodes a concatenation of packed stop times, as held
// in one (stop_number, hour) bucket.
func UnpackBucket(bucket []byte) ([]StopTime, error) {
	if len(bucket)%StopTimeLen != 0 {
		return nil, fmt.Errorf("bucket length %d is not a multiple of %d", len(bucket), StopTimeLen)
	}
	sts := make([]StopTime, 0, len(bucket)/StopTimeLen)
	for off := 0; off < len(bucket); off += StopTimeLen {
		st, err := UnpackStopTime(bucket[off : off+StopTimeLen])
		if err != nil {
			return nil, err
		}
		sts = append(sts, st)
	}
	return sts, nil
}
