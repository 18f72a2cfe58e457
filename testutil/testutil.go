// Package testutil builds small extracted GTFS datasets on disk for
// tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seanblanchfield/tfi-gtfs/downloader"
)

// Feed is a static dataset as CSV rows, headers excluded. Write lays
// it out the way the downloader would have.
type Feed struct {
	Agencies      []string
	Routes        []string
	Calendar      []string
	CalendarDates []string
	Stops         []string
	Trips         []string
	StopTimes     []string

	// Timestamp of the feed; zero means now.
	Timestamp time.Time
}

var headers = map[string]string{
	"agency.txt":         "agency_id,agency_name",
	"routes.txt":         "route_id,agency_id,route_short_name",
	"calendar.txt":       "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
	"calendar_dates.txt": "service_id,date,exception_type",
	"stops.txt":          "stop_id,stop_code,stop_name",
	"trips.txt":          "route_id,service_id,trip_id",
	"stop_times.txt":     "trip_id,arrival_time,departure_time,stop_id,stop_sequence",
}

// Write creates a temp dir holding the feed and returns its path.
func (f Feed) Write(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string][]string{
		"agency.txt":         f.Agencies,
		"routes.txt":         f.Routes,
		"calendar.txt":       f.Calendar,
		"calendar_dates.txt": f.CalendarDates,
		"stops.txt":          f.Stops,
		"trips.txt":          f.Trips,
		"stop_times.txt":     f.StopTimes,
	}
	for name, rows := range files {
		content := headers[name] + "\n" + strings.Join(rows, "\n") + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	require.NoError(t, downloader.WriteTimestamp(dir, ts))

	return dir
}

// DefaultFeed is a minimal Dublin-flavoured dataset: two routes of one
// agency serving stop 1358, one Friday-only service and one running
// all of 2023.
func DefaultFeed() Feed {
	return Feed{
		Agencies: []string{
			"978,Dublin Bus",
		},
		Routes: []string{
			"3582_46339,978,49",
			"3582_46340,978,68",
		},
		Calendar: []string{
			"180,0,0,0,0,1,0,0,20230915,20230915",
			"181,1,1,1,1,1,1,1,20230101,20231231",
		},
		Stops: []string{
			"8220DB001358,1358,Parnell Square",
			"8220DB001359,1359,Dorset Street",
		},
		Trips: []string{
			"3582_46339,180,3582_11643",
			"3582_46340,181,3582_6405",
		},
		StopTimes: []string{
			"3582_11643,09:24:16,09:24:16,8220DB001358,23",
			"3582_6405,09:40:00,09:40:00,8220DB001358,78",
		},
	}
}
