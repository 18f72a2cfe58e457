package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"
)

// Row types for the GTFS static tables the resolver consumes. All
// files are standard GTFS CSV with a header row, UTF-8, comma
// delimited. Parsing streams rows through a callback so stop_times
// (millions of rows) never has to sit in memory twice.

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

type Agency struct {
	ID   string `csv:"agency_id"`
	Name string `csv:"agency_name"`
}

type Route struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
}

type Calendar struct {
	ServiceID string `csv:"service_id"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
}

// Days returns the weekly pattern with Monday at index 0.
func (c Calendar) Days() [7]bool {
	return [7]bool{
		c.Monday == 1,
		c.Tuesday == 1,
		c.Wednesday == 1,
		c.Thursday == 1,
		c.Friday == 1,
		c.Saturday == 1,
		c.Sunday == 1,
	}
}

type CalendarDate struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

type Stop struct {
	ID   string `csv:"stop_id"`
	Code string `csv:"stop_code"`
	Name string `csv:"stop_name"`
}

type Trip struct {
	RouteID   string `csv:"route_id"`
	ServiceID string `csv:"service_id"`
	ID        string `csv:"trip_id"`
}

type StopTime struct {
	TripID       string `csv:"trip_id"`
	ArrivalTime  string `csv:"arrival_time"`
	StopID       string `csv:"stop_id"`
	StopSequence int    `csv:"stop_sequence"`
}

func Agencies(data io.Reader, fn func(Agency) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling agency csv")
}

func Routes(data io.Reader, fn func(Route) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling routes csv")
}

func Calendars(data io.Reader, fn func(Calendar) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling calendar csv")
}

func CalendarDates(data io.Reader, fn func(CalendarDate) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling calendar_dates csv")
}

func Stops(data io.Reader, fn func(Stop) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling stops csv")
}

func Trips(data io.Reader, fn func(Trip) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling trips csv")
}

func StopTimes(data io.Reader, fn func(StopTime) error) error {
	return errors.Wrap(gocsv.UnmarshalToCallbackWithError(data, fn), "unmarshaling stop_times csv")
}

// Date parses a GTFS YYYYMMDD date.
func Date(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, time.UTC)
}

// ArrivalTime splits a GTFS H:MM:SS or HH:MM:SS arrival time. The
// hour may exceed 23: post-midnight service is encoded as 25:10:00
// and the raw hour is returned as-is.
func ArrivalTime(s string) (h, m, sec int, err error) {
	split := strings.Split(s, ":")
	if len(split) != 3 {
		return 0, 0, 0, fmt.Errorf("found %d parts in %q", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("non-integer in %q pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return 0, 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, 0, 0, fmt.Errorf("invalid second in %q", s)
	}

	return hms[0], hms[1], hms[2], nil
}
