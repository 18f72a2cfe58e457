package gtfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seanblanchfield/tfi-gtfs/downloader"
	"github.com/seanblanchfield/tfi-gtfs/parse"
	"github.com/seanblanchfield/tfi-gtfs/record"
)

// ErrStaticMissing means neither a usable snapshot nor an extracted
// static feed was found. The caller should download one first.
var ErrStaticMissing = errors.New("no static GTFS data")

// initStatic makes static data available: restore a snapshot if one
// exists, reuse it when it still matches the local feed and stop
// filter, and otherwise load the CSV files from scratch.
func (g *GTFS) initStatic(ctx context.Context) error {
	if err := g.store.LoadSnapshot(ctx); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("snapshot unreadable, falling back to a full load")
	}

	if g.staticCurrent(ctx) {
		logrus.Info("reusing stored static dataset")
		return nil
	}

	return g.LoadStatic(ctx)
}

// staticCurrent reports whether the stored dataset was built from the
// local static feed and the configured stop filter. A dataset built
// with a different filter cannot answer for stops outside it.
func (g *GTFS) staticCurrent(ctx context.Context) bool {
	if g.metaGet(ctx, "initialized") != "1" {
		return false
	}
	if g.metaGet(ctx, "filter") != filterKey(g.opts.FilterStops) {
		return false
	}

	ts, err := downloader.Timestamp(g.opts.DataDir)
	if err != nil {
		// No local feed to compare against. Trust the stored data.
		return true
	}
	return g.metaGet(ctx, "static_timestamp") == ts.UTC().Format(time.RFC3339)
}

// LoadStatic reads the extracted GTFS files in DataDir and publishes
// them to the store as one atomic swap: queries block for the duration
// rather than observe a half-written dataset.
func (g *GTFS) LoadStatic(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadStaticLocked(ctx)
}

func (g *GTFS) loadStaticLocked(ctx context.Context) error {
	start := time.Now()
	dir := g.opts.DataDir

	if _, err := os.Stat(filepath.Join(dir, "agency.txt")); err != nil {
		return fmt.Errorf("%w in %s", ErrStaticMissing, dir)
	}

	logrus.WithField("dir", dir).Info("loading static GTFS data")

	if err := g.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}

	// Load order matters: later files hard-fail on references to
	// entities from earlier ones, and the trip whitelist produced
	// by stop_times drives which trips are materialized at all.
	if err := g.loadAgencies(ctx); err != nil {
		return err
	}
	if err := g.loadRoutes(ctx); err != nil {
		return err
	}
	if err := g.loadCalendar(ctx); err != nil {
		return err
	}
	if err := g.loadExceptions(ctx); err != nil {
		return err
	}
	if err := g.loadStops(ctx); err != nil {
		return err
	}
	keep, err := g.loadStopTimes(ctx)
	if err != nil {
		return err
	}
	if err := g.loadTrips(ctx, keep); err != nil {
		return err
	}

	g.store.Set(ctx, nsMeta, "initialized", []byte("1"))
	g.store.Set(ctx, nsMeta, "filter", []byte(filterKey(g.opts.FilterStops)))
	if ts, err := downloader.Timestamp(dir); err == nil {
		g.store.Set(ctx, nsMeta, "static_timestamp", []byte(ts.UTC().Format(time.RFC3339)))
	}

	if err := g.store.WriteSnapshot(ctx); err != nil {
		logrus.WithError(err).Warn("failed to write snapshot")
	}

	staticReloads.Inc()
	logrus.Infof("static GTFS data loaded in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func (g *GTFS) openStatic(name string) (*os.File, error) {
	f, err := os.Open(filepath.Join(g.opts.DataDir, name))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

func (g *GTFS) loadAgencies(ctx context.Context) error {
	f, err := g.openStatic("agency.txt")
	if err != nil {
		return err
	}
	defer f.Close()

	n := 0
	err = parse.Agencies(f, func(a parse.Agency) error {
		if a.ID == "" {
			logrus.Warn("skipping agency row without agency_id")
			return nil
		}
		g.store.Set(ctx, nsAgency, a.ID, []byte(a.Name))
		n++
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Debugf("loaded %d agencies", n)
	return nil
}

func (g *GTFS) loadRoutes(ctx context.Context) error {
	f, err := g.openStatic("routes.txt")
	if err != nil {
		return err
	}
	defer f.Close()

	n := 0
	err = parse.Routes(f, func(r parse.Route) error {
		if _, ok := g.store.Get(ctx, nsAgency, r.AgencyID); !ok {
			return fmt.Errorf("route %s references unknown agency %q", r.ID, r.AgencyID)
		}
		buf, err := encode(routeInfo{Name: r.ShortName, AgencyID: r.AgencyID})
		if err != nil {
			return err
		}
		g.store.Set(ctx, nsRoute, r.ID, buf)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Debugf("loaded %d routes", n)
	return nil
}

func (g *GTFS) loadCalendar(ctx context.Context) error {
	f, err := g.openStatic("calendar.txt")
	if err != nil {
		return err
	}
	defer f.Close()

	n := 0
	err = parse.Calendars(f, func(c parse.Calendar) error {
		if _, err := parse.Date(c.StartDate); err != nil {
			logrus.Warnf("skipping service %s: bad start_date %q", c.ServiceID, c.StartDate)
			return nil
		}
		if _, err := parse.Date(c.EndDate); err != nil {
			logrus.Warnf("skipping service %s: bad end_date %q", c.ServiceID, c.EndDate)
			return nil
		}
		buf, err := encode(serviceInfo{StartDate: c.StartDate, EndDate: c.EndDate, Days: c.Days()})
		if err != nil {
			return err
		}
		g.store.Set(ctx, nsService, c.ServiceID, buf)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Debugf("loaded %d services", n)
	return nil
}

func (g *GTFS) loadExceptions(ctx context.Context) error {
	f, err := g.openStatic("calendar_dates.txt")
	if err != nil {
		return err
	}
	defer f.Close()

	n := 0
	err = parse.CalendarDates(f, func(cd parse.CalendarDate) error {
		if _, err := parse.Date(cd.Date); err != nil {
			logrus.Warnf("skipping exception for service %s: bad date %q", cd.ServiceID, cd.Date)
			return nil
		}
		if cd.ExceptionType != exceptionAdded && cd.ExceptionType != exceptionRemoved {
			logrus.Warnf("skipping exception for service %s: exception_type %d", cd.ServiceID, cd.ExceptionType)
			return nil
		}
		g.store.Set(ctx, nsException, exceptionKey(cd.ServiceID, cd.Date), []byte{byte(cd.ExceptionType)})
		n++
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Debugf("loaded %d service exceptions", n)
	return nil
}

const (
	exceptionAdded   = 1
	exceptionRemoved = 2
)

func exceptionKey(serviceID, date string) string {
	return serviceID + ":" + date
}

func (g *GTFS) loadStops(ctx context.Context) error {
	f, err := g.openStatic("stops.txt")
	if err != nil {
		return err
	}
	defer f.Close()

	n := 0
	err = parse.Stops(f, func(s parse.Stop) error {
		if s.ID == "" {
			logrus.Warn("skipping stop row without stop_id")
			return nil
		}

		// Irish stops carry the public short number in stop_code;
		// stops without one are addressed by stop_id.
		number := s.Code
		if number == "" {
			number = s.ID
		}
		g.store.Set(ctx, nsStop, s.ID, []byte(number))

		if g.filter == nil || g.filter[number] {
			g.store.Add(ctx, nsStopNumbers, number)
			g.store.Set(ctx, nsStopName, number, []byte(s.Name))
			n++
		}
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Debugf("loaded %d stops", n)
	return nil
}

// loadStopTimes fills the (stop_number, hour) arrival buckets. With a
// stop filter active it also returns the set of trip_ids serving the
// filtered stops, which loadTrips uses as a whitelist. A nil return
// means keep every trip.
func (g *GTFS) loadStopTimes(ctx context.Context) (map[string]bool, error) {
	f, err := g.openStatic("stop_times.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buckets := map[string][]byte{}
	var keep map[string]bool
	if g.filter != nil {
		keep = map[string]bool{}
	}

	rows := 0
	err = parse.StopTimes(f, func(st parse.StopTime) error {
		rows++
		if rows%10000 == 0 {
			logrus.Debugf("processed %d stop_times rows", rows)
		}

		number, ok := g.store.Get(ctx, nsStop, st.StopID)
		if !ok {
			logrus.Warnf("skipping stop_time for trip %s: unknown stop_id %q", st.TripID, st.StopID)
			return nil
		}
		stopNumber := string(number)

		if g.filter != nil {
			if !g.filter[stopNumber] {
				return nil
			}
			keep[st.TripID] = true
		}

		h, m, s, err := parse.ArrivalTime(st.ArrivalTime)
		if err != nil {
			logrus.Warnf("skipping stop_time for trip %s: %v", st.TripID, err)
			return nil
		}
		if st.StopSequence > 127 {
			logrus.Warnf("skipping stop_time for trip %s: stop_sequence %d overflows", st.TripID, st.StopSequence)
			return nil
		}

		key := bucketKeyFor(stopNumber, h%24)
		buf, err := record.AppendStopTime(buckets[key], record.StopTime{
			TripID:       st.TripID,
			ArrivalHour:  int8(h),
			ArrivalMin:   int8(m),
			ArrivalSec:   int8(s),
			StopSequence: int8(st.StopSequence),
		})
		if err != nil {
			logrus.Warnf("skipping stop_time for trip %s: %v", st.TripID, err)
			return nil
		}
		buckets[key] = buf
		return nil
	})
	if err != nil {
		return nil, err
	}

	for key, bucket := range buckets {
		g.store.Set(ctx, nsStopTimes, key, bucket)
	}
	logrus.Debugf("loaded %d stop_times rows into %d buckets", rows, len(buckets))
	return keep, nil
}

func bucketKeyFor(stopNumber string, hour int) string {
	return fmt.Sprintf("%s:%d", stopNumber, hour)
}

func (g *GTFS) loadTrips(ctx context.Context, keep map[string]bool) error {
	f, err := g.openStatic("trips.txt")
	if err != nil {
		return err
	}
	defer f.Close()

	n := 0
	err = parse.Trips(f, func(t parse.Trip) error {
		if keep != nil && !keep[t.ID] {
			return nil
		}
		if _, ok := g.store.Get(ctx, nsRoute, t.RouteID); !ok {
			return fmt.Errorf("trip %s references unknown route %q", t.ID, t.RouteID)
		}
		if _, ok := g.store.Get(ctx, nsService, t.ServiceID); !ok {
			return fmt.Errorf("trip %s references unknown service %q", t.ID, t.ServiceID)
		}

		buf, err := record.PackTrip(record.Trip{RouteID: t.RouteID, ServiceID: t.ServiceID})
		if err != nil {
			logrus.Warnf("skipping trip %s: %v", t.ID, err)
			return nil
		}
		g.store.Set(ctx, nsTrip, t.ID, buf)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	logrus.Debugf("loaded %d trips", n)
	return nil
}
