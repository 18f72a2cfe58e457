package gtfs

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seanblanchfield/tfi-gtfs/store"
)

// GTFS answers "what arrives at stop S soon" from a static GTFS feed
// merged with a GTFS-realtime trip updates feed. All state lives in a
// namespaced store; static data is published atomically under mu, so
// queries either see the old dataset or the new one, never a mix.
type GTFS struct {
	opts  Options
	store store.Store

	// mu excludes queries and live ingest during a static reload.
	// Plain store access is internally synchronized; this lock is
	// only about dataset-wide consistency.
	mu sync.RWMutex

	// Stop numbers to retain, nil when unfiltered.
	filter map[string]bool

	client *http.Client

	// Consecutive 429 responses from the live feed. Owned by the
	// polling goroutine.
	rateLimitCount int

	// Keys written by the previous live pass, so entries that drop
	// out of the feed get removed. Owned by the polling goroutine.
	liveDelayTrips    map[string]bool
	liveAdditionStops map[string]bool
}

type Options struct {
	// LiveURL is the GTFS-realtime trip updates endpoint. Blank
	// disables live ingest.
	LiveURL string

	// APIKey is sent as x-api-key on live feed requests.
	APIKey string

	// StaticURL is where fresh static ZIPs come from. Blank
	// disables background re-download.
	StaticURL string

	// DataDir holds the extracted static feed, timestamp.txt and
	// the snapshot file.
	DataDir string

	// RedisURL selects the redis backend when set. Otherwise state
	// is held in process and snapshotted to disk.
	RedisURL string

	// PollingPeriod is the base delay between live feed fetches.
	PollingPeriod time.Duration

	// FilterStops restricts loading to these stop numbers. Empty
	// means load everything.
	FilterStops []string

	// HTTPClient overrides the live fetch client. Used by tests.
	HTTPClient *http.Client
}

const (
	DefaultPollingPeriod = time.Minute

	liveFetchTimeout = 10 * time.Second

	// SnapshotFile is the name of the store snapshot inside DataDir.
	SnapshotFile = "snapshot.db"

	staticCheckInterval = time.Hour
)

// Store namespaces. Static namespaces are rewritten wholesale on
// reload; live namespaces are overwritten per poll.
const (
	nsAgency      = "agency"       // agency_id -> agency name
	nsRoute       = "route"        // route_id -> gob routeInfo
	nsService     = "service"      // service_id -> gob serviceInfo
	nsException   = "exception"    // service_id:YYYYMMDD -> 1 byte exception type
	nsStop        = "stop"         // stop_id -> stop number
	nsStopName    = "stop_name"    // stop number -> stop name
	nsStopNumbers = "stop_numbers" // set of loaded stop numbers
	nsTrip        = "trip"         // trip_id -> packed trip
	nsStopTimes   = "stop_times"   // stop_number:hour -> packed stop time bucket
	nsDelays      = "live_delays"  // trip_id -> gob []delayUpdate
	nsAdditions   = "live_additions"
	nsCancelled   = "live_cancellations" // set of cancelled trip_ids
	nsMeta        = "meta"
)

// Namespaces returns the store configuration: the hot set of static
// lookup namespaces is cached in process for an hour when the redis
// backend is in use.
func Namespaces() store.Config {
	return store.Config{
		nsRoute:       {Cache: true, Expiry: time.Hour},
		nsService:     {Cache: true, Expiry: time.Hour},
		nsStop:        {Cache: true, Expiry: time.Hour},
		nsStopNumbers: {Cache: true, Expiry: time.Hour},
	}
}

type routeInfo struct {
	Name     string
	AgencyID string
}

type serviceInfo struct {
	StartDate string // YYYYMMDD, inclusive
	EndDate   string // YYYYMMDD, inclusive
	Days      [7]bool
}

// One live delay observation for a trip, kept sorted by StopSequence.
// Either Delay is usable (HasDelay) or the update carried an absolute
// arrival time instead.
type delayUpdate struct {
	StopSequence int
	StopNumber   string
	HasDelay     bool
	Delay        int32 // seconds
	ArrivalTime  time.Time
	ObservedAt   time.Time
}

// A trip added by the live feed, keyed under the stop number it
// arrives at.
type addedTrip struct {
	RouteID    string
	Arrival    time.Time
	ObservedAt time.Time
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encoding %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decode(buf []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}

// New builds a GTFS instance and makes sure static data is available:
// a valid snapshot (or live redis dataset) is reused, anything else
// triggers a full load from DataDir. Returns ErrStaticMissing when
// neither exists.
func New(ctx context.Context, opts Options) (*GTFS, error) {
	if opts.PollingPeriod <= 0 {
		opts.PollingPeriod = DefaultPollingPeriod
	}

	var st store.Store
	if opts.RedisURL != "" {
		r, err := store.NewRedis(opts.RedisURL, Namespaces())
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		st = r
	} else {
		st = store.NewMemory(filepath.Join(opts.DataDir, SnapshotFile))
	}

	g := &GTFS{
		opts:   opts,
		store:  st,
		client: opts.HTTPClient,
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: liveFetchTimeout}
	}
	if len(opts.FilterStops) > 0 {
		g.filter = map[string]bool{}
		for _, s := range opts.FilterStops {
			g.filter[s] = true
		}
	}

	if err := g.initStatic(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// IsValidStopNumber reports whether the stop number was present in the
// loaded static data.
func (g *GTFS) IsValidStopNumber(ctx context.Context, stopNumber string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Has(ctx, nsStopNumbers, stopNumber)
}

// StopName returns the stop's name, or "" when unknown.
func (g *GTFS) StopName(ctx context.Context, stopNumber string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	name, _ := g.store.Get(ctx, nsStopName, stopNumber)
	return string(name)
}

// NumStops returns the number of loaded stop numbers.
func (g *GTFS) NumStops(ctx context.Context) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Cardinality(ctx, nsStopNumbers)
}

// filterKey canonicalizes the stop filter for snapshot validity
// comparison.
func filterKey(stops []string) string {
	sorted := append([]string{}, stops...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (g *GTFS) metaGet(ctx context.Context, key string) string {
	value, _ := g.store.Get(ctx, nsMeta, key)
	return string(value)
}
