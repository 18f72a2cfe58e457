// Package server exposes arrivals over a small HTTP API.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	gtfs "github.com/seanblanchfield/tfi-gtfs"
)

// Resolver is what the API needs from the arrival resolver.
type Resolver interface {
	IsValidStopNumber(ctx context.Context, stopNumber string) bool
	StopName(ctx context.Context, stopNumber string) string
	GetScheduledArrivals(ctx context.Context, stopNumber string, now time.Time, maxWait time.Duration) []gtfs.Arrival
}

type Server struct {
	resolver Resolver
	maxWait  time.Duration
	router   chi.Router
}

func New(resolver Resolver, maxWait time.Duration) *Server {
	s := &Server{
		resolver: resolver,
		maxWait:  maxWait,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept"},
	}))

	r.Get("/", s.handleIndex)
	r.Get("/api/v1/arrivals", s.handleArrivals)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server, with TLS when both certFile and
// keyFile are set.
func (s *Server) ListenAndServe(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if certFile != "" && keyFile != "" {
		logrus.Infof("serving HTTPS on %s", addr)
		return srv.ListenAndServeTLS(certFile, keyFile)
	}
	logrus.Infof("serving HTTP on %s", addr)
	return srv.ListenAndServe()
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>tfi-gtfs</title></head>
<body>
<h1>tfi-gtfs</h1>
<p>Upcoming arrivals for Transport for Ireland stops.</p>
<p>Try <code>GET /api/v1/arrivals?stop=1358</code>. Repeat the
<code>stop</code> parameter for multiple stops. Responses honour the
<code>Accept</code> header: <code>application/json</code> (default),
<code>application/yaml</code>, <code>text/csv</code> or
<code>text/plain</code>.</p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexPage)
}

// StopArrivals is the per-stop payload of the arrivals endpoint.
type StopArrivals struct {
	StopName string         `json:"stop_name" yaml:"stop_name"`
	Arrivals []gtfs.Arrival `json:"arrivals" yaml:"arrivals"`
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	stops := r.URL.Query()["stop"]
	if len(stops) == 0 {
		http.Error(w, "missing stop parameter", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := time.Now()

	// Unknown stop numbers are omitted from the body rather than
	// failing the whole request.
	body := map[string]StopArrivals{}
	for _, stop := range stops {
		if !s.resolver.IsValidStopNumber(ctx, stop) {
			continue
		}
		body[stop] = StopArrivals{
			StopName: s.resolver.StopName(ctx, stop),
			Arrivals: s.resolver.GetScheduledArrivals(ctx, stop, now, s.maxWait),
		}
	}

	s.render(w, r, body)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, body map[string]StopArrivals) {
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "application/yaml"), strings.Contains(accept, "text/yaml"):
		w.Header().Set("Content-Type", "application/yaml")
		if err := yaml.NewEncoder(w).Encode(body); err != nil {
			logrus.WithError(err).Error("encoding yaml response")
		}

	case strings.Contains(accept, "text/csv"):
		renderCSV(w, body)

	case strings.Contains(accept, "text/plain"):
		renderPlain(w, body)

	default:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logrus.WithError(err).Error("encoding json response")
		}
	}
}

func sortedStops(body map[string]StopArrivals) []string {
	stops := make([]string, 0, len(body))
	for stop := range body {
		stops = append(stops, stop)
	}
	sort.Strings(stops)
	return stops
}

func renderCSV(w http.ResponseWriter, body map[string]StopArrivals) {
	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{"stop", "stop_name", "route", "agency", "scheduled_arrival", "real_time_arrival"})
	for _, stop := range sortedStops(body) {
		sa := body[stop]
		for _, a := range sa.Arrivals {
			rt := ""
			if a.RealTimeArrival != nil {
				rt = a.RealTimeArrival.Format(time.RFC3339)
			}
			cw.Write([]string{
				stop,
				sa.StopName,
				a.Route,
				a.Agency,
				a.ScheduledArrival.Format(time.RFC3339),
				rt,
			})
		}
	}
	cw.Flush()
}

func renderPlain(w http.ResponseWriter, body map[string]StopArrivals) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, stop := range sortedStops(body) {
		sa := body[stop]
		fmt.Fprintf(w, "Stop %s (%s):\n", stop, sa.StopName)
		for _, a := range sa.Arrivals {
			line := fmt.Sprintf("  %s (%s) %s", a.Route, a.Agency, a.ScheduledArrival.Format("15:04"))
			if a.RealTimeArrival != nil {
				line += fmt.Sprintf(", live %s", a.RealTimeArrival.Format("15:04"))
			}
			fmt.Fprintln(w, line)
		}
	}
}
