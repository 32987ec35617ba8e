package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Inactivity metrics
	PagesMonitored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "idlewatch_pages_monitored",
			Help: "Number of page views with a running inactivity monitor",
		},
	)

	PagesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idlewatch_pages_opened_total",
			Help: "Total page views that started an inactivity monitor",
		},
	)

	ActivityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idlewatch_activity_events_total",
			Help: "User activity events that reset an inactivity monitor",
		},
		[]string{"kind"},
	)

	WarningsShown = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idlewatch_warnings_shown_total",
			Help: "Total session timeout warnings displayed",
		},
	)

	WarningsDismissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idlewatch_warnings_dismissed_total",
			Help: "Total session timeout warnings removed by user activity",
		},
	)

	SessionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idlewatch_sessions_expired_total",
			Help: "Total page views sent to logout after inactivity",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idlewatch_tick_duration_seconds",
			Help:    "Time spent ticking all open monitors",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Admin metrics
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idlewatch_admin_requests_total",
			Help: "Total admin HTTP requests",
		},
		[]string{"method", "status"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idlewatch_admin_request_duration_seconds",
			Help:    "Admin request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AdminLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idlewatch_admin_logins_total",
			Help: "Admin login attempts by result",
		},
		[]string{"result"},
	)

	AdminLogouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idlewatch_admin_logouts_total",
			Help: "Admin logouts by reason",
		},
		[]string{"reason"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "idlewatch_active_connections",
			Help: "Number of open browser adapter websocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PagesMonitored,
		PagesOpened,
		ActivityEvents,
		WarningsShown,
		WarningsDismissed,
		SessionsExpired,
		TickDuration,
		AdminRequestsTotal,
		AdminRequestDuration,
		AdminLogins,
		AdminLogouts,
		ActiveConnections,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
