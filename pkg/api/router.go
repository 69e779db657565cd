package api

import (
	"github.com/andreikom/ac-observator/pkg/metrics"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"io"
	"log/slog"
	"net/http"
)

func NewRouter(cfg *Config, service observationService, live subscriber, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	c := &observationController{service: service, logger: logger}
	s := &streamController{service: service, live: live, metrics: m, logger: logger}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(throttleIfNeeded(cfg.Server.MaxConnections))
	route := func(path string, name string, h http.HandlerFunc, method string) {
		api.Handle(path, m.WrapHandler(name, h)).Methods(method)
	}
	route("/sensor-types", "list_sensor_types", c.ListSensorTypes, http.MethodGet)
	route("/sensor-types", "create_sensor_type", c.CreateSensorType, http.MethodPost)
	route("/sensor-types/{id:[0-9]+}", "get_sensor_type", c.GetSensorType, http.MethodGet)
	route("/sensor-types/{id:[0-9]+}/latest", "get_latest", c.GetLatest, http.MethodGet)
	route("/sensor-types/{id:[0-9]+}/stats/daily/{date}", "daily_stats", c.GetDailyStats, http.MethodGet)
	route("/sensor-types/{id:[0-9]+}/stats/weekly", "weekly_stats", c.GetWeeklyStats, http.MethodGet)
	route("/observed-values", "submit_reading", c.SubmitReading, http.MethodPost)
	route("/observed-values", "list_observed_values", c.ListObservedValues, http.MethodGet)

	r.HandleFunc("/ws", s.Stream)
	r.HandleFunc("/healthz", c.Health).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	if cfg.Server.StaticDir != "" {
		base := cfg.Server.BasePath
		r.Handle("/", http.RedirectHandler(base, http.StatusMovedPermanently))
		r.PathPrefix(base).Handler(http.StripPrefix(base, http.FileServer(http.Dir(cfg.Server.StaticDir))))
	}

	logged := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Debug("http request",
			"method", p.Request.Method,
			"url", p.URL.String(),
			"status", p.StatusCode,
			"size", p.Size,
		)
	})
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)
}

func throttleIfNeeded(maxConnections int) mux.MiddlewareFunc {
	connProcessing := make(chan struct{}, maxConnections)
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			connProcessing <- struct{}{}
			defer func() { <-connProcessing }()
			h.ServeHTTP(w, r)
		})
	}
}
