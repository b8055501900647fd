package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/monto-broker/broker/internal/metrics"
	"github.com/monto-broker/broker/internal/ratelimit"

	appmw "github.com/monto-broker/broker/internal/httpapi/middleware"
)

// RouterConfig controls which optional middleware the router installs.
type RouterConfig struct {
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	RateLimiter ratelimit.Limiter // nil disables rate limiting
	CORS        appmw.CORSConfig
}

// NewRouter builds the ClientAPI mux.Router: negotiation, upload, fetch,
// live events, docs, health, and metrics, wrapped in the broker's standard
// middleware stack (spec.md §4.5, §6.1).
//
// @title Monto Broker API
// @version 1.0
// @BasePath /monto
func NewRouter(h *Handlers, hub *EventHub, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.Use(appmw.RequestID)
	r.Use(appmw.Recovery(cfg.Logger))
	r.Use(appmw.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(appmw.Metrics(cfg.Metrics))
	}
	r.Use(appmw.CORS(cfg.CORS))
	if cfg.RateLimiter != nil {
		r.Use(appmw.RateLimit(cfg.RateLimiter))
	}

	r.HandleFunc("/monto/version", h.Negotiate).Methods(http.MethodPost)
	r.HandleFunc("/monto/broker/{product_name}", h.Put).Methods(http.MethodPut)
	r.HandleFunc("/monto/{service_id}/{product_name}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/monto/events", hub.ServeWS).Methods(http.MethodGet)

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.Handle("/monto/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/monto/docs").Handler(httpSwagger.WrapHandler)

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
