// Package broker wires together the ProductCache, FsWatcher, service
// connections, resolver, and ClientAPI into one running broker process,
// per spec.md §4.6.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/monto-broker/broker/internal/cache"
	"github.com/monto-broker/broker/internal/config"
	"github.com/monto-broker/broker/internal/discovery"
	"github.com/monto-broker/broker/internal/history"
	"github.com/monto-broker/broker/internal/httpapi"
	appmw "github.com/monto-broker/broker/internal/httpapi/middleware"
	"github.com/monto-broker/broker/internal/metrics"
	"github.com/monto-broker/broker/internal/model"
	"github.com/monto-broker/broker/internal/ratelimit"
	"github.com/monto-broker/broker/internal/resolver"
	"github.com/monto-broker/broker/internal/serviceconn"
	"github.com/monto-broker/broker/internal/watcher"
)

// OurProtocolVersion is the Monto protocol version this broker implements.
var OurProtocolVersion = model.ProtocolVersion{Major: 3, Minor: 0, Patch: 0}

// Broker owns every piece of mutable broker state. Client requests are
// served on net/http's per-request goroutines and watcher events are applied
// on a separate goroutine; the shared cache serializes them with its mutex.
type Broker struct {
	cfg      config.Config
	log      *slog.Logger
	cache    *cache.ProductCache
	watcher  *watcher.FsWatcher
	registry *ServiceRegistry
	resolver *resolver.Resolver
	history  history.Store
	hub      *httpapi.EventHub
	metrics  *metrics.Registry
	server   *http.Server
}

// New builds a Broker by opening service connections and the history
// store. If cfg.Broker.ServiceFailureIsFatal, any service negotiation
// failure aborts with an error; otherwise it is logged and the service is
// dropped from the registry.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := metrics.New(prometheus.DefaultRegisterer)

	fsw, err := watcher.New(log)
	if err != nil {
		return nil, fmt.Errorf("starting filesystem watcher: %w", err)
	}

	productCache := cache.New(fsw, reg)
	hub := httpapi.NewEventHub(log)

	conns, err := openServiceConns(ctx, cfg, log, reg)
	if err != nil {
		return nil, err
	}
	registry := NewServiceRegistry(conns)
	res := resolver.New(productCache, registry, log, reg, cfg.Timeouts.ServiceRequest)

	hist, err := history.Open(ctx, cfg.History.Backend, cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	b := &Broker{
		cfg: cfg, log: log, cache: productCache, watcher: fsw,
		registry: registry, resolver: res, history: hist, hub: hub, metrics: reg,
	}
	b.server = b.buildServer()
	go b.drainInvalidations(ctx)
	return b, nil
}

func openServiceConns(ctx context.Context, cfg config.Config, log *slog.Logger, reg *metrics.Registry) ([]*serviceconn.ServiceConn, error) {
	var sources []discovery.Source
	sources = append(sources, discovery.NewStatic(cfg.Service))
	if cfg.Discovery.Kubernetes {
		if k8s, err := discovery.NewKubernetes(cfg.Discovery, log); err != nil {
			log.Warn("kubernetes discovery unavailable", "error", err)
		} else {
			sources = append(sources, k8s)
		}
	}

	var discovered []discovery.Discovered
	for _, src := range sources {
		found, err := src.Discover()
		if err != nil {
			log.Warn("service discovery source failed", "error", err)
			continue
		}
		discovered = append(discovered, found...)
	}

	var conns []*serviceconn.ServiceConn
	for _, d := range discovered {
		id := model.MustIdentifier(serviceIdentifier(d))
		conn := serviceconn.New(id, d.BaseURL(), &http.Client{Timeout: 10 * time.Second}, log, reg)
		if err := conn.Negotiate(ctx, OurProtocolVersion, model.SoftwareVersion{}, configuredExtensions(cfg)); err != nil {
			if cfg.Broker.ServiceFailureIsFatal {
				return nil, fmt.Errorf("negotiating with service %s: %w", d.Addr, err)
			}
			log.Error("dropping service after negotiation failure", "addr", d.Addr, "error", err)
			continue
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// serviceIdentifier derives a stable Identifier from a discovered
// service's address, since config doesn't carry one explicitly (spec.md
// §6.3's [[service]] table has no id field — the service supplies its own
// identity during negotiation's ServiceNegotiation.service field, but the
// registry needs a key before that response arrives).
func serviceIdentifier(d discovery.Discovered) string {
	return fmt.Sprintf("service.%s", sanitize(d.Addr))
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s)+1)
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 || (out[0] >= '0' && out[0] <= '9') {
		out = append([]rune{'_'}, out...)
	}
	return string(out)
}

func configuredExtensions(cfg config.Config) []model.Identifier {
	var out []model.Identifier
	for _, e := range cfg.Extensions.Service {
		if id, err := model.ParseIdentifier(e); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (b *Broker) buildServer() *http.Server {
	handlers := httpapi.NewHandlers(b.cache, b.resolver, serviceViewAdapter{b.registry}, OurProtocolVersion, b.cfg.Version.SoftwareVersion(), b.log, b.history)

	var limiter ratelimit.Limiter
	if b.cfg.RateLimit.PerMinute > 0 {
		if b.cfg.RateLimit.RedisAddr != "" {
			limiter = ratelimit.NewRedis(b.cfg.RateLimit.RedisAddr, b.cfg.RateLimit.PerMinute)
		} else {
			limiter = ratelimit.NewLocal(b.cfg.RateLimit.PerMinute, b.cfg.RateLimit.Burst)
		}
	}

	router := httpapi.NewRouter(handlers, b.hub, httpapi.RouterConfig{
		Logger:      b.log,
		Metrics:     b.metrics,
		RateLimiter: limiter,
		CORS:        appmw.DefaultCORSConfig(),
	})

	return &http.Server{Addr: b.cfg.Net.Addr, Handler: router}
}

// drainInvalidations applies every FsWatcher event to the cache and
// rebroadcasts it on the event hub, fulfilling spec.md §4.2's "consumers
// treat both Modify and Delete identically: call invalidate_path".
func (b *Broker) drainInvalidations(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.watcher.Events():
			b.cache.InvalidatePath(ev.Path)
			b.hub.Publish(httpapi.Event{Type: "invalidated", Path: ev.Path, Timestamp: time.Now()})
		}
	}
}

// Run serves the ClientAPI until ctx is canceled, then shuts down
// gracefully: stop accepting, drain in-flight requests, stop the watcher,
// close the history store. Service connections are not closed explicitly.
func (b *Broker) Run(ctx context.Context) error {
	go b.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		b.log.Info("broker listening", "addr", b.cfg.Net.Addr)
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		b.log.Error("graceful shutdown failed", "error", err)
	}
	if err := b.watcher.Close(); err != nil {
		b.log.Error("closing watcher failed", "error", err)
	}
	if err := b.history.Close(); err != nil {
		b.log.Error("closing history store failed", "error", err)
	}
	return nil
}

type serviceViewAdapter struct{ reg *ServiceRegistry }

func (a serviceViewAdapter) All() []httpapi.NegotiatedService {
	var out []httpapi.NegotiatedService
	for _, c := range a.reg.All() {
		out = append(out, httpapi.NegotiatedService{
			ID: c.ID(), Monto: OurProtocolVersion, Products: c.Products(), Version: c.SoftwareVersion(),
		})
	}
	return out
}
