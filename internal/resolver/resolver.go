// Package resolver implements the broker's transitive dependency resolution
// algorithm: resolve(service, want, supplied) consults the cache, else
// forwards to the service, satisfying any reported UnmetDependency by
// recursing (via another service, the cache, or a raw file read) before
// retrying.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/monto-broker/broker/internal/cache"
	"github.com/monto-broker/broker/internal/metrics"
	"github.com/monto-broker/broker/internal/model"
	"github.com/monto-broker/broker/internal/serviceconn"
)

// ErrorKind is the fixed taxonomy of BrokerGetError surfaced to clients.
type ErrorKind int

const (
	NoSuchService ErrorKind = iota
	NoSuchProduct
	ServiceError
	ServiceConnectError
	Unresolvable
)

// GetError is the broker's structured failure for a GET resolution.
type GetError struct {
	Kind    ErrorKind
	Service model.Identifier
	Dep     model.ProductIdentifier // set iff Kind == Unresolvable
	Message string
}

func (e *GetError) Error() string {
	switch e.Kind {
	case NoSuchService:
		return "no such service"
	case NoSuchProduct:
		return "no such product"
	case ServiceError:
		return fmt.Sprintf("service %s error: %s", e.Service, e.Message)
	case ServiceConnectError:
		return fmt.Sprintf("connecting to %s: %s", e.Service, e.Message)
	case Unresolvable:
		return fmt.Sprintf("unresolvable dependency: %v", e.Dep)
	default:
		return "unknown resolver error"
	}
}

// String returns the snake_case label used for Resolver metrics and logs.
func (k ErrorKind) String() string {
	switch k {
	case NoSuchService:
		return "no_such_service"
	case NoSuchProduct:
		return "no_such_product"
	case ServiceError:
		return "service_error"
	case ServiceConnectError:
		return "service_connect_error"
	case Unresolvable:
		return "unresolvable"
	default:
		return "unknown"
	}
}

// ServiceLookup resolves a configured service by id and finds, in
// configuration order, the first service declaring a given product
// descriptor. Implemented by the broker's service registry.
type ServiceLookup interface {
	ByID(id model.Identifier) (*serviceconn.ServiceConn, bool)
	ByProduct(pd model.ProductDescriptor) (*serviceconn.ServiceConn, bool)
}

// Resolver runs the central dependency-resolution algorithm against one
// ProductCache and one ServiceLookup. It keeps no mutable state of its own
// and is called concurrently from request handlers; see package broker.
type Resolver struct {
	cache          *cache.ProductCache
	services       ServiceLookup
	log            *slog.Logger
	metrics        *metrics.Registry
	requestTimeout time.Duration
}

// New builds a Resolver. m may be nil in tests. requestTimeout is the
// per-call deadline applied around each outbound ServiceConn.Request
// (spec.md §5's optional per-call timeout); zero means no deadline.
func New(c *cache.ProductCache, services ServiceLookup, log *slog.Logger, m *metrics.Registry, requestTimeout time.Duration) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cache: c, services: services, log: log, metrics: m, requestTimeout: requestTimeout}
}

// Resolve is the top-level entry point: GET (service, want). It starts a
// fresh active-resolution stack for cycle detection in resolveDep; supplied
// is the initial dependency list, and callers outside this package pass nil.
func (r *Resolver) Resolve(ctx context.Context, serviceID model.Identifier, want model.ProductIdentifier, supplied []model.Product) (model.Product, error) {
	start := time.Now()
	product, err := r.resolve(ctx, serviceID, want, supplied, newActiveStack())
	if r.metrics != nil {
		r.metrics.Resolver.ResolveDuration.Observe(time.Since(start).Seconds())
		var ge *GetError
		if errors.As(err, &ge) {
			r.metrics.Resolver.Errors.WithLabelValues(ge.Kind.String()).Inc()
		}
	}
	return product, err
}

func (r *Resolver) resolve(ctx context.Context, serviceID model.Identifier, want model.ProductIdentifier, supplied []model.Product, active *activeStack) (model.Product, error) {
	if val, ver, ok := r.cache.Get(want); ok {
		return toProduct(want, val, ver), nil
	}

	svc, ok := r.services.ByID(serviceID)
	if !ok {
		return model.Product{}, &GetError{Kind: NoSuchService, Service: serviceID}
	}

	// reportedOnce tracks dependencies already satisfied once on this
	// retry loop, so a repeated UnmetDependency report for the same
	// descriptor after being supplied is detected as non-progress rather
	// than looped on forever.
	reportedOnce := make(map[model.ProductIdentifier]struct{})

	for {
		reqCtx := ctx
		if r.requestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
			defer cancel()
		}
		sp, err := svc.Request(reqCtx, want, supplied)
		if err == nil {
			supplied = applyUnusedNotices(supplied, sp.Notices)
			deps := make([]model.ProductIdentifier, 0, len(supplied))
			for _, p := range supplied {
				deps = append(deps, p.Identifier())
			}
			r.cache.Put(sp.Product, deps)
			return sp.Product, nil
		}

		reqErr, ok := asRequestError(err)
		if !ok {
			return model.Product{}, &GetError{Kind: ServiceConnectError, Service: serviceID, Message: err.Error()}
		}

		switch reqErr.Kind {
		case serviceconn.ErrNotExposed:
			return model.Product{}, &GetError{Kind: NoSuchProduct, Service: serviceID}
		case serviceconn.ErrTransport:
			return model.Product{}, &GetError{Kind: ServiceConnectError, Service: serviceID, Message: reqErr.Error()}
		case serviceconn.ErrStructured:
			supplied = applyUnusedNotices(supplied, reqErr.Structured.Notices)
			errs := reqErr.Structured.Errors
			for i := len(errs) - 1; i >= 0; i-- {
				se := errs[i]
				switch se.Kind {
				case "unmet_dependency":
					dep := *se.Dependency
					if _, seen := reportedOnce[dep]; seen {
						if r.metrics != nil {
							r.metrics.Resolver.NoProgressAborts.Inc()
						}
						return model.Product{}, &GetError{Kind: ServiceError, Service: serviceID, Message: "no progress"}
					}
					reportedOnce[dep] = struct{}{}
					if r.metrics != nil {
						r.metrics.Resolver.UnmetDependencies.Inc()
					}

					depProduct, derr := r.resolveDep(ctx, dep, active)
					if derr != nil {
						return model.Product{}, derr
					}
					supplied = append(supplied, depProduct)
				case "other":
					msg := ""
					if se.Message != nil {
						msg = *se.Message
					}
					return model.Product{}, &GetError{Kind: ServiceError, Service: serviceID, Message: msg}
				}
			}
			// Retry with extended supplied.
			continue
		}
	}
}

// resolveDep satisfies a single dependency: cache, else the first
// configured service declaring it, else (for "source") a raw file read,
// else Unresolvable. Cycles across services are caught via active, the set
// of descriptors already being resolved by this top-level request.
func (r *Resolver) resolveDep(ctx context.Context, dep model.ProductIdentifier, active *activeStack) (model.Product, error) {
	if val, ver, ok := r.cache.Get(dep); ok {
		return toProduct(dep, val, ver), nil
	}

	if active.contains(dep) {
		return model.Product{}, &GetError{Kind: Unresolvable, Dep: dep}
	}

	if svc, ok := r.services.ByProduct(dep.Descriptor()); ok {
		active.push(dep)
		defer active.pop(dep)
		return r.resolve(ctx, svc.ID(), dep, nil, active)
	}

	if dep.Name == model.ProductSource {
		return r.readSource(dep)
	}

	return model.Product{}, &GetError{Kind: Unresolvable, Dep: dep}
}

func (r *Resolver) readSource(dep model.ProductIdentifier) (model.Product, error) {
	data, err := os.ReadFile(dep.Path)
	if err != nil {
		return model.Product{}, &GetError{Kind: Unresolvable, Dep: dep, Message: err.Error()}
	}
	product := model.Product{
		Name: model.ProductSource, Language: dep.Language, Path: dep.Path,
		Value: model.SourceValue(string(data)),
	}
	r.cache.Put(product, nil)
	r.log.Debug("read source from disk to satisfy dependency", "path", dep.Path)
	return product, nil
}

func applyUnusedNotices(supplied []model.Product, notices []serviceconn.ServiceNotice) []model.Product {
	for _, n := range notices {
		if n.Kind != "unused_dependency" || n.Dependency == nil {
			continue
		}
		for i, p := range supplied {
			if p.Identifier() == *n.Dependency {
				supplied = append(supplied[:i], supplied[i+1:]...)
				break
			}
		}
	}
	return supplied
}

func asRequestError(err error) (*serviceconn.RequestError, bool) {
	re, ok := err.(*serviceconn.RequestError)
	return re, ok
}

func toProduct(id model.ProductIdentifier, val json.RawMessage, _ uint64) model.Product {
	return model.Product{Name: id.Name, Language: id.Language, Path: id.Path, Value: val}
}

// activeStack is the set of ProductIdentifiers currently being resolved by
// the top-level request, for cycle detection in resolveDep.
type activeStack struct {
	seen map[model.ProductIdentifier]int
}

func newActiveStack() *activeStack {
	return &activeStack{seen: make(map[model.ProductIdentifier]int)}
}

func (a *activeStack) contains(id model.ProductIdentifier) bool {
	return a.seen[id] > 0
}

func (a *activeStack) push(id model.ProductIdentifier) { a.seen[id]++ }

func (a *activeStack) pop(id model.ProductIdentifier) {
	if a.seen[id] > 0 {
		a.seen[id]--
	}
}
