package broker

import (
	"github.com/monto-broker/broker/internal/model"
	"github.com/monto-broker/broker/internal/serviceconn"
)

// ServiceRegistry holds every configured/discovered ServiceConn, in
// configuration order, and implements resolver.ServiceLookup. It is not
// modified after construction, so concurrent request handlers only read it.
type ServiceRegistry struct {
	conns []*serviceconn.ServiceConn
}

// NewServiceRegistry builds a registry from conns, preserving order —
// resolveDep's "first in configuration order" tie-break (spec.md §4.4)
// depends on this order being stable.
func NewServiceRegistry(conns []*serviceconn.ServiceConn) *ServiceRegistry {
	return &ServiceRegistry{conns: conns}
}

func (r *ServiceRegistry) ByID(id model.Identifier) (*serviceconn.ServiceConn, bool) {
	for _, c := range r.conns {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

func (r *ServiceRegistry) ByProduct(pd model.ProductDescriptor) (*serviceconn.ServiceConn, bool) {
	for _, c := range r.conns {
		for _, d := range c.Products() {
			if d == pd {
				return c, true
			}
		}
	}
	return nil, false
}

// All returns every registered connection, in configuration order.
func (r *ServiceRegistry) All() []*serviceconn.ServiceConn {
	return r.conns
}

// KnownProducts derives the (service, descriptor) pairs offered across all
// negotiated services — spec.md §4.1's known_products, sourced from
// negotiations rather than cache contents.
func (r *ServiceRegistry) KnownProducts() []KnownProduct {
	var out []KnownProduct
	for _, c := range r.conns {
		for _, d := range c.Products() {
			out = append(out, KnownProduct{Service: c.ID(), Descriptor: d})
		}
	}
	return out
}

// KnownProduct pairs a service with one product descriptor it declares.
type KnownProduct struct {
	Service    model.Identifier
	Descriptor model.ProductDescriptor
}
