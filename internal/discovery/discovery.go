// Package discovery supplies the broker's configured-service list,
// optionally supplemented by dynamically discovered services.
package discovery

import "github.com/monto-broker/broker/internal/config"

// Discovered is one dynamically-found service, shaped like a static
// config.ServiceConfig entry so both sources feed the same registry.
type Discovered struct {
	config.ServiceConfig
	Source string // "static" or "kubernetes"
}

// Source discovers services. Implemented by StaticSource and
// KubernetesSource.
type Source interface {
	Discover() ([]Discovered, error)
}
