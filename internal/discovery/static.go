package discovery

import "github.com/monto-broker/broker/internal/config"

// StaticSource returns exactly the [[service]] entries from the broker's
// config file, in configuration order.
type StaticSource struct {
	services []config.ServiceConfig
}

// NewStatic builds a StaticSource from configured services.
func NewStatic(services []config.ServiceConfig) *StaticSource {
	return &StaticSource{services: services}
}

func (s *StaticSource) Discover() ([]Discovered, error) {
	out := make([]Discovered, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, Discovered{ServiceConfig: svc, Source: "static"})
	}
	return out, nil
}
