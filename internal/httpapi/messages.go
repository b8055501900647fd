package httpapi

import "github.com/monto-broker/broker/internal/model"

// ClientNegotiation is POSTed by a client to /monto/version.
type ClientNegotiation struct {
	Monto      model.ProtocolVersion `json:"monto"`
	Client     model.SoftwareVersion `json:"client"`
	Extensions []model.Identifier    `json:"extensions"`
}

// ClientBrokerNegotiation is the broker's reply: compatibility, its own
// identity, the extension set in effect, and every negotiated service.
type ClientBrokerNegotiation struct {
	Monto      model.ProtocolVersion       `json:"monto"`
	Broker     model.SoftwareVersion       `json:"broker"`
	Extensions []model.Identifier          `json:"extensions"`
	Services   []ServiceNegotiationSummary `json:"services"`
}

// ServiceNegotiationSummary is what the broker tells clients about one
// connected service, mirroring serviceconn.ServiceNegotiation without the
// wire-protocol-internal negotiation detail.
type ServiceNegotiationSummary struct {
	ID       model.Identifier          `json:"id"`
	Monto    model.ProtocolVersion     `json:"monto"`
	Products []model.ProductDescriptor `json:"products"`
	Service  model.SoftwareVersion     `json:"service"`
}

// BrokerPutErrorKind is the closed error taxonomy for PUT failures.
type BrokerPutErrorKind string

const BrokerPutErrorNoLanguage BrokerPutErrorKind = "no_language"

// BrokerPutError is the JSON body of a failed PUT.
type BrokerPutError struct {
	Kind BrokerPutErrorKind `json:"kind"`
}
