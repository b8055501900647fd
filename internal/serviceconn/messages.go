package serviceconn

import "github.com/monto-broker/broker/internal/model"

// ServiceBrokerNegotiation is POSTed to {service_base}/version to open a
// connection to a configured service.
type ServiceBrokerNegotiation struct {
	Monto      model.ProtocolVersion `json:"monto"`
	Broker     model.SoftwareVersion `json:"broker"`
	Extensions []model.Identifier    `json:"extensions"`
}

// ServiceNegotiation is the service's reply, declaring what it understands
// and offers.
type ServiceNegotiation struct {
	Monto      model.ProtocolVersion     `json:"monto"`
	Extensions []model.Identifier        `json:"extensions"`
	Products   []model.ProductDescriptor `json:"products"`
	Service    model.SoftwareVersion     `json:"service"`
}

// BrokerRequest is POSTed to {service_base}/service to ask for a product,
// supplying whatever dependency products the broker already has on hand.
type BrokerRequest struct {
	Request  model.ProductIdentifier `json:"request"`
	Products []model.Product         `json:"products"`
}

// ServiceProduct is a successful 200 response to a BrokerRequest.
type ServiceProduct struct {
	Product model.Product   `json:"product"`
	Notices []ServiceNotice `json:"notices"`
}

// ServiceErrors is a 500 response to a BrokerRequest: the service could not
// produce the requested product without more information.
type ServiceErrors struct {
	Errors  []ServiceError  `json:"errors"`
	Notices []ServiceNotice `json:"notices"`
}

// ServiceError is one reason a BrokerRequest failed.
type ServiceError struct {
	Kind string `json:"kind"` // "unmet_dependency" | "other"

	// Dependency is set iff Kind == "unmet_dependency".
	Dependency *model.ProductIdentifier `json:"dependency,omitempty"`
	// Message is set iff Kind == "other".
	Message *string `json:"message,omitempty"`
}

// UnmetDependency builds a ServiceError reporting a missing dependency.
func UnmetDependency(dep model.ProductIdentifier) ServiceError {
	return ServiceError{Kind: "unmet_dependency", Dependency: &dep}
}

// OtherError builds a ServiceError carrying an opaque message.
func OtherError(msg string) ServiceError {
	return ServiceError{Kind: "other", Message: &msg}
}

// ServiceNotice is a non-fatal annotation accompanying a response.
type ServiceNotice struct {
	Kind string `json:"kind"` // currently only "unused_dependency"

	Dependency *model.ProductIdentifier `json:"dependency,omitempty"`
}

// UnusedDependency builds a ServiceNotice reporting a supplied-but-ignored
// dependency.
func UnusedDependency(dep model.ProductIdentifier) ServiceNotice {
	return ServiceNotice{Kind: "unused_dependency", Dependency: &dep}
}
