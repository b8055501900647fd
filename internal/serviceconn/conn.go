// Package serviceconn implements one connection to a configured analysis
// service: negotiation, request/response, and structured error surfacing.
package serviceconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/monto-broker/broker/internal/metrics"
	"github.com/monto-broker/broker/internal/model"
)

// State is one of the ServiceConn lifecycle states.
type State int

const (
	Disconnected State = iota
	Negotiating
	Ready
	Requesting
	Dead
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Negotiating:
		return "negotiating"
	case Ready:
		return "ready"
	case Requesting:
		return "requesting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// RequestErrorKind distinguishes transport failure from a structured
// service response, mirroring the teacher's wrapped-error idiom.
type RequestErrorKind int

const (
	// ErrTransport is a network/decode failure talking to the service.
	ErrTransport RequestErrorKind = iota
	// ErrNotExposed means the service replied 400: it does not declare
	// the requested ProductDescriptor.
	ErrNotExposed
	// ErrStructured means the service replied 500 with ServiceErrors.
	ErrStructured
)

// RequestError wraps a failed ServiceConn.Request.
type RequestError struct {
	Kind       RequestErrorKind
	Err        error
	Descriptor model.ProductDescriptor // set iff Kind == ErrNotExposed
	Structured ServiceErrors           // set iff Kind == ErrStructured
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case ErrNotExposed:
		return fmt.Sprintf("product not exposed: %v/%v", e.Descriptor.Name, e.Descriptor.Language)
	case ErrStructured:
		return "service returned structured errors"
	default:
		return e.Err.Error()
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// ServiceConn manages one HTTP connection to a configured analysis service.
type ServiceConn struct {
	id      model.Identifier
	baseURL string
	client  *http.Client
	log     *slog.Logger
	metrics *metrics.Registry

	mu          sync.RWMutex
	state       State
	negotiation ServiceNegotiation
}

// New creates a ServiceConn in the Disconnected state. It does not dial
// until Negotiate is called. m may be nil in tests.
func New(id model.Identifier, baseURL string, client *http.Client, log *slog.Logger, m *metrics.Registry) *ServiceConn {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ServiceConn{id: id, baseURL: baseURL, client: client, log: log, metrics: m, state: Disconnected}
}

// ID returns the configured Identifier of this service.
func (c *ServiceConn) ID() model.Identifier { return c.id }

// State returns the connection's current lifecycle state.
func (c *ServiceConn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Products returns the service's declared product descriptors. Empty until
// a successful Negotiate.
func (c *ServiceConn) Products() []model.ProductDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.negotiation.Products
}

// SoftwareVersion returns the negotiated service's self-reported version.
func (c *ServiceConn) SoftwareVersion() model.SoftwareVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.negotiation.Service
}

// Negotiate posts ServiceBrokerNegotiation and records the service's reply.
// Negotiated protocol version is min(ours, theirs); incompatible (differing
// major) versions fail the connection and leave it Dead.
func (c *ServiceConn) Negotiate(ctx context.Context, ours model.ProtocolVersion, broker model.SoftwareVersion, configuredExts []model.Identifier) error {
	c.mu.Lock()
	c.state = Negotiating
	c.mu.Unlock()

	req := ServiceBrokerNegotiation{Monto: ours, Broker: broker, Extensions: configuredExts}
	var resp ServiceNegotiation
	if err := c.post(ctx, "/version", req, &resp); err != nil {
		c.mu.Lock()
		c.state = Dead
		c.mu.Unlock()
		c.recordConnectFailure()
		return fmt.Errorf("negotiating with %s: %w", c.id, err)
	}

	if ours.Major != resp.Monto.Major {
		c.mu.Lock()
		c.state = Dead
		c.mu.Unlock()
		c.recordConnectFailure()
		return fmt.Errorf("incompatible protocol version: broker=%s service=%s", ours, resp.Monto)
	}

	negotiated := ours.Min(resp.Monto)
	resp.Monto = negotiated
	resp.Extensions = intersectIdentifiers(configuredExts, resp.Extensions)

	c.mu.Lock()
	c.negotiation = resp
	c.state = Ready
	c.mu.Unlock()
	c.log.Info("negotiated with service", "service", c.id, "version", negotiated.String(), "products", len(resp.Products))
	return nil
}

// Request posts a BrokerRequest for want, supplying the given products as
// already-known dependencies. Returns the service's product and notices on
// success, or a *RequestError describing the failure mode.
func (c *ServiceConn) Request(ctx context.Context, want model.ProductIdentifier, supplied []model.Product) (ServiceProduct, error) {
	start := time.Now()

	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: fmt.Errorf("service %s not ready (state=%s)", c.id, c.state)}
	}
	c.state = Requesting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.state == Requesting {
			c.state = Ready
		}
		c.mu.Unlock()
	}()

	body := BrokerRequest{Request: want, Products: supplied}
	url := c.baseURL + "/service"
	raw, err := json.Marshal(body)
	if err != nil {
		c.observeRequest(start, "error")
		return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		c.observeRequest(start, "error")
		return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		// spec.md §5: on timeout the connection is not torn down — only
		// non-timeout transport failures kill the connection. A timeout is
		// either the context deadline or the http.Client's own Timeout.
		var netErr net.Error
		timedOut := ctx.Err() == context.DeadlineExceeded || (errors.As(err, &netErr) && netErr.Timeout())
		if !timedOut {
			c.markDead()
		}
		c.recordConnectFailure()
		c.observeRequest(start, "error")
		return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: err}
	}
	defer httpResp.Body.Close()

	switch httpResp.StatusCode {
	case http.StatusOK:
		var sp ServiceProduct
		if err := json.NewDecoder(httpResp.Body).Decode(&sp); err != nil {
			c.observeRequest(start, "error")
			return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: err}
		}
		c.observeRequest(start, "ok")
		return sp, nil
	case http.StatusBadRequest:
		var pd model.ProductDescriptor
		_ = json.NewDecoder(httpResp.Body).Decode(&pd)
		c.observeRequest(start, "not_exposed")
		return ServiceProduct{}, &RequestError{Kind: ErrNotExposed, Descriptor: pd, Err: fmt.Errorf("not exposed")}
	case http.StatusInternalServerError:
		var se ServiceErrors
		if err := json.NewDecoder(httpResp.Body).Decode(&se); err != nil {
			c.observeRequest(start, "error")
			return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: err}
		}
		c.observeRequest(start, "structured_error")
		return ServiceProduct{}, &RequestError{Kind: ErrStructured, Structured: se, Err: fmt.Errorf("structured service error")}
	default:
		c.observeRequest(start, "error")
		return ServiceProduct{}, &RequestError{Kind: ErrTransport, Err: fmt.Errorf("unexpected status %d", httpResp.StatusCode)}
	}
}

func (c *ServiceConn) markDead() {
	c.mu.Lock()
	c.state = Dead
	c.mu.Unlock()
}

func (c *ServiceConn) observeRequest(start time.Time, outcome string) {
	if c.metrics != nil {
		c.metrics.Service.RequestDuration.WithLabelValues(c.id.String(), outcome).Observe(time.Since(start).Seconds())
	}
}

func (c *ServiceConn) recordConnectFailure() {
	if c.metrics != nil {
		c.metrics.Service.ConnectFailures.WithLabelValues(c.id.String()).Inc()
	}
}

func (c *ServiceConn) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func intersectIdentifiers(a, b []model.Identifier) []model.Identifier {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id.String()] = struct{}{}
	}
	var out []model.Identifier
	for _, id := range b {
		if _, ok := set[id.String()]; ok {
			out = append(out, id)
		}
	}
	return out
}
