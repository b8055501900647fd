// Package httpapi implements the ClientAPI HTTP surface: negotiation,
// product upload, product fetch, and the live event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/monto-broker/broker/internal/cache"
	"github.com/monto-broker/broker/internal/history"
	"github.com/monto-broker/broker/internal/model"
	"github.com/monto-broker/broker/internal/resolver"
)

// ServiceView is the subset of the broker's service registry the ClientAPI
// needs: enumerating negotiated services and their declared products for
// the negotiation response.
type ServiceView interface {
	All() []NegotiatedService
}

// NegotiatedService is one connected service, as the ClientAPI needs to
// see it (decoupled from the concrete serviceconn.ServiceConn type to keep
// this package independent of the transport detail).
type NegotiatedService struct {
	ID       model.Identifier
	Monto    model.ProtocolVersion
	Products []model.ProductDescriptor
	Version  model.SoftwareVersion
}

// Handlers implements the HTTP surface described in spec.md §6.1.
type Handlers struct {
	cache    *cache.ProductCache
	resolver *resolver.Resolver
	services ServiceView
	ourMonto model.ProtocolVersion
	ourSelf  model.SoftwareVersion
	log      *slog.Logger
	history  history.Store
}

// NewHandlers builds the ClientAPI handlers. hist may be nil in tests;
// every completed Get/Put is recorded there per spec.md §4.6.
func NewHandlers(c *cache.ProductCache, r *resolver.Resolver, services ServiceView, ourMonto model.ProtocolVersion, self model.SoftwareVersion, log *slog.Logger, hist history.Store) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{cache: c, resolver: r, services: services, ourMonto: ourMonto, ourSelf: self, log: log, history: hist}
}

// recordHistory logs one completed Get/Put outcome, per spec.md §4.6
// ("logs every completed client request... to it"). Best-effort: a history
// write failure is logged but never changes the response already sent.
func (h *Handlers) recordHistory(ctx context.Context, svc model.Identifier, id model.ProductIdentifier, success bool, errKind string, start time.Time) {
	if h.history == nil {
		return
	}
	entry := history.Entry{
		Timestamp:  time.Now(),
		Service:    svc,
		Product:    id,
		Success:    success,
		ErrorKind:  errKind,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := h.history.Record(ctx, entry); err != nil {
		h.log.Warn("recording history entry failed", "error", err)
	}
}

// Negotiate handles POST /monto/version.
func (h *Handlers) Negotiate(w http.ResponseWriter, r *http.Request) {
	var req ClientNegotiation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	compatible := req.Monto.Major == h.ourMonto.Major
	status := http.StatusOK
	if !compatible {
		status = http.StatusBadRequest
	}

	var summaries []ServiceNegotiationSummary
	for _, svc := range h.services.All() {
		summaries = append(summaries, ServiceNegotiationSummary{
			ID: svc.ID, Monto: svc.Monto, Products: svc.Products, Service: svc.Version,
		})
	}

	writeJSON(w, status, ClientBrokerNegotiation{
		Monto:      h.ourMonto.Min(req.Monto),
		Broker:     h.ourSelf,
		Extensions: nil,
		Services:   summaries,
	})
}

// Put handles PUT /monto/broker/{product_name}?path=ABS&language=LANG.
// Source uploads accept text/plain (wrapped as a JSON string) in addition
// to application/json, which per spec.md §9 must itself be a JSON string —
// no other JSON shape is accepted for the source product.
func (h *Handlers) Put(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	productName := mux.Vars(r)["product_name"]
	path := r.URL.Query().Get("path")
	language := r.URL.Query().Get("language")
	partial := model.ProductIdentifier{Name: model.OtherProductName(productName), Language: model.OtherLanguage(language), Path: path}

	if path == "" {
		h.recordHistory(r.Context(), model.Identifier{}, partial, false, "missing_path", start)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing path"})
		return
	}
	if language == "" {
		// Language detection is declared optional in spec.md §4.5/§9 — we
		// do not implement detection, so absence is always NoLanguage.
		h.recordHistory(r.Context(), model.Identifier{}, partial, false, "no_language", start)
		writeJSON(w, http.StatusBadRequest, BrokerPutError{Kind: BrokerPutErrorNoLanguage})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.recordHistory(r.Context(), model.Identifier{}, partial, false, "read_body", start)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body"})
		return
	}

	var value json.RawMessage
	contentType := r.Header.Get("Content-Type")
	switch {
	case productName == model.ProductSource.String() && isTextPlain(contentType):
		value = model.SourceValue(string(body))
	case productName == model.ProductSource.String():
		// application/json (and any other content type) for source must be
		// a JSON string: the ambiguity spec.md §9 resolves as "string only".
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			h.recordHistory(r.Context(), model.Identifier{}, partial, false, "invalid_source_json", start)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source must be a JSON string"})
			return
		}
		value = model.SourceValue(s)
	default:
		value = json.RawMessage(body)
		if !json.Valid(value) {
			h.recordHistory(r.Context(), model.Identifier{}, partial, false, "invalid_json", start)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	id, err := model.ProductIdentifier{
		Name: model.OtherProductName(productName), Language: model.OtherLanguage(language), Path: path,
	}.Canonicalize()
	if err != nil {
		h.recordHistory(r.Context(), model.Identifier{}, partial, false, "invalid_path", start)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid path"})
		return
	}

	h.cache.Put(model.Product{Name: id.Name, Language: id.Language, Path: id.Path, Value: value}, nil)
	h.recordHistory(r.Context(), model.Identifier{}, id, true, "", start)
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /monto/{service_id}/{product_name}?path=ABS&language=LANG,
// mapping resolver outcomes to status codes per spec.md §4.5.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	productName := vars["product_name"]
	path := r.URL.Query().Get("path")
	language := r.URL.Query().Get("language")
	partial := model.ProductIdentifier{Name: model.OtherProductName(productName), Language: model.OtherLanguage(language), Path: path}

	serviceID, err := model.ParseIdentifier(vars["service_id"])
	if err != nil {
		h.recordHistory(r.Context(), model.Identifier{}, partial, false, "invalid_service_id", start)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid service id"})
		return
	}

	want, err := partial.Canonicalize()
	if err != nil {
		h.recordHistory(r.Context(), serviceID, partial, false, "invalid_path", start)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid path"})
		return
	}

	product, err := h.resolver.Resolve(r.Context(), serviceID, want, nil)
	if err == nil {
		h.recordHistory(r.Context(), serviceID, want, true, "", start)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(product.Value)
		return
	}

	var ge *resolver.GetError
	if !asGetError(err, &ge) {
		h.recordHistory(r.Context(), serviceID, want, false, "internal", start)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.recordHistory(r.Context(), serviceID, want, false, ge.Kind.String(), start)
	switch ge.Kind {
	case resolver.NoSuchService, resolver.NoSuchProduct:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ge.Error()})
	case resolver.ServiceError, resolver.Unresolvable:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": ge.Error()})
	case resolver.ServiceConnectError:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": ge.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": ge.Error()})
	}
}

func asGetError(err error, target **resolver.GetError) bool {
	ge, ok := err.(*resolver.GetError)
	if !ok {
		return false
	}
	*target = ge
	return true
}

func isTextPlain(contentType string) bool {
	return strings.HasPrefix(contentType, "text/plain")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
