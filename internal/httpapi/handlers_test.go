package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monto-broker/broker/internal/cache"
	"github.com/monto-broker/broker/internal/model"
	"github.com/monto-broker/broker/internal/resolver"
	"github.com/monto-broker/broker/internal/serviceconn"
)

type emptyLookup struct{}

func (emptyLookup) ByID(model.Identifier) (*serviceconn.ServiceConn, bool)        { return nil, false }
func (emptyLookup) ByProduct(model.ProductDescriptor) (*serviceconn.ServiceConn, bool) { return nil, false }

type emptyServices struct{}

func (emptyServices) All() []NegotiatedService { return nil }

func newTestHandlers(c *cache.ProductCache) *Handlers {
	res := resolver.New(c, emptyLookup{}, nil, nil, 0)
	return NewHandlers(c, res, emptyServices{}, model.ProtocolVersion{Major: 3}, model.SoftwareVersion{ID: model.MustIdentifier("com.example.broker")}, nil, nil)
}

func TestNegotiateCompatible(t *testing.T) {
	h := newTestHandlers(cache.New(nil, nil))
	body, _ := json.Marshal(ClientNegotiation{Monto: model.ProtocolVersion{Major: 3, Minor: 1}})
	req := httptest.NewRequest("POST", "/monto/version", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.Negotiate(rr, req)
	assert.Equal(t, 200, rr.Code)

	var resp ClientBrokerNegotiation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, uint64(3), resp.Monto.Major)
}

func TestNegotiateIncompatible(t *testing.T) {
	h := newTestHandlers(cache.New(nil, nil))
	body, _ := json.Marshal(ClientNegotiation{Monto: model.ProtocolVersion{Major: 99}})
	req := httptest.NewRequest("POST", "/monto/version", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.Negotiate(rr, req)
	assert.Equal(t, 400, rr.Code)
}

func TestPutTextPlainSource(t *testing.T) {
	h := newTestHandlers(cache.New(nil, nil))
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")

	req := httptest.NewRequest("PUT", "/monto/broker/source?path="+path+"&language=text", bytes.NewReader([]byte("hello")))
	req.Header.Set("Content-Type", "text/plain")
	req = mux.SetURLVars(req, map[string]string{"product_name": "source"})
	rr := httptest.NewRecorder()

	h.Put(rr, req)
	assert.Equal(t, 204, rr.Code)
}

func TestPutMissingLanguageFails(t *testing.T) {
	h := newTestHandlers(cache.New(nil, nil))
	req := httptest.NewRequest("PUT", "/monto/broker/source?path=/tmp/x", bytes.NewReader([]byte("hello")))
	req = mux.SetURLVars(req, map[string]string{"product_name": "source"})
	rr := httptest.NewRecorder()

	h.Put(rr, req)
	assert.Equal(t, 400, rr.Code)
	var perr BrokerPutError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &perr))
	assert.Equal(t, BrokerPutErrorNoLanguage, perr.Kind)
}

func TestGetCacheHit(t *testing.T) {
	c := cache.New(nil, nil)
	path := "/tmp/x"
	c.Put(model.Product{Name: model.ProductErrors, Language: model.LanguageText, Path: path, Value: jsonArr()}, nil)

	h := newTestHandlers(c)
	req := httptest.NewRequest("GET", "/monto/com.example.a/errors?path="+path+"&language=text", nil)
	req = mux.SetURLVars(req, map[string]string{"service_id": "com.example.a", "product_name": "errors"})
	rr := httptest.NewRecorder()

	h.Get(rr, req)
	assert.Equal(t, 200, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
}

func TestGetNoSuchServiceMapsTo400(t *testing.T) {
	h := newTestHandlers(cache.New(nil, nil))
	req := httptest.NewRequest("GET", "/monto/com.example.missing/errors?path=/tmp/x&language=text", nil)
	req = mux.SetURLVars(req, map[string]string{"service_id": "com.example.missing", "product_name": "errors"})
	rr := httptest.NewRecorder()

	h.Get(rr, req)
	assert.Equal(t, 400, rr.Code)
}

func jsonArr() []byte { return []byte(`[]`) }
