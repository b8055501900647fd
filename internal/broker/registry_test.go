package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monto-broker/broker/internal/model"
	"github.com/monto-broker/broker/internal/serviceconn"
)

func negotiatedTestConn(t *testing.T, id model.Identifier, products []model.ProductDescriptor) *serviceconn.ServiceConn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(serviceconn.ServiceNegotiation{
			Monto:    model.ProtocolVersion{Major: 3},
			Products: products,
			Service:  model.SoftwareVersion{ID: id},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn := serviceconn.New(id, srv.URL, srv.Client(), nil, nil)
	require.NoError(t, conn.Negotiate(context.Background(), model.ProtocolVersion{Major: 3}, model.SoftwareVersion{}, nil))
	return conn
}

func TestServiceRegistryByIDPreservesOrder(t *testing.T) {
	a := negotiatedTestConn(t, model.MustIdentifier("com.example.a"), nil)
	b := negotiatedTestConn(t, model.MustIdentifier("com.example.b"), nil)
	reg := NewServiceRegistry([]*serviceconn.ServiceConn{a, b})

	found, ok := reg.ByID(model.MustIdentifier("com.example.b"))
	require.True(t, ok)
	assert.Equal(t, b, found)

	_, ok = reg.ByID(model.MustIdentifier("com.example.missing"))
	assert.False(t, ok)
}

func TestServiceRegistryByProductFirstInOrderWins(t *testing.T) {
	errors := model.ProductDescriptor{Name: model.ProductErrors, Language: model.LanguageText}
	a := negotiatedTestConn(t, model.MustIdentifier("com.example.a"), []model.ProductDescriptor{errors})
	b := negotiatedTestConn(t, model.MustIdentifier("com.example.b"), []model.ProductDescriptor{errors})
	reg := NewServiceRegistry([]*serviceconn.ServiceConn{a, b})

	found, ok := reg.ByProduct(errors)
	require.True(t, ok)
	assert.Equal(t, a.ID(), found.ID(), "first configured service declaring the product wins")
}

func TestServiceRegistryKnownProducts(t *testing.T) {
	errors := model.ProductDescriptor{Name: model.ProductErrors, Language: model.LanguageText}
	a := negotiatedTestConn(t, model.MustIdentifier("com.example.a"), []model.ProductDescriptor{errors})
	reg := NewServiceRegistry([]*serviceconn.ServiceConn{a})

	known := reg.KnownProducts()
	require.Len(t, known, 1)
	assert.Equal(t, a.ID(), known[0].Service)
	assert.Equal(t, errors, known[0].Descriptor)
}
