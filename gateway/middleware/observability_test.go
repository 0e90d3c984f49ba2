package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"multisender/observability"
)

func TestObservabilityUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObservability(ObservabilityConfig{}, observability.NewAPIMetrics(reg), nil)

	r := chi.NewRouter()
	r.Use(obs.Middleware)
	r.Get("/v1/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, family := range families {
		if family.GetName() != "multisend_api_requests_total" {
			continue
		}
		require.Len(t, family.GetMetric(), 1)
		m := family.GetMetric()[0]
		labels := map[string]string{}
		for _, pair := range m.GetLabel() {
			labels[pair.GetName()] = pair.GetValue()
		}
		require.Equal(t, "/v1/batches/{id}", labels["route"])
		require.Equal(t, "418", labels["status"])
		require.EqualValues(t, 3, m.GetCounter().GetValue())
		found = true
	}
	require.True(t, found)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://ops.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/stats", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
