package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/solatis/autogift/internal/core/api"
	"github.com/solatis/autogift/internal/core/config"
	"github.com/solatis/autogift/internal/core/metrics"
	"github.com/solatis/autogift/internal/ports/inmem"
	"github.com/solatis/autogift/internal/types"
)

func newTestService(t *testing.T, reg prometheus.Registerer) *api.EvaluationService {
	t.Helper()
	catalog := inmem.NewCatalog()
	catalog.PutRules("shop-1", []types.Rule{{
		ID:         "three-items",
		Active:     true,
		Conditions: []types.Condition{types.CartQuantityAtLeast(3)},
		Action:     types.Action{AddVariantID: "gift-1", Quantity: 1},
	}})
	svc, err := api.NewEvaluationService(catalog, nil, metrics.New(reg), nil)
	require.NoError(t, err)
	return svc
}

func threeItemCart() types.Cart {
	return types.Cart{Currency: "EUR", Lines: []types.Line{
		{LineID: "l1", VariantID: "v1", ProductID: "p1", Quantity: 3, Amount: 30},
	}}
}

func newBufconnClient(t *testing.T) *grpc.ClientConn {
	t.Helper()
	srv, err := NewGRPCServer(config.DefaultConfig().Server, newTestService(t, prometheus.NewRegistry()), nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewGRPCServer_NilService(t *testing.T) {
	_, err := NewGRPCServer(config.DefaultConfig().Server, nil, nil)
	assert.Error(t, err)
}

func TestGRPC_EvaluateCycle(t *testing.T) {
	client := NewEvaluatorClient(newBufconnClient(t))

	resp, err := client.EvaluateCycle(context.Background(), api.EvaluateRequest{
		ShopID: "shop-1",
		Cart:   threeItemCart(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CycleID)
	assert.Equal(t, []types.MutationIntent{types.Add("gift-1", 1, "three-items")}, resp.Intents)
	assert.Equal(t, []string{"three-items"}, resp.MatchedRules)
}

func TestGRPC_InvalidRequest(t *testing.T) {
	client := NewEvaluatorClient(newBufconnClient(t))

	_, err := client.EvaluateCycle(context.Background(), api.EvaluateRequest{Cart: threeItemCart()})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	conn := newBufconnClient(t)
	health := grpc_health_v1.NewHealthClient(conn)

	for _, service := range []string{"", EvaluatorServiceName} {
		resp, err := health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status, "service %q", service)
	}
}

func TestGRPCError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{api.ErrInvalidRequest, codes.InvalidArgument},
		{api.ErrCatalogUnavailable, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(grpcError(tt.err)), "grpcError(%v)", tt.err)
	}
}

func newTestRouter(t *testing.T) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := NewHandler(newTestService(t, reg), nil, time.Second)
	return NewRouter(h, reg), reg
}

func TestHTTP_Evaluate(t *testing.T) {
	router, _ := newTestRouter(t)
	body, err := json.Marshal(api.EvaluateRequest{ShopID: "ignored", Cart: threeItemCart()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/shops/shop-1/evaluate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp api.EvaluateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []types.MutationIntent{types.Add("gift-1", 1, "three-items")}, resp.Intents)
}

func TestHTTP_EvaluateErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", "{", http.StatusBadRequest, "invalid_request"},
		{"invalid line", `{"cart": {"lines": [{"lineId": "l1", "variantId": "v1", "quantity": 0}]}}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/shops/shop-1/evaluate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var envelope map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
			assert.Equal(t, tt.wantCode, envelope["error"])
		})
	}
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/shops/shop-1/evaluate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	body, err := json.Marshal(api.EvaluateRequest{Cart: threeItemCart()})
	require.NoError(t, err)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/shops/shop-1/evaluate", bytes.NewReader(body)))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autogift_cycles_total{caller="checkout",outcome="applied"} 1`)
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	polls := prometheus.NewCounter(prometheus.CounterOpts{Name: "autogift_watch_polls_total", Help: "polls"})
	reg.MustRegister(polls)
	polls.Add(2)
	router := NewMetricsRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autogift_watch_polls_total 2")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/shops/shop-1/evaluate", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
