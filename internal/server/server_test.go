package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/acctune/internal/config"
	"github.com/copyleftdev/acctune/internal/metrics"
	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/tuner"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: "test"}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	cfg.Tuning.Method = "nelder-mead"
	cfg.Tuning.GangsMin, cfg.Tuning.GangsMax = 2, 1024
	cfg.Tuning.VectorMin, cfg.Tuning.VectorMax = 2, 1024
	cfg.Tuning.Repetitions = 10
	cfg.Tuning.Workers = 1
	return cfg
}

type testServer struct {
	*Server
	router   chi.Router
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := NewServer(testConfig(t), zaptest.NewLogger(t), metrics.New(reg))
	t.Cleanup(func() { _ = s.Close() })

	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return &testServer{Server: s, router: r, registry: reg}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// pow2Measurements covers the power-of-two grid over [8, 64] on both axes.
// The fastest point is (32, 8) at one second.
func pow2Measurements() []Measurement {
	var ms []Measurement
	for _, g := range []float64{8, 16, 32, 64} {
		for _, v := range []float64{8, 16, 32, 64} {
			ms = append(ms, Measurement{
				NumGangs:     g,
				VectorLength: v,
				Time:         1 + math.Abs(math.Log2(g)-5) + math.Abs(math.Log2(v)-3),
				StdDev:       0.1,
			})
		}
	}
	return ms
}

func pow2Request() TuneRequest {
	return TuneRequest{
		Method: "grid-pow2",
		Bounds: &BoundsRequest{
			NumGangs:     optimization.Range{Min: 8, Max: 64},
			VectorLength: optimization.Range{Min: 8, Max: 64},
		},
		Measurements: pow2Measurements(),
	}
}

func (ts *testServer) waitFor(t *testing.T, id, status string) StatusResponse {
	t.Helper()
	var resp StatusResponse
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/v1/status/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = StatusResponse{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return resp
}

func TestTuneLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/tune", pow2Request())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var start StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	assert.NotEmpty(t, start.ID)
	assert.Equal(t, StatusPending, start.Status)

	status := ts.waitFor(t, start.ID, StatusCompleted)
	assert.Equal(t, "grid-pow2", status.Method)
	assert.Equal(t, 16, status.Evaluations)
	assert.Equal(t, 16, status.Iterations)
	assert.True(t, status.Converged)
	assert.Len(t, status.Ledger, 16)
	assert.NotNil(t, status.EndTime)
	assert.Empty(t, status.Error)

	require.NotNil(t, status.Best)
	assert.Equal(t, 32.0, status.Best.NumGangs)
	assert.Equal(t, 8.0, status.Best.VectorLength)
	require.NotNil(t, status.Best.Time)
	assert.Equal(t, 1.0, *status.Best.Time)

	require.NotNil(t, status.Percentile)
	assert.Equal(t, 6, *status.Percentile)
	require.NotNil(t, status.Significant)
	assert.False(t, *status.Significant)

	assertSearches(t, ts.registry, "grid-pow2", "converged")

	// A finished run cannot be cancelled.
	rec = ts.do(t, http.MethodDelete, "/api/v1/tune/"+start.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func assertSearches(t *testing.T, reg *prometheus.Registry, method, result string) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP acctune_searches_total Finished searches, by method and result
# TYPE acctune_searches_total counter
acctune_searches_total{method=%q,result=%q} 1
`, method, result)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "acctune_searches_total"))
}

func TestTuneFailedPointsAreReported(t *testing.T) {
	ts := newTestServer(t)

	req := pow2Request()
	req.Measurements[0].Error = string(optimization.FailureCompile)

	rec := ts.do(t, http.MethodPost, "/api/v1/tune", req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var start StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	status := ts.waitFor(t, start.ID, StatusCompleted)
	require.Len(t, status.Ledger, 16)
	first := status.Ledger[0]
	assert.Equal(t, 8.0, first.NumGangs)
	assert.Equal(t, 8.0, first.VectorLength)
	assert.Equal(t, string(optimization.FailureCompile), first.Error)
	assert.Nil(t, first.Time)
}

func TestTuneRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	unknown := pow2Request()
	unknown.Method = "simulated-annealing"

	inverted := pow2Request()
	inverted.Bounds.NumGangs = optimization.Range{Min: 64, Max: 8}

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed body", "{"},
		{"no measurements", TuneRequest{Method: "grid-pow2"}},
		{"unknown method", unknown},
		{"inverted bounds", inverted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/tune", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusAndCancelUnknownRun(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/status/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/v1/tune/missing", nil).Code)
}

func TestCancelPendingRun(t *testing.T) {
	ts := newTestServer(t)

	// Occupy the only run slot so the new run stays pending.
	ts.slots <- struct{}{}

	resp, err := ts.start(pow2Request())
	require.NoError(t, err)

	rec := ts.do(t, http.MethodDelete, "/api/v1/tune/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	<-ts.slots
	ts.wg.Wait()

	status, err := ts.status(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status.Status)
	assert.Zero(t, status.Evaluations)
	assert.NotNil(t, status.EndTime)

	assertSearches(t, ts.registry, "grid-pow2", "cancelled")
}

func TestCancellableObjective(t *testing.T) {
	calls := 0
	objective := func(p optimization.Point) optimization.Outcome {
		calls++
		return optimization.Success(p, 1, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := cancellable(ctx, objective)

	assert.False(t, f(optimization.NewPoint(32, 32)).HasFailure())
	cancel()
	out := f(optimization.NewPoint(64, 32))
	assert.Equal(t, optimization.FailureCancelled, out.Failure)
	assert.Equal(t, 1, calls)
}

func TestSignificance(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/significance", map[string]interface{}{
		"a": map[string]interface{}{"average": 2, "stdev": 0.1, "n": 10},
		"b": map[string]interface{}{"average": 1, "stdev": 0.1, "n": 10},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SignificanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Significant)
	assert.Greater(t, resp.Low, 0.0)
	assert.Greater(t, resp.High, resp.Low)

	rec = ts.do(t, http.MethodPost, "/api/v1/significance", map[string]interface{}{
		"a": map[string]interface{}{"average": 2, "stdev": 0, "n": 10},
		"b": map[string]interface{}{"average": 1, "stdev": 0, "n": 10},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMethods(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/methods", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["methods"], "nelder-mead")
	assert.Contains(t, resp["methods"], "coord-search")
	assert.Contains(t, resp["methods"], "grid-pow2")
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (ts *testServer) rpc(t *testing.T, body interface{}) rpcResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func TestJSONRPC(t *testing.T) {
	ts := newTestServer(t)

	t.Run("parse error", func(t *testing.T) {
		resp := ts.rpc(t, "not json")
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32700, resp.Error.Code)
	})

	t.Run("invalid version", func(t *testing.T) {
		resp := ts.rpc(t, map[string]interface{}{"jsonrpc": "1.0", "id": 1, "method": "tuning.methods"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32600, resp.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := ts.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 2, "method": "tuning.frobnicate"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32601, resp.Error.Code)
	})

	t.Run("missing params", func(t *testing.T) {
		resp := ts.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 3, "method": "tuning.status"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32602, resp.Error.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		resp := ts.rpc(t, map[string]interface{}{
			"jsonrpc": "2.0", "id": 4, "method": "tuning.status",
			"params": []interface{}{map[string]string{"id": "missing"}},
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32001, resp.Error.Code)
	})

	t.Run("methods", func(t *testing.T) {
		resp := ts.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 5, "method": "tuning.methods"})
		require.Nil(t, resp.Error)
		var methods []string
		require.NoError(t, json.Unmarshal(resp.Result, &methods))
		assert.Contains(t, methods, "grid32")
	})

	t.Run("start and status", func(t *testing.T) {
		resp := ts.rpc(t, map[string]interface{}{
			"jsonrpc": "2.0", "id": "start", "method": "tuning.start",
			"params": []interface{}{pow2Request()},
		})
		require.Nil(t, resp.Error)
		assert.Equal(t, "start", resp.ID)

		var start StartResponse
		require.NoError(t, json.Unmarshal(resp.Result, &start))
		ts.waitFor(t, start.ID, StatusCompleted)

		resp = ts.rpc(t, map[string]interface{}{
			"jsonrpc": "2.0", "id": 6, "method": "tuning.status",
			"params": []interface{}{map[string]string{"id": start.ID}},
		})
		require.Nil(t, resp.Error)
		var status StatusResponse
		require.NoError(t, json.Unmarshal(resp.Result, &status))
		assert.Equal(t, StatusCompleted, status.Status)
		require.NotNil(t, status.Best)
		assert.Equal(t, 32.0, status.Best.NumGangs)

		resp = ts.rpc(t, map[string]interface{}{
			"jsonrpc": "2.0", "id": 7, "method": "tuning.cancel",
			"params": []interface{}{map[string]string{"id": start.ID}},
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32002, resp.Error.Code)
	})
}

func TestServerWithoutConfig(t *testing.T) {
	s := NewServer(nil, nil, nil)
	defer s.Close()

	assert.Equal(t, 1, cap(s.slots))
	assert.Equal(t, tuner.DefaultOptions(), s.defaults())

	started, err := s.start(pow2Request())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := s.status(started.ID)
		return err == nil && st.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	st, err := s.status(started.ID)
	require.NoError(t, err)
	require.NotNil(t, st.Best)
	assert.Equal(t, 32.0, st.Best.NumGangs)
	assert.Equal(t, 8.0, st.Best.VectorLength)
}
