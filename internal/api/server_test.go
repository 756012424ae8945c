package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"solarmax-monitor/internal/inverter"
	"solarmax-monitor/internal/metrics"
	"solarmax-monitor/internal/simulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSimulator(t *testing.T, address int) int {
	t.Helper()
	d := simulator.NewDevice(address, nil)
	addr, err := d.Listen("127.0.0.1:0")
	require.NoError(t, err)
	go d.Serve()
	t.Cleanup(func() { d.Close() })
	return addr.(*net.TCPAddr).Port
}

func newTestServer(t *testing.T, deviceAddr, clientAddr int, rateLimit float64) *Server {
	t.Helper()
	port := startSimulator(t, deviceAddr)
	reg := metrics.NewRegistry()
	device := inverter.NewSolarMax(inverter.Config{
		Host:    "127.0.0.1",
		Port:    port,
		Address: clientAddr,
		Timeout: 200 * time.Millisecond,
	}, inverter.WithMetrics(metrics.NewQueryMetrics(reg)))

	return NewServer(ServerConfig{Device: device, Registry: reg, RateLimit: rateLimit, Burst: 1})
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, false, resp["inverter_online"])

	do(s, http.MethodGet, "/api/v1/commands/36", nil)
	rr = do(s, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["inverter_online"])
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(requestIDHeader))
}

func TestCommands(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := do(s, http.MethodGet, "/api/v1/commands", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var cmds []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cmds))
	require.Len(t, cmds, 58)
	assert.Equal(t, "ADR", cmds[0]["mnemonic"])
	assert.Equal(t, "x500", cmds[inverter.CodeACPower]["scale"])
	assert.Equal(t, true, cmds[inverter.CodeError1Number]["unverified"])
}

func TestQueryCode(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := do(s, http.MethodGet, "/api/v1/commands/36", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var reading struct {
		Code     int     `json:"code"`
		Mnemonic string  `json:"mnemonic"`
		Value    float64 `json:"value"`
		Unit     string  `json:"unit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reading))
	assert.Equal(t, "PAC", reading.Mnemonic)
	assert.Equal(t, 3000000.0, reading.Value)
	assert.Equal(t, "mW", reading.Unit)
}

func TestQueryCodeErrors(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/commands/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/commands/100", nil).Code)
}

func TestQueryWrongAddressTimesOut(t *testing.T) {
	s := newTestServer(t, 1, 2, 0)

	rr := do(s, http.MethodGet, "/api/v1/commands/36", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)

	rr = do(s, http.MethodGet, "/health", nil)
	assert.True(t, strings.Contains(rr.Body.String(), "last_error"))
}

func TestReadings(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := do(s, http.MethodGet, "/api/v1/readings?codes=2,46", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Readings []struct {
			Mnemonic string          `json:"mnemonic"`
			Value    json.RawMessage `json:"value"`
		} `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Readings, 2)
	assert.Equal(t, "SWV", resp.Readings[0].Mnemonic)
	assert.Equal(t, "5.0", string(resp.Readings[0].Value))
	assert.Equal(t, "50", string(resp.Readings[1].Value))

	rr = do(s, http.MethodGet, "/api/v1/readings", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Readings, len(inverter.HeadlineCodes))

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/readings?codes=1,x", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/readings?codes=1,77", nil).Code)
}

func TestStatusReflectsLastValues(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := do(s, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())

	do(s, http.MethodGet, "/api/v1/commands/45", nil)
	rr = do(s, http.MethodGet, "/api/v1/status", nil)
	assert.True(t, strings.Contains(rr.Body.String(), `"mnemonic":"TKK"`), rr.Body.String())
	assert.True(t, strings.Contains(rr.Body.String(), `"value":42`), rr.Body.String())
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 1, 1, 0.001)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/commands/36", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/api/v1/commands/36", nil).Code)
	// the command table needs no device access
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/commands", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)
	do(s, http.MethodGet, "/api/v1/commands/36", nil)

	rr := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `solarmax_queries_total{mnemonic="PAC",result="ok"} 1`))
}

func TestInverterConfig(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)

	rr := do(s, http.MethodGet, "/api/v1/config/inverter", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cfg InverterConfigResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 1, cfg.Address)
}

func TestTestInverterConfig(t *testing.T) {
	s := newTestServer(t, 1, 1, 0)
	port := startSimulator(t, 4)

	body, _ := json.Marshal(InverterConfigRequest{Host: "127.0.0.1", Port: port, Address: 4, TimeoutSeconds: 1})
	rr := do(s, http.MethodPost, "/api/v1/config/inverter/test", body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `"success":true`), rr.Body.String())
	assert.True(t, strings.Contains(rr.Body.String(), `"software_version":"5.0"`), rr.Body.String())

	rr = do(s, http.MethodPost, "/api/v1/config/inverter/test", []byte(`{"host":""}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
