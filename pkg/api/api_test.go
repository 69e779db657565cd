package api

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/andreikom/ac-observator/pkg/broker"
	"github.com/andreikom/ac-observator/pkg/metrics"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/andreikom/ac-observator/pkg/observation"
	"github.com/andreikom/ac-observator/pkg/storage"
	"github.com/stretchr/testify/require"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	server  *httptest.Server
	service *observation.Service
	live    *broker.Broker
}

func newFixture(t *testing.T, mutate func(cfg *Config)) *fixture {
	home := t.TempDir()
	cfg := DefaultConfig(home)
	if mutate != nil {
		mutate(cfg)
	}
	driver, err := storage.InitStorage(storage.Kind(cfg.Storage.Kind), cfg.Storage.Path, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	live := broker.NewBroker()
	go live.Start()
	t.Cleanup(live.Stop)

	m := metrics.NewMetrics()
	service, err := observation.NewService(driver, observation.NewLocalQueue(64),
		observation.WithPublisher(live),
		observation.WithMetrics(m),
		observation.WithLogger(testLogger),
		observation.WithFlushInterval(5*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	server := httptest.NewServer(NewRouter(cfg, service, live, m, testLogger))
	t.Cleanup(func() {
		server.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return &fixture{server: server, service: service, live: live}
}

func (f *fixture) do(t *testing.T, method string, path string, body string) (int, []byte) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestSensorTypeEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/api/sensor-types", "")
	require.Equal(t, http.StatusOK, status)
	var types []models.SensorType
	require.NoError(t, json.Unmarshal(body, &types))
	require.Len(t, types, 2)
	require.Equal(t, models.Voltage, types[0].Name)
	require.Equal(t, "Hz", types[1].Unit)

	status, _ = f.do(t, http.MethodPost, "/api/sensor-types", `{"name":"frequency","unit":"Hz"}`)
	require.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/api/sensor-types", `{"name":"current","unit":"A"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/api/sensor-types", `{`)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/sensor-types/2", "")
	require.Equal(t, http.StatusOK, status)
	sensorType := models.SensorType{}
	require.NoError(t, json.Unmarshal(body, &sensorType))
	require.Equal(t, models.Frequency, sensorType.Name)

	status, _ = f.do(t, http.MethodGet, "/api/sensor-types/5", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestObservedValueEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC().Truncate(time.Second)

	status, _ := f.do(t, http.MethodPost, "/api/observed-values", `{"sensorTypeId":1,"value":229.7,"createdAt":"`+now.Add(-time.Minute).Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusAccepted, status)
	status, _ = f.do(t, http.MethodPost, "/api/observed-values", `{"sensorTypeId":1,"value":231.3}`)
	require.Equal(t, http.StatusAccepted, status)

	status, body := f.do(t, http.MethodPost, "/api/observed-values", `{"sensorTypeId":3,"value":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Contains(t, string(body), "unknown")

	status, _ = f.do(t, http.MethodPost, "/api/observed-values", `{"sensorTypeId":1}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/api/observed-values", `{"sensorTypeId":1,"value":"high"}`)
	require.Equal(t, http.StatusBadRequest, status)

	require.Eventually(t, func() bool {
		_, err := f.service.Latest(1)
		return err == nil && f.service.CachedValues()[1] == 2
	}, time.Second, 5*time.Millisecond)

	from := now.Add(-time.Hour).Format(time.RFC3339)
	status, body = f.do(t, http.MethodGet, "/api/observed-values?sensorTypeId=1&from="+from, "")
	require.Equal(t, http.StatusOK, status)
	var values []models.ObservedValue
	require.NoError(t, json.Unmarshal(body, &values))
	require.Len(t, values, 2)
	require.Equal(t, 229.7, values[0].Value)
	require.Equal(t, 231.3, values[1].Value)

	status, _ = f.do(t, http.MethodGet, "/api/observed-values?sensorTypeId=abc", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodGet, "/api/observed-values?sensorTypeId=1&from=yesterday", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodGet, "/api/observed-values?sensorTypeId=9", "")
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = f.do(t, http.MethodGet, "/api/sensor-types/1/latest", "")
	require.Equal(t, http.StatusOK, status)
	latest := models.ObservedValue{}
	require.NoError(t, json.Unmarshal(body, &latest))
	require.Equal(t, 231.3, latest.Value)

	status, _ = f.do(t, http.MethodGet, "/api/sensor-types/2/latest", "")
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/api/sensor-types/1/stats/weekly", "")
	require.Equal(t, http.StatusOK, status)
	stats := models.Stats{}
	require.NoError(t, json.Unmarshal(body, &stats))
	require.Equal(t, 2, stats.Count)
	require.Equal(t, 229.7, stats.Min)
	require.Equal(t, 231.3, stats.Max)

	status, _ = f.do(t, http.MethodGet, "/api/sensor-types/1/stats/daily/not-a-date", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodGet, "/api/sensor-types/1/stats/daily/2001-01-01", "")
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), `"1":2`)

	status, body = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), `observator_readings_accepted_total{source="http"} 2`)
}

func TestStaticDashboard(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>dashboard</html>"), 0644))
	f := newFixture(t, func(cfg *Config) { cfg.Server.StaticDir = dist })

	status, body := f.do(t, http.MethodGet, "/ac-observator/", "")
	require.Equal(t, http.StatusOK, status)
	require.True(t, strings.Contains(string(body), "dashboard"))

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(f.server.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	require.Equal(t, "/ac-observator/", resp.Header.Get("Location"))
}

func TestThrottleIfNeeded(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	h := throttleIfNeeded(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
	}))

	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	<-entered
	select {
	case <-entered:
		t.Fatal("second request should wait for a free slot")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second request never ran")
	}
}
