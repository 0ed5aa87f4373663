package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cheapskate/internal/emitter"
	"github.com/yairfalse/cheapskate/internal/instance"
	"github.com/yairfalse/cheapskate/internal/scheduler"
)

type mockRunner struct {
	mu     sync.Mutex
	runs   int
	result scheduler.PassResult
	due    []string
}

func (m *mockRunner) Run(_ context.Context) scheduler.PassResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return m.result
}

func (m *mockRunner) ListDueForShutdown(_ context.Context, _ time.Duration) ([]string, error) {
	return m.due, nil
}

func (m *mockRunner) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

type mockInventory struct {
	snaps []*instance.Snapshot
	err   error
}

func (m *mockInventory) Snapshots(_ context.Context) ([]*instance.Snapshot, error) {
	return m.snaps, m.err
}

func (m *mockInventory) Skipped() []string { return nil }

type recordingEmitter struct {
	mu  sync.Mutex
	obs []emitter.Observation
}

func (e *recordingEmitter) Emit(_ context.Context, obs emitter.Observation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = append(e.obs, obs)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func testInventory() *mockInventory {
	return &mockInventory{snaps: []*instance.Snapshot{
		{ID: "i-1", StateName: "running"},
		{ID: "i-2", StateName: "stopped"},
	}}
}

func TestNewDaemon_Validation(t *testing.T) {
	_, err := NewDaemon(Config{}, &mockRunner{}, testInventory())
	require.Error(t, err)

	_, err = NewDaemon(Config{Interval: time.Minute}, nil, testInventory())
	require.Error(t, err)

	d, err := NewDaemon(Config{Interval: time.Minute}, &mockRunner{}, testInventory())
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.PassCount())
}

func TestRunOnce(t *testing.T) {
	runner := &mockRunner{
		result: scheduler.PassResult{RunID: "r-1", Stopped: []string{"i-1"}},
		due:    []string{"i-1"},
	}
	emit := &recordingEmitter{}
	dm, reader := newTestMetrics(t)

	d, err := NewDaemon(Config{Interval: time.Minute, Region: "us-east-1"}, runner, testInventory(),
		WithEmitter(emit), WithMetrics(dm))
	require.NoError(t, err)

	res := d.RunOnce(context.Background())

	assert.Equal(t, "r-1", res.RunID)
	assert.Equal(t, int64(1), d.PassCount())
	require.Len(t, emit.obs, 1)
	assert.Len(t, emit.obs[0].Instances, 2)
	assert.Equal(t, "us-east-1", emit.obs[0].Region)

	m := findMetric(t, reader, "cheapskate.daemon.passes")
	assert.NotEmpty(t, m.Name)
}

func TestRunOnce_InventoryErrorStillEmits(t *testing.T) {
	inv := &mockInventory{err: errors.New("throttled")}
	emit := &recordingEmitter{}

	d, err := NewDaemon(Config{Interval: time.Minute}, &mockRunner{}, inv, WithEmitter(emit))
	require.NoError(t, err)

	d.RunOnce(context.Background())
	require.Len(t, emit.obs, 1)
	assert.Error(t, emit.obs[0].Error)
}

func TestHandler_Healthz(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Minute}, &mockRunner{}, testInventory())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestHandler_Readyz(t *testing.T) {
	runner := &mockRunner{}
	d, err := NewDaemon(Config{Interval: time.Minute}, runner, testInventory())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no pass completed", w.Body.String())

	d.RunOnce(context.Background())

	w = httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	runner.result = scheduler.PassResult{Err: errors.New("describe failed")}
	d.RunOnce(context.Background())

	w = httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "describe failed")
}

func TestHandler_Status(t *testing.T) {
	runner := &mockRunner{result: scheduler.PassResult{RunID: "r-9", Booted: []string{"i-2"}}}
	d, err := NewDaemon(Config{Interval: time.Minute}, runner, testInventory())
	require.NoError(t, err)
	d.RunOnce(context.Background())

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Health   HealthStatus         `json:"health"`
		Passes   int64                `json:"passes"`
		LastPass scheduler.PassResult `json:"last_pass"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Health.Status)
	assert.Equal(t, int64(1), body.Passes)
	assert.Equal(t, "r-9", body.LastPass.RunID)
}

func TestHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	d, err := NewDaemon(Config{Interval: time.Minute}, &mockRunner{}, testInventory(), WithMetricsHandler(metrics))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestDaemon_StartAndStop(t *testing.T) {
	runner := &mockRunner{}
	d, err := NewDaemon(Config{Interval: 50 * time.Millisecond, Listen: "127.0.0.1:0"}, runner, testInventory())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	require.Eventually(t, func() bool { return runner.Runs() >= 2 && d.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", d.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
