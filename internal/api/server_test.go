package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
)

type mockManager struct {
	mock.Mock
}

func (m *mockManager) Workers() []crawler.WorkerSnapshot {
	args := m.Called()
	return args.Get(0).([]crawler.WorkerSnapshot)
}

func (m *mockManager) PauseAll() {
	m.Called()
}

func (m *mockManager) SetActive(workerID string, active bool) error {
	return m.Called(workerID, active).Error(0)
}

func (m *mockManager) Seed(ctx context.Context, vendor string, params map[string]string) (crawler.Job, error) {
	args := m.Called(ctx, vendor, params)
	return args.Get(0).(crawler.Job), args.Error(1)
}

func (m *mockManager) QueueSnapshot(ctx context.Context) ([]dispatcher.VendorQueue, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).([]dispatcher.VendorQueue)
	return snap, args.Error(1)
}

func (m *mockManager) SetSession(ctx context.Context, active bool) error {
	return m.Called(ctx, active).Error(0)
}

func (m *mockManager) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestServer(mgr Manager, cfg config.Config) *Server {
	return NewServer(mgr, cfg, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&mockManager{}, config.Config{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	mgr := &mockManager{}
	mgr.On("Ping", mock.Anything).Return(nil).Once()
	mgr.On("Ping", mock.Anything).Return(errors.New("redis down")).Once()
	s := newTestServer(mgr, config.Config{})

	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/readyz", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/readyz", nil).Code)
	mgr.AssertExpectations(t)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&mockManager{}, config.Config{})
	serve(t, s, http.MethodGet, "/healthz", nil)
	rec := serve(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListWorkers(t *testing.T) {
	t.Parallel()

	progress := 0.5
	mgr := &mockManager{}
	mgr.On("Workers").Return([]crawler.WorkerSnapshot{
		{ID: "acme-1", Vendor: "acme", Target: "https://acme/1", Progress: &progress, State: crawler.WorkerLoading, Active: true},
		{ID: "acme-2", Vendor: "acme", State: crawler.WorkerIdle},
	})
	rec := serve(t, newTestServer(mgr, config.Config{}), http.MethodGet, "/v1/workers", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Workers []crawler.WorkerSnapshot `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Workers, 2)
	require.Equal(t, crawler.WorkerLoading, payload.Workers[0].State)
	require.InDelta(t, 0.5, *payload.Workers[0].Progress, 1e-9)
	require.Nil(t, payload.Workers[1].Progress)
}

func TestServer_PauseAll(t *testing.T) {
	t.Parallel()

	mgr := &mockManager{}
	mgr.On("PauseAll").Once()
	mgr.On("Workers").Return([]crawler.WorkerSnapshot{{ID: "acme-1", State: crawler.WorkerIdle}})
	rec := serve(t, newTestServer(mgr, config.Config{}), http.MethodPost, "/v1/workers/pause", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	mgr.AssertExpectations(t)
}

func TestServer_SetWorkerActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		err    error
		call   bool
		status int
	}{
		{name: "activate", body: `{"active":true}`, call: true, status: http.StatusOK},
		{name: "unknown worker", body: `{"active":false}`, err: fmt.Errorf("%w: acme-1", dispatcher.ErrUnknownWorker), call: true, status: http.StatusNotFound},
		{name: "missing field", body: `{}`, status: http.StatusBadRequest},
		{name: "invalid json", body: `{`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr := &mockManager{}
			if tt.call {
				mgr.On("SetActive", "acme-1", mock.AnythingOfType("bool")).Return(tt.err).Once()
			}
			rec := serve(t, newTestServer(mgr, config.Config{}), http.MethodPut, "/v1/workers/acme-1/active", []byte(tt.body))
			require.Equal(t, tt.status, rec.Code)
			mgr.AssertExpectations(t)
		})
	}
}

func TestServer_QueueSnapshot(t *testing.T) {
	t.Parallel()

	mgr := &mockManager{}
	mgr.On("QueueSnapshot", mock.Anything).Return([]dispatcher.VendorQueue{{
		Vendor: "acme",
		Size:   2,
		Head:   []crawler.Job{{ID: "j1", Vendor: "acme", Kind: crawler.JobKindList}},
	}}, nil).Once()
	mgr.On("QueueSnapshot", mock.Anything).Return(nil, errors.New("boom")).Once()
	s := newTestServer(mgr, config.Config{})

	rec := serve(t, s, http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"vendors":[{"vendor":"acme","size":2,"head":[{"id":"j1","vendor":"acme","kind":"LIST"}]}]}`,
		rec.Body.String(),
	)
	require.Equal(t, http.StatusInternalServerError, serve(t, s, http.MethodGet, "/v1/queue", nil).Code)
}

func TestServer_Seed(t *testing.T) {
	t.Parallel()

	params := map[string]string{"url": "https://acme/sale"}
	job := crawler.Job{ID: "j1", Vendor: "acme", Kind: crawler.JobKindList, Target: "https://acme/sale", Params: params}

	tests := []struct {
		name   string
		body   string
		vendor string
		err    error
		status int
	}{
		{name: "accepted", body: `{"vendor":"acme","params":{"url":"https://acme/sale"}}`, vendor: "acme", status: http.StatusAccepted},
		{name: "unknown vendor", body: `{"vendor":"initech","params":{"url":"https://acme/sale"}}`, vendor: "initech", err: fmt.Errorf("%w: initech", crawler.ErrUnknownVendor), status: http.StatusNotFound},
		{name: "session stopped", body: `{"vendor":"acme","params":{"url":"https://acme/sale"}}`, vendor: "acme", err: dispatcher.ErrSessionInactive, status: http.StatusConflict},
		{name: "store failure", body: `{"vendor":"acme","params":{"url":"https://acme/sale"}}`, vendor: "acme", err: errors.New("redis down"), status: http.StatusInternalServerError},
		{name: "missing vendor", body: `{"params":{}}`, status: http.StatusBadRequest},
		{name: "invalid json", body: `nope`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr := &mockManager{}
			if tt.vendor != "" {
				mgr.On("Seed", mock.Anything, tt.vendor, params).Return(job, tt.err).Once()
			}
			rec := serve(t, newTestServer(mgr, config.Config{}), http.MethodPost, "/v1/queue/seed", []byte(tt.body))
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusAccepted {
				require.Contains(t, rec.Body.String(), `"id":"j1"`)
			}
			mgr.AssertExpectations(t)
		})
	}
}

func TestServer_Session(t *testing.T) {
	t.Parallel()

	mgr := &mockManager{}
	mgr.On("SetSession", mock.Anything, true).Return(nil).Once()
	mgr.On("SetSession", mock.Anything, false).Return(errors.New("redis down")).Once()
	s := newTestServer(mgr, config.Config{})

	rec := serve(t, s, http.MethodPost, "/v1/session/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"active":true}`, rec.Body.String())
	require.Equal(t, http.StatusInternalServerError, serve(t, s, http.MethodPost, "/v1/session/stop", nil).Code)
	mgr.AssertExpectations(t)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	mgr := &mockManager{}
	mgr.On("Workers").Return([]crawler.WorkerSnapshot{})
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	s := newTestServer(mgr, cfg)

	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusForbidden, serve(t, s, http.MethodGet, "/v1/workers", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	mgr := &mockManager{}
	mgr.On("Workers").Run(func(mock.Arguments) { panic("snapshot exploded") })
	rec := serve(t, newTestServer(mgr, config.Config{}), http.MethodGet, "/v1/workers", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s := newTestServer(&mockManager{}, config.Config{})
	rec := serve(t, s, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
