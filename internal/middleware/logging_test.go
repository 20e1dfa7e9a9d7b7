package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/common/logging"
)

func newRouter(t *testing.T, level logging.LogLevel) (*mux.Router, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: level, Output: &buf})
	require.NoError(t, err)

	router := mux.NewRouter()
	router.Use(Recover(logger), Logging(logger))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {})
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	return router, &buf
}

func serve(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLogging(t *testing.T) {
	router, buf := newRouter(t, logging.InfoLevel)

	rec := serve(router, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, buf.String(), "HTTP request failed")
	assert.Contains(t, buf.String(), "503")

	buf.Reset()
	serve(router, "/metrics")
	assert.Empty(t, buf.String())
}

func TestRecover(t *testing.T) {
	router, buf := newRouter(t, logging.InfoLevel)

	rec := serve(router, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Handler panicked")
}
