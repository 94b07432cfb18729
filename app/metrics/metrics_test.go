package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altavo/types"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveAnswer(types.ModeRAG)
	m.ObserveAnswer(types.ModeRAG)
	m.ObserveAnswer(types.ModeFallback)
	m.ObserveIngest(3, nil)
	m.ObserveIngest(2, nil)
	m.ObserveIngest(0, errors.New("boom"))

	out := scrape(t, m)
	assert.Contains(t, out, `altavo_answers_total{mode="RAG"} 2`)
	assert.Contains(t, out, `altavo_answers_total{mode="fallback"} 1`)
	assert.Contains(t, out, `altavo_ingested_files_total{result="ok"} 2`)
	assert.Contains(t, out, `altavo_ingested_files_total{result="error"} 1`)
	assert.Contains(t, out, `altavo_indexed_chunks_total 5`)
}

func TestObserve_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAnswer(types.ModeRAG)
		m.ObserveIngest(1, nil)
	})
}

func TestMiddleware_RecordsStatusOfFailedRequest(t *testing.T) {
	m := New()
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `altavo_http_request_duration_seconds_count{method="GET",route="/missing",status="404"} 1`)
	assert.Contains(t, string(body), `route="/ok",status="200"`)
}
