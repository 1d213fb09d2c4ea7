package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	httpctrl "github.com/secmon-lab/argos/pkg/controller/http"
	"github.com/secmon-lab/argos/pkg/repository/memory"
	"github.com/secmon-lab/argos/pkg/service/queue"
	"github.com/secmon-lab/argos/pkg/usecase"
)

func newTestServer(t *testing.T) *httpctrl.Server {
	t.Helper()
	repo := memory.New()
	t.Cleanup(func() { _ = repo.Close() })
	return httpctrl.New(usecase.New(repo, queue.New(8)))
}

func postJSON(t *testing.T, srv *httpctrl.Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	gt.NoError(t, err).Required()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body)).Required()
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	gt.Number(t, rec.Code).Equal(http.StatusOK)
	body := decodeBody(t, rec)
	gt.Value(t, body["status"]).Equal("ok")
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("valid event is accepted", func(t *testing.T) {
		srv := newTestServer(t)
		rec := postJSON(t, srv, "/ingest", map[string]string{
			"url":    "https://example.com/article",
			"source": "full-load",
		})

		gt.Number(t, rec.Code).Equal(http.StatusAccepted)
		body := decodeBody(t, rec)
		gt.Value(t, body["accepted"]).Equal(true)
		gt.Value(t, body["status"]).Equal("Queued")
		gt.Value(t, body["fingerprint"]).NotEqual("")
	})

	t.Run("repeat event coalesces with 200", func(t *testing.T) {
		srv := newTestServer(t)
		payload := map[string]string{"url": "https://example.com/a", "source": "full-load"}

		gt.Number(t, postJSON(t, srv, "/ingest", payload).Code).Equal(http.StatusAccepted)

		rec := postJSON(t, srv, "/ingest", payload)
		gt.Number(t, rec.Code).Equal(http.StatusOK)
		body := decodeBody(t, rec)
		// merged occurrences report Queued; the merge itself is carried
		// by the coalesced flag
		gt.Value(t, body["status"]).Equal("Queued")
		gt.Value(t, body["accepted"]).Equal(true)
		gt.Value(t, body["coalesced"]).Equal(true)
	})

	t.Run("malformed URL gets 400", func(t *testing.T) {
		srv := newTestServer(t)
		rec := postJSON(t, srv, "/ingest", map[string]string{"url": "ftp://example.com/x"})

		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
		body := decodeBody(t, rec)
		gt.Value(t, body["status"]).Equal("Rejected")
		gt.Value(t, body["accepted"]).Equal(false)
	})

	t.Run("invalid JSON gets 400", func(t *testing.T) {
		srv := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
	})

	t.Run("invalid observedAt gets 400", func(t *testing.T) {
		srv := newTestServer(t)
		rec := postJSON(t, srv, "/ingest", map[string]string{
			"url":        "https://example.com/a",
			"observedAt": "yesterday",
		})
		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
	})
}

func TestVisitEndpoints(t *testing.T) {
	t.Run("visit detail after ingest", func(t *testing.T) {
		srv := newTestServer(t)
		rec := postJSON(t, srv, "/ingest", map[string]string{
			"url":    "https://example.com/article",
			"source": "full-load",
		})
		fingerprint := decodeBody(t, rec)["fingerprint"].(string)

		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visits/"+fingerprint, nil))

		gt.Number(t, rec.Code).Equal(http.StatusOK)
		body := decodeBody(t, rec)
		gt.Value(t, body["status"]).Equal("PENDING")
		gt.Number(t, body["occurrences"].(float64)).Equal(1.0)
	})

	t.Run("unknown fingerprint gets 404", func(t *testing.T) {
		srv := newTestServer(t)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visits/deadbeef", nil))
		gt.Number(t, rec.Code).Equal(http.StatusNotFound)
	})

	t.Run("cancel pending visit", func(t *testing.T) {
		srv := newTestServer(t)
		rec := postJSON(t, srv, "/ingest", map[string]string{
			"url":    "https://example.com/article",
			"source": "full-load",
		})
		fingerprint := decodeBody(t, rec)["fingerprint"].(string)

		rec = postJSON(t, srv, "/api/visits/"+fingerprint+"/cancel", nil)
		gt.Number(t, rec.Code).Equal(http.StatusAccepted)
	})

	t.Run("cancel unknown visit gets 404", func(t *testing.T) {
		srv := newTestServer(t)
		rec := postJSON(t, srv, "/api/visits/deadbeef/cancel", nil)
		gt.Number(t, rec.Code).Equal(http.StatusNotFound)
	})
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	gt.Number(t, postJSON(t, srv, "/ingest", map[string]string{
		"url":    "https://example.com/a",
		"source": "full-load",
	}).Code).Equal(http.StatusAccepted)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	gt.Number(t, rec.Code).Equal(http.StatusOK)
	body := decodeBody(t, rec)
	visits := body["visits"].(map[string]any)
	gt.Number(t, visits["PENDING"].(float64)).Equal(1.0)
	queueStats := body["queue"].(map[string]any)
	gt.Number(t, queueStats["len"].(float64)).Equal(1.0)
}

func TestSearchEndpoint(t *testing.T) {
	t.Run("missing query parameter gets 400", func(t *testing.T) {
		srv := newTestServer(t)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))
		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
	})

	t.Run("graph traversal of unknown node kind gets 400", func(t *testing.T) {
		srv := newTestServer(t)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graph/bogus-node", nil))
		gt.Number(t, rec.Code).Equal(http.StatusBadRequest)
	})
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/ingest", nil))

	gt.Number(t, rec.Code).Equal(http.StatusNoContent)
	gt.Value(t, rec.Header().Get("Access-Control-Allow-Origin")).Equal("*")
}
