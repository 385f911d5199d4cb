package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveHTTPRequest(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("actions", http.MethodPost, http.StatusAccepted, 20*time.Millisecond)
	m.ObserveHTTPRequest("actions", http.MethodPost, http.StatusBadGateway, time.Second)

	out := scrape(t, m)
	require.Contains(t, out, `tokenaction_http_requests_total{code="202",handler="actions",method="POST"} 1`)
	require.Contains(t, out, `tokenaction_http_request_errors_total{handler="actions",method="POST"} 1`)
	require.Contains(t, out, `tokenaction_http_request_duration_seconds_count{handler="actions",method="POST"} 2`)
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.ObserveAction("MINT_TOKENS", "SUBMISSION_AMBIGUOUS", 3*time.Second)
	m.ObserveSubmission("sepolia", "ambiguous")
	m.SetInvocations("pending", 4)
	m.ObserveAlert("SUBMISSION_AMBIGUOUS")

	out := scrape(t, m)
	require.Contains(t, out, `tokenaction_actions_total{action="MINT_TOKENS",code="SUBMISSION_AMBIGUOUS"} 1`)
	require.Contains(t, out, `tokenaction_mint_submissions_total{chain="sepolia",outcome="ambiguous"} 1`)
	require.Contains(t, out, `tokenaction_invocations{status="pending"} 4`)
	require.Contains(t, out, `tokenaction_alerts_total{code="SUBMISSION_AMBIGUOUS"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAction("BALANCE_OF", "OK", time.Millisecond)
	m.ObserveHTTPRequest("x", http.MethodGet, http.StatusOK, time.Millisecond)
	m.ObserveSubmission("sepolia", "accepted")
}
