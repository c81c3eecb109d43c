package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/router"
	"github.com/coachpo/vantage/internal/schema"
)

type stubDispatcher struct {
	signals  []schema.Signal
	outcomes []router.Outcome
}

func (s *stubDispatcher) Dispatch(_ context.Context, signal schema.Signal) []router.Outcome {
	s.signals = append(s.signals, signal)
	return s.outcomes
}

type stubHealth struct {
	statuses []schema.HealthStatus
}

func (s stubHealth) Health() []schema.HealthStatus { return s.statuses }

func newTestServer(dispatcher Dispatcher, health HealthReporter) *httptest.Server {
	cfg := config.ServerSettings{
		Addr:           "127.0.0.1:0",
		SecretToken:    "secret",
		AllowedSources: []string{"tradingview"},
	}
	return httptest.NewServer(New(cfg, dispatcher, health).Handler())
}

func postWebhook(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/webhook", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestWebhookDispatchesSignal(t *testing.T) {
	dispatcher := &stubDispatcher{outcomes: []router.Outcome{
		{AccountIndex: 1, Result: schema.OrderResult{Confirmed: true}},
		{AccountIndex: 3, Skipped: true, Reason: "already long"},
	}}
	srv := newTestServer(dispatcher, stubHealth{})
	defer srv.Close()

	resp := postWebhook(t, srv.URL,
		`{"token":"secret","direction":"long","symbol":"eth","leverage":2,"source":"tradingview"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, dispatcher.signals, 1)
	signal := dispatcher.signals[0]
	require.Equal(t, schema.DirectionLong, signal.Direction)
	require.Equal(t, "ETH", signal.Symbol)
	require.Equal(t, 2, signal.Leverage)
	require.Nil(t, signal.Scope)

	var body webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Len(t, body.Outcomes, 2)
	require.True(t, body.Outcomes[0].Confirmed)
	require.True(t, body.Outcomes[1].Skipped)
}

func TestWebhookScopedAccount(t *testing.T) {
	dispatcher := &stubDispatcher{}
	srv := newTestServer(dispatcher, stubHealth{})
	defer srv.Close()

	resp := postWebhook(t, srv.URL,
		`{"token":"secret","direction":"close","symbol":"BTC","source":"tradingview","account":7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, dispatcher.signals, 1)
	require.NotNil(t, dispatcher.signals[0].Scope)
	require.Equal(t, int64(7), *dispatcher.signals[0].Scope)
}

func TestWebhookRejectsBadToken(t *testing.T) {
	dispatcher := &stubDispatcher{}
	srv := newTestServer(dispatcher, stubHealth{})
	defer srv.Close()

	resp := postWebhook(t, srv.URL,
		`{"token":"wrong","direction":"long","symbol":"ETH","source":"tradingview"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, dispatcher.signals)
}

func TestWebhookRejectsUnknownSource(t *testing.T) {
	dispatcher := &stubDispatcher{}
	srv := newTestServer(dispatcher, stubHealth{})
	defer srv.Close()

	resp := postWebhook(t, srv.URL,
		`{"token":"secret","direction":"long","symbol":"ETH","source":"elsewhere"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebhookRejectsBadDirection(t *testing.T) {
	dispatcher := &stubDispatcher{}
	srv := newTestServer(dispatcher, stubHealth{})
	defer srv.Close()

	resp := postWebhook(t, srv.URL,
		`{"token":"secret","direction":"sideways","symbol":"ETH","source":"tradingview"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubDispatcher{}, stubHealth{statuses: []schema.HealthStatus{
		{AccountIndex: 1, Connected: true},
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthEndpointDegraded(t *testing.T) {
	srv := newTestServer(&stubDispatcher{}, stubHealth{statuses: []schema.HealthStatus{
		{AccountIndex: 1, Connected: false, RetryCount: 3, Error: "bad key"},
	}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
