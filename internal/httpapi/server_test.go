package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/workmate/internal/authn"
	"github.com/antoniostano/workmate/internal/capability"
	"github.com/antoniostano/workmate/internal/config"
	"github.com/antoniostano/workmate/internal/credential"
	"github.com/antoniostano/workmate/internal/gateway"
	"github.com/antoniostano/workmate/internal/mcp"
	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/policy"
	"github.com/antoniostano/workmate/internal/provider"
	"github.com/antoniostano/workmate/internal/session"
)

const testSecret = "test-secret-0123456789"

type testEnv struct {
	server   *Server
	ts       *httptest.Server
	issuer   *authn.Issuer
	upstream *http.ServeMux
}

func newTestEnv(t *testing.T, gw gateway.Gateway) *testEnv {
	t.Helper()
	if gw == nil {
		gw = gateway.NewMock()
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg, "test")

	upstream := http.NewServeMux()
	upstreamSrv := httptest.NewServer(upstream)
	t.Cleanup(upstreamSrv.Close)

	adapters := provider.NewRegistry(
		provider.NewMockAdapter(provider.Google, time.Hour),
		provider.NewMockAdapter(provider.Microsoft, time.Hour),
	)
	creds := credential.NewManager(credential.NewInMemoryStore(), adapters, credential.WithMetrics(metrics))
	sessions := session.NewManager(session.NewInMemoryStore(), 10, session.WithMetrics(metrics))
	orch := mcp.New(sessions, gw, mcp.WithMetrics(metrics))
	scopes, err := policy.NewScopeEngine(context.Background(), "")
	require.NoError(t, err)
	caps := capability.NewService(creds, scopes, capability.NewDispatcher(
		capability.NewGoogle(upstreamSrv.URL, upstreamSrv.Client()),
		capability.NewGraph(upstreamSrv.URL, upstreamSrv.Client()),
	), capability.WithMetrics(metrics))

	issuer := authn.NewIssuer(testSecret, 30*time.Minute)
	srv := New(config.Config{ModelProvider: "mock"}, Deps{
		Orchestrator: orch,
		Credentials:  creds,
		Capabilities: caps,
		Issuer:       issuer,
		Metrics:      metrics,
		Gatherer:     reg,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, ts: ts, issuer: issuer, upstream: upstream}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

// login runs the OAuth start and callback and returns the app token.
func (e *testEnv) login(t *testing.T, id provider.ID) (token, userID string) {
	t.Helper()
	res, start := e.do(t, http.MethodGet, "/v1/auth/"+string(id), "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	state, _ := start["state"].(string)
	require.NotEmpty(t, state)
	require.Contains(t, start["url"], "state="+state)

	res, cb := e.do(t, http.MethodPost, "/v1/auth/"+string(id)+"/callback", "", map[string]string{"code": "c1", "state": state})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, string(id), cb["platform"])
	token, _ = cb["access_token"].(string)
	userID, _ = cb["user_id"].(string)
	require.NotEmpty(t, token)
	require.Equal(t, start["user_id"], userID)
	return token, userID
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)
	res, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", body["status"])

	res, body = env.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []any{"google", "microsoft"}, body["providers"])
}

func TestAuthCallbackStateIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	_, start := env.do(t, http.MethodGet, "/v1/auth/google", "", nil)
	state := start["state"].(string)

	res, _ := env.do(t, http.MethodPost, "/v1/auth/google/callback", "", map[string]string{"code": "c1", "state": state})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body := env.do(t, http.MethodPost, "/v1/auth/google/callback", "", map[string]string{"code": "c1", "state": state})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "invalid_state", body["code"])
}

func TestAuthCallbackExchangeFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	_, start := env.do(t, http.MethodGet, "/v1/auth/microsoft", "", nil)

	res, body := env.do(t, http.MethodPost, "/v1/auth/microsoft/callback", "", map[string]string{"code": "bad-code", "state": start["state"].(string)})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "exchange_failed", body["code"])
}

func TestAuthUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	res, body := env.do(t, http.MethodGet, "/v1/auth/dropbox", "", nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "unknown_provider", body["code"])
}

func TestReauthorizeKeepsUserID(t *testing.T) {
	env := newTestEnv(t, nil)
	token, userID := env.login(t, provider.Google)

	_, start := env.do(t, http.MethodGet, "/v1/auth/google", token, nil)
	require.Equal(t, userID, start["user_id"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)
	res, body := env.do(t, http.MethodPost, "/v1/ai/process", "", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "unauthenticated", body["code"])
}

func TestProcessAndContextLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	token, userID := env.login(t, provider.Microsoft)

	res, body := env.do(t, http.MethodGet, "/v1/ai/context", token, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body = env.do(t, http.MethodPost, "/v1/ai/process", token, map[string]any{
		"text":    "draft the weekly update",
		"context": map[string]any{"tone": "brief"},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, body["response"], "draft the weekly update")
	ctxSnap := body["context"].(map[string]any)
	require.Equal(t, userID, ctxSnap["user_id"])
	require.Len(t, ctxSnap["history"], 2)

	res, _ = env.do(t, http.MethodPut, "/v1/ai/task", token, map[string]any{"task": map[string]any{"name": "weekly update"}})
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body = env.do(t, http.MethodGet, "/v1/ai/context", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, map[string]any{"name": "weekly update"}, body["current_task"])
	require.Equal(t, map[string]any{"tone": "brief"}, body["preferences"])

	res, _ = env.do(t, http.MethodDelete, "/v1/ai/context", token, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = env.do(t, http.MethodGet, "/v1/ai/context", token, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestProcessRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, provider.Google)
	res, body := env.do(t, http.MethodPost, "/v1/ai/process", token, map[string]string{"text": " "})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "invalid_request", body["code"])
}

type failingGateway struct{}

func (failingGateway) Name() string { return "failing" }
func (failingGateway) Complete(context.Context, []gateway.Message) (string, error) {
	return "", gateway.ErrGateway
}

func TestProcessGatewayFailureIs502WithContext(t *testing.T) {
	env := newTestEnv(t, failingGateway{})
	token, _ := env.login(t, provider.Google)

	res, body := env.do(t, http.MethodPost, "/v1/ai/process", token, map[string]any{"text": "hi", "context": map[string]any{"lang": "it"}})
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	require.Equal(t, "gateway_error", body["code"])
	ctxSnap := body["context"].(map[string]any)
	require.Equal(t, map[string]any{"lang": "it"}, ctxSnap["preferences"])
	require.Empty(t, ctxSnap["history"])
}

func TestProcessPlatformMismatchIs409(t *testing.T) {
	env := newTestEnv(t, nil)
	token, userID := env.login(t, provider.Google)
	res, _ := env.do(t, http.MethodPost, "/v1/ai/process", token, map[string]string{"text": "hi"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	other, err := env.issuer.Issue(authn.Identity{UserID: userID, Platform: provider.Microsoft})
	require.NoError(t, err)
	res, body := env.do(t, http.MethodPost, "/v1/ai/process", other, map[string]string{"text": "hi"})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	require.Equal(t, "platform_mismatch", body["code"])
}

func TestCapabilityRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream.HandleFunc("/tasks/v1/lists/@default/tasks", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer mock-access-"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "t1", "title": "Call Ana", "status": "needsAction"})
	})
	token, _ := env.login(t, provider.Google)

	res, body := env.do(t, http.MethodPost, "/v1/tasks", token, map[string]string{"title": "Call Ana"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "google", body["provider"])
	require.Equal(t, "t1", body["task"].(map[string]any)["id"])

	res, body = env.do(t, http.MethodPost, "/v1/emails/send", token, map[string]any{"subject": "x"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "invalid_request", body["code"])
}

func TestCapabilityWithoutCredential(t *testing.T) {
	env := newTestEnv(t, nil)
	token, err := env.issuer.Issue(authn.Identity{UserID: "ghost", Platform: provider.Google})
	require.NoError(t, err)

	res, body := env.do(t, http.MethodGet, "/v1/tasks", token, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "no_credential", body["code"])
}

func TestLogoutRevokesCredential(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, provider.Microsoft)

	res, _ := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body := env.do(t, http.MethodGet, "/v1/tasks", token, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "no_credential", body["code"])
}

func TestCORSPreflight(t *testing.T) {
	srv := New(config.Config{AllowAnyOrigin: true}, Deps{Issuer: authn.NewIssuer(testSecret, time.Minute)})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/ai/process", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, "https://app.example", res.Header.Get("Access-Control-Allow-Origin"))
	require.Empty(t, res.Header.Get("Access-Control-Allow-Credentials"))
}

func TestMetricsAndPerfEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, provider.Google)
	env.do(t, http.MethodPost, "/v1/ai/process", token, map[string]string{"text": "hi"})

	res, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	require.Contains(t, buf.String(), "test_assistant_requests_total")

	res2, body := env.do(t, http.MethodGet, "/v1/perf/latency", "", nil)
	require.Equal(t, http.StatusOK, res2.StatusCode)
	require.NotNil(t, body["stages"])
}

func TestAssistantWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.login(t, provider.Google)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/ai/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "process_request", "request_id": "r1", "text": "hello there"}))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "assistant_response", reply["type"])
	require.Equal(t, "r1", reply["request_id"])
	require.Contains(t, reply["response"], "hello there")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)))
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "error_event", reply["type"])
	require.Equal(t, "invalid_client_message", reply["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "clear_context"}))
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "system_event", reply["type"])
	require.Equal(t, "context_cleared", reply["code"])
}

func TestAssistantWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/ai/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestClassifyRefreshFailures(t *testing.T) {
	outage := errors.New("token endpoint status 503")
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rejected grant", fmt.Errorf("%w: %w", credential.ErrRefreshFailed, provider.ErrProviderRejected), http.StatusUnauthorized, "reauthorization_required"},
		{"no refresh token", fmt.Errorf("%w: %w", credential.ErrRefreshFailed, provider.ErrNoRefreshToken), http.StatusUnauthorized, "refresh_unavailable"},
		{"provider outage", fmt.Errorf("%w: %w", credential.ErrRefreshFailed, outage), http.StatusServiceUnavailable, "provider_unavailable"},
		{"refresh timeout", fmt.Errorf("%w: %w", credential.ErrRefreshFailed, context.DeadlineExceeded), http.StatusGatewayTimeout, "upstream_timeout"},
		{"provider 401", fmt.Errorf("%w: %w", capability.ErrUnauthorized, &capability.StatusError{Status: 401}), http.StatusUnauthorized, "reauthorization_required"},
		{"exchange rejected", fmt.Errorf("%w: %w", credential.ErrExchangeFailed, provider.ErrProviderRejected), http.StatusBadRequest, "exchange_failed"},
		{"too many pending", authn.ErrTooManyPending, http.StatusTooManyRequests, "too_many_pending"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := classify(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, code)
		})
	}
}

func TestAuthStartRefusesWhenPendingIsFull(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.states = authn.NewStateStore(time.Minute, authn.WithMaxPending(1))

	res, _ := env.do(t, http.MethodGet, "/v1/auth/google", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, body := env.do(t, http.MethodGet, "/v1/auth/google", "", nil)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	require.Equal(t, "too_many_pending", body["code"])
}
