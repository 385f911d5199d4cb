package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TokenAction-Chain/internal/auth"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/invocation"
	"TokenAction-Chain/internal/observability/metrics"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/internal/web3/provider"
	"TokenAction-Chain/pkg/plugin"

	"github.com/stretchr/testify/require"
)

type testCatalog []plugin.ActionInfo

func (c testCatalog) Actions() []plugin.ActionInfo { return c }

func (c testCatalog) ResolveAction(name string) (plugin.ActionInfo, error) {
	for _, info := range c {
		if strings.EqualFold(info.Name, name) {
			return info, nil
		}
		for _, simile := range info.Similes {
			if strings.EqualFold(simile, name) {
				return info, nil
			}
		}
	}
	return plugin.ActionInfo{}, plugin.ErrActionNotFound
}

var catalog = testCatalog{
	{Plugin: "zama", Name: "BALANCE_OF", Similes: []string{"CHECK_BALANCE"},
		Requires: []plugin.Capability{plugin.CapabilityNetwork}},
	{Plugin: "zama", Name: "MINT_TOKENS", Similes: []string{"ISSUE_TOKENS"},
		Requires: []plugin.Capability{plugin.CapabilityNetwork, plugin.CapabilitySigning}},
}

type fakeChains struct{}

func (fakeChains) Describe() []provider.ChainInfo {
	return []provider.ChainInfo{{Name: "sepolia", ChainID: "11155111", Configured: true, Default: true}}
}

func (fakeChains) Snapshot(_ context.Context, name string) (web3.ChainSnapshot, error) {
	if name != "sepolia" {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeNotConfigured, "链未在配置中找到")
	}
	return web3.ChainSnapshot{Name: name, ChainID: "11155111", BlockNumber: "42"}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *invocation.MemoryStore) {
	t.Helper()
	store := invocation.NewMemoryStore()
	svc := invocation.NewService(store, invocation.NewMemoryQueue(16), catalog)
	opts = append([]Option{WithCatalog(catalog), WithChains(fakeChains{}), WithMetrics(metrics.New())}, opts...)
	return NewServer(":0", svc, opts...), store
}

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeJWT,
		JWT:  auth.JWTOptions{Secret: "s3cret", Issuer: "tokenaction", AccessTTL: time.Minute},
		Seeds: []auth.Seed{
			{Username: "minter", Password: "pw", Permissions: []string{auth.PermissionRead, auth.PermissionMint}},
			{Username: "reader", Password: "pw", Permissions: []string{auth.PermissionRead}},
		},
	}, nil)
	require.NoError(t, err)
	return svc
}

func do(t *testing.T, handler http.Handler, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndFetchInvocation(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/actions",
		invocation.Request{Action: "check_balance", Reference: "0x00000000000000000000000000000000000000aa"}, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d (%s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var created invocation.Invocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "BALANCE_OF", created.Action)
	require.Equal(t, invocation.StatusPending, created.Status)
	require.Equal(t, "/api/v1/actions/"+created.ID, rec.Header().Get("Location"))

	rec = do(t, handler, http.MethodGet, "/api/v1/actions/"+created.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got invocation.Invocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, created.ID, got.ID)
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/actions", invocation.Request{Action: "TRANSFER", Reference: "x"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(invocation.CodeInvocationValidation), body.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/actions", invocation.Request{Action: "MINT_TOKENS", Amount: "-3"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(`{"action":"BALANCE_OF","bogus":1}`))
	raw := httptest.NewRecorder()
	handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)

	rec = do(t, handler, http.MethodDelete, "/api/v1/actions", nil, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleActionDetailErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/inv-1", nil)
		rec := httptest.NewRecorder()

		server.handleActionDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/actions/", nil)
		rec := httptest.NewRecorder()

		server.handleActionDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/actions/missing", nil)
		rec := httptest.NewRecorder()

		server.handleActionDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("invalid wait", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/actions/inv-1?wait=soon", nil)
		rec := httptest.NewRecorder()

		server.handleActionDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestActionDetailWait(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &invocation.Invocation{ID: "done", Action: "BALANCE_OF", Status: invocation.StatusPending}))
	_, err := store.Claim(ctx, "done")
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded(ctx, "done", invocation.Outcome{Text: "ok", Balance: "7"}, nil))
	require.NoError(t, store.Create(ctx, &invocation.Invocation{ID: "slow", Action: "BALANCE_OF", Status: invocation.StatusPending}))

	rec := do(t, handler, http.MethodGet, "/api/v1/actions/done?wait=1s", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var done invocation.Invocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	require.Equal(t, invocation.StatusSucceeded, done.Status)
	require.Equal(t, "7", done.Outcome.Balance)

	rec = do(t, handler, http.MethodGet, "/api/v1/actions/slow?wait=50ms", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var slow invocation.Invocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slow))
	require.Equal(t, invocation.StatusPending, slow.Status)
}

func TestListInvocations(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()
	ctx := context.Background()

	for _, inv := range []*invocation.Invocation{
		{ID: "a", Action: "BALANCE_OF", Status: invocation.StatusPending, Reference: "alice"},
		{ID: "b", Action: "MINT_TOKENS", Status: invocation.StatusPending, Reference: "bob"},
		{ID: "c", Action: "MINT_TOKENS", Status: invocation.StatusPending, Reference: "carol"},
	} {
		require.NoError(t, store.Create(ctx, inv))
	}
	_, err := store.Claim(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, "c", invocation.Failure{Code: xerrors.CodeSubmissionAmbiguous, Message: "timeout", Ambiguous: true}))

	rec := do(t, handler, http.MethodGet, "/api/v1/actions?action=mint_tokens", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Invocations, 2)
	require.Equal(t, 2, resp.Stats.Total)
	require.Equal(t, 1, resp.Stats.Ambiguous)

	rec = do(t, handler, http.MethodGet, "/api/v1/actions?ambiguous=true&status=failed", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = listResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Invocations, 1)
	require.Equal(t, "c", resp.Invocations[0].ID)

	for _, query := range []string{"status=unknown", "limit=0", "offset=-1", "ambiguous=maybe", "order=random"} {
		rec = do(t, handler, http.MethodGet, "/api/v1/actions?"+query, nil, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestMintRequiresPermission(t *testing.T) {
	authSvc := newAuthService(t)
	server, _ := newTestServer(t, WithAuth(authSvc))
	handler := server.Handler()
	ctx := context.Background()

	mint := invocation.Request{Action: "MINT_TOKENS", Reference: "0x00000000000000000000000000000000000000bb", Amount: "5", User: "spoofed"}

	rec := do(t, handler, http.MethodPost, "/api/v1/actions", mint, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	readerPair, err := authSvc.Authenticate(ctx, auth.TokenRequest{Username: "reader", Password: "pw"})
	require.NoError(t, err)
	rec = do(t, handler, http.MethodPost, "/api/v1/actions", mint, readerPair.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/actions",
		invocation.Request{Action: "BALANCE_OF", Reference: "alice"}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	minterPair, err := authSvc.Authenticate(ctx, auth.TokenRequest{Username: "minter", Password: "pw"})
	require.NoError(t, err)
	rec = do(t, handler, http.MethodPost, "/api/v1/actions", mint, minterPair.AccessToken)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created invocation.Invocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "minter", created.RequestedBy)
	require.Equal(t, "5", created.Amount)
}

func TestTokenEndpoint(t *testing.T) {
	server, _ := newTestServer(t, WithAuth(newAuthService(t)))
	handler := server.Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/token", auth.TokenRequest{Username: "minter", Password: "pw"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pair auth.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/token", auth.TokenRequest{Username: "minter", Password: "nope"}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	unauth, _ := newTestServer(t)
	rec = do(t, unauth.Handler(), http.MethodPost, "/api/v1/auth/token", auth.TokenRequest{Username: "minter", Password: "pw"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogAndChains(t *testing.T) {
	m := metrics.New()
	server, _ := newTestServer(t, WithMetrics(m))
	handler := server.Handler()

	rec := do(t, handler, http.MethodGet, "/api/v1/catalog", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var catalogResp struct {
		Actions []plugin.ActionInfo `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalogResp))
	require.Len(t, catalogResp.Actions, 2)

	rec = do(t, handler, http.MethodGet, "/api/v1/chains", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sepolia"`)

	rec = do(t, handler, http.MethodGet, "/api/v1/chains/sepolia", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot web3.ChainSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Equal(t, "42", snapshot.BlockNumber)

	rec = do(t, handler, http.MethodGet, "/api/v1/chains/mainnet", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, handler, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tokenaction_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		invocation.CodeInvocationNotFound:   http.StatusNotFound,
		invocation.CodeInvocationConflict:   http.StatusConflict,
		invocation.CodeInvocationValidation: http.StatusBadRequest,
		xerrors.CodeInvalidAmount:           http.StatusBadRequest,
		xerrors.CodeNotConfigured:           http.StatusServiceUnavailable,
		invocation.CodeInvocationPublish:    http.StatusServiceUnavailable,
		xerrors.CodeRPCUnavailable:          http.StatusBadGateway,
		xerrors.CodeTimeout:                 http.StatusGatewayTimeout,
		xerrors.CodeStorageFailure:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
