package tokenaction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TokenAction-Chain/internal/api"
	"TokenAction-Chain/internal/invocation"
	"TokenAction-Chain/internal/observability/metrics"
	"TokenAction-Chain/pkg/plugin"
)

func TestAuthenticateStoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		switch body["grant_type"] {
		case "password":
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", RefreshToken: "r1", TokenType: "Bearer"})
		case "refresh_token":
			if body["refresh_token"] != "r1" {
				t.Fatalf("unexpected refresh token %q", body["refresh_token"])
			}
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "def456", TokenType: "Bearer"})
		default:
			t.Fatalf("unexpected grant %q", body["grant_type"])
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Authenticate(context.Background(), Credentials{Username: "minter", Password: "pw"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}

	if _, err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := client.AccessToken(); got != "def456" {
		t.Fatalf("expected refreshed token, got %q", got)
	}
}

func TestSubmitSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Invocation{ID: "inv-1", Action: req.Action, Amount: req.Amount, Status: StatusPending})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("token")

	inv, err := client.Submit(context.Background(), ActionRequest{Action: ActionMintTokens, Reference: "alice", Amount: "3"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if inv.ID != "inv-1" || inv.Amount != "3" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestGetReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/actions/inv-404" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(APIError{Code: "INVOCATION_NOT_FOUND", Message: "missing"})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Get(context.Background(), "inv-404", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "INVOCATION_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	_, err = client.Chains(context.Background())
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Fatalf("expected plain text API error, got %v", err)
	}
}

func TestAPIErrorKeepsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"INVOCATION_CONFLICT","message":"busy","StatusCode":0}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Get(context.Background(), "inv-1", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "busy" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatal("expected error for relative url")
	}
}

type catalog []plugin.ActionInfo

func (c catalog) Actions() []plugin.ActionInfo { return c }

func (c catalog) ResolveAction(name string) (plugin.ActionInfo, error) {
	for _, info := range c {
		if strings.EqualFold(info.Name, name) {
			return info, nil
		}
	}
	return plugin.ActionInfo{}, plugin.ErrActionNotFound
}

type dispatchFunc func(ctx context.Context, name string, msg plugin.Message, report plugin.Reporter) (any, error)

func (f dispatchFunc) Dispatch(ctx context.Context, name string, msg plugin.Message, report plugin.Reporter) (any, error) {
	return f(ctx, name, msg, report)
}

func TestBalanceRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	actions := catalog{{Plugin: "zama", Name: ActionBalanceOf, Requires: []plugin.Capability{plugin.CapabilityNetwork}}}
	store := invocation.NewMemoryStore()
	queue := invocation.NewMemoryQueue(8)
	service := invocation.NewService(store, queue, actions)

	processor := invocation.NewProcessor(dispatchFunc(func(ctx context.Context, _ string, msg plugin.Message, report plugin.Reporter) (any, error) {
		report(ctx, "Checking token balance...")
		return "balance of " + msg.Param(invocation.ParamReference) + " is 5", nil
	}), store, queue)
	go func() { _ = processor.Start(ctx) }()

	server := api.NewServer(":0", service, api.WithCatalog(actions), api.WithMetrics(metrics.New()))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	inv, err := client.Balance(ctx, "alice", "")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if inv.Status != StatusSucceeded {
		t.Fatalf("unexpected status %q (%s)", inv.Status, inv.LastError)
	}
	if inv.Outcome == nil || inv.Outcome.Text != "balance of alice is 5" {
		t.Fatalf("unexpected outcome: %+v", inv.Outcome)
	}
	if len(inv.Progress) != 1 {
		t.Fatalf("unexpected progress: %v", inv.Progress)
	}

	listed, err := client.List(ctx, ListFilter{Statuses: []string{StatusSucceeded}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listed.Stats.Succeeded != 1 || len(listed.Invocations) != 1 {
		t.Fatalf("unexpected list result: %+v", listed)
	}

	infos, err := client.Catalog(ctx)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != ActionBalanceOf {
		t.Fatalf("unexpected catalog: %+v", infos)
	}
}
