// Package tokenaction is a Go client for the TokenAction Chain REST API.
package tokenaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It stays above the server's maximum wait window.
const DefaultHTTPTimeout = 45 * time.Second

// Action names exposed by the built-in token plugin.
const (
	ActionBalanceOf  = "BALANCE_OF"
	ActionMintTokens = "MINT_TOKENS"
)

// Invocation statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the TokenAction Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// Credentials are exchanged for an access token.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued token pair.
type Token struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type"`
}

// ActionRequest submits one action invocation. Submitting the same ID twice
// returns the existing invocation instead of running it again.
type ActionRequest struct {
	ID        string `json:"id,omitempty"`
	Action    string `json:"action"`
	Reference string `json:"reference,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Chain     string `json:"chain,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Outcome is the result of a succeeded invocation.
type Outcome struct {
	Text    string `json:"text"`
	Address string `json:"address,omitempty"`
	Balance string `json:"balance,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
	Nonce   uint64 `json:"nonce,omitempty"`
}

// Invocation is the server-side record of a submitted action.
type Invocation struct {
	ID          string   `json:"id"`
	Action      string   `json:"action"`
	Kind        string   `json:"kind"`
	Chain       string   `json:"chain,omitempty"`
	Reference   string   `json:"reference"`
	Amount      string   `json:"amount,omitempty"`
	RequestedBy string   `json:"requested_by,omitempty"`
	Message     string   `json:"message,omitempty"`
	Status      string   `json:"status"`
	Outcome     *Outcome `json:"outcome,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	// Ambiguous marks a mint whose broadcast outcome is unknown. The
	// transaction may still land; check the chain before submitting again.
	Ambiguous bool     `json:"ambiguous,omitempty"`
	Progress  []string `json:"progress,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Terminal reports whether the invocation has finished.
func (i *Invocation) Terminal() bool {
	return i != nil && (i.Status == StatusSucceeded || i.Status == StatusFailed)
}

// Stats summarises invocations matching a filter.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Ambiguous int `json:"ambiguous"`
}

// ListFilter narrows ListInvocations. Zero values are omitted.
type ListFilter struct {
	Limit     int
	Offset    int
	Statuses  []string
	Action    string
	Ambiguous *bool
	Ascending bool
	Query     string
}

// ListResult holds one page of invocations and the stats of the full match.
type ListResult struct {
	Invocations []Invocation `json:"invocations"`
	Stats       Stats        `json:"stats"`
}

// ActionInfo describes a dispatchable action.
type ActionInfo struct {
	Plugin      string   `json:"plugin"`
	Name        string   `json:"name"`
	Similes     []string `json:"similes,omitempty"`
	Description string   `json:"description"`
	Requires    []string `json:"requires,omitempty"`
}

// Chain describes a configured chain without secrets.
type Chain struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id,omitempty"`
	Configured  bool   `json:"configured"`
	CanSign     bool   `json:"can_sign"`
	Default     bool   `json:"default"`
	Description string `json:"description,omitempty"`
}

// ChainSnapshot is the live chain id and head of a chain.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("tokenaction api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tokenaction api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the API. When httpClient is nil a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for a token pair and stores it for
// subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	payload := map[string]string{"grant_type": "password", "username": creds.Username, "password": creds.Password}
	return c.exchange(ctx, payload)
}

// Refresh exchanges the stored refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context) (Token, error) {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()
	if refresh == "" {
		return Token{}, errors.New("tokenaction: refresh token is not set")
	}
	return c.exchange(ctx, map[string]string{"grant_type": "refresh_token", "refresh_token": refresh})
}

func (c *Client) exchange(ctx context.Context, payload map[string]string) (Token, error) {
	var token Token
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/token", nil, payload, &token); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
	}
	c.mu.Unlock()
	return token, nil
}

// Submit creates an invocation. It returns as soon as the invocation is
// queued; use Wait to follow it to completion.
func (c *Client) Submit(ctx context.Context, req ActionRequest) (*Invocation, error) {
	var inv Invocation
	if err := c.send(ctx, http.MethodPost, "/api/v1/actions", nil, req, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Balance submits a balance query for reference and waits for its result.
func (c *Client) Balance(ctx context.Context, reference, chain string) (*Invocation, error) {
	inv, err := c.Submit(ctx, ActionRequest{Action: ActionBalanceOf, Reference: reference, Chain: chain})
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, inv.ID)
}

// Mint submits a mint and waits until the node accepted or rejected it. A
// failed result with Ambiguous set must not be retried blindly.
func (c *Client) Mint(ctx context.Context, reference, amount, chain string) (*Invocation, error) {
	inv, err := c.Submit(ctx, ActionRequest{Action: ActionMintTokens, Reference: reference, Amount: amount, Chain: chain})
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, inv.ID)
}

// Get fetches an invocation. A positive wait asks the server to hold the
// request until the invocation finishes or the wait elapses.
func (c *Client) Get(ctx context.Context, id string, wait time.Duration) (*Invocation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("tokenaction: invocation id is required")
	}
	query := url.Values{}
	if wait > 0 {
		query.Set("wait", wait.String())
	}
	var inv Invocation
	if err := c.send(ctx, http.MethodGet, "/api/v1/actions/"+url.PathEscape(id), query, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Wait long-polls until the invocation is terminal or ctx ends.
func (c *Client) Wait(ctx context.Context, id string) (*Invocation, error) {
	for {
		inv, err := c.Get(ctx, id, 20*time.Second)
		if err != nil {
			return nil, err
		}
		if inv.Terminal() {
			return inv, nil
		}
		if err := ctx.Err(); err != nil {
			return inv, err
		}
	}
}

// List returns invocations matching filter.
func (c *Client) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	query := url.Values{}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}
	if len(filter.Statuses) > 0 {
		query.Set("status", strings.Join(filter.Statuses, ","))
	}
	if filter.Action != "" {
		query.Set("action", filter.Action)
	}
	if filter.Ambiguous != nil {
		query.Set("ambiguous", strconv.FormatBool(*filter.Ambiguous))
	}
	if filter.Ascending {
		query.Set("order", "asc")
	}
	if filter.Query != "" {
		query.Set("q", filter.Query)
	}
	var result ListResult
	if err := c.send(ctx, http.MethodGet, "/api/v1/actions", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Catalog lists the actions the server can dispatch.
func (c *Client) Catalog(ctx context.Context) ([]ActionInfo, error) {
	var resp struct {
		Actions []ActionInfo `json:"actions"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/catalog", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// Chains lists configured chains.
func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	var resp struct {
		Chains []Chain `json:"chains"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/chains", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chains, nil
}

// Snapshot fetches the live chain id and head block of a chain.
func (c *Client) Snapshot(ctx context.Context, chain string) (ChainSnapshot, error) {
	var snapshot ChainSnapshot
	if err := c.send(ctx, http.MethodGet, "/api/v1/chains/"+url.PathEscape(chain), nil, nil, &snapshot); err != nil {
		return ChainSnapshot{}, err
	}
	return snapshot, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 && json.Unmarshal(data, apiErr) == nil && apiErr.Message != "" {
			apiErr.StatusCode = resp.StatusCode
			return apiErr
		}
		apiErr.Message = string(bytes.TrimSpace(data))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
