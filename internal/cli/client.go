package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guildbank/internal/economy"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response. Kind is set for economy failures.
type APIError struct {
	Status    int
	Message   string
	Kind      economy.Kind
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return e.Message
}

// IsFailure reports whether err is an economy refusal rather than a transport or
// server problem.
func IsFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind != ""
}

// Request is a mutation as it was sent, enough to replay it verbatim.
type Request struct {
	Method         string
	Path           string
	Body           json.RawMessage
	IdempotencyKey string
}

// PendingError wraps a failure after which the server may or may not have applied
// Request. Replaying it under the same idempotency key is safe.
type PendingError struct {
	Request Request
	Err     error
}

func (e *PendingError) Error() string {
	return e.Err.Error()
}

func (e *PendingError) Unwrap() error {
	return e.Err
}

// Replay resends a pending request. The response body is discarded.
func (c *Client) Replay(ctx context.Context, r Request) error {
	var in any
	if len(r.Body) > 0 {
		in = r.Body
	}
	return c.jsonRequest(ctx, r.Method, r.Path, in, nil, r.IdempotencyKey)
}

type Me struct {
	UserID int64                 `json:"user_id"`
	Admin  bool                  `json:"admin"`
	Points int64                 `json:"points"`
	Gang   *economy.GangStanding `json:"gang,omitempty"`
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var out Me
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", nil, &out, "")
	return out, err
}

func (c *Client) Catalog(ctx context.Context, scope economy.Scope) (economy.CatalogView, error) {
	var out economy.CatalogView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/items"+scopeQuery(scope, nil), nil, &out, "")
	return out, err
}

func (c *Client) Item(ctx context.Context, scope economy.Scope, name string) (economy.ItemView, error) {
	var out economy.ItemView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(name)+scopeQuery(scope, nil), nil, &out, "")
	return out, err
}

func (c *Client) Inventory(ctx context.Context, scope economy.Scope) (economy.InventoryView, error) {
	var out economy.InventoryView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/inventory"+scopeQuery(scope, nil), nil, &out, "")
	return out, err
}

func (c *Client) Buy(ctx context.Context, scope economy.Scope, name, idem string) (economy.TradeResult, error) {
	var out economy.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/items/"+url.PathEscape(name)+"/buy"+scopeQuery(scope, nil), nil, &out, idem)
	return out, err
}

func (c *Client) Sell(ctx context.Context, scope economy.Scope, name, idem string) (economy.TradeResult, error) {
	var out economy.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/items/"+url.PathEscape(name)+"/sell"+scopeQuery(scope, nil), nil, &out, idem)
	return out, err
}

func (c *Client) Gift(ctx context.Context, name string, target int64, idem string) (economy.GiftResult, error) {
	var out economy.GiftResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/items/"+url.PathEscape(name)+"/gift", map[string]any{
		"target": target,
	}, &out, idem)
	return out, err
}

func (c *Client) Use(ctx context.Context, name, idem string) (economy.UseResult, error) {
	var out economy.UseResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/items/"+url.PathEscape(name)+"/use", nil, &out, idem)
	return out, err
}

func (c *Client) ItemSuggestions(ctx context.Context, scope economy.Scope, prefix string, owned bool) ([]economy.Suggestion, error) {
	q := url.Values{"prefix": {prefix}}
	if owned {
		q.Set("owned", "1")
	}
	var out struct {
		Suggestions []economy.Suggestion `json:"suggestions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/suggest/items"+scopeQuery(scope, q), nil, &out, "")
	return out.Suggestions, err
}

func (c *Client) Pools(ctx context.Context) ([]economy.PoolState, error) {
	var out struct {
		Pools []economy.PoolState `json:"pools"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/pools", nil, &out, "")
	return out.Pools, err
}

func (c *Client) Pool(ctx context.Context, name string) (economy.PoolState, error) {
	var out economy.PoolState
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/pools/"+url.PathEscape(name), nil, &out, "")
	return out, err
}

func (c *Client) CreatePool(ctx context.Context, spec economy.PoolSpec) (economy.PoolState, error) {
	var out economy.PoolState
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/pools", spec, &out, "")
	return out, err
}

func (c *Client) EditPool(ctx context.Context, name string, patch economy.PoolPatch) (economy.PoolState, error) {
	var out economy.PoolState
	err := c.jsonRequest(ctx, http.MethodPatch, "/v1/admin/pools/"+url.PathEscape(name), patch, &out, "")
	return out, err
}

func (c *Client) TogglePoolRole(ctx context.Context, name string, role int64) (economy.RoleToggle, error) {
	var out economy.RoleToggle
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/pools/%s/roles/%d", url.PathEscape(name), role), nil, &out, "")
	return out, err
}

func (c *Client) DeletePool(ctx context.Context, name string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/admin/pools/"+url.PathEscape(name), nil, nil, "")
}

func (c *Client) Reputation(ctx context.Context, userID int64) (int64, error) {
	var out struct {
		Points int64 `json:"points"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/admin/users/%d/points", userID), nil, &out, "")
	return out.Points, err
}

func (c *Client) AdjustPoints(ctx context.Context, userID, delta int64, idem string) (economy.AdjustResult, error) {
	var out economy.AdjustResult
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/users/%d/points", userID), map[string]any{
		"delta": delta,
	}, &out, idem)
	return out, err
}

func (c *Client) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/users/%d", userID), nil, &out, "")
	return out.Created, err
}

func (c *Client) SyncCatalog(ctx context.Context, scope economy.Scope, defs []economy.ItemDef) (int, error) {
	if defs == nil {
		defs = []economy.ItemDef{}
	}
	var out struct {
		Synced int `json:"synced"`
	}
	err := c.jsonRequest(ctx, http.MethodPut, "/v1/admin/catalog/"+string(scope), map[string]any{
		"items": defs,
	}, &out, "")
	return out.Synced, err
}

func scopeQuery(scope economy.Scope, q url.Values) string {
	if scope == economy.ScopeGang {
		if q == nil {
			q = url.Values{}
		}
		q.Set("scope", string(scope))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var (
		body io.Reader
		raw  []byte
	)
	if in != nil {
		var err error
		raw, err = json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	pending := func(err error) error {
		if idem == "" {
			return err
		}
		return &PendingError{Request: Request{Method: method, Path: path, Body: raw, IdempotencyKey: idem}, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return pending(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error     string       `json:"error"`
			Kind      economy.Kind `json:"kind"`
			Retryable bool         `json:"retryable"`
		}
		if json.Unmarshal(errBody, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Kind, apiErr.Retryable = payload.Error, payload.Kind, payload.Retryable
		} else {
			apiErr.Message = fmt.Sprintf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
		}
		if apiErr.Retryable || resp.StatusCode == http.StatusGatewayTimeout || (resp.StatusCode >= 502 && apiErr.Kind == "") {
			return pending(apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
