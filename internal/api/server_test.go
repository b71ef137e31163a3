package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildbank/internal/auth"
	"guildbank/internal/economy"
	"guildbank/internal/store/sqlitestore"
)

type testAPI struct {
	srv    *httptest.Server
	signer *auth.Signer
	store  *sqlitestore.Store
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()
	ctx := context.Background()

	st, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := economy.NewService(st, logger)
	require.NoError(t, st.CreateGang(ctx, "Crows", 500))
	require.NoError(t, st.AddMember(ctx, economy.Member{UserID: 1, Gang: "Crows", Leader: true}))
	require.NoError(t, st.AddMember(ctx, economy.Member{UserID: 2, Gang: "Crows"}))
	_, err = svc.SyncCatalog(ctx, economy.ScopeUser, []economy.ItemDef{
		{Name: "Shield", Cost: 30, Value: 5, Benefit: economy.BenefitDefense},
		{Name: "Coin Pouch", Cost: 10, Value: 25, Benefit: economy.BenefitCurrency},
	})
	require.NoError(t, err)
	_, err = svc.AdjustPoints(ctx, economy.AdjustInput{Admin: 99, Target: 1, Delta: 100})
	require.NoError(t, err)

	signer, err := auth.NewSigner(strings.Repeat("k", 32), time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(New(logger, signer, svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, signer: signer, store: st}
}

func (a *testAPI) token(t *testing.T, user int64, admin bool) string {
	t.Helper()
	raw, _, err := a.signer.Issue(auth.Actor{UserID: user, Admin: admin})
	require.NoError(t, err)
	return raw
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	down := newTestAPI(t, WithHealthCheck(func(context.Context) error { return errors.New("db down") }))
	status, body = down.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "db down", body["error"])
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	status, _ := a.do(t, http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(t, http.MethodGet, "/v1/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := a.do(t, http.MethodGet, "/v1/admin/users/1/points", a.token(t, 1, false), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "administrator token required", body["error"])
}

func TestMe(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(t, http.MethodGet, "/v1/me", a.token(t, 1, false), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["user_id"])
	assert.EqualValues(t, 100, body["points"])
	gang, ok := body["gang"].(map[string]any)
	require.True(t, ok, "leader should see gang standing")
	assert.Equal(t, "Crows", gang["gang"])
	assert.EqualValues(t, 500, gang["control"])

	status, body = a.do(t, http.MethodGet, "/v1/me", a.token(t, 77, false), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(economy.KindNotFound), body["kind"])
}

func TestTradeStatusMapping(t *testing.T) {
	a := newTestAPI(t)
	leader, member := a.token(t, 1, false), a.token(t, 2, false)

	status, body := a.do(t, http.MethodPost, "/v1/items/Shield/buy", leader, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 70, body["balance"])
	assert.EqualValues(t, 1, body["quantity"])

	status, body = a.do(t, http.MethodPost, "/v1/items/Shield/buy", member, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(economy.KindInsufficientResource), body["kind"])

	status, _ = a.do(t, http.MethodPost, "/v1/items/Dragon/buy", leader, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodPost, "/v1/items/Shield/buy?scope=gang", member, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(economy.KindUnauthorized), body["kind"])

	status, _ = a.do(t, http.MethodPost, "/v1/items/Shield/buy?scope=guild", leader, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodPost, "/v1/items/Shield/sell", leader, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["amount"])

	status, body = a.do(t, http.MethodPost, "/v1/items/Coin%20Pouch/buy", leader, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = a.do(t, http.MethodPost, "/v1/items/Coin%20Pouch/use", leader, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 88, body["points"])
}

func TestIdempotencyHeader(t *testing.T) {
	a := newTestAPI(t)
	leader := a.token(t, 1, false)

	status, _ := a.do(t, http.MethodPost, "/v1/items/Shield/buy", leader, nil, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, status)
	status, body := a.do(t, http.MethodPost, "/v1/items/Shield/buy", leader, nil, "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(economy.KindInvalidState), body["kind"])

	// Without a key every request is distinct.
	status, _ = a.do(t, http.MethodPost, "/v1/items/Shield/buy", leader, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestGiftValidation(t *testing.T) {
	a := newTestAPI(t)
	leader := a.token(t, 1, false)

	status, _ := a.do(t, http.MethodPost, "/v1/items/Shield/gift", leader, map[string]any{"target": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = a.do(t, http.MethodPost, "/v1/items/Shield/gift", leader, map[string]any{"target": 2, "note": "hi"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodPost, "/v1/items/Shield/buy", leader, nil)
	require.Equal(t, http.StatusOK, status)
	status, body := a.do(t, http.MethodPost, "/v1/items/Shield/gift", leader, map[string]any{"target": 2})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["target_quantity"])

	status, body = a.do(t, http.MethodGet, "/v1/inventory", a.token(t, 2, false), nil)
	require.Equal(t, http.StatusOK, status)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)
}

func TestSuggestions(t *testing.T) {
	a := newTestAPI(t)
	leader := a.token(t, 1, false)

	status, body := a.do(t, http.MethodGet, "/v1/suggest/items?prefix=Sh", leader, nil)
	require.Equal(t, http.StatusOK, status)
	suggestions, _ := body["suggestions"].([]any)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "Shield - Cost: 30", suggestions[0].(map[string]any)["label"])

	status, body = a.do(t, http.MethodGet, "/v1/suggest/items?owned=1", leader, nil)
	require.Equal(t, http.StatusOK, status)
	suggestions, _ = body["suggestions"].([]any)
	assert.Empty(t, suggestions)
}

func TestAdminPools(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, 9, true)

	status, body := a.do(t, http.MethodPost, "/v1/admin/pools", admin, map[string]any{"name": "Harbor", "cap": 100, "roles": []int64{3}})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(economy.PoolCritical), body["status"])

	status, _ = a.do(t, http.MethodPost, "/v1/admin/pools", admin, map[string]any{"name": "Harbor", "cap": 100})
	assert.Equal(t, http.StatusConflict, status)

	status, body = a.do(t, http.MethodPost, "/v1/admin/pools", admin, map[string]any{"name": "Zero", "cap": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(economy.KindCapacityViolation), body["kind"])

	status, body = a.do(t, http.MethodPatch, "/v1/admin/pools/Harbor", admin, map[string]any{"current": 100})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(economy.PoolComplete), body["status"])

	status, body = a.do(t, http.MethodPost, "/v1/admin/pools/Harbor/roles/3", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["added"])
	status, _ = a.do(t, http.MethodPost, "/v1/admin/pools/Harbor/roles/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodGet, "/v1/pools", a.token(t, 2, false), nil)
	require.Equal(t, http.StatusOK, status)
	pools, _ := body["pools"].([]any)
	assert.Len(t, pools, 1)

	status, _ = a.do(t, http.MethodGet, "/v1/pools/Harbor", a.token(t, 2, false), nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = a.do(t, http.MethodDelete, "/v1/admin/pools/Harbor", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Harbor", body["deleted"])
	status, _ = a.do(t, http.MethodGet, "/v1/pools/Harbor", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminUsersAndPoints(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, 9, true)

	status, body := a.do(t, http.MethodPost, "/v1/admin/users/40", admin, nil)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["created"])
	status, _ = a.do(t, http.MethodPost, "/v1/admin/users/40", admin, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodPost, "/v1/admin/users/40/points", admin, map[string]any{"delta": 0})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodPost, "/v1/admin/users/1/points", admin, map[string]any{"delta": -150})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["points"])
	assert.EqualValues(t, 50, body["overflow"])

	status, body = a.do(t, http.MethodGet, "/v1/admin/users/1/points", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["points"])

	status, _ = a.do(t, http.MethodGet, "/v1/admin/users/404/points", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = a.do(t, http.MethodGet, "/v1/admin/users/-1/points", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminCatalogSync(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, 9, true)

	status, body := a.do(t, http.MethodPut, "/v1/admin/catalog/gang", admin, map[string]any{
		"items": []map[string]any{{"name": "Barricade", "cost": 50, "value": 10, "benefit": "defense"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["synced"])

	status, _ = a.do(t, http.MethodPut, "/v1/admin/catalog/gang", admin, map[string]any{
		"items": []map[string]any{{"name": "Broken", "benefit": "teleport"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodPut, "/v1/admin/catalog/guild", admin, map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodGet, "/v1/items?scope=gang", a.token(t, 1, false), nil)
	require.Equal(t, http.StatusOK, status)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)
}

func TestWriteDomainError(t *testing.T) {
	s := &Server{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrapped: %w", economy.ErrTxConflict), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		s.writeDomainError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	s.writeDomainError(rec, economy.ErrTxConflict)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["retryable"])
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("abc"))
}
