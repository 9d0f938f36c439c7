package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/accountsvc/internal/audit"
	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/service"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

type testServer struct {
	*httptest.Server
	store *store.MemStore
	src   int64
	dst   int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemStore()
	gate := service.NewGate(logger)
	ledger := service.NewLedgerService(logger)
	holds := service.NewHoldService(logger)
	idem := service.NewIdempotencyService(24*time.Hour, logger)
	acls := service.NewACLService(gate, logger)
	engine := service.NewEngine(st, gate, ledger, holds, idem, audit.NewRecorder(),
		service.Limits{
			PerTransaction: decimal.RequireFromString("1000.00"),
			Daily:          decimal.RequireFromString("5000.00"),
		}, logger)
	handler := NewHandler(st, engine, ledger, acls, gate, logger)

	ctx := context.Background()
	src, err := st.CreateAccount(ctx, &domain.Account{
		AccountNumber: "ACC-1", CustomerID: 1,
		Type: domain.AccountTypeSavings, Status: domain.AccountStatusActive,
		Currency: "USD", Balance: decimal.RequireFromString("900.00"), CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	dst, err := st.CreateAccount(ctx, &domain.Account{
		AccountNumber: "ACC-2", CustomerID: 2,
		Type: domain.AccountTypeSavings, Status: domain.AccountStatusActive,
		Currency: "USD", Balance: decimal.Zero, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st, src: src, dst: dst}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "900")
	req.Header.Set("X-User-Roles", "ADMIN")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func transferPayload(src, dst int64, amount string) map[string]any {
	return map[string]any{
		"source_account_id":      src,
		"destination_account_id": dst,
		"amount":                 amount,
		"description":            "rent",
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInitiateTransferEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "250.00"),
		map[string]string{CorrelationHeader: "corr-abc"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "corr-abc", resp.Header.Get(CorrelationHeader))

	var result service.TransferResult
	decodeBody(t, resp, &result)
	assert.Equal(t, domain.TransferStatusRequested, result.Status)
	assert.Equal(t, "corr-abc", result.CorrelationID)
	assert.Equal(t, fmt.Sprintf("/api/v1/transfers/%d", result.TransferID),
		resp.Header.Get("Location"))
}

func TestInitiateMintsCorrelationID(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "10.00"), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(CorrelationHeader))
}

func TestInitiateRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest("POST", s.URL+"/api/v1/transfers", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInitiateBadJSON(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest("POST", s.URL+"/api/v1/transfers", bytes.NewReader([]byte(`{`)))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "900")
	req.Header.Set("X-User-Roles", "ADMIN")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLimitErrorCarriesSubCode(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "1000.01"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, domain.LimitCodePerTx, body["code"])
}

func TestDenialCarriesCorrelationID(t *testing.T) {
	s := newTestServer(t)
	s.store.PutCustomer(5, 500)

	// A customer without a TRANSFER grant on someone else's account.
	resp := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "10.00"),
		map[string]string{"X-User-ID": "500", "X-User-Roles": "CUSTOMER", CorrelationHeader: "corr-deny"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "corr-deny", body["correlation_id"])
	assert.NotEmpty(t, body["error"])
}

func TestIdempotentReplayThroughAPI(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "key-9"}

	first := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "25.00"), headers)
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	var a service.TransferResult
	decodeBody(t, first, &a)

	second := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "25.00"), headers)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	var b service.TransferResult
	decodeBody(t, second, &b)
	assert.Equal(t, a.TransferID, b.TransferID)

	conflict := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "26.00"), headers)
	defer conflict.Body.Close()
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)
}

func TestTransferLifecycleThroughAPI(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "300.00"), nil)
	var created service.TransferResult
	decodeBody(t, resp, &created)

	base := fmt.Sprintf("/api/v1/transfers/%d", created.TransferID)

	resp = s.do(t, "POST", base+"/authorize", nil, nil)
	var authorized service.TransferResult
	decodeBody(t, resp, &authorized)
	assert.Equal(t, domain.TransferStatusAuthorized, authorized.Status)

	resp = s.do(t, "POST", base+"/post", nil, nil)
	var posted service.TransferResult
	decodeBody(t, resp, &posted)
	assert.Equal(t, domain.TransferStatusPosted, posted.Status)
	assert.NotEmpty(t, posted.LedgerTxnID)

	// Posting twice is an invalid transition.
	resp = s.do(t, "POST", base+"/post", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = s.do(t, "GET", base+"/versions", nil, nil)
	var versions []domain.TransferVersion
	decodeBody(t, resp, &versions)
	assert.Len(t, versions, 3)

	resp = s.do(t, "GET", fmt.Sprintf("/api/v1/accounts/%d", s.src), nil, nil)
	var acc domain.Account
	decodeBody(t, resp, &acc)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("600.00")))

	resp = s.do(t, "GET", fmt.Sprintf("/api/v1/accounts/%d/entries", s.src), nil, nil)
	var entries []domain.LedgerEntry
	decodeBody(t, resp, &entries)
	assert.Len(t, entries, 1)
}

func TestCancelThroughAPI(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "POST", "/api/v1/transfers", transferPayload(s.src, s.dst, "40.00"), nil)
	var created service.TransferResult
	decodeBody(t, resp, &created)

	base := fmt.Sprintf("/api/v1/transfers/%d", created.TransferID)
	resp = s.do(t, "POST", base+"/authorize", nil, nil)
	resp.Body.Close()

	// AUTHORIZED cancel without a reason fails.
	resp = s.do(t, "POST", base+"/cancel", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(t, "POST", base+"/cancel", map[string]string{"reason": "wrong amount"}, nil)
	var cancelled service.TransferResult
	decodeBody(t, resp, &cancelled)
	assert.Equal(t, domain.TransferStatusCancelled, cancelled.Status)
}

func TestUnknownTransferIs404(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, "GET", "/api/v1/transfers/424242", nil, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestACLEndpointsAreAdminOnly(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/v1/accounts/%d/acl", s.src)
	grant := map[string]any{"user_id": 500, "permission": "VIEW"}

	resp := s.do(t, "POST", path, grant,
		map[string]string{"X-User-ID": "700", "X-User-Roles": "BANKER"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(t, "POST", path, grant, nil)
	var entry domain.AccessControlEntry
	decodeBody(t, resp, &entry)
	assert.Equal(t, domain.PermissionView, entry.Permission)

	resp = s.do(t, "PUT", fmt.Sprintf("/api/v1/acl/%d", entry.ID),
		map[string]string{"permission": "TRANSFER"}, nil)
	var updated domain.AccessControlEntry
	decodeBody(t, resp, &updated)
	assert.Equal(t, domain.PermissionTransfer, updated.Permission)

	resp = s.do(t, "DELETE", fmt.Sprintf("/api/v1/acl/%d", entry.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(t, "GET", path, nil, nil)
	var listed []domain.AccessControlEntry
	decodeBody(t, resp, &listed)
	assert.Empty(t, listed)
}
