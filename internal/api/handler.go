package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/accountsvc/internal/domain"
	"github.com/punchamoorthee/accountsvc/internal/service"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accountsvc_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accountsvc_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accountsvc_transfers_settled_total",
		Help: "Transfers that reached POSTED",
	})
)

type Handler struct {
	store  store.Store
	engine *service.Engine
	ledger *service.LedgerService
	acls   *service.ACLService
	gate   *service.Gate
	logger *slog.Logger
}

func NewHandler(s store.Store, engine *service.Engine, ledger *service.LedgerService,
	acls *service.ACLService, gate *service.Gate, logger *slog.Logger) *Handler {
	return &Handler{store: s, engine: engine, ledger: ledger, acls: acls, gate: gate, logger: logger}
}

// Router wires all routes. Everything under /api/v1 runs behind the
// correlation-id middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(CorrelationID)

	v1.HandleFunc("/transfers", h.InitiateTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}", h.GetTransfer).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/{id}/authorize", h.AuthorizeTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}/post", h.PostTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}/cancel", h.CancelTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}/revert/{versionId}", h.RevertTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}/versions", h.GetTransferVersions).Methods(http.MethodGet)

	v1.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/transfers", h.ListAccountTransfers).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/entries", h.GetAccountEntries).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/acl", h.ListACLs).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/acl", h.GrantACL).Methods(http.MethodPost)
	v1.HandleFunc("/acl/{id}", h.UpdateACL).Methods(http.MethodPut)
	v1.HandleFunc("/acl/{id}", h.RevokeACL).Methods(http.MethodDelete)

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "POST", "/transfers")
		return
	}

	var req service.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/transfers")
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	result, err := h.engine.Initiate(r.Context(), req, actor, correlationIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transfers")
		return
	}

	// Replays answer 200 with the cached result; only a fresh insert is 201.
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%d", result.TransferID))
	h.respondJSON(w, status, result, "POST", "/transfers")
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers/{id}"
	id, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "GET", endpoint)
		return
	}

	result, err := h.engine.GetStatus(r.Context(), id, correlationIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	if err := h.gate.ViewAccount(r.Context(), h.store, result.SourceAccountID, actor, correlationIDFrom(r.Context())); err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, result, "GET", endpoint)
}

func (h *Handler) AuthorizeTransfer(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "/transfers/{id}/authorize", func(id int64, actor domain.Actor, corrID string) (*service.TransferResult, error) {
		return h.engine.Authorize(r.Context(), id, actor, corrID)
	})
}

func (h *Handler) PostTransfer(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "/transfers/{id}/post", func(id int64, actor domain.Actor, corrID string) (*service.TransferResult, error) {
		result, err := h.engine.Post(r.Context(), id, actor, corrID)
		if err == nil {
			transfersSettledTotal.Inc()
		}
		return result, err
	})
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body means cancellation without a reason; the engine decides
	// whether that is acceptable for the transfer's state.
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	h.runTransition(w, r, "/transfers/{id}/cancel", func(id int64, actor domain.Actor, corrID string) (*service.TransferResult, error) {
		return h.engine.Cancel(r.Context(), id, body.Reason, actor, corrID)
	})
}

func (h *Handler) RevertTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers/{id}/revert/{versionId}"
	id, ok := h.pathID(w, r, "id", "POST", endpoint)
	if !ok {
		return
	}
	versionID, ok := h.pathID(w, r, "versionId", "POST", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "POST", endpoint)
		return
	}

	result, err := h.engine.Revert(r.Context(), id, versionID, actor, correlationIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, result, "POST", endpoint)
}

func (h *Handler) GetTransferVersions(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers/{id}/versions"
	id, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	versions, err := h.engine.VersionHistory(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, versions, "GET", endpoint)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}"
	id, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "GET", endpoint)
		return
	}

	corrID := correlationIDFrom(r.Context())
	if err := h.gate.ViewAccount(r.Context(), h.store, id, actor, corrID); err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, account, "GET", endpoint)
}

func (h *Handler) ListAccountTransfers(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/transfers"
	id, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "GET", endpoint)
		return
	}
	if err := h.gate.ViewAccount(r.Context(), h.store, id, actor, correlationIDFrom(r.Context())); err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}

	limit, offset := pagination(r)
	transfers, err := h.engine.TransfersByAccount(r.Context(), id, limit, offset)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, transfers, "GET", endpoint)
}

func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/entries"
	id, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "GET", endpoint)
		return
	}
	if err := h.gate.ViewAccount(r.Context(), h.store, id, actor, correlationIDFrom(r.Context())); err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}

	limit, offset := pagination(r)
	entries, err := h.ledger.EntriesByAccount(r.Context(), h.store, id, limit, offset)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", endpoint)
}

func (h *Handler) ListACLs(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/acl"
	id, ok := h.pathID(w, r, "id", "GET", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "GET", endpoint)
		return
	}
	if err := h.gate.RequireAdmin(actor, correlationIDFrom(r.Context())); err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}

	entries, err := h.acls.ByAccount(r.Context(), h.store, id)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", endpoint)
}

func (h *Handler) GrantACL(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/acl"
	id, ok := h.pathID(w, r, "id", "POST", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "POST", endpoint)
		return
	}

	var body struct {
		UserID     int64             `json:"user_id"`
		Permission domain.Permission `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}

	entry, err := h.acls.Grant(r.Context(), h.store, id, body.UserID, body.Permission, actor, correlationIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, entry, "POST", endpoint)
}

func (h *Handler) UpdateACL(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/acl/{id}"
	id, ok := h.pathID(w, r, "id", "PUT", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "PUT", endpoint)
		return
	}

	var body struct {
		Permission domain.Permission `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", endpoint)
		return
	}

	entry, err := h.acls.UpdatePermission(r.Context(), h.store, id, body.Permission, actor, correlationIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, entry, "PUT", endpoint)
}

func (h *Handler) RevokeACL(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/acl/{id}"
	id, ok := h.pathID(w, r, "id", "DELETE", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "DELETE", endpoint)
		return
	}

	if err := h.acls.Revoke(r.Context(), h.store, id, actor, correlationIDFrom(r.Context())); err != nil {
		h.respondServiceError(w, err, "DELETE", endpoint)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "DELETE", endpoint)
}

// runTransition is the shared skeleton for the POST state-machine endpoints
// that take only a transfer id.
func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, endpoint string,
	fn func(id int64, actor domain.Actor, corrID string) (*service.TransferResult, error)) {

	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	id, ok := h.pathID(w, r, "id", "POST", endpoint)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, err.Error(), "POST", endpoint)
		return
	}

	result, err := fn(id, actor, correlationIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, result, "POST", endpoint)
}

// actorFrom reads the identity the upstream gateway attached. The core never
// parses tokens.
func actorFrom(r *http.Request) (domain.Actor, error) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, errors.New("missing or invalid X-User-ID header")
	}
	var roles []string
	for _, part := range strings.Split(r.Header.Get("X-User-Roles"), ",") {
		if role := strings.ToUpper(strings.TrimSpace(part)); role != "" {
			roles = append(roles, role)
		}
	}
	return domain.Actor{UserID: id, Roles: roles}, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name, method, endpoint string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid "+name+" path parameter", method, endpoint)
		return 0, false
	}
	return id, true
}

// respondServiceError maps the error taxonomy to HTTP in one place.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	var limitErr *domain.LimitExceededError
	var denyErr *domain.AccessDeniedError
	switch {
	case errors.As(err, &limitErr):
		h.respondJSON(w, http.StatusUnprocessableEntity,
			map[string]string{"error": limitErr.Message, "code": limitErr.Code}, method, endpoint)
	case errors.As(err, &denyErr):
		h.respondJSON(w, http.StatusForbidden,
			map[string]string{"error": denyErr.Reason, "correlation_id": denyErr.CorrelationID}, method, endpoint)
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Not Found", method, endpoint)
	case errors.Is(err, domain.ErrIdempotencyConflict):
		h.respondError(w, http.StatusConflict, "Idempotency key reused with a different request", method, endpoint)
	case errors.Is(err, domain.ErrAlreadyExists):
		h.respondError(w, http.StatusConflict, "Already exists", method, endpoint)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.respondError(w, http.StatusUnprocessableEntity, "Insufficient funds", method, endpoint)
	case errors.Is(err, domain.ErrInvalidTransfer):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrLimitExceeded):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	default:
		h.logger.Error("unhandled service error", "method", method, "endpoint", endpoint, "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
