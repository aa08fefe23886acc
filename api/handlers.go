/*
handlers.go - HTTP API handlers for the bank-of-record

PURPOSE:
  Exposes the ledger engine and query service over REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                    Create account
    GET    /api/accounts                    List accounts
    GET    /api/accounts/{id}               Account details
    POST   /api/accounts/{id}/close         Close (history survives)
    GET    /api/accounts/{id}/balance       Balance only

  Money movement:
    POST   /api/accounts/{id}/deposit       Deposit
    POST   /api/accounts/{id}/withdraw      Withdraw
    POST   /api/transfers                   Transfer by receiver number
    POST   /api/credits                     External credit by number

  Queries:
    GET    /api/accounts/{id}/transactions  Filtered, paginated history
    GET    /api/accounts/{id}/transactions/export  CSV download
    GET    /api/accounts/{id}/summary       Aggregate summary

  Operations:
    GET    /api/mirror/status               Mirror session info
    DELETE /api/admin/accounts/{id}         Administrative teardown

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: validation errors, invalid input
  - 404: unknown account / account number
  - 409: self transfer
  - 422: insufficient funds
  - 503: mirror unavailable (strict mode only)
  - 500: internal errors
  Mirror failures are never errors; they ride along in the mirror
  sub-object of a 200 response.

SEE ALSO:
  - dto.go:    request/response structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Query  *ledger.Query

	// AdminToken gates teardown. Empty disables the admin surface.
	AdminToken string
}

func NewHandler(engine *ledger.Engine, query *ledger.Query, adminToken string) *Handler {
	return &Handler{Engine: engine, Query: query, AdminToken: adminToken}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}

	a, err := h.Engine.CreateAccount(r.Context(), req.Name)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, toAccountDTO(a))
}

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Query.Accounts(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toAccountDTOs(accounts))
}

// GetAccount returns one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Query.Account(r.Context(), accountID(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toAccountDTO(a))
}

// GetBalance returns just the balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	a, err := h.Query.Account(r.Context(), accountID(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"account_id":      string(a.ID),
		"balance":         a.Balance,
		"balance_display": display(a.Balance),
	})
}

// CloseAccount marks the account closed. History stays readable; all
// money movement is rejected from here on.
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.CloseAccount(r.Context(), accountID(r)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	a, err := h.Query.Account(r.Context(), accountID(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toAccountDTO(a))
}

// =============================================================================
// MONEY MOVEMENT HANDLERS
// =============================================================================

// Deposit credits the account.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}

	res, err := h.Engine.Deposit(r.Context(), accountID(r), req.Amount, req.Counterparty, req.Cause)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, movementResponse(res))
}

// Withdraw debits the account.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}

	res, err := h.Engine.Withdraw(r.Context(), accountID(r), req.Amount, req.Counterparty, req.Cause)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, movementResponse(res))
}

// Transfer moves funds between two accounts.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}
	if req.SenderID == "" || req.ReceiverNumber == "" {
		respondError(w, r, http.StatusBadRequest, "sender_id and receiver_account_number are required", "bad_request")
		return
	}

	res, err := h.Engine.Transfer(r.Context(),
		ledger.AccountID(req.SenderID), req.ReceiverNumber, req.Amount, req.Counterparty, req.Cause)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, TransferResponse{
		Success:         true,
		OutRecord:       toRecordDTO(res.OutRecord),
		InRecord:        toRecordDTO(res.InRecord),
		SenderBalance:   res.SenderBalance,
		ReceiverBalance: res.ReceiverBalance,
		SpendMirror:     res.SpendMirror,
		CreditMirror:    res.CreditMirror,
	})
}

// ExternalCredit records a deposit initiated by an external payer.
func (h *Handler) ExternalCredit(w http.ResponseWriter, r *http.Request) {
	var req ExternalCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}
	if req.AccountNumber == "" {
		respondError(w, r, http.StatusBadRequest, "account_number is required", "bad_request")
		return
	}

	res, err := h.Engine.ExternalCredit(r.Context(), req.AccountNumber, req.Amount, req.Counterparty, req.Cause)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, movementResponse(res))
}

func movementResponse(res ledger.OpResult) MovementResponse {
	return MovementResponse{
		Success: true,
		Record:  toRecordDTO(res.Record),
		Balance: res.Balance,
		Mirror:  res.Mirror,
	}
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// GetHistory returns the filtered, paginated transaction history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}

	entries, err := h.Query.History(r.Context(), accountID(r), filter)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	respondJSON(w, r, http.StatusOK, HistoryResponse{
		AccountID: string(accountID(r)),
		Page:      page,
		PageSize:  clampedSize(filter.PageSize),
		Records:   toEntryDTOs(entries),
	})
}

// GetSummary returns aggregate totals over a window.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	start, err := timeParam(r, "start", false)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}
	end, err := timeParam(r, "end", true)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}

	sum, err := h.Query.Summarize(r.Context(), accountID(r), start, end)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toSummaryDTO(sum))
}

// MirrorStatus reports the external ledger session.
func (h *Handler) MirrorStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, h.Engine.MirrorStatus(r.Context()))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// DeleteAccount destroys an account and its whole transaction log.
// Authorization is out of band: the caller presents the deployment's
// admin token.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if h.AdminToken == "" || r.Header.Get("X-Admin-Token") != h.AdminToken {
		respondError(w, r, http.StatusForbidden, "admin authorization required", "forbidden")
		return
	}

	if err := h.Engine.DeleteAccount(r.Context(), accountID(r)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"success": true})
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

func accountID(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

func historyFilter(r *http.Request) (ledger.HistoryFilter, error) {
	var f ledger.HistoryFilter

	start, err := timeParam(r, "start", false)
	if err != nil {
		return f, err
	}
	end, err := timeParam(r, "end", true)
	if err != nil {
		return f, err
	}
	f.Start, f.End = start, end

	if v := r.URL.Query().Get("type"); v != "" {
		family, err := ledger.ParseTypeFamily(v)
		if err != nil {
			return f, err
		}
		f.Family = family
	}

	// Non-numeric page values fall back to defaults; range clamping is
	// the query service's job.
	f.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	f.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	return f, nil
}

// timeParam accepts RFC3339 or a bare date. Bare end dates extend to the
// end of the day so the bound stays inclusive.
func timeParam(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, errors.New(name + " must be RFC3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	t = t.UTC()
	return &t, nil
}

func clampedSize(size int) int {
	if size < 1 {
		return ledger.DefaultPageSize
	}
	if size > ledger.MaxPageSize {
		return ledger.MaxPageSize
	}
	return size
}

// =============================================================================
// RESPONSES
// =============================================================================

func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	metrics.HTTPRequests.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	respondJSON(w, r, status, ErrorResponse{Error: msg, Code: code})
}

// respondDomainError maps ledger errors onto the HTTP status taxonomy.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrSelfTransfer):
		respondError(w, r, http.StatusConflict, err.Error(), "self_transfer")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		var ife *ledger.InsufficientFundsError
		resp := ErrorResponse{Error: err.Error(), Code: "insufficient_funds"}
		if errors.As(err, &ife) {
			resp.Details = map[string]int64{"available": ife.Available, "requested": ife.Requested}
		}
		respondJSON(w, r, http.StatusUnprocessableEntity, resp)
	case ledger.IsNotFound(err):
		respondError(w, r, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, ledger.ErrMirrorUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, err.Error(), "mirror_unavailable")
	case ledger.IsClientError(err):
		respondError(w, r, http.StatusBadRequest, err.Error(), "validation")
	default:
		respondError(w, r, http.StatusInternalServerError, "internal error", "internal")
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
