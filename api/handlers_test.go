package api_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-ledger/api"
	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/ledger/store"
	"github.com/warp/bank-ledger/mirror"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T, stub *mirror.Stub) http.Handler {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, stub)
	query := ledger.NewQuery(mem)
	return api.NewServer(api.NewHandler(engine, query, testAdminToken), 0).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func createTestAccount(t *testing.T, h http.Handler, name string) api.AccountDTO {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/accounts", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a api.AccountDTO
	decode(t, w, &a)
	return a
}

func deposit(t *testing.T, h http.Handler, id string, amount int64) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+id+"/deposit",
		map[string]any{"amount": amount, "cause": "opening"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAPI_CreateAndGetAccount(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})

	a := createTestAccount(t, h, "Asha Nair")
	assert.Equal(t, "Asha Nair", a.Name)
	assert.Equal(t, "active", a.Status)
	assert.Len(t, a.Number, 8)
	assert.Contains(t, a.BalanceDisplay, "0.00")

	w := doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/accounts/acc_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var e api.ErrorResponse
	decode(t, w, &e)
	assert.Equal(t, "not_found", e.Code)
}

func TestAPI_CreateAccount_BlankName(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	w := doJSON(t, h, http.MethodPost, "/api/accounts", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_CloseAccount(t *testing.T) {
	// GIVEN: A funded account
	// WHEN: Closing it
	// THEN: It rejects movement but its history stays readable

	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")
	deposit(t, h, a.ID, 100_00)

	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var closed api.AccountDTO
	decode(t, w, &closed)
	assert.Equal(t, "closed", closed.Status)

	w = doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/deposit",
		map[string]any{"amount": 10_00})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res api.HistoryResponse
	decode(t, w, &res)
	assert.Len(t, res.Records, 1)
}

func TestAPI_GetBalance(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")
	deposit(t, h, a.ID, 1500_50)

	w := doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, float64(1500_50), body["balance"])
	assert.Contains(t, body["balance_display"], "1,500.50")
}

// =============================================================================
// MOVEMENT ENVELOPES
// =============================================================================

func TestAPI_Deposit_Envelope(t *testing.T) {
	// The response carries the appended record, the new balance and the
	// mirror outcome as a sub-object.
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")

	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/deposit",
		map[string]any{"amount": 2500_00, "counterparty_ref": "payroll", "cause": "salary"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res api.MovementResponse
	decode(t, w, &res)
	assert.True(t, res.Success)
	assert.Equal(t, int64(2500_00), res.Balance)
	assert.Equal(t, "deposit", res.Record.Type)
	assert.Equal(t, "credit", res.Record.Direction)
	assert.True(t, res.Mirror.Recorded)
	assert.NotEmpty(t, res.Mirror.SequenceID)
}

func TestAPI_Deposit_MirrorDown_StillSucceeds(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{Mode: mirror.StubTimeout})
	a := createTestAccount(t, h, "Asha")

	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/deposit",
		map[string]any{"amount": 100_00})
	require.Equal(t, http.StatusOK, w.Code)

	var res api.MovementResponse
	decode(t, w, &res)
	assert.True(t, res.Success, "mirror failure never fails the operation")
	assert.False(t, res.Mirror.Recorded)
	require.NotNil(t, res.Mirror.Err)
	assert.Equal(t, mirror.KindTimeout, res.Mirror.Err.Kind)
}

func TestAPI_Withdraw_InsufficientFunds_422(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")
	deposit(t, h, a.ID, 50_00)

	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/withdraw",
		map[string]any{"amount": 80_00})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var e api.ErrorResponse
	decode(t, w, &e)
	assert.Equal(t, "insufficient_funds", e.Code)
	details, ok := e.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(50_00), details["available"])
	assert.Equal(t, float64(80_00), details["requested"])
}

func TestAPI_Deposit_InvalidAmount_400(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")

	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/deposit",
		map[string]any{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/deposit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty body is a bad request")
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestAPI_Transfer(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	sender := createTestAccount(t, h, "Asha")
	receiver := createTestAccount(t, h, "Rohan")
	deposit(t, h, sender.ID, 500_00)

	w := doJSON(t, h, http.MethodPost, "/api/transfers", map[string]any{
		"sender_id":               sender.ID,
		"receiver_account_number": receiver.Number,
		"amount":                  200_00,
		"cause":                   "rent share",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res api.TransferResponse
	decode(t, w, &res)
	assert.Equal(t, int64(300_00), res.SenderBalance)
	assert.Equal(t, int64(200_00), res.ReceiverBalance)
	assert.Equal(t, "transfer_out", res.OutRecord.Type)
	assert.Equal(t, "transfer_in", res.InRecord.Type)
	assert.Equal(t, sender.ID, res.InRecord.Counterparty,
		"receiver's record names the sender's identity")
	assert.True(t, res.SpendMirror.Recorded)
	assert.True(t, res.CreditMirror.Recorded)
}

func TestAPI_Transfer_SelfTransfer_409(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")
	deposit(t, h, a.ID, 100_00)

	w := doJSON(t, h, http.MethodPost, "/api/transfers", map[string]any{
		"sender_id":               a.ID,
		"receiver_account_number": a.Number,
		"amount":                  10_00,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_Transfer_UnknownReceiver_404(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")
	deposit(t, h, a.ID, 100_00)

	w := doJSON(t, h, http.MethodPost, "/api/transfers", map[string]any{
		"sender_id":               a.ID,
		"receiver_account_number": "99999999",
		"amount":                  10_00,
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	var e api.ErrorResponse
	decode(t, w, &e)
	assert.Contains(t, e.Error, "receiver")
}

// =============================================================================
// EXTERNAL CREDITS
// =============================================================================

func TestAPI_ExternalCredit(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")

	w := doJSON(t, h, http.MethodPost, "/api/credits", map[string]any{
		"account_number":   a.Number,
		"amount":           300_00,
		"counterparty_ref": "ngo-grants",
		"cause":            "donation",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res api.MovementResponse
	decode(t, w, &res)
	assert.Equal(t, "external_credit", res.Record.Type)
	assert.Equal(t, "credit", res.Record.Direction)
	assert.Equal(t, int64(300_00), res.Balance)
}

// =============================================================================
// HISTORY, SUMMARY, EXPORT
// =============================================================================

func seedActivity(t *testing.T, h http.Handler) api.AccountDTO {
	t.Helper()
	a := createTestAccount(t, h, "Asha")
	deposit(t, h, a.ID, 1000_00)
	w := doJSON(t, h, http.MethodPost, "/api/accounts/"+a.ID+"/withdraw",
		map[string]any{"amount": 250_00, "cause": "cash"})
	require.Equal(t, http.StatusOK, w.Code)
	return a
}

func TestAPI_History_FilterAndPaging(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := seedActivity(t, h)

	w := doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res api.HistoryResponse
	decode(t, w, &res)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 20, res.PageSize, "defaults applied")
	require.Len(t, res.Records, 2)
	assert.Equal(t, "withdrawal", res.Records[0].Type, "newest first")

	w = doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/transactions?type=deposit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "deposit", res.Records[0].Type)

	w = doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/transactions?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/transactions?page_size=5000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.Equal(t, 100, res.PageSize, "oversized page size clamped")
}

func TestAPI_Summary(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := seedActivity(t, h)

	w := doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res api.SummaryDTO
	decode(t, w, &res)
	assert.Equal(t, int64(1000_00), res.TotalCredits)
	assert.Equal(t, int64(250_00), res.TotalDebits)
	assert.Equal(t, int64(750_00), res.NetFlow)
	assert.Equal(t, 1, res.CountByType["deposit"])
	assert.Equal(t, 1, res.CountByType["withdrawal"])
}

func TestAPI_ExportCSV(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := seedActivity(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/"+a.ID+"/transactions/export", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two records")
	assert.Equal(t, "record_id", rows[0][0])
	assert.Equal(t, "withdrawal", rows[1][3])
	assert.Equal(t, "250.00", rows[1][5], "amounts exported in major units")
	assert.Equal(t, "1000.00", rows[2][5])
}

func TestAPI_ExportCSV_UnknownAccount_404(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	w := doJSON(t, h, http.MethodGet, "/api/accounts/acc_missing/transactions/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// MIRROR STATUS, ADMIN, HEALTH
// =============================================================================

func TestAPI_MirrorStatus(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	w := doJSON(t, h, http.MethodGet, "/api/mirror/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var st mirror.Status
	decode(t, w, &st)
	assert.True(t, st.Connected)
}

func TestAPI_DeleteAccount_AdminGate(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	a := createTestAccount(t, h, "Asha")

	// No token: forbidden.
	w := doJSON(t, h, http.MethodDelete, "/api/admin/accounts/"+a.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Wrong token: forbidden.
	req := httptest.NewRequest(http.MethodDelete, "/api/admin/accounts/"+a.ID, nil)
	req.Header.Set("X-Admin-Token", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Correct token: the account and its history are destroyed.
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/accounts/"+a.ID, nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	r := doJSON(t, h, http.MethodGet, "/api/accounts/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, r.Code)
}

func TestAPI_Healthz(t *testing.T) {
	h := newTestServer(t, &mirror.Stub{})
	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
