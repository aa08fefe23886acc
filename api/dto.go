/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients
  - *Response: response wrappers

MONEY:
  Amounts travel as integers in the smallest currency unit. Display
  strings are rendered server-side with go-money so every client shows
  the same formatting.

SEE ALSO:
  - handlers.go: uses these types
  - export.go:   CSV rendering of history
*/
package api

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/mirror"
)

// currencyCode is the single currency of the bank-of-record.
const currencyCode = money.INR

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAccountRequest opens a new account.
type CreateAccountRequest struct {
	Name string `json:"name"`
}

// MovementRequest covers deposit and withdrawal bodies.
type MovementRequest struct {
	Amount       int64  `json:"amount"`
	Counterparty string `json:"counterparty_ref,omitempty"`
	Cause        string `json:"cause,omitempty"`
}

// TransferRequest moves funds from a sender to a receiver account number.
type TransferRequest struct {
	SenderID       string `json:"sender_id"`
	ReceiverNumber string `json:"receiver_account_number"`
	Amount         int64  `json:"amount"`
	Counterparty   string `json:"counterparty_ref,omitempty"`
	Cause          string `json:"cause,omitempty"`
}

// ExternalCreditRequest is a deposit initiated by an external payer.
type ExternalCreditRequest struct {
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
	Counterparty  string `json:"counterparty_ref,omitempty"`
	Cause         string `json:"cause,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string `json:"id"`
	Number         string `json:"account_number"`
	Name           string `json:"name"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// RecordDTO represents one transaction-log entry.
type RecordDTO struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Type          string `json:"type"`
	Direction     string `json:"direction"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Counterparty  string `json:"counterparty_ref,omitempty"`
	Cause         string `json:"cause,omitempty"`
	ExternalRef   string `json:"external_reference,omitempty"`
}

// MovementResponse is returned by deposit, withdraw and external credit.
// Mirror is metadata: recorded=false never means the operation failed.
type MovementResponse struct {
	Success bool           `json:"success"`
	Record  RecordDTO      `json:"record"`
	Balance int64          `json:"new_balance"`
	Mirror  mirror.Outcome `json:"mirror"`
}

// TransferResponse is returned by transfer. One mirror outcome per leg.
type TransferResponse struct {
	Success         bool           `json:"success"`
	OutRecord       RecordDTO      `json:"sender_record"`
	InRecord        RecordDTO      `json:"receiver_record"`
	SenderBalance   int64          `json:"sender_balance"`
	ReceiverBalance int64          `json:"receiver_balance"`
	SpendMirror     mirror.Outcome `json:"mirror_spend"`
	CreditMirror    mirror.Outcome `json:"mirror_credit"`
}

// HistoryResponse wraps a page of history entries.
type HistoryResponse struct {
	AccountID string      `json:"account_id"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
	Records   []RecordDTO `json:"records"`
}

// SummaryDTO aggregates an account's activity over a window.
type SummaryDTO struct {
	AccountID    string         `json:"account_id"`
	TotalCredits int64          `json:"total_credits"`
	TotalDebits  int64          `json:"total_debits"`
	NetFlow      int64          `json:"net_flow"`
	CountByType  map[string]int `json:"count_by_type"`
	First        string         `json:"first_record_at,omitempty"`
	Last         string         `json:"last_record_at,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func display(amount int64) string {
	return money.New(amount, currencyCode).Display()
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Number:         a.Number,
		Name:           a.Name,
		Balance:        a.Balance,
		BalanceDisplay: display(a.Balance),
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}

func toAccountDTOs(accounts []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	return dtos
}

func toRecordDTO(r ledger.Record) RecordDTO {
	return RecordDTO{
		ID:            string(r.ID),
		Timestamp:     r.Timestamp.Format(time.RFC3339Nano),
		Type:          string(r.Type),
		Direction:     string(r.Direction()),
		Amount:        r.Amount,
		AmountDisplay: display(r.Amount),
		Counterparty:  r.Counterparty,
		Cause:         r.Cause,
		ExternalRef:   r.ExternalRef,
	}
}

func toEntryDTOs(entries []ledger.Entry) []RecordDTO {
	dtos := make([]RecordDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toRecordDTO(e.Record)
	}
	return dtos
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		AccountID:    string(s.AccountID),
		TotalCredits: s.TotalCredits,
		TotalDebits:  s.TotalDebits,
		NetFlow:      s.NetFlow,
		CountByType:  make(map[string]int, len(s.CountByType)),
	}
	for t, n := range s.CountByType {
		dto.CountByType[string(t)] = n
	}
	if s.First != nil {
		dto.First = s.First.Format(time.RFC3339Nano)
	}
	if s.Last != nil {
		dto.Last = s.Last.Format(time.RFC3339Nano)
	}
	return dto
}
