/*
Package ledger is the core bank-of-record engine.

PURPOSE:
  This package contains the authoritative data model and algorithms for
  moving money between accounts: balance mutation, per-account append-only
  transaction logging, and read-only query projections. The external mirror
  (see the mirror package) is a best-effort audit trail; nothing in this
  package ever depends on it for correctness.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: balance row, single source of truth for spendable funds
  - Record: an immutable transaction-log entry (one per money-movement leg)
  - RecordType / Direction: classification of log entries
  - AccountID / RecordID: type-safe identifiers (ULIDs)

DESIGN PRINCIPLES:
  1. Immutability: records are never modified after append, with a single
     exception - the external mirror reference back-fill
  2. Integer money: amounts are int64 in the smallest currency unit; no
     floating point anywhere near a balance
  3. Type safety: strong typing for IDs prevents mixing accounts and records
  4. Attribution: every record carries its counterparty and cause so the
     history is self-explanatory

SEE ALSO:
  - engine.go: the operations that produce records
  - store.go: persistence interface
  - query.go: history and summary projections
*/
package ledger

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type RecordID string

// NewAccountID returns a fresh ULID-based account identifier.
func NewAccountID() AccountID {
	return AccountID("acc_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// NewRecordID returns a fresh ULID-based record identifier.
func NewRecordID() RecordID {
	return RecordID("rec_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// =============================================================================
// ACCOUNT - Balance row and identity
// =============================================================================

type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusClosed AccountStatus = "closed"
)

// Account is the single source of truth for spendable funds.
//
// INVARIANT: Balance >= 0 at every observable state. Balance is mutated only
// by the Engine, under the account's own serialization scope.
type Account struct {
	ID        AccountID
	Number    string // 8-digit human-facing handle, unique
	Name      string
	Balance   int64 // smallest currency unit
	Status    AccountStatus
	CreatedAt time.Time
}

// Active reports whether the account can participate in money movement.
func (a *Account) Active() bool { return a.Status == StatusActive }

// =============================================================================
// RECORD - One immutable transaction-log entry
// =============================================================================

type RecordType string

const (
	TypeDeposit        RecordType = "deposit"
	TypeWithdrawal     RecordType = "withdrawal"
	TypeTransferOut    RecordType = "transfer_out"
	TypeTransferIn     RecordType = "transfer_in"
	TypeExternalCredit RecordType = "external_credit"
)

// Direction is the derived credit/debit classification of a record.
type Direction string

const (
	DirCredit Direction = "credit"
	DirDebit  Direction = "debit"
)

// DirectionOf classifies a record type. Pure function:
// deposits, incoming transfers and external credits grow the balance,
// everything else shrinks it.
func DirectionOf(t RecordType) Direction {
	switch t {
	case TypeDeposit, TypeTransferIn, TypeExternalCredit:
		return DirCredit
	default:
		return DirDebit
	}
}

// TypeFamily groups record types for history filtering. Callers filter by
// family ("deposit", "withdrawal", "transfer"), never by exact stored string.
type TypeFamily string

const (
	FamilyAll        TypeFamily = ""
	FamilyDeposit    TypeFamily = "deposit"
	FamilyWithdrawal TypeFamily = "withdrawal"
	FamilyTransfer   TypeFamily = "transfer"
)

// Matches reports whether a record type belongs to the family.
func (f TypeFamily) Matches(t RecordType) bool {
	switch f {
	case FamilyAll:
		return true
	case FamilyDeposit:
		return t == TypeDeposit || t == TypeExternalCredit
	case FamilyWithdrawal:
		return t == TypeWithdrawal
	case FamilyTransfer:
		return t == TypeTransferIn || t == TypeTransferOut
	default:
		return false
	}
}

// ParseTypeFamily validates a caller-supplied family string.
func ParseTypeFamily(s string) (TypeFamily, error) {
	switch TypeFamily(s) {
	case FamilyAll, FamilyDeposit, FamilyWithdrawal, FamilyTransfer:
		return TypeFamily(s), nil
	}
	return FamilyAll, fmt.Errorf("%w: unknown type family %q", ErrValidation, s)
}

// Record is one entry in an account's append-only transaction log.
//
// INVARIANTS:
//   - Amount > 0 (direction lives in Type, never in the sign)
//   - Immutable once appended; the sole permitted mutation is the
//     ExternalRef back-fill after the mirror call resolves
//   - Owned exclusively by its account's log; a transfer writes one record
//     per participant, never a shared one
type Record struct {
	ID        RecordID
	AccountID AccountID
	Seq       uint64 // per-account insertion order, assigned by the store
	Timestamp time.Time
	Type      RecordType
	Amount    int64 // always positive

	// Counterparty is an opaque reference to the other party (donor,
	// payer, or for transfer legs the other account's identity).
	Counterparty string

	// Cause is an optional free-text category ("salary", "rent", ...).
	Cause string

	// ExternalRef is the mirror-assigned reference, back-filled after the
	// mirror submission resolves. Empty when the mirror never confirmed.
	ExternalRef string
}

// Direction returns the derived credit/debit classification.
func (r Record) Direction() Direction { return DirectionOf(r.Type) }
