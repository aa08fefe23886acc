/*
store.go - Persistence interface for accounts and the transaction log

PURPOSE:
  Defines the interface between the engine and the database. One uniform
  store holds every account's balance row and every account's append-only
  record sequence, keyed by account identifier. There is deliberately no
  per-account table or schema: namespacing is a key, not DDL.

APPEND-ONLY CONTRACT:
  The record log supports Append and Scan. The single sanctioned mutation
  is SetExternalRef, which back-fills the mirror reference onto an existing
  record exactly once. No other update, and no delete short of full-account
  teardown, exists in the interface.

ATOMIC UNITS:
  WithTx executes a function against a transactional view of the store.
  The engine uses it so that a balance mutation and its log append(s)
  commit or fail together. Implementations roll back when fn errors.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go:  SQLite with WAL, for production
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Accounts + append-only transaction log
// =============================================================================

type Store interface {
	// CreateAccount persists a new account row. The account number must be
	// unique; implementations surface a conflict as an error.
	CreateAccount(ctx context.Context, a Account) error

	// GetAccount returns the account by identifier.
	// Returns ErrAccountNotFound when the id is unknown.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// GetAccountByNumber resolves the human-facing account number.
	GetAccountByNumber(ctx context.Context, number string) (Account, error)

	// ListAccounts returns all accounts ordered by creation time.
	ListAccounts(ctx context.Context) ([]Account, error)

	// SetBalance overwrites an account's balance. Engine-internal only:
	// callers other than the engine never mutate balances.
	SetBalance(ctx context.Context, id AccountID, balance int64) error

	// SetStatus updates the account lifecycle status.
	SetStatus(ctx context.Context, id AccountID, status AccountStatus) error

	// Append adds a record to its account's log and assigns Record.Seq.
	// The stored record is immutable thereafter (see SetExternalRef).
	Append(ctx context.Context, r Record) (RecordID, error)

	// Scan returns the account's records ordered timestamp descending,
	// ties broken by insertion order (Seq) descending. Never mutates.
	Scan(ctx context.Context, id AccountID, f RecordFilter, p Page) ([]Record, error)

	// SetExternalRef back-fills the mirror-assigned reference onto one
	// record. The only permitted record mutation.
	SetExternalRef(ctx context.Context, id RecordID, ref string) error

	// DeleteAccount removes the account row and destroys its entire
	// record sequence. Administrative teardown only.
	DeleteAccount(ctx context.Context, id AccountID) error

	// WithTx executes fn against a transactional view. If fn returns an
	// error the unit is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SCAN PARAMETERS
// =============================================================================

// RecordFilter narrows a Scan. Zero value means no filtering.
type RecordFilter struct {
	Family TypeFamily
	Start  *time.Time // inclusive lower bound
	End    *time.Time // inclusive upper bound
}

// Page selects a window of an ordered scan. Values are assumed already
// clamped by the caller (see Query.clampPage).
type Page struct {
	Number int // 1-based
	Size   int
}

// Offset returns the number of records to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }
