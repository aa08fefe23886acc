/*
Package sqlite provides the SQLite-backed ledger.Store implementation.

PURPOSE:
  Production persistence for accounts and the transaction log. One uniform
  records table keyed by account_id holds every account's sequence - no
  per-account tables, no dynamic identifiers in SQL.

APPEND-ONLY ENFORCEMENT:
  The records table sees INSERTs, a single narrow UPDATE of external_ref
  (the mirror back-fill), and DELETE only through full-account teardown.
  Nothing else touches stored records.

KEY TABLES:
  accounts  balance row + identity per account
  records   immutable transaction log, (account_id, seq) unique

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

CONCURRENCY:
  A sync.RWMutex serializes writers. The engine additionally serializes
  per account; the mutex here protects the connection-level invariants
  (seq assignment inside WithTx units).

USAGE:
  st, err := sqlite.New("./data/bank.db")   // or ":memory:"
  defer st.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/bank-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and plays
	// well with SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: queries{db: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id         TEXT PRIMARY KEY,
		number     TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		status     TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);

	-- Append-only transaction log. One uniform table for every account;
	-- the account_id column is the namespace.
	CREATE TABLE IF NOT EXISTS records (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		ts           INTEGER NOT NULL,
		type         TEXT NOT NULL,
		amount       INTEGER NOT NULL CHECK (amount > 0),
		counterparty TEXT NOT NULL DEFAULT '',
		cause        TEXT NOT NULL DEFAULT '',
		external_ref TEXT NOT NULL DEFAULT '',
		UNIQUE(account_id, seq)
	);

	-- History scans are newest-first per account (hot path).
	CREATE INDEX IF NOT EXISTS idx_records_account_ts
		ON records(account_id, ts DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_records_type
		ON records(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER.STORE - Reads
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getAccount(ctx, id)
}

func (s *Store) GetAccountByNumber(ctx context.Context, number string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getAccountByNumber(ctx, number)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listAccounts(ctx)
}

func (s *Store) Scan(ctx context.Context, id ledger.AccountID, f ledger.RecordFilter, p ledger.Page) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.scan(ctx, id, f, p)
}

// =============================================================================
// LEDGER.STORE - Writes
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.createAccount(ctx, a)
}

func (s *Store) SetBalance(ctx context.Context, id ledger.AccountID, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.setBalance(ctx, id, balance)
}

func (s *Store) SetStatus(ctx context.Context, id ledger.AccountID, status ledger.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.setStatus(ctx, id, status)
}

func (s *Store) Append(ctx context.Context, r ledger.Record) (ledger.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.append(ctx, r)
}

func (s *Store) SetExternalRef(ctx context.Context, id ledger.RecordID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.setExternalRef(ctx, id, ref)
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.deleteAccount(ctx, id)
}

// WithTx executes fn against a transactional view. Rolls back when fn
// errors, commits otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{q: queries{db: tx}}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore adapts queries-over-sql.Tx to the ledger.Store interface.
type txStore struct {
	q queries
}

func (t *txStore) CreateAccount(ctx context.Context, a ledger.Account) error {
	return t.q.createAccount(ctx, a)
}
func (t *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return t.q.getAccount(ctx, id)
}
func (t *txStore) GetAccountByNumber(ctx context.Context, number string) (ledger.Account, error) {
	return t.q.getAccountByNumber(ctx, number)
}
func (t *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return t.q.listAccounts(ctx)
}
func (t *txStore) SetBalance(ctx context.Context, id ledger.AccountID, balance int64) error {
	return t.q.setBalance(ctx, id, balance)
}
func (t *txStore) SetStatus(ctx context.Context, id ledger.AccountID, status ledger.AccountStatus) error {
	return t.q.setStatus(ctx, id, status)
}
func (t *txStore) Append(ctx context.Context, r ledger.Record) (ledger.RecordID, error) {
	return t.q.append(ctx, r)
}
func (t *txStore) Scan(ctx context.Context, id ledger.AccountID, f ledger.RecordFilter, p ledger.Page) ([]ledger.Record, error) {
	return t.q.scan(ctx, id, f, p)
}
func (t *txStore) SetExternalRef(ctx context.Context, id ledger.RecordID, ref string) error {
	return t.q.setExternalRef(ctx, id, ref)
}
func (t *txStore) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return t.q.deleteAccount(ctx, id)
}
func (t *txStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	// Already inside the unit; nesting just runs the function.
	return fn(t)
}

// =============================================================================
// QUERIES - Shared between the connection and transactional views
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

func (q queries) createAccount(ctx context.Context, a ledger.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, number, name, balance, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Number, a.Name, a.Balance, a.Status, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateNumber
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (q queries) getAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, number, name, balance, status, created_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (q queries) getAccountByNumber(ctx context.Context, number string) (ledger.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, number, name, balance, status, created_at
		FROM accounts WHERE number = ?`, number)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var a ledger.Account
	var createdAt int64
	err := row.Scan(&a.ID, &a.Number, &a.Name, &a.Balance, &a.Status, &createdAt)
	if err == sql.ErrNoRows {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return a, nil
}

func (q queries) listAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, number, name, balance, status, created_at
		FROM accounts ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Number, &a.Name, &a.Balance, &a.Status, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) setBalance(ctx context.Context, id ledger.AccountID, balance int64) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, balance, id)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (q queries) setStatus(ctx context.Context, id ledger.AccountID, status ledger.AccountStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (q queries) append(ctx context.Context, r ledger.Record) (ledger.RecordID, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO records (id, account_id, seq, ts, type, amount, counterparty, cause, external_ref)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?
		FROM records WHERE account_id = ?`,
		r.ID, r.AccountID, r.Timestamp.UnixNano(), r.Type, r.Amount,
		r.Counterparty, r.Cause, r.ExternalRef, r.AccountID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to append record: %w", err)
	}
	return r.ID, nil
}

func (q queries) scan(ctx context.Context, id ledger.AccountID, f ledger.RecordFilter, p ledger.Page) ([]ledger.Record, error) {
	query := `
		SELECT id, account_id, seq, ts, type, amount, counterparty, cause, external_ref
		FROM records WHERE account_id = ?`
	args := []any{id}

	if types := familyTypes(f.Family); len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	if f.Start != nil {
		query += ` AND ts >= ?`
		args = append(args, f.Start.UnixNano())
	}
	if f.End != nil {
		query += ` AND ts <= ?`
		args = append(args, f.End.UnixNano())
	}
	query += ` ORDER BY ts DESC, seq DESC LIMIT ? OFFSET ?`
	args = append(args, p.Size, p.Offset())

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		var r ledger.Record
		var ts int64
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Seq, &ts, &r.Type, &r.Amount,
			&r.Counterparty, &r.Cause, &r.ExternalRef); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func familyTypes(f ledger.TypeFamily) []ledger.RecordType {
	switch f {
	case ledger.FamilyDeposit:
		return []ledger.RecordType{ledger.TypeDeposit, ledger.TypeExternalCredit}
	case ledger.FamilyWithdrawal:
		return []ledger.RecordType{ledger.TypeWithdrawal}
	case ledger.FamilyTransfer:
		return []ledger.RecordType{ledger.TypeTransferIn, ledger.TypeTransferOut}
	default:
		return nil
	}
}

func (q queries) setExternalRef(ctx context.Context, id ledger.RecordID, ref string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE records SET external_ref = ? WHERE id = ?`, ref, id)
	if err != nil {
		return fmt.Errorf("failed to set external ref: %w", err)
	}
	return requireRow(res, ledger.ErrRecordNotFound)
}

func (q queries) deleteAccount(ctx context.Context, id ledger.AccountID) error {
	// ON DELETE CASCADE destroys the record sequence with the account.
	res, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
