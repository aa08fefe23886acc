// Package store provides the in-memory ledger.Store implementation,
// used by tests and development mode.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/bank-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]ledger.Account
	byNumber map[string]ledger.AccountID
	records  map[ledger.AccountID][]ledger.Record
	seq      map[ledger.AccountID]uint64
	byRecord map[ledger.RecordID]ledger.AccountID
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		byNumber: make(map[string]ledger.AccountID),
		records:  make(map[ledger.AccountID][]ledger.Record),
		seq:      make(map[ledger.AccountID]uint64),
		byRecord: make(map[ledger.RecordID]ledger.AccountID),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a ledger.Account) error {
	if _, taken := m.byNumber[a.Number]; taken {
		return ledger.ErrDuplicateNumber
	}
	m.accounts[a.ID] = a
	m.byNumber[a.Number] = a.ID
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id ledger.AccountID) (ledger.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) GetAccountByNumber(_ context.Context, number string) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byNumber[number]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return m.accounts[id], nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SetBalance(_ context.Context, id ledger.AccountID, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBalanceLocked(id, balance)
}

func (m *Memory) setBalanceLocked(id ledger.AccountID, balance int64) error {
	a, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Balance = balance
	m.accounts[id] = a
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id ledger.AccountID, status ledger.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setStatusLocked(id, status)
}

func (m *Memory) setStatusLocked(id ledger.AccountID, status ledger.AccountStatus) error {
	a, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Status = status
	m.accounts[id] = a
	return nil
}

func (m *Memory) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAccountLocked(id)
}

func (m *Memory) deleteAccountLocked(id ledger.AccountID) error {
	a, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	for _, r := range m.records[id] {
		delete(m.byRecord, r.ID)
	}
	delete(m.records, id)
	delete(m.seq, id)
	delete(m.byNumber, a.Number)
	delete(m.accounts, id)
	return nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, r ledger.Record) (ledger.RecordID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(r)
}

func (m *Memory) appendLocked(r ledger.Record) (ledger.RecordID, error) {
	if _, ok := m.accounts[r.AccountID]; !ok {
		return "", ledger.ErrAccountNotFound
	}
	m.seq[r.AccountID]++
	r.Seq = m.seq[r.AccountID]
	m.records[r.AccountID] = append(m.records[r.AccountID], r)
	m.byRecord[r.ID] = r.AccountID
	return r.ID, nil
}

func (m *Memory) Scan(_ context.Context, id ledger.AccountID, f ledger.RecordFilter, p ledger.Page) ([]ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanLocked(id, f, p)
}

func (m *Memory) scanLocked(id ledger.AccountID, f ledger.RecordFilter, p ledger.Page) ([]ledger.Record, error) {
	var matched []ledger.Record
	for _, r := range m.records[id] {
		if !f.Family.Matches(r.Type) {
			continue
		}
		if f.Start != nil && r.Timestamp.Before(*f.Start) {
			continue
		}
		if f.End != nil && r.Timestamp.After(*f.End) {
			continue
		}
		matched = append(matched, r)
	}

	// Newest first; equal stamps resolved by insertion order.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Seq > matched[j].Seq
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	off := p.Offset()
	if off >= len(matched) {
		return nil, nil
	}
	end := off + p.Size
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]ledger.Record, end-off)
	copy(out, matched[off:end])
	return out, nil
}

func (m *Memory) SetExternalRef(_ context.Context, id ledger.RecordID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setExternalRefLocked(id, ref)
}

func (m *Memory) setExternalRefLocked(id ledger.RecordID, ref string) error {
	acctID, ok := m.byRecord[id]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	recs := m.records[acctID]
	for i := range recs {
		if recs[i].ID == id {
			recs[i].ExternalRef = ref
			return nil
		}
	}
	return ledger.ErrRecordNotFound
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

// WithTx simulates a transaction with a snapshot + rollback on error.
// The store mutex is held for the whole unit, matching the engine's
// requirement that a balance check-then-update is never interleaved.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[ledger.AccountID]ledger.Account
	byNumber map[string]ledger.AccountID
	records  map[ledger.AccountID][]ledger.Record
	seq      map[ledger.AccountID]uint64
	byRecord map[ledger.RecordID]ledger.AccountID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts: make(map[ledger.AccountID]ledger.Account, len(m.accounts)),
		byNumber: make(map[string]ledger.AccountID, len(m.byNumber)),
		records:  make(map[ledger.AccountID][]ledger.Record, len(m.records)),
		seq:      make(map[ledger.AccountID]uint64, len(m.seq)),
		byRecord: make(map[ledger.RecordID]ledger.AccountID, len(m.byRecord)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.byNumber {
		s.byNumber[k] = v
	}
	for k, v := range m.records {
		s.records[k] = append([]ledger.Record{}, v...)
	}
	for k, v := range m.seq {
		s.seq[k] = v
	}
	for k, v := range m.byRecord {
		s.byRecord[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.byNumber = s.byNumber
	m.records = s.records
	m.seq = s.seq
	m.byRecord = s.byRecord
}

// txView routes Store calls back to the parent without re-locking.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateAccount(_ context.Context, a ledger.Account) error {
	return tv.parent.createAccountLocked(a)
}

func (tv *txView) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txView) GetAccountByNumber(_ context.Context, number string) (ledger.Account, error) {
	id, ok := tv.parent.byNumber[number]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return tv.parent.accounts[id], nil
}

func (tv *txView) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(tv.parent.accounts))
	for _, a := range tv.parent.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (tv *txView) SetBalance(_ context.Context, id ledger.AccountID, balance int64) error {
	return tv.parent.setBalanceLocked(id, balance)
}

func (tv *txView) SetStatus(_ context.Context, id ledger.AccountID, status ledger.AccountStatus) error {
	return tv.parent.setStatusLocked(id, status)
}

func (tv *txView) Append(_ context.Context, r ledger.Record) (ledger.RecordID, error) {
	return tv.parent.appendLocked(r)
}

func (tv *txView) Scan(_ context.Context, id ledger.AccountID, f ledger.RecordFilter, p ledger.Page) ([]ledger.Record, error) {
	return tv.parent.scanLocked(id, f, p)
}

func (tv *txView) SetExternalRef(_ context.Context, id ledger.RecordID, ref string) error {
	return tv.parent.setExternalRefLocked(id, ref)
}

func (tv *txView) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	return tv.parent.deleteAccountLocked(id)
}

func (tv *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	// Already inside the unit; nesting just runs the function.
	return fn(tv)
}
