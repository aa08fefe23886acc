/*
engine.go - The ledger engine: atomic balance changes and log appends

PURPOSE:
  The Engine is the only component allowed to mutate the Account Store and
  the Transaction Log. Every operation runs as one atomic store unit:
  balance mutation plus log append(s) commit together or not at all. After
  the local commit, each money-movement leg is mirrored to the external
  ledger - strictly outside the account locks, so external latency can
  never stall local throughput.

OPERATION SHAPE:
  1. Validate input (no side effects on rejection)
  2. Resolve participants (no side effects on rejection)
  3. Lock the account(s) - pairs in deterministic order
  4. WithTx: re-read, check invariants, set balance(s), append record(s)
  5. Unlock
  6. Submit mirror event(s); attach outcomes; back-fill external refs

INVARIANTS ENFORCED HERE:
  - Balance >= 0 at every observable state (checked under the lock)
  - Exactly one record per money-movement leg; a transfer appends two
  - Receiver's transfer record is always attributed to the sender's
    account identity, so provenance is traceable
  - Mirror outcomes never retry, block or reverse the local commit

SEE ALSO:
  - locks.go:  per-account serialization
  - store.go:  the atomic-unit contract (WithTx)
  - mirror package: the external audit capability
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/bank-ledger/metrics"
	"github.com/warp/bank-ledger/mirror"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store  Store
	mirror mirror.Adapter
	locks  *accountLocks
	clock  func() time.Time

	// strictMirror refuses transfers up front when the mirror session is
	// down. Off by default: the local ledger is authoritative and always
	// proceeds.
	strictMirror bool
}

type Option func(*Engine)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithStrictMirror makes transfers fail fast with ErrMirrorUnavailable
// when the mirror health probe fails, before any local mutation.
func WithStrictMirror() Option {
	return func(e *Engine) { e.strictMirror = true }
}

func NewEngine(store Store, adapter mirror.Adapter, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		mirror: adapter,
		locks:  newAccountLocks(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpResult is the outcome of a single-leg operation.
type OpResult struct {
	Record  Record
	Balance int64 // balance after the commit
	Mirror  mirror.Outcome
}

// TransferResult is the outcome of a two-leg transfer.
type TransferResult struct {
	OutRecord       Record
	InRecord        Record
	SenderBalance   int64
	ReceiverBalance int64
	SpendMirror     mirror.Outcome // sender leg
	CreditMirror    mirror.Outcome // receiver leg
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// CreateAccount opens a new active account with a zero balance and a
// fresh unique 8-digit account number.
func (e *Engine) CreateAccount(ctx context.Context, name string) (Account, error) {
	if strings.TrimSpace(name) == "" {
		return Account{}, fmt.Errorf("%w: display name required", ErrValidation)
	}

	for attempt := 0; attempt < 8; attempt++ {
		a := Account{
			ID:        NewAccountID(),
			Number:    fmt.Sprintf("%08d", 10000000+rand.Intn(90000000)),
			Name:      strings.TrimSpace(name),
			Balance:   0,
			Status:    StatusActive,
			CreatedAt: e.clock().UTC(),
		}
		err := e.store.CreateAccount(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return Account{}, fmt.Errorf("create account: %w", err)
		}
	}
	return Account{}, fmt.Errorf("create account: could not allocate a unique number")
}

// CloseAccount marks the account closed. Closed accounts keep their
// history but reject all money movement.
func (e *Engine) CloseAccount(ctx context.Context, id AccountID) error {
	unlock := e.locks.lock(id)
	defer unlock()
	if _, err := e.store.GetAccount(ctx, id); err != nil {
		return err
	}
	return e.store.SetStatus(ctx, id, StatusClosed)
}

// DeleteAccount destroys the account row and its entire transaction log.
// Administrative teardown only; authorization happens out of band.
func (e *Engine) DeleteAccount(ctx context.Context, id AccountID) error {
	unlock := e.locks.lock(id)
	defer unlock()
	if _, err := e.store.GetAccount(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteAccount(ctx, id)
}

// =============================================================================
// SINGLE-LEG OPERATIONS
// =============================================================================

// Deposit credits the account and appends one Deposit record.
func (e *Engine) Deposit(ctx context.Context, id AccountID, amount int64, counterparty, cause string) (OpResult, error) {
	res, err := e.applyCredit(ctx, id, TypeDeposit, amount, counterparty, cause)
	metrics.Operations.WithLabelValues("deposit", metrics.OpOutcome(err)).Inc()
	return res, err
}

// ExternalCredit is a deposit initiated by an external payer, addressed
// by account number rather than account identifier.
func (e *Engine) ExternalCredit(ctx context.Context, accountNumber string, amount int64, counterparty, cause string) (OpResult, error) {
	res, err := e.externalCredit(ctx, accountNumber, amount, counterparty, cause)
	metrics.Operations.WithLabelValues("external_credit", metrics.OpOutcome(err)).Inc()
	return res, err
}

func (e *Engine) externalCredit(ctx context.Context, accountNumber string, amount int64, counterparty, cause string) (OpResult, error) {
	if amount <= 0 {
		return OpResult{}, ErrInvalidAmount
	}
	a, err := e.store.GetAccountByNumber(ctx, accountNumber)
	if err != nil {
		return OpResult{}, &NotFoundError{Role: "account", Lookup: accountNumber}
	}
	return e.applyCredit(ctx, a.ID, TypeExternalCredit, amount, counterparty, cause)
}

func (e *Engine) applyCredit(ctx context.Context, id AccountID, typ RecordType, amount int64, counterparty, cause string) (OpResult, error) {
	if amount <= 0 {
		return OpResult{}, ErrInvalidAmount
	}

	var (
		acct Account
		rec  Record
	)
	unlock := e.locks.lock(id)
	err := e.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return &NotFoundError{Role: "account", Lookup: string(id)}
		}
		if !a.Active() {
			return ErrAccountClosed
		}
		if err := s.SetBalance(ctx, id, a.Balance+amount); err != nil {
			return err
		}
		rec = e.newRecord(id, typ, amount, counterparty, cause)
		if _, err := s.Append(ctx, rec); err != nil {
			return err
		}
		acct = a
		acct.Balance = a.Balance + amount
		return nil
	})
	unlock()
	if err != nil {
		return OpResult{}, err
	}

	out := e.submitMirror(ctx, creditEntry, acct.Number, counterparty, cause, amount, rec.ID)
	return OpResult{Record: rec, Balance: acct.Balance, Mirror: out}, nil
}

// Withdraw debits the account and appends one Withdrawal record. The
// sufficient-funds check happens under the account lock inside the same
// atomic unit as the mutation, so a concurrent withdrawal can never pass
// the check against a stale balance.
func (e *Engine) Withdraw(ctx context.Context, id AccountID, amount int64, counterparty, cause string) (OpResult, error) {
	res, err := e.withdraw(ctx, id, amount, counterparty, cause)
	metrics.Operations.WithLabelValues("withdraw", metrics.OpOutcome(err)).Inc()
	return res, err
}

func (e *Engine) withdraw(ctx context.Context, id AccountID, amount int64, counterparty, cause string) (OpResult, error) {
	if amount <= 0 {
		return OpResult{}, ErrInvalidAmount
	}

	var (
		acct Account
		rec  Record
	)
	unlock := e.locks.lock(id)
	err := e.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return &NotFoundError{Role: "account", Lookup: string(id)}
		}
		if !a.Active() {
			return ErrAccountClosed
		}
		if a.Balance < amount {
			return &InsufficientFundsError{AccountID: id, Available: a.Balance, Requested: amount}
		}
		if err := s.SetBalance(ctx, id, a.Balance-amount); err != nil {
			return err
		}
		rec = e.newRecord(id, TypeWithdrawal, amount, counterparty, cause)
		if _, err := s.Append(ctx, rec); err != nil {
			return err
		}
		acct = a
		acct.Balance = a.Balance - amount
		return nil
	})
	unlock()
	if err != nil {
		return OpResult{}, err
	}

	out := e.submitMirror(ctx, spendEntry, acct.Number, counterparty, cause, amount, rec.ID)
	return OpResult{Record: rec, Balance: acct.Balance, Mirror: out}, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer atomically moves amount from the sender to the account with
// the given number, appending one TransferOut record to the sender's log
// and one TransferIn record to the receiver's. The receiver's record is
// always attributed to the sender's account identity; the sender's
// carries the caller-supplied counterparty reference, if any.
func (e *Engine) Transfer(ctx context.Context, senderID AccountID, receiverNumber string, amount int64, counterparty, cause string) (TransferResult, error) {
	res, err := e.transfer(ctx, senderID, receiverNumber, amount, counterparty, cause)
	metrics.Operations.WithLabelValues("transfer", metrics.OpOutcome(err)).Inc()
	return res, err
}

func (e *Engine) transfer(ctx context.Context, senderID AccountID, receiverNumber string, amount int64, counterparty, cause string) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}

	// Resolve participants up front; rejected lookups have no side effects.
	if _, err := e.store.GetAccount(ctx, senderID); err != nil {
		return TransferResult{}, &NotFoundError{Role: "sender", Lookup: string(senderID)}
	}
	receiver, err := e.store.GetAccountByNumber(ctx, receiverNumber)
	if err != nil {
		return TransferResult{}, &NotFoundError{Role: "receiver", Lookup: receiverNumber}
	}

	// Self-transfer is strictly identity equality, never a string
	// comparison of number-vs-name representations.
	if receiver.ID == senderID {
		return TransferResult{}, ErrSelfTransfer
	}

	if e.strictMirror {
		if st := e.mirror.Status(ctx); !st.Connected {
			return TransferResult{}, fmt.Errorf("%w: %s", ErrMirrorUnavailable, st.Error)
		}
	}

	var (
		sender, recv Account
		outRec, inRec Record
	)
	unlock := e.locks.lockPair(senderID, receiver.ID)
	err = e.store.WithTx(ctx, func(s Store) error {
		var err error
		sender, err = s.GetAccount(ctx, senderID)
		if err != nil {
			return &NotFoundError{Role: "sender", Lookup: string(senderID)}
		}
		recv, err = s.GetAccount(ctx, receiver.ID)
		if err != nil {
			return &NotFoundError{Role: "receiver", Lookup: receiverNumber}
		}
		if !sender.Active() || !recv.Active() {
			return ErrAccountClosed
		}
		if sender.Balance < amount {
			return &InsufficientFundsError{AccountID: senderID, Available: sender.Balance, Requested: amount}
		}

		if err := s.SetBalance(ctx, sender.ID, sender.Balance-amount); err != nil {
			return err
		}
		if err := s.SetBalance(ctx, recv.ID, recv.Balance+amount); err != nil {
			return err
		}

		outRec = e.newRecord(sender.ID, TypeTransferOut, amount, counterparty, cause)
		inRec = e.newRecord(recv.ID, TypeTransferIn, amount, string(sender.ID), cause)
		if _, err := s.Append(ctx, outRec); err != nil {
			return err
		}
		if _, err := s.Append(ctx, inRec); err != nil {
			return err
		}

		sender.Balance -= amount
		recv.Balance += amount
		return nil
	})
	unlock()
	if err != nil {
		return TransferResult{}, err
	}

	// Two independent mirror legs, concurrently, outside all locks.
	var spendOut, creditOut mirror.Outcome
	g := new(errgroup.Group)
	g.Go(func() error {
		spendOut = e.submitMirror(ctx, spendEntry, sender.Number, recv.Number, cause, amount, outRec.ID)
		return nil
	})
	g.Go(func() error {
		creditOut = e.submitMirror(ctx, creditEntry, recv.Number, sender.Number, cause, amount, inRec.ID)
		return nil
	})
	_ = g.Wait()

	return TransferResult{
		OutRecord:       outRec,
		InRecord:        inRec,
		SenderBalance:   sender.Balance,
		ReceiverBalance: recv.Balance,
		SpendMirror:     spendOut,
		CreditMirror:    creditOut,
	}, nil
}

// =============================================================================
// MIRROR ORCHESTRATION
// =============================================================================

type mirrorEntry string

const (
	creditEntry mirrorEntry = "recordCredit"
	spendEntry  mirrorEntry = "recordSpend"
)

// submitMirror runs one mirror leg and back-fills the external reference
// on success. It runs after the local commit: caller cancellation no
// longer applies, and the adapter's own timeout is the only bound.
func (e *Engine) submitMirror(ctx context.Context, entry mirrorEntry, entityID, counterparty, cause string, amount int64, recID RecordID) mirror.Outcome {
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	var (
		receipt mirror.Receipt
		err     error
	)
	if entry == creditEntry {
		receipt, err = e.mirror.RecordCredit(ctx, entityID, counterparty, cause, amount)
	} else {
		receipt, err = e.mirror.RecordSpend(ctx, entityID, counterparty, cause, amount)
	}
	metrics.MirrorLatency.Observe(time.Since(start).Seconds())
	metrics.MirrorSubmissions.WithLabelValues(string(entry), metrics.OpOutcome(err)).Inc()

	out := mirror.OutcomeOf(receipt, err)
	if ref := externalRef(out); out.Recorded && ref != "" {
		if err := e.store.SetExternalRef(ctx, recID, ref); err != nil {
			// The record exists and the mirror confirmed; losing the
			// back-fill is an observability gap, not a ledger fault.
			out.Err = mirror.Errorf(mirror.KindProtocol, "back-fill failed: %v", err)
		}
	}
	return out
}

func externalRef(out mirror.Outcome) string {
	if out.SequenceID != "" {
		return out.SequenceID
	}
	return out.TxRef
}

func (e *Engine) newRecord(id AccountID, typ RecordType, amount int64, counterparty, cause string) Record {
	return Record{
		ID:           NewRecordID(),
		AccountID:    id,
		Timestamp:    e.clock().UTC(),
		Type:         typ,
		Amount:       amount,
		Counterparty: counterparty,
		Cause:        cause,
	}
}

// MirrorStatus exposes the adapter session info for the health endpoint.
func (e *Engine) MirrorStatus(ctx context.Context) mirror.Status {
	return e.mirror.Status(ctx)
}
