package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func testAccount(number string) ledger.Account {
	return ledger.Account{
		ID:        ledger.NewAccountID(),
		Number:    number,
		Name:      "Test Holder",
		Status:    ledger.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

func testRecord(id ledger.AccountID, typ ledger.RecordType, amount int64, ts time.Time) ledger.Record {
	return ledger.Record{
		ID:        ledger.NewRecordID(),
		AccountID: id,
		Timestamp: ts,
		Type:      typ,
		Amount:    amount,
	}
}

// =============================================================================
// ACCOUNT CRUD
// =============================================================================

func TestMemory_CreateAccount_DuplicateNumber(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateAccount(ctx, testAccount("11111111")))
	err := m.CreateAccount(ctx, testAccount("11111111"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateNumber)
}

func TestMemory_GetAccountByNumber(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("22222222")
	require.NoError(t, m.CreateAccount(ctx, a))

	got, err := m.GetAccountByNumber(ctx, "22222222")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = m.GetAccountByNumber(ctx, "00000000")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestMemory_DeleteAccount_DestroysLogAndNumber(t *testing.T) {
	// GIVEN: An account with records
	// WHEN: Deleting it
	// THEN: The log is gone, the number is reusable, back-fill targets vanish

	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("33333333")
	require.NoError(t, m.CreateAccount(ctx, a))

	rec := testRecord(a.ID, ledger.TypeDeposit, 100, time.Now())
	_, err := m.Append(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, m.DeleteAccount(ctx, a.ID))

	_, err = m.GetAccount(ctx, a.ID)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.ErrorIs(t, m.SetExternalRef(ctx, rec.ID, "x"), ledger.ErrRecordNotFound)

	// Number is free again.
	assert.NoError(t, m.CreateAccount(ctx, testAccount("33333333")))
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestMemory_Append_AssignsSequentialSeq(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("44444444")
	require.NoError(t, m.CreateAccount(ctx, a))

	ts := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := m.Append(ctx, testRecord(a.ID, ledger.TypeDeposit, 100, ts))
		require.NoError(t, err)
	}

	recs, err := m.Scan(ctx, a.ID, ledger.RecordFilter{}, ledger.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Equal timestamps resolve newest-insertion-first.
	assert.Equal(t, uint64(3), recs[0].Seq)
	assert.Equal(t, uint64(2), recs[1].Seq)
	assert.Equal(t, uint64(1), recs[2].Seq)
}

func TestMemory_Scan_FilterAndWindow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("55555555")
	require.NoError(t, m.CreateAccount(ctx, a))

	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.Append(ctx, testRecord(a.ID, ledger.TypeDeposit, 100, base))
	require.NoError(t, err)
	_, err = m.Append(ctx, testRecord(a.ID, ledger.TypeWithdrawal, 50, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = m.Append(ctx, testRecord(a.ID, ledger.TypeExternalCredit, 25, base.Add(2*time.Hour)))
	require.NoError(t, err)

	deposits, err := m.Scan(ctx, a.ID, ledger.RecordFilter{Family: ledger.FamilyDeposit}, ledger.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Len(t, deposits, 2)

	// Inclusive window bounds.
	start, end := base, base.Add(time.Hour)
	windowed, err := m.Scan(ctx, a.ID, ledger.RecordFilter{Start: &start, End: &end}, ledger.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Len(t, windowed, 2)
}

func TestMemory_SetExternalRef(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("66666666")
	require.NoError(t, m.CreateAccount(ctx, a))

	rec := testRecord(a.ID, ledger.TypeDeposit, 100, time.Now())
	_, err := m.Append(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, m.SetExternalRef(ctx, rec.ID, "7"))
	recs, _ := m.Scan(ctx, a.ID, ledger.RecordFilter{}, ledger.Page{Number: 1, Size: 1})
	require.Len(t, recs, 1)
	assert.Equal(t, "7", recs[0].ExternalRef)

	assert.ErrorIs(t, m.SetExternalRef(ctx, "rec_missing", "x"), ledger.ErrRecordNotFound)
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit that mutates balance and appends, then fails
	// THEN: Every mutation inside the unit is rolled back

	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("77777777")
	require.NoError(t, m.CreateAccount(ctx, a))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s ledger.Store) error {
		if err := s.SetBalance(ctx, a.ID, 999); err != nil {
			return err
		}
		if _, err := s.Append(ctx, testRecord(a.ID, ledger.TypeDeposit, 999, time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)

	recs, _ := m.Scan(ctx, a.ID, ledger.RecordFilter{}, ledger.Page{Number: 1, Size: 10})
	assert.Empty(t, recs, "appended record rolled back")
}

func TestMemory_WithTx_CommitsOnSuccess(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	a := testAccount("88888888")
	require.NoError(t, m.CreateAccount(ctx, a))

	err := m.WithTx(ctx, func(s ledger.Store) error {
		return s.SetBalance(ctx, a.ID, 500)
	})
	require.NoError(t, err)

	got, _ := m.GetAccount(ctx, a.ID)
	assert.Equal(t, int64(500), got.Balance)
}
