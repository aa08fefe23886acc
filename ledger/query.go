/*
query.go - Read-only projections over the transaction log

PURPOSE:
  History and summary views for an account. The Query service reads only
  from the Store; it never mutates and never consults the mirror.
  Retrying any query with identical arguments yields identical results
  absent new transactions.

PAGINATION:
  page >= 1, 1 <= page_size <= 100. Out-of-range values are clamped, not
  rejected - a UI asking for page_size=1000 gets 100 rows, not a 400.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// QUERY SERVICE
// =============================================================================

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Query struct {
	store Store
}

func NewQuery(store Store) *Query {
	return &Query{store: store}
}

// Account returns one account by identifier.
func (q *Query) Account(ctx context.Context, id AccountID) (Account, error) {
	a, err := q.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, &NotFoundError{Role: "account", Lookup: string(id)}
	}
	return a, nil
}

// AccountByNumber resolves the human-facing account number.
func (q *Query) AccountByNumber(ctx context.Context, number string) (Account, error) {
	a, err := q.store.GetAccountByNumber(ctx, number)
	if err != nil {
		return Account{}, &NotFoundError{Role: "account", Lookup: number}
	}
	return a, nil
}

// Accounts lists every account.
func (q *Query) Accounts(ctx context.Context) ([]Account, error) {
	return q.store.ListAccounts(ctx)
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryFilter narrows and pages a history query.
type HistoryFilter struct {
	Start    *time.Time // inclusive
	End      *time.Time // inclusive
	Family   TypeFamily
	Page     int
	PageSize int
}

// Entry is one history row with its derived direction.
type Entry struct {
	Record
	Direction Direction
}

// History returns the account's records, newest first, ties broken by
// insertion order.
func (q *Query) History(ctx context.Context, id AccountID, f HistoryFilter) ([]Entry, error) {
	if _, err := q.store.GetAccount(ctx, id); err != nil {
		return nil, &NotFoundError{Role: "account", Lookup: string(id)}
	}

	page := clampPage(f.Page, f.PageSize)
	records, err := q.store.Scan(ctx, id, RecordFilter{
		Family: f.Family,
		Start:  f.Start,
		End:    f.End,
	}, page)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Record: r, Direction: r.Direction()}
	}
	return entries, nil
}

func clampPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary aggregates an account's activity over an inclusive window.
type Summary struct {
	AccountID    AccountID
	TotalCredits int64
	TotalDebits  int64
	NetFlow      int64 // credits - debits
	CountByType  map[RecordType]int
	First        *time.Time // oldest record in the window
	Last         *time.Time // newest record in the window
}

// Summarize computes totals over the filtered window in one pass.
func (q *Query) Summarize(ctx context.Context, id AccountID, start, end *time.Time) (Summary, error) {
	if _, err := q.store.GetAccount(ctx, id); err != nil {
		return Summary{}, &NotFoundError{Role: "account", Lookup: string(id)}
	}

	sum := Summary{AccountID: id, CountByType: make(map[RecordType]int)}

	// Walk the full window page by page; the scan is newest-first, so the
	// first record seen is Last and the final one is First.
	page := Page{Number: 1, Size: MaxPageSize}
	filter := RecordFilter{Start: start, End: end}
	for {
		records, err := q.store.Scan(ctx, id, filter, page)
		if err != nil {
			return Summary{}, err
		}
		for _, r := range records {
			ts := r.Timestamp
			if sum.Last == nil {
				sum.Last = &ts
			}
			sum.First = &ts

			sum.CountByType[r.Type]++
			if r.Direction() == DirCredit {
				sum.TotalCredits += r.Amount
			} else {
				sum.TotalDebits += r.Amount
			}
		}
		if len(records) < page.Size {
			break
		}
		page.Number++
	}

	sum.NetFlow = sum.TotalCredits - sum.TotalDebits
	return sum, nil
}
