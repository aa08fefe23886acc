/*
stub.go - Scriptable in-memory Adapter

Used by tests and the seeder. Modes:
  StubOK      every submission confirms with sequential receipts
  StubTimeout every submission reports a timeout error
  StubDown    the session never establishes
*/
package mirror

import (
	"context"
	"fmt"
	"sync"
)

type StubMode string

const (
	StubOK      StubMode = "ok"
	StubTimeout StubMode = "timeout"
	StubDown    StubMode = "down"
)

// Stub is a scriptable Adapter. The zero value behaves like StubOK.
type Stub struct {
	Mode StubMode

	// FailFirst makes the first N submissions fail with a timeout before
	// reverting to Mode behavior. Exercises retry paths.
	FailFirst int

	mu       sync.Mutex
	seq      uint64
	failures int

	// Submissions records every accepted event for assertions.
	Submissions []StubSubmission
}

type StubSubmission struct {
	Entry        string // recordCredit | recordSpend
	EntityID     string
	Counterparty string
	Cause        string
	Amount       int64
}

func (s *Stub) RecordCredit(ctx context.Context, entityID, counterparty, cause string, amount int64) (Receipt, error) {
	return s.record("recordCredit", entityID, counterparty, cause, amount)
}

func (s *Stub) RecordSpend(ctx context.Context, entityID, counterparty, cause string, amount int64) (Receipt, error) {
	return s.record("recordSpend", entityID, counterparty, cause, amount)
}

func (s *Stub) Status(ctx context.Context) Status {
	if s.Mode == StubDown {
		return Status{Connected: false, Endpoint: "stub", Error: "stubbed away"}
	}
	return Status{Connected: true, Endpoint: "stub", ChainID: "stub-1"}
}

func (s *Stub) record(entry, entityID, counterparty, cause string, amount int64) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures < s.FailFirst {
		s.failures++
		return Receipt{}, Errorf(KindTimeout, "scripted failure %d", s.failures)
	}

	switch s.Mode {
	case StubTimeout:
		return Receipt{}, Errorf(KindTimeout, "no finality receipt")
	case StubDown:
		return Receipt{}, Errorf(KindUnavailable, "stubbed away")
	}

	s.seq++
	s.Submissions = append(s.Submissions, StubSubmission{
		Entry:        entry,
		EntityID:     entityID,
		Counterparty: counterparty,
		Cause:        cause,
		Amount:       amount,
	})
	return Receipt{
		SequenceID: fmt.Sprintf("%d", s.seq),
		TxRef:      fmt.Sprintf("0xstub%08d", s.seq),
	}, nil
}
