/*
Package mirror submits money-movement events to an external append-only
ledger network as a secondary, independently-verifiable audit trail.

PURPOSE:
  The bank-of-record commits locally first; the mirror is best-effort.
  This package defines the capability the engine consumes (Adapter), the
  result types attached to API responses (Outcome), and the structured
  failure type (Error). A mirror failure is NEVER an operation failure:
  by the time the adapter is invoked the money has already moved locally.

CONTRACT SURFACE:
  The external network exposes a contract-call-style interface with two
  entry points: recordCredit and recordSpend. Each accepts an entity
  identifier, a counterparty reference, a cause string, an amount and a
  timestamp, and acknowledges with an emitted event carrying an assigned
  sequence number.

SEE ALSO:
  - client.go: JSON-RPC client implementation with retry/backoff
  - stub.go:   scriptable in-memory adapter for tests and seeding
*/
package mirror

import (
	"context"
	"fmt"
)

// =============================================================================
// ADAPTER - Capability consumed by the ledger engine
// =============================================================================

// Adapter records one money-movement event on the external ledger.
//
// Both calls block up to the implementation's bounded timeout waiting for
// a finality receipt. Errors returned here are always recoverable from the
// caller's point of view: the local commit already happened.
type Adapter interface {
	// RecordCredit mirrors an inbound movement (deposit, external credit,
	// transfer-in leg) attributed to entityID.
	RecordCredit(ctx context.Context, entityID, counterparty, cause string, amount int64) (Receipt, error)

	// RecordSpend mirrors an outbound movement (withdrawal, transfer-out
	// leg) attributed to entityID.
	RecordSpend(ctx context.Context, entityID, counterparty, cause string, amount int64) (Receipt, error)

	// Status probes the session and reports network info. Used by the
	// health endpoint and by strict-mirror policy checks.
	Status(ctx context.Context) Status
}

// Receipt is the finality acknowledgement from the external ledger.
//
// SequenceID may be empty on a confirmed submission whose emitted event
// could not be parsed: the externally-visible side effect still happened,
// so that case is success, not failure.
type Receipt struct {
	SequenceID string // contract-assigned sequence number, may be empty
	TxRef      string // network transaction hash/handle
}

// Status describes the adapter's session with the external network.
type Status struct {
	Connected bool   `json:"connected"`
	Endpoint  string `json:"endpoint"`
	ChainID   string `json:"chain_id,omitempty"`
	Height    uint64 `json:"height,omitempty"`
	Error     string `json:"error,omitempty"`
}

// =============================================================================
// OUTCOME - Per-operation result attached to API responses
// =============================================================================

// Outcome is the mirror result for one local record. It is metadata:
// it never invalidates, retries or reverses the local commit.
type Outcome struct {
	Recorded   bool   `json:"recorded"`
	SequenceID string `json:"external_id,omitempty"`
	TxRef      string `json:"external_tx_ref,omitempty"`
	Err        *Error `json:"error,omitempty"`
}

// OutcomeOf folds an adapter call result into an Outcome.
func OutcomeOf(r Receipt, err error) Outcome {
	if err != nil {
		return Outcome{Recorded: false, Err: AsError(err)}
	}
	return Outcome{Recorded: true, SequenceID: r.SequenceID, TxRef: r.TxRef}
}

// =============================================================================
// ERROR - Structured, always-recoverable failure
// =============================================================================

type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable" // session could not be established
	KindTimeout     ErrorKind = "timeout"     // no finality receipt in time
	KindRejected    ErrorKind = "rejected"    // the network refused the event
	KindProtocol    ErrorKind = "protocol"    // malformed response from the node
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mirror %s: %s", e.Kind, e.Message)
}

// Errorf builds a structured mirror error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError coerces any error into a *Error, defaulting to KindUnavailable.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*Error); ok {
		return me
	}
	return &Error{Kind: KindUnavailable, Message: err.Error()}
}

// =============================================================================
// DISABLED - Adapter used when mirroring is turned off
// =============================================================================

// Disabled reports every submission as not recorded without touching the
// network. Deployments without a mirror endpoint run with this adapter.
type Disabled struct{}

func (Disabled) RecordCredit(context.Context, string, string, string, int64) (Receipt, error) {
	return Receipt{}, Errorf(KindUnavailable, "mirroring disabled")
}

func (Disabled) RecordSpend(context.Context, string, string, string, int64) (Receipt, error) {
	return Receipt{}, Errorf(KindUnavailable, "mirroring disabled")
}

func (Disabled) Status(context.Context) Status {
	return Status{Connected: false, Error: "mirroring disabled"}
}
