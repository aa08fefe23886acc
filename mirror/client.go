/*
client.go - JSON-RPC client for the external ledger node

PURPOSE:
  Production Adapter implementation. Speaks JSON-RPC 2.0 over HTTP to an
  external append-only ledger node and drives its contract interface:

    chain_info       session probe (chain id, height)
    ledger_submit    submit a recordCredit/recordSpend entry -> tx ref
    ledger_receipt   fetch the finality receipt for a tx ref

SUBMISSION LIFECYCLE:
  1. Ensure session (idempotent; reconnects on demand after any failure)
  2. Submit the entry. Transport errors here are retried with bounded
     exponential backoff - the entry has not been accepted yet, so a
     retry cannot double-record.
  3. Poll for the finality receipt up to the configured timeout. Once the
     node has ACCEPTED the submission there are no more retries: the
     side effect may already exist externally.
  4. Parse the emitted event for the assigned sequence number. A confirmed
     receipt whose event cannot be parsed is still success (with an empty
     sequence) because the external side effect already executed.

FAILURE MODES (always recoverable for the caller):
  unavailable - session could not be established
  timeout     - no receipt within the bound
  rejected    - the node or contract refused the entry
  protocol    - the node answered with something unparsable pre-acceptance
*/
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type ClientConfig struct {
	Endpoint string // node RPC URL, e.g. http://127.0.0.1:7545

	// Contract identifies the ledger contract instance on the network.
	Contract string

	// SubmitTimeout bounds one full RecordCredit/RecordSpend call,
	// including receipt polling. The adapter's own timeout is the only
	// bound once the local commit has succeeded.
	SubmitTimeout time.Duration

	// MaxAttempts bounds pre-acceptance submission attempts.
	MaxAttempts int

	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	return c
}

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	cfg  ClientConfig
	http *http.Client

	reqID atomic.Uint64

	mu      sync.Mutex
	session *session // nil until established
}

type session struct {
	chainID string
	height  uint64
}

func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// RecordCredit submits an inbound-movement event. See Adapter.
func (c *Client) RecordCredit(ctx context.Context, entityID, counterparty, cause string, amount int64) (Receipt, error) {
	return c.record(ctx, "recordCredit", entityID, counterparty, cause, amount)
}

// RecordSpend submits an outbound-movement event. See Adapter.
func (c *Client) RecordSpend(ctx context.Context, entityID, counterparty, cause string, amount int64) (Receipt, error) {
	return c.record(ctx, "recordSpend", entityID, counterparty, cause, amount)
}

// Status probes the node session.
func (c *Client) Status(ctx context.Context) Status {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return Status{Connected: false, Endpoint: c.cfg.Endpoint, Error: err.Error()}
	}
	return Status{Connected: true, Endpoint: c.cfg.Endpoint, ChainID: s.chainID, Height: s.height}
}

// =============================================================================
// SUBMISSION
// =============================================================================

type submitParams struct {
	Contract     string `json:"contract"`
	Entry        string `json:"entry"` // recordCredit | recordSpend
	EntityID     string `json:"entity_id"`
	Counterparty string `json:"counterparty,omitempty"`
	Cause        string `json:"cause,omitempty"`
	Amount       int64  `json:"amount"`
	Timestamp    int64  `json:"timestamp"`
}

type submitResult struct {
	TxRef string `json:"tx_ref"`
}

type receiptResult struct {
	Status string `json:"status"` // pending | confirmed | failed
	Events []struct {
		Name       string          `json:"name"`
		SequenceID json.RawMessage `json:"sequence_id"`
	} `json:"events"`
}

func (c *Client) record(ctx context.Context, entry, entityID, counterparty, cause string, amount int64) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	params := submitParams{
		Contract:     c.cfg.Contract,
		Entry:        entry,
		EntityID:     entityID,
		Counterparty: counterparty,
		Cause:        cause,
		Amount:       amount,
		Timestamp:    time.Now().Unix(),
	}

	txRef, err := c.submitWithRetry(ctx, params)
	if err != nil {
		return Receipt{}, err
	}

	// Past this point the node holds the entry: no retries, only waiting.
	return c.awaitReceipt(ctx, txRef)
}

// submitWithRetry drives pre-acceptance attempts with exponential backoff.
// Rejections are final; only transport-level failures are retried.
func (c *Client) submitWithRetry(ctx context.Context, params submitParams) (string, error) {
	var lastErr error
	delay := c.cfg.RetryBase

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if _, err := c.ensureSession(ctx); err != nil {
			lastErr = err
		} else {
			var res submitResult
			err := c.call(ctx, "ledger_submit", params, &res)
			switch {
			case err == nil && res.TxRef != "":
				return res.TxRef, nil
			case err == nil:
				return "", Errorf(KindProtocol, "node accepted submission without a tx ref")
			default:
				var me *Error
				if isMirrorError(err, &me) && me.Kind == KindRejected {
					return "", me
				}
				lastErr = err
				c.dropSession()
			}
		}

		if attempt < c.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return "", Errorf(KindTimeout, "submission window elapsed: %v", lastErr)
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return "", AsError(lastErr)
}

// awaitReceipt polls for finality until confirmed, failed, or the
// per-call deadline expires.
func (c *Client) awaitReceipt(ctx context.Context, txRef string) (Receipt, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		var res receiptResult
		err := c.call(ctx, "ledger_receipt", map[string]string{"tx_ref": txRef}, &res)
		if err == nil {
			switch res.Status {
			case "confirmed":
				return Receipt{SequenceID: c.sequenceFrom(res, txRef), TxRef: txRef}, nil
			case "failed":
				return Receipt{}, Errorf(KindRejected, "submission %s failed on the external ledger", txRef)
			}
			// pending: keep polling
		}

		select {
		case <-ctx.Done():
			return Receipt{}, Errorf(KindTimeout, "no finality receipt for %s", txRef)
		case <-ticker.C:
		}
	}
}

// sequenceFrom extracts the contract-emitted sequence number. The
// submission is already confirmed here, so parse failures degrade to an
// empty sequence rather than an error.
func (c *Client) sequenceFrom(res receiptResult, txRef string) string {
	for _, ev := range res.Events {
		if ev.Name != "CreditRecorded" && ev.Name != "SpendRecorded" {
			continue
		}
		var asString string
		if err := json.Unmarshal(ev.SequenceID, &asString); err == nil {
			return asString
		}
		var asNumber uint64
		if err := json.Unmarshal(ev.SequenceID, &asNumber); err == nil {
			return strconv.FormatUint(asNumber, 10)
		}
	}
	log.Printf("mirror: confirmed submission %s had no parsable sequence event", txRef)
	return ""
}

// =============================================================================
// SESSION
// =============================================================================

type chainInfo struct {
	ChainID string `json:"chain_id"`
	Height  uint64 `json:"height"`
}

// ensureSession establishes the node session if needed. Idempotent.
func (c *Client) ensureSession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}

	var info chainInfo
	if err := c.call(ctx, "chain_info", nil, &info); err != nil {
		return nil, Errorf(KindUnavailable, "connect %s: %v", c.cfg.Endpoint, err)
	}
	c.session = &session{chainID: info.ChainID, height: info.Height}
	return c.session, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// =============================================================================
// JSON-RPC PLUMBING
// =============================================================================

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Errorf(KindProtocol, "%s: undecodable response: %v", method, err)
	}
	if rr.Error != nil {
		return Errorf(KindRejected, "%s: node error %d: %s", method, rr.Error.Code, rr.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return Errorf(KindProtocol, "%s: undecodable result: %v", method, err)
		}
	}
	return nil
}

func isMirrorError(err error, target **Error) bool {
	me, ok := err.(*Error)
	if ok {
		*target = me
	}
	return ok
}
