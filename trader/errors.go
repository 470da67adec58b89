package trader

import (
	"errors"
	"fmt"
)

// Local validation failures. These are detected and returned before any
// transaction leaves the client, so no fee is ever spent on them.
var (
	// ErrUnknownMarket symbol resolution failed; never defaults to a pair id
	ErrUnknownMarket = errors.New("unknown market")

	// ErrAdapterUnavailable funding-token metadata (decimals/allowance) could
	// not be read; all value-moving operations are blocked rather than
	// guessing a decimal count
	ErrAdapterUnavailable = errors.New("funding token adapter unavailable")

	// ErrEncodingRejected a field does not fit its contract-mandated width or
	// violates a sentinel rule; rejected, never clamped
	ErrEncodingRejected = errors.New("encoding rejected")
)

// Post-submission failures. The submission itself is the irrevocable side
// effect; none of these are retried automatically (a blind retry of an open
// could double a position).
var (
	// ErrSubmissionFailed the payload never reached the chain (client/network
	// side), distinct from an on-chain revert
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrSubmissionTimeout inclusion was not observed inside the patience
	// window; the outcome is unknown, not a failure
	ErrSubmissionTimeout = errors.New("submission timeout")

	// ErrReverted the chain executed the call and it failed
	ErrReverted = errors.New("transaction reverted")

	// ErrReadUnavailable the diamond's read path is not dependable for this
	// query; use the indexing service
	ErrReadUnavailable = errors.New("read unavailable through this channel")
)

// rejectf wraps a width/sentinel violation in ErrEncodingRejected
func rejectf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrEncodingRejected, fmt.Sprintf(format, args...))
}

// RevertError carries the receipt context of an on-chain failure. Reason is
// the raw revert string when the node exposed one; it is surfaced verbatim
// and never parsed further (revert strings are not a stable contract).
type RevertError struct {
	TxHash string
	Block  uint64
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transaction reverted: %s (tx=%s block=%d)", e.Reason, e.TxHash, e.Block)
	}
	return fmt.Sprintf("transaction reverted (tx=%s block=%d)", e.TxHash, e.Block)
}

func (e *RevertError) Unwrap() error { return ErrReverted }

// SubmitTimeoutError reports an unobserved inclusion. TxHash is set whenever
// the payload was already sent, so callers can keep watching for it.
type SubmitTimeoutError struct {
	TxHash string
	Cause  error
}

func (e *SubmitTimeoutError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("submission timeout: outcome unknown for tx %s: %v", e.TxHash, e.Cause)
	}
	return fmt.Sprintf("submission timeout: %v", e.Cause)
}

func (e *SubmitTimeoutError) Unwrap() error { return ErrSubmissionTimeout }

// ReadUnavailableError is the explicit "not available through this channel"
// result of the best-effort read accessors. It names the query and points at
// the external indexing service that owns position/open-interest data, so
// "could not ask" can never be mistaken for "no positions".
type ReadUnavailableError struct {
	Query      string
	IndexerURL string
}

func (e *ReadUnavailableError) Error() string {
	if e.IndexerURL != "" {
		return fmt.Sprintf("%s: %v: query the indexer at %s", e.Query, ErrReadUnavailable, e.IndexerURL)
	}
	return fmt.Sprintf("%s: %v", e.Query, ErrReadUnavailable)
}

func (e *ReadUnavailableError) Unwrap() error { return ErrReadUnavailable }
