package interfaces

import "errors"

// SettleErrorKind classification of a settlement submission failure.
// The classes drive different retry policies: transport errors back off
// and retry, nonce mismatches resync and retry immediately, domain errors
// count toward a terminal threshold.
type SettleErrorKind int

const (
	// SettleErrTransient node unreachable, timeout, rate limited
	SettleErrTransient SettleErrorKind = iota
	// SettleErrNonceMismatch the account nonce was stale
	SettleErrNonceMismatch
	// SettleErrDomain the ledger rejected the settlement itself:
	// insufficient balance or allowance, proof rejected on-chain
	SettleErrDomain
)

// SettleError a classified settlement submission failure
type SettleError struct {
	Kind SettleErrorKind
	Err  error
}

func (e *SettleError) Error() string {
	return e.Err.Error()
}

func (e *SettleError) Unwrap() error {
	return e.Err
}

// NewSettleError wraps err with a retry classification
func NewSettleError(kind SettleErrorKind, err error) *SettleError {
	return &SettleError{Kind: kind, Err: err}
}

// ClassifySettleError extracts the classification from err, defaulting
// to transient when the error carries none.
func ClassifySettleError(err error) SettleErrorKind {
	var se *SettleError
	if errors.As(err, &se) {
		return se.Kind
	}
	return SettleErrTransient
}
