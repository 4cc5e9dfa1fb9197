package interfaces

import (
	"context"

	"solver-backend/internal/models"
)

// VerifyOutcome tri-state result of a proof preflight check
type VerifyOutcome int

const (
	// VerifyValid the proof verified against the intent's public inputs
	VerifyValid VerifyOutcome = iota
	// VerifyInvalid the proof is definitively bad; the intent is rejected
	VerifyInvalid
	// VerifyUnavailable the verifier could not be reached; admission
	// proceeds and the settlement contract remains the authority
	VerifyUnavailable
)

// VerifyResult outcome of a proof preflight, with a reason when invalid
type VerifyResult struct {
	Outcome VerifyOutcome
	Reason  string
}

// VerifierClient checks zero-knowledge proofs before admission.
// Verification failures are authoritative; availability failures are not.
type VerifierClient interface {
	Verify(ctx context.Context, intent *models.Intent) VerifyResult
}

// TxStatus on-chain transaction lifecycle state
type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusConfirmed
	TxStatusReverted
	TxStatusUnknown
)

// LedgerClient talks to the settlement ledger: nonce queries, settlement
// submission, confirmation tracking and idempotence checks.
type LedgerClient interface {
	// PendingNonce returns the solver account's next nonce as seen by the node
	PendingNonce(ctx context.Context) (uint64, error)
	// SubmitSettlement signs and submits the atomic swap for a matched
	// pair using the given account nonce, returning the tx hash.
	SubmitSettlement(ctx context.Context, match *models.Match, a, b *models.Intent, nonce uint64) (string, error)
	// TransactionStatus reports whether a submitted settlement confirmed
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
	// IsIntentSettled queries the contract's settlement registry. Used to
	// resolve ambiguous submission failures idempotently.
	IsIntentSettled(ctx context.Context, nullifier string) (bool, error)
}
