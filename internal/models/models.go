package models

import (
	"math/big"
	"time"
)

// IntentStatus lifecycle state of a trade intent
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusMatched   IntentStatus = "matched"
	IntentStatusSettled   IntentStatus = "settled"
	IntentStatusCancelled IntentStatus = "cancelled"
	IntentStatusExpired   IntentStatus = "expired"
	IntentStatusFailed    IntentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
// Matched is not terminal: it can settle, fail, or roll back.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentStatusSettled, IntentStatusCancelled, IntentStatusExpired, IntentStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal status transition.
// Pending -> {Matched, Cancelled, Expired}
// Matched -> {Settled, Failed, Pending (rollback), Expired (deadline passed during rollback)}
func CanTransition(from, to IntentStatus) bool {
	switch from {
	case IntentStatusPending:
		return to == IntentStatusMatched || to == IntentStatusCancelled || to == IntentStatusExpired
	case IntentStatusMatched:
		return to == IntentStatusSettled || to == IntentStatusFailed ||
			to == IntentStatusPending || to == IntentStatusExpired
	}
	return false
}

// Intent a signed, proof-backed trade intent.
// Amounts are decimal strings in base units; they are only ever handled as
// big.Int (never floating point) to avoid precision loss on large values.
type Intent struct {
	Nullifier  string `json:"nullifier" gorm:"primaryKey;size:66"`
	IntentID   string `json:"intent_id" gorm:"uniqueIndex;size:36"` // UUID assigned at admission
	IntentHash string `json:"intent_hash" gorm:"size:66"`

	User         string `json:"user" gorm:"index;size:66"`
	TokenIn      string `json:"token_in" gorm:"index:idx_token_pair;size:66"`
	TokenOut     string `json:"token_out" gorm:"index:idx_token_pair;size:66"`
	AmountIn     string `json:"amount_in" gorm:"size:78"`
	MinAmountOut string `json:"min_amount_out" gorm:"size:78"`

	Nonce    uint64 `json:"nonce" gorm:"not null"`
	Deadline int64  `json:"deadline" gorm:"not null;index"` // unix seconds

	// Opaque proof blobs, forwarded to the verifier/settlement contract
	// untouched. JSON-encoded arrays of field elements.
	ProofData     string `json:"proof_data" gorm:"type:text"`
	PublicSignals string `json:"public_signals" gorm:"type:text"`

	Status IntentStatus `json:"status" gorm:"not null;default:pending;index"`

	MatchedWith      string `json:"matched_with,omitempty" gorm:"size:66"`
	MatchID          string `json:"match_id,omitempty" gorm:"size:36"`
	SettlementTxHash string `json:"settlement_tx_hash,omitempty" gorm:"size:66"`

	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time  `json:"updated_at"`
	MatchedAt   *time.Time `json:"matched_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"` // settled/cancelled/expired/failed
	Correlation string     `json:"correlation_id,omitempty" gorm:"size:64"`
}

// TableName specifies the table name
func (Intent) TableName() string {
	return "intents"
}

// AmountInBig parses amount_in as a big integer
func (i *Intent) AmountInBig() (*big.Int, bool) {
	return new(big.Int).SetString(i.AmountIn, 10)
}

// MinAmountOutBig parses min_amount_out as a big integer
func (i *Intent) MinAmountOutBig() (*big.Int, bool) {
	return new(big.Int).SetString(i.MinAmountOut, 10)
}

// IsExpired reports whether the intent deadline has passed at t
func (i *Intent) IsExpired(t time.Time) bool {
	return i.Deadline < t.Unix()
}

// CanMatch reports whether the intent is eligible for matching at t
func (i *Intent) CanMatch(t time.Time) bool {
	return i.Status == IntentStatusPending && !i.IsExpired(t)
}

// PairKey returns the directed token pair key used by the matching index
func (i *Intent) PairKey() string {
	return i.TokenIn + ":" + i.TokenOut
}

// Match a matched pair of intents awaiting settlement. The record exists
// only while settlement is in progress; it is deleted once the pair is
// settled or permanently abandoned.
type Match struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"` // UUID
	NullifierA string `json:"nullifier_a" gorm:"uniqueIndex;size:66"`
	NullifierB string `json:"nullifier_b" gorm:"uniqueIndex;size:66"`

	// Settlement terms: each side receives the counterpart's full amount_in
	// (no partial fills). Decimal strings in base units.
	AmountAOut string `json:"amount_a_out" gorm:"size:78"`
	AmountBOut string `json:"amount_b_out" gorm:"size:78"`

	MatchedAt time.Time `json:"matched_at"`
}

// TableName specifies the table name
func (Match) TableName() string {
	return "matches"
}

// NonceReservation replay-ledger entry claiming a (user, nonce) pair.
// The composite primary key makes reservation an atomic insert: a duplicate
// key error means the pair was already claimed. Rows are purged once
// expires_at passes (the maximum intent deadline horizon).
type NonceReservation struct {
	User       string    `json:"user" gorm:"primaryKey;size:66"`
	Nonce      uint64    `json:"nonce" gorm:"primaryKey;autoIncrement:false"`
	ReservedAt time.Time `json:"reserved_at"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"index"`
}

// TableName specifies the table name
func (NonceReservation) TableName() string {
	return "nonce_reservations"
}
