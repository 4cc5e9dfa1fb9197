package dto

import (
	"time"

	"solver-backend/internal/models"
)

// SubmitIntentRequest payload for POST /api/v1/intents
type SubmitIntentRequest struct {
	Nullifier     string `json:"nullifier" binding:"required"`
	IntentHash    string `json:"intent_hash"`
	User          string `json:"user" binding:"required"`
	TokenIn       string `json:"token_in" binding:"required"`
	TokenOut      string `json:"token_out" binding:"required"`
	AmountIn      string `json:"amount_in" binding:"required"`
	MinAmountOut  string `json:"min_amount_out" binding:"required"`
	Nonce         uint64 `json:"nonce"`
	Deadline      int64  `json:"deadline" binding:"required"`
	ProofData     string `json:"proof_data"`
	PublicSignals string `json:"public_signals"`
}

// SubmitIntentResponse returned on successful admission
type SubmitIntentResponse struct {
	IntentID      string `json:"intent_id"`
	Nullifier     string `json:"nullifier"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// IntentView public projection of an intent. Proof blobs are omitted.
type IntentView struct {
	IntentID         string     `json:"intent_id"`
	Nullifier        string     `json:"nullifier"`
	User             string     `json:"user"`
	TokenIn          string     `json:"token_in"`
	TokenOut         string     `json:"token_out"`
	AmountIn         string     `json:"amount_in"`
	MinAmountOut     string     `json:"min_amount_out"`
	Deadline         int64      `json:"deadline"`
	Status           string     `json:"status"`
	MatchedWith      string     `json:"matched_with,omitempty"`
	MatchID          string     `json:"match_id,omitempty"`
	SettlementTxHash string     `json:"settlement_tx_hash,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	MatchedAt        *time.Time `json:"matched_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// NewIntentView projects a stored intent for API responses
func NewIntentView(intent *models.Intent) IntentView {
	return IntentView{
		IntentID:         intent.IntentID,
		Nullifier:        intent.Nullifier,
		User:             intent.User,
		TokenIn:          intent.TokenIn,
		TokenOut:         intent.TokenOut,
		AmountIn:         intent.AmountIn,
		MinAmountOut:     intent.MinAmountOut,
		Deadline:         intent.Deadline,
		Status:           string(intent.Status),
		MatchedWith:      intent.MatchedWith,
		MatchID:          intent.MatchID,
		SettlementTxHash: intent.SettlementTxHash,
		CreatedAt:        intent.CreatedAt,
		MatchedAt:        intent.MatchedAt,
		ResolvedAt:       intent.ResolvedAt,
	}
}

// ErrorResponse uniform error envelope for all API errors
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// LoginRequest payload for POST /api/v1/auth/login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

// LoginResponse returned with a signed session token
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// HealthResponse returned by GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	Database      bool   `json:"database"`
	NATSConnected bool   `json:"nats_connected"`
	Time          string `json:"time"`
}

// StatsResponse returned by GET /api/v1/stats
type StatsResponse struct {
	Pending       int64 `json:"pending"`
	Matched       int64 `json:"matched"`
	Settled       int64 `json:"settled"`
	Cancelled     int64 `json:"cancelled"`
	Expired       int64 `json:"expired"`
	Failed        int64 `json:"failed"`
	ActiveMatches int64 `json:"active_matches"`
}
