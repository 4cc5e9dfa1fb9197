package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"solver-backend/internal/config"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/models"
)

// HTTPVerifierClient checks proofs against an external verifier service.
// A definitive "invalid" answer rejects the intent; any availability
// problem is reported as unavailable so admission can proceed and leave
// final verification to the settlement contract.
type HTTPVerifierClient struct {
	baseURL    string
	httpClient *http.Client
}

type verifyRequest struct {
	Nullifier     string `json:"nullifier"`
	ProofData     string `json:"proof_data"`
	PublicSignals string `json:"public_signals"`
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// NewHTTPVerifierClient creates a verifier client. Returns nil when no
// verifier is configured, which disables preflight verification.
func NewHTTPVerifierClient(cfg *config.VerifierConfig) *HTTPVerifierClient {
	if cfg.BaseURL == "" {
		return nil
	}
	return &HTTPVerifierClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// Verify runs the proof preflight for an intent
func (c *HTTPVerifierClient) Verify(ctx context.Context, intent *models.Intent) interfaces.VerifyResult {
	reqBody, err := json.Marshal(verifyRequest{
		Nullifier:     intent.Nullifier,
		ProofData:     intent.ProofData,
		PublicSignals: intent.PublicSignals,
	})
	if err != nil {
		return interfaces.VerifyResult{Outcome: interfaces.VerifyUnavailable, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/verify", bytes.NewReader(reqBody))
	if err != nil {
		return interfaces.VerifyResult{Outcome: interfaces.VerifyUnavailable, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("Proof verifier unreachable, proceeding without preflight")
		return interfaces.VerifyResult{Outcome: interfaces.VerifyUnavailable, Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return interfaces.VerifyResult{Outcome: interfaces.VerifyUnavailable, Reason: err.Error()}
		}
		if result.Valid {
			return interfaces.VerifyResult{Outcome: interfaces.VerifyValid}
		}
		reason := result.Reason
		if reason == "" {
			reason = "proof verification failed"
		}
		return interfaces.VerifyResult{Outcome: interfaces.VerifyInvalid, Reason: reason}

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		// The verifier understood the request and rejected the proof.
		return interfaces.VerifyResult{Outcome: interfaces.VerifyInvalid, Reason: "proof rejected by verifier"}

	default:
		log.WithField("status", resp.StatusCode).Warn("Proof verifier returned unexpected status")
		return interfaces.VerifyResult{
			Outcome: interfaces.VerifyUnavailable,
			Reason:  fmt.Sprintf("verifier returned status %d", resp.StatusCode),
		}
	}
}
