package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"solver-backend/internal/config"
	"solver-backend/internal/dto"
	"solver-backend/internal/events"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/metrics"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
	"solver-backend/internal/utils"
)

// Rejection codes returned in the API error envelope
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeExpiredIntent   = "ERR_EXPIRED_INTENT"
	CodeNonceReplay     = "ERR_NONCE_REPLAY"
	CodeInvalidProof    = "INVALID_PROOF"
	CodeDuplicateIntent = "DUPLICATE_INTENT"
	CodeInvalidState    = "INVALID_STATE"
	CodeNotFound        = "NOT_FOUND"
)

// RejectError an admission rejection carrying the API error code and
// HTTP status for the envelope
type RejectError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *RejectError) Error() string {
	return e.Message
}

func reject(code, message string, status int) *RejectError {
	return &RejectError{Code: code, Message: message, HTTPStatus: status}
}

var hexIdentifierRe = regexp.MustCompile(`^0x[0-9a-f]{1,64}$`)

// AdmissionService runs submissions through the admission pipeline:
// shape validation, expiry check, replay reservation, duplicate check,
// proof preflight, persistence. The gates run in that fixed order so
// rejections are deterministic.
type AdmissionService struct {
	intents      repository.IntentRepository
	replayLedger repository.ReplayLedger
	verifier     interfaces.VerifierClient
	publisher    *events.Publisher
	grace        time.Duration

	// matchTrigger is signalled after every admission so the matching
	// engine can run immediately instead of waiting out its poll tick.
	matchTrigger chan struct{}
}

// NewAdmissionService creates the admission pipeline
func NewAdmissionService(
	intents repository.IntentRepository,
	replayLedger repository.ReplayLedger,
	verifier interfaces.VerifierClient,
	publisher *events.Publisher,
	cfg *config.Config,
) *AdmissionService {
	return &AdmissionService{
		intents:      intents,
		replayLedger: replayLedger,
		verifier:     verifier,
		publisher:    publisher,
		grace:        cfg.ExpiryGrace(),
		matchTrigger: make(chan struct{}, 1),
	}
}

// MatchTrigger returns the channel signalled after each admission
func (s *AdmissionService) MatchTrigger() <-chan struct{} {
	return s.matchTrigger
}

// Submit runs req through the admission gates. On success the intent is
// persisted as pending and an admitted event is published. The returned
// error is always a *RejectError or an internal error.
func (s *AdmissionService) Submit(ctx context.Context, req *dto.SubmitIntentRequest, correlationID string) (*models.Intent, error) {
	intent, rejectErr := s.buildIntent(req, correlationID)
	if rejectErr != nil {
		metrics.IntentsRejected.WithLabelValues(rejectErr.Code).Inc()
		return nil, rejectErr
	}

	now := time.Now()

	// Expiry gate: the deadline must clear the grace window, otherwise
	// the intent could expire before a matching pass ever sees it.
	if intent.Deadline <= now.Add(s.grace).Unix() {
		metrics.IntentsRejected.WithLabelValues(CodeExpiredIntent).Inc()
		return nil, reject(CodeExpiredIntent, "intent deadline already passed or within the grace window", http.StatusBadRequest)
	}

	// Replay gate: atomically claim (user, nonce). The reservation
	// outlives the intent deadline so a late replay still collides.
	expiresAt := time.Unix(intent.Deadline, 0).Add(24 * time.Hour)
	reserved, err := s.replayLedger.Reserve(ctx, intent.User, intent.Nonce, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("replay ledger unavailable: %w", err)
	}
	if !reserved {
		metrics.IntentsRejected.WithLabelValues(CodeNonceReplay).Inc()
		return nil, reject(CodeNonceReplay, "nonce already used for this account", http.StatusConflict)
	}

	// Duplicate gate: a known nullifier means the same intent was
	// already submitted. The reservation is released because this
	// submission consumed nothing.
	if _, err := s.intents.GetByNullifier(ctx, intent.Nullifier); err == nil {
		s.releaseReservation(ctx, intent)
		metrics.IntentsRejected.WithLabelValues(CodeDuplicateIntent).Inc()
		return nil, reject(CodeDuplicateIntent, "intent with this nullifier already exists", http.StatusConflict)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.releaseReservation(ctx, intent)
		return nil, fmt.Errorf("failed to check for duplicate intent: %w", err)
	}

	// Proof preflight: a definitive invalid verdict rejects and frees
	// the nonce; an unreachable verifier degrades to admission without
	// preflight, leaving the settlement contract as the authority.
	if s.verifier != nil {
		switch result := s.verifier.Verify(ctx, intent); result.Outcome {
		case interfaces.VerifyInvalid:
			s.releaseReservation(ctx, intent)
			metrics.IntentsRejected.WithLabelValues(CodeInvalidProof).Inc()
			return nil, reject(CodeInvalidProof, result.Reason, http.StatusBadRequest)
		case interfaces.VerifyUnavailable:
			metrics.VerifierUnavailable.Inc()
			log.WithFields(log.Fields{
				"nullifier":      intent.Nullifier,
				"correlation_id": correlationID,
			}).Warn("Admitting intent without proof preflight")
		}
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.releaseReservation(ctx, intent)
			metrics.IntentsRejected.WithLabelValues(CodeDuplicateIntent).Inc()
			return nil, reject(CodeDuplicateIntent, "intent with this nullifier already exists", http.StatusConflict)
		}
		s.releaseReservation(ctx, intent)
		return nil, fmt.Errorf("failed to persist intent: %w", err)
	}

	metrics.IntentsAdmitted.Inc()
	log.WithFields(log.Fields{
		"nullifier":      intent.Nullifier,
		"intent_id":      intent.IntentID,
		"user":           utils.TruncateAddress(intent.User),
		"pair":           intent.PairKey(),
		"correlation_id": correlationID,
	}).Info("Intent admitted")

	s.publisher.PublishIntentEvent(events.EventIntentAdmitted, intent)
	s.signalMatch()
	return intent, nil
}

// Cancel moves a pending intent to cancelled. Only the owner may cancel,
// and only while the intent is still pending.
func (s *AdmissionService) Cancel(ctx context.Context, nullifier, user string) (*models.Intent, error) {
	intent, err := s.intents.GetByNullifier(ctx, utils.NormalizeHex(nullifier))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reject(CodeNotFound, "intent not found", http.StatusNotFound)
		}
		return nil, err
	}
	if user != "" && intent.User != utils.NormalizeHex(user) {
		return nil, reject(CodeNotFound, "intent not found", http.StatusNotFound)
	}

	now := time.Now()
	ok, err := s.intents.TransitionStatus(ctx, intent.Nullifier,
		models.IntentStatusPending, models.IntentStatusCancelled,
		map[string]interface{}{"resolved_at": &now})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reject(CodeInvalidState,
			fmt.Sprintf("intent is %s, only pending intents can be cancelled", intent.Status),
			http.StatusConflict)
	}

	intent.Status = models.IntentStatusCancelled
	intent.ResolvedAt = &now
	s.publisher.PublishIntentEvent(events.EventIntentCancelled, intent)

	log.WithField("nullifier", intent.Nullifier).Info("Intent cancelled")
	return intent, nil
}

func (s *AdmissionService) buildIntent(req *dto.SubmitIntentRequest, correlationID string) (*models.Intent, *RejectError) {
	nullifier := utils.NormalizeHex(req.Nullifier)
	user := utils.NormalizeHex(req.User)
	tokenIn := utils.NormalizeHex(req.TokenIn)
	tokenOut := utils.NormalizeHex(req.TokenOut)

	if !hexIdentifierRe.MatchString(nullifier) {
		return nil, reject(CodeInvalidRequest, "nullifier must be a hex identifier", http.StatusBadRequest)
	}
	if !hexIdentifierRe.MatchString(user) {
		return nil, reject(CodeInvalidRequest, "user must be a hex address", http.StatusBadRequest)
	}
	if !hexIdentifierRe.MatchString(tokenIn) || !hexIdentifierRe.MatchString(tokenOut) {
		return nil, reject(CodeInvalidRequest, "token identifiers must be hex", http.StatusBadRequest)
	}
	if tokenIn == tokenOut {
		return nil, reject(CodeInvalidRequest, "token_in and token_out must differ", http.StatusBadRequest)
	}

	amountIn, err := utils.ParseAmount(req.AmountIn)
	if err != nil || amountIn.Sign() <= 0 {
		return nil, reject(CodeInvalidRequest, "amount_in must be a positive integer amount", http.StatusBadRequest)
	}
	minOut, err := utils.ParseAmount(req.MinAmountOut)
	if err != nil || minOut.Sign() <= 0 {
		return nil, reject(CodeInvalidRequest, "min_amount_out must be a positive integer amount", http.StatusBadRequest)
	}

	return &models.Intent{
		Nullifier:     nullifier,
		IntentID:      uuid.New().String(),
		IntentHash:    utils.NormalizeHex(req.IntentHash),
		User:          user,
		TokenIn:       tokenIn,
		TokenOut:      tokenOut,
		AmountIn:      amountIn.String(),
		MinAmountOut:  minOut.String(),
		Nonce:         req.Nonce,
		Deadline:      req.Deadline,
		ProofData:     req.ProofData,
		PublicSignals: req.PublicSignals,
		Status:        models.IntentStatusPending,
		Correlation:   correlationID,
	}, nil
}

func (s *AdmissionService) releaseReservation(ctx context.Context, intent *models.Intent) {
	if err := s.replayLedger.Release(ctx, intent.User, intent.Nonce); err != nil {
		log.WithError(err).WithField("user", utils.TruncateAddress(intent.User)).
			Warn("Failed to release nonce reservation")
	}
}

func (s *AdmissionService) signalMatch() {
	select {
	case s.matchTrigger <- struct{}{}:
	default:
	}
}
