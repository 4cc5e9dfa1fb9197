package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"solver-backend/internal/config"
	"solver-backend/internal/events"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/metrics"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
)

const nonceRetryAttempts = 3

// SettlementService drives matched pairs through on-chain settlement.
// All submissions from the solver account are serialized through a
// single mutex with a cached account nonce: the cache only advances
// after the ledger accepts a transaction, and a nonce mismatch drops
// the cache so the next attempt re-fetches from the node.
type SettlementService struct {
	intents   repository.IntentRepository
	matches   repository.MatchRepository
	tasks     repository.SettlementTaskRepository
	ledger    interfaces.LedgerClient
	publisher *events.Publisher

	pollInterval time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration

	nonceMu   sync.Mutex
	nextNonce *uint64

	running  bool
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSettlementService creates the settlement coordinator
func NewSettlementService(
	intents repository.IntentRepository,
	matches repository.MatchRepository,
	tasks repository.SettlementTaskRepository,
	ledger interfaces.LedgerClient,
	publisher *events.Publisher,
	cfg *config.Config,
) *SettlementService {
	return &SettlementService{
		intents:      intents,
		matches:      matches,
		tasks:        tasks,
		ledger:       ledger,
		publisher:    publisher,
		pollInterval: time.Duration(cfg.Settlement.PollIntervalSecs) * time.Second,
		baseBackoff:  time.Duration(cfg.Settlement.BaseBackoffSecs) * time.Second,
		maxBackoff:   time.Duration(cfg.Settlement.MaxBackoffSecs) * time.Second,
		stopChan:     make(chan struct{}),
	}
}

// Start launches the settlement worker loop
func (s *SettlementService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()
	log.WithField("poll_interval", s.pollInterval).Info("Settlement coordinator started")
}

// Stop shuts down the worker loop and waits for in-flight work
func (s *SettlementService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.wg.Wait()
	log.Info("Settlement coordinator stopped")
}

func (s *SettlementService) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runOnce(context.Background())
		}
	}
}

func (s *SettlementService) runOnce(ctx context.Context) {
	s.checkSubmitted(ctx)

	due, err := s.tasks.ListDue(ctx, time.Now(), 50)
	if err != nil {
		log.WithError(err).Error("Failed to list due settlement tasks")
		return
	}
	for i := range due {
		select {
		case <-s.stopChan:
			return
		default:
		}
		if err := s.processTask(ctx, &due[i]); err != nil {
			log.WithError(err).WithField("match_id", due[i].MatchID).
				Error("Settlement task processing failed")
		}
	}
}

// processTask attempts to settle one matched pair
func (s *SettlementService) processTask(ctx context.Context, task *models.SettlementTask) error {
	match, err := s.matches.GetByID(ctx, task.MatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Match already resolved elsewhere; retire the task.
			return s.tasks.Delete(ctx, task.ID)
		}
		return err
	}

	a, err := s.intents.GetByNullifier(ctx, match.NullifierA)
	if err != nil {
		return err
	}
	b, err := s.intents.GetByNullifier(ctx, match.NullifierB)
	if err != nil {
		return err
	}

	// Idempotence check: if either side is already settled on-chain, a
	// previous submission landed even though we never saw it confirm.
	settled, err := s.ledger.IsIntentSettled(ctx, a.Nullifier)
	if err == nil && settled {
		log.WithField("match_id", match.ID).Info("Match already settled on-chain")
		return s.finalizeSettled(ctx, task, match, a, b, task.TxHash)
	}

	now := time.Now()
	task.Status = models.SettlementTaskStatusProcessing
	if err := s.tasks.Save(ctx, task); err != nil {
		return err
	}

	txHash, err := s.submitWithNonce(ctx, match, a, b)
	if err != nil {
		return s.handleSubmitFailure(ctx, task, match, a, b, err)
	}

	metrics.SettlementAttempts.WithLabelValues("accepted").Inc()
	task.Status = models.SettlementTaskStatusSubmitted
	task.TxHash = txHash
	task.SubmittedAt = &now
	task.LastError = ""
	log.WithFields(log.Fields{
		"match_id": match.ID,
		"tx_hash":  txHash,
	}).Info("Settlement submitted")
	return s.tasks.Save(ctx, task)
}

// submitWithNonce serializes the submission through the signer mutex.
// The cached nonce advances only after the ledger accepts the tx; a
// mismatch resyncs from the node and retries in place.
func (s *SettlementService) submitWithNonce(ctx context.Context, match *models.Match, a, b *models.Intent) (string, error) {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < nonceRetryAttempts; attempt++ {
		if s.nextNonce == nil {
			nonce, err := s.ledger.PendingNonce(ctx)
			if err != nil {
				return "", err
			}
			s.nextNonce = &nonce
		}

		txHash, err := s.ledger.SubmitSettlement(ctx, match, a, b, *s.nextNonce)
		if err == nil {
			next := *s.nextNonce + 1
			s.nextNonce = &next
			return txHash, nil
		}

		lastErr = err
		if interfaces.ClassifySettleError(err) != interfaces.SettleErrNonceMismatch {
			return "", err
		}

		// Stale nonce: drop the cache and resync.
		metrics.NonceResyncs.Inc()
		metrics.SettlementAttempts.WithLabelValues("nonce_mismatch").Inc()
		s.nextNonce = nil
		log.WithError(err).Warn("Account nonce out of sync, re-fetching")
	}
	return "", lastErr
}

func (s *SettlementService) handleSubmitFailure(ctx context.Context, task *models.SettlementTask, match *models.Match, a, b *models.Intent, submitErr error) error {
	now := time.Now()

	switch interfaces.ClassifySettleError(submitErr) {
	case interfaces.SettleErrDomain:
		metrics.SettlementAttempts.WithLabelValues("domain_error").Inc()
		task.RecordDomain(submitErr.Error(), now, s.baseBackoff, s.maxBackoff)
	default:
		metrics.SettlementAttempts.WithLabelValues("transient_error").Inc()
		task.RecordTransient(submitErr.Error(), now, s.baseBackoff, s.maxBackoff)
	}

	if err := s.tasks.Save(ctx, task); err != nil {
		return err
	}

	if task.Status != models.SettlementTaskStatusAbandoned {
		log.WithFields(log.Fields{
			"match_id":      match.ID,
			"next_retry_at": task.NextRetryAt,
		}).Warn("Settlement attempt failed, scheduled retry")
		return nil
	}

	// The task crossed its terminal threshold: unwind the match.
	// Domain abandonment means the ledger would reject this pair again,
	// so both sides fail. Transport abandonment says nothing about the
	// pair itself, so still-viable sides go back to the pending book.
	domainTerminal := task.DomainFailures >= task.MaxDomainFailures && task.MaxDomainFailures > 0
	return s.rollbackMatch(ctx, match, a, b, domainTerminal, submitErr)
}

// rollbackMatch unwinds an abandoned match. Intents returned to pending
// keep their original created_at so re-matching preserves their place
// in the arrival order.
func (s *SettlementService) rollbackMatch(ctx context.Context, match *models.Match, a, b *models.Intent, domainTerminal bool, cause error) error {
	now := time.Now()
	bothViable := !domainTerminal && !a.IsExpired(now) && !b.IsExpired(now)

	for _, intent := range []*models.Intent{a, b} {
		var (
			target models.IntentStatus
			event  string
			extra  map[string]interface{}
		)
		switch {
		case bothViable:
			target = models.IntentStatusPending
			event = events.EventIntentPending
			extra = map[string]interface{}{
				"matched_with": "",
				"match_id":     "",
				"matched_at":   nil,
			}
		case !domainTerminal && intent.IsExpired(now):
			target = models.IntentStatusExpired
			event = events.EventIntentExpired
			extra = map[string]interface{}{"resolved_at": &now}
		default:
			target = models.IntentStatusFailed
			event = events.EventIntentFailed
			extra = map[string]interface{}{"resolved_at": &now}
		}

		ok, err := s.intents.TransitionStatus(ctx, intent.Nullifier,
			models.IntentStatusMatched, target, extra)
		if err != nil {
			return err
		}
		if ok {
			intent.Status = target
			s.publisher.PublishIntentEvent(event, intent)
		}
	}

	if err := s.matches.Delete(ctx, match.ID); err != nil {
		return err
	}

	metrics.MatchesRolledBack.Inc()
	log.WithFields(log.Fields{
		"match_id":        match.ID,
		"domain_terminal": domainTerminal,
		"cause":           cause.Error(),
	}).Warn("Match abandoned and rolled back")
	return nil
}

// checkSubmitted polls the ledger for tasks awaiting confirmation
func (s *SettlementService) checkSubmitted(ctx context.Context) {
	submitted, err := s.tasks.ListSubmitted(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list submitted settlement tasks")
		return
	}

	for i := range submitted {
		task := &submitted[i]
		status, err := s.ledger.TransactionStatus(ctx, task.TxHash)
		if err != nil {
			log.WithError(err).WithField("tx_hash", task.TxHash).
				Warn("Failed to query settlement tx status")
			continue
		}

		switch status {
		case interfaces.TxStatusConfirmed:
			metrics.SettlementAttempts.WithLabelValues("confirmed").Inc()
			if err := s.confirmTask(ctx, task); err != nil {
				log.WithError(err).WithField("match_id", task.MatchID).
					Error("Failed to finalize confirmed settlement")
			}
		case interfaces.TxStatusReverted:
			metrics.SettlementAttempts.WithLabelValues("reverted").Inc()
			if err := s.revertTask(ctx, task); err != nil {
				log.WithError(err).WithField("match_id", task.MatchID).
					Error("Failed to handle reverted settlement")
			}
		}
	}
}

func (s *SettlementService) confirmTask(ctx context.Context, task *models.SettlementTask) error {
	match, err := s.matches.GetByID(ctx, task.MatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.tasks.Delete(ctx, task.ID)
		}
		return err
	}
	a, err := s.intents.GetByNullifier(ctx, match.NullifierA)
	if err != nil {
		return err
	}
	b, err := s.intents.GetByNullifier(ctx, match.NullifierB)
	if err != nil {
		return err
	}
	return s.finalizeSettled(ctx, task, match, a, b, task.TxHash)
}

// revertTask records an on-chain revert as a domain failure
func (s *SettlementService) revertTask(ctx context.Context, task *models.SettlementTask) error {
	match, err := s.matches.GetByID(ctx, task.MatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.tasks.Delete(ctx, task.ID)
		}
		return err
	}
	a, err := s.intents.GetByNullifier(ctx, match.NullifierA)
	if err != nil {
		return err
	}
	b, err := s.intents.GetByNullifier(ctx, match.NullifierB)
	if err != nil {
		return err
	}

	revertErr := interfaces.NewSettleError(interfaces.SettleErrDomain,
		fmt.Errorf("settlement transaction %s reverted", task.TxHash))
	task.TxHash = ""
	return s.handleSubmitFailure(ctx, task, match, a, b, revertErr)
}

// finalizeSettled marks both sides settled and retires the match
func (s *SettlementService) finalizeSettled(ctx context.Context, task *models.SettlementTask, match *models.Match, a, b *models.Intent, txHash string) error {
	now := time.Now()

	for _, intent := range []*models.Intent{a, b} {
		if intent.Status == models.IntentStatusSettled {
			continue
		}
		ok, err := s.intents.TransitionStatus(ctx, intent.Nullifier,
			models.IntentStatusMatched, models.IntentStatusSettled,
			map[string]interface{}{
				"settlement_tx_hash": txHash,
				"resolved_at":        &now,
			})
		if err != nil {
			return err
		}
		if ok {
			intent.Status = models.IntentStatusSettled
			intent.SettlementTxHash = txHash
			intent.ResolvedAt = &now
			s.publisher.PublishIntentEvent(events.EventIntentSettled, intent)
		}
	}

	task.MarkConfirmed(txHash, now)
	if err := s.tasks.Save(ctx, task); err != nil {
		return err
	}

	s.publisher.PublishMatchEvent(events.EventIntentSettled, match)
	if err := s.matches.Delete(ctx, match.ID); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"match_id": match.ID,
		"tx_hash":  txHash,
	}).Info("Match settled")
	return nil
}

// ConfirmMatch records an externally observed settlement for a match.
// Used by the manual confirmation endpoint when the operator settles a
// pair out of band.
func (s *SettlementService) ConfirmMatch(ctx context.Context, matchID, txHash string) error {
	match, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	a, err := s.intents.GetByNullifier(ctx, match.NullifierA)
	if err != nil {
		return err
	}
	b, err := s.intents.GetByNullifier(ctx, match.NullifierB)
	if err != nil {
		return err
	}

	task, err := s.tasks.GetByMatchID(ctx, matchID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		task = &models.SettlementTask{ID: matchID, MatchID: matchID}
	}
	return s.finalizeSettled(ctx, task, match, a, b, txHash)
}
