package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"solver-backend/internal/config"
	"solver-backend/internal/events"
	"solver-backend/internal/metrics"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
)

// MatchingService pairs complementary pending intents. Passes run on a
// poll ticker and immediately after each admission. The pass is
// deterministic: candidates are ordered, the pairing rule is a pure
// function of the pending book, and the same book always yields the
// same matches.
type MatchingService struct {
	intents   repository.IntentRepository
	matches   repository.MatchRepository
	tasks     repository.SettlementTaskRepository
	publisher *events.Publisher

	pollInterval time.Duration
	trigger      <-chan struct{}

	maxTransientRetries int
	maxDomainFailures   int

	running  bool
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMatchingService creates the matching engine
func NewMatchingService(
	intents repository.IntentRepository,
	matches repository.MatchRepository,
	tasks repository.SettlementTaskRepository,
	publisher *events.Publisher,
	trigger <-chan struct{},
	cfg *config.Config,
) *MatchingService {
	return &MatchingService{
		intents:      intents,
		matches:      matches,
		tasks:        tasks,
		publisher:    publisher,
		pollInterval: time.Duration(cfg.Matching.PollIntervalMs) * time.Millisecond,
		trigger:      trigger,
		stopChan:     make(chan struct{}),

		maxTransientRetries: cfg.Settlement.MaxTransientRetries,
		maxDomainFailures:   cfg.Settlement.MaxDomainFailures,
	}
}

// Start launches the matching loop
func (s *MatchingService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()
	log.WithField("poll_interval", s.pollInterval).Info("Matching engine started")
}

// Stop shuts down the matching loop and waits for the current pass
func (s *MatchingService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.wg.Wait()
	log.Info("Matching engine stopped")
}

func (s *MatchingService) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runPass()
		case <-s.trigger:
			s.runPass()
		}
	}
}

func (s *MatchingService) runPass() {
	start := time.Now()
	matched, err := s.RunMatchingPass(context.Background())
	metrics.MatchingPassDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.WithError(err).Error("Matching pass failed")
		return
	}
	if matched > 0 {
		log.WithField("matches", matched).Info("Matching pass produced matches")
	}
}

// RunMatchingPass scans the pending book once and creates every match
// the pairing rule produces. Returns the number of matches created.
func (s *MatchingService) RunMatchingPass(ctx context.Context) (int, error) {
	pending, err := s.intents.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	metrics.PendingIntents.Set(float64(len(pending)))

	now := time.Now()

	// Partition by directed token pair, preserving the repository's
	// (created_at, nullifier) ordering within each bucket.
	byPair := make(map[string][]*models.Intent)
	for i := range pending {
		intent := &pending[i]
		if !intent.CanMatch(now) {
			continue
		}
		byPair[intent.PairKey()] = append(byPair[intent.PairKey()], intent)
	}

	claimed := make(map[string]bool)
	created := 0

	for i := range pending {
		a := &pending[i]
		if claimed[a.Nullifier] || !a.CanMatch(now) {
			continue
		}

		complement := a.TokenOut + ":" + a.TokenIn
		b := s.pickCounterpart(a, byPair[complement], claimed, now)
		if b == nil {
			continue
		}

		ok, err := s.createMatch(ctx, a, b)
		if err != nil {
			return created, err
		}
		if ok {
			claimed[a.Nullifier] = true
			claimed[b.Nullifier] = true
			created++
		}
	}

	return created, nil
}

// pickCounterpart selects the compatible counterpart with the greatest
// combined surplus. Ties break to the earliest created_at, then the
// lexicographically smallest nullifier, so the choice is deterministic.
func (s *MatchingService) pickCounterpart(a *models.Intent, candidates []*models.Intent, claimed map[string]bool, now time.Time) *models.Intent {
	var (
		best        *models.Intent
		bestSurplus *big.Int
	)
	for _, b := range candidates {
		if claimed[b.Nullifier] || !b.CanMatch(now) {
			continue
		}
		if b.User == a.User {
			continue
		}
		surplus, ok := compatibleSurplus(a, b)
		if !ok {
			continue
		}
		if best == nil || surplus.Cmp(bestSurplus) > 0 {
			best, bestSurplus = b, surplus
			continue
		}
		if surplus.Cmp(bestSurplus) == 0 {
			if b.CreatedAt.Before(best.CreatedAt) ||
				(b.CreatedAt.Equal(best.CreatedAt) && b.Nullifier < best.Nullifier) {
				best = b
			}
		}
	}
	return best
}

// compatibleSurplus reports whether a and b can fill each other and, if
// so, the combined surplus of the pairing. Fills are always full: each
// side receives the counterpart's entire input amount, so compatibility
// requires that amount to meet the side's minimum.
func compatibleSurplus(a, b *models.Intent) (*big.Int, bool) {
	aIn, okA := a.AmountInBig()
	aMin, okB := a.MinAmountOutBig()
	bIn, okC := b.AmountInBig()
	bMin, okD := b.MinAmountOutBig()
	if !okA || !okB || !okC || !okD {
		return nil, false
	}

	// a receives bIn and requires at least aMin; b receives aIn and
	// requires at least bMin.
	if bIn.Cmp(aMin) < 0 || aIn.Cmp(bMin) < 0 {
		return nil, false
	}

	surplus := new(big.Int).Sub(bIn, aMin)
	surplus.Add(surplus, new(big.Int).Sub(aIn, bMin))
	return surplus, true
}

// createMatch claims both intents with conditional status transitions
// and records the match. Losing the claim race on either side aborts
/// the pairing: a lost first claim skips the pair, a lost second claim
// reverts the first back to pending. A store failure after both claims
// unwinds both claims.
func (s *MatchingService) createMatch(ctx context.Context, a, b *models.Intent) (bool, error) {
	matchID := uuid.New().String()
	now := time.Now()

	okA, err := s.intents.TransitionStatus(ctx, a.Nullifier,
		models.IntentStatusPending, models.IntentStatusMatched,
		map[string]interface{}{
			"matched_with": b.Nullifier,
			"match_id":     matchID,
			"matched_at":   &now,
		})
	if err != nil {
		return false, err
	}
	if !okA {
		return false, nil
	}

	okB, err := s.intents.TransitionStatus(ctx, b.Nullifier,
		models.IntentStatusPending, models.IntentStatusMatched,
		map[string]interface{}{
			"matched_with": a.Nullifier,
			"match_id":     matchID,
			"matched_at":   &now,
		})
	if err != nil || !okB {
		// Another actor took b between the two claims. Put a back.
		s.revertClaim(ctx, a.Nullifier)
		return false, err
	}

	match := &models.Match{
		ID:         matchID,
		NullifierA: a.Nullifier,
		NullifierB: b.Nullifier,
		AmountAOut: b.AmountIn,
		AmountBOut: a.AmountIn,
		MatchedAt:  now,
	}
	if err := s.matches.Create(ctx, match); err != nil {
		// Persisting the pairing failed; without the match record no
		// worker could ever resolve the pair, so unwind both claims.
		s.revertClaim(ctx, a.Nullifier)
		s.revertClaim(ctx, b.Nullifier)
		return false, err
	}

	task := &models.SettlementTask{
		ID:                  uuid.New().String(),
		MatchID:             matchID,
		Status:              models.SettlementTaskStatusPending,
		MaxTransientRetries: s.maxTransientRetries,
		MaxDomainFailures:   s.maxDomainFailures,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		if delErr := s.matches.Delete(ctx, match.ID); delErr != nil {
			log.WithError(delErr).WithField("match_id", match.ID).
				Error("Failed to remove match after task creation failure")
		}
		s.revertClaim(ctx, a.Nullifier)
		s.revertClaim(ctx, b.Nullifier)
		return false, err
	}

	metrics.MatchesCreated.Inc()
	log.WithFields(log.Fields{
		"match_id":    matchID,
		"nullifier_a": a.Nullifier,
		"nullifier_b": b.Nullifier,
	}).Info("Created match")

	a.Status = models.IntentStatusMatched
	a.MatchedWith = b.Nullifier
	a.MatchID = matchID
	a.MatchedAt = &now
	b.Status = models.IntentStatusMatched
	b.MatchedWith = a.Nullifier
	b.MatchID = matchID
	b.MatchedAt = &now

	s.publisher.PublishMatchEvent(events.EventIntentMatched, match)
	s.publisher.PublishIntentEvent(events.EventIntentMatched, a)
	s.publisher.PublishIntentEvent(events.EventIntentMatched, b)
	return true, nil
}

// revertClaim rolls a claimed intent back to the pending book
func (s *MatchingService) revertClaim(ctx context.Context, nullifier string) {
	if _, err := s.intents.TransitionStatus(ctx, nullifier,
		models.IntentStatusMatched, models.IntentStatusPending,
		map[string]interface{}{
			"matched_with": "",
			"match_id":     "",
			"matched_at":   nil,
		}); err != nil {
		log.WithError(err).WithField("nullifier", nullifier).
			Error("Failed to revert claimed intent")
	}
}
