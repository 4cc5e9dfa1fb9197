package services

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"solver-backend/internal/config"
	"solver-backend/internal/metrics"
	"solver-backend/internal/repository"
)

// ExpirySweeper periodically moves deadline-passed pending intents to
// expired and purges stale nonce reservations. Matched intents are never
// touched: once paired, resolution belongs to the settlement path.
type ExpirySweeper struct {
	intents      repository.IntentRepository
	replayLedger repository.ReplayLedger

	interval time.Duration

	running  bool
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewExpirySweeper creates the expiry sweeper
func NewExpirySweeper(
	intents repository.IntentRepository,
	replayLedger repository.ReplayLedger,
	cfg *config.Config,
) *ExpirySweeper {
	return &ExpirySweeper{
		intents:      intents,
		replayLedger: replayLedger,
		interval:     time.Duration(cfg.Matching.SweepIntervalSecs) * time.Second,
		stopChan:     make(chan struct{}),
	}
}

// Start launches the sweep loop
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()
	log.WithField("interval", s.interval).Info("Expiry sweeper started")
}

// Stop shuts down the sweep loop
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.wg.Wait()
	log.Info("Expiry sweeper stopped")
}

func (s *ExpirySweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(context.Background()); err != nil {
				log.WithError(err).Error("Expiry sweep failed")
			}
		}
	}
}

// SweepOnce runs a single sweep pass and returns the number of intents
// expired by it.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now()

	expired, err := s.intents.ExpirePending(ctx, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		metrics.IntentsExpired.Add(float64(expired))
		log.WithField("count", expired).Info("Expired pending intents")
	}

	purged, err := s.replayLedger.PurgeExpired(ctx, now)
	if err != nil {
		log.WithError(err).Warn("Failed to purge expired nonce reservations")
	} else if purged > 0 {
		log.WithField("count", purged).Debug("Purged expired nonce reservations")
	}

	return expired, nil
}
