package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solver-backend/internal/config"
	"solver-backend/internal/dto"
	"solver-backend/internal/events"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Intent{},
		&models.Match{},
		&models.NonceReservation{},
		&models.SettlementTask{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Matching: config.MatchingConfig{
			PollIntervalMs:    1000,
			ExpiryGraceSecs:   5,
			SweepIntervalSecs: 15,
		},
		Settlement: config.SettlementConfig{
			PollIntervalSecs:    5,
			MaxTransientRetries: 3,
			MaxDomainFailures:   5,
			BaseBackoffSecs:     1,
			MaxBackoffSecs:      60,
		},
	}
}

var nullifierSeq int

func submitReq(user string, nonce uint64) *dto.SubmitIntentRequest {
	nullifierSeq++
	return &dto.SubmitIntentRequest{
		Nullifier:    fmt.Sprintf("0x%040x", nullifierSeq),
		User:         user,
		TokenIn:      "0xaaa1",
		TokenOut:     "0xbbb2",
		AmountIn:     "100",
		MinAmountOut: "40",
		Nonce:        nonce,
		Deadline:     time.Now().Add(time.Hour).Unix(),
	}
}

// stubVerifier returns a fixed preflight outcome
type stubVerifier struct {
	result interfaces.VerifyResult
	calls  int
}

func (v *stubVerifier) Verify(ctx context.Context, intent *models.Intent) interfaces.VerifyResult {
	v.calls++
	return v.result
}

// stubLedger scriptable in-memory ledger client
type stubLedger struct {
	nonce           uint64
	nonceCalls      int
	submitCalls     int
	submitErrs      []error // consumed per call; nil entry means success
	txStatus        interfaces.TxStatus
	settled         map[string]bool
	lastSubmitNonce uint64
}

func (l *stubLedger) PendingNonce(ctx context.Context) (uint64, error) {
	l.nonceCalls++
	return l.nonce, nil
}

func (l *stubLedger) SubmitSettlement(ctx context.Context, match *models.Match, a, b *models.Intent, nonce uint64) (string, error) {
	l.submitCalls++
	l.lastSubmitNonce = nonce
	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("0xtx%d", l.submitCalls), nil
}

func (l *stubLedger) TransactionStatus(ctx context.Context, txHash string) (interfaces.TxStatus, error) {
	return l.txStatus, nil
}

func (l *stubLedger) IsIntentSettled(ctx context.Context, nullifier string) (bool, error) {
	return l.settled[nullifier], nil
}

func newServices(t *testing.T, db *gorm.DB, verifier interfaces.VerifierClient, ledger interfaces.LedgerClient) (*AdmissionService, *MatchingService, *SettlementService) {
	t.Helper()
	cfg := testConfig()
	publisher := events.NewPublisher(nil, "test")

	intents := repository.NewIntentRepository(db)
	matches := repository.NewMatchRepository(db)
	tasks := repository.NewSettlementTaskRepository(db)
	replay := repository.NewDBReplayLedger(db)

	admission := NewAdmissionService(intents, replay, verifier, publisher, cfg)
	matching := NewMatchingService(intents, matches, tasks, publisher, admission.MatchTrigger(), cfg)

	var settlement *SettlementService
	if ledger != nil {
		settlement = NewSettlementService(intents, matches, tasks, ledger, publisher, cfg)
	}
	return admission, matching, settlement
}
