package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"solver-backend/internal/interfaces"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
)

// seedMatchedPair creates a matched pair with its match and queue entry
func seedMatchedPair(t *testing.T, db *gorm.DB) (*models.Match, *models.SettlementTask) {
	t.Helper()
	base := time.Now().Add(-time.Minute)

	a := seedIntent(t, db, "0x0a", "0xa11ce", "0xaaa1", "0xbbb2", "100", "40", base)
	b := seedIntent(t, db, "0x0b", "0xb0b", "0xbbb2", "0xaaa1", "50", "90", base)

	now := time.Now()
	for _, intent := range []*models.Intent{a, b} {
		require.NoError(t, db.Model(intent).Updates(map[string]interface{}{
			"status":     models.IntentStatusMatched,
			"match_id":   "m1",
			"matched_at": &now,
		}).Error)
	}
	require.NoError(t, db.Model(a).Update("matched_with", b.Nullifier).Error)
	require.NoError(t, db.Model(b).Update("matched_with", a.Nullifier).Error)

	match := &models.Match{
		ID:         "m1",
		NullifierA: a.Nullifier,
		NullifierB: b.Nullifier,
		AmountAOut: "50",
		AmountBOut: "100",
		MatchedAt:  now,
	}
	require.NoError(t, db.Create(match).Error)

	task := &models.SettlementTask{
		ID:                  "t1",
		MatchID:             "m1",
		Status:              models.SettlementTaskStatusPending,
		MaxTransientRetries: 3,
		MaxDomainFailures:   5,
	}
	require.NoError(t, db.Create(task).Error)
	return match, task
}

func intentStatus(t *testing.T, db *gorm.DB, nullifier string) models.IntentStatus {
	t.Helper()
	intent, err := repository.NewIntentRepository(db).GetByNullifier(context.Background(), nullifier)
	require.NoError(t, err)
	return intent.Status
}

func TestSettlementSubmitsAndConfirms(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{nonce: 5, txStatus: interfaces.TxStatusConfirmed}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)

	settlement.runOnce(ctx)
	assert.Equal(t, 1, ledger.submitCalls)
	assert.Equal(t, uint64(5), ledger.lastSubmitNonce)

	tasks := repository.NewSettlementTaskRepository(db)
	task, err := tasks.GetByMatchID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementTaskStatusSubmitted, task.Status)
	assert.NotEmpty(t, task.TxHash)

	// Next pass observes the confirmation.
	settlement.runOnce(ctx)

	assert.Equal(t, models.IntentStatusSettled, intentStatus(t, db, "0x0a"))
	assert.Equal(t, models.IntentStatusSettled, intentStatus(t, db, "0x0b"))

	task, err = tasks.GetByMatchID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementTaskStatusConfirmed, task.Status)

	_, err = repository.NewMatchRepository(db).GetByID(ctx, "m1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	intent, err := repository.NewIntentRepository(db).GetByNullifier(ctx, "0x0a")
	require.NoError(t, err)
	assert.Equal(t, task.TxHash, intent.SettlementTxHash)
}

func TestSettlementNonceAdvancesAcrossSubmissions(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{nonce: 10, txStatus: interfaces.TxStatusPending}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	match, _ := seedMatchedPair(t, db)
	a, _ := repository.NewIntentRepository(db).GetByNullifier(ctx, match.NullifierA)
	b, _ := repository.NewIntentRepository(db).GetByNullifier(ctx, match.NullifierB)

	_, err := settlement.submitWithNonce(ctx, match, a, b)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), ledger.lastSubmitNonce)

	_, err = settlement.submitWithNonce(ctx, match, a, b)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), ledger.lastSubmitNonce, "cached nonce advances after acceptance")
	assert.Equal(t, 1, ledger.nonceCalls, "no re-fetch while submissions succeed")
}

func TestSettlementNonceMismatchResyncs(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{
		nonce:    20,
		txStatus: interfaces.TxStatusPending,
		submitErrs: []error{
			interfaces.NewSettleError(interfaces.SettleErrNonceMismatch, errors.New("nonce too low")),
			nil,
		},
	}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	match, _ := seedMatchedPair(t, db)
	a, _ := repository.NewIntentRepository(db).GetByNullifier(ctx, match.NullifierA)
	b, _ := repository.NewIntentRepository(db).GetByNullifier(ctx, match.NullifierB)

	txHash, err := settlement.submitWithNonce(ctx, match, a, b)
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)
	assert.Equal(t, 2, ledger.submitCalls)
	assert.Equal(t, 2, ledger.nonceCalls, "mismatch drops the cache and re-fetches")
}

func TestSettlementTransientFailureSchedulesRetry(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{
		txStatus: interfaces.TxStatusPending,
		submitErrs: []error{
			interfaces.NewSettleError(interfaces.SettleErrTransient, errors.New("connection refused")),
		},
	}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)
	settlement.runOnce(ctx)

	task, err := repository.NewSettlementTaskRepository(db).GetByMatchID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementTaskStatusPending, task.Status)
	assert.Equal(t, 1, task.TransientRetries)
	require.NotNil(t, task.NextRetryAt)
	assert.True(t, task.NextRetryAt.After(time.Now()))

	// Both intents stay matched while retries remain.
	assert.Equal(t, models.IntentStatusMatched, intentStatus(t, db, "0x0a"))
	assert.Equal(t, models.IntentStatusMatched, intentStatus(t, db, "0x0b"))
}

func TestSettlementTransientExhaustionRollsBackToPending(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{txStatus: interfaces.TxStatusPending}
	for i := 0; i < 3; i++ {
		ledger.submitErrs = append(ledger.submitErrs,
			interfaces.NewSettleError(interfaces.SettleErrTransient, errors.New("timeout")))
	}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)
	intents := repository.NewIntentRepository(db)
	before, err := intents.GetByNullifier(ctx, "0x0a")
	require.NoError(t, err)

	tasks := repository.NewSettlementTaskRepository(db)
	for i := 0; i < 3; i++ {
		// Clear the backoff so every attempt is due immediately.
		task, err := tasks.GetByMatchID(ctx, "m1")
		require.NoError(t, err)
		task.NextRetryAt = nil
		require.NoError(t, tasks.Save(ctx, task))
		settlement.runOnce(ctx)
	}

	// Transport exhaustion with both sides still viable: back to the book.
	assert.Equal(t, models.IntentStatusPending, intentStatus(t, db, "0x0a"))
	assert.Equal(t, models.IntentStatusPending, intentStatus(t, db, "0x0b"))

	after, err := intents.GetByNullifier(ctx, "0x0a")
	require.NoError(t, err)
	assert.Equal(t, before.CreatedAt.Unix(), after.CreatedAt.Unix(),
		"rollback preserves the original arrival time")
	assert.Empty(t, after.MatchID)
	assert.Empty(t, after.MatchedWith)

	_, err = repository.NewMatchRepository(db).GetByID(ctx, "m1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSettlementDomainThresholdFailsBothSides(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{txStatus: interfaces.TxStatusPending}
	for i := 0; i < 5; i++ {
		ledger.submitErrs = append(ledger.submitErrs,
			interfaces.NewSettleError(interfaces.SettleErrDomain, errors.New("insufficient balance")))
	}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)
	tasks := repository.NewSettlementTaskRepository(db)
	for i := 0; i < 5; i++ {
		task, err := tasks.GetByMatchID(ctx, "m1")
		require.NoError(t, err)
		task.NextRetryAt = nil
		require.NoError(t, tasks.Save(ctx, task))
		settlement.runOnce(ctx)
	}

	// Domain-terminal abandonment: the ledger would reject this pair
	// again, so neither side returns to the book.
	assert.Equal(t, models.IntentStatusFailed, intentStatus(t, db, "0x0a"))
	assert.Equal(t, models.IntentStatusFailed, intentStatus(t, db, "0x0b"))

	_, err := repository.NewMatchRepository(db).GetByID(ctx, "m1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSettlementIdempotentWhenAlreadySettledOnChain(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{
		txStatus: interfaces.TxStatusPending,
		settled:  map[string]bool{"0x0a": true},
	}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)
	settlement.runOnce(ctx)

	assert.Equal(t, 0, ledger.submitCalls, "no duplicate submission for a settled pair")
	assert.Equal(t, models.IntentStatusSettled, intentStatus(t, db, "0x0a"))
	assert.Equal(t, models.IntentStatusSettled, intentStatus(t, db, "0x0b"))
}

func TestConfirmMatchManual(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{txStatus: interfaces.TxStatusPending}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)
	require.NoError(t, settlement.ConfirmMatch(ctx, "m1", "0xmanual"))

	assert.Equal(t, models.IntentStatusSettled, intentStatus(t, db, "0x0a"))
	intent, err := repository.NewIntentRepository(db).GetByNullifier(ctx, "0x0b")
	require.NoError(t, err)
	assert.Equal(t, "0xmanual", intent.SettlementTxHash)

	_, err = repository.NewMatchRepository(db).GetByID(ctx, "m1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSettlementExpiredSideGoesExpiredOnTransportAbandon(t *testing.T) {
	db := newTestDB(t)
	ledger := &stubLedger{txStatus: interfaces.TxStatusPending}
	for i := 0; i < 3; i++ {
		ledger.submitErrs = append(ledger.submitErrs,
			interfaces.NewSettleError(interfaces.SettleErrTransient, errors.New("timeout")))
	}
	_, _, settlement := newServices(t, db, nil, ledger)
	ctx := context.Background()

	seedMatchedPair(t, db)
	// One side's deadline passes while settlement is failing.
	require.NoError(t, db.Model(&models.Intent{}).
		Where("nullifier = ?", "0x0a").
		Update("deadline", time.Now().Add(-time.Minute).Unix()).Error)

	tasks := repository.NewSettlementTaskRepository(db)
	for i := 0; i < 3; i++ {
		task, err := tasks.GetByMatchID(ctx, "m1")
		require.NoError(t, err)
		task.NextRetryAt = nil
		require.NoError(t, tasks.Save(ctx, task))
		settlement.runOnce(ctx)
	}

	assert.Equal(t, models.IntentStatusExpired, intentStatus(t, db, "0x0a"))
	assert.Equal(t, models.IntentStatusFailed, intentStatus(t, db, "0x0b"))
}
