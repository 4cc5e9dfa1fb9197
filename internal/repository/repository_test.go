package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solver-backend/internal/models"
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

func newIntent(nullifier, user string, createdAt time.Time) *models.Intent {
	return &models.Intent{
		Nullifier:    nullifier,
		IntentID:     fmt.Sprintf("id-%s", nullifier),
		User:         user,
		TokenIn:      "0xaaa",
		TokenOut:     "0xbbb",
		AmountIn:     "100",
		MinAmountOut: "40",
		Nonce:        1,
		Deadline:     time.Now().Add(time.Hour).Unix(),
		Status:       models.IntentStatusPending,
		CreatedAt:    createdAt,
	}
}

func TestIntentRepositoryCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	intent := newIntent("0x01", "0xu1", time.Now())
	require.NoError(t, repo.Create(ctx, intent))

	got, err := repo.GetByNullifier(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentID, got.IntentID)
	assert.Equal(t, models.IntentStatusPending, got.Status)

	// Duplicate nullifier hits the primary key.
	dup := newIntent("0x01", "0xu2", time.Now())
	dup.IntentID = "other"
	assert.ErrorIs(t, repo.Create(ctx, dup), gorm.ErrDuplicatedKey)
}

func TestIntentRepositoryPendingOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute).Truncate(time.Second)
	// Same timestamp for 0x03 and 0x02 forces the nullifier tiebreak.
	require.NoError(t, repo.Create(ctx, newIntent("0x03", "0xu1", base)))
	require.NoError(t, repo.Create(ctx, newIntent("0x02", "0xu2", base)))
	require.NoError(t, repo.Create(ctx, newIntent("0x01", "0xu3", base.Add(time.Second))))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "0x02", pending[0].Nullifier)
	assert.Equal(t, "0x03", pending[1].Nullifier)
	assert.Equal(t, "0x01", pending[2].Nullifier)
}

func TestTransitionStatusCAS(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newIntent("0x01", "0xu1", time.Now())))

	ok, err := repo.TransitionStatus(ctx, "0x01",
		models.IntentStatusPending, models.IntentStatusMatched,
		map[string]interface{}{"match_id": "m1"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses: the row is no longer pending.
	ok, err = repo.TransitionStatus(ctx, "0x01",
		models.IntentStatusPending, models.IntentStatusMatched, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByNullifier(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusMatched, got.Status)
	assert.Equal(t, "m1", got.MatchID)
}

func TestTransitionStatusRejectsIllegalTransition(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newIntent("0x01", "0xu1", time.Now())))

	_, err := repo.TransitionStatus(ctx, "0x01",
		models.IntentStatusPending, models.IntentStatusSettled, nil)
	assert.Error(t, err)
}

func TestExpirePendingLeavesMatchedAlone(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).Unix()

	expired := newIntent("0x01", "0xu1", time.Now())
	expired.Deadline = past
	require.NoError(t, repo.Create(ctx, expired))

	matched := newIntent("0x02", "0xu2", time.Now())
	matched.Deadline = past
	matched.Status = models.IntentStatusMatched
	require.NoError(t, repo.Create(ctx, matched))

	alive := newIntent("0x03", "0xu3", time.Now())
	require.NoError(t, repo.Create(ctx, alive))

	count, err := repo.ExpirePending(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, _ := repo.GetByNullifier(ctx, "0x01")
	assert.Equal(t, models.IntentStatusExpired, got.Status)
	got, _ = repo.GetByNullifier(ctx, "0x02")
	assert.Equal(t, models.IntentStatusMatched, got.Status)
	got, _ = repo.GetByNullifier(ctx, "0x03")
	assert.Equal(t, models.IntentStatusPending, got.Status)
}

func TestExpirePendingDeadlineBoundary(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	cutoff := time.Unix(1_700_000_000, 0)

	atCutoff := newIntent("0x01", "0xu1", time.Now())
	atCutoff.Deadline = cutoff.Unix()
	require.NoError(t, repo.Create(ctx, atCutoff))

	before := newIntent("0x02", "0xu2", time.Now())
	before.Deadline = cutoff.Unix() - 1
	require.NoError(t, repo.Create(ctx, before))

	count, err := repo.ExpirePending(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A deadline equal to the cutoff second is still live, matching
	// the strict comparison used when intents are checked individually.
	got, _ := repo.GetByNullifier(ctx, "0x01")
	assert.Equal(t, models.IntentStatusPending, got.Status)
	got, _ = repo.GetByNullifier(ctx, "0x02")
	assert.Equal(t, models.IntentStatusExpired, got.Status)
}

func TestCountByStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newIntent("0x01", "0xu1", time.Now())))
	require.NoError(t, repo.Create(ctx, newIntent("0x02", "0xu2", time.Now())))
	settled := newIntent("0x03", "0xu3", time.Now())
	settled.Status = models.IntentStatusSettled
	require.NoError(t, repo.Create(ctx, settled))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.IntentStatusPending])
	assert.Equal(t, int64(1), counts[models.IntentStatusSettled])
}

func TestDBReplayLedgerReserve(t *testing.T) {
	db := newTestDB(t)
	ledger := NewDBReplayLedger(db)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	ok, err := ledger.Reserve(ctx, "0xu1", 7, expires)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same pair: exactly one caller may win.
	ok, err = ledger.Reserve(ctx, "0xu1", 7, expires)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different nonce and different user are independent.
	ok, err = ledger.Reserve(ctx, "0xu1", 8, expires)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ledger.Reserve(ctx, "0xu2", 7, expires)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDBReplayLedgerReserveConcurrent(t *testing.T) {
	db := newTestDB(t)
	// In-memory sqlite gives each pooled connection its own database;
	// a single connection keeps every goroutine on the same ledger.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ledger := NewDBReplayLedger(db)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	const workers = 16
	var wins atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			ok, err := ledger.Reserve(ctx, "0xu1", 7, expires)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(),
		"exactly one racing reservation may win")
}

func TestDBReplayLedgerReleaseAndPurge(t *testing.T) {
	db := newTestDB(t)
	ledger := NewDBReplayLedger(db)
	ctx := context.Background()

	ok, err := ledger.Reserve(ctx, "0xu1", 7, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Release(ctx, "0xu1", 7))
	ok, err = ledger.Reserve(ctx, "0xu1", 7, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "released reservation can be claimed again")

	ok, err = ledger.Reserve(ctx, "0xu2", 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	purged, err := ledger.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestSettlementTaskRepositoryListDue(t *testing.T) {
	db := newTestDB(t)
	repo := NewSettlementTaskRepository(db)
	ctx := context.Background()
	now := time.Now()

	due := &models.SettlementTask{ID: "t1", MatchID: "m1", Status: models.SettlementTaskStatusPending}
	require.NoError(t, repo.Create(ctx, due))

	future := now.Add(time.Hour)
	notYet := &models.SettlementTask{ID: "t2", MatchID: "m2", Status: models.SettlementTaskStatusPending, NextRetryAt: &future}
	require.NoError(t, repo.Create(ctx, notYet))

	done := &models.SettlementTask{ID: "t3", MatchID: "m3", Status: models.SettlementTaskStatusConfirmed}
	require.NoError(t, repo.Create(ctx, done))

	tasks, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
}

func TestMatchRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	match := &models.Match{
		ID:         "m1",
		NullifierA: "0x01",
		NullifierB: "0x02",
		AmountAOut: "50",
		AmountBOut: "100",
		MatchedAt:  time.Now(),
	}
	require.NoError(t, repo.Create(ctx, match))

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "0x01", got.NullifierA)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, repo.Delete(ctx, "m1"))
	_, err = repo.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
