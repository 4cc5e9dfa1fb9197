package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"solver-backend/internal/models"
)

// ReplayLedger records which (user, nonce) pairs have been consumed.
// Reserve is an atomic check-and-set: exactly one caller wins for any
// given pair, regardless of concurrency.
type ReplayLedger interface {
	// Reserve claims the pair. Returns false when it was already claimed.
	Reserve(ctx context.Context, user string, nonce uint64, expiresAt time.Time) (bool, error)
	// Release frees a reservation made by a submission that was later
	// rejected, so the user can resubmit with the same nonce.
	Release(ctx context.Context, user string, nonce uint64) error
	// PurgeExpired drops reservations whose retention window has passed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// dbReplayLedger stores reservations in the primary database. The
// composite primary key on (user, nonce) makes the insert the atomic
// claim: losing racers get a duplicate key error.
type dbReplayLedger struct {
	db *gorm.DB
}

// NewDBReplayLedger creates a database-backed replay ledger
func NewDBReplayLedger(db *gorm.DB) ReplayLedger {
	return &dbReplayLedger{db: db}
}

func (l *dbReplayLedger) Reserve(ctx context.Context, user string, nonce uint64, expiresAt time.Time) (bool, error) {
	reservation := &models.NonceReservation{
		User:       user,
		Nonce:      nonce,
		ReservedAt: time.Now(),
		ExpiresAt:  expiresAt,
	}
	err := l.db.WithContext(ctx).Create(reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *dbReplayLedger) Release(ctx context.Context, user string, nonce uint64) error {
	return l.db.WithContext(ctx).
		Where("\"user\" = ? AND nonce = ?", user, nonce).
		Delete(&models.NonceReservation{}).Error
}

func (l *dbReplayLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.NonceReservation{})
	return result.RowsAffected, result.Error
}

// redisReplayLedger stores reservations as Redis keys with SET NX and a
// TTL, so expiry is handled by Redis itself and PurgeExpired is a no-op.
type redisReplayLedger struct {
	client *redis.Client
}

// NewRedisReplayLedger creates a Redis-backed replay ledger
func NewRedisReplayLedger(client *redis.Client) ReplayLedger {
	return &redisReplayLedger{client: client}
}

func nonceKey(user string, nonce uint64) string {
	return fmt.Sprintf("nonce:%s:%d", user, nonce)
}

func (l *redisReplayLedger) Reserve(ctx context.Context, user string, nonce uint64, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return l.client.SetNX(ctx, nonceKey(user, nonce), "1", ttl).Result()
}

func (l *redisReplayLedger) Release(ctx context.Context, user string, nonce uint64) error {
	return l.client.Del(ctx, nonceKey(user, nonce)).Err()
}

func (l *redisReplayLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	// Redis key TTLs handle expiry.
	return 0, nil
}
