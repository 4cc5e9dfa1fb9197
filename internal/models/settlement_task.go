package models

import (
	"time"
)

// SettlementTaskStatus retry-queue entry state
type SettlementTaskStatus string

const (
	SettlementTaskStatusPending    SettlementTaskStatus = "pending"    // waiting for a worker
	SettlementTaskStatusProcessing SettlementTaskStatus = "processing" // worker holds it
	SettlementTaskStatusSubmitted  SettlementTaskStatus = "submitted"  // tx accepted, awaiting confirmation
	SettlementTaskStatusConfirmed  SettlementTaskStatus = "confirmed"  // settled on-chain
	SettlementTaskStatusAbandoned  SettlementTaskStatus = "abandoned"  // terminal, never retried again
)

// SettlementTask queue entry driving one match through on-chain settlement.
// Transport failures and domain failures are counted separately: transport
// errors back off and retry, consecutive domain failures cross a terminal
// threshold after which the task is abandoned.
type SettlementTask struct {
	ID      string               `json:"id" gorm:"primaryKey;size:36"` // UUID
	MatchID string               `json:"match_id" gorm:"uniqueIndex;size:36"`
	Status  SettlementTaskStatus `json:"status" gorm:"not null;default:pending;index"`

	TxHash string `json:"tx_hash" gorm:"size:66"`

	TransientRetries    int `json:"transient_retries" gorm:"default:0"`
	DomainFailures      int `json:"domain_failures" gorm:"default:0"` // consecutive
	MaxTransientRetries int `json:"max_transient_retries" gorm:"default:8"`
	MaxDomainFailures   int `json:"max_domain_failures" gorm:"default:5"`

	NextRetryAt *time.Time `json:"next_retry_at" gorm:"index"`
	LastError   string     `json:"last_error" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// TableName specifies the table name
func (SettlementTask) TableName() string {
	return "settlement_tasks"
}

// NextBackoff computes the exponential backoff delay for the current
// retry count, capped at max.
func NextBackoff(retries int, base, max time.Duration) time.Duration {
	if retries > 30 {
		retries = 30
	}
	delay := base * time.Duration(1<<uint(retries))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// RecordTransient registers a transport-level failure and schedules the
// next attempt. Transient failures reset the consecutive domain counter.
func (t *SettlementTask) RecordTransient(errorMsg string, now time.Time, base, max time.Duration) {
	t.TransientRetries++
	t.DomainFailures = 0
	t.LastError = errorMsg
	t.Status = SettlementTaskStatusPending
	next := now.Add(NextBackoff(t.TransientRetries, base, max))
	t.NextRetryAt = &next

	if t.TransientRetries >= t.MaxTransientRetries {
		t.Status = SettlementTaskStatusAbandoned
		resolved := now
		t.ResolvedAt = &resolved
	}
}

// RecordDomain registers a domain-level failure (insufficient balance or
// allowance, proof rejected at settlement time). Crossing the consecutive
// threshold abandons the task.
func (t *SettlementTask) RecordDomain(errorMsg string, now time.Time, base, max time.Duration) {
	t.DomainFailures++
	t.LastError = errorMsg
	t.Status = SettlementTaskStatusPending
	next := now.Add(NextBackoff(t.DomainFailures, base, max))
	t.NextRetryAt = &next

	if t.DomainFailures >= t.MaxDomainFailures {
		t.Status = SettlementTaskStatusAbandoned
		resolved := now
		t.ResolvedAt = &resolved
	}
}

// MarkConfirmed records successful on-chain settlement
func (t *SettlementTask) MarkConfirmed(txHash string, now time.Time) {
	t.Status = SettlementTaskStatusConfirmed
	t.TxHash = txHash
	resolved := now
	t.ResolvedAt = &resolved
}

// ShouldRun reports whether a worker may pick up the task at now
func (t *SettlementTask) ShouldRun(now time.Time) bool {
	if t.Status != SettlementTaskStatusPending {
		return false
	}
	return t.NextRetryAt == nil || !now.Before(*t.NextRetryAt)
}
