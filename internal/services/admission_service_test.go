package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solver-backend/internal/dto"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/models"
)

func TestSubmitAdmitsValidIntent(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	req := submitReq("0xa11ce", 1)
	intent, err := admission.Submit(ctx, req, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, models.IntentStatusPending, intent.Status)
	assert.NotEmpty(t, intent.IntentID)
	assert.Equal(t, "corr-1", intent.Correlation)
	assert.Equal(t, "100", intent.AmountIn)

	// Admission signals the matching engine.
	select {
	case <-admission.MatchTrigger():
	default:
		t.Fatal("expected a match trigger after admission")
	}
}

func TestSubmitRejectsExpiredDeadline(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)

	req := submitReq("0xa11ce", 1)
	req.Deadline = time.Now().Add(-time.Minute).Unix()

	_, err := admission.Submit(context.Background(), req, "")
	var rejectErr *RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeExpiredIntent, rejectErr.Code)

	// A deadline inside the grace window is rejected too.
	req = submitReq("0xa11ce", 2)
	req.Deadline = time.Now().Add(2 * time.Second).Unix()
	_, err = admission.Submit(context.Background(), req, "")
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeExpiredIntent, rejectErr.Code)
}

func TestSubmitRejectsNonceReplay(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	_, err := admission.Submit(ctx, submitReq("0xa11ce", 7), "")
	require.NoError(t, err)

	// Different intent, same (user, nonce).
	_, err = admission.Submit(ctx, submitReq("0xa11ce", 7), "")
	var rejectErr *RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeNonceReplay, rejectErr.Code)

	// Another user may use the same nonce value.
	_, err = admission.Submit(ctx, submitReq("0xb0b", 7), "")
	assert.NoError(t, err)
}

func TestSubmitConcurrentSameNonceAdmitsOne(t *testing.T) {
	db := newTestDB(t)
	// In-memory sqlite gives each pooled connection its own database;
	// a single connection keeps every goroutine on the same store.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	// Distinct intents racing on the same (user, nonce). Requests are
	// built up front; the sequence counter is not goroutine safe.
	const racers = 8
	reqs := make([]*dto.SubmitIntentRequest, racers)
	for i := range reqs {
		reqs[i] = submitReq("0xa11ce", 7)
	}

	var admitted, replayed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(req *dto.SubmitIntentRequest) {
			defer wg.Done()
			_, err := admission.Submit(ctx, req, "")
			if err == nil {
				admitted.Add(1)
				return
			}
			var rejectErr *RejectError
			if assert.ErrorAs(t, err, &rejectErr) {
				assert.Equal(t, CodeNonceReplay, rejectErr.Code)
				replayed.Add(1)
			}
		}(reqs[i])
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted.Load(), "exactly one racing submission may win")
	assert.Equal(t, int64(racers-1), replayed.Load())
}

func TestSubmitRejectsDuplicateNullifierAndFreesNonce(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	first := submitReq("0xa11ce", 1)
	_, err := admission.Submit(ctx, first, "")
	require.NoError(t, err)

	// Same nullifier resubmitted with a fresh nonce.
	dup := submitReq("0xa11ce", 2)
	dup.Nullifier = first.Nullifier
	_, err = admission.Submit(ctx, dup, "")
	var rejectErr *RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeDuplicateIntent, rejectErr.Code)

	// The rejected submission consumed nothing: nonce 2 is still free.
	_, err = admission.Submit(ctx, submitReq("0xa11ce", 2), "")
	assert.NoError(t, err)
}

func TestSubmitInvalidProofRejectsAndFreesNonce(t *testing.T) {
	db := newTestDB(t)
	verifier := &stubVerifier{result: interfaces.VerifyResult{
		Outcome: interfaces.VerifyInvalid,
		Reason:  "pairing check failed",
	}}
	admission, _, _ := newServices(t, db, verifier, nil)
	ctx := context.Background()

	_, err := admission.Submit(ctx, submitReq("0xa11ce", 1), "")
	var rejectErr *RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeInvalidProof, rejectErr.Code)
	assert.Equal(t, "pairing check failed", rejectErr.Message)
	assert.Equal(t, 1, verifier.calls)

	// The nonce must be reusable after the rejection.
	verifier.result = interfaces.VerifyResult{Outcome: interfaces.VerifyValid}
	_, err = admission.Submit(ctx, submitReq("0xa11ce", 1), "")
	assert.NoError(t, err)
}

func TestSubmitProceedsWhenVerifierUnavailable(t *testing.T) {
	db := newTestDB(t)
	verifier := &stubVerifier{result: interfaces.VerifyResult{
		Outcome: interfaces.VerifyUnavailable,
		Reason:  "connection refused",
	}}
	admission, _, _ := newServices(t, db, verifier, nil)

	intent, err := admission.Submit(context.Background(), submitReq("0xa11ce", 1), "")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPending, intent.Status)
}

func TestSubmitShapeValidation(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	var rejectErr *RejectError

	req := submitReq("0xa11ce", 1)
	req.AmountIn = "0"
	_, err := admission.Submit(ctx, req, "")
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeInvalidRequest, rejectErr.Code)

	req = submitReq("0xa11ce", 2)
	req.MinAmountOut = "-1"
	_, err = admission.Submit(ctx, req, "")
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeInvalidRequest, rejectErr.Code)

	req = submitReq("0xa11ce", 3)
	req.TokenOut = req.TokenIn
	_, err = admission.Submit(ctx, req, "")
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeInvalidRequest, rejectErr.Code)

	req = submitReq("0xa11ce", 4)
	req.Nullifier = "not-hex"
	_, err = admission.Submit(ctx, req, "")
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeInvalidRequest, rejectErr.Code)
}

func TestCancelPendingIntent(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	req := submitReq("0xa11ce", 1)
	intent, err := admission.Submit(ctx, req, "")
	require.NoError(t, err)

	cancelled, err := admission.Cancel(ctx, intent.Nullifier, "0xa11ce")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.ResolvedAt)

	// Cancelling again is an invalid state transition.
	_, err = admission.Cancel(ctx, intent.Nullifier, "0xa11ce")
	var rejectErr *RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeInvalidState, rejectErr.Code)
}

func TestCancelEnforcesOwnership(t *testing.T) {
	db := newTestDB(t)
	admission, _, _ := newServices(t, db, nil, nil)
	ctx := context.Background()

	intent, err := admission.Submit(ctx, submitReq("0xa11ce", 1), "")
	require.NoError(t, err)

	_, err = admission.Cancel(ctx, intent.Nullifier, "0xb0b")
	var rejectErr *RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeNotFound, rejectErr.Code)

	_, err = admission.Cancel(ctx, "0xdeadbeef", "0xa11ce")
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, CodeNotFound, rejectErr.Code)
}
