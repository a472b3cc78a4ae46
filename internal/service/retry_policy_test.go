package service

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetryConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		WaitTimeout:             30 * time.Second,
		InitialGoneBackoff:      time.Second,
		MaxGoneBackoff:          15 * time.Second,
		InitialRetryWithBackoff: 10 * time.Millisecond,
		MaxRetryWithBackoff:     time.Second,
		MaxInvalidPartition:     2,
		MaxPartitionMigrating:   2,
	}
}

func statusError(status, subStatus int) *storeerrors.StoreError {
	headers := http.Header{}
	if subStatus != 0 {
		headers.Set(model.HeaderSubStatus, strconv.Itoa(subStatus))
	}
	return storeerrors.FromStatus(status, headers, nil, "dbs/db/colls/c/docs/d1", "https://replica-1/")
}

func TestRetryPolicy_GoneBackoffSchedule(t *testing.T) {
	clk := clock.NewFake(time.Now())
	policy := NewGoneAndRetryWithRetryPolicy(newTestRequest(model.OperationCreate), testRetryConfig(), clk)

	wantBackoffs := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantBackoffs {
		decision := policy.ShouldRetry(storeerrors.Gone("replica unreachable", nil))
		require.True(t, decision.ShouldRetry, "attempt %d", i+1)
		assert.Equal(t, want, decision.Backoff, "attempt %d", i+1)
		assert.Equal(t, i+1, decision.Args.AttemptCount)
		assert.True(t, decision.Args.ForceRefresh)
		assert.NoError(t, decision.Err)
	}
}

func TestRetryPolicy_GoneBackoffCapped(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testRetryConfig()
	cfg.WaitTimeout = time.Hour
	policy := NewGoneAndRetryWithRetryPolicy(newTestRequest(model.OperationRead), cfg, clk)

	var last time.Duration
	for i := 0; i < 8; i++ {
		last = policy.ShouldRetry(storeerrors.Gone("replica unreachable", nil)).Backoff
	}
	assert.Equal(t, 15*time.Second, last)
}

func TestRetryPolicy_InvalidPartition(t *testing.T) {
	clk := clock.NewFake(time.Now())
	req := newTestRequest(model.OperationRead)
	policy := NewGoneAndRetryWithRetryPolicy(req, testRetryConfig(), clk)
	invalid := statusError(http.StatusGone, model.SubStatusNameCacheIsStale)
	require.Equal(t, storeerrors.ErrCodeInvalidPartition, invalid.Code)

	var decisions []RetryDecision
	for i := 0; i < 3; i++ {
		req.Context.QuorumSelectedLSN = 100
		req.Context.ResolvedPartitionKeyRange = &model.PartitionKeyRange{ID: "0"}
		req.Context.GlobalCommittedSelectedLSN = 99
		decisions = append(decisions, policy.ShouldRetry(invalid))
	}

	assert.True(t, decisions[0].ShouldRetry)
	assert.True(t, decisions[1].ShouldRetry)
	assert.False(t, decisions[2].ShouldRetry)

	terminal := decisions[2].Err
	require.Error(t, terminal)
	se, ok := storeerrors.AsStoreError(terminal)
	require.True(t, ok)
	assert.Equal(t, storeerrors.ErrCodeServiceUnavailable, se.Code)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.ErrorIs(t, terminal, invalid)

	assert.Equal(t, model.UnknownLSN, req.Context.QuorumSelectedLSN)
	assert.Nil(t, req.Context.ResolvedPartitionKeyRange)
	assert.Equal(t, model.UnknownLSN, req.Context.GlobalCommittedSelectedLSN)
	assert.True(t, req.Context.ForceCollectionRoutingMapRefresh)
}

func TestRetryPolicy_PartitionMigrating(t *testing.T) {
	clk := clock.NewFake(time.Now())
	req := newTestRequest(model.OperationCreate)
	policy := NewGoneAndRetryWithRetryPolicy(req, testRetryConfig(), clk)
	migrating := statusError(http.StatusGone, model.SubStatusCompletingPartitionMigration)

	first := policy.ShouldRetry(migrating)
	second := policy.ShouldRetry(migrating)
	third := policy.ShouldRetry(migrating)

	assert.True(t, first.ShouldRetry)
	assert.True(t, first.Args.ForceRefresh)
	assert.True(t, second.ShouldRetry)
	assert.False(t, third.ShouldRetry)
	assert.Equal(t, storeerrors.ErrCodeServiceUnavailable, storeerrors.GetCode(third.Err))
	assert.True(t, req.Context.ForceCollectionRoutingMapRefresh)
}

func TestRetryPolicy_SplittingBoundedByDeadline(t *testing.T) {
	clk := clock.NewFake(time.Now())
	req := newTestRequest(model.OperationRead)
	policy := NewGoneAndRetryWithRetryPolicy(req, testRetryConfig(), clk)
	splitting := statusError(http.StatusGone, model.SubStatusCompletingSplit)

	attempts := 0
	for {
		req.Context.ResolvedPartitionKeyRange = &model.PartitionKeyRange{ID: "0"}
		req.Context.QuorumSelectedLSN = 5
		decision := policy.ShouldRetry(splitting)
		attempts++
		if !decision.ShouldRetry {
			assert.Equal(t, storeerrors.ErrCodeServiceUnavailable, storeerrors.GetCode(decision.Err))
			break
		}
		assert.Nil(t, req.Context.ResolvedPartitionKeyRange)
		assert.Equal(t, model.UnknownLSN, req.Context.QuorumSelectedLSN)
		assert.True(t, req.Context.ForcePartitionKeyRangeRefresh)
		assert.Equal(t, attempts, decision.Args.SplittingAttempts)
		clk.Advance(decision.Backoff)
	}

	assert.Equal(t, 7, attempts)
}

func TestRetryPolicy_NonRetriableErrors(t *testing.T) {
	tests := []error{
		storeerrors.BadRequest("malformed", nil),
		statusError(http.StatusNotFound, 0),
		statusError(http.StatusConflict, 0),
		storeerrors.RequestTimeout("timed out", nil),
		storeerrors.ServiceUnavailable("unknown write outcome", nil),
	}

	for _, err := range tests {
		t.Run(storeerrors.GetCode(err).String(), func(t *testing.T) {
			policy := NewGoneAndRetryWithRetryPolicy(newTestRequest(model.OperationCreate), testRetryConfig(), clock.NewFake(time.Now()))
			for i := 0; i < 3; i++ {
				decision := policy.ShouldRetry(err)
				assert.False(t, decision.ShouldRetry)
				assert.Same(t, err, decision.Err)
			}
		})
	}
}

func TestRetryPolicy_RetryWith(t *testing.T) {
	clk := clock.NewFake(time.Now())
	policy := NewGoneAndRetryWithRetryPolicy(newTestRequest(model.OperationReplace), testRetryConfig(), clk)
	retryWith := statusError(storeerrors.StatusRetryWith, 0)

	var backoffs []time.Duration
	for i := 0; i < 9; i++ {
		decision := policy.ShouldRetry(retryWith)
		require.True(t, decision.ShouldRetry)
		backoffs = append(backoffs, decision.Backoff)
	}

	assert.Equal(t, 10*time.Millisecond, backoffs[0])
	assert.Equal(t, 20*time.Millisecond, backoffs[1])
	assert.Equal(t, 640*time.Millisecond, backoffs[6])
	assert.Equal(t, time.Second, backoffs[8])

	clk.Advance(31 * time.Second)
	decision := policy.ShouldRetry(retryWith)
	assert.False(t, decision.ShouldRetry)
	assert.Same(t, retryWith, decision.Err)
}

func TestRetryPolicy_ExhaustedBudget(t *testing.T) {
	clk := clock.NewFake(time.Now())
	policy := NewGoneAndRetryWithRetryPolicy(newTestRequest(model.OperationCreate), testRetryConfig(), clk)

	clk.Advance(30 * time.Second)
	decision := policy.ShouldRetry(storeerrors.Gone("replica unreachable", nil).
		WithResponseContext("docs/d1", "https://replica-1/", nil))

	assert.False(t, decision.ShouldRetry)
	se, ok := storeerrors.AsStoreError(decision.Err)
	require.True(t, ok)
	assert.Equal(t, storeerrors.ErrCodeServiceUnavailable, se.Code)
	assert.Equal(t, "https://replica-1/", se.PhysicalAddress)
	assert.Equal(t, "Gone", se.Details["cause_code"])
}
