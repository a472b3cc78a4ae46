package service

import (
	"fmt"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
)

// RetryPolicyConfig bounds GoneAndRetryWithRetryPolicy
type RetryPolicyConfig struct {
	// WaitTimeout is the budget shared by every retry of one request
	WaitTimeout             time.Duration
	InitialGoneBackoff      time.Duration
	MaxGoneBackoff          time.Duration
	InitialRetryWithBackoff time.Duration
	MaxRetryWithBackoff     time.Duration
	// MaxInvalidPartition and MaxPartitionMigrating count retries; one more
	// occurrence fails the request
	MaxInvalidPartition   int
	MaxPartitionMigrating int
}

// PolicyArgs describes the policy state after a decision
type PolicyArgs struct {
	ForceRefresh             bool
	AttemptCount             int
	InvalidPartitionAttempts int
	MigratingAttempts        int
	SplittingAttempts        int
	RetryWithAttempts        int
}

// RetryDecision is the outcome of GoneAndRetryWithRetryPolicy.ShouldRetry.
// When ShouldRetry is false Err is the error to surface.
type RetryDecision struct {
	ShouldRetry bool
	Backoff     time.Duration
	Err         error
	Args        PolicyArgs
}

// GoneAndRetryWithRetryPolicy decides whether a failed attempt of one request
// is retried and how long to wait first. It never performs I/O; it only
// resets the request context fields the next attempt must re-learn:
// ForceRefreshAddressCache is left to the caller through PolicyArgs, while
// ForceCollectionRoutingMapRefresh, ForcePartitionKeyRangeRefresh and the
// routing state cleared by Request.ClearRoutingState are updated in place.
//
// A policy belongs to a single request and is not safe for concurrent use.
type GoneAndRetryWithRetryPolicy struct {
	req   *model.Request
	cfg   RetryPolicyConfig
	clock clock.Clock
	start time.Time

	attemptCount     int
	goneBackoff      time.Duration
	retryWithBackoff time.Duration

	invalidPartitionCount int
	migratingCount        int
	splittingAttempts     int
	retryWithAttempts     int
}

// NewGoneAndRetryWithRetryPolicy starts the retry budget of req now
func NewGoneAndRetryWithRetryPolicy(req *model.Request, cfg RetryPolicyConfig, clk clock.Clock) *GoneAndRetryWithRetryPolicy {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &GoneAndRetryWithRetryPolicy{
		req:                   req,
		cfg:                   cfg,
		clock:                 clk,
		start:                 clk.Now(),
		attemptCount:          1,
		goneBackoff:           cfg.InitialGoneBackoff,
		retryWithBackoff:      cfg.InitialRetryWithBackoff,
		invalidPartitionCount: 1,
		migratingCount:        1,
	}
}

// ShouldRetry classifies err and decides the next step
func (p *GoneAndRetryWithRetryPolicy) ShouldRetry(err error) RetryDecision {
	code := storeerrors.GetCode(err)
	switch code {
	case storeerrors.ErrCodeGone,
		storeerrors.ErrCodeInvalidPartition,
		storeerrors.ErrCodePartitionKeyRangeGone,
		storeerrors.ErrCodePartitionKeyRangeIsSplitting,
		storeerrors.ErrCodePartitionIsMigrating,
		storeerrors.ErrCodeRetryWith:
	default:
		return RetryDecision{Err: err, Args: p.args(false)}
	}

	remaining := p.cfg.WaitTimeout - p.clock.Now().Sub(p.start)
	if remaining <= 0 {
		return p.exhausted(code, err)
	}

	if code == storeerrors.ErrCodeRetryWith {
		p.retryWithAttempts++
		backoff := minDuration(p.retryWithBackoff, remaining)
		p.retryWithBackoff = minDuration(p.retryWithBackoff*2, p.cfg.MaxRetryWithBackoff)
		return RetryDecision{ShouldRetry: true, Backoff: backoff, Args: p.args(false)}
	}

	currentAttempt := p.attemptCount
	var backoff time.Duration
	if p.attemptCount > 1 {
		backoff = minDuration(minDuration(p.goneBackoff, remaining), p.cfg.MaxGoneBackoff)
		p.goneBackoff *= 2
	}
	p.attemptCount++

	forceRefresh := false
	switch code {
	case storeerrors.ErrCodeGone:
		forceRefresh = true

	case storeerrors.ErrCodeInvalidPartition:
		p.resetPartition()
		if p.invalidPartitionCount > p.cfg.MaxInvalidPartition {
			return p.terminal(err, fmt.Sprintf("invalid partition after %d attempts", p.invalidPartitionCount))
		}
		p.invalidPartitionCount++

	case storeerrors.ErrCodePartitionIsMigrating:
		p.resetPartition()
		forceRefresh = true
		if p.migratingCount > p.cfg.MaxPartitionMigrating {
			return p.terminal(err, fmt.Sprintf("partition still migrating after %d attempts", p.migratingCount))
		}
		p.migratingCount++

	case storeerrors.ErrCodePartitionKeyRangeIsSplitting, storeerrors.ErrCodePartitionKeyRangeGone:
		rc := p.req.Context
		rc.ResolvedPartitionKeyRange = nil
		rc.QuorumSelectedLSN = model.UnknownLSN
		rc.ForcePartitionKeyRangeRefresh = true
		p.splittingAttempts++
	}

	args := p.args(forceRefresh)
	args.AttemptCount = currentAttempt
	return RetryDecision{ShouldRetry: true, Backoff: backoff, Args: args}
}

// resetPartition forgets the partition so the next attempt re-resolves the
// routing map from scratch
func (p *GoneAndRetryWithRetryPolicy) resetPartition() {
	p.req.ClearRoutingState()
	p.req.Context.ForceCollectionRoutingMapRefresh = true
}

func (p *GoneAndRetryWithRetryPolicy) exhausted(code storeerrors.ErrorCode, err error) RetryDecision {
	if code == storeerrors.ErrCodeRetryWith {
		return RetryDecision{Err: err, Args: p.args(false)}
	}
	if code == storeerrors.ErrCodeInvalidPartition || code == storeerrors.ErrCodePartitionIsMigrating {
		p.resetPartition()
	}
	return p.terminal(err, fmt.Sprintf("retry budget of %s exhausted", p.cfg.WaitTimeout))
}

func (p *GoneAndRetryWithRetryPolicy) terminal(err error, reason string) RetryDecision {
	se := storeerrors.ServiceUnavailableFrom(err).WithDetail("reason", reason)
	args := p.args(false)
	se.WithDetail("attempts", args.AttemptCount)
	return RetryDecision{Err: se, Args: args}
}

func (p *GoneAndRetryWithRetryPolicy) args(forceRefresh bool) PolicyArgs {
	return PolicyArgs{
		ForceRefresh:             forceRefresh,
		AttemptCount:             p.attemptCount,
		InvalidPartitionAttempts: p.invalidPartitionCount,
		MigratingAttempts:        p.migratingCount,
		SplittingAttempts:        p.splittingAttempts,
		RetryWithAttempts:        p.retryWithAttempts,
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
