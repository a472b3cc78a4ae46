package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/store"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"go.uber.org/zap"
)

// ReplicatedResourceClient is the entry point of the direct path. It runs
// the retry loop of one request around the consistency reader and writer.
type ReplicatedResourceClient struct {
	reader         Reader
	writer         Writer
	sessions       store.SessionStore
	clock          clock.Clock
	retry          RetryPolicyConfig
	requestTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewReplicatedResourceClient creates the client. sessions may be nil.
func NewReplicatedResourceClient(
	reader Reader,
	writer Writer,
	sessions store.SessionStore,
	clk clock.Clock,
	retry RetryPolicyConfig,
	requestTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReplicatedResourceClient {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplicatedResourceClient{
		reader:         reader,
		writer:         writer,
		sessions:       sessions,
		clock:          clk,
		retry:          retry,
		requestTimeout: requestTimeout,
		metrics:        m,
		logger:         logger,
	}
}

// Invoke executes req, retrying transient replica and topology failures
// within the retry budget. Attempts never overlap.
func (c *ReplicatedResourceClient) Invoke(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	if req.Context == nil {
		req.Context = model.NewRequestContext()
	}
	start := time.Now()
	overall := clock.NewTimeoutHelper(c.clock, c.requestTimeout)
	policy := NewGoneAndRetryWithRetryPolicy(req, c.retry, c.clock)
	forceRefresh := false

	for attempt := 1; ; attempt++ {
		if overall.IsElapsed() {
			err := storeerrors.RequestTimeout(fmt.Sprintf("request timed out after %d attempts", attempt-1), nil).
				WithResponseContext(req.ResourcePath, "", nil)
			c.record(req, err, start)
			return nil, err
		}

		attemptTimeout := clock.NewTimeoutHelper(c.clock, overall.RemainingTime())
		resp, err := c.dispatch(ctx, req, attemptTimeout, forceRefresh)
		if err == nil {
			c.captureSessionToken(ctx, req, resp)
			c.record(req, nil, start)
			return resp, nil
		}

		decision := policy.ShouldRetry(err)
		if !decision.ShouldRetry {
			c.logger.Debug("Request failed",
				zap.String("activity_id", req.ActivityID),
				zap.String("request", req.String()),
				zap.Int("attempts", attempt),
				zap.Error(decision.Err))
			c.record(req, decision.Err, start)
			return nil, decision.Err
		}

		c.metrics.RecordRetry(storeerrors.GetCode(err).String())
		c.logger.Debug("Retrying request",
			zap.String("activity_id", req.ActivityID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", decision.Backoff),
			zap.Bool("force_refresh", decision.Args.ForceRefresh),
			zap.Error(err))

		if err := c.clock.Sleep(ctx, decision.Backoff); err != nil {
			timeout := storeerrors.RequestTimeout("cancelled while backing off", err).
				WithResponseContext(req.ResourcePath, "", nil)
			c.record(req, timeout, start)
			return nil, timeout
		}
		forceRefresh = decision.Args.ForceRefresh
		req.Context.ForceRefreshAddressCache = forceRefresh
	}
}

func (c *ReplicatedResourceClient) dispatch(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error) {
	if req.OperationType.IsWriteOperation() {
		return c.writer.Write(ctx, req, timeoutHelper, forceRefresh)
	}
	return c.reader.Read(ctx, req, timeoutHelper, forceRefresh)
}

// captureSessionToken keeps the most advanced session token seen for the
// partition that served the request
func (c *ReplicatedResourceClient) captureSessionToken(ctx context.Context, req *model.Request, resp *model.StoreResponse) {
	if c.sessions == nil {
		return
	}
	raw := resp.SessionToken()
	if raw == "" {
		return
	}
	rangeID := resp.PartitionKeyRangeID()
	if rangeID == "" {
		rangeID = partitionKeyRangeIDOf(req)
	}

	token, ok := model.SessionTokenForRange(raw, rangeID)
	if !ok {
		token, ok = model.ParseSessionToken(raw)
	}
	if !ok {
		c.logger.Warn("Ignoring malformed session token",
			zap.String("activity_id", req.ActivityID),
			zap.String("session_token", raw))
		return
	}
	if rangeID == "" {
		rangeID = token.PartitionKeyRangeID
	}

	existing, err := c.sessions.Get(ctx, rangeID)
	switch {
	case err == nil:
		if current, ok := model.ParseSessionToken(existing); ok && current.GlobalLSN >= token.GlobalLSN {
			return
		}
	case !errors.Is(err, store.ErrNotFound):
		c.logger.Warn("Session token lookup failed",
			zap.String("partition_key_range_id", rangeID),
			zap.Error(err))
	}

	if err := c.sessions.Set(ctx, rangeID, token.Raw); err != nil {
		c.logger.Warn("Failed to store session token",
			zap.String("partition_key_range_id", rangeID),
			zap.Error(err))
	}
}

func (c *ReplicatedResourceClient) record(req *model.Request, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = storeerrors.GetCode(err).String()
	}
	level := req.ConsistencyLevel
	if level == model.ConsistencyUnspecified {
		level = "Default"
	}
	c.metrics.RecordOperation(req.OperationType.String(), string(level), status, time.Since(start).Seconds())
}
