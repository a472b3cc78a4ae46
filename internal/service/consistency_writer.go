package service

import (
	"context"
	"time"

	"github.com/devrev/pairdb/directclient/internal/client"
	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"go.uber.org/zap"
)

// Writer applies mutating requests on the primary replica
type Writer interface {
	Write(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error)
}

// WriteBarrierConfig bounds the wait for a global strong write to commit in
// every read region
type WriteBarrierConfig struct {
	MaxRetries       int
	ShortDelay       time.Duration
	LongDelay        time.Duration
	ShortDelayRounds int
}

// ConsistencyWriter writes to the primary and, for global strong accounts,
// holds the response until the write is globally committed
type ConsistencyWriter struct {
	selector  *AddressSelector
	transport client.TransportClient
	reader    ReplicaReader
	refresher BackgroundRefresher
	config    ServiceConfigReader
	clock     clock.Clock
	barrier   WriteBarrierConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewConsistencyWriter creates a consistency writer
func NewConsistencyWriter(
	selector *AddressSelector,
	transport client.TransportClient,
	reader ReplicaReader,
	refresher BackgroundRefresher,
	config ServiceConfigReader,
	clk clock.Clock,
	barrier WriteBarrierConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ConsistencyWriter {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencyWriter{
		selector:  selector,
		transport: transport,
		reader:    reader,
		refresher: refresher,
		config:    config,
		clock:     clk,
		barrier:   barrier,
		metrics:   m,
		logger:    logger,
	}
}

// Write implements Writer
func (w *ConsistencyWriter) Write(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error) {
	rc := req.Context
	rc.TimeoutHelper = timeoutHelper
	if err := checkTimeout(req); err != nil {
		return nil, err
	}

	// A previous attempt already wrote; only the barrier is left
	if rc.GlobalStrongWriteResponse != nil {
		return w.awaitGlobalCommit(ctx, req, rc.GlobalStrongWriteResponse)
	}

	primary, err := w.selector.ResolvePrimaryURI(ctx, req, forceRefresh)
	if err != nil {
		return nil, err
	}

	resp, err := w.transport.Invoke(ctx, primary, req)
	if err != nil {
		if storeerrors.IsGoneFamily(err) || storeerrors.GetCode(err) == storeerrors.ErrCodeServiceUnavailable {
			w.refresher.RefreshInBackground(req)
		}
		w.logger.Debug("Primary write failed",
			zap.String("physical_address", primary),
			zap.String("activity_id", req.ActivityID),
			zap.Error(err))
		return nil, err
	}
	w.refresher.RefreshInBackground(req)

	if !w.IsGlobalStrongRequest(req, resp) {
		return resp, nil
	}

	lsn, globalCommittedLSN := GetLSNAndGlobalCommittedLSN(resp)
	if lsn == model.UnknownLSN || globalCommittedLSN == model.UnknownLSN {
		return nil, storeerrors.Gone("global strong write response carries no LSN", nil).
			WithResponseContext(req.ResourcePath, primary, resp.Headers)
	}

	rc.GlobalStrongWriteResponse = resp
	rc.GlobalCommittedSelectedLSN = lsn
	rc.ForceRefreshAddressCache = false
	if globalCommittedLSN >= lsn {
		return resp, nil
	}
	return w.awaitGlobalCommit(ctx, req, resp)
}

func (w *ConsistencyWriter) awaitGlobalCommit(ctx context.Context, req *model.Request, resp *model.StoreResponse) (*model.StoreResponse, error) {
	committed, err := w.WaitForWriteBarrier(ctx, req.NewBarrierRequest(), req.Context.GlobalCommittedSelectedLSN)
	if err != nil {
		return nil, err
	}
	if !committed {
		w.logger.Warn("Global strong write not committed in every region",
			zap.String("activity_id", req.ActivityID),
			zap.Int64("lsn", req.Context.GlobalCommittedSelectedLSN))
		return nil, storeerrors.Gone("global strong write barrier not met", nil).
			WithResponseContext(req.ResourcePath, "", resp.Headers)
	}
	return resp, nil
}

// IsGlobalStrongRequest reports whether the write must be acknowledged by
// every read region before it completes
func (w *ConsistencyWriter) IsGlobalStrongRequest(req *model.Request, resp *model.StoreResponse) bool {
	return w.config.DefaultConsistencyLevel() == model.ConsistencyStrong && resp.NumberOfReadRegions() > 0
}

// WaitForWriteBarrier polls replicas until one reports a global committed
// LSN of at least selectedGlobalCommittedLSN
func (w *ConsistencyWriter) WaitForWriteBarrier(ctx context.Context, barrier *model.Request, selectedGlobalCommittedLSN int64) (bool, error) {
	for round := 1; round <= w.barrier.MaxRetries; round++ {
		if err := checkTimeout(barrier); err != nil {
			return false, err
		}

		results, err := w.reader.ReadMultipleReplicas(ctx, barrier, true, 1, true, false, model.ReadModeStrong, false, false)
		if err != nil {
			return false, err
		}
		for _, res := range validResults(results) {
			if res.GlobalCommittedLSN >= selectedGlobalCommittedLSN {
				w.metrics.RecordBarrier("write", "met", round)
				return true, nil
			}
		}

		delay := w.barrier.LongDelay
		if round <= w.barrier.ShortDelayRounds {
			delay = w.barrier.ShortDelay
		}
		if err := w.clock.Sleep(ctx, delay); err != nil {
			return false, storeerrors.RequestTimeout("cancelled while waiting on a write barrier", err).
				WithResponseContext(barrier.ResourcePath, "", nil)
		}
	}

	w.metrics.RecordBarrier("write", "not_met", w.barrier.MaxRetries)
	return false, nil
}

// GetLSNAndGlobalCommittedLSN extracts the LSN and global committed LSN of a
// response. Either is UnknownLSN when absent or malformed.
func GetLSNAndGlobalCommittedLSN(resp *model.StoreResponse) (int64, int64) {
	return resp.LSN(), resp.GlobalCommittedLSN()
}
