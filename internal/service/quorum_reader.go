package service

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/pairdb/directclient/internal/algorithm"
	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"go.uber.org/zap"
)

// QuorumReads serves reads that must observe a quorum of replicas
type QuorumReads interface {
	ReadStrong(ctx context.Context, req *model.Request) (*model.StoreResponse, error)
	ReadBoundedStaleness(ctx context.Context, req *model.Request) (*model.StoreResponse, error)
}

// QuorumReaderConfig bounds the rounds of a quorum read
type QuorumReaderConfig struct {
	MaxReadRounds        int
	MaxBarrierRetries    int
	BarrierRetryInterval time.Duration

	// Global strong barriers poll longer, with a short delay for the first
	// ShortDelayRounds rounds and a long one afterwards
	MaxGlobalBarrierRetries int
	ShortDelay              time.Duration
	LongDelay               time.Duration
	ShortDelayRounds        int
}

type quorumOutcome int

const (
	quorumNotSelected quorumOutcome = iota
	quorumSelected
	quorumMet
	quorumReplicaSetMismatch
)

var quorumOutcomeLabels = map[quorumOutcome]string{
	quorumNotSelected:        "not_selected",
	quorumSelected:           "selected",
	quorumMet:                "met",
	quorumReplicaSetMismatch: "replica_set_mismatch",
}

type readQuorumResult struct {
	outcome            quorumOutcome
	quorum             int
	lsn                int64
	globalCommittedLSN int64
	selected           *StoreResult
}

// QuorumReader implements strong and bounded staleness reads. A read first
// looks for a quorum of replicas at the highest LSN. Failing that, a strong
// read waits on a barrier until the selected LSN is quorum-committed, and a
// read that could not reach enough secondaries falls back to the primary once.
type QuorumReader struct {
	reader     ReplicaReader
	config     ServiceConfigReader
	calculator *algorithm.QuorumCalculator
	clock      clock.Clock
	cfg        QuorumReaderConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewQuorumReader creates a quorum reader
func NewQuorumReader(reader ReplicaReader, config ServiceConfigReader, clk clock.Clock, cfg QuorumReaderConfig, m *metrics.Metrics, logger *zap.Logger) *QuorumReader {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuorumReader{
		reader:     reader,
		config:     config,
		calculator: algorithm.NewQuorumCalculator(),
		clock:      clk,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// ReadStrong implements QuorumReads
func (q *QuorumReader) ReadStrong(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	return q.read(ctx, req, model.ReadModeStrong)
}

// ReadBoundedStaleness implements QuorumReads
func (q *QuorumReader) ReadBoundedStaleness(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	return q.read(ctx, req, model.ReadModeBoundedStaleness)
}

func (q *QuorumReader) read(ctx context.Context, req *model.Request, mode model.ReadMode) (*model.StoreResponse, error) {
	configured := replicationPolicyFor(q.config, req).MaxReplicaSetSize
	readQuorum := q.calculator.CalculateQuorum(configured)
	if readQuorum == 0 {
		return nil, storeerrors.InternalServerError(
			fmt.Sprintf("replication policy has no replicas for %s", req.ResourceType), nil)
	}
	readFromPrimary := false

	for round := 1; round <= q.cfg.MaxReadRounds; round++ {
		if err := checkTimeout(req); err != nil {
			return nil, err
		}

		result, err := q.readQuorum(ctx, req, configured, readQuorum, mode)
		if err != nil {
			return nil, err
		}
		q.metrics.RecordQuorumOutcome(quorumOutcomeLabels[result.outcome])

		switch result.outcome {
		case quorumMet:
			return result.selected.ToResponse()

		case quorumSelected:
			if mode == model.ReadModeBoundedStaleness {
				return result.selected.ToResponse()
			}
			met, err := q.waitForReadBarrier(ctx, req.NewBarrierRequest(), result.quorum, result.lsn, result.globalCommittedLSN, mode)
			if err != nil {
				return nil, err
			}
			if met {
				return result.selected.ToResponse()
			}
			q.logger.Debug("Read barrier not met",
				zap.String("activity_id", req.ActivityID),
				zap.Int64("lsn", result.lsn),
				zap.Int("round", round))

		case quorumReplicaSetMismatch:
			req.ClearRoutingState()
			req.Context.ForceRefreshAddressCache = true

		case quorumNotSelected:
			if result.quorum > readQuorum {
				readQuorum = result.quorum
				continue
			}
			if readFromPrimary {
				return nil, storeerrors.ServiceUnavailable(
					fmt.Sprintf("could not reach read quorum of %d replicas", readQuorum), nil).
					WithResponseContext(req.ResourcePath, "", nil)
			}
			readFromPrimary = true

			res, retryOnSecondary, err := q.readPrimary(ctx, req, readQuorum)
			if err != nil {
				return nil, err
			}
			if !retryOnSecondary {
				return res.ToResponse()
			}
		}
	}

	return nil, storeerrors.ServiceUnavailable(
		fmt.Sprintf("read quorum not reached after %d rounds", q.cfg.MaxReadRounds), nil).
		WithResponseContext(req.ResourcePath, "", nil)
}

// readQuorum reads readQuorum replicas and classifies what they agree on. A
// response selected by an earlier attempt is reused so only its barrier is retried.
func (q *QuorumReader) readQuorum(ctx context.Context, req *model.Request, configured, readQuorum int, mode model.ReadMode) (*readQuorumResult, error) {
	rc := req.Context
	if rc.QuorumSelectedStoreResponse != nil {
		selected := NewStoreResult(rc.QuorumSelectedStoreResponse, nil, "", true)
		return &readQuorumResult{
			outcome:            quorumSelected,
			quorum:             q.calculator.ReadQuorum(configured, selected.CurrentReplicaSetSize),
			lsn:                rc.QuorumSelectedLSN,
			globalCommittedLSN: rc.GlobalCommittedSelectedLSN,
			selected:           selected,
		}, nil
	}

	results, err := q.reader.ReadMultipleReplicas(ctx, req, true, readQuorum, true, false, mode, false, false)
	if err != nil {
		return nil, err
	}
	valid := validResults(results)
	if len(valid) < readQuorum {
		return &readQuorumResult{outcome: quorumNotSelected, quorum: readQuorum}, nil
	}

	reported := 0
	for _, res := range valid {
		if res.CurrentReplicaSetSize == 0 {
			continue
		}
		if reported != 0 && res.CurrentReplicaSetSize != reported {
			q.logger.Info("Replicas disagree on replica set size",
				zap.String("activity_id", req.ActivityID),
				zap.Int("first", reported),
				zap.Int("second", res.CurrentReplicaSetSize))
			return &readQuorumResult{outcome: quorumReplicaSetMismatch, quorum: readQuorum}, nil
		}
		reported = res.CurrentReplicaSetSize
	}

	quorum := q.calculator.ReadQuorum(configured, reported)
	if len(valid) < quorum {
		return &readQuorumResult{outcome: quorumNotSelected, quorum: quorum}, nil
	}

	var selected *StoreResult
	maxGlobalCommitted := model.UnknownLSN
	for _, res := range valid {
		if selected == nil || res.LSN > selected.LSN {
			selected = res
		}
		if res.GlobalCommittedLSN > maxGlobalCommitted {
			maxGlobalCommitted = res.GlobalCommittedLSN
		}
	}
	atMax := 0
	for _, res := range valid {
		if res.LSN == selected.LSN {
			atMax++
		}
	}

	readLSN := selected.LSN
	if selected.ItemLSN != model.UnknownLSN && selected.ItemLSN < readLSN {
		readLSN = selected.ItemLSN
	}

	globalStrong := q.config.DefaultConsistencyLevel() == model.ConsistencyStrong && selected.NumberOfReadRegions > 0
	met := atMax >= quorum && readLSN > 0
	if met && globalStrong {
		met = maxGlobalCommitted >= readLSN
	}
	if met {
		return &readQuorumResult{outcome: quorumMet, quorum: quorum, lsn: readLSN, globalCommittedLSN: maxGlobalCommitted, selected: selected}, nil
	}

	targetGlobalCommitted := model.UnknownLSN
	if globalStrong {
		targetGlobalCommitted = readLSN
	}
	rc.QuorumSelectedLSN = readLSN
	rc.GlobalCommittedSelectedLSN = targetGlobalCommitted
	rc.QuorumSelectedStoreResponse = selected.Response
	return &readQuorumResult{
		outcome:            quorumSelected,
		quorum:             quorum,
		lsn:                readLSN,
		globalCommittedLSN: targetGlobalCommitted,
		selected:           selected,
	}, nil
}

// waitForReadBarrier polls replica progress until quorum replicas reach lsn
// and, for global strong reads, some replica reports globalCommittedLSN
func (q *QuorumReader) waitForReadBarrier(ctx context.Context, barrier *model.Request, quorum int, lsn, globalCommittedLSN int64, mode model.ReadMode) (bool, error) {
	rounds := 0
	poll := func() (bool, error) {
		rounds++
		results, err := q.reader.ReadMultipleReplicas(ctx, barrier, true, quorum, true, false, mode, false, true)
		if err != nil {
			return false, err
		}
		caughtUp := 0
		maxGlobalCommitted := model.UnknownLSN
		for _, res := range validResults(results) {
			if res.LSN >= lsn {
				caughtUp++
			}
			if res.GlobalCommittedLSN > maxGlobalCommitted {
				maxGlobalCommitted = res.GlobalCommittedLSN
			}
		}
		return caughtUp >= quorum && (globalCommittedLSN <= 0 || maxGlobalCommitted >= globalCommittedLSN), nil
	}

	for i := 0; i < q.cfg.MaxBarrierRetries; i++ {
		met, err := poll()
		if err != nil {
			return false, err
		}
		if met {
			q.metrics.RecordBarrier("read", "met", rounds)
			return true, nil
		}
		if err := q.sleep(ctx, barrier, q.cfg.BarrierRetryInterval); err != nil {
			return false, err
		}
	}

	if globalCommittedLSN > 0 {
		for i := 0; i < q.cfg.MaxGlobalBarrierRetries; i++ {
			met, err := poll()
			if err != nil {
				return false, err
			}
			if met {
				q.metrics.RecordBarrier("read_global", "met", rounds)
				return true, nil
			}
			delay := q.cfg.LongDelay
			if i < q.cfg.ShortDelayRounds {
				delay = q.cfg.ShortDelay
			}
			if err := q.sleep(ctx, barrier, delay); err != nil {
				return false, err
			}
		}
	}

	q.metrics.RecordBarrier("read", "not_met", rounds)
	return false, nil
}

// readPrimary reads the primary once. The primary alone is authoritative only
// when the replica set has shrunk to the read quorum and it has nothing
// unacknowledged; otherwise the caller goes back to the secondaries.
func (q *QuorumReader) readPrimary(ctx context.Context, req *model.Request, readQuorum int) (*StoreResult, bool, error) {
	res, err := q.reader.ReadPrimary(ctx, req, true, false)
	if err != nil {
		return nil, false, err
	}
	if !res.IsValid || res.CurrentReplicaSetSize <= 0 || res.LSN < 0 || res.QuorumAckedLSN < 0 {
		return nil, false, storeerrors.Gone("primary response carries no replication progress", nil).
			WithResponseContext(req.ResourcePath, res.StorePhysicalAddress, nil)
	}
	if res.CurrentReplicaSetSize > readQuorum || res.LSN != res.QuorumAckedLSN {
		q.logger.Debug("Primary read not authoritative, retrying on secondaries",
			zap.String("activity_id", req.ActivityID),
			zap.Int("replica_set_size", res.CurrentReplicaSetSize),
			zap.Int64("lsn", res.LSN),
			zap.Int64("quorum_acked_lsn", res.QuorumAckedLSN))
		return nil, true, nil
	}
	return res, false, nil
}

func (q *QuorumReader) sleep(ctx context.Context, req *model.Request, d time.Duration) error {
	if err := q.clock.Sleep(ctx, d); err != nil {
		return storeerrors.RequestTimeout("cancelled while waiting on a read barrier", err).
			WithResponseContext(req.ResourcePath, "", nil)
	}
	return nil
}
