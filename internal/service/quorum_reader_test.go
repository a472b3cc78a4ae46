package service

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testQuorumConfig() QuorumReaderConfig {
	return QuorumReaderConfig{
		MaxReadRounds:           6,
		MaxBarrierRetries:       1,
		BarrierRetryInterval:    5 * time.Millisecond,
		MaxGlobalBarrierRetries: 30,
		ShortDelay:              10 * time.Millisecond,
		LongDelay:               30 * time.Millisecond,
		ShortDelayRounds:        4,
	}
}

func strongAccount() *StaticServiceConfig {
	return &StaticServiceConfig{DefaultLevel: model.ConsistencyStrong, UserReplicas: 4, SystemReplicas: 4}
}

// quorumResults builds results from replicas of a four-replica set
func quorumResults(lsns ...int64) []*StoreResult {
	results := make([]*StoreResult, len(lsns))
	for i, lsn := range lsns {
		results[i] = replicaResult("https://replica-"+strconv.Itoa(i+1)+"/", lsn, model.HeaderCurrentReplicaSetSize, "4")
	}
	return results
}

var (
	isDocumentRead = mock.MatchedBy(func(req *model.Request) bool { return req.OperationType == model.OperationRead })
	isBarrier      = mock.MatchedBy(func(req *model.Request) bool { return req.OperationType == model.OperationHead })
)

func newTestQuorumReader(reader *MockReplicaReader, config ServiceConfigReader) (*QuorumReader, *clock.Fake) {
	clk := clock.NewFake(time.Now())
	return NewQuorumReader(reader, config, clk, testQuorumConfig(), nil, zap.NewNop()), clk
}

func TestQuorumReader_QuorumMet(t *testing.T) {
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(10, 10, 10), nil).Once()
	quorum, clk := newTestQuorumReader(reader, strongAccount())

	resp, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))
	require.NoError(t, err)

	assert.Equal(t, int64(10), resp.LSN())
	assert.Empty(t, clk.Sleeps())
	reader.AssertExpectations(t)
}

func TestQuorumReader_QuorumSelectedWaitsOnBarrier(t *testing.T) {
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(10, 9, 9), nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(quorumResults(10, 9, 9, 9), nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(quorumResults(10, 10, 10, 9), nil).Once()
	quorum, clk := newTestQuorumReader(reader, strongAccount())

	req := newTestRequest(model.OperationRead)
	resp, err := quorum.ReadStrong(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(10), resp.LSN())
	assert.Equal(t, int64(10), req.Context.QuorumSelectedLSN)
	assert.NotNil(t, req.Context.QuorumSelectedStoreResponse)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, clk.Sleeps())
	reader.AssertExpectations(t)
}

func TestQuorumReader_ItemLSNBoundsReadLSN(t *testing.T) {
	results := quorumResults(10, 9, 9)
	results[0] = replicaResult("https://replica-1/", 10, model.HeaderCurrentReplicaSetSize, "4", model.HeaderItemLSN, "7")

	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(results, nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(quorumResults(10, 9, 9), nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	req := newTestRequest(model.OperationRead)
	resp, err := quorum.ReadStrong(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(10), resp.LSN())
	assert.Equal(t, int64(7), req.Context.QuorumSelectedLSN)
}

func TestQuorumReader_BoundedStalenessSkipsBarrier(t *testing.T) {
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeBoundedStaleness, false, false).
		Return(quorumResults(12, 11, 11), nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	resp, err := quorum.ReadBoundedStaleness(context.Background(), newTestRequest(model.OperationRead))
	require.NoError(t, err)

	assert.Equal(t, int64(12), resp.LSN())
	reader.AssertNotCalled(t, "ReadMultipleReplicas", mock.Anything, isBarrier, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQuorumReader_NotSelectedFallsBackToPrimary(t *testing.T) {
	primary := replicaResult(uriPrimary, 15,
		model.HeaderQuorumAckedLSN, "15",
		model.HeaderCurrentReplicaSetSize, "3")

	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(15, 15), nil).Once()
	reader.On("ReadPrimary", mock.Anything, isDocumentRead, true, false).Return(primary, nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	resp, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))
	require.NoError(t, err)

	assert.Equal(t, int64(15), resp.LSN())
	reader.AssertExpectations(t)
}

func TestQuorumReader_PrimaryWithoutProgressIsGone(t *testing.T) {
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(15), nil).Once()
	reader.On("ReadPrimary", mock.Anything, isDocumentRead, true, false).
		Return(replicaResult(uriPrimary, 15), nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	_, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))

	assert.Equal(t, storeerrors.ErrCodeGone, storeerrors.GetCode(err))
}

func TestQuorumReader_SecondNotSelectedIsServiceUnavailable(t *testing.T) {
	primary := replicaResult(uriPrimary, 15,
		model.HeaderQuorumAckedLSN, "14",
		model.HeaderCurrentReplicaSetSize, "4")

	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(15), nil).Twice()
	reader.On("ReadPrimary", mock.Anything, isDocumentRead, true, false).Return(primary, nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	_, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))

	assert.Equal(t, storeerrors.ErrCodeServiceUnavailable, storeerrors.GetCode(err))
	reader.AssertExpectations(t)
}

func TestQuorumReader_ReplicaSetSizeMismatchRetries(t *testing.T) {
	mismatched := quorumResults(10, 10, 10)
	mismatched[1] = replicaResult("https://replica-2/", 10, model.HeaderCurrentReplicaSetSize, "5")

	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(mismatched, nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(11, 11, 11), nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	req := newTestRequest(model.OperationRead)
	req.Context.ResolvedPartitionKeyRange = &model.PartitionKeyRange{ID: "0"}
	resp, err := quorum.ReadStrong(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(11), resp.LSN())
	assert.True(t, req.Context.ForceRefreshAddressCache)
	assert.Nil(t, req.Context.ResolvedPartitionKeyRange)
	reader.AssertExpectations(t)
}

func TestQuorumReader_ReportedReplicaSetRaisesQuorum(t *testing.T) {
	grown := func(lsns ...int64) []*StoreResult {
		results := make([]*StoreResult, len(lsns))
		for i, lsn := range lsns {
			results[i] = replicaResult("https://replica-"+strconv.Itoa(i+1)+"/", lsn, model.HeaderCurrentReplicaSetSize, "6")
		}
		return results
	}

	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(grown(20, 20, 20), nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 4, true, false, model.ReadModeStrong, false, false).
		Return(grown(20, 20, 20, 20), nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	resp, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))
	require.NoError(t, err)

	assert.Equal(t, int64(20), resp.LSN())
	reader.AssertExpectations(t)
}

func TestQuorumReader_PropagatesPartitionMoving(t *testing.T) {
	migrating := storeerrors.NewStoreError(storeerrors.ErrCodePartitionIsMigrating, http.StatusGone,
		model.SubStatusCompletingPartitionMigration, "migrating", nil)
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(nil, migrating).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	_, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))

	assert.Same(t, migrating, err)
}

func TestQuorumReader_GlobalStrongBarrier(t *testing.T) {
	regional := func(lsn, globalCommitted int64, count int) []*StoreResult {
		results := make([]*StoreResult, count)
		for i := range results {
			results[i] = replicaResult("https://replica-"+strconv.Itoa(i+1)+"/", lsn,
				model.HeaderCurrentReplicaSetSize, "4",
				model.HeaderNumberOfReadRegions, "1",
				model.HeaderGlobalCommittedLSN, strconv.FormatInt(globalCommitted, 10))
		}
		return results
	}

	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(regional(10, 8, 3), nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(regional(10, 8, 4), nil).Twice()
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(regional(10, 10, 4), nil).Once()
	quorum, clk := newTestQuorumReader(reader, strongAccount())

	req := newTestRequest(model.OperationRead)
	resp, err := quorum.ReadStrong(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(10), resp.LSN())
	assert.Equal(t, int64(10), req.Context.GlobalCommittedSelectedLSN)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, clk.Sleeps())
	reader.AssertExpectations(t)
}

func TestQuorumReader_ReusesSelectedResponse(t *testing.T) {
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(quorumResults(30, 30, 30), nil).Once()
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	req := newTestRequest(model.OperationRead)
	req.Context.QuorumSelectedStoreResponse = replicaResponse(30, model.HeaderCurrentReplicaSetSize, "4")
	req.Context.QuorumSelectedLSN = 30
	resp, err := quorum.ReadStrong(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(30), resp.LSN())
	reader.AssertNotCalled(t, "ReadMultipleReplicas", mock.Anything, isDocumentRead, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQuorumReader_RoundBudgetExhausted(t *testing.T) {
	reader := new(MockReplicaReader)
	reader.On("ReadMultipleReplicas", mock.Anything, isDocumentRead, true, 3, true, false, model.ReadModeStrong, false, false).
		Return(quorumResults(10, 9, 9), nil).Once()
	reader.On("ReadMultipleReplicas", mock.Anything, isBarrier, true, 3, true, false, model.ReadModeStrong, false, true).
		Return(quorumResults(10, 9, 9), nil)
	quorum, _ := newTestQuorumReader(reader, strongAccount())

	_, err := quorum.ReadStrong(context.Background(), newTestRequest(model.OperationRead))

	assert.Equal(t, storeerrors.ErrCodeServiceUnavailable, storeerrors.GetCode(err))
	reader.AssertNumberOfCalls(t, "ReadMultipleReplicas", 1+testQuorumConfig().MaxReadRounds)
}
