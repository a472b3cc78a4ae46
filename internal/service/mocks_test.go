package service

import (
	"context"
	"strconv"
	"sync"

	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"github.com/stretchr/testify/mock"
)

// MockAddressResolver is a mock implementation of AddressResolver
type MockAddressResolver struct {
	mock.Mock
}

func (m *MockAddressResolver) Resolve(ctx context.Context, req *model.Request, forceRefresh bool) ([]model.AddressInformation, error) {
	args := m.Called(ctx, req, forceRefresh)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AddressInformation), args.Error(1)
}

// MockAddressSource is a mock implementation of store.AddressSource
type MockAddressSource struct {
	mock.Mock
}

func (m *MockAddressSource) Lookup(ctx context.Context, routingKey string, forceRefresh bool) (*model.PartitionKeyRange, []model.AddressInformation, error) {
	args := m.Called(ctx, routingKey, forceRefresh)
	var pkRange *model.PartitionKeyRange
	if args.Get(0) != nil {
		pkRange = args.Get(0).(*model.PartitionKeyRange)
	}
	var addresses []model.AddressInformation
	if args.Get(1) != nil {
		addresses = args.Get(1).([]model.AddressInformation)
	}
	return pkRange, addresses, args.Error(2)
}

// MockTransportClient is a mock implementation of client.TransportClient
type MockTransportClient struct {
	mock.Mock
}

func (m *MockTransportClient) Invoke(ctx context.Context, physicalAddress string, req *model.Request) (*model.StoreResponse, error) {
	args := m.Called(ctx, physicalAddress, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StoreResponse), args.Error(1)
}

func (m *MockTransportClient) Close() error {
	return nil
}

// MockRefresher is a mock implementation of BackgroundRefresher
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) RefreshInBackground(req *model.Request) {
	m.Called(req)
}

// MockReplicaReader is a mock implementation of ReplicaReader
type MockReplicaReader struct {
	mock.Mock
}

func (m *MockReplicaReader) ReadMultipleReplicas(ctx context.Context, req *model.Request, includePrimary bool, replicaCountToRead int,
	requiresValidLSN, useSessionToken bool, readMode model.ReadMode, checkMinLSN, forceReadAll bool) ([]*StoreResult, error) {
	args := m.Called(ctx, req, includePrimary, replicaCountToRead, requiresValidLSN, useSessionToken, readMode, checkMinLSN, forceReadAll)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*StoreResult), args.Error(1)
}

func (m *MockReplicaReader) ReadPrimary(ctx context.Context, req *model.Request, requiresValidLSN, useSessionToken bool) (*StoreResult, error) {
	args := m.Called(ctx, req, requiresValidLSN, useSessionToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoreResult), args.Error(1)
}

// MockQuorumReads is a mock implementation of QuorumReads
type MockQuorumReads struct {
	mock.Mock
}

func (m *MockQuorumReads) ReadStrong(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StoreResponse), args.Error(1)
}

func (m *MockQuorumReads) ReadBoundedStaleness(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StoreResponse), args.Error(1)
}

// MockWriter is a mock implementation of Writer
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) Write(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error) {
	args := m.Called(ctx, req, timeoutHelper, forceRefresh)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StoreResponse), args.Error(1)
}

// MockReader is a mock implementation of Reader
type MockReader struct {
	mock.Mock
}

func (m *MockReader) Read(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error) {
	args := m.Called(ctx, req, timeoutHelper, forceRefresh)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StoreResponse), args.Error(1)
}

// recordingRefresher counts background refreshes without mock expectations
type recordingRefresher struct {
	mu    sync.Mutex
	count int
}

func (r *recordingRefresher) RefreshInBackground(req *model.Request) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func (r *recordingRefresher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// replicaResponse builds a 200 response carrying replication progress
func replicaResponse(lsn int64, headers ...string) *model.StoreResponse {
	h := map[string]string{model.HeaderLSN: strconv.FormatInt(lsn, 10)}
	for i := 0; i+1 < len(headers); i += 2 {
		h[headers[i]] = headers[i+1]
	}
	return model.NewStoreResponse(200, h, nil)
}

// replicaResult builds a valid StoreResult for a replica
func replicaResult(uri string, lsn int64, headers ...string) *StoreResult {
	return NewStoreResult(replicaResponse(lsn, headers...), nil, uri, true)
}

func testAddresses() []model.AddressInformation {
	return []model.AddressInformation{
		{PhysicalURI: "https://replica-1:10250/p0/1p/", Protocol: model.ProtocolHTTPS, IsPrimary: true},
		{PhysicalURI: "https://replica-2:10250/p0/2s/", Protocol: model.ProtocolHTTPS},
		{PhysicalURI: "https://replica-3:10250/p0/3s/", Protocol: model.ProtocolHTTPS},
		{PhysicalURI: "https://replica-4:10250/p0/4s/", Protocol: model.ProtocolHTTPS},
	}
}

func newTestRequest(op model.OperationType) *model.Request {
	req := model.NewRequest(op, model.ResourceDocument, "dbs/db/colls/c/docs/d1")
	req.PartitionKeyRangeID = "0"
	return req
}
