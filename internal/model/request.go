package model

import (
	"fmt"
	"strconv"

	"github.com/devrev/pairdb/directclient/internal/algorithm"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"github.com/google/uuid"
)

// PartitionKeyRange is the key-space shard a request was routed to
type PartitionKeyRange struct {
	ID           string `yaml:"id" json:"id"`
	MinInclusive string `yaml:"min_inclusive" json:"min_inclusive"`
	MaxExclusive string `yaml:"max_exclusive" json:"max_exclusive"`
}

// Request is one logical operation against the direct path. It is created once
// by the caller and mutated in place across retries.
type Request struct {
	ActivityID          string
	OperationType       OperationType
	ResourceType        ResourceType
	ResourcePath        string
	ConsistencyLevel    ConsistencyLevel
	SessionToken        string
	PartitionKey        string
	PartitionKeyRangeID string
	// DefaultReplicaIndex pins the request to one entry of the resolved address
	// list instead of the primary. An out-of-range index is a caller error.
	DefaultReplicaIndex *int
	Headers             map[string]string
	Body                []byte
	Context             *RequestContext
}

// RequestContext is the per-attempt state shared between the retry policy and
// the orchestration layer.
//
// The retry policy may mutate ForceRefreshAddressCache,
// ForceCollectionRoutingMapRefresh, ForcePartitionKeyRangeRefresh,
// ResolvedPartitionKeyRange, QuorumSelectedLSN, QuorumSelectedStoreResponse,
// GlobalCommittedSelectedLSN and GlobalStrongWriteResponse. Everything else is
// owned by the readers and writer.
type RequestContext struct {
	ForceRefreshAddressCache         bool
	ForceCollectionRoutingMapRefresh bool
	ForcePartitionKeyRangeRefresh    bool
	ResolvedPartitionKeyRange        *PartitionKeyRange

	QuorumSelectedLSN           int64
	QuorumSelectedStoreResponse *StoreResponse
	GlobalCommittedSelectedLSN  int64
	GlobalStrongWriteResponse   *StoreResponse

	// SessionLSN is the minimum LSN a session read must observe, UnknownLSN when none
	SessionLSN                      int64
	OriginalRequestConsistencyLevel ConsistencyLevel
	TimeoutHelper                   *clock.TimeoutHelper
	RequestCharge                   float64
}

// NewRequestContext returns a context with every LSN unknown
func NewRequestContext() *RequestContext {
	return &RequestContext{
		QuorumSelectedLSN:          UnknownLSN,
		GlobalCommittedSelectedLSN: UnknownLSN,
		SessionLSN:                 UnknownLSN,
	}
}

// NewRequest creates a request with a fresh activity id
func NewRequest(op OperationType, rt ResourceType, resourcePath string) *Request {
	return &Request{
		ActivityID:    uuid.NewString(),
		OperationType: op,
		ResourceType:  rt,
		ResourcePath:  resourcePath,
		Headers:       make(map[string]string),
		Context:       NewRequestContext(),
	}
}

// IsReadOnly reports whether the request can be served by any replica
func (r *Request) IsReadOnly() bool {
	return r.OperationType.IsReadOnly()
}

// WithReplicaIndex pins the request to an entry of the resolved address list
func (r *Request) WithReplicaIndex(index int) *Request {
	r.DefaultReplicaIndex = &index
	return r
}

// RoutingKey identifies the partition whose replicas serve this request. A
// resolved or hinted partition key range id wins; otherwise the partition key
// (or the resource path) is bucketed with Murmur3.
func (r *Request) RoutingKey() string {
	if r.Context != nil && r.Context.ResolvedPartitionKeyRange != nil && r.Context.ResolvedPartitionKeyRange.ID != "" {
		return r.Context.ResolvedPartitionKeyRange.ID
	}
	if r.PartitionKeyRangeID != "" {
		return r.PartitionKeyRangeID
	}
	key := r.PartitionKey
	if key == "" {
		key = r.ResourcePath
	}
	return "hash:" + strconv.FormatUint(uint64(algorithm.PartitionKeyHash(key)), 16)
}

// ClearRoutingState forgets everything learnt about the partition so the next
// attempt resolves it from scratch
func (r *Request) ClearRoutingState() {
	r.Context.QuorumSelectedLSN = UnknownLSN
	r.Context.QuorumSelectedStoreResponse = nil
	r.Context.ResolvedPartitionKeyRange = nil
	r.Context.GlobalCommittedSelectedLSN = UnknownLSN
}

// Clone copies the request. The context is copied by value so barrier requests
// do not leak state into the original.
func (r *Request) Clone() *Request {
	clone := *r
	clone.Headers = make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		clone.Headers[k] = v
	}
	if r.Context != nil {
		ctx := *r.Context
		clone.Context = &ctx
	}
	return &clone
}

// NewBarrierRequest derives a head request that reads replica progress for the
// same partition without touching the resource itself
func (r *Request) NewBarrierRequest() *Request {
	barrier := r.Clone()
	barrier.ActivityID = uuid.NewString()
	barrier.OperationType = OperationHead
	barrier.ResourceType = ResourceCollection
	barrier.Body = nil
	barrier.SessionToken = ""
	barrier.DefaultReplicaIndex = nil
	barrier.Context.ForceRefreshAddressCache = false
	return barrier
}

// String describes the request for logs and errors
func (r *Request) String() string {
	return fmt.Sprintf("%s %s %s", r.OperationType, r.ResourceType, r.ResourcePath)
}
