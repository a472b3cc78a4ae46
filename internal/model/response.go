package model

import (
	"net/http"
	"strconv"
)

// StoreResponse is the raw result of one request against one replica
type StoreResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// NewStoreResponse creates a store response, canonicalising header names
func NewStoreResponse(status int, headers map[string]string, body []byte) *StoreResponse {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &StoreResponse{Status: status, Headers: h, Body: body}
}

// Header returns a header value or the empty string
func (r *StoreResponse) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// LSN returns the replica log sequence number
func (r *StoreResponse) LSN() int64 {
	return ParseLSN(r.Header(HeaderLSN))
}

// GlobalCommittedLSN returns the LSN committed in all read regions
func (r *StoreResponse) GlobalCommittedLSN() int64 {
	return ParseLSN(r.Header(HeaderGlobalCommittedLSN))
}

// QuorumAckedLSN returns the LSN acknowledged by a write quorum
func (r *StoreResponse) QuorumAckedLSN() int64 {
	return ParseLSN(r.Header(HeaderQuorumAckedLSN))
}

// ItemLSN returns the LSN of the item that was read
func (r *StoreResponse) ItemLSN() int64 {
	return ParseLSN(r.Header(HeaderItemLSN))
}

// PartitionKeyRangeID returns the partition key range that served the request
func (r *StoreResponse) PartitionKeyRangeID() string {
	return r.Header(HeaderPartitionKeyRangeID)
}

// SessionToken returns the session token issued by the replica
func (r *StoreResponse) SessionToken() string {
	return r.Header(HeaderSessionToken)
}

// SubStatus returns the substatus code, 0 when absent
func (r *StoreResponse) SubStatus() int {
	return parseInt(r.Header(HeaderSubStatus), SubStatusUnknown)
}

// CurrentReplicaSetSize returns the replica set size reported by the service, 0 when absent
func (r *StoreResponse) CurrentReplicaSetSize() int {
	return parseInt(r.Header(HeaderCurrentReplicaSetSize), 0)
}

// CurrentWriteQuorum returns the write quorum reported by the service, 0 when absent
func (r *StoreResponse) CurrentWriteQuorum() int {
	return parseInt(r.Header(HeaderCurrentWriteQuorum), 0)
}

// NumberOfReadRegions returns the number of read regions, 0 when absent
func (r *StoreResponse) NumberOfReadRegions() int {
	return parseInt(r.Header(HeaderNumberOfReadRegions), 0)
}

// RequestCharge returns the request units charged, 0 when absent
func (r *StoreResponse) RequestCharge() float64 {
	v, err := strconv.ParseFloat(r.Header(HeaderRequestCharge), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseLSN parses an LSN header value, returning UnknownLSN when absent or malformed
func ParseLSN(value string) int64 {
	if value == "" {
		return UnknownLSN
	}
	lsn, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return UnknownLSN
	}
	return lsn
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return v
}
