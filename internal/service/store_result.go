package service

import (
	"fmt"
	"net/http"
	"strconv"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
)

// StoreResult is the outcome of one request against one replica: either a
// response or a classified failure, plus the progress headers either carried
type StoreResult struct {
	Response *model.StoreResponse
	Err      *storeerrors.StoreError

	LSN                   int64
	GlobalCommittedLSN    int64
	QuorumAckedLSN        int64
	ItemLSN               int64
	CurrentReplicaSetSize int
	CurrentWriteQuorum    int
	NumberOfReadRegions   int
	RequestCharge         float64
	PartitionKeyRangeID   string
	SessionToken          string
	StorePhysicalAddress  string

	IsValid                     bool
	IsGoneException             bool
	IsInvalidPartitionException bool
	IsNotFoundException         bool
}

// NewStoreResult builds the result of one replica call. With requiresValidLSN
// a result only counts when it carries a parseable LSN; a Gone failure never
// counts unless it is the stale-name-cache variant.
func NewStoreResult(resp *model.StoreResponse, err error, physicalAddress string, requiresValidLSN bool) *StoreResult {
	if err != nil {
		return newStoreResultFromError(err, physicalAddress, requiresValidLSN)
	}

	r := &StoreResult{
		Response:             resp,
		StorePhysicalAddress: physicalAddress,
	}
	r.readHeaders(resp.Headers)
	r.IsValid = !requiresValidLSN || r.LSN >= 0
	return r
}

func newStoreResultFromError(err error, physicalAddress string, requiresValidLSN bool) *StoreResult {
	se, ok := storeerrors.AsStoreError(err)
	if !ok {
		se = storeerrors.ServiceUnavailable("unexpected replica failure", err).
			WithResponseContext("", physicalAddress, nil)
	}

	r := &StoreResult{
		Err:                  se,
		StorePhysicalAddress: physicalAddress,
	}
	r.readHeaders(se.Headers)
	if se.LSN != model.UnknownLSN {
		r.LSN = se.LSN
	}

	staleNameCache := se.StatusCode == http.StatusGone && se.SubStatus == model.SubStatusNameCacheIsStale
	r.IsGoneException = se.StatusCode == http.StatusGone && !staleNameCache
	r.IsInvalidPartitionException = staleNameCache
	r.IsNotFoundException = se.StatusCode == http.StatusNotFound
	r.IsValid = !requiresValidLSN || ((se.StatusCode != http.StatusGone || staleNameCache) && r.LSN >= 0)
	return r
}

func (r *StoreResult) readHeaders(headers http.Header) {
	resp := &model.StoreResponse{Headers: headers}
	r.LSN = resp.LSN()
	r.GlobalCommittedLSN = resp.GlobalCommittedLSN()
	r.QuorumAckedLSN = resp.QuorumAckedLSN()
	r.ItemLSN = resp.ItemLSN()
	r.CurrentReplicaSetSize = resp.CurrentReplicaSetSize()
	r.CurrentWriteQuorum = resp.CurrentWriteQuorum()
	r.NumberOfReadRegions = resp.NumberOfReadRegions()
	r.RequestCharge = resp.RequestCharge()
	r.PartitionKeyRangeID = resp.PartitionKeyRangeID()
	r.SessionToken = resp.SessionToken()
}

// ToResponse returns the response, or the failure the replica reported
func (r *StoreResult) ToResponse() (*model.StoreResponse, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Response, nil
}

// String describes the result for logs
func (r *StoreResult) String() string {
	outcome := "ok"
	if r.Err != nil {
		outcome = r.Err.Code.String()
	}
	return fmt.Sprintf("{replica=%s outcome=%s lsn=%d gclsn=%d qalsn=%d replicas=%d valid=%s}",
		r.StorePhysicalAddress, outcome, r.LSN, r.GlobalCommittedLSN, r.QuorumAckedLSN,
		r.CurrentReplicaSetSize, strconv.FormatBool(r.IsValid))
}

// validResults filters results that count towards quorum or session checks
func validResults(results []*StoreResult) []*StoreResult {
	var valid []*StoreResult
	for _, r := range results {
		if r.IsValid {
			valid = append(valid, r)
		}
	}
	return valid
}
