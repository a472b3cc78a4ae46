// Package client holds the transport clients that send one request to one
// replica. Both transports share the status mapping of the errors package and
// the network fault classification in this package, so callers see the same
// failure for the same replica outcome regardless of wire protocol.
package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
)

// TransportClient sends a request to a single physical replica address
type TransportClient interface {
	// Invoke returns the store response for statuses below 400 and a
	// *errors.StoreError for everything else, network faults included
	Invoke(ctx context.Context, physicalAddress string, req *model.Request) (*model.StoreResponse, error)
	Close() error
}

// requestHeaders collects the headers every transport sends with a request
func requestHeaders(ctx context.Context, req *model.Request, userAgent string) map[string]string {
	headers := make(map[string]string, len(req.Headers)+8)
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = v
	}

	headers[model.HeaderVersion] = model.APIVersion
	headers[model.HeaderActivityID] = req.ActivityID
	if userAgent != "" {
		headers[model.HeaderUserAgent] = userAgent
	}
	if req.ConsistencyLevel != model.ConsistencyUnspecified {
		headers[model.HeaderConsistencyLevel] = string(req.ConsistencyLevel)
	}
	if req.SessionToken != "" {
		headers[model.HeaderSessionToken] = req.SessionToken
	}
	if id := partitionKeyRangeID(req); id != "" {
		headers[model.HeaderPartitionKeyRangeID] = id
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		headers[model.HeaderRemainingTimeOnClient] = strconv.FormatInt(remaining, 10)
	}
	return headers
}

func partitionKeyRangeID(req *model.Request) string {
	if req.Context != nil && req.Context.ResolvedPartitionKeyRange != nil {
		return req.Context.ResolvedPartitionKeyRange.ID
	}
	return req.PartitionKeyRangeID
}

// cancelledError turns a cancelled caller context into the terminal timeout
// error; in-flight replica results are discarded
func cancelledError(ctx context.Context, req *model.Request, physicalAddress string) *storeerrors.StoreError {
	return storeerrors.RequestTimeout("request cancelled before the replica answered", ctx.Err()).
		WithResponseContext(req.ResourcePath, physicalAddress, nil)
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func errorLabel(err error) string {
	if se, ok := storeerrors.AsStoreError(err); ok {
		return strconv.Itoa(se.StatusCode)
	}
	return "error"
}
