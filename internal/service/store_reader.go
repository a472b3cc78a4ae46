package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/devrev/pairdb/directclient/internal/client"
	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReplicaReader reads a request from one or more replicas of its partition
type ReplicaReader interface {
	ReadMultipleReplicas(ctx context.Context, req *model.Request, includePrimary bool, replicaCountToRead int,
		requiresValidLSN, useSessionToken bool, readMode model.ReadMode, checkMinLSN, forceReadAll bool) ([]*StoreResult, error)
	ReadPrimary(ctx context.Context, req *model.Request, requiresValidLSN, useSessionToken bool) (*StoreResult, error)
}

// StoreReader fans a read out to the replicas of a partition and collects one
// StoreResult per replica contacted
type StoreReader struct {
	transport client.TransportClient
	selector  *AddressSelector
	sessions  store.SessionStore
	logger    *zap.Logger

	// shuffle spreads reads across secondaries; replaced in tests
	shuffle func([]string)
}

// NewStoreReader creates a store reader. sessions may be nil when no session
// tokens are tracked.
func NewStoreReader(transport client.TransportClient, selector *AddressSelector, sessions store.SessionStore, logger *zap.Logger) *StoreReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreReader{
		transport: transport,
		selector:  selector,
		sessions:  sessions,
		logger:    logger,
		shuffle: func(uris []string) {
			rand.Shuffle(len(uris), func(i, j int) { uris[i], uris[j] = uris[j], uris[i] })
		},
	}
}

// ReadMultipleReplicas reads from replicas until replicaCountToRead valid
// results are collected or every resolved replica has been tried. A failing
// replica never aborts the others; only partition-moving errors, which need
// the partition map refreshed, end the read early.
func (r *StoreReader) ReadMultipleReplicas(ctx context.Context, req *model.Request, includePrimary bool, replicaCountToRead int,
	requiresValidLSN, useSessionToken bool, readMode model.ReadMode, checkMinLSN, forceReadAll bool) ([]*StoreResult, error) {
	if err := checkTimeout(req); err != nil {
		return nil, err
	}

	originalToken := req.SessionToken
	defer func() { req.SessionToken = originalToken }()

	uris, err := r.selector.ResolveAllURIs(ctx, req, includePrimary, false)
	if err != nil {
		return nil, err
	}
	if len(uris) == 0 {
		return nil, storeerrors.Gone("no replica addresses for "+readMode.String()+" read", nil).
			WithResponseContext(req.ResourcePath, "", nil)
	}
	r.shuffle(uris)

	if err := r.prepareSessionToken(ctx, req, useSessionToken); err != nil {
		return nil, err
	}

	tried := make(map[string]struct{}, len(uris))
	pending := uris
	var results []*StoreResult
	sawGone, refreshed := false, false

	for {
		need := replicaCountToRead - len(validResults(results))
		if forceReadAll {
			need = len(pending)
		}
		if need <= 0 {
			break
		}

		if len(pending) == 0 {
			if !sawGone || refreshed {
				break
			}
			refreshed = true
			fresh, err := r.selector.ResolveAllURIs(ctx, req, includePrimary, true)
			if err != nil {
				return nil, err
			}
			for _, uri := range fresh {
				if _, ok := tried[uri]; !ok {
					pending = append(pending, uri)
				}
			}
			continue
		}

		if err := checkTimeout(req); err != nil {
			return nil, err
		}

		if need > len(pending) {
			need = len(pending)
		}
		batch := pending[:need]
		pending = pending[need:]

		for _, res := range r.fanOut(ctx, req, batch, requiresValidLSN) {
			tried[res.StorePhysicalAddress] = struct{}{}
			if res.Err != nil && storeerrors.IsPartitionMoving(res.Err) {
				return nil, res.Err
			}
			if res.Err != nil && res.Err.Code == storeerrors.ErrCodeRequestTimeout {
				return nil, res.Err
			}
			if checkMinLSN && req.Context.SessionLSN >= 0 && res.LSN < req.Context.SessionLSN {
				res.IsValid = false
			}
			sawGone = sawGone || res.IsGoneException
			results = append(results, res)
		}
	}

	if len(validResults(results)) == 0 {
		for _, res := range results {
			if res.IsGoneException {
				return nil, res.Err
			}
		}
	}
	return results, nil
}

// ReadPrimary reads from the primary replica only
func (r *StoreReader) ReadPrimary(ctx context.Context, req *model.Request, requiresValidLSN, useSessionToken bool) (*StoreResult, error) {
	if err := checkTimeout(req); err != nil {
		return nil, err
	}

	originalToken := req.SessionToken
	defer func() { req.SessionToken = originalToken }()

	primary, err := r.selector.ResolvePrimaryURI(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if err := r.prepareSessionToken(ctx, req, useSessionToken); err != nil {
		return nil, err
	}

	res := r.readReplica(ctx, req, primary, requiresValidLSN)
	if res.Err != nil && (res.IsGoneException || storeerrors.IsPartitionMoving(res.Err) ||
		res.Err.Code == storeerrors.ErrCodeRequestTimeout) {
		return nil, res.Err
	}
	return res, nil
}

func (r *StoreReader) fanOut(ctx context.Context, req *model.Request, uris []string, requiresValidLSN bool) []*StoreResult {
	results := make([]*StoreResult, 0, len(uris))
	var mu sync.Mutex

	var g errgroup.Group
	for _, uri := range uris {
		g.Go(func() error {
			res := r.readReplica(ctx, req, uri, requiresValidLSN)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *StoreReader) readReplica(ctx context.Context, req *model.Request, uri string, requiresValidLSN bool) *StoreResult {
	resp, err := r.transport.Invoke(ctx, uri, req)
	res := NewStoreResult(resp, err, uri, requiresValidLSN)
	if err != nil {
		r.logger.Debug("Replica read failed",
			zap.String("physical_address", uri),
			zap.String("activity_id", req.ActivityID),
			zap.Error(err))
	}
	return res
}

// prepareSessionToken attaches the partition's session token and records the
// LSN it requires. Without useSessionToken no token is sent.
func (r *StoreReader) prepareSessionToken(ctx context.Context, req *model.Request, useSessionToken bool) error {
	if !useSessionToken {
		req.SessionToken = ""
		return nil
	}

	rangeID := partitionKeyRangeIDOf(req)
	raw := req.SessionToken
	if raw == "" && r.sessions != nil && rangeID != "" {
		stored, err := r.sessions.Get(ctx, rangeID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("Session token lookup failed",
				zap.String("partition_key_range_id", rangeID),
				zap.Error(err))
		}
		raw = stored
	}
	if raw == "" {
		return nil
	}

	token, ok := model.SessionTokenForRange(raw, rangeID)
	if !ok && !strings.Contains(raw, ",") {
		token, ok = model.ParseSessionToken(raw)
		if !ok {
			return storeerrors.BadRequest(fmt.Sprintf("malformed session token %q", raw), nil)
		}
	}
	if !ok {
		// compound token without a segment for this range
		req.SessionToken = raw
		return nil
	}
	req.SessionToken = token.Raw
	req.Context.SessionLSN = token.GlobalLSN
	return nil
}

func partitionKeyRangeIDOf(req *model.Request) string {
	if req.Context != nil && req.Context.ResolvedPartitionKeyRange != nil {
		return req.Context.ResolvedPartitionKeyRange.ID
	}
	return req.PartitionKeyRangeID
}

// checkTimeout fails with the terminal timeout error once the attempt budget is spent
func checkTimeout(req *model.Request) error {
	if req.Context == nil || req.Context.TimeoutHelper == nil || !req.Context.TimeoutHelper.IsElapsed() {
		return nil
	}
	return storeerrors.RequestTimeout(
		fmt.Sprintf("request timed out after %s", req.Context.TimeoutHelper.Timeout()), nil).
		WithResponseContext(req.ResourcePath, "", nil)
}
