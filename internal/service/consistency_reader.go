package service

import (
	"context"
	"fmt"
	"net/http"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/util/clock"
	"go.uber.org/zap"
)

// Reader serves read-only requests at the consistency they ask for
type Reader interface {
	Read(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error)
}

// ConsistencyReader routes a read to a single replica or to the quorum
// reader depending on the consistency level it is served at
type ConsistencyReader struct {
	reader ReplicaReader
	quorum QuorumReads
	config ServiceConfigReader
	logger *zap.Logger
}

// NewConsistencyReader creates a consistency reader
func NewConsistencyReader(reader ReplicaReader, quorum QuorumReads, config ServiceConfigReader, logger *zap.Logger) *ConsistencyReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencyReader{
		reader: reader,
		quorum: quorum,
		config: config,
		logger: logger,
	}
}

// Read implements Reader
func (c *ConsistencyReader) Read(ctx context.Context, req *model.Request, timeoutHelper *clock.TimeoutHelper, forceRefresh bool) (*model.StoreResponse, error) {
	rc := req.Context
	rc.TimeoutHelper = timeoutHelper
	if err := checkTimeout(req); err != nil {
		return nil, err
	}
	if forceRefresh {
		rc.ForceRefreshAddressCache = true
	}

	level, err := c.targetConsistency(req)
	if err != nil {
		return nil, err
	}

	switch level {
	case model.ConsistencyStrong:
		return c.quorum.ReadStrong(ctx, req)
	case model.ConsistencyBoundedStaleness:
		return c.quorum.ReadBoundedStaleness(ctx, req)
	case model.ConsistencySession:
		return c.readSession(ctx, req)
	default:
		return c.readAny(ctx, req)
	}
}

// targetConsistency returns the level the read is served at. A request may
// relax the account default but never strengthen it.
func (c *ConsistencyReader) targetConsistency(req *model.Request) (model.ConsistencyLevel, error) {
	def := c.config.DefaultConsistencyLevel()
	requested := req.ConsistencyLevel
	req.Context.OriginalRequestConsistencyLevel = requested
	if requested == model.ConsistencyUnspecified {
		return def, nil
	}
	if !requested.IsValid() {
		return "", storeerrors.BadRequest(fmt.Sprintf("unknown consistency level %q", requested), nil)
	}
	if requested.IsStrongerThan(def) {
		return "", storeerrors.BadRequest(
			fmt.Sprintf("consistency level %s is stronger than the account default %s", requested, def), nil).
			WithResponseContext(req.ResourcePath, "", nil)
	}
	return requested, nil
}

func (c *ConsistencyReader) readSession(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	results, err := c.reader.ReadMultipleReplicas(ctx, req, true, 1, true, true, model.ReadModeAny, true, false)
	if err != nil {
		return nil, err
	}
	valid := validResults(results)
	if len(valid) == 0 {
		c.logger.Debug("No replica has caught up with the session",
			zap.String("activity_id", req.ActivityID),
			zap.Int64("session_lsn", req.Context.SessionLSN),
			zap.Int("replicas_read", len(results)))
		return nil, storeerrors.NewStoreError(storeerrors.ErrCodeNotFound, http.StatusNotFound,
			model.SubStatusReadSessionNotAvailable, "read session not available", nil).
			WithResponseContext(req.ResourcePath, "", nil)
	}
	return valid[0].ToResponse()
}

func (c *ConsistencyReader) readAny(ctx context.Context, req *model.Request) (*model.StoreResponse, error) {
	results, err := c.reader.ReadMultipleReplicas(ctx, req, true, 1, false, false, model.ReadModeAny, false, false)
	if err != nil {
		return nil, err
	}
	valid := validResults(results)
	if len(valid) == 0 {
		return nil, storeerrors.Gone("no replica answered", nil).
			WithResponseContext(req.ResourcePath, "", nil)
	}
	return valid[0].ToResponse()
}
