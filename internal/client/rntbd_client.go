package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ClientVersion is sent during context negotiation
const ClientVersion = "pairdb-directclient/1.0"

// RntbdConfig configures an RntbdTransportClient
type RntbdConfig struct {
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	MaxFrameSize    int
	ProtocolVersion string
	UserAgent       string
	// TLSConfig enables TLS on replica connections; nil dials plain TCP
	TLSConfig *tls.Config
}

// RntbdTransportClient implements TransportClient over the binary protocol.
// It keeps one multiplexed connection per replica endpoint.
type RntbdTransportClient struct {
	cfg     RntbdConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu          sync.RWMutex
	connections map[string]*rntbdConnection
	closed      bool

	dials singleflight.Group

	nextTransportID atomic.Uint64
}

// NewRntbdTransportClient creates a binary protocol transport client
func NewRntbdTransportClient(cfg RntbdConfig, m *metrics.Metrics, logger *zap.Logger) *RntbdTransportClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = "1"
	}
	return &RntbdTransportClient{
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
		connections: make(map[string]*rntbdConnection),
	}
}

// Invoke implements TransportClient
func (c *RntbdTransportClient) Invoke(ctx context.Context, physicalAddress string, req *model.Request) (*model.StoreResponse, error) {
	start := time.Now()
	resp, err := c.invoke(ctx, physicalAddress, req)
	if err != nil {
		c.metrics.RecordReplicaCall("rntbd", errorLabel(err), time.Since(start).Seconds())
		return nil, err
	}
	c.metrics.RecordReplicaCall("rntbd", statusLabel(resp.Status), time.Since(start).Seconds())
	return resp, nil
}

func (c *RntbdTransportClient) invoke(ctx context.Context, physicalAddress string, req *model.Request) (*model.StoreResponse, error) {
	u, err := url.Parse(physicalAddress)
	if err != nil || u.Host == "" {
		return nil, storeerrors.BadRequest(fmt.Sprintf("invalid replica address %q", physicalAddress), err).
			WithResponseContext(req.ResourcePath, physicalAddress, nil)
	}

	frame, err := c.buildRequest(ctx, u.Path, req)
	if err != nil {
		return nil, storeerrors.BadRequest("failed to encode replica request", err).
			WithResponseContext(req.ResourcePath, physicalAddress, nil)
	}

	callCtx := ctx
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	conn, err := c.connection(callCtx, u.Host)
	if err == nil {
		var resp *rntbdResponse
		resp, err = conn.roundTrip(callCtx, frame)
		if err == nil {
			return c.toStoreResponse(req, physicalAddress, resp)
		}
	}

	if ctx.Err() != nil {
		return nil, cancelledError(ctx, req, physicalAddress)
	}
	c.logger.Debug("Replica call failed",
		zap.String("physical_address", physicalAddress),
		zap.String("activity_id", req.ActivityID),
		zap.Error(err))
	return nil, MapNetworkError(req, physicalAddress, err)
}

func (c *RntbdTransportClient) buildRequest(ctx context.Context, replicaPath string, req *model.Request) (*rntbdRequest, error) {
	resourceType, ok := wireResourceTypes[req.ResourceType]
	if !ok {
		return nil, fmt.Errorf("resource type %s has no wire code", req.ResourceType)
	}
	operationType, ok := wireOperationTypes[req.OperationType]
	if !ok {
		return nil, fmt.Errorf("operation %s has no wire code", req.OperationType)
	}

	activityID, err := uuid.Parse(req.ActivityID)
	if err != nil {
		activityID = uuid.New()
	}

	headers := requestHeaders(ctx, req, c.cfg.UserAgent)
	headers[model.HeaderReplicaPath] = replicaPath
	headers[model.HeaderResourcePath] = req.ResourcePath

	return &rntbdRequest{
		ResourceType:  resourceType,
		OperationType: operationType,
		ActivityID:    activityID,
		TransportID:   c.nextTransportID.Add(1),
		Headers:       headers,
		Body:          req.Body,
		HasBody:       len(req.Body) > 0,
	}, nil
}

func (c *RntbdTransportClient) toStoreResponse(req *model.Request, physicalAddress string, resp *rntbdResponse) (*model.StoreResponse, error) {
	storeResp := model.NewStoreResponse(int(resp.Status), resp.Headers, resp.Body)
	if storeResp.Status < storeerrors.MinimumErrorStatus {
		return storeResp, nil
	}
	return nil, storeerrors.FromStatus(storeResp.Status, storeResp.Headers, storeResp.Body, req.ResourcePath, physicalAddress)
}

// connection returns a live connection to endpoint, dialing one if needed.
// Dials run outside c.mu and collapse per endpoint, so a replica that
// accepts TCP but never negotiates only delays callers of that replica.
func (c *RntbdTransportClient) connection(ctx context.Context, endpoint string) (*rntbdConnection, error) {
	if conn, err := c.cached(endpoint); conn != nil || err != nil {
		return conn, err
	}

	ch := c.dials.DoChan(endpoint, func() (interface{}, error) {
		if conn, err := c.cached(endpoint); conn != nil || err != nil {
			return conn, err
		}

		conn, err := c.dial(ctx, endpoint)
		if err != nil {
			return nil, &ConnectError{Address: endpoint, Err: err}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.fail(net.ErrClosed)
			return nil, net.ErrClosed
		}
		c.connections[endpoint] = conn
		c.mu.Unlock()

		c.logger.Debug("Opened replica connection",
			zap.String("endpoint", endpoint),
			zap.String("server_version", conn.serverVersion))
		return conn, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rntbdConnection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cached returns the healthy connection to endpoint, or nil when one must be dialed
func (c *RntbdTransportClient) cached(endpoint string) (*rntbdConnection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, net.ErrClosed
	}
	if conn, exists := c.connections[endpoint]; exists && conn.healthy() {
		return conn, nil
	}
	return nil, nil
}

func (c *RntbdTransportClient) dial(ctx context.Context, endpoint string) (*rntbdConnection, error) {
	// Concurrent callers share this dial, so only the connect timeout bounds it
	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ConnectTimeout)
		defer cancel()
	}

	var (
		netConn net.Conn
		err     error
	)
	if c.cfg.TLSConfig != nil {
		dialer := &tls.Dialer{Config: c.cfg.TLSConfig}
		netConn, err = dialer.DialContext(dialCtx, "tcp", endpoint)
	} else {
		var dialer net.Dialer
		netConn, err = dialer.DialContext(dialCtx, "tcp", endpoint)
	}
	if err != nil {
		return nil, err
	}

	conn := &rntbdConnection{
		endpoint:     endpoint,
		conn:         netConn,
		reader:       bufio.NewReader(netConn),
		pending:      xsync.NewMapOf[uint64, chan rntbdResult](),
		done:         make(chan struct{}),
		maxFrameSize: c.cfg.MaxFrameSize,
		onClose:      func() { c.metrics.AddRntbdConnections(-1) },
		logger:       c.logger,
	}
	if err := conn.negotiate(dialCtx, c.cfg); err != nil {
		netConn.Close()
		return nil, err
	}

	c.metrics.AddRntbdConnections(1)
	go conn.readLoop()
	return conn, nil
}

// Close closes every replica connection
func (c *RntbdTransportClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for endpoint, conn := range c.connections {
		conn.fail(net.ErrClosed)
		delete(c.connections, endpoint)
	}
	return nil
}

type rntbdResult struct {
	resp *rntbdResponse
	err  error
}

// rntbdConnection multiplexes requests over one connection; responses are
// matched to waiters by transport request id
type rntbdConnection struct {
	endpoint      string
	conn          net.Conn
	reader        *bufio.Reader
	writeMu       sync.Mutex
	pending       *xsync.MapOf[uint64, chan rntbdResult]
	maxFrameSize  int
	serverVersion string
	onClose       func()
	logger        *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// negotiate exchanges the context frame that must precede any request
func (rc *rntbdConnection) negotiate(ctx context.Context, cfg RntbdConfig) error {
	if deadline, ok := ctx.Deadline(); ok {
		rc.conn.SetDeadline(deadline)
		defer rc.conn.SetDeadline(time.Time{})
	}

	request := &rntbdRequest{
		ResourceType:  wireResourceConnection,
		OperationType: wireOperationConnection,
		ActivityID:    uuid.New(),
		Headers: map[string]string{
			model.HeaderProtocolVersion: cfg.ProtocolVersion,
			model.HeaderClientVersion:   ClientVersion,
			model.HeaderUserAgent:       cfg.UserAgent,
		},
	}
	frame, err := encodeRequest(request)
	if err != nil {
		return err
	}
	if _, err := rc.conn.Write(frame); err != nil {
		return fmt.Errorf("context negotiation write: %w", err)
	}

	raw, err := readFrame(rc.reader, rc.maxFrameSize)
	if err != nil {
		return fmt.Errorf("context negotiation read: %w", err)
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("context negotiation rejected with status %d", resp.Status)
	}
	rc.serverVersion = resp.Headers[model.HeaderServerVersion]
	return nil
}

func (rc *rntbdConnection) roundTrip(ctx context.Context, request *rntbdRequest) (*rntbdResponse, error) {
	frame, err := encodeRequest(request)
	if err != nil {
		return nil, err
	}
	if rc.maxFrameSize > 0 && len(frame) > rc.maxFrameSize {
		return nil, fmt.Errorf("%w: request of %d bytes", ErrFrameTooLarge, len(frame))
	}

	ch := make(chan rntbdResult, 1)
	rc.pending.Store(request.TransportID, ch)
	defer rc.pending.Delete(request.TransportID)

	rc.writeMu.Lock()
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		rc.conn.SetWriteDeadline(deadline)
	}
	_, err = rc.conn.Write(frame)
	if hasDeadline {
		rc.conn.SetWriteDeadline(time.Time{})
	}
	rc.writeMu.Unlock()
	if err != nil {
		rc.fail(err)
		return nil, err
	}

	select {
	case result := <-ch:
		return result.resp, result.err
	case <-rc.done:
		return nil, rc.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rc *rntbdConnection) readLoop() {
	for {
		raw, err := readFrame(rc.reader, rc.maxFrameSize)
		if err != nil {
			rc.fail(err)
			return
		}
		resp, err := decodeResponse(raw)
		if err != nil {
			rc.fail(err)
			return
		}

		if ch, ok := rc.pending.LoadAndDelete(resp.TransportID); ok {
			ch <- rntbdResult{resp: resp}
			continue
		}
		rc.logger.Debug("Dropping response for unknown request",
			zap.String("endpoint", rc.endpoint),
			zap.Uint64("transport_id", resp.TransportID))
	}
}

func (rc *rntbdConnection) healthy() bool {
	select {
	case <-rc.done:
		return false
	default:
		return true
	}
}

// fail closes the connection and releases every waiter with err
func (rc *rntbdConnection) fail(err error) {
	rc.closeOnce.Do(func() {
		if err == nil {
			err = errors.New("rntbd connection closed")
		}
		rc.err = err
		close(rc.done)
		rc.conn.Close()

		rc.pending.Range(func(id uint64, _ chan rntbdResult) bool {
			if ch, ok := rc.pending.LoadAndDelete(id); ok {
				ch <- rntbdResult{err: err}
			}
			return true
		})
		if rc.onClose != nil {
			rc.onClose()
		}
	})
}
