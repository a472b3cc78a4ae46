package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"go.uber.org/zap"
)

// HTTPConfig configures an HTTPTransportClient
type HTTPConfig struct {
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	InsecureSkipTLS     bool
	UserAgent           string
}

// HTTPTransportClient implements TransportClient over HTTP(S)
type HTTPTransportClient struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewHTTPTransportClient creates an HTTP transport client
func NewHTTPTransportClient(cfg HTTPConfig, m *metrics.Metrics, logger *zap.Logger) *HTTPTransportClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		DialTLSContext:      dialTLS(dialer, tlsConfig, cfg.ConnectTimeout),
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		TLSClientConfig:     tlsConfig,
	}
	return newHTTPTransportClient(&http.Client{Transport: transport}, cfg, m, logger)
}

// dialTLS connects and completes the TLS handshake before any request byte is
// written, so every failure on that path is a ConnectError
func dialTLS(dialer *net.Dialer, base *tls.Config, handshakeTimeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, &ConnectError{Address: addr, Err: err}
		}

		cfg := base.Clone()
		if cfg.ServerName == "" {
			host, _, splitErr := net.SplitHostPort(addr)
			if splitErr != nil {
				host = addr
			}
			cfg.ServerName = host
		}

		hsCtx := ctx
		if handshakeTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, handshakeTimeout)
			defer cancel()
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			conn.Close()
			return nil, &ConnectError{Address: addr, Err: fmt.Errorf("tls handshake: %w", err)}
		}
		return tlsConn, nil
	}
}

func newHTTPTransportClient(client *http.Client, cfg HTTPConfig, m *metrics.Metrics, logger *zap.Logger) *HTTPTransportClient {
	return &HTTPTransportClient{
		client:    client,
		timeout:   cfg.RequestTimeout,
		userAgent: cfg.UserAgent,
		metrics:   m,
		logger:    logger,
	}
}

// Invoke implements TransportClient
func (c *HTTPTransportClient) Invoke(ctx context.Context, physicalAddress string, req *model.Request) (*model.StoreResponse, error) {
	start := time.Now()
	resp, err := c.invoke(ctx, physicalAddress, req)
	if err != nil {
		c.metrics.RecordReplicaCall("http", errorLabel(err), time.Since(start).Seconds())
		return nil, err
	}
	c.metrics.RecordReplicaCall("http", statusLabel(resp.Status), time.Since(start).Seconds())
	return resp, nil
}

func (c *HTTPTransportClient) invoke(ctx context.Context, physicalAddress string, req *model.Request) (*model.StoreResponse, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(callCtx, physicalAddress, req)
	if err != nil {
		return nil, storeerrors.BadRequest("failed to build replica request", err).
			WithResponseContext(req.ResourcePath, physicalAddress, nil)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelledError(ctx, req, physicalAddress)
		}
		c.logger.Debug("Replica call failed",
			zap.String("physical_address", physicalAddress),
			zap.String("activity_id", req.ActivityID),
			zap.Error(err))
		return nil, MapNetworkError(req, physicalAddress, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelledError(ctx, req, physicalAddress)
		}
		return nil, MapNetworkError(req, physicalAddress, err)
	}

	if httpResp.StatusCode < storeerrors.MinimumErrorStatus {
		return &model.StoreResponse{Status: httpResp.StatusCode, Headers: httpResp.Header, Body: body}, nil
	}

	return nil, c.responseError(req, physicalAddress, httpResp, body)
}

func (c *HTTPTransportClient) responseError(req *model.Request, physicalAddress string, resp *http.Response, body []byte) *storeerrors.StoreError {
	// A 404 without a structured body did not come from the store; the
	// address no longer hosts the replica
	if resp.StatusCode == http.StatusNotFound && !isJSONContent(resp.Header.Get(model.HeaderContentType)) {
		c.logger.Debug("Not found without structured body, treating replica as gone",
			zap.String("physical_address", physicalAddress),
			zap.String("content_type", resp.Header.Get(model.HeaderContentType)))
		return storeerrors.Gone("replica address no longer serves the resource", nil).
			WithResponseContext(req.ResourcePath, physicalAddress, resp.Header)
	}
	return storeerrors.FromStatus(resp.StatusCode, resp.Header, body, req.ResourcePath, physicalAddress)
}

func (c *HTTPTransportClient) buildRequest(ctx context.Context, physicalAddress string, req *model.Request) (*http.Request, error) {
	method, err := httpMethod(req.OperationType)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, resourceURL(physicalAddress, req.ResourcePath), body)
	if err != nil {
		return nil, err
	}

	for k, v := range requestHeaders(ctx, req, c.userAgent) {
		httpReq.Header.Set(k, v)
	}
	if req.OperationType == model.OperationUpsert {
		httpReq.Header.Set("x-ms-documentdb-is-upsert", "true")
	}
	if req.OperationType == model.OperationQuery && httpReq.Header.Get(model.HeaderContentType) == "" {
		httpReq.Header.Set(model.HeaderContentType, "application/query+json")
	}
	if len(req.Body) > 0 && httpReq.Header.Get(model.HeaderContentType) == "" {
		httpReq.Header.Set(model.HeaderContentType, "application/json")
	}
	return httpReq, nil
}

// Close releases idle connections
func (c *HTTPTransportClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func httpMethod(op model.OperationType) (string, error) {
	switch op {
	case model.OperationRead, model.OperationReadFeed:
		return http.MethodGet, nil
	case model.OperationCreate, model.OperationUpsert, model.OperationQuery, model.OperationExecuteJavaScript:
		return http.MethodPost, nil
	case model.OperationReplace:
		return http.MethodPut, nil
	case model.OperationPatch:
		return http.MethodPatch, nil
	case model.OperationDelete:
		return http.MethodDelete, nil
	case model.OperationHead, model.OperationHeadFeed:
		return http.MethodHead, nil
	default:
		return "", fmt.Errorf("operation %s has no HTTP mapping", op)
	}
}

func resourceURL(physicalAddress, resourcePath string) string {
	return strings.TrimSuffix(physicalAddress, "/") + "/" + strings.TrimPrefix(resourcePath, "/")
}

func isJSONContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
