package service

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/pairdb/directclient/internal/metrics"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/devrev/pairdb/directclient/internal/store"
	"github.com/devrev/pairdb/directclient/internal/util/workerpool"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// BackgroundRefresher refreshes the addresses of a request's partition
// without blocking the caller
type BackgroundRefresher interface {
	RefreshInBackground(req *model.Request)
}

// AddressCacheConfig configures an AddressCache
type AddressCacheConfig struct {
	// RefreshRateLimit and RefreshBurst bound background lookups against the source
	RefreshRateLimit float64
	RefreshBurst     int
	// BackgroundTimeout bounds one background refresh
	BackgroundTimeout time.Duration
}

// addressEntry is one immutable cache generation for a partition
type addressEntry struct {
	pkRange   *model.PartitionKeyRange
	addresses []model.AddressInformation
}

// AddressCache is the caching AddressResolver of the direct path. Entries are
// swapped whole, so readers never see a partially updated address list, and
// concurrent refreshes of one partition collapse into a single lookup.
type AddressCache struct {
	source  store.AddressSource
	entries *xsync.MapOf[string, *addressEntry]
	flight  singleflight.Group
	limiter *rate.Limiter

	pool              *workerpool.Pool
	backgroundTimeout time.Duration
	queued            *xsync.MapOf[string, struct{}]

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAddressCache creates an address cache over source. Background refreshes
// run on pool; a nil pool runs them on their own goroutine.
func NewAddressCache(source store.AddressSource, cfg AddressCacheConfig, pool *workerpool.Pool, m *metrics.Metrics, logger *zap.Logger) *AddressCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RefreshRateLimit)
	if cfg.RefreshRateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RefreshBurst
	if burst <= 0 {
		burst = 1
	}
	return &AddressCache{
		source:            source,
		entries:           xsync.NewMapOf[string, *addressEntry](),
		limiter:           rate.NewLimiter(limit, burst),
		pool:              pool,
		backgroundTimeout: cfg.BackgroundTimeout,
		queued:            xsync.NewMapOf[string, struct{}](),
		metrics:           m,
		logger:            logger,
	}
}

// Resolve implements AddressResolver. Any of the request's refresh flags
// forces a lookup against the source; the flags are consumed once it succeeds.
func (c *AddressCache) Resolve(ctx context.Context, req *model.Request, forceRefresh bool) ([]model.AddressInformation, error) {
	rc := req.Context
	force := forceRefresh
	if rc != nil {
		force = force || rc.ForceRefreshAddressCache || rc.ForcePartitionKeyRangeRefresh || rc.ForceCollectionRoutingMapRefresh
	}

	key := req.RoutingKey()
	if !force {
		if entry, ok := c.entries.Load(key); ok {
			c.remember(req, entry)
			return cloneAddresses(entry.addresses), nil
		}
	}

	kind := refreshOnMiss
	if force {
		kind = refreshForced
	}
	entry, err := c.refresh(ctx, key, kind)
	if err != nil {
		return nil, err
	}

	if rc != nil && force {
		rc.ForceRefreshAddressCache = false
		rc.ForcePartitionKeyRangeRefresh = false
		rc.ForceCollectionRoutingMapRefresh = false
	}
	c.remember(req, entry)
	return cloneAddresses(entry.addresses), nil
}

// RefreshInBackground implements BackgroundRefresher. At most one background
// refresh per partition is queued at a time.
func (c *AddressCache) RefreshInBackground(req *model.Request) {
	key := req.RoutingKey()
	if _, loaded := c.queued.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	task := workerpool.Task{
		ID: "address-refresh:" + key,
		Fn: func(ctx context.Context) error {
			defer c.queued.Delete(key)
			if c.backgroundTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, c.backgroundTimeout)
				defer cancel()
			}
			_, err := c.refresh(ctx, key, refreshBackground)
			return err
		},
	}

	if c.pool == nil {
		go task.Fn(context.Background())
		return
	}
	if !c.pool.TrySubmit(task) {
		c.queued.Delete(key)
		c.logger.Debug("Background address refresh dropped",
			zap.String("routing_key", key))
	}
}

// Invalidate drops the cached addresses of a routing key
func (c *AddressCache) Invalidate(routingKey string) {
	if _, ok := c.entries.LoadAndDelete(routingKey); ok {
		c.logger.Debug("Address entry invalidated", zap.String("routing_key", routingKey))
	}
}

// Clear drops every cached address list
func (c *AddressCache) Clear() {
	c.entries.Range(func(key string, _ *addressEntry) bool {
		c.entries.Delete(key)
		return true
	})
}

// refreshKind says why a lookup runs
type refreshKind int

const (
	refreshOnMiss refreshKind = iota
	refreshForced
	refreshBackground
)

func (k refreshKind) String() string {
	switch k {
	case refreshForced:
		return "forced"
	case refreshBackground:
		return "background"
	default:
		return "miss"
	}
}

// refresh looks key up against the source. Lookups of one kind collapse per
// key, so a forced refresh never settles for the result of a plain miss.
// Only background refreshes are rate limited; a request whose retry policy
// demands fresh addresses always reaches the source.
func (c *AddressCache) refresh(ctx context.Context, key string, kind refreshKind) (*addressEntry, error) {
	force := kind != refreshOnMiss
	reason := kind.String()
	v, err, _ := c.flight.Do(reason+"/"+key, func() (interface{}, error) {
		if kind == refreshBackground && !c.limiter.Allow() {
			if entry, ok := c.entries.Load(key); ok {
				c.metrics.RecordAddressRefresh(reason, "throttled")
				return entry, nil
			}
		}

		pkRange, addresses, err := c.source.Lookup(ctx, key, force)
		if err != nil {
			c.metrics.RecordAddressRefresh(reason, "error")
			c.logger.Warn("Address lookup failed",
				zap.String("routing_key", key),
				zap.String("reason", reason),
				zap.Error(err))
			return nil, fmt.Errorf("failed to resolve addresses for %s: %w", key, err)
		}

		entry := &addressEntry{pkRange: pkRange, addresses: addresses}
		c.entries.Store(key, entry)
		if pkRange != nil && pkRange.ID != "" && pkRange.ID != key {
			c.entries.Store(pkRange.ID, entry)
		}
		c.metrics.RecordAddressRefresh(reason, "ok")
		c.logger.Debug("Addresses refreshed",
			zap.String("routing_key", key),
			zap.String("reason", reason),
			zap.Int("replicas", len(addresses)))
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*addressEntry), nil
}

// remember records the partition key range the request was routed to
func (c *AddressCache) remember(req *model.Request, entry *addressEntry) {
	if req.Context != nil && req.Context.ResolvedPartitionKeyRange == nil && entry.pkRange != nil {
		pkRange := *entry.pkRange
		req.Context.ResolvedPartitionKeyRange = &pkRange
	}
}

func cloneAddresses(addresses []model.AddressInformation) []model.AddressInformation {
	out := make([]model.AddressInformation, len(addresses))
	copy(out, addresses)
	return out
}
