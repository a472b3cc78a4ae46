package store

import (
	"context"
	"errors"

	"github.com/devrev/pairdb/directclient/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// AddressSource is the routing cache the direct path resolves replicas from.
// Lookup maps a routing key (partition key range id or hash bucket) to the
// owning range and its replica addresses. With forceRefresh the source must
// go back to its origin instead of answering from memory.
type AddressSource interface {
	Lookup(ctx context.Context, routingKey string, forceRefresh bool) (*model.PartitionKeyRange, []model.AddressInformation, error)
}

// SessionStore keeps the latest session token per partition key range
type SessionStore interface {
	Get(ctx context.Context, partitionKeyRangeID string) (string, error)
	Set(ctx context.Context, partitionKeyRangeID, token string) error
	Close() error
}
