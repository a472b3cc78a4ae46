package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/devrev/pairdb/directclient/internal/algorithm"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTopology = `
partitions:
  - id: "0"
    min_inclusive: ""
    max_exclusive: "80000000"
    replicas:
      - physical_uri: https://replica-1:10250/apps/a/services/s/partitions/p0/replicas/1p/
        is_primary: true
      - physical_uri: https://replica-2:10250/apps/a/services/s/partitions/p0/replicas/2s/
      - physical_uri: rntbd://replica-3:10251/apps/a/services/s/partitions/p0/replicas/3s/
  - id: "1"
    min_inclusive: "80000000"
    max_exclusive: ""
    replicas:
      - physical_uri: https://replica-4:10250/apps/a/services/s/partitions/p1/replicas/4p/
        protocol: https
        is_primary: true
        is_public: true
`

func TestTopologyFile_LookupByID(t *testing.T) {
	tf, err := NewTopologyFromBytes([]byte(testTopology))
	require.NoError(t, err)

	pkRange, addresses, err := tf.Lookup(context.Background(), "0", false)
	require.NoError(t, err)

	assert.Equal(t, "0", pkRange.ID)
	require.Len(t, addresses, 3)
	assert.True(t, addresses[0].IsPrimary)
	assert.Equal(t, model.ProtocolHTTPS, addresses[0].Protocol)
	assert.Equal(t, model.ProtocolTCP, addresses[2].Protocol)
}

func TestTopologyFile_LookupByHash(t *testing.T) {
	tf, err := NewTopologyFromBytes([]byte(testTopology))
	require.NoError(t, err)

	tests := []struct {
		hash uint32
		want string
	}{
		{0, "0"},
		{0x7fffffff, "0"},
		{0x80000000, "1"},
		{0xffffffff, "1"},
	}
	for _, tt := range tests {
		key := "hash:" + strconv.FormatUint(uint64(tt.hash), 16)
		pkRange, _, err := tf.Lookup(context.Background(), key, false)
		require.NoError(t, err, key)
		assert.Equal(t, tt.want, pkRange.ID, key)
	}

	// Routing keys built by the request model land in a partition too
	req := model.NewRequest(model.OperationRead, model.ResourceDocument, "dbs/db/colls/c/docs/d")
	req.PartitionKey = "tenant-42"
	pkRange, _, err := tf.Lookup(context.Background(), req.RoutingKey(), false)
	require.NoError(t, err)
	if algorithm.PartitionKeyHash("tenant-42") < 0x80000000 {
		assert.Equal(t, "0", pkRange.ID)
	} else {
		assert.Equal(t, "1", pkRange.ID)
	}
}

func TestTopologyFile_LookupReturnsCopy(t *testing.T) {
	tf, err := NewTopologyFromBytes([]byte(testTopology))
	require.NoError(t, err)

	_, addresses, err := tf.Lookup(context.Background(), "0", false)
	require.NoError(t, err)
	addresses[0].IsPrimary = false

	_, again, err := tf.Lookup(context.Background(), "0", false)
	require.NoError(t, err)
	assert.True(t, again[0].IsPrimary)
}

func TestTopologyFile_UnknownRange(t *testing.T) {
	tf, err := NewTopologyFromBytes([]byte(testTopology))
	require.NoError(t, err)

	_, _, err = tf.Lookup(context.Background(), "9", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = tf.Lookup(context.Background(), "hash:zz", false)
	assert.Error(t, err)
}

func TestTopologyFile_ForceRefreshRereadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTopology), 0o600))

	tf, err := NewTopologyFile(path, zap.NewNop())
	require.NoError(t, err)

	moved := `
partitions:
  - id: "0"
    replicas:
      - physical_uri: https://replica-9:10250/p0/
        is_primary: true
`
	require.NoError(t, os.WriteFile(path, []byte(moved), 0o600))

	_, cached, err := tf.Lookup(context.Background(), "0", false)
	require.NoError(t, err)
	assert.Len(t, cached, 3)

	_, fresh, err := tf.Lookup(context.Background(), "0", true)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "https://replica-9:10250/p0/", fresh[0].PhysicalURI)
}

func TestParseTopology_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing id", "partitions:\n  - replicas: []\n"},
		{"duplicate id", "partitions:\n  - id: a\n  - id: a\n"},
		{"bad bound", "partitions:\n  - id: a\n    min_inclusive: xyz\n"},
		{"not yaml", "partitions: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "0")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "0", "0:5"))
	token, err := s.Get(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "0:5", token)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "0")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Close())
}

// TestRedisSessionStore runs against a live Redis when DIRECT_TEST_REDIS_ADDR is set
func TestRedisSessionStore(t *testing.T) {
	addr := os.Getenv("DIRECT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DIRECT_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := newRedisSessionStore(client, "directclient:test:"+strconv.FormatInt(time.Now().UnixNano(), 10)+":", time.Minute, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.Ping(ctx))

	_, err := s.Get(ctx, "0")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "0", "0:1#12#3=8"))
	token, err := s.Get(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "0:1#12#3=8", token)
}
