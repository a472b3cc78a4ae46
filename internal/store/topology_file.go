package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/devrev/pairdb/directclient/internal/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Topology is the YAML document describing partitions and their replicas
type Topology struct {
	Partitions []PartitionTopology `yaml:"partitions"`
}

// PartitionTopology is one partition key range and the replicas serving it.
// Range bounds are hexadecimal hash values; an empty max means the end of
// the hash space.
type PartitionTopology struct {
	model.PartitionKeyRange `yaml:",inline"`
	Replicas                []model.AddressInformation `yaml:"replicas"`
}

// TopologyFile is an AddressSource backed by a YAML file. Forced lookups
// re-read the file so operators can move replicas without restarting.
type TopologyFile struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	topology *Topology
}

// NewTopologyFile loads the topology at path
func NewTopologyFile(path string, logger *zap.Logger) (*TopologyFile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tf := &TopologyFile{path: path, logger: logger}
	if err := tf.Reload(); err != nil {
		return nil, err
	}
	return tf, nil
}

// NewTopologyFromBytes parses a topology document without a backing file
func NewTopologyFromBytes(data []byte) (*TopologyFile, error) {
	topology, err := ParseTopology(data)
	if err != nil {
		return nil, err
	}
	return &TopologyFile{logger: zap.NewNop(), topology: topology}, nil
}

// ParseTopology decodes and validates a topology document
func ParseTopology(data []byte) (*Topology, error) {
	var topology Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}

	seen := make(map[string]bool, len(topology.Partitions))
	for i := range topology.Partitions {
		p := &topology.Partitions[i]
		if p.ID == "" {
			return nil, fmt.Errorf("partition %d has no id", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate partition id %q", p.ID)
		}
		seen[p.ID] = true

		if _, err := parseBound(p.MinInclusive, 0); err != nil {
			return nil, fmt.Errorf("partition %q: invalid min_inclusive: %w", p.ID, err)
		}
		if _, err := parseBound(p.MaxExclusive, 1<<32); err != nil {
			return nil, fmt.Errorf("partition %q: invalid max_exclusive: %w", p.ID, err)
		}
		for j := range p.Replicas {
			if p.Replicas[j].Protocol == "" {
				p.Replicas[j].Protocol = model.ParseProtocol(p.Replicas[j].ProtocolScheme())
			}
		}
	}
	return &topology, nil
}

// Reload re-reads the topology file
func (t *TopologyFile) Reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read topology file %s: %w", t.path, err)
	}
	topology, err := ParseTopology(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.topology = topology
	t.mu.Unlock()

	t.logger.Debug("Topology loaded",
		zap.String("path", t.path),
		zap.Int("partitions", len(topology.Partitions)))
	return nil
}

// Lookup implements AddressSource
func (t *TopologyFile) Lookup(ctx context.Context, routingKey string, forceRefresh bool) (*model.PartitionKeyRange, []model.AddressInformation, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if forceRefresh {
		if err := t.Reload(); err != nil {
			return nil, nil, err
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	partition, err := t.find(routingKey)
	if err != nil {
		return nil, nil, err
	}

	pkRange := partition.PartitionKeyRange
	addresses := make([]model.AddressInformation, len(partition.Replicas))
	copy(addresses, partition.Replicas)
	return &pkRange, addresses, nil
}

func (t *TopologyFile) find(routingKey string) (*PartitionTopology, error) {
	if hexHash, ok := strings.CutPrefix(routingKey, "hash:"); ok {
		hash, err := strconv.ParseUint(hexHash, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid routing key %q: %w", routingKey, err)
		}
		for i := range t.topology.Partitions {
			p := &t.topology.Partitions[i]
			lo, _ := parseBound(p.MinInclusive, 0)
			hi, _ := parseBound(p.MaxExclusive, 1<<32)
			if hash >= lo && hash < hi {
				return p, nil
			}
		}
		return nil, fmt.Errorf("no partition owns hash %s: %w", hexHash, ErrNotFound)
	}

	for i := range t.topology.Partitions {
		if t.topology.Partitions[i].ID == routingKey {
			return &t.topology.Partitions[i], nil
		}
	}
	return nil, fmt.Errorf("partition key range %q: %w", routingKey, ErrNotFound)
}

func parseBound(value string, fallback uint64) (uint64, error) {
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseUint(value, 16, 64)
}
