package service

import (
	"github.com/devrev/pairdb/directclient/internal/config"
	"github.com/devrev/pairdb/directclient/internal/model"
)

// ReplicationPolicy describes the replica set a partition is provisioned with
type ReplicationPolicy struct {
	MaxReplicaSetSize int
}

// ServiceConfigReader exposes account settings published by the service
type ServiceConfigReader interface {
	DefaultConsistencyLevel() model.ConsistencyLevel
	UserReplicationPolicy() ReplicationPolicy
	SystemReplicationPolicy() ReplicationPolicy
}

// StaticServiceConfig is a ServiceConfigReader with fixed values
type StaticServiceConfig struct {
	DefaultLevel   model.ConsistencyLevel
	UserReplicas   int
	SystemReplicas int
}

// NewServiceConfig reads account settings from the client configuration
func NewServiceConfig(cfg config.ClientConfig) *StaticServiceConfig {
	level, err := model.ParseConsistencyLevel(cfg.DefaultConsistencyLevel)
	if err != nil {
		level = model.ConsistencySession
	}
	return &StaticServiceConfig{
		DefaultLevel:   level,
		UserReplicas:   cfg.UserReplicaCount,
		SystemReplicas: cfg.SystemReplicaCount,
	}
}

// DefaultConsistencyLevel implements ServiceConfigReader
func (s *StaticServiceConfig) DefaultConsistencyLevel() model.ConsistencyLevel {
	return s.DefaultLevel
}

// UserReplicationPolicy implements ServiceConfigReader
func (s *StaticServiceConfig) UserReplicationPolicy() ReplicationPolicy {
	return ReplicationPolicy{MaxReplicaSetSize: s.UserReplicas}
}

// SystemReplicationPolicy implements ServiceConfigReader
func (s *StaticServiceConfig) SystemReplicationPolicy() ReplicationPolicy {
	return ReplicationPolicy{MaxReplicaSetSize: s.SystemReplicas}
}

// replicationPolicyFor picks the policy governing the partition a request targets
func replicationPolicyFor(cfg ServiceConfigReader, req *model.Request) ReplicationPolicy {
	if req.ResourceType.IsMasterResource() {
		return cfg.SystemReplicationPolicy()
	}
	return cfg.UserReplicationPolicy()
}
