package model

import (
	"fmt"
	"strings"
)

// OperationType identifies what a request does to a resource
type OperationType int

const (
	OperationCreate OperationType = iota
	OperationRead
	OperationReplace
	OperationUpsert
	OperationDelete
	OperationPatch
	OperationQuery
	OperationReadFeed
	OperationHead
	OperationHeadFeed
	OperationExecuteJavaScript
)

var operationNames = map[OperationType]string{
	OperationCreate:            "Create",
	OperationRead:              "Read",
	OperationReplace:           "Replace",
	OperationUpsert:            "Upsert",
	OperationDelete:            "Delete",
	OperationPatch:             "Patch",
	OperationQuery:             "Query",
	OperationReadFeed:          "ReadFeed",
	OperationHead:              "Head",
	OperationHeadFeed:          "HeadFeed",
	OperationExecuteJavaScript: "ExecuteJavaScript",
}

// String returns the operation name
func (o OperationType) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "Unknown"
}

// IsWriteOperation reports whether the operation mutates state on the primary
func (o OperationType) IsWriteOperation() bool {
	switch o {
	case OperationCreate, OperationReplace, OperationUpsert, OperationDelete, OperationPatch, OperationExecuteJavaScript:
		return true
	default:
		return false
	}
}

// IsReadOnly reports whether the operation can be served by any replica
func (o OperationType) IsReadOnly() bool {
	switch o {
	case OperationRead, OperationQuery, OperationReadFeed, OperationHead, OperationHeadFeed:
		return true
	default:
		return false
	}
}

// ResourceType identifies the kind of resource addressed by a request
type ResourceType int

const (
	ResourceDocument ResourceType = iota
	ResourceCollection
	ResourceDatabase
	ResourceStoredProcedure
	ResourcePartitionKeyRange
	ResourceConnection
)

var resourceNames = map[ResourceType]string{
	ResourceDocument:          "Document",
	ResourceCollection:        "Collection",
	ResourceDatabase:          "Database",
	ResourceStoredProcedure:   "StoredProcedure",
	ResourcePartitionKeyRange: "PartitionKeyRange",
	ResourceConnection:        "Connection",
}

// String returns the resource type name
func (r ResourceType) String() string {
	if name, ok := resourceNames[r]; ok {
		return name
	}
	return "Unknown"
}

// IsMasterResource reports whether the resource lives on the master partition
// and therefore follows the system replication policy
func (r ResourceType) IsMasterResource() bool {
	switch r {
	case ResourceDatabase, ResourceCollection, ResourcePartitionKeyRange:
		return true
	default:
		return false
	}
}

// ParseOperationType parses an operation name case-insensitively
func ParseOperationType(s string) (OperationType, error) {
	for op, name := range operationNames {
		if strings.EqualFold(s, name) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation type %q", s)
}

// ParseResourceType parses a resource type name case-insensitively
func ParseResourceType(s string) (ResourceType, error) {
	for rt, name := range resourceNames {
		if strings.EqualFold(s, name) {
			return rt, nil
		}
	}
	return 0, fmt.Errorf("unknown resource type %q", s)
}
