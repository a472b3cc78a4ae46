package model

// Header names exchanged with replicas (HTTP header names; the RNTBD header
// block carries the same names)
const (
	HeaderLSN                   = "x-ms-lsn"
	HeaderGlobalCommittedLSN    = "x-ms-global-committed-lsn"
	HeaderQuorumAckedLSN        = "x-ms-quorum-acked-lsn"
	HeaderItemLSN               = "x-ms-item-lsn"
	HeaderPartitionKeyRangeID   = "x-ms-partition-key-range-id"
	HeaderSubStatus             = "x-ms-substatus"
	HeaderNumberOfReadRegions   = "x-ms-number-of-read-regions"
	HeaderRequestCharge         = "x-ms-request-charge"
	HeaderCurrentReplicaSetSize = "x-ms-current-replica-set-size"
	HeaderCurrentWriteQuorum    = "x-ms-current-write-quorum"
	HeaderSessionToken          = "x-ms-session-token"
	HeaderActivityID            = "x-ms-activity-id"
	HeaderConsistencyLevel      = "x-ms-consistency-level"
	HeaderRemainingTimeOnClient = "x-ms-remaining-time-in-ms-on-client"
	HeaderVersion               = "x-ms-version"
	HeaderContentType           = "Content-Type"
	HeaderReplicaPath           = "x-ms-replica-path"
	HeaderResourcePath          = "x-ms-resource-path"
	HeaderResourceType          = "x-ms-resource-type"
	HeaderOperationType         = "x-ms-operation-type"
	HeaderProtocolVersion       = "x-ms-protocol-version"
	HeaderClientVersion         = "x-ms-client-version"
	HeaderUserAgent             = "User-Agent"
	HeaderServerVersion         = "x-ms-server-version"
	HeaderIdleTimeoutInSeconds  = "x-ms-idle-timeout-seconds"
)

// Substatus codes refining 404 and 410
const (
	SubStatusUnknown                      = 0
	SubStatusNameCacheIsStale             = 1000
	SubStatusPartitionKeyRangeGone        = 1002
	SubStatusReadSessionNotAvailable      = 1002
	SubStatusCompletingSplit              = 1007
	SubStatusCompletingPartitionMigration = 1008
)

// UnknownLSN marks an LSN header that is absent or could not be parsed.
// It never takes part in LSN ordering.
const UnknownLSN int64 = -1

// APIVersion is sent on every request
const APIVersion = "2018-12-31"
