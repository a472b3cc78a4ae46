package model

import (
	"fmt"
	"strings"
)

// ConsistencyLevel is the consistency a read or write is served at
type ConsistencyLevel string

const (
	ConsistencyUnspecified      ConsistencyLevel = ""
	ConsistencyStrong           ConsistencyLevel = "Strong"
	ConsistencyBoundedStaleness ConsistencyLevel = "BoundedStaleness"
	ConsistencySession          ConsistencyLevel = "Session"
	ConsistencyConsistentPrefix ConsistencyLevel = "ConsistentPrefix"
	ConsistencyEventual         ConsistencyLevel = "Eventual"
)

// strength orders levels from weakest to strongest
func (c ConsistencyLevel) strength() int {
	switch c {
	case ConsistencyEventual:
		return 0
	case ConsistencyConsistentPrefix:
		return 1
	case ConsistencySession:
		return 2
	case ConsistencyBoundedStaleness:
		return 3
	case ConsistencyStrong:
		return 4
	default:
		return -1
	}
}

// IsStrongerThan reports whether c gives stronger guarantees than other
func (c ConsistencyLevel) IsStrongerThan(other ConsistencyLevel) bool {
	return c.strength() > other.strength()
}

// IsValid reports whether c names a known level
func (c ConsistencyLevel) IsValid() bool {
	return c.strength() >= 0
}

// ParseConsistencyLevel parses a level name case-insensitively
func ParseConsistencyLevel(s string) (ConsistencyLevel, error) {
	for _, level := range []ConsistencyLevel{
		ConsistencyStrong,
		ConsistencyBoundedStaleness,
		ConsistencySession,
		ConsistencyConsistentPrefix,
		ConsistencyEventual,
	} {
		if strings.EqualFold(s, string(level)) {
			return level, nil
		}
	}
	return ConsistencyUnspecified, fmt.Errorf("invalid consistency level %q: must be one of: strong, boundedstaleness, session, consistentprefix, eventual", s)
}

// ReadMode is how a read is served by the replica set
type ReadMode int

const (
	// ReadModeAny reads a single replica
	ReadModeAny ReadMode = iota
	// ReadModePrimary reads the primary only
	ReadModePrimary
	// ReadModeBoundedStaleness reads a quorum and accepts the selected LSN
	ReadModeBoundedStaleness
	// ReadModeStrong reads a quorum and waits for the selected LSN to be quorum-committed
	ReadModeStrong
)

// String returns the read mode name
func (m ReadMode) String() string {
	switch m {
	case ReadModeAny:
		return "Any"
	case ReadModePrimary:
		return "Primary"
	case ReadModeBoundedStaleness:
		return "BoundedStaleness"
	case ReadModeStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}
