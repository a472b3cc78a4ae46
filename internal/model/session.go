package model

import (
	"strconv"
	"strings"
)

// SessionToken is a parsed per-partition session token. Tokens look like
// "<range id>:<lsn>" or "<range id>:<version>#<global lsn>#<region>=<lsn>...";
// a compound token joins several of these with commas.
type SessionToken struct {
	PartitionKeyRangeID string
	Version             int64
	GlobalLSN           int64
	Raw                 string
}

// ParseSessionToken parses a single-range session token
func ParseSessionToken(raw string) (SessionToken, bool) {
	raw = strings.TrimSpace(raw)
	rangeID, rest, found := strings.Cut(raw, ":")
	if !found || rangeID == "" || rest == "" {
		return SessionToken{}, false
	}

	token := SessionToken{PartitionKeyRangeID: rangeID, Version: UnknownLSN, Raw: raw}
	parts := strings.Split(rest, "#")
	if len(parts) == 1 {
		lsn, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return SessionToken{}, false
		}
		token.GlobalLSN = lsn
		return token, true
	}

	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return SessionToken{}, false
	}
	lsn, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return SessionToken{}, false
	}
	token.Version = version
	token.GlobalLSN = lsn
	return token, true
}

// SessionTokenForRange picks the segment of a compound token that belongs to
// the given partition key range
func SessionTokenForRange(compound, rangeID string) (SessionToken, bool) {
	for _, segment := range strings.Split(compound, ",") {
		token, ok := ParseSessionToken(segment)
		if ok && token.PartitionKeyRangeID == rangeID {
			return token, true
		}
	}
	return SessionToken{}, false
}
