package model

import (
	"net/url"
	"strings"
)

// Protocol is the wire protocol a replica address speaks
type Protocol string

const (
	ProtocolHTTPS Protocol = "https"
	ProtocolHTTP  Protocol = "http"
	ProtocolTCP   Protocol = "rntbd"
)

// ParseProtocol maps a configuration value to a protocol
func ParseProtocol(s string) Protocol {
	switch strings.ToLower(s) {
	case "tcp", "rntbd":
		return ProtocolTCP
	case "http":
		return ProtocolHTTP
	default:
		return ProtocolHTTPS
	}
}

// AddressInformation describes one physical replica endpoint
type AddressInformation struct {
	PhysicalURI string   `yaml:"physical_uri" json:"physical_uri"`
	Protocol    Protocol `yaml:"protocol" json:"protocol"`
	IsPrimary   bool     `yaml:"is_primary" json:"is_primary"`
	IsPublic    bool     `yaml:"is_public" json:"is_public"`
}

// ProtocolScheme returns the scheme of the physical URI, falling back to the
// declared protocol when the URI cannot be parsed
func (a AddressInformation) ProtocolScheme() string {
	if u, err := url.Parse(a.PhysicalURI); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Scheme)
	}
	return string(a.Protocol)
}
