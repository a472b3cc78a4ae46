package service

import (
	"context"
	"fmt"
	"strings"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
)

// AddressResolver returns the replica addresses of the partition owning a request
type AddressResolver interface {
	Resolve(ctx context.Context, req *model.Request, forceRefresh bool) ([]model.AddressInformation, error)
}

// AddressSelector narrows resolved addresses to the ones this client can use
type AddressSelector struct {
	resolver       AddressResolver
	protocol       model.Protocol
	preferInternal bool
}

// NewAddressSelector creates an address selector for protocol
func NewAddressSelector(resolver AddressResolver, protocol model.Protocol, preferInternal bool) *AddressSelector {
	return &AddressSelector{
		resolver:       resolver,
		protocol:       protocol,
		preferInternal: preferInternal,
	}
}

// Protocol returns the wire protocol addresses are filtered to
func (s *AddressSelector) Protocol() model.Protocol {
	return s.protocol
}

// ResolveAddresses returns the addresses speaking the configured protocol in
// resolution order. Internal addresses win; public ones are used only when no
// internal address exists.
func (s *AddressSelector) ResolveAddresses(ctx context.Context, req *model.Request, forceRefresh bool) ([]model.AddressInformation, error) {
	resolved, err := s.resolver.Resolve(ctx, req, forceRefresh)
	if err != nil {
		return nil, err
	}

	usable := filterProtocol(resolved, s.speaksProtocol)
	if !s.preferInternal {
		return usable, nil
	}

	var internal, public []model.AddressInformation
	for _, addr := range usable {
		if addr.IsPublic {
			public = append(public, addr)
		} else {
			internal = append(internal, addr)
		}
	}
	if len(internal) > 0 {
		return internal, nil
	}
	return public, nil
}

// ResolveAllURIs returns secondary URIs in resolution order, followed by the
// primary when includePrimary is set
func (s *AddressSelector) ResolveAllURIs(ctx context.Context, req *model.Request, includePrimary, forceRefresh bool) ([]string, error) {
	addresses, err := s.ResolveAddresses(ctx, req, forceRefresh)
	if err != nil {
		return nil, err
	}
	return orderURIs(addresses, includePrimary), nil
}

// ResolvePrimaryURI returns the URI of the replica that accepts writes
func (s *AddressSelector) ResolvePrimaryURI(ctx context.Context, req *model.Request, forceRefresh bool) (string, error) {
	addresses, err := s.ResolveAddresses(ctx, req, forceRefresh)
	if err != nil {
		return "", err
	}
	return GetPrimaryURI(req, addresses)
}

// GetPrimaryURI returns the address pinned by the request's replica index, or
// else the single primary
func GetPrimaryURI(req *model.Request, addresses []model.AddressInformation) (string, error) {
	if len(addresses) == 0 {
		return "", storeerrors.Gone("no addresses", nil).
			WithResponseContext(req.ResourcePath, "", nil)
	}

	if req.DefaultReplicaIndex != nil {
		index := *req.DefaultReplicaIndex
		if index < 0 || index >= len(addresses) {
			return "", storeerrors.BadRequest(
				fmt.Sprintf("replica index %d out of range for %d addresses", index, len(addresses)), nil)
		}
		return addresses[index].PhysicalURI, nil
	}

	for _, addr := range addresses {
		if addr.IsPrimary {
			return addr.PhysicalURI, nil
		}
	}

	uris := make([]string, len(addresses))
	for i, addr := range addresses {
		uris[i] = addr.PhysicalURI
	}
	return "", storeerrors.Gone(fmt.Sprintf("no primary among {%s}", strings.Join(uris, ", ")), nil).
		WithResponseContext(req.ResourcePath, "", nil)
}

func (s *AddressSelector) speaksProtocol(addr model.AddressInformation) bool {
	if addr.Protocol != "" {
		return addr.Protocol == s.protocol
	}
	return model.ParseProtocol(addr.ProtocolScheme()) == s.protocol
}

func filterProtocol(addresses []model.AddressInformation, keep func(model.AddressInformation) bool) []model.AddressInformation {
	var out []model.AddressInformation
	for _, addr := range addresses {
		if keep(addr) {
			out = append(out, addr)
		}
	}
	return out
}

// orderURIs keeps secondaries in order and moves the primary to the end
func orderURIs(addresses []model.AddressInformation, includePrimary bool) []string {
	uris := make([]string, 0, len(addresses))
	var primary []string
	for _, addr := range addresses {
		if addr.IsPrimary {
			primary = append(primary, addr.PhysicalURI)
			continue
		}
		uris = append(uris, addr.PhysicalURI)
	}
	if includePrimary {
		uris = append(uris, primary...)
	}
	return uris
}
