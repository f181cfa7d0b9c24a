package mts

import (
	"context"
	"net/url"
	"strings"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/mailbox"
)

// Handler is a message transfer handler: the transport for one address
// scheme. A new transport is added by implementing Handler and installing
// it on the MTS.
type Handler interface {
	// Scheme returns the address scheme this handler owns, e.g. "memory".
	Scheme() string

	// CreateAddress allocates an address for aid on this scheme and binds
	// inbound traffic for it to mb. Calling it again for the same agent must
	// keep delivering into the same mailbox.
	CreateAddress(aid acl.AID, mb *mailbox.Mailbox) (string, error)

	// DeleteAddress removes the binding for aid.
	DeleteAddress(aid acl.AID) error

	// Send delivers msg, already narrowed to a single receiver, to address.
	// Any error means "not delivered through this address".
	Send(ctx context.Context, msg *acl.Message, address string) error
}

// Closer is implemented by handlers holding resources (connections,
// listeners) that must be released on shutdown.
type Closer interface {
	Close() error
}

// FormatAddress builds "<scheme>://<host>/<short>".
func FormatAddress(scheme, host, short string) string {
	return scheme + "://" + host + "/" + short
}

// SchemeOf returns the scheme prefix of an address.
func SchemeOf(address string) (string, error) {
	scheme, rest, ok := strings.Cut(address, "://")
	if !ok || scheme == "" || rest == "" {
		return "", errors.InvalidAddress(address)
	}
	return scheme, nil
}

// Address is a parsed "<scheme>://<host>/<path>" address.
type Address struct {
	Scheme string
	Host   string
	Path   string // without the leading slash
}

// ParseAddress splits an address into scheme, host and path.
func ParseAddress(address string) (Address, error) {
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Address{}, errors.InvalidAddress(address)
	}
	return Address{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   strings.TrimPrefix(u.Path, "/"),
	}, nil
}

func (a Address) String() string {
	return FormatAddress(a.Scheme, a.Host, a.Path)
}
