package acl

import (
	"fmt"
	"strings"
)

// AID identifies an agent by logical name rather than network address.
//
// The name has the form short_name@hap_name. Addresses is an ordered list of
// scheme-qualified URLs (priority order) through which the agent can be
// reached; Resolvers lists name-resolution agents, also in priority order.
// Two AIDs are equal when their names are equal, regardless of addresses.
type AID struct {
	name      string
	Addresses []string
	Resolvers []AID
}

// NewAID creates an AID. The name must contain a single '@' separating a
// non-empty short name from a non-empty platform name.
func NewAID(name string, addresses ...string) (AID, error) {
	short, hap, ok := strings.Cut(name, "@")
	if !ok || short == "" || hap == "" || strings.Contains(hap, "@") {
		return AID{}, fmt.Errorf("invalid agent name %q: must be short_name@hap_name", name)
	}
	return AID{
		name:      name,
		Addresses: append([]string(nil), addresses...),
	}, nil
}

// ParseAID parses a full agent name with no addresses.
func ParseAID(name string) (AID, error) {
	return NewAID(name)
}

// MustAID is like NewAID but panics on an invalid name.
func MustAID(name string, addresses ...string) AID {
	aid, err := NewAID(name, addresses...)
	if err != nil {
		panic(err)
	}
	return aid
}

// Name returns the full agent name (short_name@hap_name).
func (a AID) Name() string {
	return a.name
}

// ShortName returns the part of the name before '@'.
func (a AID) ShortName() string {
	short, _, _ := strings.Cut(a.name, "@")
	return short
}

// HapName returns the hosting platform name, the part after '@'.
func (a AID) HapName() string {
	_, hap, _ := strings.Cut(a.name, "@")
	return hap
}

// IsZero reports whether the AID was never initialised.
func (a AID) IsZero() bool {
	return a.name == ""
}

// Equal reports whether both AIDs designate the same agent.
func (a AID) Equal(other AID) bool {
	return a.name == other.name
}

// Clone returns a copy that shares no slices with a.
func (a AID) Clone() AID {
	c := AID{name: a.name}
	if a.Addresses != nil {
		c.Addresses = append([]string(nil), a.Addresses...)
	}
	if a.Resolvers != nil {
		c.Resolvers = make([]AID, len(a.Resolvers))
		for i, r := range a.Resolvers {
			c.Resolvers[i] = r.Clone()
		}
	}
	return c
}

// String returns the agent name.
func (a AID) String() string {
	return a.name
}
