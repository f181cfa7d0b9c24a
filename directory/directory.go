package directory

import (
	"sort"
	"time"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
)

// State is an agent's life-cycle state as published in the directory.
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateWaiting   State = "waiting"
)

// Description is the white-pages entry for one agent.
type Description struct {
	// Name is the full agent name (short@hap); it keys the entry.
	Name string `json:"name"`

	// Addresses in priority order, as handed out by the transport system.
	Addresses []string `json:"addresses,omitempty"`

	// Ownership names who runs the agent.
	Ownership string `json:"ownership,omitempty"`

	State State `json:"state"`

	// Services the agent offers, used for lookups by service.
	Services []string `json:"services,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// LastSeen is set by the directory on every Register.
	LastSeen time.Time `json:"last_seen"`
}

// Describe builds an active description from an AID.
func Describe(aid acl.AID, services ...string) Description {
	return Description{
		Name:      aid.Name(),
		Addresses: append([]string(nil), aid.Addresses...),
		State:     StateActive,
		Services:  append([]string(nil), services...),
	}
}

// AID rebuilds the agent identifier carried by d.
func (d Description) AID() (acl.AID, error) {
	aid, err := acl.NewAID(d.Name, d.Addresses...)
	if err != nil {
		return acl.AID{}, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "directory entry has a bad name")
	}
	return aid, nil
}

// Offers reports whether d lists service.
func (d Description) Offers(service string) bool {
	for _, s := range d.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	State    State
	Service  string
	Platform string // hap part of the name
}

// Matches reports whether d passes f. A nil filter matches all.
func (f *Filter) Matches(d Description) bool {
	if f == nil {
		return true
	}
	if f.State != "" && d.State != f.State {
		return false
	}
	if f.Service != "" && !d.Offers(f.Service) {
		return false
	}
	if f.Platform != "" {
		aid, err := d.AID()
		if err != nil || aid.HapName() != f.Platform {
			return false
		}
	}
	return true
}

// EventType represents the type of directory event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the directory.
type Event struct {
	Type EventType

	// Agent is the new entry; for removals only Name is guaranteed.
	Agent Description
}

// Directory is the agent management service's registry of agents on one
// or more platforms.
type Directory interface {
	// Register adds or replaces the entry for d.Name.
	Register(d Description) error

	// Deregister removes an entry. Unknown names fail with NOT_FOUND.
	Deregister(name string) error

	// Get returns one entry or NOT_FOUND.
	Get(name string) (*Description, error)

	// List returns matching entries sorted by name.
	List(filter *Filter) ([]Description, error)

	// Watch streams changes until the directory is closed.
	Watch() (<-chan Event, error)

	Close() error
}

// Resolve looks name up in dir and returns its AID with the published
// addresses.
func Resolve(dir Directory, name string) (acl.AID, error) {
	d, err := dir.Get(name)
	if err != nil {
		return acl.AID{}, err
	}
	return d.AID()
}

// Validate checks that d can be stored.
func Validate(d Description) error {
	if _, err := acl.NewAID(d.Name); err != nil {
		return errors.InvalidInput(err.Error())
	}
	switch d.State {
	case StateActive, StateSuspended, StateWaiting:
	default:
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown agent state %q", d.State)
	}
	return nil
}

func errNotFound(name string) error {
	return errors.New(errors.ErrCodeNotFound, "agent not registered", errors.WithAgent(name))
}

func errClosed() error {
	return errors.New(errors.ErrCodeUnavailable, "directory closed")
}

func sortByName(ds []Description) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}
