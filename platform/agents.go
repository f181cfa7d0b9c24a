package platform

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/directory"
	"github.com/vinayprograms/aclmts/errors"
)

// AgentManager creates and removes the agents hosted by a platform and
// drives their life-cycle state.
type AgentManager struct {
	p *Platform

	mu     sync.Mutex
	agents map[string]*agentRecord // AID name -> record
}

type agentRecord struct {
	aid      acl.AID
	state    directory.State
	services []string
}

func newAgentManager(p *Platform) *AgentManager {
	return &AgentManager{
		p:      p,
		agents: make(map[string]*agentRecord),
	}
}

// Create registers a new agent named short@<platform>: one address per
// installed scheme, in install order, and a directory entry listing
// services. The platform must be running.
func (m *AgentManager) Create(short string, services ...string) (*Facade, error) {
	if state := m.p.State(); state != StateRunning {
		return nil, errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("cannot create an agent on a %s platform", state))
	}
	return m.create(short, services)
}

func (m *AgentManager) create(short string, services []string) (*Facade, error) {
	if short == "" || strings.ContainsAny(short, "@/ ") {
		return nil, errors.InvalidInput(fmt.Sprintf("invalid agent short name %q", short))
	}
	aid, err := acl.NewAID(short + "@" + m.p.name)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[aid.Name()]; exists {
		return nil, errors.New(errors.ErrCodeAlreadyExists, "agent already exists", errors.WithAgent(aid.Name()))
	}

	var added []string
	rollback := func() {
		for _, scheme := range added {
			m.p.mts.RemoveAddress(scheme, aid)
		}
	}
	for _, scheme := range m.p.mts.Schemes() {
		address, err := m.p.mts.AddAddress(scheme, aid)
		if err != nil {
			rollback()
			return nil, err
		}
		added = append(added, scheme)
		aid.Addresses = append(aid.Addresses, address)
	}

	d := directory.Describe(aid, services...)
	d.Ownership = m.p.name
	if err := m.p.dir.Register(d); err != nil {
		rollback()
		return nil, err
	}

	m.agents[aid.Name()] = &agentRecord{
		aid:      aid,
		state:    directory.StateActive,
		services: append([]string(nil), services...),
	}
	m.changed()
	return newFacade(m.p, aid), nil
}

// Remove deletes the agent's addresses on every scheme, which drops its
// mailbox, and deregisters it.
func (m *AgentManager) Remove(aid acl.AID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.agents[aid.Name()]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "agent not hosted here", errors.WithAgent(aid.Name()))
	}
	err := m.removeLocked(rec)
	m.changed()
	return err
}

func (m *AgentManager) removeLocked(rec *agentRecord) error {
	delete(m.agents, rec.aid.Name())

	var firstErr error
	for _, scheme := range m.p.mts.Schemes() {
		if err := m.p.mts.RemoveAddress(scheme, rec.aid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.p.dir.Deregister(rec.aid.Name()); err != nil && firstErr == nil && !errors.Is(err, errors.ErrCodeNotFound) {
		firstErr = err
	}
	return firstErr
}

// removeAll removes every agent, the AMS included.
func (m *AgentManager) removeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, name := range m.namesLocked() {
		if err := m.removeLocked(m.agents[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.changed()
	return firstErr
}

// Get returns the facade of a hosted agent.
func (m *AgentManager) Get(name string) (*Facade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.agents[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "agent not hosted here", errors.WithAgent(name))
	}
	return newFacade(m.p, rec.aid), nil
}

// List returns the hosted agents sorted by name.
func (m *AgentManager) List() []acl.AID {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.namesLocked()
	out := make([]acl.AID, len(names))
	for i, name := range names {
		out[i] = m.agents[name].aid.Clone()
	}
	return out
}

// Len returns the number of hosted agents.
func (m *AgentManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// State returns the agent's life-cycle state.
func (m *AgentManager) State(aid acl.AID) (directory.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.agents[aid.Name()]
	if !ok {
		return "", errors.New(errors.ErrCodeNotFound, "agent not hosted here", errors.WithAgent(aid.Name()))
	}
	return rec.state, nil
}

// Suspend moves an active agent to suspended.
func (m *AgentManager) Suspend(aid acl.AID) error {
	return m.transition(aid, directory.StateActive, directory.StateSuspended)
}

// Resume moves a suspended agent back to active.
func (m *AgentManager) Resume(aid acl.AID) error {
	return m.transition(aid, directory.StateSuspended, directory.StateActive)
}

// Wait moves an active agent to waiting.
func (m *AgentManager) Wait(aid acl.AID) error {
	return m.transition(aid, directory.StateActive, directory.StateWaiting)
}

// WakeUp moves a waiting agent back to active.
func (m *AgentManager) WakeUp(aid acl.AID) error {
	return m.transition(aid, directory.StateWaiting, directory.StateActive)
}

func (m *AgentManager) transition(aid acl.AID, from, to directory.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.agents[aid.Name()]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "agent not hosted here", errors.WithAgent(aid.Name()))
	}
	if rec.state != from {
		return errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("cannot go from %s to %s", rec.state, to),
			errors.WithAgent(aid.Name()))
	}

	d := directory.Describe(rec.aid, rec.services...)
	d.Ownership = m.p.name
	d.State = to
	if err := m.p.dir.Register(d); err != nil {
		return err
	}
	rec.state = to
	return nil
}

func (m *AgentManager) namesLocked() []string {
	names := make([]string, 0, len(m.agents))
	for name := range m.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// changed publishes the agent count in heartbeats. Callers hold m.mu.
func (m *AgentManager) changed() {
	if m.p.sender != nil {
		m.p.sender.SetAgents(len(m.agents))
	}
}
