// Package registry is the in-memory agent and collective registry the
// simulation driver feeds to the economy core. It implements the skill and
// role lookup interfaces the collective engine consumes; the core never
// mutates it.
package registry

import (
	"sort"
	"sync"
)

// Registry holds agent skills and collective role bindings.
type Registry struct {
	mu sync.RWMutex

	// agent → skill → level in [0, 1]
	skills map[string]map[string]float64

	// collective → agent → role. One role per agent per collective;
	// re-binding replaces.
	bindings map[string]map[string]string

	// collective → registered role names (a role may be registered with
	// no current holder).
	roles map[string]map[string]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		skills:   make(map[string]map[string]float64),
		bindings: make(map[string]map[string]string),
		roles:    make(map[string]map[string]bool),
	}
}

// SetSkill records an agent's level in a skill, clamped to [0, 1].
func (r *Registry) SetSkill(agentID, skill string, level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.skills[agentID]
	if !ok {
		m = make(map[string]float64)
		r.skills[agentID] = m
	}
	m[skill] = level
}

// Skill returns an agent's level in a skill and whether it is known.
func (r *Registry) Skill(agentID, skill string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	level, ok := r.skills[agentID][skill]
	return level, ok
}

// RegisterRole adds a role name to a collective's known role set without
// binding anyone to it.
func (r *Registry) RegisterRole(collectiveID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerRole(collectiveID, role)
}

// BindRole binds an agent to a role within a collective, registering the
// role if needed. An agent holds one role per collective; binding again
// replaces the previous role.
func (r *Registry) BindRole(collectiveID, agentID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerRole(collectiveID, role)
	m, ok := r.bindings[collectiveID]
	if !ok {
		m = make(map[string]string)
		r.bindings[collectiveID] = m
	}
	m[agentID] = role
}

// UnbindRole removes an agent's role binding in a collective. The role
// stays registered.
func (r *Registry) UnbindRole(collectiveID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings[collectiveID], agentID)
}

// AgentsWithRole returns the agents bound to a role in a collective,
// sorted by id.
func (r *Registry) AgentsWithRole(collectiveID, role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for agent, bound := range r.bindings[collectiveID] {
		if bound == role {
			out = append(out, agent)
		}
	}
	sort.Strings(out)
	return out
}

// Roles returns a collective's registered role names, sorted.
func (r *Registry) Roles(collectiveID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles[collectiveID]))
	for role := range r.roles[collectiveID] {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Collectives returns the ids of all collectives with registered roles,
// sorted.
func (r *Registry) Collectives() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles))
	for id := range r.roles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Members returns the agent → role bindings of a collective.
func (r *Registry) Members(collectiveID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.bindings[collectiveID]))
	for agent, role := range r.bindings[collectiveID] {
		out[agent] = role
	}
	return out
}

// registerRole adds a role to the known set. Caller must hold r.mu.
func (r *Registry) registerRole(collectiveID, role string) {
	set, ok := r.roles[collectiveID]
	if !ok {
		set = make(map[string]bool)
		r.roles[collectiveID] = set
	}
	set[role] = true
}
