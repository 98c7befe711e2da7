// Package reactor tracks the projects watched together in one session: a
// single target and the contributors whose final script artifacts feed it.
package reactor

import (
	"fmt"
	"sync"

	"github.com/roach88/mill/internal/project"
)

// Role is a project's part in a reactor session.
type Role string

const (
	RoleTarget      Role = "target"
	RoleContributor Role = "contributor"
)

// Member is one project with its role.
type Member struct {
	Project *project.Project
	Role    Role
}

// Registry holds the target and its contributors in registration order.
// It is filled during session setup and only read afterwards.
type Registry struct {
	mu           sync.RWMutex
	target       *project.Project
	contributors []*project.Project
}

// NewRegistry returns a registry for target with no contributors.
func NewRegistry(target *project.Project) *Registry {
	return &Registry{target: target}
}

// FromWorkspace registers every js module of ws other than target, in
// workspace order.
func FromWorkspace(ws *project.Workspace, target *project.Project) (*Registry, error) {
	r := NewRegistry(target)
	for _, p := range ws.Modules {
		if p.ID == target.ID || p.Packaging != project.PackagingJS {
			continue
		}
		if err := r.RegisterContributor(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Target returns the project consuming contributor artifacts.
func (r *Registry) Target() *project.Project {
	return r.target
}

// RegisterContributor adds p. The target itself, duplicates and modules
// that do not produce a js artifact are rejected.
func (r *Registry) RegisterContributor(p *project.Project) error {
	if p == nil {
		return fmt.Errorf("register contributor: nil project")
	}
	if p.Packaging != project.PackagingJS {
		return fmt.Errorf("register contributor %s: packaging %q produces no script artifact", p.ID, p.Packaging)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target != nil && p.ID == r.target.ID {
		return fmt.Errorf("register contributor %s: project is the reactor target", p.ID)
	}
	for _, c := range r.contributors {
		if c.ID == p.ID {
			return fmt.Errorf("register contributor %s: already registered", p.ID)
		}
	}
	r.contributors = append(r.contributors, p)
	return nil
}

// ListContributors returns the contributors in registration order.
func (r *Registry) ListContributors() []*project.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*project.Project(nil), r.contributors...)
}

// Members returns contributors followed by the target, which is the order
// their cold passes run in.
func (r *Registry) Members() []Member {
	contributors := r.ListContributors()
	members := make([]Member, 0, len(contributors)+1)
	for _, c := range contributors {
		members = append(members, Member{Project: c, Role: RoleContributor})
	}
	if r.target != nil {
		members = append(members, Member{Project: r.target, Role: RoleTarget})
	}
	return members
}
