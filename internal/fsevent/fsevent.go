// Package fsevent defines the file events a monitor delivers to the
// dispatch engine.
package fsevent

import (
	"fmt"

	"github.com/roach88/mill/internal/project"
)

// Kind is the logical change that happened to a path.
type Kind int

const (
	Created Kind = iota + 1
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one change to one absolute path. It is consumed exactly once.
type Event struct {
	Path    string
	Kind    Kind
	Project *project.Project

	// Synthetic marks events injected by propagation rather than observed
	// on disk.
	Synthetic bool
}

func (e Event) String() string {
	id := ""
	if e.Project != nil {
		id = e.Project.ID
	}
	return fmt.Sprintf("%s %s (%s)", e.Kind, e.Path, id)
}
