package processor

import (
	"fmt"

	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/project"
)

// AggregateOptions configures aggregate-scripts and aggregate-styles.
type AggregateOptions struct {
	// Names are concatenated in order. Each name resolves to
	// <output>/<js|css>/<name>.<ext>, then <libs>/<name>.<ext>.
	Names []string

	// Output overrides the final artifact path.
	Output string
}

func (o AggregateOptions) Validate() error {
	if len(o.Names) == 0 {
		return fmt.Errorf("names are required")
	}
	for i, n := range o.Names {
		if n == "" {
			return fmt.Errorf("names[%d] is empty", i)
		}
	}
	return nil
}

// OptimizeOptions configures optimize-png.
type OptimizeOptions struct {
	Level int
}

func (o OptimizeOptions) Validate() error {
	if o.Level < 0 || o.Level > 7 {
		return fmt.Errorf("level %d out of range 0-7", o.Level)
	}
	return nil
}

// PropagateOptions configures a propagation stage. The processor itself is
// bound to the contributor; Target receives its final artifact.
type PropagateOptions struct {
	Target *project.Project

	// Retrigger re-runs the target chain for the copied artifact. Nil
	// disables re-triggering.
	Retrigger func(fsevent.Event)
}

func (o PropagateOptions) Validate() error {
	if o.Target == nil {
		return fmt.Errorf("target project is required")
	}
	return nil
}

// optionsAs validates opts and asserts it to T. A nil opts yields the zero
// value of T before validation.
func optionsAs[T Options](kind Kind, p *project.Project, opts Options) (T, error) {
	var zero, v T
	if opts != nil {
		t, ok := opts.(T)
		if !ok {
			return zero, configError(kind, p, fmt.Sprintf("options of type %T, want %T", opts, zero))
		}
		v = t
	}
	if err := v.Validate(); err != nil {
		return zero, configError(kind, p, err.Error())
	}
	return v, nil
}

func configError(kind Kind, p *project.Project, msg string) error {
	id := ""
	if p != nil {
		id = p.ID
	}
	return &project.ConfigError{Project: id, Field: string(kind), Message: msg}
}

// noOptions rejects options passed to a kind that takes none.
func noOptions(kind Kind, p *project.Project, opts Options) error {
	if opts != nil {
		return configError(kind, p, fmt.Sprintf("takes no options, got %T", opts))
	}
	return nil
}
