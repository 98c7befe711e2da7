// Package chain builds the ordered processor list for a project.
//
// Order encodes data flow: copies and compiles first, then aggregation over
// their outputs, then validation, then optimization of the copied assets.
// A propagation stage, when present, is always last so it only ever sees an
// artifact the local stages have finished writing.
package chain

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/mill/internal/processor"
	"github.com/roach88/mill/internal/project"
)

// Spec is one planned stage: a kind plus its typed options.
type Spec struct {
	Kind    processor.Kind
	Options processor.Options
}

// Options adjust a chain beyond what the project configures.
type Options struct {
	// Propagate appends a propagation stage into another project.
	Propagate *processor.PropagateOptions
}

// Plan returns the stages for p in chain order without configuring them.
func Plan(p *project.Project, opts Options) []Spec {
	f := p.Features
	var specs []Spec
	add := func(kind processor.Kind, o processor.Options) {
		specs = append(specs, Spec{Kind: kind, Options: o})
	}

	add(processor.KindCopyAssets, nil)
	add(processor.KindCopyScripts, nil)
	add(processor.KindCopyTestScripts, nil)
	add(processor.KindCopyStyles, nil)

	if f.CompileStyles {
		add(processor.KindCompileStyles, nil)
	}
	if f.CompileScripts {
		add(processor.KindCompileScripts, nil)
		add(processor.KindCompileTestScripts, nil)
	}
	if f.CompileTemplates {
		add(processor.KindCompileTemplates, nil)
	}

	// An aggregator without names has nothing to do and is left out.
	if f.Aggregate && len(p.Aggregation.Scripts) > 0 {
		add(processor.KindAggregateScripts, processor.AggregateOptions{Names: p.Aggregation.Scripts})
	}
	if f.Aggregate && len(p.Aggregation.Styles) > 0 {
		add(processor.KindAggregateStyles, processor.AggregateOptions{Names: p.Aggregation.Styles})
	}

	if f.ValidateScripts {
		add(processor.KindValidateScripts, nil)
	}
	if f.ValidateStyles {
		add(processor.KindValidateStyles, nil)
	}

	if f.OptimizeAssets {
		add(processor.KindOptimizePNG, processor.OptimizeOptions{Level: p.OptimizationLevel})
		add(processor.KindOptimizeJPEG, nil)
		add(processor.KindCompressHTML, nil)
	}

	if opts.Propagate != nil {
		add(processor.KindPropagate, *opts.Propagate)
	}
	return specs
}

// Build plans and configures the chain for p. Configuration errors surface
// here, before any file is touched.
func Build(p *project.Project, opts Options) ([]processor.Processor, error) {
	if p == nil {
		return nil, fmt.Errorf("build chain: nil project")
	}

	specs := Plan(p, opts)
	procs := make([]processor.Processor, 0, len(specs))
	for _, s := range specs {
		proc, err := processor.New(s.Kind, p, s.Options)
		if err != nil {
			return nil, err
		}
		procs = append(procs, proc)
	}
	return procs, nil
}

// Step is the printable form of one chain entry.
type Step struct {
	Index int            `json:"index"`
	Kind  processor.Kind `json:"kind"`
	Name  string         `json:"name"`
}

// Steps lists procs in chain order.
func Steps(procs []processor.Processor) []Step {
	steps := make([]Step, len(procs))
	for i, proc := range procs {
		steps[i] = Step{Index: i + 1, Kind: proc.Kind(), Name: proc.Name()}
	}
	return steps
}

// Describe writes a table of the chain for p.
func Describe(w io.Writer, p *project.Project, procs []processor.Processor) error {
	if _, err := fmt.Fprintf(w, "%s (%d stages)\n", p.ID, len(procs)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range Steps(procs) {
		if s.Name == string(s.Kind) {
			fmt.Fprintf(tw, "  %d\t%s\n", s.Index, s.Kind)
			continue
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", s.Index, s.Kind, s.Name)
	}
	return tw.Flush()
}
