package processor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/mill/internal/project"
)

// Factory returns an unconfigured processor of a kind.
type Factory func(kind Kind) Processor

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Factory{
		KindCopyAssets:         newMirror,
		KindCopyScripts:        newMirror,
		KindCopyTestScripts:    newMirror,
		KindCopyStyles:         newMirror,
		KindCompileStyles:      newMirror,
		KindCompileScripts:     newMirror,
		KindCompileTestScripts: newMirror,
		KindCompileTemplates:   newMirror,
		KindAggregateScripts:   newAggregator,
		KindAggregateStyles:    newAggregator,
		KindValidateScripts:    newValidator,
		KindValidateStyles:     newValidator,
		KindOptimizePNG:        newOptimizer,
		KindOptimizeJPEG:       newOptimizer,
		KindCompressHTML:       newOptimizer,
		KindPropagate:          newPropagator,
	}
)

// Register adds or replaces the factory for kind. Registering the same kind
// twice keeps only the last factory, so a kind never yields two stages.
func Register(kind Kind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New builds a processor of kind and configures it for p.
func New(kind Kind, p *project.Project, opts Options) (Processor, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, configError(kind, p, fmt.Sprintf("unknown processor kind %q", kind))
	}

	proc := f(kind)
	if err := proc.Configure(p, opts); err != nil {
		return nil, err
	}
	return proc, nil
}
