package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/journal"
	"github.com/roach88/mill/internal/processor"
	"github.com/roach88/mill/internal/project"
)

// Recorder persists dispatch outcomes. *journal.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Failure is one processor's error for one dispatch.
type Failure struct {
	Processor string
	Err       error
}

// Result summarizes one dispatch or cold pass.
type Result struct {
	// Ran lists, in chain order, every processor whose hook was invoked.
	Ran      []string
	Failures []Failure
}

// Handled reports whether any processor accepted the event.
func (r Result) Handled() bool {
	return len(r.Ran) > 0
}

// Failed reports whether any processor failed.
func (r Result) Failed() bool {
	return len(r.Failures) > 0
}

// Dispatcher owns one project's chain and runs it serially.
//
// Events reach the chain either synchronously through Dispatch, or through
// Enqueue and the Run loop. Run must be called from exactly one goroutine,
// which makes it the only caller of processor hooks for this project, so
// outputs are never written concurrently.
type Dispatcher struct {
	project   *project.Project
	chain     []processor.Processor
	queue     *eventQueue
	clock     *Clock
	recorder  Recorder
	sessionID string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecorder journals every outcome under sessionID.
func WithRecorder(r Recorder, sessionID string) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
		d.sessionID = sessionID
	}
}

// WithClock shares a clock between dispatchers.
func WithClock(c *Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// NewDispatcher creates a dispatcher for p's chain. The chain is copied so
// its order cannot change after construction.
func NewDispatcher(p *project.Project, chain []processor.Processor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		project: p,
		chain:   append([]processor.Processor(nil), chain...),
		queue:   newEventQueue(),
		clock:   NewClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Project is the project this dispatcher serves.
func (d *Dispatcher) Project() *project.Project {
	return d.project
}

// Chain returns the processors in dispatch order.
func (d *Dispatcher) Chain() []processor.Processor {
	return append([]processor.Processor(nil), d.chain...)
}

// Enqueue schedules ev for the Run loop. Safe from any goroutine. Returns
// false once the dispatcher is closed.
func (d *Dispatcher) Enqueue(ev fsevent.Event) bool {
	if ev.Project == nil {
		ev.Project = d.project
	}
	return d.queue.Enqueue(ev)
}

// QueueLen returns the number of events waiting.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// Close stops accepting events. Run returns once the queue drains.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Run dispatches queued events until ctx is done or the dispatcher is
// closed and drained.
//
// ERROR HANDLING: processor failures are logged and journaled, and the loop
// moves on to the next processor and the next event. Nothing a processor
// does stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		ev, ok := d.queue.TryDequeue()
		if ok {
			d.Dispatch(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// The signal channel is closed with the queue; a closed, empty
			// queue ends the loop.
			if d.queue.Drained() {
				return nil
			}
		}
	}
}

// Dispatch runs ev through the chain: every processor whose Accept is true
// gets the hook for ev.Kind, in chain order. A failing processor never
// keeps later processors from running.
//
// Hooks receive a context detached from ctx's cancellation so an interrupt
// never abandons a half-written output.
func (d *Dispatcher) Dispatch(ctx context.Context, ev fsevent.Event) Result {
	hookCtx := context.WithoutCancel(ctx)
	seq := d.clock.Next()
	var res Result

	if ev.Synthetic {
		slog.Info("artifact propagated", "project", d.project.ID, "path", ev.Path, "kind", ev.Kind)
	} else {
		slog.Info("file changed", "project", d.project.ID, "path", ev.Path, "kind", ev.Kind)
	}

	for _, proc := range d.chain {
		if !proc.Accept(ev.Path) {
			continue
		}

		name := proc.Name()
		res.Ran = append(res.Ran, name)

		err := processor.Wrap(proc, ev.Kind.String(), ev.Path, invoke(hookCtx, proc, ev))
		if err != nil {
			res.Failures = append(res.Failures, Failure{Processor: name, Err: err})
			slog.Error("processor failed",
				"project", d.project.ID,
				"processor", name,
				"path", ev.Path,
				"error", err,
			)
		} else {
			slog.Debug("processed", "project", d.project.ID, "processor", name, "path", ev.Path)
		}
		d.record(hookCtx, seq, ev, name, err)
	}

	if !res.Handled() {
		slog.Debug("nothing to do", "project", d.project.ID, "path", ev.Path, "kind", ev.Kind)
		d.record(hookCtx, seq, ev, "", nil)
	}
	return res
}

// invoke calls the hook matching ev.Kind. A panicking processor is turned
// into an error so it cannot take the loop down.
func invoke(ctx context.Context, proc processor.Processor, ev fsevent.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch ev.Kind {
	case fsevent.Created:
		return proc.Created(ctx, ev.Path)
	case fsevent.Updated:
		return proc.Updated(ctx, ev.Path)
	case fsevent.Deleted:
		return proc.Deleted(ctx, ev.Path)
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
}

// ProcessAll runs every processor's full pass once, in chain order. Failures
// are logged per processor and do not stop the pass.
func (d *Dispatcher) ProcessAll(ctx context.Context) Result {
	hookCtx := context.WithoutCancel(ctx)
	seq := d.clock.Next()
	var res Result

	slog.Info("cold pass", "project", d.project.ID, "processors", len(d.chain))
	for _, proc := range d.chain {
		name := proc.Name()
		res.Ran = append(res.Ran, name)

		err := processAll(hookCtx, proc)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Processor: name, Err: err})
			slog.Error("processor failed",
				"project", d.project.ID,
				"processor", name,
				"error", err,
			)
		}
		d.recordEntry(hookCtx, journal.Entry{
			Seq:       seq,
			Project:   d.project.ID,
			Path:      d.project.Root,
			Kind:      journal.KindCold,
			Processor: name,
			Outcome:   outcome(name, err),
			Message:   message(err),
		})
	}
	return res
}

func processAll(ctx context.Context, proc processor.Processor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return proc.ProcessAll(ctx)
}

func (d *Dispatcher) record(ctx context.Context, seq int64, ev fsevent.Event, proc string, err error) {
	d.recordEntry(ctx, journal.Entry{
		Seq:       seq,
		Project:   d.project.ID,
		Path:      ev.Path,
		Kind:      journalKind(ev.Kind),
		Processor: proc,
		Outcome:   outcome(proc, err),
		Message:   message(err),
		Synthetic: ev.Synthetic,
	})
}

func (d *Dispatcher) recordEntry(ctx context.Context, e journal.Entry) {
	if d.recorder == nil {
		return
	}
	e.SessionID = d.sessionID
	if err := d.recorder.Record(ctx, e); err != nil {
		slog.Warn("journal write failed", "project", e.Project, "path", e.Path, "error", err)
	}
}

func journalKind(k fsevent.Kind) journal.Kind {
	switch k {
	case fsevent.Created:
		return journal.KindCreated
	case fsevent.Deleted:
		return journal.KindDeleted
	default:
		return journal.KindUpdated
	}
}

func outcome(proc string, err error) journal.Outcome {
	switch {
	case proc == "":
		return journal.OutcomeNoop
	case err != nil:
		return journal.OutcomeFailed
	default:
		return journal.OutcomeOK
	}
}

func message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
