package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/mill/internal/chain"
	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/journal"
	"github.com/roach88/mill/internal/monitor"
	"github.com/roach88/mill/internal/processor"
	"github.com/roach88/mill/internal/project"
	"github.com/roach88/mill/internal/reactor"
	"github.com/roach88/mill/internal/server"
)

// shutdownTimeout bounds how long Stop waits for in-flight HTTP requests.
const shutdownTimeout = 5 * time.Second

// Session is one watch run over a reactor: the target and its contributors,
// each with its own monitor and dispatcher, plus the artifact server.
//
// Setup (Start) is single-threaded. After Start returns, the set of
// projects, chains and dispatchers is fixed and only read.
type Session struct {
	registry *reactor.Registry
	debounce time.Duration
	serve    bool
	port     int
	host     string
	journal  *journal.Store
	ids      SessionIDGenerator

	id      string
	clock   *Clock
	members []*member
	server  *server.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

type member struct {
	reactor.Member
	dispatcher *Dispatcher
	monitor    *monitor.Monitor
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce sets the monitors' coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounce = d }
}

// WithServer turns the artifact server on or off. When on, it still only
// starts if the target enables run_server.
func WithServer(on bool) Option {
	return func(s *Session) { s.serve = on }
}

// WithPort overrides the target's serve port. Zero picks a free port.
func WithPort(port int) Option {
	return func(s *Session) { s.port = port }
}

// WithHost sets the interface the server binds to.
func WithHost(host string) Option {
	return func(s *Session) { s.host = host }
}

// WithJournal records the session in j.
func WithJournal(j *journal.Store) Option {
	return func(s *Session) { s.journal = j }
}

// WithSessionIDs replaces the UUIDv7 session id generator.
func WithSessionIDs(g SessionIDGenerator) Option {
	return func(s *Session) { s.ids = g }
}

// New creates a session over the registry's projects. Nothing runs until
// Start.
func New(reg *reactor.Registry, opts ...Option) *Session {
	s := &Session{
		registry: reg,
		debounce: monitor.DefaultDebounce,
		serve:    true,
		port:     -1,
		ids:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID is the session id, empty before Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Dispatcher returns the dispatcher of a started project.
func (s *Session) Dispatcher(projectID string) (*Dispatcher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.Project.ID == projectID && m.dispatcher != nil {
			return m.dispatcher, true
		}
	}
	return nil, false
}

// ServerAddr is the artifact server's bound address, empty if not serving.
func (s *Session) ServerAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return ""
	}
	return s.server.Addr()
}

// Start builds every chain, starts the monitors, runs the cold pass
// (contributors first, in registration order, then the target) and starts
// dispatching. It returns once the cold pass is done.
//
// A project whose chain or watch cannot be set up is logged and left out;
// Start fails only when no project could be watched or the server cannot
// bind.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("session already started")
	}
	s.started = true

	s.id = s.ids.Generate()
	target := s.registry.Target()
	if target == nil {
		return &SetupError{Stage: StageChain, Err: errors.New("no target project")}
	}

	if err := s.beginJournal(ctx, target); err != nil {
		return err
	}

	var setupErrs []error
	s.buildMembers(&setupErrs)

	watching := 0
	for _, m := range s.members {
		if m.dispatcher == nil {
			continue
		}
		if err := s.watch(m); err != nil {
			setupErrs = append(setupErrs, err)
			continue
		}
		watching++
	}
	if watching == 0 {
		s.teardown()
		return errors.Join(append([]error{fmt.Errorf("no project could be watched")}, setupErrs...)...)
	}

	for _, m := range s.members {
		if m.dispatcher != nil {
			m.dispatcher.ProcessAll(ctx)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	for _, m := range s.members {
		if m.dispatcher == nil {
			continue
		}
		s.wg.Add(1)
		go func(d *Dispatcher) {
			defer s.wg.Done()
			d.Run(runCtx)
		}(m.dispatcher)
	}

	if err := s.startServer(target); err != nil {
		s.teardown()
		return err
	}

	slog.Info("watching", "session", s.id, "target", target.ID, "projects", watching)
	return nil
}

func (s *Session) beginJournal(ctx context.Context, target *project.Project) error {
	if s.journal == nil {
		s.clock = NewClock()
		return nil
	}

	last, err := s.journal.LastSeq(ctx)
	if err != nil {
		return &SetupError{Stage: StageJournal, Err: err}
	}
	s.clock = NewClockAt(last)

	var ids []string
	for _, m := range s.registry.Members() {
		ids = append(ids, m.Project.ID)
	}
	err = s.journal.BeginSession(ctx, journal.Session{
		ID:        s.id,
		Target:    target.ID,
		Projects:  ids,
		StartedAt: time.Now(),
	})
	if err != nil {
		return &SetupError{Stage: StageJournal, Err: err}
	}
	return nil
}

// buildMembers configures the target's chain first so contributors'
// propagation stages have a dispatcher to re-trigger.
func (s *Session) buildMembers(setupErrs *[]error) {
	var targetDispatcher *Dispatcher
	retrigger := func(ev fsevent.Event) {
		if targetDispatcher == nil {
			return
		}
		if !targetDispatcher.Enqueue(ev) {
			slog.Debug("target closed, dropping propagated event", "path", ev.Path)
		}
	}

	members := s.registry.Members()
	s.members = make([]*member, len(members))
	for i, rm := range members {
		s.members[i] = &member{Member: rm}
	}

	build := func(m *member) {
		var opts chain.Options
		if m.Role == reactor.RoleContributor {
			opts.Propagate = &processor.PropagateOptions{
				Target:    s.registry.Target(),
				Retrigger: retrigger,
			}
		}
		procs, err := chain.Build(m.Project, opts)
		if err != nil {
			*setupErrs = append(*setupErrs, s.setupFailed(m.Project, StageChain, err))
			return
		}
		dopts := []DispatcherOption{WithClock(s.clock)}
		if s.journal != nil {
			dopts = append(dopts, WithRecorder(s.journal, s.id))
		}
		m.dispatcher = NewDispatcher(m.Project, procs, dopts...)
	}

	// The target is last in Members.
	target := s.members[len(s.members)-1]
	build(target)
	targetDispatcher = target.dispatcher
	for _, m := range s.members[:len(s.members)-1] {
		build(m)
	}
}

func (s *Session) watch(m *member) error {
	mon := monitor.New(m.Project, func(ev fsevent.Event) {
		m.dispatcher.Enqueue(ev)
	}, monitor.WithDebounce(s.debounce))
	if err := mon.Start(); err != nil {
		m.dispatcher.Close()
		m.dispatcher = nil
		return s.setupFailed(m.Project, StageWatch, err)
	}
	m.monitor = mon
	return nil
}

func (s *Session) startServer(target *project.Project) error {
	if !s.serve || !target.Features.RunServer {
		return nil
	}
	port := target.ServePort
	if s.port >= 0 {
		port = s.port
	}
	srv := server.New(net.JoinHostPort(s.host, strconv.Itoa(port)), target.ServeDirs())
	if err := srv.Start(); err != nil {
		return s.setupFailed(target, StageServe, err)
	}
	s.server = srv
	return nil
}

func (s *Session) setupFailed(p *project.Project, stage SetupStage, err error) error {
	se := &SetupError{Project: p.ID, Root: p.Root, Stage: stage, Err: err}
	slog.Error("project setup failed",
		"project", p.ID,
		"root", p.Root,
		"stage", stage,
		"error", err,
	)
	return se
}

// Run starts the session and blocks until ctx is done or the artifact
// server exits, then stops. A cancelled ctx is a clean exit.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()
	return s.Wait(ctx)
}

// Wait blocks until ctx is done or the artifact server exits. It does not
// stop the session.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var serverDone <-chan struct{}
	if srv != nil {
		serverDone = srv.Done()
	}

	select {
	case <-ctx.Done():
		slog.Info("stopping", "session", s.ID(), "reason", context.Cause(ctx))
		return nil
	case <-serverDone:
		if err := srv.Wait(); err != nil {
			return fmt.Errorf("artifact server: %w", err)
		}
		return nil
	}
}

// Stop stops the monitors, lets every dispatcher finish the event in hand,
// and shuts the server down. Safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true
	return s.teardown()
}

// teardown releases whatever Start acquired. Caller holds s.mu.
func (s *Session) teardown() error {
	var errs []error
	for _, m := range s.members {
		if m.monitor != nil {
			if err := m.monitor.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	// Cancelling between events rather than draining keeps shutdown prompt;
	// an event already in a hook runs to completion.
	if s.cancel != nil {
		s.cancel()
	}
	for _, m := range s.members {
		if m.dispatcher != nil {
			m.dispatcher.Close()
		}
	}
	s.wg.Wait()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.stopped = true
	return errors.Join(errs...)
}
