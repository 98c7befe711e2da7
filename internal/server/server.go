// Package server exposes a project's build output directories over HTTP.
//
// Directories are layered: a request is answered from the first directory
// that has the path, so output wins over libs, and libs over test output.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server serves a fixed list of directories on one address.
type Server struct {
	addr string
	dirs []string

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
	err  error
}

// New returns a server for dirs on addr (host:port, port 0 picks one).
func New(addr string, dirs []string) *Server {
	return &Server{addr: addr, dirs: append([]string(nil), dirs...)}
}

// Handler returns the layered file handler without starting a listener.
func (s *Server) Handler() http.Handler {
	layers := make(layered, len(s.dirs))
	for i, d := range s.dirs {
		layers[i] = http.Dir(d)
	}
	files := http.FileServer(layers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		slog.Debug("serve", "method", r.Method, "path", r.URL.Path)
		files.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves in the background. Bind errors are
// returned here, not from Wait.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("server already started on %s", s.ln.Addr())
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(done)
	}(s.srv, s.done)

	slog.Info("serving artifacts", "addr", ln.Addr().String(), "dirs", s.dirs)
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Done is closed when the accept loop exits. Nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the accept loop exits and returns its error.
func (s *Server) Wait() error {
	done := s.Done()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop shuts the server down, letting in-flight requests finish until ctx
// expires. Stopping a server that never started is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return s.Wait()
}

// layered opens a name from the first directory that has it.
type layered []http.Dir

func (l layered) Open(name string) (http.File, error) {
	var first error
	for _, d := range l {
		f, err := d.Open(name)
		if err == nil {
			return f, nil
		}
		if first == nil || !errors.Is(err, fs.ErrNotExist) {
			first = err
		}
	}
	if first == nil {
		first = fs.ErrNotExist
	}
	return nil, first
}
