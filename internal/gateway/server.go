package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/marvin-j97/xs/internal/pool"
	"github.com/marvin-j97/xs/internal/store"
	logpkg "github.com/marvin-j97/xs/pkg/log"
)

// SocketName is the listener's file name inside the store directory.
const SocketName = "sock"

// Server exposes the store over HTTP on a unix socket. GET answers a fixed
// placeholder, POST streams the request body into the content store and
// appends a frame referencing it, every other method is a 404.
type Server struct {
	st      *store.Store
	workers *pool.Pool
	srv     *http.Server
	lis     net.Listener
	logger  logpkg.Logger
}

func New(st *store.Store, workers *pool.Pool, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	mux := http.NewServeMux()
	s := &Server{
		st:      st,
		workers: workers,
		logger:  logger.With(logpkg.Component("gateway")),
	}
	mux.HandleFunc("/", s.handle)
	s.srv = &http.Server{Handler: s.dispatch(mux)}
	return s
}

// SocketPath returns the listener path for a store directory.
func SocketPath(storeDir string) string { return filepath.Join(storeDir, SocketName) }

// ListenAndServe binds the unix socket and serves until ctx is cancelled.
// A stale socket file left by a previous process is removed first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	path := SocketPath(s.st.Path())
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("gateway listening", logpkg.Str("socket", path))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// dispatch runs each request body on the worker pool, so in-flight request
// concurrency is bounded by the pool size.
func (s *Server) dispatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.workers == nil {
			next.ServeHTTP(w, r)
			return
		}
		done := make(chan struct{})
		err := s.workers.Execute(func() {
			defer close(done)
			next.ServeHTTP(w, r)
		})
		if err != nil {
			// Pool shut down mid-drain; the request arrived too late.
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		<-done
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodPost:
		s.handlePost(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("hai"))
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	cw, err := s.st.CASWriter()
	if err != nil {
		s.logger.Error("open content writer", logpkg.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer func() { _ = cw.Close() }()

	if _, err := io.Copy(cw, r.Body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	digest, err := cw.Commit()
	if err != nil {
		s.logger.Error("commit content", logpkg.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	frame, err := s.st.Append(r.Context(), store.Draft{Topic: "stream", Hash: digest})
	if err != nil {
		s.logger.Error("append frame", logpkg.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(frame)
}
