// Package bridge exposes a running VM over HTTP. Host programs hold opaque
// handles to objects, read and write their slots, send them messages and
// evaluate source. Transcript output streams over a websocket.
package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tliron/commonlog"

	"github.com/bluebook-vm/bluebook/vm"
)

var log = commonlog.GetLogger("bluebook.bridge")

var errStopped = errors.New("bridge: stopped")

// Server is the HTTP bridge wrapping a VM. After New the VM belongs to the
// server's worker; nothing else may touch it until Stop.
type Server struct {
	worker     *Worker
	handles    *HandleStore
	transcript *Transcript
	router     chi.Router
	secret     []byte
	done       chan struct{}
	doneOnce   sync.Once

	stopSweeper func()
}

// Option configures a Server.
type Option func(*options)

type options struct {
	secret        []byte
	sweepInterval time.Duration
	handleTTL     time.Duration
}

// WithTokenSecret requires an HS256 bearer token signed with secret on
// every route.
func WithTokenSecret(secret string) Option {
	return func(o *options) {
		if secret != "" {
			o.secret = []byte(secret)
		}
	}
}

// WithHandleTTL releases handles idle for longer than ttl, checking every
// interval.
func WithHandleTTL(interval, ttl time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = interval
		o.handleTTL = ttl
	}
}

// New creates a Server for v and starts its worker.
func New(v *vm.VM, opts ...Option) *Server {
	o := &options{
		sweepInterval: 5 * time.Minute,
		handleTTL:     30 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}

	transcript := newTranscript()
	v.SetOutput(io.MultiWriter(v.Output(), transcript))

	s := &Server{
		worker:     NewWorker(v),
		handles:    NewHandleStore(),
		transcript: transcript,
		secret:     o.secret,
		done:       make(chan struct{}),
	}
	s.router = s.routes()
	if o.handleTTL > 0 {
		s.stopSweeper = s.handles.StartSweeper(s.worker, o.sweepInterval, o.handleTTL)
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/v1/health", s.health)
	r.Group(func(r chi.Router) {
		if s.secret != nil {
			r.Use(requireToken(s.secret))
		}
		r.Post("/v1/eval", s.eval)
		r.Post("/v1/send", s.send)
		r.Route("/v1/objects/{id}", func(r chi.Router) {
			r.Get("/", s.getObject)
			r.Delete("/", s.releaseObject)
			r.Get("/slots/{index}", s.getSlot)
			r.Put("/slots/{index}", s.putSlot)
		})
		r.Get("/v1/transcript", s.serveTranscript)
	})
	return r
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debugf("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handles returns the handle store.
func (s *Server) Handles() *HandleStore { return s.handles }

// Do runs fn on the VM goroutine.
func (s *Server) Do(fn func(*vm.VM) (any, error)) (any, error) {
	return s.worker.Do(fn)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("bridge listening on %s (auth %t)", addr, s.secret != nil)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.closeDone()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Infof("bridge stopped")
	return nil
}

// Stop shuts down the sweeper and the worker.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.closeDone()
	s.worker.Stop()
}

// closeDone ends open transcript streams.
func (s *Server) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
