package eventsink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nyaruka/eventsink/runtime"
	"github.com/nyaruka/gocommon/jsonx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBytes = 32 * 1024 * 1024

// Server hosts the pipeline over HTTP for running outside of Lambda
type Server struct {
	rt       *runtime.Runtime
	pipeline *Pipeline

	httpServer *http.Server
	router     *chi.Mux
	wg         sync.WaitGroup
}

// NewServer creates a new server for the passed in runtime. It must be started afterwards.
func NewServer(rt *runtime.Runtime, pipeline *Pipeline) *Server {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	s := &Server{rt: rt, pipeline: pipeline, router: router}

	router.NotFound(s.handle404)
	router.MethodNotAllowed(s.handle405)
	router.Get("/", s.handleIndex)
	router.Post("/v1/events", s.handleEvents)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))

	return s
}

// Router returns the router of this server
func (s *Server) Router() http.Handler { return s.router }

// Start starts listening for requests
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.rt.Config.Address, s.rt.Config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("error listening", "comp", "server", "state", "stopping", "error", err)
		}
	}()

	slog.Info("server listening", "comp", "server", "state", "started", "address", s.rt.Config.Address, "port", s.rt.Config.Port, "version", s.rt.Config.Version)
}

// Stop stops the server, returning only after it has shut down
func (s *Server) Stop() {
	log := slog.With("comp", "server")
	log.Info("stopping server", "state", "stopping")

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		log.Error("error shutting down server", "state", "stopping", "error", err)
	}

	s.wg.Wait()

	log.Info("server stopped", "state", "stopped")
}

type indexResponse struct {
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"ledger": "ok", "sink": "ok"}
	if err := s.rt.Ledger.Check(r.Context()); err != nil {
		checks["ledger"] = err.Error()
	}
	if err := s.rt.Sink.Check(r.Context()); err != nil {
		checks["sink"] = err.Error()
	}

	writeJSON(w, http.StatusOK, &indexResponse{Version: s.rt.Config.Version, Checks: checks})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	inv := &Invocation{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err == nil {
		err = jsonx.Unmarshal(body, inv)
	}
	if err != nil {
		writeResponse(w, newErrorResponse(fmt.Sprintf("unable to read request body: %s", err), s.pipeline.now()))
		return
	}

	writeResponse(w, s.pipeline.Process(r.Context(), inv))
}

func (s *Server) handle404(w http.ResponseWriter, r *http.Request) {
	slog.Info("not found", "url", r.URL.String(), "method", r.Method, "resp_status", "404")
	writeJSON(w, http.StatusNotFound, &Result{Message: fmt.Sprintf("not found: %s", r.URL.String())})
}

func (s *Server) handle405(w http.ResponseWriter, r *http.Request) {
	slog.Info("invalid method", "url", r.URL.String(), "method", r.Method, "resp_status", "405")
	writeJSON(w, http.StatusMethodNotAllowed, &Result{Message: fmt.Sprintf("method not allowed: %s", r.Method)})
}

// writes a Lambda style response as a regular HTTP response
func writeResponse(w http.ResponseWriter, resp Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body))
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonx.MustMarshal(value))
}
