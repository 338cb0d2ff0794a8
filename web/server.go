package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/message_broaker"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/internal/timesync"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	PageSize    = 15
	MaxPageSize = 200
)

// ClockStatus reports the state of the corrected clock.
type ClockStatus interface {
	Status() timesync.Status
}

// Dependencies are the engine components the API drives.
type Dependencies struct {
	Registry  *client.TaskRegistry
	Scheduler *client.GrabScheduler
	Monitor   *client.AvailabilityMonitor
	Feed      client.AvailabilityFeed
	Clock     ClockStatus
	Hub       *message_broaker.Hub
}

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	deps       Dependencies
	logger     *zap.Logger
}

func NewServer(port uint, deps Dependencies, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	r := mux.NewRouter()

	routeName := func(r *http.Request) string {
		if rt := mux.CurrentRoute(r); rt != nil {
			if tpl, err := rt.GetPathTemplate(); err == nil && tpl != "" {
				return tpl
			}
		}
		return r.URL.Path
	}

	// Middlewares (order matters)
	r.Use(observability.RequestIDMiddleware)
	r.Use(observability.HTTPMetricsMiddleware(routeName))
	r.Use(observability.AccessLogMiddleware(logger, routeName))

	srv := &Server{router: r, deps: deps, logger: logger}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/health", srv.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/tasks", srv.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks", srv.handleCreateTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id}", srv.handleGetTask).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}", srv.handleDeleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/api/tasks/{id}/run", srv.handleRunTask).Methods(http.MethodPost)

	r.HandleFunc("/api/jobs", srv.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/monitor/status", srv.handleMonitorStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/ticket-status", srv.handleTicketStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/time-sync", srv.handleTimeSync).Methods(http.MethodGet)
	r.HandleFunc("/events", srv.handleEvents).Methods(http.MethodGet)

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if deps.Hub != nil {
		// Shutdown waits for connections to go idle; event streams only end when the hub closes.
		srv.httpServer.RegisterOnShutdown(func() { _ = deps.Hub.Close() })
	}
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. A clean Shutdown yields nil.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
