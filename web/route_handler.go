package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createTaskResponse struct {
	Task    types.Task           `json:"task"`
	Jobs    []types.ScheduledJob `json:"jobs,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

// handleCreateTask registers the task and hands it to the scheduler when it has a purchase URL, or
// to the availability monitor when it does not.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var spec types.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	task, err := s.deps.Registry.Create(r.Context(), spec)
	if err != nil {
		if errors.Is(err, client.ErrInvalidTask) {
			writeErr(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	resp := createTaskResponse{Task: task}
	switch task.Status {
	case state.StatusPending:
		jobs, err := s.deps.Scheduler.Arm(task)
		if err != nil {
			s.logger.Warn("task created but not armed", zap.String("task_id", task.ID), zap.Error(err))
			resp.Warning = err.Error()
		}
		resp.Jobs = jobs
	case state.StatusWatching:
		s.deps.Monitor.Watch(task)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.deps.Registry.List()
	if v := r.URL.Query().Get("status"); v != "" {
		status := state.TaskStatus(v)
		if !status.IsKnown() {
			writeErr(w, http.StatusBadRequest, "validation_error", "invalid status")
			return
		}
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSON(w, http.StatusOK, types.Paginate(tasks, getPageNumber(r), getPageSize(r)))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.deps.Registry.Get(mux.Vars(r)["id"])
	if !ok {
		writeErr(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask stops everything working on the task before removing it: the watch, the
// cancellation of a grab in flight, and the armed jobs.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()
	if _, ok := s.deps.Registry.Get(id); !ok {
		writeErr(w, http.StatusNotFound, "not_found", "task not found")
		return
	}

	s.deps.Monitor.Unwatch(id)
	_, err := s.deps.Registry.Transition(ctx, id, state.StatusCancelled, client.WithMessage("Task cancelled"))
	if err != nil && !errors.Is(err, state.ErrInvalidTransition) && !errors.Is(err, client.ErrTaskNotFound) {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.deps.Scheduler.Cancel(id)

	deleted, err := s.deps.Registry.Delete(ctx, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if !deleted {
		writeErr(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.deps.Scheduler.RunNow(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "task_id": id})
	case errors.Is(err, client.ErrTaskNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, client.ErrNotSchedulable):
		writeErr(w, http.StatusConflict, "not_schedulable", err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.deps.Scheduler.Jobs()})
}

type monitorStatusResponse struct {
	Running        bool         `json:"running"`
	Watches        []types.Task `json:"watches"`
	NextIntervalMS int64        `json:"next_interval_ms"`
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	m := s.deps.Monitor
	writeJSON(w, http.StatusOK, monitorStatusResponse{
		Running:        m.Running(),
		Watches:        m.Watches(),
		NextIntervalMS: m.NextInterval(time.Now()).Milliseconds(),
	})
}

func (s *Server) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"tickets": s.deps.Feed.FetchStatus(ctx)})
}

func (s *Server) handleTimeSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clock == nil {
		writeErr(w, http.StatusNotFound, "not_found", "time sync not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Clock.Status())
}
