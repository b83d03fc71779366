package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/pool"
	"github.com/JakeFAU/crawl-pipeline/internal/stats"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type enqueueRequest struct {
	FuncName        string `json:"func_name"`
	URL             string `json:"url"`
	SecondRateLimit int    `json:"second_rate_limit"`
}

// enqueueTask handles POST /v1/instances/{instance_id}/tasks. It returns 202 with the
// new task id, 400 for an invalid body, or 500 if the store rejects the push.
func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.FuncName) == "" || strings.TrimSpace(req.URL) == "" {
		s.writeError(w, http.StatusBadRequest, "func_name and url are required")
		return
	}
	if req.SecondRateLimit < 0 {
		s.writeError(w, http.StatusBadRequest, "second_rate_limit must be >= 0")
		return
	}
	if s.dispatcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "enqueue unavailable")
		return
	}

	t := task.New(instanceID, req.FuncName, req.URL, req.SecondRateLimit)
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := s.dispatcher.Enqueue(ctx, t); err != nil {
		s.logger.Error("enqueue task failed", zap.String("instance_id", instanceID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": t.ID, "instance_id": instanceID})
}

type instanceStatsDTO struct {
	InstanceID   string                    `json:"instance_id"`
	Counters     map[stats.Counter]int64   `json:"counters"`
	Pending      int64                     `json:"pending"`
	Running      int64                     `json:"running"`
	CrawlErrors  int64                     `json:"crawl_errors"`
	ProcessErrs  int64                     `json:"process_errors"`
	WarningList  int64                     `json:"warning_list"`
	WarningHash  int64                     `json:"warning_hash"`
	TimeCosts    map[string]stats.TimeCost `json:"time_costs,omitempty"`
	LastActiveMs int64                     `json:"last_active_ms,omitempty"`
}

// instanceStats handles GET /v1/instances/{instance_id}/stats. Pass costs=true to
// include per-task time costs.
func (s *Server) instanceStats(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	dto, err := s.collectInstanceStats(ctx, instanceID, r.URL.Query().Get("costs") == "true")
	if err != nil {
		s.logger.Error("instance stats failed", zap.String("instance_id", instanceID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load instance stats")
		return
	}
	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) collectInstanceStats(ctx context.Context, instanceID string, costs bool) (instanceStatsDTO, error) {
	dto := instanceStatsDTO{InstanceID: instanceID}
	var err error
	if dto.Counters, err = s.env.Instances.Counters(ctx, instanceID); err != nil {
		return dto, err
	}
	if dto.Pending, err = s.env.Pending.Len(ctx, instanceID); err != nil {
		return dto, err
	}
	if dto.Running, err = s.env.Running.Len(ctx, instanceID); err != nil {
		return dto, err
	}
	if dto.CrawlErrors, err = s.env.CrawlErrors.Len(ctx, instanceID); err != nil {
		return dto, err
	}
	if dto.ProcessErrs, err = s.env.ProcessErrors.Len(ctx, instanceID); err != nil {
		return dto, err
	}
	if dto.WarningList, dto.WarningHash, err = s.env.Warnings.Sizes(ctx, instanceID); err != nil {
		return dto, err
	}
	active, err := s.env.Instances.LastActive(ctx)
	if err != nil {
		return dto, err
	}
	dto.LastActiveMs = active[instanceID]
	if costs {
		if dto.TimeCosts, err = s.env.Instances.TimeCosts(ctx, instanceID); err != nil {
			return dto, err
		}
	}
	return dto, nil
}

// clusterStats handles GET /v1/stats.
func (s *Server) clusterStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	counters, err := s.env.Cluster.Counters(ctx)
	if err != nil {
		s.clusterStatsFailed(w, err)
		return
	}
	threads, err := s.env.Cluster.Threads(ctx)
	if err != nil {
		s.clusterStatsFailed(w, err)
		return
	}
	servers, err := s.env.Cluster.Servers(ctx)
	if err != nil {
		s.clusterStatsFailed(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"counters": counters,
		"threads":  threads,
		"servers":  servers,
	})
}

func (s *Server) clusterStatsFailed(w http.ResponseWriter, err error) {
	s.logger.Error("cluster stats failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "failed to load cluster stats")
}

// listRunning handles GET /v1/instances/{instance_id}/running.
func (s *Server) listRunning(w http.ResponseWriter, r *http.Request) {
	s.listTasks(w, r, func(ctx context.Context, instanceID string, _ int64) ([]*task.Task, error) {
		return s.env.Running.Tasks(ctx, instanceID)
	})
}

// listWarnings handles GET /v1/instances/{instance_id}/warnings.
func (s *Server) listWarnings(w http.ResponseWriter, r *http.Request) {
	s.listTasks(w, r, func(ctx context.Context, instanceID string, _ int64) ([]*task.Task, error) {
		return s.env.Warnings.GetTasks(ctx, instanceID)
	})
}

// listErrors handles GET /v1/instances/{instance_id}/errors/{kind}?limit= where kind is
// crawl or process. Tasks are returned newest first.
func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	var log *pool.ErrorLog
	switch chi.URLParam(r, "kind") {
	case "crawl":
		log = s.env.CrawlErrors
	case "process":
		log = s.env.ProcessErrors
	default:
		s.writeError(w, http.StatusNotFound, "unknown error pool")
		return
	}
	s.listTasks(w, r, log.Tasks)
}

func (s *Server) listTasks(
	w http.ResponseWriter,
	r *http.Request,
	load func(ctx context.Context, instanceID string, limit int64) ([]*task.Task, error),
) {
	instanceID := chi.URLParam(r, "instance_id")
	limit, err := parseLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	tasks, err := load(ctx, instanceID, int64(limit))
	if err != nil {
		s.logger.Error("list tasks failed", zap.String("instance_id", instanceID), zap.String("path", r.URL.Path), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// listFaults handles GET /v1/faults?limit=.
func (s *Server) listFaults(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.env.Unknown == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"faults": []pool.Fault{}})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	faults, err := s.env.Unknown.Recent(ctx, int64(limit))
	if err != nil {
		s.logger.Error("list faults failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list faults")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"faults": faults})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
