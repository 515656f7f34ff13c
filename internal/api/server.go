package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/wrc-harvester/internal/config"
	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/metrics"
	"github.com/JakeFAU/wrc-harvester/internal/stage"
)

const enqueueTimeout = 5 * time.Second

// Starter records new stage runs.
type Starter interface {
	Start(ctx context.Context, req stage.Request) (crawler.Run, error)
}

// Enqueuer hands started runs to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, run crawler.Run) error
}

// Options configure the Server.
type Options struct {
	// Categories is the configured category table used to validate requests.
	Categories crawler.CategorySelectors
	APIKey     string
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the stage runner and run store.
type Server struct {
	router     chi.Router
	starter    Starter
	queue      Enqueuer
	runs       crawler.RunStore
	categories crawler.CategorySelectors
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(starter Starter, queue Enqueuer, runs crawler.RunStore, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		starter:    starter,
		queue:      queue,
		runs:       runs,
		categories: opts.Categories,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/harvest", s.submitHarvest)
		r.Post("/normalize", s.submitNormalize)
		r.Get("/runs/{run_id}", s.getRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type harvestRequest struct {
	Query      string   `json:"query"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Categories []string `json:"categories"`
}

type normalizeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var body harvestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	from, to, err := parseWindow(body.From, body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var categories []crawler.Category
	if len(body.Categories) > 0 {
		categories, err = config.ParseCategories(body.Categories, s.categories)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.submit(w, r, stage.Request{
		Stage:      crawler.StageHarvest,
		Query:      body.Query,
		Categories: categories,
		From:       from,
		To:         to,
	})
}

func (s *Server) submitNormalize(w http.ResponseWriter, r *http.Request) {
	var body normalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	from, to, err := parseWindow(body.From, body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, stage.Request{Stage: crawler.StageNormalize, From: from, To: to})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req stage.Request) {
	run, err := s.starter.Start(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(ctx, run); err != nil {
		s.logger.Error("enqueue run failed", zap.String("run_id", run.ID), zap.Error(err))
		run.Status = crawler.RunFailed
		run.Error = err.Error()
		if updateErr := s.runs.UpdateRun(context.WithoutCancel(r.Context()), run); updateErr != nil {
			s.logger.Warn("failed to mark run failed", zap.String("run_id", run.ID), zap.Error(updateErr))
		}
		writeError(w, http.StatusServiceUnavailable, "run queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": string(run.Status)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if errors.Is(err, crawler.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// parseWindow validates a DD/MM/YYYY date pair.
func parseWindow(rawFrom, rawTo string) (time.Time, time.Time, error) {
	from, err := crawler.ParseFormDate(rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be DD/MM/YYYY, got %q", rawFrom)
	}
	to, err := crawler.ParseFormDate(rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be DD/MM/YYYY, got %q", rawTo)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
