package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/acctune/internal/config"
	apierrors "github.com/copyleftdev/acctune/internal/errors"
	"github.com/copyleftdev/acctune/internal/metrics"
	"github.com/copyleftdev/acctune/internal/optimization"
	"github.com/copyleftdev/acctune/internal/optimization/stats"
	"github.com/copyleftdev/acctune/internal/replay"
	"github.com/copyleftdev/acctune/internal/tuner"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunState tracks one tuning run. Fields are guarded by the server mutex.
type RunState struct {
	ID          string
	Method      string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Evaluations int
	Best        *optimization.Outcome
	Report      *tuner.Report
	Err         error
	CancelFunc  context.CancelFunc
}

func (st *RunState) terminal() bool {
	switch st.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Server implements the HTTP and JSON-RPC server for the tuning service.
// It manages tuning runs and provides endpoints to start, monitor, and
// cancel them.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	runs   map[string]*RunState
	runsMu sync.RWMutex
	wg     sync.WaitGroup
	slots  chan struct{}
}

// NewServer creates a new server instance. cfg and m may be nil; a nil cfg
// runs one search at a time with the tuner defaults.
func NewServer(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := 1
	if cfg != nil && cfg.Tuning.Workers > 1 {
		workers = cfg.Tuning.Workers
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		metrics: m,
		runs:    make(map[string]*RunState),
		slots:   make(chan struct{}, workers),
	}
}

// RegisterRoutes mounts the REST and JSON-RPC endpoints on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tune", s.handleTune)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/tune/{id}", s.handleCancel)
		r.Post("/significance", s.handleSignificance)
		r.Get("/methods", s.handleMethods)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

func (s *Server) defaults() tuner.Options {
	opts := tuner.DefaultOptions()
	if s.cfg != nil {
		opts.Method = s.cfg.Tuning.Method
		opts.Bounds = s.cfg.Bounds()
		opts.MaxIterations = s.cfg.Tuning.MaxIterations
		opts.Repetitions = s.cfg.Tuning.Repetitions
		opts.Workers = s.cfg.Tuning.Workers
	}
	return opts
}

// start validates req and launches the run in the background.
func (s *Server) start(req TuneRequest) (*StartResponse, error) {
	if len(req.Measurements) == 0 {
		return nil, fmt.Errorf("measurements are required: %w", apierrors.ErrBadRequest)
	}
	outcomes := make([]optimization.Outcome, len(req.Measurements))
	for i, m := range req.Measurements {
		outcomes[i] = m.Outcome()
	}
	table, err := replay.New(outcomes)
	if err != nil {
		return nil, err
	}

	opts := req.Options(s.defaults())
	id := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", id))

	state := &RunState{
		ID:          id,
		Method:      opts.Method,
		Status:      StatusPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	state.CancelFunc = cancel

	observers := []optimization.Observer{s.progress(state)}
	var tunerOpts []tuner.Option
	if s.metrics != nil {
		observers = append(observers, s.metrics.Observer(opts.Method))
		tunerOpts = append(tunerOpts, tuner.WithRecorder(runRecorder{ctx: ctx, metrics: s.metrics}))
	}
	t, err := tuner.New(opts, logger, observers, tunerOpts...)
	if err != nil {
		cancel()
		return nil, err
	}

	s.runsMu.Lock()
	s.runs[id] = state
	s.runsMu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, state, t, table)

	logger.Info("Tuning run accepted", zap.String("method", opts.Method), zap.Int("measurements", table.Len()))
	return &StartResponse{ID: id, Status: StatusPending}, nil
}

// progress updates the run state after every measurement.
func (s *Server) progress(state *RunState) optimization.Observer {
	return optimization.ObserverFunc(func(ev optimization.Evaluation) {
		s.runsMu.Lock()
		defer s.runsMu.Unlock()
		state.Evaluations = ev.Index + 1
		state.LastUpdated = time.Now()
		if state.Best == nil || ev.Outcome.Less(*state.Best) {
			out := ev.Outcome
			state.Best = &out
		}
	})
}

// runRecorder counts a search that finished after its run was cancelled
// as cancelled.
type runRecorder struct {
	ctx     context.Context
	metrics *metrics.Metrics
}

func (r runRecorder) SearchFinished(result *optimization.Result, elapsed time.Duration) {
	if r.ctx.Err() != nil {
		r.metrics.SearchCancelled(result.Method)
		return
	}
	r.metrics.SearchFinished(result, elapsed)
}

// cancellable stops measuring once ctx is done.
func cancellable(ctx context.Context, objective optimization.Objective) optimization.Objective {
	return func(p optimization.Point) optimization.Outcome {
		if ctx.Err() != nil {
			return optimization.Failed(p, optimization.FailureCancelled)
		}
		return objective(p)
	}
}

func (s *Server) execute(ctx context.Context, state *RunState, t *tuner.Tuner, table *replay.Table) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.cancelledBeforeStart(state)
		return
	}

	s.runsMu.Lock()
	if state.terminal() {
		s.runsMu.Unlock()
		s.cancelledBeforeStart(state)
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.runsMu.Unlock()

	report, err := t.Run(cancellable(ctx, table.Objective()), table)

	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	now := time.Now()
	state.LastUpdated = now
	state.Report = report
	if state.Status == StatusCancelled {
		return
	}
	state.EndTime = &now
	if ctx.Err() != nil {
		state.Status = StatusCancelled
		return
	}
	if err != nil {
		s.logger.Error("Tuning run failed", zap.String("run_id", state.ID), zap.Error(err))
		state.Status = StatusFailed
		state.Err = err
		return
	}
	state.Status = StatusCompleted
}

func (s *Server) cancelledBeforeStart(state *RunState) {
	if s.metrics != nil {
		s.metrics.SearchCancelled(state.Method)
	}
}

func (s *Server) status(id string) (*StatusResponse, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	state, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, apierrors.ErrNotFound)
	}

	resp := &StatusResponse{
		ID:          state.ID,
		Method:      state.Method,
		Status:      state.Status,
		StartTime:   state.StartTime,
		LastUpdated: state.LastUpdated,
		EndTime:     state.EndTime,
		Evaluations: state.Evaluations,
	}
	if state.Best != nil {
		best := pointResult(*state.Best)
		resp.Best = &best
	}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	if rep := state.Report; rep != nil {
		best := pointResult(rep.Best)
		resp.Best = &best
		resp.Iterations = rep.Result.Iterations
		resp.Converged = rep.Result.Converged
		for _, ev := range rep.Result.History {
			resp.Ledger = append(resp.Ledger, pointResult(ev.Outcome))
		}
		if rep.HasReference {
			percentile := rep.Percentile
			resp.Percentile = &percentile
			if rep.SignificanceErr == nil {
				significant := rep.Significant
				resp.Significant = &significant
			}
		}
	}
	return resp, nil
}

func (s *Server) cancel(id string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	state, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, apierrors.ErrNotFound)
	}
	if state.terminal() {
		return fmt.Errorf("cannot cancel run with status %s: %w", state.Status, apierrors.ErrConflict)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	now := time.Now()
	state.Status = StatusCancelled
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Tuning run cancelled", zap.String("run_id", id))
	return nil
}

// Close cancels every run and waits for the workers to stop.
func (s *Server) Close() error {
	s.runsMu.Lock()
	for _, st := range s.runs {
		if st.CancelFunc != nil {
			st.CancelFunc()
		}
	}
	s.runsMu.Unlock()

	s.wg.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, apierrors.ErrBadRequest)
	}
	return nil
}

// handleTune handles POST /api/v1/tune.
func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	var req TuneRequest
	if err := decode(r, &req); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	resp, err := s.start(req)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.status(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/tune/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancel(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusCancelled})
}

func significance(req SignificanceRequest) (*SignificanceResponse, error) {
	iv, err := stats.DiffInterval(req.A, req.B)
	if err != nil {
		return nil, err
	}
	return &SignificanceResponse{Significant: iv.ExcludesZero(), Low: iv.Low, High: iv.High}, nil
}

// handleSignificance handles POST /api/v1/significance.
func (s *Server) handleSignificance(w http.ResponseWriter, r *http.Request) {
	var req SignificanceRequest
	if err := decode(r, &req); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	resp, err := significance(req)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMethods handles GET /api/v1/methods.
func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"methods": tuner.Methods()})
}
