package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/pagebroker/internal/adapter/observability"
	"github.com/fairyhunter13/pagebroker/internal/config"
	"github.com/fairyhunter13/pagebroker/internal/domain"
	"github.com/fairyhunter13/pagebroker/internal/service/ratelimiter"
	"github.com/fairyhunter13/pagebroker/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Jobs       *usecase.JobService
	Workers    *usecase.WorkerService
	Uploads    *usecase.UploadService
	Keys       *usecase.KeyService
	Engines    *usecase.EngineService
	Limiter    ratelimiter.Limiter
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, jobs *usecase.JobService, workers *usecase.WorkerService, uploads *usecase.UploadService, keys *usecase.KeyService, engines *usecase.EngineService, limiter ratelimiter.Limiter, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Jobs:       jobs,
		Workers:    workers,
		Uploads:    uploads,
		Keys:       keys,
		Engines:    engines,
		Limiter:    limiter,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// MeHandler returns the caller's own credential.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		writeData(w, http.StatusOK, "", "authenticated", toKeyView(caller))
	}
}

// CreateJobHandler registers a new job with its declared images.
func (s *Server) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		var in usecase.CreateJobInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, err, nil)
			return
		}
		job, images, err := s.Jobs.Create(r.Context(), caller, in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusCreated, "", "job created", jobViewFor(caller, job, images))
	}
}

// ListJobsHandler returns the jobs visible to the caller.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		jobs, err := s.Jobs.List(r.Context(), caller)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]jobView, len(jobs))
		for i, j := range jobs {
			views[i] = jobViewFor(caller, j, nil)
		}
		writeData(w, http.StatusOK, "", "jobs", views)
	}
}

// GetJobHandler returns one job with its images.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		job, images, err := s.Jobs.Get(r.Context(), caller, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusOK, "", "job", jobViewFor(caller, job, images))
	}
}

type patchJobRequest struct {
	State    *string  `json:"state,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Log      string   `json:"log,omitempty"`
	LogUser  string   `json:"log_user,omitempty"`
}

// PatchJobHandler multiplexes the job mutations: owners cancel, workers
// report done or error, and a body without a state is a worker progress
// update.
func (s *Server) PatchJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		id := chi.URLParam(r, "id")
		var body patchJobRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, err, nil)
			return
		}

		if body.State == nil {
			job, lease, err := s.Workers.Progress(r.Context(), caller, id, domain.ProgressUpdate{
				Progress: body.Progress,
				Log:      body.Log,
				LogUser:  body.LogUser,
			})
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeData(w, http.StatusOK, "", "progress recorded", map[string]any{
				"job":   jobViewFor(caller, job, nil),
				"lease": toLeaseView(lease),
			})
			return
		}

		var (
			job     domain.Job
			outcome domain.OutcomeCode
			err     error
		)
		switch domain.State(*body.State) {
		case domain.StateCancelled:
			job, outcome, err = s.Jobs.Cancel(r.Context(), caller, id)
			if err == nil && outcome == domain.OutcomeCancelled {
				observability.JobsCancelledTotal.Inc()
			}
		case domain.StateDone:
			job, outcome, err = s.Workers.Complete(r.Context(), caller, id)
			if err == nil && outcome == domain.OutcomeCompleted {
				observability.JobsCompletedTotal.Inc()
			}
		case domain.StateError:
			job, outcome, err = s.Workers.Fail(r.Context(), caller, id, body.Log)
			if err == nil && outcome == domain.OutcomeFailed {
				observability.JobsErroredTotal.Inc()
			}
		default:
			err = fmt.Errorf("%w: state %q is not a requestable target", domain.ErrInvalidArgument, *body.State)
		}
		if err != nil {
			var details any
			if errors.Is(err, domain.ErrUncancellable) && job.State != "" {
				details = map[string]string{"state": string(job.State)}
			}
			writeError(w, r, err, details)
			return
		}
		writeOutcome(w, http.StatusOK, outcome, "job updated", jobViewFor(caller, job, nil))
	}
}

// ClaimHandler sweeps and hands the oldest queued job to the calling worker.
func (s *Server) ClaimHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		job, lease, outcome, err := s.Workers.Claim(r.Context(), caller)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if outcome == domain.OutcomeQueueEmpty {
			observability.ClaimsEmptyTotal.Inc()
			writeOutcome(w, http.StatusOK, outcome, "no queued jobs", nil)
			return
		}
		observability.JobsClaimedTotal.Inc()
		writeData(w, http.StatusOK, "", "job claimed", map[string]any{
			"job":   jobViewFor(caller, job, nil),
			"lease": toLeaseView(*lease),
		})
	}
}

// HeartbeatHandler renews the worker's lease on a processing job.
func (s *Server) HeartbeatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		job, lease, outcome, err := s.Workers.Heartbeat(r.Context(), caller, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeOutcome(w, http.StatusOK, outcome, "lease renewed", map[string]any{
			"job":   jobViewFor(caller, job, nil),
			"lease": toLeaseView(lease),
		})
	}
}

// ReleaseHandler returns a processing job to the queue. A successful release
// answers 204 with no body.
func (s *Server) ReleaseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		if _, _, err := s.Workers.Release(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ReadyzHandler reports readiness of the broker's dependencies.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]func(context.Context) error{
			"db":    s.DBCheck,
			"redis": s.RedisCheck,
		}
		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(r.Context()); err != nil {
				status[name] = err.Error()
				healthy = false
			} else {
				status[name] = "ok"
			}
		}
		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, envelope{Status: http.StatusServiceUnavailable, Code: "NOT_READY", Detail: "dependency check failed", Details: status})
			return
		}
		writeData(w, http.StatusOK, "", "ready", status)
	}
}
