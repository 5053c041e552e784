// Package api exposes the batch job surface and the on-demand pipeline runs
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/resilience"
	"github.com/sells-group/opportunity-intel/internal/store"
)

// Jobs is the batch job surface.
type Jobs interface {
	StartBatch(ctx context.Context, sel model.Selection, mode model.Mode) (string, error)
	EnrichAsync(ctx context.Context, entityID int64) (string, error)
	GetStatus(ctx context.Context, id string) (model.BatchJob, error)
	ListJobs(ctx context.Context) ([]model.BatchJob, error)
	Cancel(ctx context.Context, id string) error
}

// Discoverer runs discovery for a set of localities.
type Discoverer interface {
	Run(ctx context.Context, localities []string) model.Summary
}

// Poller polls committee status.
type Poller interface {
	PollDue(ctx context.Context) (model.Summary, error)
	PollIDs(ctx context.Context, ids []int64) model.Summary
}

// Entities reads ranked entities and reports store health.
type Entities interface {
	GetEntity(ctx context.Context, id int64) (*model.Entity, error)
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]model.Entity, error)
	Ping(ctx context.Context) error
}

// Breakers reports the research engines' circuit states.
type Breakers interface {
	Statuses() []resilience.BreakerStatus
}

// Deps are the collaborators behind the routes. All but Breakers are required.
type Deps struct {
	Jobs       Jobs
	Discoverer Discoverer
	Poller     Poller
	Entities   Entities
	Breakers   Breakers
}

// Validate reports missing collaborators.
func (d Deps) Validate() error {
	switch {
	case d.Jobs == nil:
		return eris.New("api: jobs is required")
	case d.Discoverer == nil:
		return eris.New("api: discoverer is required")
	case d.Poller == nil:
		return eris.New("api: poller is required")
	case d.Entities == nil:
		return eris.New("api: entities is required")
	}
	return nil
}

type server struct {
	deps     Deps
	validate *validator.Validate
}

// NewHandler builds the router. corsOrigins lists the browser origins
// allowed to call the API; empty disables CORS headers.
func NewHandler(deps Deps, corsOrigins []string) (http.Handler, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	s := &server{deps: deps, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.startBatch)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Post("/{id}/cancel", s.cancelJob)
	})
	r.Post("/entities/{id}/enrich", s.enrichEntity)
	r.Post("/discovery/run", s.runDiscovery)
	r.Post("/committee/poll", s.pollCommittee)
	r.Get("/opportunities", s.opportunities)
	return r, nil
}

type healthResponse struct {
	Status  string                     `json:"status"`
	Store   string                     `json:"store"`
	Engines []resilience.BreakerStatus `json:"engines,omitempty"`
}

// health answers 503 when the store is unreachable. An open engine circuit
// marks the service degraded without failing the probe.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	if s.deps.Breakers != nil {
		resp.Engines = s.deps.Breakers.Statuses()
		for _, b := range resp.Engines {
			if b.State == resilience.CircuitOpen {
				resp.Status = "degraded"
			}
		}
	}
	if err := s.deps.Entities.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type startBatchRequest struct {
	IDs               []int64        `json:"ids" validate:"omitempty,max=500,dive,gt=0"`
	Locality          string         `json:"locality" validate:"max=100"`
	StaleAfter        model.Duration `json:"stale_after" validate:"gte=0"`
	MinAttractiveness float64        `json:"min_attractiveness" validate:"gte=0,lte=100"`
	Limit             int            `json:"limit" validate:"gte=0,lte=500"`
	Mode              string         `json:"mode" validate:"omitempty,oneof=fast standard full"`
}

type jobCreatedResponse struct {
	JobID string `json:"job_id"`
}

func (s *server) startBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	sel := model.Selection{
		IDs:               req.IDs,
		Locality:          req.Locality,
		StaleAfter:        req.StaleAfter,
		MinAttractiveness: req.MinAttractiveness,
		Limit:             req.Limit,
	}
	id, err := s.deps.Jobs.StartBatch(r.Context(), sel, model.Mode(req.Mode))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{JobID: id})
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.ListJobs(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Jobs.Cancel(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (s *server) enrichEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Entities.GetEntity(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	jobID, err := s.deps.Jobs.EnrichAsync(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{JobID: jobID})
}

type discoveryRequest struct {
	Localities []string `json:"localities" validate:"required,min=1,max=50,dive,required"`
}

func (s *server) runDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Discoverer.Run(r.Context(), req.Localities))
}

type pollRequest struct {
	IDs []int64 `json:"ids" validate:"omitempty,max=200,dive,gt=0"`
}

func (s *server) pollCommittee(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if len(req.IDs) > 0 {
		writeJSON(w, http.StatusOK, s.deps.Poller.PollIDs(r.Context(), req.IDs))
		return
	}
	sum, err := s.deps.Poller.PollDue(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *server) opportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EntityFilter{Locality: q.Get("locality")}

	if v := q.Get("tier"); v != "" {
		tier, err := model.ParseTier(v)
		if err != nil {
			handleError(w, err)
			return
		}
		filter.Tier = tier
	}
	var err error
	if filter.MinAttractiveness, err = queryFloat(q.Get("min_attractiveness")); err != nil {
		writeError(w, http.StatusBadRequest, "min_attractiveness must be a number")
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil || filter.Limit < 0 || filter.Limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be between 0 and 500")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil || filter.Offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	entities, err := s.deps.Entities.ListEntities(r.Context(), filter)
	if err != nil {
		handleError(w, err)
		return
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// decode reads and validates a JSON body, writing the error response on
// failure.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		handleError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return 0, false
	}
	return id, true
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func queryFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
