package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orlandoq/guildpost/internal/cache"
	"github.com/orlandoq/guildpost/internal/engine"
	"github.com/orlandoq/guildpost/internal/service/logger"
	"github.com/orlandoq/guildpost/internal/storage"
	"github.com/orlandoq/guildpost/internal/util"
	"github.com/orlandoq/guildpost/internal/web/middleware"
	"github.com/orlandoq/guildpost/model"
)

type Server struct {
	router        chi.Router
	engine        *engine.Engine
	storageClient storage.Storage
	board         cache.Cache
}

func NewServer(eng *engine.Engine, storageClient storage.Storage, board cache.Cache) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		engine:        eng,
		storageClient: storageClient,
		board:         board,
	}

	s.routes()
	return s
}

// Expose the router for main.go
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	limiter := middleware.NewLimiter(256, 64)
	r.Use(limiter.Limit)

	r.Post("/worker", s.handleRegisterWorker)
	r.Post("/requester", s.handleRegisterRequester)
	r.Put("/worker/{id}/availability", s.handleSetAvailability)
	r.Get("/worker/{id}/assignment", s.handleActiveAssignment)

	r.Post("/job", s.handlePublish)
	r.Get("/job", s.handleListOpenJobs)
	r.Get("/job/{id}", s.handleGetJob)
	r.Post("/job/{id}/claim", s.handleClaim)

	r.Post("/assignment/{id}/submit", s.handleSubmit)
	r.Post("/assignment/{id}/confirm", s.handleConfirm)
	r.Post("/assignment/{id}/force-end", s.handleForceEnd)

	r.Handle("/metrics", promhttp.Handler())
}

// statusFor translates engine error kinds into HTTP statuses. The engine
// carries no presentation text; the error message is passed through as-is.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrConflict),
		errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	worker, err := s.engine.RegisterWorker(r.Context(), req.Name, req.Platform, req.PlatformUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleRegisterRequester(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	requester, err := s.engine.RegisterRequester(r.Context(), req.Name, req.Platform, req.PlatformUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, requester)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req model.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		http.Error(w, "invalid requester id", http.StatusBadRequest)
		return
	}

	job, err := s.engine.Publish(r.Context(), requesterID, req.Title, req.Description, req.Reward, req.Deadline)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListOpenJobs(w http.ResponseWriter, r *http.Request) {
	if s.board != nil {
		var cached []model.Job
		if err := s.board.Get(r.Context(), cache.OpenJobsKey, &cached); err == nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	jobs, err := s.engine.ListOpenJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	flat := make([]model.Job, 0, len(jobs))
	for _, j := range jobs {
		flat = append(flat, *j)
	}

	if s.board != nil {
		if err := s.board.Put(r.Context(), cache.OpenJobsKey, flat, s.board.GetDefaultTTL()); err != nil {
			logger.FromContext(r.Context()).Warn().Err(err).Msg("board cache put failed")
		}
	}

	writeJSON(w, http.StatusOK, flat)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.engine.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	var req struct {
		WorkerID string `json:"workerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.Claim(r.Context(), workerID, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid assignment id", http.StatusBadRequest)
		return
	}

	var req struct {
		WorkerID  string                 `json:"workerId"`
		Materials []model.MaterialUpload `json:"materials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}

	materials, err := s.storeMaterialFiles(r.Context(), assignmentID, req.Materials)
	if err != nil {
		writeError(w, err)
		return
	}

	assignment, err := s.engine.Submit(r.Context(), workerID, assignmentID, materials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

// storeMaterialFiles pushes any file payloads into object storage and
// returns the materials with their FileRef set. File uploads happen before
// the transition commits; an orphaned object from a failed submit is
// harmless.
func (s *Server) storeMaterialFiles(ctx context.Context, assignmentID uuid.UUID, uploads []model.MaterialUpload) ([]model.Material, error) {
	if len(uploads) == 0 {
		return nil, nil
	}

	assignment, err := s.engine.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	materials := make([]model.Material, 0, len(uploads))
	for _, up := range uploads {
		m := model.Material{
			Name: up.Name,
			Kind: up.Kind,
		}
		if up.FileBase64 != "" && s.storageClient != nil {
			data, err := base64.StdEncoding.DecodeString(up.FileBase64)
			if err != nil {
				return nil, engine.ErrValidation
			}
			objectPath := util.MaterialObjectPath(assignment.JobID, uuid.New())
			if err := s.storageClient.Upload(ctx, objectPath, data); err != nil {
				return nil, err
			}
			m.FileRef = objectPath
		}
		materials = append(materials, m)
	}
	return materials, nil
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid assignment id", http.StatusBadRequest)
		return
	}

	var req struct {
		RequesterID string `json:"requesterId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		http.Error(w, "invalid requester id", http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.Confirm(r.Context(), requesterID, assignmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleForceEnd(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid assignment id", http.StatusBadRequest)
		return
	}

	var req struct {
		Availability model.WorkerAvailability `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.ForceEnd(r.Context(), assignmentID, req.Availability)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	workerID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}

	var req struct {
		Availability model.WorkerAvailability `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	worker, err := s.engine.SetAvailability(r.Context(), workerID, req.Availability)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleActiveAssignment(w http.ResponseWriter, r *http.Request) {
	workerID, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.ActiveAssignment(r.Context(), workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}
