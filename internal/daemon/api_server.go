package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/dispatch"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
)

// jobView is the wire shape of a queue job on the control API.
type jobView struct {
	ID              int64     `json:"id"`
	EpisodeID       string    `json:"episode_id"`
	EpisodeTitle    string    `json:"episode_title,omitempty"`
	TemplateID      string    `json:"template_id,omitempty"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ProgressStage   string    `json:"progress_stage,omitempty"`
	ProgressPercent float64   `json:"progress_percent,omitempty"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	ResultLocator   string    `json:"result_locator,omitempty"`
	ResultDuration  float64   `json:"result_duration_seconds,omitempty"`
	CoverArtLocator string    `json:"cover_art_locator,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type queueListResponse struct {
	Jobs []jobView `json:"jobs"`
}

type retryResponse struct {
	Retried int64 `json:"retried"`
}

type admitResponse struct {
	JobID  int64  `json:"job_id"`
	Status string `json:"status"`
}

func toJobView(job *queue.Job) jobView {
	return jobView{
		ID:              job.ID,
		EpisodeID:       job.EpisodeID,
		EpisodeTitle:    job.EpisodeTitle,
		TemplateID:      job.TemplateID,
		Status:          string(job.Status),
		ErrorMessage:    job.ErrorMessage,
		ProgressStage:   job.ProgressStage,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		ResultLocator:   job.ResultLocator,
		ResultDuration:  job.ResultDuration,
		CoverArtLocator: job.CoverArtLocator,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", requireBearer(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", requireBearer(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", requireBearer(token, srv.handleQueueJob))
	mux.HandleFunc("/api/transcripts", requireBearer(token, srv.handleTranscripts))
	// Inbound dispatches authenticate with the shared dispatch secret, not
	// the operator API token.
	mux.HandleFunc("/api/assemble", requireBearer(cfg.Dispatch.SharedSecret, srv.handleAssemble))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.daemon.ListQueue(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toJobView(job))
	}
	s.writeJSON(w, http.StatusOK, queueListResponse{Jobs: views})
}

// handleQueueJob serves GET /api/queue/{id} and POST /api/queue/{id}/retry.
func (s *apiServer) handleQueueJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.daemon.store.GetByID(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if job == nil {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeJSON(w, http.StatusOK, toJobView(job))
	case action == "retry" && r.Method == http.MethodPost:
		retried, err := s.daemon.RetryJobs(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if retried == 0 {
			s.writeError(w, http.StatusConflict, "job is not in the error state")
			return
		}
		s.writeJSON(w, http.StatusOK, retryResponse{Retried: retried})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleAssemble(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload dispatch.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid dispatch payload")
		return
	}
	job, err := s.daemon.AdmitRemote(r.Context(), payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, admitResponse{JobID: job.ID, Status: string(job.Status)})
}

// handleTranscripts resolves word-timing data for a media locator or
// filename and returns the transcript document verbatim.
func (s *apiServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.transcripts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "transcript resolver unavailable")
		return
	}
	locator := strings.TrimSpace(r.URL.Query().Get("media"))
	if locator == "" {
		s.writeError(w, http.StatusBadRequest, "media query parameter is required")
		return
	}

	words, err := s.daemon.transcripts.Resolve(r.Context(), locator)
	if err != nil {
		if errors.Is(err, services.ErrMissingInput) {
			s.writeError(w, http.StatusNotFound, "no transcript for media")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(words)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
