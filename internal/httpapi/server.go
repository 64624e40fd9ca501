package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/art-gallery/api-go/internal/blob"
	"github.com/example/art-gallery/api-go/internal/export"
	"github.com/example/art-gallery/api-go/internal/lock"
	"github.com/example/art-gallery/api-go/internal/logging"
	"github.com/example/art-gallery/api-go/internal/model"
	"github.com/example/art-gallery/api-go/internal/relay"
	"github.com/example/art-gallery/api-go/internal/store"
)

const (
	maxExportBody = 8 << 20

	// A record costs at most MaxAttempts relay calls plus backoff; five
	// minutes covers three 90s attempts with room to spare.
	lockBaseTTL      = 5 * time.Minute
	lockPerRecordTTL = 5 * time.Minute
)

// lockTTL bounds the session lock by the worst case duration of an export of
// n records, so it cannot lapse while the export still runs.
func lockTTL(n int) time.Duration {
	return lockBaseTTL + time.Duration(n)*lockPerRecordTTL
}

type Server struct {
	Blobs          blob.LocalFS
	Jobs           *store.SQLite
	BaseURL        string // optional, for generating absolute result URLs
	Relay          *relay.Fetcher
	NewExporter    func() *export.Coordinator
	Locks          lock.Locker
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger

	// BaseContext is the parent of every background export; cancelling it
	// abandons exports in flight.
	BaseContext context.Context

	running sync.WaitGroup
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	r.Get("/proxy-image", s.handleProxyImage)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/exports", s.handleCreateExport)
		r.Get("/exports", s.handleListExports)
		r.Get("/exports/{id}", s.handleGetExport)
		r.Get("/exports/{id}/result", s.handleGetResult)
	})

	return r
}

// RelayRouter serves only the image relay, for processes that export without
// the job API.
func (s *Server) RelayRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/proxy-image", s.handleProxyImage)
	return r
}

// Wait blocks until every background export has finished.
func (s *Server) Wait() { s.running.Wait() }

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return logging.NewNop()
	}
	return s.Logger
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Session-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	resp, err := s.Relay.Fetch(r.Context(), target)
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, relay.ErrInvalidURL):
			code = http.StatusBadRequest
		case errors.Is(err, relay.ErrTimeout):
			code = http.StatusGatewayTimeout
		case errors.Is(err, relay.ErrForbiddenHost):
			code = http.StatusForbidden
		}
		s.logger().Debug("relay fetch failed", zap.String("url", target), logging.Err(err))
		writeJSON(w, code, relay.Response{Success: false, Error: err.Error()})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

type createExportRequest struct {
	Records   []model.Record `json:"records"`
	SessionID string         `json:"sessionId,omitempty"`
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createExportRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxExportBody))
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid export request: %w", err))
		return
	}

	session := sessionKey(r, req.SessionID)
	unlock, err := s.Locks.TryLock(ctx, session, lockTTL(len(req.Records)))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			writeErr(w, http.StatusConflict, export.ErrInFlight)
			return
		}
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}

	now := time.Now().UTC()
	job := model.Job{
		ID:        uuid.NewString(),
		SessionID: session,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    model.JobQueued,
		Total:     len(req.Records),
	}
	if err := s.Jobs.CreateJob(ctx, job); err != nil {
		_ = unlock(context.WithoutCancel(ctx))
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("create export: %w", err))
		return
	}

	// The request body is decoded into a private slice, so it already is the
	// snapshot the job runs on.
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() { _ = unlock(context.Background()) }()
		s.runExport(job, req.Records)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":     job.ID,
		"statusUrl": s.url("/v1/exports/" + job.ID),
	})
}

func sessionKey(r *http.Request, fromBody string) string {
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Session-ID")); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) runExport(job model.Job, records []model.Record) {
	ctx := s.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	log := s.logger().With(zap.String("job", job.ID))
	update := func(p model.JobPatch) {
		if err := s.Jobs.UpdateJob(context.WithoutCancel(ctx), job.ID, p); err != nil {
			log.Warn("update export job", logging.Err(err))
		}
	}
	update(model.JobPatch{Status: ptr(string(model.JobRunning)), Progress: ptr(export.ProgressText(0, job.Total))})

	rep := &jobReporter{update: update}
	res, err := s.NewExporter().Run(ctx, records, rep)
	if err != nil {
		update(model.JobPatch{
			Status:  ptr(string(model.JobError)),
			Message: ptr(export.GenericFailureMessage),
			Error:   ptr(err.Error()),
		})
		return
	}

	key := path.Join("exports", job.ID, res.Artifact.FileName)
	if _, err := s.Blobs.Put(key, bytes.NewReader(res.Artifact.Data)); err != nil {
		log.Error("store export artifact", logging.Err(err))
		update(model.JobPatch{
			Status:  ptr(string(model.JobError)),
			Message: ptr(export.GenericFailureMessage),
			Error:   ptr(err.Error()),
		})
		return
	}
	// The success message is only published once the report is retrievable.
	update(model.JobPatch{
		Status:    ptr(string(model.JobDone)),
		Message:   ptr(rep.message),
		Loaded:    ptr(res.Loaded),
		Failed:    ptr(res.Failed),
		OutputKey: ptr(key),
	})
}

// jobReporter mirrors coordinator progress into the job record. Terminal
// messages are held back for runExport, which writes them together with the
// final status.
type jobReporter struct {
	update  func(model.JobPatch)
	message string
}

func (r *jobReporter) Progress(done, total int) {
	r.update(model.JobPatch{Progress: ptr(export.ProgressText(done, total))})
}

func (r *jobReporter) Clear() { r.update(model.JobPatch{Progress: ptr("")}) }

func (r *jobReporter) Done(message string) { r.message = message }

func (r *jobReporter) Fail(message string) { r.message = message }

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	job, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.jobResponse(job))
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var status *model.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := model.JobStatus(raw)
		switch parsed {
		case model.JobQueued, model.JobRunning, model.JobDone, model.JobError:
			status = &parsed
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
	}

	jobs, err := s.Jobs.ListJobs(ctx, status, 25)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	resp := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, s.jobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetResult streams the sealed report once and then discards the job.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	job, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if job.Status != model.JobDone || job.OutputKey == "" || !s.Blobs.Exists(job.OutputKey) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("result not ready"))
		return
	}
	f, err := s.Blobs.Open(job.OutputKey)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.OutputKey)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, f); err != nil {
		s.logger().Warn("stream export result", zap.String("job", id), logging.Err(err))
		return
	}

	if err := s.Blobs.Delete(job.OutputKey); err != nil {
		s.logger().Warn("delete export artifact", zap.String("job", id), logging.Err(err))
	}
	if err := s.Jobs.DeleteJob(context.WithoutCancel(ctx), id); err != nil {
		s.logger().Warn("delete export job", zap.String("job", id), logging.Err(err))
	}
}

func (s *Server) url(p string) string {
	return strings.TrimRight(s.BaseURL, "/") + p
}

func (s *Server) jobResponse(job model.Job) map[string]any {
	resp := map[string]any{
		"id":        job.ID,
		"createdAt": job.CreatedAt,
		"updatedAt": job.UpdatedAt,
		"status":    job.Status,
		"total":     job.Total,
		"loaded":    job.Loaded,
		"failed":    job.Failed,
		"progress":  job.Progress,
		"message":   job.Message,
		"error":     job.Error,
	}
	if job.Status == model.JobDone && job.OutputKey != "" {
		resp["resultUrl"] = s.url(fmt.Sprintf("/v1/exports/%s/result", job.ID))
		resp["fileName"] = path.Base(job.OutputKey)
	}
	return resp
}

func ptr[T any](v T) *T { return &v }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
