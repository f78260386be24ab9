// Package status provides the HTTP handler for the read-only job status API.
//
//	GET /jobs/{jobId}          current job record, plus a presigned recap
//	                           URL once the job completed
//	GET /jobs/{jobId}/history  the job's status transitions in append order
//
// The status surface never mutates job or claim state.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/jobs"
	"github.com/fpang/media-recap/internal/s3util"
	"github.com/fpang/media-recap/internal/store"
)

// APIPrefix is the route prefix the handler owns.
const APIPrefix = "/jobs/"

// Handler serves job reads. Presigner and bucket are optional; without them
// responses omit recap URLs.
type Handler struct {
	jobs      store.JobStore
	presigner *s3.PresignClient
	bucket    string
}

// NewHandler creates a status handler over the job store.
func NewHandler(jobStore store.JobStore, presigner *s3.PresignClient, bucket string) *Handler {
	return &Handler{jobs: jobStore, presigner: presigner, bucket: bucket}
}

// jobView decorates the stored job with the artifact access URL.
type jobView struct {
	store.Job
	RecapURL string `json:"recapUrl,omitempty"`
}

type historyView struct {
	JobID   string               `json:"jobId"`
	History []store.HistoryEntry `json:"history"`
}

// ServeHTTP routes /jobs/{id} and /jobs/{id}/history.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID, sub, ok := jobs.ParseJobRoute(r.URL.Path, APIPrefix)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	switch sub {
	case "":
		h.getJob(w, r, jobID)
	case "history":
		h.getHistory(w, r, jobID)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "job lookup failed", err.Error())
		return
	}
	if job == nil {
		httpError(w, http.StatusNotFound, "unknown job")
		return
	}

	view := jobView{Job: *job}
	if job.Status == store.StatusCompleted && job.ResultKey != "" && h.presigner != nil {
		url, err := s3util.GeneratePresignedURL(r.Context(), h.presigner, h.bucket, job.ResultKey, s3util.DefaultPresignExpiry)
		if err != nil {
			// The record is still useful without the link.
			log.Warn().Err(err).Str("jobId", jobID).Msg("Presigning recap URL failed")
		} else {
			view.RecapURL = url
		}
	}

	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "job lookup failed", err.Error())
		return
	}
	if job == nil {
		httpError(w, http.StatusNotFound, "unknown job")
		return
	}

	history, err := h.jobs.GetJobHistory(r.Context(), jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "history lookup failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, historyView{JobID: jobID, History: history})
}

// --- JSON helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the
// caller. Optional internalDetails are logged server-side but never sent to
// the client, so storage errors cannot leak table names or ARNs.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}
