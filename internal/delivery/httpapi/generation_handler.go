package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"codeforge/internal/domain/job"
	"codeforge/internal/external/forge"
	"codeforge/internal/pipeline/generation"
	cferrors "codeforge/internal/shared/errors"
	"codeforge/internal/shared/logging"
)

type generationHandler struct {
	deps   RouterDeps
	logger logging.Logger
}

func newGenerationHandler(deps RouterDeps, logger logging.Logger) *generationHandler {
	return &generationHandler{deps: deps, logger: logger.With("handler", "generation")}
}

// createGenerationRequest is the public request body for POST /generation.
type createGenerationRequest struct {
	RepoURL           string `json:"repoUrl"`
	Task              string `json:"task"`
	RepoID            string `json:"repoId"`
	Branch            string `json:"branch"`
	IndexingJobID     string `json:"indexingJobId"`
	InstallationToken string `json:"installationToken"`
	UserID            string `json:"userId"`
	Username          string `json:"username"`
}

func (h *generationHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := forge.ValidateCloneURL(req.RepoURL); err != nil {
		writeJSONError(w, err, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeJSONError(w, cferrors.New(cferrors.KindInvalidInput, "task must not be empty"), http.StatusBadRequest, "task must not be empty")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, cferrors.New(cferrors.KindInvalidInput, "userId is required"), http.StatusBadRequest, "userId is required")
		return
	}

	jobID := uuid.NewString()
	payload := generation.Payload{
		ProjectID:         jobID,
		RepoURL:           req.RepoURL,
		Task:              req.Task,
		RepoID:            req.RepoID,
		Branch:            req.Branch,
		IndexingJobID:     req.IndexingJobID,
		InstallationToken: req.InstallationToken,
		UserID:            req.UserID,
		Username:          req.Username,
	}

	_, err := h.deps.Queue.Enqueue(r.Context(), job.QueueGeneration, job.NameGenerate, payload, job.Options{
		JobID:   jobID,
		OwnerID: req.UserID,
	})
	if err != nil {
		h.logger.Error("enqueue generation job for %s: %v", req.RepoURL, err)
		writeJSONError(w, err, http.StatusInternalServerError, "failed to enqueue generation job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// jobStatusView is the response shape shared by every job-status
// lookup endpoint.
type jobStatusView struct {
	ID           string          `json:"id"`
	State        job.State       `json:"state"`
	Progress     int             `json:"progress"`
	FailedReason string          `json:"failedReason,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func (h *generationHandler) loadOwnedJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("jobId")
	j, err := h.deps.Queue.GetJob(r.Context(), job.QueueGeneration, jobID)
	if err != nil {
		writeJSONError(w, cferrors.New(cferrors.KindResourceNotFound, "generation job not found"), http.StatusNotFound, "generation job not found")
		return nil, false
	}
	if userID := r.URL.Query().Get("userId"); j.OwnerUserID != "" && userID != j.OwnerUserID {
		writeJSONError(w, cferrors.New(cferrors.KindAuthFailure, "not authorized to view this job"), http.StatusForbidden, "not authorized to view this job")
		return nil, false
	}
	return j, true
}

func (h *generationHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobStatusView{
		ID:           j.ID,
		State:        j.State,
		Progress:     j.Progress,
		FailedReason: j.FailedReason,
		Result:       j.Result,
	})
}

// generationDetailsView adds the original request payload to the
// status view, for a caller that wants to show what was asked for
// alongside how far it got.
type generationDetailsView struct {
	jobStatusView
	Payload generation.Payload `json:"payload"`
}

func (h *generationHandler) handleDetails(w http.ResponseWriter, r *http.Request) {
	j, ok := h.loadOwnedJob(w, r)
	if !ok {
		return
	}
	var payload generation.Payload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		h.logger.Warn("decode stored payload for job %s: %v", j.ID, err)
	}
	writeJSON(w, http.StatusOK, generationDetailsView{
		jobStatusView: jobStatusView{
			ID:           j.ID,
			State:        j.State,
			Progress:     j.Progress,
			FailedReason: j.FailedReason,
			Result:       j.Result,
		},
		Payload: payload,
	})
}
