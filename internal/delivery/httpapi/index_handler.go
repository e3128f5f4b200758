package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"codeforge/internal/domain/job"
	"codeforge/internal/external/forge"
	indexingpipeline "codeforge/internal/pipeline/indexing"
	cferrors "codeforge/internal/shared/errors"
	"codeforge/internal/shared/logging"
)

type indexHandler struct {
	deps   RouterDeps
	logger logging.Logger
}

func newIndexHandler(deps RouterDeps, logger logging.Logger) *indexHandler {
	return &indexHandler{deps: deps, logger: logger.With("handler", "index")}
}

// createIndexRequest is the public request body for POST /index: a
// manually triggered full reindex, as opposed to the webhook-driven
// full/incremental decision.
type createIndexRequest struct {
	RepoURL string `json:"repoUrl"`
	RepoID  string `json:"repoId"`
	Branch  string `json:"branch"`
	UserID  string `json:"userId"`
}

func (h *indexHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createIndexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := forge.ValidateCloneURL(req.RepoURL); err != nil {
		writeJSONError(w, err, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RepoID) == "" {
		writeJSONError(w, cferrors.New(cferrors.KindInvalidInput, "repoId is required"), http.StatusBadRequest, "repoId is required")
		return
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	jobID := uuid.NewString()
	_, err := h.deps.Queue.Enqueue(r.Context(), job.QueueIndexing, job.NameIndexFull, indexingpipeline.FullPayload{
		ProjectID: jobID,
		RepoURL:   req.RepoURL,
		RepoID:    req.RepoID,
		Branch:    branch,
	}, job.Options{JobID: jobID, OwnerID: req.UserID})
	if err != nil {
		h.logger.Error("enqueue manual index for %s: %v", req.RepoURL, err)
		writeJSONError(w, err, http.StatusInternalServerError, "failed to enqueue index job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *indexHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	j, err := h.deps.Queue.GetJob(r.Context(), job.QueueIndexing, jobID)
	if err != nil {
		writeJSONError(w, cferrors.New(cferrors.KindResourceNotFound, "index job not found"), http.StatusNotFound, "index job not found")
		return
	}
	if userID := r.URL.Query().Get("userId"); j.OwnerUserID != "" && userID != j.OwnerUserID {
		writeJSONError(w, cferrors.New(cferrors.KindAuthFailure, "not authorized to view this job"), http.StatusForbidden, "not authorized to view this job")
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
