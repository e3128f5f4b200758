package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"codeforge/internal/domain/installation"
	"codeforge/internal/domain/job"
	indexingpipeline "codeforge/internal/pipeline/indexing"
	"codeforge/internal/shared/logging"
	"codeforge/internal/webhook"
)

type webhookHandler struct {
	deps   RouterDeps
	logger logging.Logger
}

func newWebhookHandler(deps RouterDeps, logger logging.Logger) *webhookHandler {
	return &webhookHandler{deps: deps, logger: logger.With("handler", "webhook")}
}

// ghInstallationPayload covers the installation and
// installation_repositories event shapes this handler reacts to.
type ghInstallationPayload struct {
	Action       string `json:"action"`
	Installation struct {
		ID      int64 `json:"id"`
		Account struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"account"`
	} `json:"installation"`
	RepositoriesAdded []struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
	} `json:"repositories_added"`
	RepositoriesRemoved []struct {
		ID int64 `json:"id"`
	} `json:"repositories_removed"`
	Repositories []struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
	} `json:"repositories"`
}

// ghPushPayload covers the push event shape.
type ghPushPayload struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

// handlePush is the single entry point for every forge-provider webhook
// event; despite the name it dispatches on the X-GitHub-Event header,
// not just pushes.
func (h *webhookHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, nil, http.StatusBadRequest, "failed to read request body")
		return
	}

	if h.deps.WebhookSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !webhook.VerifySignature([]byte(h.deps.WebhookSecret), body, sig) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook signature"})
			return
		}
	}

	event := webhook.Classify(r.Header.Get("X-GitHub-Event"))
	switch event {
	case webhook.EventPing:
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case webhook.EventInstallation:
		h.handleInstallation(w, body)
	case webhook.EventInstallationRepositories:
		h.handleInstallationRepositories(w, body)
	case webhook.EventPush:
		h.handlePushEvent(w, r, body)
	case webhook.EventPullRequest, webhook.EventRepository:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		h.logger.Warn("unrecognized webhook event %q", r.Header.Get("X-GitHub-Event"))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *webhookHandler) handleInstallation(w http.ResponseWriter, body []byte) {
	var payload ghInstallationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, nil, http.StatusBadRequest, "malformed installation payload")
		return
	}
	if h.deps.Installations == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	switch strings.ToLower(payload.Action) {
	case "deleted":
		if err := h.deps.Installations.RemoveInstallation(payload.Installation.ID); err != nil {
			h.logger.Error("remove installation %d: %v", payload.Installation.ID, err)
			writeJSONError(w, err, http.StatusInternalServerError, "failed to remove installation")
			return
		}
	default: // created, new_permissions_accepted, etc.
		inst := installation.Installation{
			InstallationID: payload.Installation.ID,
			AccountLogin:   payload.Installation.Account.Login,
			AccountType:    payload.Installation.Account.Type,
		}
		if err := h.deps.Installations.UpsertInstallation(inst); err != nil {
			h.logger.Error("upsert installation %d: %v", payload.Installation.ID, err)
			writeJSONError(w, err, http.StatusInternalServerError, "failed to upsert installation")
			return
		}
		for _, repo := range payload.Repositories {
			_ = h.deps.Installations.UpsertRepository(installation.Repository{
				GithubID:       repo.ID,
				Name:           repo.Name,
				FullName:       repo.FullName,
				Private:        repo.Private,
				InstallationID: payload.Installation.ID,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *webhookHandler) handleInstallationRepositories(w http.ResponseWriter, body []byte) {
	var payload ghInstallationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, nil, http.StatusBadRequest, "malformed installation_repositories payload")
		return
	}
	if h.deps.Installations == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	for _, repo := range payload.RepositoriesAdded {
		if err := h.deps.Installations.UpsertRepository(installation.Repository{
			GithubID:       repo.ID,
			Name:           repo.Name,
			FullName:       repo.FullName,
			Private:        repo.Private,
			InstallationID: payload.Installation.ID,
		}); err != nil {
			h.logger.Error("upsert repository %s: %v", repo.FullName, err)
		}
	}
	for _, repo := range payload.RepositoriesRemoved {
		if err := h.deps.Installations.RemoveRepository(repo.ID); err != nil {
			h.logger.Error("remove repository %d: %v", repo.ID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *webhookHandler) handlePushEvent(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload ghPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, nil, http.StatusBadRequest, "malformed push payload")
		return
	}
	if h.deps.Queue == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	repoID := payload.Repository.FullName
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")

	commits := make([]webhook.Commit, 0, len(payload.Commits))
	for _, c := range payload.Commits {
		commits = append(commits, webhook.Commit{Added: c.Added, Modified: c.Modified, Removed: c.Removed})
	}
	changed := webhook.ExtractChangedFiles(commits)

	isIndexed := false
	if h.deps.IndexMeta != nil {
		if meta, ok := h.deps.IndexMeta.Get(repoID, branch); ok {
			isIndexed = meta.Indexed()
		}
	}

	threshold := h.deps.IncrementalThreshold
	if threshold <= 0 {
		threshold = 100
	}
	decision := webhook.DecideIndexType(isIndexed, payload.Before, changed.Total(), threshold)

	jobID := uuid.NewString()
	ctx := r.Context()

	if decision.Full {
		_, err := h.deps.Queue.Enqueue(ctx, job.QueueIndexing, job.NameIndexFull, indexingpipeline.FullPayload{
			ProjectID: jobID,
			RepoURL:   payload.Repository.CloneURL,
			RepoID:    repoID,
			Branch:    branch,
			AfterSHA:  payload.After,
		}, job.Options{JobID: jobID})
		if err != nil {
			h.logger.Error("enqueue full index for %s: %v", repoID, err)
			writeJSONError(w, err, http.StatusInternalServerError, "failed to enqueue index job")
			return
		}
	} else {
		_, err := h.deps.Queue.Enqueue(ctx, job.QueueIndexing, job.NameIndexIncremental, indexingpipeline.IncrementalPayload{
			ProjectID:         jobID,
			RepoURL:           payload.Repository.CloneURL,
			RepoID:            repoID,
			Branch:            branch,
			BeforeSHA:         payload.Before,
			AfterSHA:          payload.After,
			Added:             changed.Added,
			Modified:          changed.Modified,
			Removed:           changed.Removed,
			TotalChangedFiles: changed.Total(),
		}, job.Options{JobID: jobID})
		if err != nil {
			h.logger.Error("enqueue incremental index for %s: %v", repoID, err)
			writeJSONError(w, err, http.StatusInternalServerError, "failed to enqueue index job")
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"jobId":  jobID,
		"reason": decision.Reason,
	})
}
