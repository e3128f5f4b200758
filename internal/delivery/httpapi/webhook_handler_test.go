package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"codeforge/internal/domain/indexstate"
	"codeforge/internal/domain/installation"
	"codeforge/internal/domain/job"
	indexingpipeline "codeforge/internal/pipeline/indexing"
	"codeforge/internal/shared/logging"
)

type fakeInstallations struct {
	mu            sync.Mutex
	installations map[int64]installation.Installation
	repositories  map[int64]installation.Repository
}

func newFakeInstallations() *fakeInstallations {
	return &fakeInstallations{
		installations: make(map[int64]installation.Installation),
		repositories:  make(map[int64]installation.Repository),
	}
}

func (f *fakeInstallations) UpsertInstallation(i installation.Installation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installations[i.InstallationID] = i
	return nil
}

func (f *fakeInstallations) RemoveInstallation(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.installations, id)
	return nil
}

func (f *fakeInstallations) UpsertRepository(r installation.Repository) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repositories[r.GithubID] = r
	return nil
}

func (f *fakeInstallations) RemoveRepository(githubID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.repositories, githubID)
	return nil
}

func (f *fakeInstallations) InstallationIDForRepo(fullName string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.repositories {
		if r.FullName == fullName {
			return r.InstallationID, true, nil
		}
	}
	return 0, false, nil
}

type fakeIndexMeta struct {
	mu    sync.Mutex
	metas map[string]indexstate.Meta
}

func newFakeIndexMeta() *fakeIndexMeta {
	return &fakeIndexMeta{metas: make(map[string]indexstate.Meta)}
}

func (f *fakeIndexMeta) Get(repoID, branch string) (*indexstate.Meta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metas[repoID+"@"+branch]
	if !ok {
		return nil, false
	}
	return &m, true
}

func (f *fakeIndexMeta) Put(meta indexstate.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metas[meta.RepoID+"@"+meta.Branch] = meta
	return nil
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookTestDeps() (RouterDeps, *fakeQueue, *fakeInstallations, *fakeIndexMeta) {
	q := newFakeQueue()
	installs := newFakeInstallations()
	meta := newFakeIndexMeta()
	deps := RouterDeps{
		Queue:                q,
		Installations:        installs,
		IndexMeta:            meta,
		WebhookSecret:        "topsecret",
		IncrementalThreshold: 100,
	}
	return deps, q, installs, meta
}

func postWebhook(t *testing.T, deps RouterDeps, event string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	h := newWebhookHandler(deps, logging.Nop)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	if deps.WebhookSecret != "" {
		req.Header.Set("X-Hub-Signature-256", sign([]byte(deps.WebhookSecret), body))
	}
	rec := httptest.NewRecorder()
	h.handlePush(rec, req)
	return rec
}

func TestWebhookHandler_RejectsInvalidSignature(t *testing.T) {
	deps, _, _, _ := newWebhookTestDeps()
	h := newWebhookHandler(deps, logging.Nop)

	body := []byte(`{"action":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "ping")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.handlePush(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
}

func TestWebhookHandler_AcknowledgesPing(t *testing.T) {
	deps, _, _, _ := newWebhookTestDeps()
	rec := postWebhook(t, deps, "ping", []byte(`{"zen":"hi"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ping, got %d", rec.Code)
	}
}

func TestWebhookHandler_InstallationEventUpsertsInstallation(t *testing.T) {
	deps, _, installs, _ := newWebhookTestDeps()
	body := []byte(`{
		"action": "created",
		"installation": {"id": 42, "account": {"login": "acme", "type": "Organization"}},
		"repositories": [{"id": 7, "name": "widgets", "full_name": "acme/widgets", "private": false}]
	}`)
	rec := postWebhook(t, deps, "installation", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, ok := installs.installations[42]; !ok {
		t.Fatal("expected installation 42 to be upserted")
	}
	if repo, ok := installs.repositories[7]; !ok || repo.FullName != "acme/widgets" {
		t.Fatalf("expected repository acme/widgets to be recorded, got %+v", repo)
	}
}

func TestWebhookHandler_InstallationDeletedRemovesInstallation(t *testing.T) {
	deps, _, installs, _ := newWebhookTestDeps()
	installs.installations[42] = installation.Installation{InstallationID: 42}

	body := []byte(`{"action": "deleted", "installation": {"id": 42}}`)
	rec := postWebhook(t, deps, "installation", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, ok := installs.installations[42]; ok {
		t.Fatal("expected installation 42 to be removed")
	}
}

func TestWebhookHandler_PushEnqueuesFullIndexWhenNotYetIndexed(t *testing.T) {
	deps, q, _, _ := newWebhookTestDeps()
	body := []byte(`{
		"ref": "refs/heads/main",
		"before": "aaaa",
		"after": "bbbb",
		"repository": {"full_name": "acme/widgets", "clone_url": "https://github.com/acme/widgets.git"},
		"commits": [{"added": ["a.go"], "modified": [], "removed": []}]
	}`)
	rec := postWebhook(t, deps, "push", body)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	j, err := q.GetJob(context.Background(), job.QueueIndexing, resp["jobId"])
	if err != nil {
		t.Fatalf("expected job to be enqueued: %v", err)
	}
	if j.Name != job.NameIndexFull {
		t.Fatalf("expected a full index job when repo is not yet indexed, got %s", j.Name)
	}
}

func TestWebhookHandler_PushEnqueuesIncrementalIndexWhenAlreadyIndexed(t *testing.T) {
	deps, q, _, meta := newWebhookTestDeps()
	meta.Put(indexstate.Meta{RepoID: "acme/widgets", Branch: "main", LastIndexedSha: "aaaa"})

	body := []byte(`{
		"ref": "refs/heads/main",
		"before": "aaaa",
		"after": "bbbb",
		"repository": {"full_name": "acme/widgets", "clone_url": "https://github.com/acme/widgets.git"},
		"commits": [{"added": ["a.go"], "modified": [], "removed": []}]
	}`)
	rec := postWebhook(t, deps, "push", body)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	j, err := q.GetJob(context.Background(), job.QueueIndexing, resp["jobId"])
	if err != nil {
		t.Fatalf("expected job to be enqueued: %v", err)
	}
	if j.Name != job.NameIndexIncremental {
		t.Fatalf("expected an incremental index job once the repo is already indexed, got %s", j.Name)
	}

	var payload indexingpipeline.IncrementalPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		t.Fatalf("decode incremental payload: %v", err)
	}
	if payload.TotalChangedFiles != 1 {
		t.Fatalf("expected 1 changed file, got %d", payload.TotalChangedFiles)
	}
}

func TestWebhookHandler_ForcePushAlwaysTriggersFullIndex(t *testing.T) {
	deps, q, _, meta := newWebhookTestDeps()
	meta.Put(indexstate.Meta{RepoID: "acme/widgets", Branch: "main", LastIndexedSha: "aaaa"})

	body := []byte(`{
		"ref": "refs/heads/main",
		"before": "0000000000000000000000000000000000000000",
		"after": "bbbb",
		"repository": {"full_name": "acme/widgets", "clone_url": "https://github.com/acme/widgets.git"},
		"commits": []
	}`)
	rec := postWebhook(t, deps, "push", body)
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)

	j, err := q.GetJob(context.Background(), job.QueueIndexing, resp["jobId"])
	if err != nil {
		t.Fatalf("expected job to be enqueued: %v", err)
	}
	if j.Name != job.NameIndexFull {
		t.Fatalf("expected a full index job on a force push, got %s", j.Name)
	}
}
