package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gluk-w/termhub/internal/buffer"
	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/session"
	"github.com/gluk-w/termhub/internal/shellhost"
	"github.com/gluk-w/termhub/internal/status"
	"github.com/gluk-w/termhub/internal/vault"
	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *session.Manager) {
	t.Helper()
	if err := database.InitMemory(); err != nil {
		t.Fatalf("InitMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	detector, err := status.NewDetector(status.Options{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	host := shellhost.NewFakeHost()
	mgr := session.NewManager(host, buffer.NewEngine(100, false), detector)
	t.Cleanup(mgr.Destroy)

	v := vault.New(filepath.Join(t.TempDir(), "vault.json"))
	if err := v.Init("test-master", "test-salt"); err != nil {
		t.Fatalf("vault init: %v", err)
	}

	projects := &Projects{Mgr: mgr}
	notes := &Notes{}
	credentials := &Credentials{Vault: v}

	r := chi.NewRouter()
	r.Get("/api/projects", projects.List)
	r.Post("/api/projects", projects.Create)
	r.Get("/api/projects/{id}", projects.Get)
	r.Put("/api/projects/{id}", projects.Update)
	r.Delete("/api/projects/{id}", projects.Delete)
	r.Get("/api/projects/{id}/sessions", projects.Sessions)
	r.Get("/api/projects/{id}/notes", notes.List)
	r.Post("/api/projects/{id}/notes", notes.Create)
	r.Put("/api/projects/{id}/notes/{noteId}", notes.Update)
	r.Delete("/api/projects/{id}/notes/{noteId}", notes.Delete)
	r.Get("/api/credentials", credentials.List)
	r.Post("/api/credentials", credentials.Create)
	r.Delete("/api/credentials/{id}", credentials.Delete)
	return r, mgr
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProjects_CRUD(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]string{"name": "alpha", "path": "/srv/alpha"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var proj database.Project
	json.Unmarshal(rec.Body.Bytes(), &proj)
	if proj.ID == "" || proj.Name != "alpha" {
		t.Fatalf("created %+v", proj)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/projects/"+proj.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPut, "/api/projects/"+proj.ID, map[string]string{"name": "beta"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	var updated database.Project
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Name != "beta" || updated.Path != "/srv/alpha" {
		t.Errorf("updated %+v", updated)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/projects", nil)
	var list []database.Project
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("list = %d", len(list))
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/projects/"+proj.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/api/projects/"+proj.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
}

func TestProjects_CreateRequiresName(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]string{"path": "/x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestProjectDelete_TerminatesSessions(t *testing.T) {
	r, mgr := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]string{"name": "doomed"})
	var proj database.Project
	json.Unmarshal(rec.Body.Bytes(), &proj)

	s, err := mgr.CreateTerminalSession(context.Background(), "c1", proj.ID, session.TerminalConfig{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/projects/"+proj.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body)
	}
	if s.State() != session.StateTerminated {
		t.Errorf("session state = %s", s.State())
	}
}

func TestNotes_CRUD(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]string{"name": "notes"})
	var proj database.Project
	json.Unmarshal(rec.Body.Bytes(), &proj)

	rec = doJSON(t, r, http.MethodPost, "/api/projects/"+proj.ID+"/notes", map[string]string{"title": "todo", "body": "ship it"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create note = %d: %s", rec.Code, rec.Body)
	}
	var note database.Note
	json.Unmarshal(rec.Body.Bytes(), &note)

	rec = doJSON(t, r, http.MethodPut, "/api/projects/"+proj.ID+"/notes/"+note.ID, map[string]string{"body": "shipped"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update note = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/projects/"+proj.ID+"/notes", nil)
	var notes []database.Note
	json.Unmarshal(rec.Body.Bytes(), &notes)
	if len(notes) != 1 || notes[0].Body != "shipped" || notes[0].Title != "todo" {
		t.Errorf("notes = %+v", notes)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/projects/"+proj.ID+"/notes/"+note.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete note = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/projects/"+proj.ID+"/notes/"+note.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete = %d", rec.Code)
	}
}

func TestCredentials_MaskedViews(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/credentials", map[string]any{
		"name": "prod", "host": "prod.example.com", "username": "deploy",
		"auth_method": "password", "password": "hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("hunter2")) {
		t.Error("secret leaked into response")
	}
	var created credentialView
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Port != 22 {
		t.Errorf("default port = %d", created.Port)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/credentials", nil)
	if bytes.Contains(rec.Body.Bytes(), []byte("hunter2")) {
		t.Error("secret leaked into list")
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/credentials/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
}

func TestCredentials_VaultDisabled(t *testing.T) {
	r := chi.NewRouter()
	credentials := &Credentials{Vault: nil}
	r.Get("/api/credentials", credentials.List)

	rec := doJSON(t, r, http.MethodGet, "/api/credentials", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}
