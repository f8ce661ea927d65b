// Package handlers is the REST surface: project and note CRUD,
// credential management, health and stats. Terminal traffic itself goes
// over the websocket gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/ids"
	"github.com/gluk-w/termhub/internal/session"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// Projects serves /api/projects. Deleting a project terminates its
// sessions through the manager before removing the row.
type Projects struct {
	Mgr *session.Manager
}

func (h *Projects) List(w http.ResponseWriter, r *http.Request) {
	var projects []database.Project
	if err := database.DB.Order("created_at asc").Find(&projects).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Projects) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	proj := database.Project{
		ID:   ids.New(ids.Project),
		Name: req.Name,
		Path: req.Path,
	}
	if err := database.DB.Create(&proj).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (h *Projects) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (h *Projects) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	var req struct {
		Name *string `json:"name"`
		Path *string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		proj.Name = *req.Name
	}
	if req.Path != nil {
		proj.Path = *req.Path
	}
	if err := database.DB.Save(&proj).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (h *Projects) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	h.Mgr.TerminateProjectSessions(id)

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&database.Note{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&database.SessionRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&proj).Error
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Sessions lists a project's sessions from the live manager table.
func (h *Projects) Sessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	infos := h.Mgr.ListProject(id)
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}
