package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/ids"
	"github.com/go-chi/chi/v5"
)

// Notes serves /api/projects/{id}/notes.
type Notes struct{}

func (h *Notes) List(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var notes []database.Note
	if err := database.DB.Where("project_id = ?", projectID).Order("updated_at desc").Find(&notes).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *Notes) Create(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", projectID).Error; err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	note := database.Note{
		ID:        ids.New(ids.Note),
		ProjectID: projectID,
		Title:     req.Title,
		Body:      req.Body,
	}
	if err := database.DB.Create(&note).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create note")
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *Notes) Update(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteId")
	var note database.Note
	if err := database.DB.First(&note, "id = ?", noteID).Error; err != nil {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}

	var req struct {
		Title *string `json:"title"`
		Body  *string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title != nil {
		note.Title = *req.Title
	}
	if req.Body != nil {
		note.Body = *req.Body
	}
	if err := database.DB.Save(&note).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *Notes) Delete(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "noteId")
	res := database.DB.Delete(&database.Note{}, "id = ?", noteID)
	if res.Error != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete note")
		return
	}
	if res.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": noteID})
}
