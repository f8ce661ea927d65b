package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/termhub/internal/vault"
	"github.com/go-chi/chi/v5"
)

// Credentials serves /api/credentials over the vault. Secrets never
// leave the server: list and get responses carry masked metadata only.
type Credentials struct {
	Vault *vault.Vault
}

type credentialView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthMethod string `json:"auth_method"`
	HasKey     bool   `json:"has_private_key"`
	CreatedAt  string `json:"created_at"`
}

func viewOf(rec *vault.Record) credentialView {
	return credentialView{
		ID:         rec.ID,
		Name:       rec.Name,
		Host:       rec.Host,
		Port:       rec.Port,
		Username:   rec.Username,
		AuthMethod: rec.AuthMethod,
		HasKey:     rec.EncryptedPrivateKey != "",
		CreatedAt:  rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *Credentials) ready(w http.ResponseWriter) bool {
	if h.Vault == nil || !h.Vault.Initialized() {
		writeError(w, http.StatusServiceUnavailable, "credential vault is not configured")
		return false
	}
	return true
}

func (h *Credentials) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	recs := h.Vault.List()
	out := make([]credentialView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Credentials) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req struct {
		Name       string `json:"name"`
		Host       string `json:"host"`
		Port       int    `json:"port"`
		Username   string `json:"username"`
		AuthMethod string `json:"auth_method"`
		Password   string `json:"password"`
		PrivateKey string `json:"private_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Host == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "name, host and username are required")
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}

	rec, err := h.Vault.Add(vault.AddInput{
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		AuthMethod: req.AuthMethod,
		Password:   req.Password,
		PrivateKey: req.PrivateKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(rec))
}

func (h *Credentials) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	rec, err := h.Vault.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Credentials) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Vault.Delete(id); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
