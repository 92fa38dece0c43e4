// Package api serves the JSON API for projects, meetings, and transcript
// imports. All routes require a logged-in user; the session middleware
// supplies the identity.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/kuitang/project-os/internal/auth"
	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
	"github.com/kuitang/project-os/internal/projects"
	"github.com/kuitang/project-os/internal/transcripts"
)

// Handler wraps the domain services behind HTTP handlers.
type Handler struct {
	projects    *projects.Service
	transcripts *transcripts.Service
}

func NewHandler(projectsSvc *projects.Service, transcriptsSvc *transcripts.Service) *Handler {
	return &Handler{projects: projectsSvc, transcripts: transcriptsSvc}
}

// RegisterRoutes mounts the API routes. requireAuth wraps every route.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /api/projects", requireAuth(http.HandlerFunc(h.listProjects)))
	mux.Handle("POST /api/projects", requireAuth(http.HandlerFunc(h.createProject)))
	mux.Handle("GET /api/projects/{id}", requireAuth(http.HandlerFunc(h.getProject)))
	mux.Handle("PUT /api/projects/{id}", requireAuth(http.HandlerFunc(h.updateProject)))
	mux.Handle("DELETE /api/projects/{id}", requireAuth(http.HandlerFunc(h.deleteProject)))
	mux.Handle("GET /api/meetings", requireAuth(http.HandlerFunc(h.listMeetings)))
	mux.Handle("GET /api/meetings/remote", requireAuth(http.HandlerFunc(h.listRemoteMeetings)))
	mux.Handle("GET /api/meetings/{id}", requireAuth(http.HandlerFunc(h.getMeeting)))
	mux.Handle("POST /api/meetings/import", requireAuth(http.HandlerFunc(h.importMeeting)))
	mux.Handle("PUT /api/action-items/{id}", requireAuth(http.HandlerFunc(h.updateActionItem)))
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.projects.List(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []projects.Project{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	project, err := h.projects.Create(r.Context(), auth.GetUserID(r.Context()), req.Name, req.Description)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.Get(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	project, err := h.projects.Update(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"), req.Name, req.Description)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.Delete(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id")); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) listMeetings(w http.ResponseWriter, r *http.Request) {
	list, err := h.transcripts.ListMeetings(r.Context(), auth.GetUserID(r.Context()), r.URL.Query().Get("project_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []transcripts.Meeting{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getMeeting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	meeting, err := h.transcripts.GetMeeting(ctx, userID, r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if meeting == nil {
		writeError(w, http.StatusNotFound, "Meeting not found")
		return
	}

	items, err := h.transcripts.ActionItems(ctx, userID, meeting.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if items == nil {
		items = []transcripts.ActionItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meeting":      meeting,
		"action_items": items,
	})
}

func (h *Handler) listRemoteMeetings(w http.ResponseWriter, r *http.Request) {
	docs, err := h.transcripts.ListRemote(r.Context(), auth.GetUserID(r.Context()), r.URL.Query().Get("tool"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

type importRequest struct {
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
}

func (h *Handler) importMeeting(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	meeting, err := h.transcripts.Import(r.Context(), auth.GetUserID(r.Context()), req.ProjectID, req.DocumentID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meeting)
}

type actionItemRequest struct {
	Done bool `json:"done"`
}

func (h *Handler) updateActionItem(w http.ResponseWriter, r *http.Request) {
	var req actionItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := h.transcripts.SetActionItemDone(r.Context(), auth.GetUserID(r.Context()), r.PathValue("id"), req.Done); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps a coded error onto an HTTP status and a safe message.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if status >= 500 {
		obs.From(r.Context()).Error("api_error", "code", string(code), "error", err)
	}
	writeError(w, status, errs.MessageOf(err))
}
