package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/notewave/collabd/internal/store"
)

// Document CRUD is the request/response face of the persistent-store
// collaborator. It lives outside the websocket path on purpose: content
// broadcasts never touch storage, clients persist on their own debounce.

type saveDocumentRequest struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

type saveCommentRequest struct {
	AuthorID string `json:"authorId"`
	Body     string `json:"body"`
}

func (a *App) registerDocumentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /documents/{id}", a.handleLoadDocument)
	mux.HandleFunc("PUT /documents/{id}", a.handleSaveDocument)
	mux.HandleFunc("GET /tasks/{id}/comments", a.handleLoadComments)
	mux.HandleFunc("POST /tasks/{id}/comments", a.handleSaveComment)
}

func (a *App) handleLoadDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := a.store.LoadDocument(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("Failed to load document", slog.String("id", id), slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, doc)
}

func (a *App) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req saveDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if err := a.store.SaveDocument(r.Context(), id, req.Content, req.Title); err != nil {
		a.logger.Error("Failed to save document", slog.String("id", id), slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleLoadComments(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	comments, err := a.store.LoadComments(r.Context(), taskID)
	if err != nil {
		a.logger.Error("Failed to load comments", slog.String("taskID", taskID), slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	writeJSON(w, comments)
}

func (a *App) handleSaveComment(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req saveCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	comment, err := a.store.SaveComment(r.Context(), store.Comment{
		TaskID:   taskID,
		AuthorID: req.AuthorID,
		Body:     req.Body,
	})
	if err != nil {
		a.logger.Error("Failed to save comment", slog.String("taskID", taskID), slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, comment)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
