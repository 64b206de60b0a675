package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bookshare/internal/app"
	"bookshare/pkg/domain"
	"bookshare/pkg/store"
)

type noteCreateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	BookID  int64  `json:"book_id"`
	UserID  int64  `json:"user_id"`
}

type noteUpdateRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListNotes(w, r)
	case http.MethodPost:
		s.handleCreateNote(w, r)
	default:
		methodNotAllowed(w)
	}
}

// handleListNotes supports optional book_id / user_id query filters.
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	var (
		notes []domain.Note
		err   error
	)
	ctx := r.Context()
	switch {
	case r.URL.Query().Get("book_id") != "":
		var bookID int64
		bookID, err = strconv.ParseInt(r.URL.Query().Get("book_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid book_id")
			return
		}
		notes, err = s.app.ListNotesByBook(ctx, bookID)
	case r.URL.Query().Get("user_id") != "":
		var userID int64
		userID, err = strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		notes, err = s.app.ListNotesByUser(ctx, userID)
	default:
		notes, err = s.app.ListNotes(ctx)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": notes,
		"count": len(notes),
	})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}
	if req.BookID <= 0 || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "book_id and user_id are required")
		return
	}
	note, err := s.app.CreateNote(r.Context(), domain.Note{
		Title:   strings.TrimSpace(req.Title),
		Content: req.Content,
		BookID:  req.BookID,
		UserID:  req.UserID,
	})
	if err != nil {
		// Dangling references make the request invalid rather than the
		// referenced resource missing.
		if errors.Is(err, app.ErrBookNotFound) {
			writeError(w, http.StatusBadRequest, "unknown book")
			return
		}
		if errors.Is(err, app.ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "unknown user")
			return
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/notes/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		note, err := s.app.GetNote(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodPut:
		var req noteUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Title == nil && req.Content == nil {
			writeError(w, http.StatusBadRequest, "title or content is required")
			return
		}
		note, err := s.app.UpdateNote(r.Context(), id, store.NotePatch{Title: req.Title, Content: req.Content})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodDelete:
		if err := s.app.DeleteNote(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// handleUploadNoteFile accepts a multipart form with title, author and a
// noteFile part and returns the stored key plus its download URL.
func (s *Server) handleUploadNoteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	author := strings.TrimSpace(r.FormValue("author"))
	if title == "" || author == "" {
		writeError(w, http.StatusBadRequest, "title and author are required")
		return
	}
	file, header, err := r.FormFile("noteFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "note file is required (field: noteFile)")
		return
	}
	defer file.Close()

	key, err := s.app.UploadNoteFile(r.Context(), title, author, app.FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	})
	if err != nil {
		s.audit(r, "api.note.upload", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.note.upload", "success", "key", key)
	writeJSON(w, http.StatusOK, map[string]string{
		"key": key,
		"url": fileURL(key),
	})
}
