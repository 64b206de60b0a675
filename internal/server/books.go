package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bookshare/internal/app"
	"bookshare/pkg/store"
)

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

type bookUpdateRequest struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	Description *string `json:"description"`
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/books/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPatch:
		var req bookUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Title == nil && req.Author == nil && req.Description == nil {
			writeError(w, http.StatusBadRequest, "title, author or description is required")
			return
		}
		patch := store.BookPatch{Title: req.Title, Author: req.Author, Description: req.Description}
		book, err := s.app.UpdateBook(r.Context(), id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "api.book.delete", "success", "book_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// handleUploadBook accepts a multipart form with title, author, userId and a
// bookFile part; description and coverFile are optional. Blob writes happen
// before the record insert and are rolled back if the insert fails.
func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request) {
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
	rawUserID := strings.TrimSpace(r.FormValue("userId"))
	if title == "" || author == "" || rawUserID == "" {
		writeError(w, http.StatusBadRequest, "title, author and userId are required")
		return
	}
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid userId")
		return
	}
	bookFile, bookHeader, err := r.FormFile("bookFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "book file is required (field: bookFile)")
		return
	}
	defer bookFile.Close()

	in := app.UploadBookInput{
		Title:       title,
		Author:      author,
		Description: strings.TrimSpace(r.FormValue("description")),
		UploaderID:  userID,
		Book: app.FileUpload{
			Name:        bookHeader.Filename,
			ContentType: bookHeader.Header.Get("Content-Type"),
			Size:        bookHeader.Size,
			Reader:      bookFile,
		},
	}
	coverFile, coverHeader, err := r.FormFile("coverFile")
	if err == nil {
		defer coverFile.Close()
		in.Cover = &app.FileUpload{
			Name:        coverHeader.Filename,
			ContentType: coverHeader.Header.Get("Content-Type"),
			Size:        coverHeader.Size,
			Reader:      coverFile,
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "invalid cover file")
		return
	}

	book, err := s.app.UploadBook(r.Context(), in)
	if err != nil {
		s.audit(r, "api.book.upload", "fail", "reason", err.Error())
		// An unknown uploader is a bad request here, not a missing resource.
		if errors.Is(err, app.ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "unknown user")
			return
		}
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.book.upload", "success", "book_id", book.ID, "user_id", userID)
	writeJSON(w, http.StatusOK, book)
}
