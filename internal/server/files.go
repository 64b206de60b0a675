package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookshare/pkg/storage"
)

type fileInfoResponse struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Title        string    `json:"title,omitempty"`
	Author       string    `json:"author,omitempty"`
}

func (s *Server) handleListBookFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	infos, err := s.app.ListBookFiles(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeFileListing(w, infos)
}

func (s *Server) handleListNoteFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	infos, err := s.app.ListNoteFiles(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeFileListing(w, infos)
}

// handleFile streams a stored blob. Keys contain slashes, so everything
// after /files/ is the key.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/files/")
	if key == "" || strings.Contains(key, "..") {
		http.NotFound(w, r)
		return
	}
	obj, err := s.app.GetFile(r.Context(), key)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", `"`+obj.ETag+`"`)
	}
	_, _ = io.Copy(w, obj.Body)
}

func writeFileListing(w http.ResponseWriter, infos []storage.ObjectInfo) {
	items := make([]fileInfoResponse, 0, len(infos))
	for _, info := range infos {
		items = append(items, fileInfoResponse{
			Key:          info.Key,
			URL:          fileURL(info.Key),
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
			Title:        info.Metadata["title"],
			Author:       info.Metadata["author"],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// fileURL maps a storage key onto the public download route.
func fileURL(key string) string {
	return "/api/files/" + key
}
