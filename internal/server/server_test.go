package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"bookshare/internal/app"
	"bookshare/pkg/domain"
	"bookshare/pkg/storage"
	"bookshare/pkg/store"
)

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	objects *storage.MemoryObjectStore
	app     *app.App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimits(t, 1000)
}

func newTestEnvWithLimits(t *testing.T, perMinute int) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	a := app.New(st, objects)
	srv, err := New(Config{
		App:                        a,
		RedisAddr:                  mr.Addr(),
		RegisterRateLimitPerMinute: perMinute,
		LoginRateLimitPerMinute:    perMinute,
		PasswordRateLimitPerMinute: perMinute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{handler: srv.Router(), store: st, objects: objects, app: a}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (e *testEnv) register(t *testing.T, email, role string) domain.User {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/register", map[string]string{
		"email":    email,
		"name":     "Test User",
		"password": "s3cret-pass",
		"role":     role,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var user domain.User
	decodeBody(t, rec, &user)
	return user
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	created := env.register(t, "ada@example.com", "")

	rec := env.do(t, http.MethodPost, "/api/login", map[string]string{
		"email":    "ada@example.com",
		"password": "s3cret-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") || strings.Contains(rec.Body.String(), "$2") {
		t.Errorf("response leaks credential material: %s", rec.Body.String())
	}
	var user domain.User
	decodeBody(t, rec, &user)
	if user.ID != created.ID || user.Email != "ada@example.com" {
		t.Errorf("login returned %+v", user)
	}
}

func TestLoginStatusSplit(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "bob@example.com", "")

	rec := env.do(t, http.MethodPost, "/api/login", map[string]string{
		"email": "nobody@example.com", "password": "whatever",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown email: status %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/login", map[string]string{
		"email": "bob@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status %d, want 401", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dup@example.com", "")

	rec := env.do(t, http.MethodPost, "/api/register", map[string]string{
		"email": "dup@example.com", "name": "Again", "password": "pass-123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate email: status %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/register", map[string]string{
		"email": "new@example.com", "password": "pass-123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/register", map[string]string{
		"email": "new@example.com", "name": "N", "password": "pass-123", "role": "root",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid role: status %d, want 400", rec.Code)
	}
}

func TestUpdatePasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "carol@example.com", "")

	rec := env.do(t, http.MethodPost, "/api/update-password", map[string]string{
		"email": "ghost@example.com", "old_password": "x", "new_password": "y-123456",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: status %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/update-password", map[string]string{
		"email": "carol@example.com", "old_password": "wrong", "new_password": "y-123456",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad old password: status %d, want 401", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/update-password", map[string]string{
		"email": "carol@example.com", "old_password": "s3cret-pass", "new_password": "y-123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/login", map[string]string{
		"email": "carol@example.com", "password": "y-123456",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login with new password: status %d", rec.Code)
	}
}

func TestUserPatchAndDelete(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "dave@example.com", "")

	rec := env.do(t, http.MethodPatch, fmt.Sprintf("/api/users/%d", user.ID), map[string]string{"role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch role: status %d body %s", rec.Code, rec.Body.String())
	}
	var updated domain.User
	decodeBody(t, rec, &updated)
	if updated.Role != domain.RoleAdmin {
		t.Errorf("role = %q, want admin", updated.Role)
	}
	if updated.Email != "dave@example.com" {
		t.Errorf("email changed by role patch: %q", updated.Email)
	}

	if rec := env.do(t, http.MethodPatch, fmt.Sprintf("/api/users/%d", user.ID), map[string]string{"role": "superuser"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid role: status %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/users/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/users/9999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: status %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/users/%d", user.ID), nil); rec.Code != http.StatusOK {
		t.Errorf("delete: status %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", user.ID), nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", rec.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for field, nameAndContent := range files {
		fw, err := mw.CreateFormFile(field, nameAndContent[0])
		if err != nil {
			t.Fatalf("create file part %s: %v", field, err)
		}
		if _, err := fw.Write([]byte(nameAndContent[1])); err != nil {
			t.Fatalf("write file part %s: %v", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) uploadBook(t *testing.T, userID int64, title string) domain.Book {
	t.Helper()
	body, contentType := multipartUpload(t,
		map[string]string{
			"title":  title,
			"author": "Author",
			"userId": fmt.Sprintf("%d", userID),
		},
		map[string][2]string{
			"bookFile": {title + ".pdf", "%PDF-1.4 content"},
		})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload-book", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload book: status %d body %s", rec.Code, rec.Body.String())
	}
	var book domain.Book
	decodeBody(t, rec, &book)
	return book
}

func TestUploadBookLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin")

	book := env.uploadBook(t, admin.ID, "First")
	if !strings.HasPrefix(book.FileURL, "books/") {
		t.Errorf("file_url = %q", book.FileURL)
	}
	if env.objects.Len() != 1 {
		t.Fatalf("stored %d blobs, want 1", env.objects.Len())
	}

	second := env.uploadBook(t, admin.ID, "Second")

	rec := env.do(t, http.MethodGet, "/api/books", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list books: status %d", rec.Code)
	}
	var listing struct {
		Items []domain.Book `json:"items"`
		Count int           `json:"count"`
	}
	decodeBody(t, rec, &listing)
	if listing.Count != 2 || len(listing.Items) != 2 {
		t.Fatalf("listing count = %d", listing.Count)
	}
	if listing.Items[0].ID != second.ID {
		t.Errorf("listing not newest-first: first item id %d, want %d", listing.Items[0].ID, second.ID)
	}

	if rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/books/%d", book.ID), nil); rec.Code != http.StatusOK {
		t.Fatalf("delete book: status %d", rec.Code)
	}
	if env.objects.Len() != 1 {
		t.Errorf("%d blobs remain, want 1 (second book only)", env.objects.Len())
	}
	if rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/books/%d", book.ID), nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted book: status %d, want 404", rec.Code)
	}
}

func TestUploadBookMissingFileLeavesNothingBehind(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin")

	body, contentType := multipartUpload(t,
		map[string]string{
			"title": "No File", "author": "A", "userId": fmt.Sprintf("%d", admin.ID),
		}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload-book", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.objects.Len() != 0 {
		t.Errorf("%d blobs stored for a failed upload, want 0", env.objects.Len())
	}
	if books, _ := env.store.ListBooks(); len(books) != 0 {
		t.Errorf("%d book records created for a failed upload, want 0", len(books))
	}
}

func TestUploadBookNonAdminForbidden(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "reader@example.com", "")

	body, contentType := multipartUpload(t,
		map[string]string{
			"title": "Nope", "author": "A", "userId": fmt.Sprintf("%d", user.ID),
		},
		map[string][2]string{"bookFile": {"n.pdf", "x"}})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload-book", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if env.objects.Len() != 0 {
		t.Errorf("%d blobs stored for a forbidden upload, want 0", env.objects.Len())
	}
}

func TestNoteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin")
	book := env.uploadBook(t, admin.ID, "Annotated")

	rec := env.do(t, http.MethodPost, "/api/notes", map[string]any{
		"title": "ch1", "content": "first thoughts", "book_id": book.ID, "user_id": admin.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create note: status %d body %s", rec.Code, rec.Body.String())
	}
	var note domain.Note
	decodeBody(t, rec, &note)

	rec = env.do(t, http.MethodPost, "/api/notes", map[string]any{
		"title": "x", "content": "y", "book_id": int64(9999), "user_id": admin.ID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("dangling book ref: status %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/notes/%d", note.ID), map[string]string{"content": "revised"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update note: status %d", rec.Code)
	}
	var updated domain.Note
	decodeBody(t, rec, &updated)
	if updated.Content != "revised" || updated.Title != "ch1" {
		t.Errorf("partial update wrong: %+v", updated)
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/notes?book_id=%d", book.ID), nil)
	var listing struct {
		Items []domain.Note `json:"items"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Items) != 1 {
		t.Errorf("book-scoped listing has %d notes, want 1", len(listing.Items))
	}

	if rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/notes/%d", note.ID), nil); rec.Code != http.StatusOK {
		t.Errorf("delete note: status %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/notes/%d", note.ID), nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted note: status %d, want 404", rec.Code)
	}
}

func TestNoteFileUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t,
		map[string]string{"title": "Margins", "author": "ada"},
		map[string][2]string{"noteFile": {"margins.txt", "scribbles"}})
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload note file: status %d body %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	decodeBody(t, rec, &uploaded)
	if !strings.HasPrefix(uploaded.URL, "/api/files/notes/") {
		t.Errorf("url = %q", uploaded.URL)
	}

	rec = env.do(t, http.MethodGet, uploaded.URL, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: status %d", rec.Code)
	}
	if rec.Body.String() != "scribbles" {
		t.Errorf("downloaded body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/octet-stream" && got != "text/plain" {
		t.Logf("content-type = %q", got)
	}

	if rec := env.do(t, http.MethodGet, "/api/files/notes/absent.txt", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing file: status %d, want 404", rec.Code)
	}
}

func TestFileListingsAreScoped(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin")
	env.uploadBook(t, admin.ID, "Shelf")

	body, contentType := multipartUpload(t,
		map[string]string{"title": "N", "author": "a"},
		map[string][2]string{"noteFile": {"n.txt", "n"}})
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload note file: status %d", rec.Code)
	}

	var listing struct {
		Items []fileInfoResponse `json:"items"`
		Count int                `json:"count"`
	}
	rec = env.do(t, http.MethodGet, "/api/books/files/list", nil)
	decodeBody(t, rec, &listing)
	if listing.Count != 1 || !strings.HasPrefix(listing.Items[0].Key, "books/") {
		t.Errorf("book listing = %+v", listing)
	}
	if !strings.HasPrefix(listing.Items[0].URL, "/api/files/books/") {
		t.Errorf("book file url = %q", listing.Items[0].URL)
	}

	rec = env.do(t, http.MethodGet, "/api/notes/files/list", nil)
	listing.Items = nil
	decodeBody(t, rec, &listing)
	if listing.Count != 1 || !strings.HasPrefix(listing.Items[0].Key, "notes/") {
		t.Errorf("note listing = %+v", listing)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin")
	book := env.uploadBook(t, admin.ID, "Counted")
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/notes", map[string]any{
			"title": "n", "content": "c", "book_id": book.ID, "user_id": admin.ID,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create note: status %d", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics: status %d", rec.Code)
	}
	var stats domain.Statistics
	decodeBody(t, rec, &stats)
	if stats.TotalUsers != 1 || stats.TotalBooks != 1 || stats.TotalNotes != 2 {
		t.Errorf("totals = %d/%d/%d", stats.TotalUsers, stats.TotalBooks, stats.TotalNotes)
	}
	if len(stats.PopularBooks) != 1 || stats.PopularBooks[0].Views != 2 {
		t.Errorf("popular_books = %+v", stats.PopularBooks)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	env := newTestEnvWithLimits(t, 2)
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/register", map[string]string{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"name":     "U",
			"password": "pass-12345",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("register %d: status %d", i, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/register", map[string]string{
		"email": "user3@example.com", "name": "U", "password": "pass-12345",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}
