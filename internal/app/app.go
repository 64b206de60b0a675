package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"bookshare/internal/util"
	"bookshare/pkg/auth"
	"bookshare/pkg/domain"
	"bookshare/pkg/storage"
	"bookshare/pkg/store"
)

// Blob key prefixes. Book files and covers live under separate prefixes so
// listings can be scoped per kind.
const (
	bookPrefix  = "books"
	coverPrefix = "covers"
	notePrefix  = "notes"
)

// App wires the record store and the object store behind the use cases the
// HTTP layer exposes. All methods return domain values plus sentinel errors
// from errors.go; handlers translate those into status codes.
type App struct {
	store   store.Store
	objects storage.ObjectStore
}

func New(st store.Store, objects storage.ObjectStore) *App {
	return &App{store: st, objects: objects}
}

// Register creates an account with a freshly hashed password. The role
// defaults to user when empty.
func (a *App) Register(ctx context.Context, email, name, password string, role domain.UserRole) (domain.User, error) {
	email = normalizeEmail(email)
	if role == "" {
		role = domain.RoleUser
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
	}
	created, err := a.store.CreateUser(user)
	if errors.Is(err, store.ErrDuplicateEmail) {
		return domain.User{}, ErrEmailAlreadyExists
	}
	if err != nil {
		return domain.User{}, err
	}
	return created, nil
}

// Login verifies an email/password pair. An unknown email and a wrong
// password fail differently so the caller can distinguish the two.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, error) {
	user, ok, err := a.store.GetUserByEmail(normalizeEmail(email))
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUnknownEmail
	}
	match, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return domain.User{}, err
	}
	if !match {
		return domain.User{}, ErrInvalidPassword
	}
	return user, nil
}

// UpdatePassword verifies the current password before storing a new hash.
func (a *App) UpdatePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	user, err := a.Login(ctx, email, oldPassword)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	patch := store.UserPatch{PasswordHash: &hash}
	if _, ok, err := a.store.UpdateUser(user.ID, patch); err != nil {
		return err
	} else if !ok {
		return ErrUserNotFound
	}
	return nil
}

func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	return a.store.ListUsers()
}

func (a *App) GetUser(ctx context.Context, id int64) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateUser applies a partial update. Fields left nil in the patch are
// untouched.
func (a *App) UpdateUser(ctx context.Context, id int64, patch store.UserPatch) (domain.User, error) {
	if patch.Email != nil {
		normalized := normalizeEmail(*patch.Email)
		patch.Email = &normalized
	}
	user, ok, err := a.store.UpdateUser(id, patch)
	if errors.Is(err, store.ErrDuplicateEmail) {
		return domain.User{}, ErrEmailAlreadyExists
	}
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

func (a *App) DeleteUser(ctx context.Context, id int64) error {
	ok, err := a.store.DeleteUser(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return a.store.ListBooks()
}

func (a *App) GetBook(ctx context.Context, id int64) (domain.Book, error) {
	book, ok, err := a.store.GetBookByID(id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

func (a *App) UpdateBook(ctx context.Context, id int64, patch store.BookPatch) (domain.Book, error) {
	book, ok, err := a.store.UpdateBook(id, patch)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// DeleteBook removes the record and then its blobs. The record delete is
// authoritative; blob cleanup failures are logged and swallowed so a storage
// hiccup cannot resurrect a deleted book. Notes referencing the book are
// kept.
func (a *App) DeleteBook(ctx context.Context, id int64) error {
	book, ok, err := a.store.GetBookByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	deleted, err := a.store.DeleteBook(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrBookNotFound
	}
	for _, key := range []string{book.FileURL, book.CoverURL} {
		if !isObjectKey(key) {
			continue
		}
		if err := a.objects.Delete(ctx, key); err != nil {
			util.LoggerFromContext(ctx).Warn("orphaned blob after book delete",
				slog.Int64("book_id", id), slog.String("key", key), slog.Any("error", err))
		}
	}
	return nil
}

// FileUpload describes one multipart file part.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// UploadBookInput carries the fields of an admin book upload. Cover is
// optional.
type UploadBookInput struct {
	Title       string
	Author      string
	Description string
	UploaderID  int64
	Book        FileUpload
	Cover       *FileUpload
}

// UploadBook stores the blobs first and the record second. If the record
// insert fails the blobs are deleted again so no orphan survives a failed
// upload. Only admins may upload.
func (a *App) UploadBook(ctx context.Context, in UploadBookInput) (domain.Book, error) {
	uploader, ok, err := a.store.GetUserByID(in.UploaderID)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrUserNotFound
	}
	if uploader.Role != domain.RoleAdmin {
		return domain.Book{}, ErrNotAdmin
	}

	meta := map[string]string{
		"title":    in.Title,
		"author":   in.Author,
		"filename": in.Book.Name,
	}
	bookKey := buildObjectKey(bookPrefix, in.Book.Name)
	if _, err := a.objects.Put(ctx, bookKey, in.Book.Reader, in.Book.Size, in.Book.ContentType, meta); err != nil {
		return domain.Book{}, fmt.Errorf("store book file: %w", err)
	}
	var coverKey string
	if in.Cover != nil {
		coverKey = buildObjectKey(coverPrefix, in.Cover.Name)
		if _, err := a.objects.Put(ctx, coverKey, in.Cover.Reader, in.Cover.Size, in.Cover.ContentType, nil); err != nil {
			a.discardBlob(ctx, bookKey)
			return domain.Book{}, fmt.Errorf("store cover file: %w", err)
		}
	}

	book := domain.Book{
		Title:       in.Title,
		Author:      in.Author,
		Description: in.Description,
		CoverURL:    coverKey,
		FileURL:     bookKey,
		UploadedBy:  uploader.ID,
	}
	created, err := a.store.CreateBook(book)
	if err != nil {
		a.discardBlob(ctx, bookKey)
		if coverKey != "" {
			a.discardBlob(ctx, coverKey)
		}
		return domain.Book{}, fmt.Errorf("create book record: %w", err)
	}
	return created, nil
}

// UploadNoteFile stores a standalone note attachment and returns its key.
func (a *App) UploadNoteFile(ctx context.Context, title, author string, file FileUpload) (string, error) {
	key := buildObjectKey(notePrefix, file.Name)
	meta := map[string]string{
		"title":    title,
		"author":   author,
		"filename": file.Name,
	}
	if _, err := a.objects.Put(ctx, key, file.Reader, file.Size, file.ContentType, meta); err != nil {
		return "", fmt.Errorf("store note file: %w", err)
	}
	return key, nil
}

// ListBookFiles returns the stored book blobs, newest keys last within the
// listing cap.
func (a *App) ListBookFiles(ctx context.Context) ([]storage.ObjectInfo, error) {
	return a.objects.List(ctx, bookPrefix+"/", storage.DefaultListLimit)
}

func (a *App) ListNoteFiles(ctx context.Context) ([]storage.ObjectInfo, error) {
	return a.objects.List(ctx, notePrefix+"/", storage.DefaultListLimit)
}

// GetFile streams a stored blob by key. The caller owns the returned body.
func (a *App) GetFile(ctx context.Context, key string) (*storage.Object, error) {
	obj, err := a.objects.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrFileNotFound
	}
	return obj, err
}

func (a *App) ListNotes(ctx context.Context) ([]domain.Note, error) {
	return a.store.ListNotes()
}

func (a *App) ListNotesByBook(ctx context.Context, bookID int64) ([]domain.Note, error) {
	return a.store.ListNotesByBook(bookID)
}

func (a *App) ListNotesByUser(ctx context.Context, userID int64) ([]domain.Note, error) {
	return a.store.ListNotesByUser(userID)
}

func (a *App) GetNote(ctx context.Context, id int64) (domain.Note, error) {
	note, ok, err := a.store.GetNoteByID(id)
	if err != nil {
		return domain.Note{}, err
	}
	if !ok {
		return domain.Note{}, ErrNoteNotFound
	}
	return note, nil
}

// CreateNote checks both references before inserting. Referential integrity
// lives here rather than in the schema, so deleting a book later leaves its
// notes behind.
func (a *App) CreateNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	if _, ok, err := a.store.GetBookByID(note.BookID); err != nil {
		return domain.Note{}, err
	} else if !ok {
		return domain.Note{}, ErrBookNotFound
	}
	if _, ok, err := a.store.GetUserByID(note.UserID); err != nil {
		return domain.Note{}, err
	} else if !ok {
		return domain.Note{}, ErrUserNotFound
	}
	return a.store.CreateNote(note)
}

func (a *App) UpdateNote(ctx context.Context, id int64, patch store.NotePatch) (domain.Note, error) {
	if patch.BookID != nil {
		if _, ok, err := a.store.GetBookByID(*patch.BookID); err != nil {
			return domain.Note{}, err
		} else if !ok {
			return domain.Note{}, ErrBookNotFound
		}
	}
	note, ok, err := a.store.UpdateNote(id, patch)
	if err != nil {
		return domain.Note{}, err
	}
	if !ok {
		return domain.Note{}, ErrNoteNotFound
	}
	return note, nil
}

func (a *App) DeleteNote(ctx context.Context, id int64) error {
	ok, err := a.store.DeleteNote(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoteNotFound
	}
	return nil
}

func (a *App) discardBlob(ctx context.Context, key string) {
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("orphaned blob after failed upload",
			slog.String("key", key), slog.Any("error", err))
	}
}

// buildObjectKey derives a collision-resistant key from the upload time and
// a sanitized filename.
func buildObjectKey(prefix, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%d-%s", prefix, time.Now().UnixMilli(), name)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

// isObjectKey reports whether a stored URL points into the object store
// rather than at an external location.
func isObjectKey(key string) bool {
	return key != "" && !strings.Contains(key, "://")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
