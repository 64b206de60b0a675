package store

import (
	"errors"
	"time"

	"bookshare/pkg/domain"
)

// ErrDuplicateEmail reports a rejected insert due to the users email
// uniqueness constraint.
var ErrDuplicateEmail = errors.New("email already exists")

// UserPatch carries optional user fields for a partial update.
// Only non-nil fields are applied.
type UserPatch struct {
	Email        *string
	Name         *string
	PasswordHash *string
	Role         *domain.UserRole
}

// BookPatch carries optional book fields for a partial update.
type BookPatch struct {
	Title       *string
	Author      *string
	Description *string
	CoverURL    *string
	FileURL     *string
}

// NotePatch carries optional note fields for a partial update.
type NotePatch struct {
	Title   *string
	Content *string
	BookID  *int64
}

// BookNoteCount pairs a book with how many notes reference it.
type BookNoteCount struct {
	ID        int64
	Title     string
	Author    string
	NoteCount int64
}

// Store defines persistence operations for users, books, and notes.
// Lookups report absence as ok=false rather than an error; deletes report
// whether a row was actually removed.
type Store interface {
	// users
	CreateUser(u domain.User) (domain.User, error)
	GetUserByID(id int64) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UpdateUser(id int64, patch UserPatch) (domain.User, bool, error)
	DeleteUser(id int64) (bool, error)

	// books
	CreateBook(b domain.Book) (domain.Book, error)
	GetBookByID(id int64) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	UpdateBook(id int64, patch BookPatch) (domain.Book, bool, error)
	DeleteBook(id int64) (bool, error)

	// notes
	CreateNote(n domain.Note) (domain.Note, error)
	GetNoteByID(id int64) (domain.Note, bool, error)
	ListNotes() ([]domain.Note, error)
	ListNotesByBook(bookID int64) ([]domain.Note, error)
	ListNotesByUser(userID int64) ([]domain.Note, error)
	UpdateNote(id int64, patch NotePatch) (domain.Note, bool, error)
	DeleteNote(id int64) (bool, error)

	// statistics
	CountUsers() (int64, error)
	CountBooks() (int64, error)
	CountNotes() (int64, error)
	CountBooksSince(cutoff time.Time) (int64, error)
	CountNotesSince(cutoff time.Time) (int64, error)
	CountNoteAuthorsSince(cutoff time.Time) (int64, error)
	TopBooksByNotes(limit int) ([]BookNoteCount, error)
}
