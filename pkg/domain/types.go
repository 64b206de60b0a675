package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// ValidRole reports whether the given value is one of the enumerated roles.
func ValidRole(role string) bool {
	switch UserRole(role) {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// User is an account record. PasswordHash is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Book is an uploaded book record. FileURL is required; CoverURL optional.
type Book struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description,omitempty"`
	CoverURL    string    `json:"cover_url,omitempty"`
	FileURL     string    `json:"file_url"`
	UploadedBy  int64     `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Note is a reading note attached to a book.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	BookID    int64     `json:"book_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Statistics aggregates dashboard counters for the admin UI.
type Statistics struct {
	TotalUsers   int64         `json:"total_users"`
	TotalBooks   int64         `json:"total_books"`
	TotalNotes   int64         `json:"total_notes"`
	ActiveUsers  int64         `json:"active_users"`
	RecentBooks  int64         `json:"recent_books"`
	RecentNotes  int64         `json:"recent_notes"`
	PopularBooks []PopularBook `json:"popular_books"`
}

// PopularBook ranks a book by reader engagement (note volume).
type PopularBook struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Views  int64  `json:"views"`
	Rating int    `json:"rating"`
}
