package store

import (
	"sort"
	"sync"
	"time"

	"bookshare/pkg/domain"
)

// MemoryStore keeps records in-process. It mirrors GormStore semantics
// (ID assignment, email uniqueness, newest-first listings) for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]domain.User
	books  map[int64]domain.Book
	notes  map[int64]domain.Note
	email  map[string]int64 // email -> user ID
	nextID int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]domain.User),
		books: make(map[int64]domain.Book),
		notes: make(map[int64]domain.Note),
		email: make(map[string]int64),
	}
}

func (m *MemoryStore) assignID() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser inserts a user, enforcing email uniqueness.
func (m *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return domain.User{}, ErrDuplicateEmail
	}
	u.ID = m.assignID()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users, newest first.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

// UpdateUser applies the non-nil patch fields.
func (m *MemoryStore) UpdateUser(id int64, patch UserPatch) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	changed := false
	if patch.Email != nil && *patch.Email != u.Email {
		if existing, taken := m.email[*patch.Email]; taken && existing != id {
			return domain.User{}, false, ErrDuplicateEmail
		}
		delete(m.email, u.Email)
		u.Email = *patch.Email
		m.email[u.Email] = id
		changed = true
	}
	if patch.Name != nil {
		u.Name = *patch.Name
		changed = true
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
		changed = true
	}
	if patch.Role != nil {
		u.Role = *patch.Role
		changed = true
	}
	if changed {
		u.UpdatedAt = time.Now().UTC()
	}
	m.users[id] = u
	return u, true, nil
}

// DeleteUser removes a user; false means no row matched.
func (m *MemoryStore) DeleteUser(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	delete(m.users, id)
	delete(m.email, u.Email)
	return true, nil
}

// CreateBook inserts a book.
func (m *MemoryStore) CreateBook(b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.assignID()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.books[b.ID] = b
	return b, nil
}

// GetBookByID retrieves a book.
func (m *MemoryStore) GetBookByID(id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns all books, newest first.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

// UpdateBook applies the non-nil patch fields.
func (m *MemoryStore) UpdateBook(id int64, patch BookPatch) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Author != nil {
		b.Author = *patch.Author
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	if patch.CoverURL != nil {
		b.CoverURL = *patch.CoverURL
	}
	if patch.FileURL != nil {
		b.FileURL = *patch.FileURL
	}
	m.books[id] = b
	return b, true, nil
}

// DeleteBook removes a book; its notes are kept.
func (m *MemoryStore) DeleteBook(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return false, nil
	}
	delete(m.books, id)
	return true, nil
}

// CreateNote inserts a note.
func (m *MemoryStore) CreateNote(n domain.Note) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.assignID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	m.notes[n.ID] = n
	return n, nil
}

// GetNoteByID retrieves a note.
func (m *MemoryStore) GetNoteByID(id int64) (domain.Note, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	return n, ok, nil
}

// ListNotes returns all notes, newest first.
func (m *MemoryStore) ListNotes() ([]domain.Note, error) {
	return m.listNotes(func(domain.Note) bool { return true })
}

// ListNotesByBook filters notes by book reference.
func (m *MemoryStore) ListNotesByBook(bookID int64) ([]domain.Note, error) {
	return m.listNotes(func(n domain.Note) bool { return n.BookID == bookID })
}

// ListNotesByUser filters notes by author.
func (m *MemoryStore) ListNotesByUser(userID int64) ([]domain.Note, error) {
	return m.listNotes(func(n domain.Note) bool { return n.UserID == userID })
}

func (m *MemoryStore) listNotes(keep func(domain.Note) bool) ([]domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Note, 0, len(m.notes))
	for _, n := range m.notes {
		if keep(n) {
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

// UpdateNote applies the non-nil patch fields.
func (m *MemoryStore) UpdateNote(id int64, patch NotePatch) (domain.Note, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return domain.Note{}, false, nil
	}
	changed := false
	if patch.Title != nil {
		n.Title = *patch.Title
		changed = true
	}
	if patch.Content != nil {
		n.Content = *patch.Content
		changed = true
	}
	if patch.BookID != nil {
		n.BookID = *patch.BookID
		changed = true
	}
	if changed {
		n.UpdatedAt = time.Now().UTC()
	}
	m.notes[id] = n
	return n, true, nil
}

// DeleteNote removes a note; false means no row matched.
func (m *MemoryStore) DeleteNote(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return false, nil
	}
	delete(m.notes, id)
	return true, nil
}

// CountUsers returns the total number of users.
func (m *MemoryStore) CountUsers() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

// CountBooks returns the total number of books.
func (m *MemoryStore) CountBooks() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.books)), nil
}

// CountNotes returns the total number of notes.
func (m *MemoryStore) CountNotes() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.notes)), nil
}

// CountBooksSince counts books created at or after the cutoff.
func (m *MemoryStore) CountBooksSince(cutoff time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, b := range m.books {
		if !b.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// CountNotesSince counts notes created at or after the cutoff.
func (m *MemoryStore) CountNotesSince(cutoff time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, n := range m.notes {
		if !n.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// CountNoteAuthorsSince counts distinct note authors since the cutoff.
func (m *MemoryStore) CountNoteAuthorsSince(cutoff time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	authors := make(map[int64]struct{})
	for _, n := range m.notes {
		if !n.CreatedAt.Before(cutoff) {
			authors[n.UserID] = struct{}{}
		}
	}
	return int64(len(authors)), nil
}

// TopBooksByNotes returns books ranked by attached note volume.
func (m *MemoryStore) TopBooksByNotes(limit int) ([]BookNoteCount, error) {
	if limit <= 0 {
		return []BookNoteCount{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int64]int64, len(m.books))
	for _, n := range m.notes {
		if _, ok := m.books[n.BookID]; ok {
			counts[n.BookID]++
		}
	}
	res := make([]BookNoteCount, 0, len(m.books))
	for id, b := range m.books {
		res = append(res, BookNoteCount{ID: id, Title: b.Title, Author: b.Author, NoteCount: counts[id]})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].NoteCount != res[j].NoteCount {
			return res[i].NoteCount > res[j].NoteCount
		}
		return res[i].ID > res[j].ID
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
