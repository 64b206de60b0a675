package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookshare/pkg/domain"
)

const migrateLockID int64 = 82718271

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &NoteModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user and returns the stored record with assigned ID.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users, newest first.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpdateUser applies the non-nil patch fields and returns the updated record.
func (s *GormStore) UpdateUser(id int64, patch UserPatch) (domain.User, bool, error) {
	updates := map[string]any{}
	if patch.Email != nil {
		updates["email"] = *patch.Email
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.PasswordHash != nil {
		updates["password_hash"] = *patch.PasswordHash
	}
	if patch.Role != nil {
		updates["role"] = string(*patch.Role)
	}
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		tx := s.db.Model(&UserModel{}).Where("id = ?", id).Updates(updates)
		if tx.Error != nil {
			if isDuplicateKey(tx.Error) {
				return domain.User{}, false, ErrDuplicateEmail
			}
			return domain.User{}, false, tx.Error
		}
		if tx.RowsAffected == 0 {
			return domain.User{}, false, nil
		}
	}
	return s.GetUserByID(id)
}

// DeleteUser removes a user row; false means no row matched.
func (s *GormStore) DeleteUser(id int64) (bool, error) {
	tx := s.db.Delete(&UserModel{}, "id = ?", id)
	return tx.RowsAffected > 0, tx.Error
}

// CreateBook inserts a book and returns the stored record.
func (s *GormStore) CreateBook(b domain.Book) (domain.Book, error) {
	model := bookToModel(b)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

// GetBookByID retrieves a book.
func (s *GormStore) GetBookByID(id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books, newest first.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook applies the non-nil patch fields.
func (s *GormStore) UpdateBook(id int64, patch BookPatch) (domain.Book, bool, error) {
	updates := map[string]any{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Author != nil {
		updates["author"] = *patch.Author
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.CoverURL != nil {
		updates["cover_url"] = *patch.CoverURL
	}
	if patch.FileURL != nil {
		updates["file_url"] = *patch.FileURL
	}
	if len(updates) > 0 {
		tx := s.db.Model(&BookModel{}).Where("id = ?", id).Updates(updates)
		if tx.Error != nil {
			return domain.Book{}, false, tx.Error
		}
		if tx.RowsAffected == 0 {
			return domain.Book{}, false, nil
		}
	}
	return s.GetBookByID(id)
}

// DeleteBook removes a book row. Notes referencing it are kept.
func (s *GormStore) DeleteBook(id int64) (bool, error) {
	tx := s.db.Delete(&BookModel{}, "id = ?", id)
	return tx.RowsAffected > 0, tx.Error
}

// CreateNote inserts a note and returns the stored record.
func (s *GormStore) CreateNote(n domain.Note) (domain.Note, error) {
	model := noteToModel(n)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Note{}, err
	}
	return noteFromModel(model), nil
}

// GetNoteByID retrieves a note.
func (s *GormStore) GetNoteByID(id int64) (domain.Note, bool, error) {
	var model NoteModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Note{}, false, nil
		}
		return domain.Note{}, false, err
	}
	return noteFromModel(model), true, nil
}

// ListNotes returns all notes, newest first.
func (s *GormStore) ListNotes() ([]domain.Note, error) {
	return s.listNotes()
}

// ListNotesByBook returns notes for one book, newest first.
func (s *GormStore) ListNotesByBook(bookID int64) ([]domain.Note, error) {
	return s.listNotes("book_id = ?", bookID)
}

// ListNotesByUser returns notes authored by one user, newest first.
func (s *GormStore) ListNotesByUser(userID int64) ([]domain.Note, error) {
	return s.listNotes("user_id = ?", userID)
}

func (s *GormStore) listNotes(conds ...any) ([]domain.Note, error) {
	var models []NoteModel
	tx := s.db.Order("created_at DESC, id DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Note, 0, len(models))
	for _, m := range models {
		res = append(res, noteFromModel(m))
	}
	return res, nil
}

// UpdateNote applies the non-nil patch fields and refreshes updated_at.
func (s *GormStore) UpdateNote(id int64, patch NotePatch) (domain.Note, bool, error) {
	updates := map[string]any{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.BookID != nil {
		updates["book_id"] = *patch.BookID
	}
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		tx := s.db.Model(&NoteModel{}).Where("id = ?", id).Updates(updates)
		if tx.Error != nil {
			return domain.Note{}, false, tx.Error
		}
		if tx.RowsAffected == 0 {
			return domain.Note{}, false, nil
		}
	}
	return s.GetNoteByID(id)
}

// DeleteNote removes a note row; false means no row matched.
func (s *GormStore) DeleteNote(id int64) (bool, error) {
	tx := s.db.Delete(&NoteModel{}, "id = ?", id)
	return tx.RowsAffected > 0, tx.Error
}

// CountUsers returns the total number of users.
func (s *GormStore) CountUsers() (int64, error) {
	return s.count(&UserModel{})
}

// CountBooks returns the total number of books.
func (s *GormStore) CountBooks() (int64, error) {
	return s.count(&BookModel{})
}

// CountNotes returns the total number of notes.
func (s *GormStore) CountNotes() (int64, error) {
	return s.count(&NoteModel{})
}

func (s *GormStore) count(model any) (int64, error) {
	var count int64
	if err := s.db.Model(model).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountBooksSince counts books created at or after the cutoff.
func (s *GormStore) CountBooksSince(cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&BookModel{}).Where("created_at >= ?", cutoff).Count(&count).Error
	return count, err
}

// CountNotesSince counts notes created at or after the cutoff.
func (s *GormStore) CountNotesSince(cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&NoteModel{}).Where("created_at >= ?", cutoff).Count(&count).Error
	return count, err
}

// CountNoteAuthorsSince counts distinct users that wrote a note since cutoff.
func (s *GormStore) CountNoteAuthorsSince(cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&NoteModel{}).
		Where("created_at >= ?", cutoff).
		Distinct("user_id").
		Count(&count).Error
	return count, err
}

// TopBooksByNotes returns books ranked by attached note volume.
func (s *GormStore) TopBooksByNotes(limit int) ([]BookNoteCount, error) {
	if limit <= 0 {
		return []BookNoteCount{}, nil
	}
	type row struct {
		ID        int64
		Title     string
		Author    string
		NoteCount int64
	}
	var rows []row
	err := s.db.Table("books").
		Select("books.id, books.title, books.author, count(notes.id) AS note_count").
		Joins("LEFT JOIN notes ON notes.book_id = books.id").
		Group("books.id").
		Order("note_count DESC, books.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]BookNoteCount, 0, len(rows))
	for _, r := range rows {
		res = append(res, BookNoteCount{ID: r.ID, Title: r.Title, Author: r.Author, NoteCount: r.NoteCount})
	}
	return res, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx surfaces unique violations as SQLSTATE 23505.
	return err != nil && strings.Contains(err.Error(), "23505")
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		Role:         role,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		CoverURL:    b.CoverURL,
		FileURL:     b.FileURL,
		UploadedBy:  b.UploadedBy,
		CreatedAt:   b.CreatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Description: m.Description,
		CoverURL:    m.CoverURL,
		FileURL:     m.FileURL,
		UploadedBy:  m.UploadedBy,
		CreatedAt:   m.CreatedAt,
	}
}

func noteToModel(n domain.Note) NoteModel {
	return NoteModel{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		BookID:    n.BookID,
		UserID:    n.UserID,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func noteFromModel(m NoteModel) domain.Note {
	return domain.Note{
		ID:        m.ID,
		Title:     m.Title,
		Content:   m.Content,
		BookID:    m.BookID,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
