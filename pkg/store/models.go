package store

import "time"

// GORM models used for persistence. Table names match the schema the
// presentation layer was written against.

type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Name         string    `gorm:"not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;default:user"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type BookModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Title       string    `gorm:"not null"`
	Author      string    `gorm:"not null"`
	Description string    `gorm:"type:text"`
	CoverURL    string
	FileURL     string    `gorm:"not null"`
	UploadedBy  int64     `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (BookModel) TableName() string { return "books" }

type NoteModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Title     string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	BookID    int64     `gorm:"index"`
	UserID    int64     `gorm:"index"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (NoteModel) TableName() string { return "notes" }
