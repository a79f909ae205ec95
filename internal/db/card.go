package db

import "time"

type Card struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Pack      string    `gorm:"size:64;index;not null"`
	Color     string    `gorm:"size:8;index;not null"`
	Pick      int       `gorm:"not null;default:0"`
	Text      string    `gorm:"size:280;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
