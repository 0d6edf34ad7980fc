package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Group shares tasks and reminders between its members.
type Group struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string
	Description string
	CreatedBy   string   `gorm:"index;size:36"`
	Members     []string `gorm:"serializer:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
