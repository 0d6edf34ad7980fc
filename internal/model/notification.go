package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification is one scheduled push for one recipient of a task.
type Notification struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"index;size:36"`
	TaskID        string `gorm:"index;size:36"`
	Message       string
	Type          NotificationType `gorm:"size:16"`
	Read          bool
	ScheduledTime time.Time          `gorm:"index"`
	RemindBefore  int                // minutes
	Status        NotificationStatus `gorm:"index;size:16"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

func (n *Notification) BeforeSave(tx *gorm.DB) error {
	n.ScheduledTime = n.ScheduledTime.UTC()
	return nil
}
