package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReminderRule fires at Time ("HH:MM") on the days selected by Frequency.
// DayOfWeek is 0-6 (Sunday first), DayOfMonth 1-31, MonthOfYear 1-12.
type ReminderRule struct {
	Frequency   Frequency `gorm:"size:16"`
	Time        string    `gorm:"size:5"`
	DayOfWeek   *int
	DayOfMonth  *int
	MonthOfYear *int
}

// Reminder is evaluated live on every reminder sweep; it is never
// materialized into instances.
type Reminder struct {
	ID             string  `gorm:"primaryKey;size:36"`
	UserID         string  `gorm:"index;size:36"`
	GroupID        *string `gorm:"index;size:36"`
	Title          string
	Rule           ReminderRule  `gorm:"embedded;embeddedPrefix:rule_"`
	End            RecurrenceEnd `gorm:"embedded;embeddedPrefix:end_"`
	ShowOnCalendar bool
	IsShared       bool
	IsActive       bool `gorm:"index"`
	// LastFiredBucket is the minute ("2006-01-02T15:04") of the last firing.
	LastFiredBucket string `gorm:"size:16"`
	FiredCount      int
	LastFiredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *Reminder) BeforeSave(tx *gorm.DB) error {
	if r.End.EndDate != nil {
		utc := r.End.EndDate.UTC()
		r.End.EndDate = &utc
	}
	return nil
}

// SharedWith returns the group id when the reminder is visible to a group.
func (r Reminder) SharedWith() (string, bool) {
	if !r.IsShared || r.GroupID == nil || *r.GroupID == "" {
		return "", false
	}
	return *r.GroupID, true
}
