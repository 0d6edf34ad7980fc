package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecurrenceRule describes how a recurring task advances between instances.
// DayOfWeek (0=Sunday) and DayOfMonth are informational: instances are
// chained from the previous due date, not aligned to these values.
type RecurrenceRule struct {
	Frequency  Frequency `gorm:"size:16"`
	DayOfWeek  *int
	DayOfMonth *int
}

// RecurrenceEnd bounds a recurrence. An empty Type means forever.
type RecurrenceEnd struct {
	Type        EndType `gorm:"size:16"`
	EndDate     *time.Time
	Occurrences *int
}

// Exhausted reports whether an occurrence at next, which would be the
// (generated+1)-th occurrence, falls outside the end bound.
func (e RecurrenceEnd) Exhausted(next time.Time, generated int) bool {
	switch e.Type {
	case EndUntil:
		return e.EndDate != nil && next.After(*e.EndDate)
	case EndCount:
		return e.Occurrences != nil && generated >= *e.Occurrences
	case EndForever, "":
		return false
	}
	return false
}

// RecurringTask is the template instances are generated from.
type RecurringTask struct {
	ID             string  `gorm:"primaryKey;size:36"`
	UserID         string  `gorm:"index;size:36"`
	GroupID        *string `gorm:"index;size:36"`
	Title          string
	Description    string
	Priority       Priority `gorm:"size:16"`
	Tags           []string `gorm:"serializer:json"`
	IsShared       bool
	Rule           RecurrenceRule `gorm:"embedded;embeddedPrefix:rule_"`
	End            RecurrenceEnd  `gorm:"embedded;embeddedPrefix:end_"`
	IsActive       bool
	GeneratedCount int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *RecurringTask) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *RecurringTask) BeforeSave(tx *gorm.DB) error {
	if r.End.EndDate != nil {
		utc := r.End.EndDate.UTC()
		r.End.EndDate = &utc
	}
	return nil
}
