package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task is a single dated item, either created directly or materialized
// from a RecurringTask.
type Task struct {
	ID              string `gorm:"primaryKey;size:36"`
	UserID          string `gorm:"index;size:36"`
	Title           string
	Description     string
	DueDate         time.Time  `gorm:"index"`
	Priority        Priority   `gorm:"size:16"`
	Status          TaskStatus `gorm:"index;size:16"`
	Tags            []string   `gorm:"serializer:json"`
	Dependencies    []string   `gorm:"serializer:json"`
	IsShared        bool
	GroupID         *string `gorm:"index;size:36"`
	RecurringTaskID *string `gorm:"index;size:36"`
	InstanceNumber  int
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *Task) BeforeSave(tx *gorm.DB) error {
	t.DueDate = t.DueDate.UTC()
	if t.CompletedAt != nil {
		utc := t.CompletedAt.UTC()
		t.CompletedAt = &utc
	}
	return nil
}

// EffectiveStatus reports overdue for open tasks whose due date has passed.
func (t Task) EffectiveStatus(now time.Time) TaskStatus {
	switch t.Status {
	case TaskStatusCompleted:
		return TaskStatusCompleted
	case TaskStatusPending, TaskStatusInProgress, TaskStatusOverdue:
		if t.DueDate.Before(now) {
			return TaskStatusOverdue
		}
	}
	return t.Status
}

// SharedWith returns the group id when the task is visible to a group.
func (t Task) SharedWith() (string, bool) {
	if !t.IsShared || t.GroupID == nil || *t.GroupID == "" {
		return "", false
	}
	return *t.GroupID, true
}

// HasDependency reports whether id is already listed in Dependencies.
func (t Task) HasDependency(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
