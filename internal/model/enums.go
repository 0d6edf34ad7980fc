package model

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// TaskStatus is the stored lifecycle state of a task. Overdue is normally
// derived from the due date, see Task.EffectiveStatus.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusOverdue    TaskStatus = "overdue"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusOverdue:
		return true
	}
	return false
}

// Frequency is how often a recurring task or reminder repeats.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// EndType controls when a recurrence stops producing occurrences.
type EndType string

const (
	EndForever EndType = "forever"
	EndUntil   EndType = "until"
	EndCount   EndType = "count"
)

func (e EndType) Valid() bool {
	switch e {
	case "", EndForever, EndUntil, EndCount:
		return true
	}
	return false
}

// NotificationType classifies a notification row.
type NotificationType string

const (
	NotificationReminder   NotificationType = "reminder"
	NotificationDeadline   NotificationType = "deadline"
	NotificationDependency NotificationType = "dependency"
)

// NotificationStatus tracks delivery of a notification. Pending marks a row
// claimed by a running sweep.
type NotificationStatus string

const (
	NotificationUpcoming NotificationStatus = "upcoming"
	NotificationSent     NotificationStatus = "sent"
	NotificationMissed   NotificationStatus = "missed"
	NotificationPending  NotificationStatus = "pending"
)
