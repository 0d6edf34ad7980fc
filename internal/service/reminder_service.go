package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"shared-planner/internal/model"
	"shared-planner/internal/repository"
)

// ReminderInput represents data required to create or replace a reminder.
type ReminderInput struct {
	Title          string
	Rule           model.ReminderRule
	End            model.RecurrenceEnd
	ShowOnCalendar bool
	IsShared       bool
	GroupID        *string
}

// ReminderService manages standalone reminders and decides which of them
// fire at a given minute.
type ReminderService struct {
	reminders *repository.ReminderRepository
	groups    *repository.GroupRepository
	access    AccessFunc
	now       func() time.Time
}

func NewReminderService(reminders *repository.ReminderRepository, groups *repository.GroupRepository, access AccessFunc, now func() time.Time) *ReminderService {
	if now == nil {
		now = time.Now
	}
	return &ReminderService{reminders: reminders, groups: groups, access: access, now: now}
}

// ReminderDue reports whether rule fires at the minute of now. The time of
// day must match exactly and the calendar part is checked by FiresOn. Day
// of month is compared literally, so a rule for the 31st is silent in
// shorter months.
func ReminderDue(rule model.ReminderRule, now time.Time) bool {
	if rule.Time != clockString(now) {
		return false
	}
	return FiresOn(rule, now)
}

// FiresOn reports whether rule selects the calendar day of day, ignoring
// the time of day.
func FiresOn(rule model.ReminderRule, day time.Time) bool {
	switch rule.Frequency {
	case model.FrequencyDaily:
		return true
	case model.FrequencyWeekly:
		return rule.DayOfWeek != nil && *rule.DayOfWeek == int(day.Weekday())
	case model.FrequencyMonthly:
		return rule.DayOfMonth != nil && *rule.DayOfMonth == day.Day()
	case model.FrequencyYearly:
		return rule.MonthOfYear != nil && rule.DayOfMonth != nil &&
			*rule.MonthOfYear == int(day.Month()) && *rule.DayOfMonth == day.Day()
	}
	return false
}

// Ended reports whether the reminder's recurrence end has been reached.
func Ended(r model.Reminder, now time.Time) bool {
	switch r.End.Type {
	case model.EndUntil:
		return r.End.EndDate != nil && now.After(*r.End.EndDate)
	case model.EndCount:
		return r.End.Occurrences != nil && r.FiredCount >= *r.End.Occurrences
	}
	return false
}

// ValidateReminderRule checks the time and the day selectors a frequency
// needs.
func ValidateReminderRule(rule model.ReminderRule) error {
	if _, _, err := parseClock(rule.Time); err != nil {
		return validationf("%v", err)
	}
	switch rule.Frequency {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		if rule.DayOfWeek == nil || *rule.DayOfWeek < 0 || *rule.DayOfWeek > 6 {
			return validationf("weekly reminder needs a day of week 0-6")
		}
	case model.FrequencyMonthly:
		if rule.DayOfMonth == nil || *rule.DayOfMonth < 1 || *rule.DayOfMonth > 31 {
			return validationf("monthly reminder needs a day of month 1-31")
		}
	case model.FrequencyYearly:
		if rule.MonthOfYear == nil || *rule.MonthOfYear < 1 || *rule.MonthOfYear > 12 {
			return validationf("yearly reminder needs a month 1-12")
		}
		if rule.DayOfMonth == nil || *rule.DayOfMonth < 1 || *rule.DayOfMonth > 31 {
			return validationf("yearly reminder needs a day of month 1-31")
		}
	default:
		return validationf("unknown frequency %q", rule.Frequency)
	}
	return nil
}

func (s *ReminderService) CreateReminder(ctx context.Context, auth AuthContext, input ReminderInput) (*model.Reminder, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, auth, input); err != nil {
		return nil, err
	}

	reminder := model.Reminder{
		UserID:         auth.UserID,
		GroupID:        input.GroupID,
		Title:          strings.TrimSpace(input.Title),
		Rule:           input.Rule,
		End:            input.End,
		ShowOnCalendar: input.ShowOnCalendar,
		IsShared:       input.IsShared,
		IsActive:       true,
	}
	if err := s.reminders.Create(ctx, &reminder); err != nil {
		return nil, err
	}

	log.Printf("[info] reminder created id=%s user=%s at=%s", reminder.ID, reminder.UserID, reminder.Rule.Time)
	return &reminder, nil
}

// UpdateReminder replaces the editable fields of a reminder. Firing history
// is kept.
func (s *ReminderService) UpdateReminder(ctx context.Context, auth AuthContext, id string, input ReminderInput) (*model.Reminder, error) {
	reminder, err := s.load(ctx, auth, id, "edit reminder")
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, auth, input); err != nil {
		return nil, err
	}

	reminder.Title = strings.TrimSpace(input.Title)
	reminder.Rule = input.Rule
	reminder.End = input.End
	reminder.ShowOnCalendar = input.ShowOnCalendar
	reminder.IsShared = input.IsShared
	reminder.GroupID = input.GroupID
	if err := s.reminders.Save(ctx, reminder); err != nil {
		return nil, err
	}
	return reminder, nil
}

func (s *ReminderService) DeleteReminder(ctx context.Context, auth AuthContext, id string) error {
	if _, err := s.load(ctx, auth, id, "delete reminder"); err != nil {
		return err
	}
	return s.reminders.Delete(ctx, id)
}

// SetActive pauses or resumes a reminder.
func (s *ReminderService) SetActive(ctx context.Context, auth AuthContext, id string, active bool) (*model.Reminder, error) {
	reminder, err := s.load(ctx, auth, id, "edit reminder")
	if err != nil {
		return nil, err
	}
	if reminder.IsActive == active {
		return reminder, nil
	}
	reminder.IsActive = active
	if err := s.reminders.Save(ctx, reminder); err != nil {
		return nil, err
	}
	return reminder, nil
}

// ListAllAccessible returns the acting user's private reminders plus those
// shared with their groups, ordered by time of day.
func (s *ReminderService) ListAllAccessible(ctx context.Context, auth AuthContext) ([]model.Reminder, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	own, err := s.reminders.ListByUser(ctx, auth.UserID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	groups, err := s.groups.ListForMember(ctx, auth.UserID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	shared, err := s.reminders.ListByGroups(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("list shared reminders: %w", err)
	}

	seen := make(map[string]bool)
	var all []model.Reminder
	for _, r := range own {
		if _, ok := r.SharedWith(); ok {
			continue
		}
		seen[r.ID] = true
		all = append(all, r)
	}
	for _, r := range shared {
		if !r.IsShared || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		all = append(all, r)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Rule.Time < all[j].Rule.Time
	})
	return all, nil
}

// DueReminders returns active, unfinished reminders that fire at now's
// minute. now must already be in the location reminders are written in.
func (s *ReminderService) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	active, err := s.reminders.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active reminders: %w", err)
	}
	var due []model.Reminder
	for _, r := range active {
		if Ended(r, now) {
			continue
		}
		if ReminderDue(r.Rule, now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *ReminderService) validate(ctx context.Context, auth AuthContext, input ReminderInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return validationf("title is required")
	}
	if err := ValidateReminderRule(input.Rule); err != nil {
		return err
	}
	if err := ValidateRecurrenceEnd(input.End); err != nil {
		return err
	}
	return requireMembership(ctx, s.groups, auth.UserID, input.IsShared, input.GroupID)
}

func (s *ReminderService) load(ctx context.Context, auth AuthContext, id, action string) (*model.Reminder, error) {
	if err := auth.require(); err != nil {
		return nil, err
	}
	reminder, err := s.reminders.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "reminder", id)
	}
	res := Resource{OwnerID: reminder.UserID, IsShared: reminder.IsShared, GroupID: reminder.GroupID}
	if err := authorize(ctx, s.access, auth, res, action); err != nil {
		return nil, err
	}
	return reminder, nil
}
