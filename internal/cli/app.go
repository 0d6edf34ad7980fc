package cli

import (
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"shared-planner/internal/bot"
	"shared-planner/internal/config"
	"shared-planner/internal/repository"
	"shared-planner/internal/service"
)

// app holds the wired services shared by serve and sweep.
type app struct {
	db  *gorm.DB
	cfg config.Config
	loc *time.Location

	users  *repository.UserRepository
	tokens *repository.DeviceTokenRepository

	tasks     *service.TaskService
	templates *service.RecurringTaskService
	reminders *service.ReminderService
	inbox     *service.NotificationService
	digest    *service.DigestService
	scanner   *service.DueScanner
}

// newApp opens the database and wires every service. A nil api leaves the
// app without a notifier; sweeps then report ErrNotConfigured.
func newApp(cfg config.Config, api *tgbotapi.BotAPI) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewDeviceTokenRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	templateRepo := repository.NewRecurringTaskRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	var notifier service.Notifier
	if api != nil {
		notifier = bot.NewTelegramNotifier(api, tokenRepo)
	}

	access := service.GroupAccess(groupRepo)
	notificationSvc := service.NewNotificationService(notificationRepo, taskRepo, groupRepo, time.Now)
	window := service.NewOccurrenceWindow(taskRepo, templateRepo, notificationSvc, cfg.WindowSize, cfg.RemindBeforeMinutes, loc)
	taskSvc := service.NewTaskService(taskRepo, templateRepo, groupRepo, notificationSvc, window, access, cfg.RemindBeforeMinutes, time.Now)
	templateSvc := service.NewRecurringTaskService(templateRepo, taskRepo, notificationSvc, window, access)
	reminderSvc := service.NewReminderService(reminderRepo, groupRepo, access, time.Now)
	digestSvc := service.NewDigestService(taskSvc, reminderSvc, groupRepo, userRepo, notifier, loc, time.Now)
	scanner := service.NewDueScanner(notificationRepo, taskRepo, reminderRepo, reminderSvc, notificationSvc, notifier, cfg.ClaimLease, loc, time.Now)

	return &app{
		db:        db,
		cfg:       cfg,
		loc:       loc,
		users:     userRepo,
		tokens:    tokenRepo,
		tasks:     taskSvc,
		templates: templateSvc,
		reminders: reminderSvc,
		inbox:     notificationSvc,
		digest:    digestSvc,
		scanner:   scanner,
	}, nil
}

func (a *app) Close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("close db: %v", err)
	}
}
