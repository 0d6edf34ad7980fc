package cli

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shared-planner/internal/bot"
	"shared-planner/internal/config"
	"shared-planner/internal/service"
)

const jobTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the notification sweeps",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, api)
	if err != nil {
		return err
	}
	defer a.Close()

	telegramBot := bot.New(api, a.users, a.tokens, a.tasks, a.templates, a.reminders, a.inbox, a.digest, a.loc)

	scheduler := service.NewSchedulerService(a.loc)
	if _, err := scheduler.ScheduleInterval(cfg.NotificationInterval, job("notification sweep", func(ctx context.Context) error {
		_, err := a.scanner.SweepNotifications(ctx)
		return err
	})); err != nil {
		return err
	}
	if _, err := scheduler.ScheduleCron(cfg.ReminderSchedule, job("reminder sweep", func(ctx context.Context) error {
		_, err := a.scanner.SweepReminders(ctx)
		return err
	})); err != nil {
		return err
	}
	if cfg.DigestTime != "" {
		if _, err := scheduler.ScheduleDaily(cfg.DigestTime, job("daily digest", a.digest.SendAll)); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Printf("[info] shared planner started, %d jobs scheduled", scheduler.Entries())
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("Shutdown complete.")
	return nil
}

// job adapts a context-aware task to a cron func; errors are only logged.
func job(name string, run func(ctx context.Context) error) func() {
	return func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := run(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("%s: %v", name, err)
		}
	}
}
