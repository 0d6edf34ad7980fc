package cli

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"shared-planner/internal/bot"
	"shared-planner/internal/config"
	"shared-planner/internal/service"
)

var sweepCmd = &cobra.Command{
	Use:       "sweep notifications|reminders",
	Short:     "Run one sweep now and print what it did",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"notifications", "reminders"},
	RunE:      runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var api *tgbotapi.BotAPI
	if cfg.TelegramToken != "" {
		if api, err = bot.NewAPI(cfg.TelegramToken); err != nil {
			return err
		}
	}
	a, err := newApp(cfg, api)
	if err != nil {
		return err
	}
	defer a.Close()

	var report service.SweepReport
	switch args[0] {
	case "notifications":
		report, err = a.scanner.SweepNotifications(cmd.Context())
	case "reminders":
		report, err = a.scanner.SweepReminders(cmd.Context())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s sweep: %s\n", args[0], report)
	return nil
}
