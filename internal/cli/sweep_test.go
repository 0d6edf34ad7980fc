package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"shared-planner/internal/service"
)

func TestSweepWithoutTokenIsNotConfigured(t *testing.T) {
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "planner.db"))
	t.Setenv("TELEGRAM_TOKEN", "")
	configPath = ""

	for _, target := range []string{"notifications", "reminders"} {
		cmd := &cobra.Command{}
		cmd.SetContext(context.Background())
		if err := runSweep(cmd, []string{target}); !errors.Is(err, service.ErrNotConfigured) {
			t.Errorf("sweep %s: expected ErrNotConfigured, got %v", target, err)
		}
	}
}

func TestSweepArgs(t *testing.T) {
	if err := sweepCmd.Args(sweepCmd, []string{"tasks"}); err == nil {
		t.Errorf("unknown sweep target accepted")
	}
	if err := sweepCmd.Args(sweepCmd, nil); err == nil {
		t.Errorf("missing sweep target accepted")
	}
	if err := sweepCmd.Args(sweepCmd, []string{"reminders"}); err != nil {
		t.Errorf("valid sweep target rejected: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	rootCmd.Version = "1.2.3"
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	if out.String() != "1.2.3\n" {
		t.Errorf("version output = %q", out.String())
	}
}
