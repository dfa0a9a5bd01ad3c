// Command dropbot tracks sneaker release dates and sends staged reminders to
// subscribers before each drop.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"sneakerdrop-notifier/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	logOut     io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	c := &cli{logOut: logOut}

	root := &cobra.Command{
		Use:           "dropbot",
		Short:         "Sneaker drop reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if c.logLevel != "" {
				level = c.logLevel
			}
			c.cfg = cfg
			c.logger = newLogger(c.logOut, level)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.toml", "Configuration file path")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newRemindCommand(c),
		newScrapeCommand(c),
		newDropsCommand(c),
		newSubscriptionsCommand(c),
		newSubscribeCommand(c),
		newUnsubscribeCommand(c),
		newTestNotifyCommand(c),
		newInspectCommand(c),
		newServeCommand(c),
	)
	return root
}

// newLogger writes text to terminals and JSON everywhere else.
func newLogger(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
