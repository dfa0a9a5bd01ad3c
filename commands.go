package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sneakerdrop-notifier/pkg/notifier"
	"sneakerdrop-notifier/reminder"
	"sneakerdrop-notifier/server"
)

const displayLayout = "Mon Jan 02, 2006 03:04 PM MST"

func (c *cli) open(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), c.cfg, c.logger)
}

func newRemindCommand(c *cli) *cobra.Command {
	var loop bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send every reminder that is due now",
		Long: "Run one reminder pass: load drops and subscriptions, send each due stage once, " +
			"and save delivery state. With --loop, repeat until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner()
			if err != nil {
				return err
			}

			if loop {
				if interval <= 0 {
					interval = c.cfg.LoopIntervalDuration()
				}
				return r.Loop(cmd.Context(), interval)
			}

			res, err := r.RunOnce(cmd.Context())
			printResult(cmd, res)
			return err
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "Repeat passes until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between passes in loop mode (default loop_interval)")
	return cmd
}

func printResult(cmd *cobra.Command, res reminder.Result) {
	out := cmd.OutOrStdout()
	if res.Skipped != "" {
		fmt.Fprintf(out, "Pass %s skipped: %s\n", res.PassID, res.Skipped)
		return
	}
	fmt.Fprintf(out, "Pass %s: %d drops, %d subscriptions, %d reminders sent, saved=%t\n",
		res.PassID, res.Drops, res.Subscriptions, res.Sent, res.Saved)
}

func newScrapeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Fetch upcoming releases and merge them into stored drops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var added, updated, total, scraped int
			err = a.withLock(cmd.Context(), func() error {
				res, err := a.refresher().Refresh(cmd.Context())
				added, updated, total, scraped = res.Added, res.Updated, res.Total, res.Scraped
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scraped %d drops: %d new, %d updated, %d stored\n", scraped, added, updated, total)
			return nil
		},
	}
}

func newDropsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "drops",
		Short: "List stored drops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			drops, err := a.store.LoadDrops(cmd.Context())
			if err != nil {
				return err
			}
			if len(drops) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No drops stored. Run 'dropbot scrape' first.")
				return nil
			}

			loc := c.cfg.Location()
			rows := make([][]string, 0, len(drops))
			for _, d := range drops {
				when := "invalid: " + d.DropTime
				if at, err := d.Time(); err == nil {
					when = at.In(loc).Format(displayLayout)
				}
				rows = append(rows, []string{d.DropID, d.Name, d.Brand, when})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Brand", "Release"}, rows))
			return nil
		},
	}
}

func newSubscriptionsCommand(c *cli) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List subscriptions and which reminders went out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			subs, err := a.store.LoadSubscriptions(cmd.Context())
			if err != nil {
				return err
			}

			var rows [][]string
			for _, s := range subs {
				if s.Preserved() || (user != "" && s.User != user) {
					continue
				}
				row := []string{s.DropID, s.User}
				for _, stage := range notifier.ActiveStages {
					row = append(row, mark(s.RemindersSent.Sent(stage)))
				}
				rows = append(rows, row)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions.")
				return nil
			}

			headers := []string{"Drop", "User"}
			for _, stage := range notifier.ActiveStages {
				headers = append(headers, stage.Label())
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Only show this user's subscriptions")
	return cmd
}

func mark(sent bool) string {
	if sent {
		return "sent"
	}
	return "pending"
}

// resolveUser prefers the flag, then default_user from config. There is no implicit identity.
func (c *cli) resolveUser(flag string) (string, error) {
	user := strings.TrimSpace(flag)
	if user == "" {
		user = strings.TrimSpace(c.cfg.DefaultUser)
	}
	if user == "" {
		return "", errors.New("--user is required (or set DROPBOT_USER)")
	}
	return user, nil
}

func newSubscribeCommand(c *cli) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "subscribe <drop_id>",
		Short: "Subscribe a user to reminders for a drop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := c.resolveUser(user)
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			err = a.withLock(ctx, func() error {
				drops, err := a.store.LoadDrops(ctx)
				if err != nil {
					return err
				}
				subs, err := a.store.LoadSubscriptions(ctx)
				if err != nil {
					return err
				}
				updated, err := notifier.Subscribe(subs, drops, args[0], who)
				if err != nil {
					return err
				}
				return a.store.SaveSubscriptions(ctx, updated)
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribed %s to %s\n", who, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User to notify")
	return cmd
}

func newUnsubscribeCommand(c *cli) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "unsubscribe <drop_id>",
		Short: "Remove a user's subscription to a drop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := c.resolveUser(user)
			if err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			removed := false
			err = a.withLock(ctx, func() error {
				subs, err := a.store.LoadSubscriptions(ctx)
				if err != nil {
					return err
				}
				var updated []notifier.Subscription
				updated, removed = notifier.Unsubscribe(subs, args[0], who)
				if !removed {
					return nil
				}
				return a.store.SaveSubscriptions(ctx, updated)
			})
			if err != nil {
				return fmt.Errorf("unsubscribe: %w", err)
			}
			if !removed {
				return fmt.Errorf("unsubscribe: %s is not subscribed to %s", who, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unsubscribed %s from %s\n", who, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User to remove")
	return cmd
}

func newTestNotifyCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a sample reminder to the configured target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sender, err := a.sender()
			if err != nil {
				return err
			}
			if sender == nil {
				return errNotConfigured
			}
			if err := sender.SendTest(cmd.Context()); err != nil {
				return fmt.Errorf("send test reminder: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test reminder sent")
			return nil
		},
	}
}

func newInspectCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <drop_id>",
		Short: "Show timing details for a drop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			drops, err := a.store.LoadDrops(cmd.Context())
			if err != nil {
				return err
			}
			i := slices.IndexFunc(drops, func(d notifier.Drop) bool { return d.DropID == args[0] })
			if i < 0 {
				return fmt.Errorf("inspect: %w: %s", notifier.ErrUnknownDrop, args[0])
			}
			d := drops[i]

			at, err := d.Time()
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			loc := c.cfg.Location()
			now := reminder.SystemClock(loc)()
			due := reminder.DueStages(now, at)
			dueText := "none"
			if len(due) > 0 {
				labels := make([]string, 0, len(due))
				for _, s := range due {
					labels = append(labels, s.Label())
				}
				dueText = strings.Join(labels, ", ")
			}
			state := "upcoming"
			if !at.After(now) {
				state = "past"
			}

			rows := [][]string{
				{"Drop", d.DropID},
				{"Name", d.Name},
				{"Stored", d.DropTime},
				{"Release (" + loc.String() + ")", at.In(loc).Format(displayLayout)},
				{"Now", now.Format(displayLayout)},
				{"Minutes left", strconv.Itoa(reminder.MinutesLeft(now, at))},
				{"Due stages", dueText},
				{"State", state},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}
}

func newServeCommand(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, including POST /pollz for external schedulers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sender, err := a.sender()
			if err != nil {
				return err
			}
			var ledger server.Ledger
			if sender != nil {
				ledger = sender
			}

			if addr == "" {
				addr = c.cfg.ListenAddr
				// Cloud Run injects PORT.
				if port := os.Getenv("PORT"); port != "" {
					addr = ":" + port
				}
			}

			srv := server.New(&server.Config{
				Store:     a.store,
				Runner:    a.runnerWith(sender),
				Refresher: a.refresher(),
				Ledger:    ledger,
				Logger:    c.logger,
				Location:  c.cfg.Location(),
			})
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default listen_addr, or :$PORT)")
	return cmd
}
