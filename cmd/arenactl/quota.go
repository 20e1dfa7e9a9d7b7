package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"codearena/internal/common/errors"
	"codearena/internal/ratelimit"
	"codearena/internal/storage"
	_ "codearena/internal/storage/postgres"
	_ "codearena/internal/storage/sqlite"
)

func newQuotaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset users' chat quota",
	}

	// withGuard opens storage for the duration of one command.
	withGuard := func(cmd *cobra.Command, fn func(*ratelimit.Guard) error) error {
		store, err := storage.NewStorage(cmd.Context(), c.cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		guard, err := ratelimit.NewGuard(store.Quotas(), ratelimit.Limit{
			MaxRequests: c.cfg.ChatMaxRequests,
			Period:      c.cfg.ChatPeriod,
		}, c.logger)
		if err != nil {
			return err
		}
		return fn(guard)
	}

	check := &cobra.Command{
		Use:   "check <user-id>",
		Short: "Show how many chat requests a user has left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withGuard(cmd, func(guard *ratelimit.Guard) error {
				decision, remaining, err := guard.Peek(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), quotaReport(userID, decision, remaining, guard.Limit(), time.Now()))
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Restore a user's full chat quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withGuard(cmd, func(guard *ratelimit.Guard) error {
				if err := guard.Reset(cmd.Context(), userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Quota reset for user %d\n", userID)
				return nil
			})
		},
	}

	cmd.AddCommand(check, reset)
	return cmd
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ValidationError(fmt.Sprintf("invalid user id %q", arg))
	}
	return id, nil
}

func quotaReport(userID int64, decision ratelimit.Decision, remaining int, limit ratelimit.Limit, now time.Time) string {
	report := fmt.Sprintf("User %d: %d of %d requests left per %s", userID, remaining, limit.MaxRequests, limit.Period)
	if !decision.Allowed {
		report += fmt.Sprintf(", next request %s", ratelimit.HumanizeRetry(decision.RetryAfter, now))
	}
	return report
}
