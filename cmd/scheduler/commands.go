package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/example/panel-scheduler/internal/application"
	"github.com/example/panel-scheduler/internal/config"
	"github.com/example/panel-scheduler/internal/identity"
	"github.com/example/panel-scheduler/internal/recurrence"
)

func runAdd(ctx context.Context, cfg config.Config, args []string, logger *slog.Logger) error {
	flags := flag.NewFlagSet("add", flag.ContinueOnError)
	expr := flags.String("expr", "", "schedule expression, e.g. \"arm system every weekday at 9 PM in away mode\"")
	owner := flags.String("owner", "", "owning user id")
	description := flags.String("description", "", "free-text description")
	timezone := flags.String("timezone", "", "IANA timezone for the firing time")
	disabled := flags.Bool("disabled", false, "create the schedule disabled")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *expr == "" || *owner == "" {
		return fmt.Errorf("add requires -expr and -owner")
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	enabled := !*disabled
	created, err := newScheduleService(store, logger).CreateSchedule(ctx, application.CreateScheduleParams{
		Principal: application.Principal{UserID: *owner},
		Input: application.ScheduleInput{
			Expression:  *expr,
			Timezone:    *timezone,
			Description: *description,
			Enabled:     &enabled,
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("created %s (%s, %s)\n", created.ID, created.Rule.Expression(), created.Status)
	if created.NextExecution != nil {
		fmt.Printf("next execution: %s\n", created.NextExecution.Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}

func runList(ctx context.Context, cfg config.Config, args []string, logger *slog.Logger) error {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	owner := flags.String("owner", "", "restrict to one owner")
	status := flags.String("status", "", "restrict to one status (PENDING, ACTIVE, COMPLETED, CANCELLED)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	params := application.ListSchedulesParams{
		// The CLI talks to the store directly and lists across owners.
		Principal: application.Principal{UserID: "cli", IsAdmin: true},
	}
	if *status != "" {
		params.Statuses = []application.Status{application.Status(strings.ToUpper(*status))}
	}

	schedules, err := newScheduleService(store, logger).ListSchedules(ctx, params)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tEXPRESSION\tACTION\tSTATUS\tNEXT")
	for _, schedule := range schedules {
		if *owner != "" && schedule.OwnerID != *owner {
			continue
		}
		next := "-"
		if schedule.NextExecution != nil {
			next = schedule.NextExecution.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			schedule.ID, schedule.OwnerID, schedule.Rule.Expression(),
			schedule.Action.Type, schedule.Status, next)
	}
	return w.Flush()
}

func runTest(args []string) error {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	expr := flags.String("expr", "", "schedule expression to dry-run")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *expr == "" {
		return fmt.Errorf("test requires -expr")
	}

	svc := application.NewScheduleService(nil, nil, nil, nil)
	preview, err := svc.TestExpression(*expr)
	if err != nil {
		var pErr *recurrence.ParseError
		if errors.As(err, &pErr) {
			return fmt.Errorf("cannot parse %q: %s", *expr, pErr.Reason)
		}
		return err
	}

	fmt.Printf("canonical: %s\n", preview.Canonical)
	if !preview.Action.IsZero() {
		fmt.Printf("action: %s", preview.Action.Type)
		if preview.Action.Mode != "" {
			fmt.Printf(" (%s)", preview.Action.Mode)
		}
		if preview.Action.ZoneID != "" {
			fmt.Printf(" zone %s", preview.Action.ZoneID)
		}
		fmt.Println()
	}
	for _, at := range preview.Next {
		fmt.Printf("  %s\n", at.Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}

// runHashPassword reads a password from stdin and prints the argon2id hash
// for PANEL_ADMIN_PASSWORD_HASH.
func runHashPassword(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("hash-password takes no arguments; the password is read from stdin")
	}

	fmt.Fprint(os.Stderr, "password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}

	hash, err := identity.HashPassword(password, identity.DefaultHashParams)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
