package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mediatasks/internal/app"
	"mediatasks/internal/task"
)

func buildTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(
		buildTasksListCommand(),
		buildTasksAddCommand(),
		buildTasksRemoveCommand(),
		buildTasksToggleCommand("enable", true),
		buildTasksToggleCommand("disable", false),
	)
	return cmd
}

func buildTasksListCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				ts, err := a.Scheduler().ListTasks(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), ts)
				}
				return writeTaskTable(cmd.OutOrStdout(), ts)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeTaskTable(w io.Writer, ts []task.ScheduledTask) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tITEM\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS")
	for _, t := range ts {
		next := "-"
		if !t.NextRun.IsZero() {
			next = t.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			t.ID, t.Name, t.Type, t.ItemTitle, t.Schedule, t.Enabled, next, t.LastRunStatus)
	}
	return tw.Flush()
}

type addFlags struct {
	id, itemID, itemTitle, name, typ string
	every                            time.Duration
	day, at                          string
	disabled                         bool
}

func (f addFlags) schedule() (task.Schedule, error) {
	switch {
	case f.every > 0 && f.day != "":
		return task.Schedule{}, errors.New("use either --every or --day/--at, not both")
	case f.every > 0:
		return task.Interval(f.every), nil
	case f.day != "":
		day, err := task.ParseWeekday(f.day)
		if err != nil {
			return task.Schedule{}, err
		}
		at := f.at
		if at == "" {
			at = "00:00"
		}
		h, m, err := task.ParseClock(at)
		if err != nil {
			return task.Schedule{}, err
		}
		return task.Weekly(day, h, m), nil
	default:
		return task.Schedule{}, errors.New("a schedule is required: --every <duration> or --day <weekday> [--at HH:MM]")
	}
}

func buildTasksAddCommand() *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, err := f.schedule()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				created, err := a.Scheduler().CreateTask(ctx, task.ScheduledTask{
					ID:        f.id,
					ItemID:    f.itemID,
					ItemTitle: f.itemTitle,
					Name:      f.name,
					Type:      task.Type(f.typ),
					Schedule:  sched,
					Enabled:   !f.disabled,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), created)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.id, "id", "", "task id (generated when empty)")
	fl.StringVar(&f.itemID, "item", "", "item id")
	fl.StringVar(&f.itemTitle, "title", "", "item title, used to relink the task if the item disappears")
	fl.StringVar(&f.name, "name", "", "display name")
	fl.StringVar(&f.typ, "type", string(task.TypeEpisodeUpdate), "task type")
	fl.DurationVar(&f.every, "every", 0, "interval schedule, e.g. 6h")
	fl.StringVar(&f.day, "day", "", "weekly schedule weekday, e.g. sunday")
	fl.StringVar(&f.at, "at", "", "weekly schedule time of day HH:MM")
	fl.BoolVar(&f.disabled, "disabled", false, "create the task disabled")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func buildTasksRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var errs []error
				for _, id := range args {
					if err := a.Scheduler().DeleteTask(ctx, id); err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func buildTasksToggleCommand(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: "Set a task's enabled flag to " + fmt.Sprint(enabled),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				t, err := a.Scheduler().GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				t.Enabled = enabled
				updated, err := a.Scheduler().UpdateTask(ctx, t)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
}
