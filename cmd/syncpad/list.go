package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncpad/syncpad/internal/localstate"
	"github.com/syncpad/syncpad/internal/schema"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally stored tasks",
	Long: `Print the task collection from the local state directory.

This reads the files the sync daemon maintains; it never contacts the
remote service. The --completed and --table flags are remembered as view
preferences and survive sign-out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := localstate.Open(cfg.StateDir, log.New(io.Discard, "", 0))
		if err != nil {
			return fmt.Errorf("failed to open state directory: %w", err)
		}

		showCompleted := viewPref(cmd, store, "completed", localstate.KeyShowCompleted)
		tableView := viewPref(cmd, store, "table", localstate.KeyTableView)

		var tasks []*schema.Task
		store.Load(localstate.KeyTodos, &tasks)

		// Urgent and overdue first.
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Urgency != tasks[j].Urgency {
				return tasks[i].Urgency > tasks[j].Urgency
			}
			di, dj := tasks[i].DueDate, tasks[j].DueDate
			switch {
			case di == nil:
				return false
			case dj == nil:
				return true
			default:
				return di.Before(*dj)
			}
		})

		visible := tasks[:0]
		for _, t := range tasks {
			if t.Completed && !showCompleted {
				continue
			}
			visible = append(visible, t)
		}
		if len(visible) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		if tableView {
			printTable(visible)
		} else {
			printLines(visible)
		}
		return nil
	},
}

// viewPref resolves a boolean view preference: an explicitly passed flag
// wins and is persisted, otherwise the stored preference applies.
func viewPref(cmd *cobra.Command, store *localstate.Store, flag, key string) bool {
	value, _ := cmd.Flags().GetBool(flag)
	if cmd.Flags().Changed(flag) {
		if err := store.Save(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save %s preference: %v\n", flag, err)
		}
		return value
	}
	store.Load(key, &value)
	return value
}

func printLines(tasks []*schema.Task) {
	for _, t := range tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		line := fmt.Sprintf("[%s] %-40s !%.1f", mark, t.Title, t.Urgency)
		if t.DueDate != nil {
			line += "  due " + t.DueDate.Format(time.RFC1123)
		}
		if len(t.Comments) > 0 {
			line += fmt.Sprintf("  (%d comments)", len(t.Comments))
		}
		fmt.Println(line)
	}
}

func printTable(tasks []*schema.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tTITLE\tURGENCY\tDUE\tCOMMENTS")
	for _, t := range tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "[%s]\t%s\t%.1f\t%s\t%d\n", mark, t.Title, t.Urgency, due, len(t.Comments))
	}
	w.Flush()
}

func init() {
	listCmd.Flags().Bool("completed", false, "Include completed tasks")
	listCmd.Flags().Bool("table", false, "Tabular output")
	rootCmd.AddCommand(listCmd)
}
