// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package control

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonrunner/internal/commands/shared"
	"github.com/tombee/daemonrunner/internal/config"
	"github.com/tombee/daemonrunner/internal/lifecycle"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var (
		limit int
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent start, stop and restart events",
		Long: `Show the lifecycle log: one entry per controller action with its
outcome, the daemon pid and the pid of the process that reported it.`,
		Example: `  # Last 20 events
  daemonrunner history

  # Events from the last hour as JSON
  daemonrunner history --since 1h --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, limit, since)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events to show (0 for all)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show events newer than this (e.g., 1h, 30m)")

	return cmd
}

func runHistory(cmd *cobra.Command, limit int, since time.Duration) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return err
	}
	if !cfg.LifecycleLogEnabled() {
		return &shared.ExitError{Code: shared.ExitConfig, Message: "lifecycle log is disabled (lifecycle_log: \"-\")"}
	}

	events, err := lifecycle.NewEventLog(cfg.LifecycleLog, nil).History(0)
	if err != nil {
		return err
	}
	events = filterEvents(events, since, limit, time.Now())

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if events == nil {
			events = []lifecycle.Event{}
		}
		return shared.EmitJSON(out, events)
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "No lifecycle events recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tPID\tREPORTER\tDURATION\tERROR")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime),
			ev.Action,
			ev.Outcome,
			formatPID(ev.PID),
			ev.ReporterPID,
			(time.Duration(ev.DurationMS) * time.Millisecond).String(),
			ev.Error,
		)
	}
	return w.Flush()
}

// filterEvents keeps events newer than since, then the last limit of them.
func filterEvents(events []lifecycle.Event, since time.Duration, limit int, now time.Time) []lifecycle.Event {
	if since > 0 {
		cutoff := now.Add(-since)
		kept := events[:0]
		for _, ev := range events {
			if ev.Timestamp.After(cutoff) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

func formatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}
