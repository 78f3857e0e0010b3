package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plexus/internal/store"
)

var runsFlags struct {
	dbPath string
	losses int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs and their progress",
	RunE:  runRuns,
}

func init() {
	f := runsCmd.Flags()
	f.StringVar(&runsFlags.dbPath, "db", store.DefaultDBPath, "SQLite run database path")
	f.IntVar(&runsFlags.losses, "losses", 0, "Also print the last N loss points per run")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(runsFlags.dbPath); err != nil {
		return fmt.Errorf("no run database at %s", runsFlags.dbPath)
	}
	st, err := store.Open(runsFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no stored runs")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s  steps=%d syncs=%d  created=%s  id=%s\n", r.Name, r.Steps, r.Syncs, r.CreatedAt, r.ID)
		if runsFlags.losses <= 0 {
			continue
		}
		points, err := st.LossHistory(r.ID, runsFlags.losses)
		if err != nil {
			return err
		}
		for _, p := range points {
			fmt.Fprintf(out, "    step %-6d loss %g\n", p.Step, p.Loss)
		}
	}
	return nil
}
