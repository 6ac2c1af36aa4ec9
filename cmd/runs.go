package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"manyshot/internal/config"
	"manyshot/internal/history"
)

var runsPruneKeep int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage recorded sampling runs",
	RunE:  runRunsList,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sampling runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop all but the newest recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsPrune,
}

func init() {
	runsPruneCmd.Flags().IntVar(&runsPruneKeep, "keep", 0, "Number of runs to keep (default from config history.retain_runs, else 20)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	if err := history.InitHistory(); err != nil {
		return err
	}

	runs, err := history.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tMODEL\tRESPONSES\tSTARTED")
	fmt.Fprintln(writer, "----\t-----\t---------\t-------")

	for _, run := range runs {
		model := history.StringField(run.Fields, "model")
		started := history.StringField(run.Fields, "started_at")
		success, _ := history.IntField(run.Fields, "success_count")
		requested, _ := history.IntField(run.Fields, "responses_requested")
		fmt.Fprintf(writer, "%s\t%s\t%d/%d\t%s\n", run.Name, model, success, requested, started)
	}

	return writer.Flush()
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	if err := history.InitHistory(); err != nil {
		return err
	}

	name := strings.TrimSpace(args[0])
	if err := history.DeleteRun(name); err != nil {
		return err
	}
	fmt.Printf("Deleted run: %s\n", name)
	return nil
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}
	if err := history.InitHistory(); err != nil {
		return err
	}

	keep := runsPruneKeep
	if keep <= 0 {
		if value, ok := config.GetConfig("history.retain_runs"); ok {
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				keep = parsed
			}
		}
	}
	if keep <= 0 {
		keep = 20
	}

	removed, err := history.Prune(keep)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to prune")
		return nil
	}
	fmt.Printf("Pruned %d runs: %s\n", len(removed), strings.Join(removed, ", "))
	return nil
}
