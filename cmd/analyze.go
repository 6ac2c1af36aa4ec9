package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manyshot/internal/history"
	"manyshot/internal/pipeline"
)

var analyzeLast bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [dir]",
	Short: "Analyze a record store with the built-in metrics functions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeLast, "last", false, "Analyze the most recent recorded run")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	dir, err := resolveStoreDir(args)
	if err != nil {
		return err
	}

	summary, err := pipeline.Process(pipeline.Options{
		Dir:         dir,
		Analyze:     pipeline.AnalyzeMetrics,
		Summarize:   pipeline.SummarizeMetrics,
		Diagnostics: os.Stderr,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func resolveStoreDir(args []string) (string, error) {
	if len(args) == 1 && args[0] != "" {
		if analyzeLast {
			return "", errors.New("pass either a directory or --last, not both")
		}
		return args[0], nil
	}
	if !analyzeLast {
		return "", errors.New("pass a store directory or --last")
	}

	if err := history.InitHistory(); err != nil {
		return "", err
	}
	run, found, err := history.LastRun()
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.New("no recorded runs; pass a store directory")
	}
	dir := history.StringField(run.Fields, "dir")
	if dir == "" {
		return "", fmt.Errorf("run %q has no recorded directory", run.Name)
	}
	return dir, nil
}
