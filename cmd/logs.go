package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"manyshot/internal/history"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs [name]",
	Short: "Show the log of a recorded sampling run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Follow log output")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	if err := history.InitHistory(); err != nil {
		return err
	}

	var run history.Run
	if len(args) == 1 {
		found := false
		var err error
		run, found, err = history.GetRun(args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("run not found: %s", args[0])
		}
	} else {
		found := false
		var err error
		run, found, err = history.LastRun()
		if err != nil {
			return err
		}
		if !found {
			return errors.New("no recorded runs")
		}
	}

	logFile := history.StringField(run.Fields, "log_file")
	if logFile == "" {
		dir := history.StringField(run.Fields, "dir")
		if dir != "" {
			logFile = filepath.Join(dir, "manyshot.log")
		}
	}
	if logFile == "" {
		return errors.New("cannot determine log file path")
	}

	if _, err := os.Stat(logFile); err != nil {
		return fmt.Errorf("log file does not exist: %s", logFile)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(os.Stdout, file); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	if !logsFollow {
		return nil
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
		if _, err := io.Copy(os.Stdout, file); err != nil {
			return fmt.Errorf("read log file: %w", err)
		}
	}
}
