package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"manyshot/internal/backend"
	_ "manyshot/internal/backend/anthropic"
	_ "manyshot/internal/backend/google"
	_ "manyshot/internal/backend/ollama"
	_ "manyshot/internal/backend/openai"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available model backends",
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	names := backend.Names()
	if len(names) == 0 {
		fmt.Println("No backends registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tREADY\tMODELS")
	fmt.Fprintln(writer, "----\t-----\t------")

	for _, name := range names {
		ready := "no"
		models := ""
		instance, ok := backend.Get(name)
		if ok {
			if err := instance.CheckReady(); err == nil {
				ready = "yes"
			}
			models = strings.Join(instance.GetModels(), ", ")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", name, ready, models)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Println("")
	fmt.Println("Usage: manyshot generate --backend <name> --prompt <text>")
	return nil
}
