package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"manyshot/internal/config"
	"manyshot/internal/generate"
)

var (
	generateBackend     string
	generateModel       string
	generatePrompt      string
	generateCount       int
	generateTimeout     float64
	generateOutput      string
	generateQuiet       bool
	generateDelay       float64
	generateTemperature float64
	generateWebhook     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate responses and save them to a record store",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateBackend, "backend", "b", "", "Model backend (ollama, openai, anthropic, google)")
	generateCmd.Flags().StringVarP(&generateModel, "model", "m", "", "Model name (backend-specific)")
	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "Prompt to send to the model")
	generateCmd.Flags().IntVar(&generateCount, "n", 0, "Number of responses to generate")
	generateCmd.Flags().Float64Var(&generateTimeout, "timeout", 0, "Request timeout in seconds")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Output directory (default: auto-generated under the data dir)")
	generateCmd.Flags().BoolVar(&generateQuiet, "quiet", false, "Suppress progress messages")
	generateCmd.Flags().Float64Var(&generateDelay, "delay", 0, "Delay between requests in seconds")
	generateCmd.Flags().Float64VarP(&generateTemperature, "temperature", "t", 0, "Sampling temperature")
	generateCmd.Flags().StringVar(&generateWebhook, "webhook", "", "Notification webhook URL")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	prompt := generatePrompt
	if strings.TrimSpace(prompt) == "" {
		if value, ok := config.GetConfig("defaults.prompt"); ok {
			prompt = value
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt is required (--prompt)")
	}

	flags := cmd.Flags()
	delay := time.Duration(generateDelay * float64(time.Second))
	if flags.Changed("delay") && generateDelay == 0 {
		delay = -1
	}
	temperature := generateTemperature
	if flags.Changed("temperature") && generateTemperature == 0 {
		temperature = -1
	}

	opts := generate.Options{
		BackendName:  generateBackend,
		Model:        generateModel,
		Prompt:       prompt,
		NumResponses: generateCount,
		OutputDir:    generateOutput,
		Timeout:      time.Duration(generateTimeout * float64(time.Second)),
		Delay:        delay,
		Temperature:  temperature,
		Webhook:      generateWebhook,
		Quiet:        generateQuiet,
	}

	stats, err := generate.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if stats.SuccessCount < stats.ResponsesRequested {
		fmt.Fprintf(os.Stderr, "Warning: only %d of %d responses were generated\n", stats.SuccessCount, stats.ResponsesRequested)
	}
	return nil
}

func loadConfigForCwd() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	_, err = config.LoadConfig(cwd)
	return err
}
