package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"manyshot/internal/backend"
	"manyshot/internal/config"
	"manyshot/internal/history"
	"manyshot/internal/notify"
	"manyshot/internal/store"
)

const (
	defaultNumResponses = 25
	defaultTemperature  = 0.7
	defaultTimeout      = 1000 * time.Second
	defaultDelay        = 100 * time.Millisecond
	defaultDataDir      = "data"
)

// Options configures one sampling run. A negative Delay or Temperature
// requests an explicit zero instead of the configured default.
type Options struct {
	BackendName  string
	Backend      backend.Backend
	Model        string
	Prompt       string
	NumResponses int
	OutputDir    string
	Timeout      time.Duration
	Delay        time.Duration
	Temperature  float64
	Webhook      string
	Quiet        bool
}

// Stats summarizes a completed sampling run.
type Stats struct {
	OutputDir          string
	SuccessCount       int
	ThinkingCount      int
	ResponsesRequested int
	TimeTaken          time.Duration
	StartResponseNum   int
	EndResponseNum     int
	Temperature        float64
}

var thinkPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// ExtractThinking pulls all <think>...</think> spans out of raw model
// output. It returns the joined thinking content and the cleaned
// response with the spans removed, both trimmed.
func ExtractThinking(raw string) (thinking, response string) {
	matches := thinkPattern.FindAllStringSubmatch(raw, -1)
	parts := make([]string, 0, len(matches))
	for _, match := range matches {
		parts = append(parts, match[1])
	}
	thinking = strings.TrimSpace(strings.Join(parts, "\n\n"))
	response = strings.TrimSpace(thinkPattern.ReplaceAllString(raw, ""))
	return thinking, response
}

// Run samples the backend NumResponses times and writes each completion
// into the record store as a four-file record. Failures of individual
// requests are logged and skipped; the run keeps going.
func Run(ctx context.Context, opts Options) (Stats, error) {
	stats := Stats{}
	if strings.TrimSpace(opts.Prompt) == "" {
		return stats, errors.New("prompt is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	applyConfigDefaults(&opts)

	backendInstance, err := resolveBackend(opts)
	if err != nil {
		return stats, err
	}
	if err := backendInstance.CheckReady(); err != nil {
		return stats, err
	}
	if strings.TrimSpace(opts.Model) == "" {
		return stats, errors.New("model is required")
	}

	outputDir := strings.TrimSpace(opts.OutputDir)
	if outputDir == "" {
		dataDir := defaultDataDir
		if value, ok := config.GetConfig("defaults.data_dir"); ok && strings.TrimSpace(value) != "" {
			dataDir = strings.TrimSpace(value)
		}
		outputDir = store.DirName(dataDir, opts.Model, opts.Prompt, opts.Temperature, time.Now())
	}

	existed, err := store.EnsureDir(outputDir)
	if err != nil {
		return stats, err
	}

	logFile := filepath.Join(outputDir, "manyshot.log")
	logWriter, err := openLogWriter(logFile)
	if err != nil {
		return stats, err
	}
	if logWriter != nil {
		defer logWriter.Close()
	}
	logger := newLogger(logWriter, opts.Quiet)

	if existed {
		logger.Line("Using existing directory: " + outputDir)
	} else {
		logger.Line("Created directory: " + outputDir)
	}

	startNum := store.NextResponseNum(outputDir)
	stats.OutputDir = outputDir
	stats.ResponsesRequested = opts.NumResponses
	stats.Temperature = opts.Temperature
	stats.StartResponseNum = startNum

	logger.Line(fmt.Sprintf("Generating %d responses using model '%s' with temperature %g", opts.NumResponses, opts.Model, opts.Temperature))
	logger.Line("Output will be saved to: " + outputDir)
	logger.Line(fmt.Sprintf("Starting with response number %d", startNum))
	logger.Line("Started at: " + time.Now().Format(time.RFC3339))

	start := time.Now()

	for i := 0; i < opts.NumResponses; i++ {
		responseNum := startNum + i
		logger.Line(fmt.Sprintf("Generating response %d/%d (file #%d)...", i+1, opts.NumResponses, responseNum))

		generationStart := time.Now()
		raw, err := backendInstance.Generate(ctx, backend.GenerateOptions{
			Model:       opts.Model,
			Prompt:      opts.Prompt,
			Temperature: opts.Temperature,
			Timeout:     opts.Timeout,
		})
		generationTime := time.Since(generationStart)
		if err != nil {
			logger.Line(fmt.Sprintf("Failed to generate response %d/%d (#%d): %v", i+1, opts.NumResponses, responseNum, err))
			continue
		}

		thinking, response := ExtractThinking(raw)
		record := store.Record{
			ResponseNum: responseNum,
			Response:    response,
			Thinking:    thinking,
			Raw:         raw,
			Metadata:    buildMetadata(opts, raw, response, thinking, generationTime),
		}
		if err := store.Write(outputDir, record); err != nil {
			logger.Line(fmt.Sprintf("Error saving response #%d: %v", responseNum, err))
			continue
		}

		thinkingInfo := ""
		if len(thinking) > 0 {
			stats.ThinkingCount++
			thinkingInfo = fmt.Sprintf(", thinking: %d words", len(strings.Fields(thinking)))
		}
		logger.Line(fmt.Sprintf("Saved response %d/%d (#%d: %d words%s, %.2fs)",
			i+1, opts.NumResponses, responseNum, len(strings.Fields(response)), thinkingInfo, generationTime.Seconds()))
		stats.SuccessCount++

		if opts.Delay > 0 && i < opts.NumResponses-1 {
			time.Sleep(opts.Delay)
		}
	}

	stats.TimeTaken = time.Since(start)
	stats.EndResponseNum = startNum + stats.SuccessCount - 1

	logger.Line("")
	logger.Line(fmt.Sprintf("Generation complete: %d/%d responses", stats.SuccessCount, stats.ResponsesRequested))
	logger.Line(fmt.Sprintf("Responses with thinking content: %d/%d", stats.ThinkingCount, stats.SuccessCount))
	logger.Line(fmt.Sprintf("Time taken: %.2f seconds", stats.TimeTaken.Seconds()))
	logger.Line("All responses saved to directory: " + outputDir)
	logger.Line(fmt.Sprintf("Response numbers: %d to %d", stats.StartResponseNum, stats.EndResponseNum))

	recordRun(opts, stats, logFile, start)
	sendWebhook(ctx, opts, stats)

	return stats, nil
}

func applyConfigDefaults(opts *Options) {
	if opts.NumResponses <= 0 {
		if value, ok := config.GetConfig("defaults.num_responses"); ok {
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				opts.NumResponses = parsed
			}
		}
		if opts.NumResponses <= 0 {
			opts.NumResponses = defaultNumResponses
		}
	}
	if opts.Temperature < 0 {
		opts.Temperature = 0
	} else if opts.Temperature == 0 {
		if value, ok := config.GetConfig("defaults.temperature"); ok {
			if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
				opts.Temperature = parsed
			}
		}
		if opts.Temperature == 0 {
			opts.Temperature = defaultTemperature
		}
	}
	if opts.Timeout <= 0 {
		if value, ok := config.GetConfig("defaults.timeout_seconds"); ok {
			if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
				opts.Timeout = time.Duration(parsed * float64(time.Second))
			}
		}
		if opts.Timeout <= 0 {
			opts.Timeout = defaultTimeout
		}
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	} else if opts.Delay == 0 {
		if value, ok := config.GetConfig("defaults.delay_seconds"); ok {
			if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
				opts.Delay = time.Duration(parsed * float64(time.Second))
			}
		}
		if opts.Delay == 0 {
			opts.Delay = defaultDelay
		}
	}
	if strings.TrimSpace(opts.Model) == "" {
		if value, ok := config.GetConfig("defaults.model"); ok {
			opts.Model = strings.TrimSpace(value)
		}
	}
}

func resolveBackend(opts Options) (backend.Backend, error) {
	if opts.Backend != nil {
		return opts.Backend, nil
	}
	name := strings.TrimSpace(opts.BackendName)
	if name == "" {
		if value, ok := config.GetConfig("defaults.backend"); ok {
			name = strings.TrimSpace(value)
		}
	}
	if name == "" {
		name = backend.DefaultName()
	}
	instance, ok := backend.Get(name)
	if !ok {
		return nil, fmt.Errorf("backend not found: %s", name)
	}
	return instance, nil
}

func buildMetadata(opts Options, raw, response, thinking string, generationTime time.Duration) map[string]interface{} {
	seconds := generationTime.Seconds()
	charsPerSecond := float64(0)
	tokensPerSecond := float64(0)
	if seconds > 0 {
		charsPerSecond = round2(float64(len(raw)) / seconds)
		tokensPerSecond = round2(float64(len(strings.Fields(raw))) * 1.3 / seconds)
	}

	return map[string]interface{}{
		"model":                   opts.Model,
		"temperature":             opts.Temperature,
		"prompt":                  opts.Prompt,
		"timestamp":               time.Now().Format(time.RFC3339),
		"generation_time_seconds": round3(seconds),
		"response": map[string]interface{}{
			"length_characters": len(response),
			"word_count":        len(strings.Fields(response)),
		},
		"thinking": map[string]interface{}{
			"present":           len(thinking) > 0,
			"length_characters": len(thinking),
			"word_count":        len(strings.Fields(thinking)),
		},
		"total": map[string]interface{}{
			"length_characters":          len(raw),
			"word_count":                 len(strings.Fields(raw)),
			"characters_per_second":      charsPerSecond,
			"tokens_per_second_estimate": tokensPerSecond,
		},
	}
}

func recordRun(opts Options, stats Stats, logFile string, start time.Time) {
	name := filepath.Base(stats.OutputDir)
	fields := map[string]interface{}{
		"dir":                 stats.OutputDir,
		"log_file":            logFile,
		"backend":             strings.TrimSpace(opts.BackendName),
		"model":               opts.Model,
		"prompt":              opts.Prompt,
		"temperature":         opts.Temperature,
		"responses_requested": stats.ResponsesRequested,
		"success_count":       stats.SuccessCount,
		"thinking_count":      stats.ThinkingCount,
		"start_response_num":  stats.StartResponseNum,
		"end_response_num":    stats.EndResponseNum,
		"time_taken_seconds":  round3(stats.TimeTaken.Seconds()),
		"started_at":          start.Format(time.RFC3339),
		"finished_at":         time.Now().Format(time.RFC3339),
	}
	if err := history.RecordRun(name, fields); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not record run: %v\n", err)
	}
}

func sendWebhook(ctx context.Context, opts Options, stats Stats) {
	webhook := strings.TrimSpace(opts.Webhook)
	if webhook == "" {
		return
	}

	name := filepath.Base(stats.OutputDir)
	var err error
	if stats.SuccessCount == stats.ResponsesRequested {
		err = notify.NotifyComplete(ctx, notify.CompleteOptions{
			RunName:    name,
			WebhookURL: webhook,
			OutputDir:  stats.OutputDir,
			Model:      opts.Model,
			Responses:  stats.SuccessCount,
			Duration:   stats.TimeTaken,
		})
	} else {
		err = notify.NotifyFailed(ctx, notify.FailedOptions{
			RunName:    name,
			WebhookURL: webhook,
			OutputDir:  stats.OutputDir,
			Model:      opts.Model,
			Responses:  stats.SuccessCount,
			Requested:  stats.ResponsesRequested,
			Duration:   stats.TimeTaken,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: webhook notification failed: %v\n", err)
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}

type logWriter struct {
	writer io.Writer
	closer io.Closer
}

func openLogWriter(path string) (*logWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &logWriter{writer: file, closer: file}, nil
}

func (l *logWriter) Write(p []byte) (int, error) {
	if l == nil || l.writer == nil {
		return 0, nil
	}
	return l.writer.Write(p)
}

func (l *logWriter) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

type logger struct {
	logWriter io.Writer
	quiet     bool
}

func newLogger(writer io.Writer, quiet bool) *logger {
	return &logger{logWriter: writer, quiet: quiet}
}

func (l *logger) Line(message string) {
	line := message + "\n"
	if !l.quiet {
		_, _ = io.WriteString(os.Stdout, line)
	}
	if l.logWriter != nil {
		_, _ = l.logWriter.Write([]byte(line))
	}
}
