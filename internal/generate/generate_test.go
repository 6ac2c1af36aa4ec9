package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"manyshot/internal/backend"
	"manyshot/internal/history"
	"manyshot/internal/store"
)

type fakeBackend struct {
	responses []string
	failOn    map[int]bool
	notReady  bool
	calls     int
}

func (f *fakeBackend) CheckReady() error {
	if f.notReady {
		return errors.New("backend not running")
	}
	return nil
}

func (f *fakeBackend) GetModels() []string {
	return []string{"test-model"}
}

func (f *fakeBackend) Generate(ctx context.Context, opts backend.GenerateOptions) (string, error) {
	call := f.calls
	f.calls++
	if f.failOn[call] {
		return "", errors.New("generation failed")
	}
	if call < len(f.responses) {
		return f.responses[call], nil
	}
	return fmt.Sprintf("response %d", call), nil
}

func isolateHistory(t *testing.T) {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("MANYSHOT_HISTORY_DIR", tempDir)
	t.Setenv("MANYSHOT_HISTORY_FILE", filepath.Join(tempDir, "runs.json"))
	t.Setenv("MANYSHOT_LOCK_FILE", filepath.Join(tempDir, "runs.lock"))
}

func TestExtractThinking(t *testing.T) {
	thinking, response := ExtractThinking("<think>step one</think>The answer is 4.")
	if thinking != "step one" {
		t.Fatalf("unexpected thinking: %q", thinking)
	}
	if response != "The answer is 4." {
		t.Fatalf("unexpected response: %q", response)
	}
}

func TestExtractThinkingNoTags(t *testing.T) {
	thinking, response := ExtractThinking("plain answer")
	if thinking != "" {
		t.Fatalf("expected empty thinking, got %q", thinking)
	}
	if response != "plain answer" {
		t.Fatalf("unexpected response: %q", response)
	}
}

func TestExtractThinkingMultipleSpans(t *testing.T) {
	thinking, response := ExtractThinking("<think>a</think>mid<think>b</think>end")
	if thinking != "a\n\nb" {
		t.Fatalf("unexpected thinking: %q", thinking)
	}
	if response != "midend" {
		t.Fatalf("unexpected response: %q", response)
	}
}

func TestRunWritesRecords(t *testing.T) {
	isolateHistory(t)
	outputDir := filepath.Join(t.TempDir(), "run")

	fake := &fakeBackend{responses: []string{
		"<think>why</think>first",
		"second",
	}}
	stats, err := Run(context.Background(), Options{
		Backend:      fake,
		Model:        "test-model",
		Prompt:       "hello",
		NumResponses: 2,
		OutputDir:    outputDir,
		Delay:        -1,
		Quiet:        true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.SuccessCount != 2 {
		t.Fatalf("expected 2 successes, got %d", stats.SuccessCount)
	}
	if stats.ThinkingCount != 1 {
		t.Fatalf("expected 1 thinking response, got %d", stats.ThinkingCount)
	}
	if stats.StartResponseNum != 1 || stats.EndResponseNum != 2 {
		t.Fatalf("unexpected numbering: %d..%d", stats.StartResponseNum, stats.EndResponseNum)
	}

	record, err := store.Load(outputDir, 1)
	if err != nil {
		t.Fatalf("load record 1: %v", err)
	}
	if record.Response != "first" || record.Thinking != "why" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Metadata["model"] != "test-model" {
		t.Fatalf("unexpected metadata model: %v", record.Metadata["model"])
	}
	thinkingMeta, ok := record.Metadata["thinking"].(map[string]interface{})
	if !ok || thinkingMeta["present"] != true {
		t.Fatalf("unexpected thinking metadata: %v", record.Metadata["thinking"])
	}

	if _, err := os.Stat(filepath.Join(outputDir, "manyshot.log")); err != nil {
		t.Fatalf("expected run log: %v", err)
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	isolateHistory(t)
	outputDir := filepath.Join(t.TempDir(), "run")

	fake := &fakeBackend{failOn: map[int]bool{1: true}}
	stats, err := Run(context.Background(), Options{
		Backend:      fake,
		Model:        "test-model",
		Prompt:       "hello",
		NumResponses: 3,
		OutputDir:    outputDir,
		Delay:        -1,
		Quiet:        true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.SuccessCount != 2 {
		t.Fatalf("expected 2 successes, got %d", stats.SuccessCount)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 generation attempts, got %d", fake.calls)
	}
}

func TestRunContinuesNumbering(t *testing.T) {
	isolateHistory(t)
	outputDir := filepath.Join(t.TempDir(), "run")

	for round := 0; round < 2; round++ {
		fake := &fakeBackend{}
		stats, err := Run(context.Background(), Options{
			Backend:      fake,
			Model:        "test-model",
			Prompt:       "hello",
			NumResponses: 2,
			OutputDir:    outputDir,
			Delay:        -1,
			Quiet:        true,
		})
		if err != nil {
			t.Fatalf("run %d: %v", round, err)
		}
		wantStart := round*2 + 1
		if stats.StartResponseNum != wantStart {
			t.Fatalf("round %d: expected start %d, got %d", round, wantStart, stats.StartResponseNum)
		}
	}

	names, err := store.ListResponseFiles(outputDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("expected 4 response files, got %v", names)
	}
}

func TestRunBackendNotReady(t *testing.T) {
	isolateHistory(t)

	_, err := Run(context.Background(), Options{
		Backend:      &fakeBackend{notReady: true},
		Model:        "test-model",
		Prompt:       "hello",
		NumResponses: 1,
		OutputDir:    filepath.Join(t.TempDir(), "run"),
		Quiet:        true,
	})
	if err == nil {
		t.Fatalf("expected readiness error")
	}
}

func TestRunRequiresPrompt(t *testing.T) {
	_, err := Run(context.Background(), Options{Backend: &fakeBackend{}, Model: "m"})
	if err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestRunRecordsHistory(t *testing.T) {
	isolateHistory(t)
	outputDir := filepath.Join(t.TempDir(), "run")

	_, err := Run(context.Background(), Options{
		Backend:      &fakeBackend{},
		Model:        "test-model",
		Prompt:       "hello",
		NumResponses: 1,
		OutputDir:    outputDir,
		Delay:        -1,
		Quiet:        true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	run, found, err := history.GetRun(filepath.Base(outputDir))
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !found {
		t.Fatalf("expected run to be recorded")
	}
	if history.StringField(run.Fields, "dir") != outputDir {
		t.Fatalf("unexpected run dir: %v", run.Fields["dir"])
	}
	if count, ok := history.IntField(run.Fields, "success_count"); !ok || count != 1 {
		t.Fatalf("unexpected success count: %v", run.Fields["success_count"])
	}
}

func TestRunDurationDefaults(t *testing.T) {
	opts := Options{}
	applyConfigDefaults(&opts)
	if opts.NumResponses != 25 {
		t.Fatalf("unexpected default num responses: %d", opts.NumResponses)
	}
	if opts.Temperature != 0.7 {
		t.Fatalf("unexpected default temperature: %g", opts.Temperature)
	}
	if opts.Timeout != 1000*time.Second {
		t.Fatalf("unexpected default timeout: %v", opts.Timeout)
	}
	if opts.Delay != 100*time.Millisecond {
		t.Fatalf("unexpected default delay: %v", opts.Delay)
	}

	disabled := Options{Delay: -1}
	applyConfigDefaults(&disabled)
	if disabled.Delay != 0 {
		t.Fatalf("expected disabled delay, got %v", disabled.Delay)
	}
}

func TestExplicitZeroTemperature(t *testing.T) {
	explicit := Options{Temperature: -1}
	applyConfigDefaults(&explicit)
	if explicit.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %g", explicit.Temperature)
	}
}

func TestRunExplicitZeroTemperature(t *testing.T) {
	isolateHistory(t)
	outputDir := filepath.Join(t.TempDir(), "run")

	stats, err := Run(context.Background(), Options{
		Backend:      &fakeBackend{},
		Model:        "test-model",
		Prompt:       "hello",
		NumResponses: 1,
		OutputDir:    outputDir,
		Temperature:  -1,
		Delay:        -1,
		Quiet:        true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Temperature != 0 {
		t.Fatalf("expected temperature 0 in stats, got %g", stats.Temperature)
	}

	record, err := store.Load(outputDir, 1)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Metadata["temperature"] != float64(0) {
		t.Fatalf("expected temperature 0 in metadata, got %v", record.Metadata["temperature"])
	}
}
