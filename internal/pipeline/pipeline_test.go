package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"manyshot/internal/store"
)

func writeRecord(t *testing.T, dir string, num int, response string) {
	t.Helper()
	record := store.Record{
		ResponseNum: num,
		Response:    response,
		Thinking:    "t",
		Raw:         "<think>t</think>" + response,
		Metadata:    map[string]interface{}{"model": "test-model"},
	}
	if err := store.Write(dir, record); err != nil {
		t.Fatalf("write record %d: %v", num, err)
	}
}

func collectResponses(results []map[string]interface{}) []string {
	responses := []string{}
	for _, result := range results {
		responses = append(responses, result["response"].(string))
	}
	return responses
}

func TestProcessEmptyStore(t *testing.T) {
	called := false
	_, err := Process(Options{
		Dir: t.TempDir(),
		Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
			called = true
			return map[string]interface{}{}, nil
		},
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			called = true
			return map[string]interface{}{}, nil
		},
	})
	if !errors.Is(err, store.ErrNoResponseFiles) {
		t.Fatalf("expected ErrNoResponseFiles, got %v", err)
	}
	if called {
		t.Fatalf("callables must not run against an empty store")
	}
}

func TestProcessRejectsNilFuncsBeforeIO(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := Process(Options{Dir: dir, Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) { return nil, nil }})
	if err == nil || !strings.Contains(err.Error(), "analysis function") {
		t.Fatalf("expected analysis function error, got %v", err)
	}

	_, err = Process(Options{Dir: dir, Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
		return nil, nil
	}})
	if err == nil || !strings.Contains(err.Error(), "summary function") {
		t.Fatalf("expected summary function error, got %v", err)
	}
}

func TestProcessOrdersResultsNumerically(t *testing.T) {
	tempDir := t.TempDir()
	for _, num := range []int{10, 2, 1} {
		writeRecord(t, tempDir, num, fmt.Sprintf("r%d", num))
	}

	summary, err := Process(Options{
		Dir:         tempDir,
		Diagnostics: &bytes.Buffer{},
		Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
			return map[string]interface{}{"response": response}, nil
		},
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"order": collectResponses(results)}, nil
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	order := summary["order"].([]string)
	want := []string{"r1", "r2", "r10"}
	if len(order) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), order)
	}
	for i, response := range want {
		if order[i] != response {
			t.Fatalf("expected %s at position %d, got %s", response, i, order[i])
		}
	}
}

func TestProcessSkipsIncompleteRecords(t *testing.T) {
	tempDir := t.TempDir()
	writeRecord(t, tempDir, 1, "one")
	writeRecord(t, tempDir, 2, "two")
	writeRecord(t, tempDir, 3, "three")
	if err := os.Remove(filepath.Join(tempDir, "meta_2.json")); err != nil {
		t.Fatalf("remove metadata: %v", err)
	}

	var diagnostics bytes.Buffer
	summary, err := Process(Options{
		Dir:         tempDir,
		Diagnostics: &diagnostics,
		Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
			return map[string]interface{}{"response": response}, nil
		},
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"count": len(results)}, nil
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary["count"] != 2 {
		t.Fatalf("expected 2 results, got %v", summary["count"])
	}

	output := diagnostics.String()
	if !strings.Contains(output, "response #2") {
		t.Fatalf("diagnostic should name the skipped record: %q", output)
	}
	if !strings.Contains(output, "meta_2.json") {
		t.Fatalf("diagnostic should name the missing file: %q", output)
	}
}

func TestProcessSkipsFailedAnalysis(t *testing.T) {
	tempDir := t.TempDir()
	writeRecord(t, tempDir, 1, "one")
	writeRecord(t, tempDir, 2, "two")

	var diagnostics bytes.Buffer
	summary, err := Process(Options{
		Dir:         tempDir,
		Diagnostics: &diagnostics,
		Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
			if response == "one" {
				return nil, errors.New("boom")
			}
			return map[string]interface{}{"response": response}, nil
		},
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"count": len(results)}, nil
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary["count"] != 1 {
		t.Fatalf("expected 1 result, got %v", summary["count"])
	}
	if !strings.Contains(diagnostics.String(), "Error processing response #1: boom") {
		t.Fatalf("unexpected diagnostics: %q", diagnostics.String())
	}
}

func TestProcessSentinelWhenAllFail(t *testing.T) {
	tempDir := t.TempDir()
	writeRecord(t, tempDir, 1, "one")

	summaryCalled := false
	summary, err := Process(Options{
		Dir:         tempDir,
		Diagnostics: &bytes.Buffer{},
		Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
			return nil, errors.New("always fails")
		},
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			summaryCalled = true
			return map[string]interface{}{}, nil
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summaryCalled {
		t.Fatalf("summary must not run without results")
	}
	if summary["error"] != NoResultsMessage {
		t.Fatalf("expected sentinel summary, got %v", summary)
	}
}

func TestProcessSummaryFailureIsFatal(t *testing.T) {
	tempDir := t.TempDir()
	writeRecord(t, tempDir, 1, "one")

	analyze := func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	}

	_, err := Process(Options{
		Dir:         tempDir,
		Diagnostics: &bytes.Buffer{},
		Analyze:     analyze,
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("broken reducer")
		},
	})
	if err == nil || !strings.Contains(err.Error(), "broken reducer") {
		t.Fatalf("expected summary error, got %v", err)
	}

	_, err = Process(Options{
		Dir:         tempDir,
		Diagnostics: &bytes.Buffer{},
		Analyze:     analyze,
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			return nil, nil
		},
	})
	if err == nil || !strings.Contains(err.Error(), "nil") {
		t.Fatalf("expected nil-summary error, got %v", err)
	}
}

func TestProcessPassesRecordParts(t *testing.T) {
	tempDir := t.TempDir()
	record := store.Record{
		ResponseNum: 1,
		Response:    "clean",
		Thinking:    "inner",
		Raw:         "<think>inner</think>clean",
		Metadata:    map[string]interface{}{"model": "test-model"},
	}
	if err := store.Write(tempDir, record); err != nil {
		t.Fatalf("write record: %v", err)
	}

	_, err := Process(Options{
		Dir:         tempDir,
		Diagnostics: &bytes.Buffer{},
		Analyze: func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
			if metadata["model"] != "test-model" {
				t.Errorf("unexpected metadata model: %v", metadata["model"])
			}
			if metadata["response_num"] != 1 {
				t.Errorf("expected injected response_num, got %v", metadata["response_num"])
			}
			if rawOutput != "<think>inner</think>clean" || thinking != "inner" || response != "clean" {
				t.Errorf("record parts mismatched: raw=%q thinking=%q response=%q", rawOutput, thinking, response)
			}
			return map[string]interface{}{}, nil
		},
		Summarize: func(results []map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
}
