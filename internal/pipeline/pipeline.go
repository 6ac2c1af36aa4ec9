package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"manyshot/internal/store"
)

// AnalysisFunc reduces one loaded record to a result map. The pipeline
// calls it once per usable record with the record's metadata, the raw
// model output, the extracted thinking text, and the cleaned response.
type AnalysisFunc func(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error)

// SummaryFunc reduces all per-record results, in ascending response
// order, to a single summary map.
type SummaryFunc func(results []map[string]interface{}) (map[string]interface{}, error)

// NoResultsMessage is the sentinel summary value returned when every
// record was dropped or failed.
const NoResultsMessage = "No results were generated"

// Options configures one processing run over a record store.
type Options struct {
	Dir         string
	Analyze     AnalysisFunc
	Summarize   SummaryFunc
	Diagnostics io.Writer
}

// Process discovers all records in the store directory, applies the
// analysis function to each usable one, and reduces the collected
// results with the summary function.
//
// Failures scoped to a single record (missing or undecodable files, an
// analysis error) are reported on the diagnostics writer and the record
// is skipped. A failing summary function is fatal: the run has no
// meaningful result without it.
func Process(opts Options) (map[string]interface{}, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("store directory is required")
	}
	if opts.Analyze == nil {
		return nil, errors.New("analysis function is required")
	}
	if opts.Summarize == nil {
		return nil, errors.New("summary function is required")
	}

	diagnostics := opts.Diagnostics
	if diagnostics == nil {
		diagnostics = os.Stdout
	}
	warnf := func(format string, args ...interface{}) {
		fmt.Fprintf(diagnostics, format+"\n", args...)
	}

	names, err := store.ListResponseFiles(opts.Dir)
	if err != nil {
		return nil, err
	}

	nums := make([]int, 0, len(names))
	for _, name := range names {
		num, err := store.ParseResponseNum(name)
		if err != nil {
			warnf("Warning: could not extract response number from %s: %v", name, err)
			continue
		}
		nums = append(nums, num)
	}
	sort.Ints(nums)

	results := []map[string]interface{}{}
	for _, num := range nums {
		record, err := store.Load(opts.Dir, num)
		if err != nil {
			var missing *store.MissingFilesError
			if errors.As(err, &missing) {
				warnf("Warning: %v", missing)
			} else {
				warnf("Error processing response #%d: %v", num, err)
			}
			continue
		}

		result, err := opts.Analyze(record.Metadata, record.Raw, record.Thinking, record.Response)
		if err != nil {
			warnf("Error processing response #%d: %v", num, err)
			continue
		}
		if result == nil {
			warnf("Error processing response #%d: analysis function returned nil; expected a result map", num)
			continue
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return map[string]interface{}{"error": NoResultsMessage}, nil
	}

	summary, err := opts.Summarize(results)
	if err != nil {
		return nil, fmt.Errorf("summary function: %w", err)
	}
	if summary == nil {
		return nil, errors.New("summary function returned nil; expected a summary map")
	}
	return summary, nil
}
