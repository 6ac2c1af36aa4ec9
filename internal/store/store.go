package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrStoreNotFound   = errors.New("store directory does not exist")
	ErrNoResponseFiles = errors.New("no response files found")
)

// Record is the four-part artifact set written for one completion.
type Record struct {
	ResponseNum int
	Response    string
	Thinking    string
	Raw         string
	Metadata    map[string]interface{}
}

var responseNamePattern = regexp.MustCompile(`^response_(\d+)\.txt$`)

// ResponseFile returns the response file name for an identifier.
func ResponseFile(num int) string {
	return fmt.Sprintf("response_%d.txt", num)
}

// ThinkingFile returns the thinking file name for an identifier.
func ThinkingFile(num int) string {
	return fmt.Sprintf("thinking_%d.txt", num)
}

// RawOutputFile returns the raw output file name for an identifier.
func RawOutputFile(num int) string {
	return fmt.Sprintf("raw_output_%d.txt", num)
}

// MetaFile returns the metadata file name for an identifier.
func MetaFile(num int) string {
	return fmt.Sprintf("meta_%d.json", num)
}

// ParseResponseNum extracts the identifier from a response file basename.
func ParseResponseNum(name string) (int, error) {
	match := responseNamePattern.FindStringSubmatch(filepath.Base(name))
	if match == nil {
		return 0, fmt.Errorf("not a response file name: %s", name)
	}
	num, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("parse response number from %s: %w", name, err)
	}
	return num, nil
}

// ListResponseFiles returns the sorted basenames of all response files
// in dir. It fails when dir does not exist or contains no response files.
func ListResponseFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "response_*.txt"))
	if err != nil {
		return nil, fmt.Errorf("list response files: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w in: %s", ErrNoResponseFiles, dir)
	}

	names := make([]string, 0, len(matches))
	for _, match := range matches {
		names = append(names, filepath.Base(match))
	}
	sort.Strings(names)
	return names, nil
}

// MissingFilesError reports which of a record's four files are absent.
type MissingFilesError struct {
	ResponseNum int
	Missing     []string
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("missing files for response #%d: %s", e.ResponseNum, strings.Join(e.Missing, ", "))
}

// Load reads the four files for one identifier into a Record. All four
// must exist and decode; otherwise no record is produced. The record's
// response number is injected into metadata only when the metadata file
// does not already carry one.
func Load(dir string, num int) (Record, error) {
	record := Record{ResponseNum: num}

	names := []string{ResponseFile(num), ThinkingFile(num), RawOutputFile(num), MetaFile(num)}
	missing := []string{}
	for _, name := range names {
		if !fileExists(filepath.Join(dir, name)) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return record, &MissingFilesError{ResponseNum: num, Missing: missing}
	}

	response, err := readTextFile(filepath.Join(dir, ResponseFile(num)))
	if err != nil {
		return record, err
	}
	thinking, err := readTextFile(filepath.Join(dir, ThinkingFile(num)))
	if err != nil {
		return record, err
	}
	raw, err := readTextFile(filepath.Join(dir, RawOutputFile(num)))
	if err != nil {
		return record, err
	}

	metaPath := filepath.Join(dir, MetaFile(num))
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return record, fmt.Errorf("read %s: %w", metaPath, err)
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal(metaData, &metadata); err != nil {
		return record, fmt.Errorf("content of %s did not parse into an object: %w", metaPath, err)
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if _, ok := metadata["response_num"]; !ok {
		metadata["response_num"] = num
	}

	record.Response = response
	record.Thinking = thinking
	record.Raw = raw
	record.Metadata = metadata
	return record, nil
}

// Write persists all four files of a record into dir.
func Write(dir string, record Record) error {
	if record.ResponseNum <= 0 {
		return errors.New("response number must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	num := record.ResponseNum
	if err := writeTextFile(filepath.Join(dir, ResponseFile(num)), record.Response); err != nil {
		return err
	}
	if err := writeTextFile(filepath.Join(dir, ThinkingFile(num)), record.Thinking); err != nil {
		return err
	}
	if err := writeTextFile(filepath.Join(dir, RawOutputFile(num)), record.Raw); err != nil {
		return err
	}

	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	metaPath := filepath.Join(dir, MetaFile(num))
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", metaPath, err)
	}
	return nil
}

// NextResponseNum returns the identifier after the highest one already
// present in dir, or 1 when dir holds no response files yet.
func NextResponseNum(dir string) int {
	matches, err := filepath.Glob(filepath.Join(dir, "response_*.txt"))
	if err != nil {
		return 1
	}

	highest := 0
	for _, match := range matches {
		num, err := ParseResponseNum(match)
		if err != nil {
			continue
		}
		if num > highest {
			highest = num
		}
	}
	return highest + 1
}

// EnsureDir creates dir if needed and reports whether it already existed.
func EnsureDir(dir string) (bool, error) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return true, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}
	return false, nil
}

// DirName builds an output directory path under dataDir from the model,
// prompt, and temperature, with a timestamp to avoid collisions.
func DirName(dataDir, model, prompt string, temperature float64, now time.Time) string {
	tempPart := strings.ReplaceAll(fmt.Sprintf("temp%.1f", temperature), ".", "_")
	timestamp := now.Format("20060102_150405")
	name := fmt.Sprintf("output_%s_%s_%s_%s", SanitizeName(model), SanitizeName(prompt), tempPart, timestamp)
	return filepath.Join(dataDir, name)
}

var invalidNameChars = regexp.MustCompile(`[^\w\-\s]`)

// SanitizeName converts free text into a short, filesystem-safe fragment.
func SanitizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "empty_prompt"
	}
	sanitized := invalidNameChars.ReplaceAllString(name, "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	if len(sanitized) > 30 {
		sanitized = sanitized[:30]
	}
	return sanitized
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content of %s is not valid UTF-8 text", path)
	}
	return string(data), nil
}

func writeTextFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
