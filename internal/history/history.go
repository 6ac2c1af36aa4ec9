package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"
)

// Run represents one recorded sampling run with free-form fields.
type Run struct {
	Name   string
	Fields map[string]interface{}
}

var ErrLockTimeout = errors.New("history lock timeout")

type historyFile struct {
	Runs map[string]map[string]interface{} `json:"runs"`
}

type lockHandle struct {
	method string
	file   *os.File
	dir    string
}

// InitHistory initializes the history file and directory.
func InitHistory() error {
	return withLock(func() error {
		return initHistoryUnlocked()
	})
}

// GetRun returns a recorded run by name.
func GetRun(name string) (Run, bool, error) {
	if name == "" {
		return Run{}, false, errors.New("run name is required")
	}

	var run Run
	var found bool
	err := withLock(func() error {
		if err := initHistoryUnlocked(); err != nil {
			return err
		}

		history, err := readHistoryUnlocked()
		if err != nil {
			return err
		}

		fields, ok := history.Runs[name]
		if !ok {
			found = false
			return nil
		}

		run = Run{
			Name:   name,
			Fields: ensureNameField(name, copyFields(fields)),
		}
		found = true
		return nil
	})

	return run, found, err
}

// RecordRun upserts a run with the provided fields.
func RecordRun(name string, fields map[string]interface{}) error {
	if name == "" {
		return errors.New("run name is required")
	}

	return withLock(func() error {
		if err := initHistoryUnlocked(); err != nil {
			return err
		}

		history, err := readHistoryUnlocked()
		if err != nil {
			return err
		}

		existing := history.Runs[name]
		if existing == nil {
			existing = map[string]interface{}{}
		}

		existing["name"] = name
		for key, value := range fields {
			existing[key] = value
		}

		history.Runs[name] = existing
		return writeHistoryFile(history)
	})
}

// DeleteRun removes a recorded run by name.
func DeleteRun(name string) error {
	if name == "" {
		return errors.New("run name is required")
	}

	return withLock(func() error {
		if err := initHistoryUnlocked(); err != nil {
			return err
		}

		history, err := readHistoryUnlocked()
		if err != nil {
			return err
		}

		if _, ok := history.Runs[name]; !ok {
			return fmt.Errorf("run %q not found", name)
		}

		delete(history.Runs, name)
		return writeHistoryFile(history)
	})
}

// ListRuns returns all recorded runs, newest first.
func ListRuns() ([]Run, error) {
	var runs []Run
	err := withLock(func() error {
		if err := initHistoryUnlocked(); err != nil {
			return err
		}

		history, err := readHistoryUnlocked()
		if err != nil {
			return err
		}

		runs = make([]Run, 0, len(history.Runs))
		for name, fields := range history.Runs {
			runs = append(runs, Run{
				Name:   name,
				Fields: ensureNameField(name, copyFields(fields)),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		left := startedAt(runs[i])
		right := startedAt(runs[j])
		if left.Equal(right) {
			return runs[i].Name > runs[j].Name
		}
		return left.After(right)
	})
	return runs, nil
}

// LastRun returns the most recently started run.
func LastRun() (Run, bool, error) {
	runs, err := ListRuns()
	if err != nil {
		return Run{}, false, err
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}

// Prune keeps the newest keep runs and drops the rest, returning the
// names of the removed entries.
func Prune(keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("invalid keep count %d", keep)
	}

	runs, err := ListRuns()
	if err != nil {
		return nil, err
	}
	if len(runs) <= keep {
		return []string{}, nil
	}

	removed := []string{}
	err = withLock(func() error {
		history, err := readHistoryUnlocked()
		if err != nil {
			return err
		}

		for _, run := range runs[keep:] {
			if _, ok := history.Runs[run.Name]; !ok {
				continue
			}
			delete(history.Runs, run.Name)
			removed = append(removed, run.Name)
		}

		if len(removed) == 0 {
			return nil
		}
		return writeHistoryFile(history)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func startedAt(run Run) time.Time {
	value := stringField(run.Fields, "started_at")
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func withLock(fn func() error) error {
	handle, err := acquireLock()
	if err != nil {
		return err
	}
	defer handle.release()
	return fn()
}

func acquireLock() (*lockHandle, error) {
	dir := historyDir()
	if dir == "" {
		return nil, errors.New("history directory unavailable")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	timeout := lockTimeout()
	lockFile := lockFilePath()
	file, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o644)
	if err == nil {
		err = tryFlock(file, timeout)
		if err == nil {
			return &lockHandle{method: "flock", file: file}, nil
		}

		if !isFlockUnsupported(err) {
			file.Close()
			return nil, err
		}

		file.Close()
	}

	return acquireDirLock(timeout)
}

func (handle *lockHandle) release() {
	if handle == nil {
		return
	}

	if handle.method == "flock" {
		if handle.file != nil {
			_ = syscall.Flock(int(handle.file.Fd()), syscall.LOCK_UN)
			_ = handle.file.Close()
		}
		return
	}

	if handle.method == "mkdir" {
		if handle.dir != "" {
			_ = os.RemoveAll(handle.dir)
		}
	}
}

func tryFlock(file *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return nil
		}

		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			if time.Now().After(deadline) {
				return ErrLockTimeout
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		return err
	}
}

func acquireDirLock(timeout time.Duration) (*lockHandle, error) {
	lockDir := lockDirPath()
	if lockDir == "" {
		return nil, errors.New("lock directory unavailable")
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := os.Mkdir(lockDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(lockDir, "pid"), []byte(strconv.Itoa(os.Getpid())), 0o644)
			return &lockHandle{method: "mkdir", dir: lockDir}, nil
		}

		if info, err := os.Stat(lockDir); err == nil && info.IsDir() {
			pid := readPid(filepath.Join(lockDir, "pid"))
			if pid == 0 || !processAlive(pid) {
				_ = os.RemoveAll(lockDir)
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		time.Sleep(100 * time.Millisecond)
	}
}

func initHistoryUnlocked() error {
	dir := historyDir()
	if dir == "" {
		return errors.New("history directory unavailable")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	path := historyFilePath()
	if path == "" {
		return errors.New("history file path unavailable")
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return writeHistoryFile(historyFile{Runs: map[string]map[string]interface{}{}})
		}
		return fmt.Errorf("stat history file: %w", err)
	}

	if _, err := readHistoryUnlocked(); err != nil {
		return writeHistoryFile(historyFile{Runs: map[string]map[string]interface{}{}})
	}

	return nil
}

func readHistoryUnlocked() (historyFile, error) {
	path := historyFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return historyFile{}, fmt.Errorf("read history file: %w", err)
	}

	var history historyFile
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&history); err != nil {
		return historyFile{}, fmt.Errorf("decode history file: %w", err)
	}

	if history.Runs == nil {
		history.Runs = map[string]map[string]interface{}{}
	}

	return history, nil
}

func writeHistoryFile(history historyFile) error {
	if history.Runs == nil {
		history.Runs = map[string]map[string]interface{}{}
	}

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if len(data) == 0 {
		return errors.New("refusing to write empty history")
	}

	path := historyFilePath()
	if path == "" {
		return errors.New("history file path unavailable")
	}

	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}

	return nil
}

func ensureNameField(name string, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["name"] = name
	return fields
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return map[string]interface{}{}
	}
	copied := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func stringField(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	value, ok := fields[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(value)
	}
}

// StringField exposes a run field as a string.
func StringField(fields map[string]interface{}, key string) string {
	return stringField(fields, key)
}

// IntField exposes a run field as an int.
func IntField(fields map[string]interface{}, key string) (int, bool) {
	if fields == nil {
		return 0, false
	}
	value, ok := fields[key]
	if !ok || value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	case string:
		parsed, err := strconv.Atoi(typed)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}

func readPid(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	parsed, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0
	}
	return parsed
}

func lockTimeout() time.Duration {
	if value := os.Getenv("MANYSHOT_LOCK_TIMEOUT"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Second
		}
	}
	return 10 * time.Second
}

func historyDir() string {
	if value := os.Getenv("MANYSHOT_HISTORY_DIR"); value != "" {
		return value
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}

	return filepath.Join(home, ".config", "manyshot")
}

func historyFilePath() string {
	if value := os.Getenv("MANYSHOT_HISTORY_FILE"); value != "" {
		return value
	}

	dir := historyDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "runs.json")
}

func lockFilePath() string {
	if value := os.Getenv("MANYSHOT_LOCK_FILE"); value != "" {
		return value
	}

	dir := historyDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "runs.lock")
}

func lockDirPath() string {
	if value := os.Getenv("MANYSHOT_LOCK_DIR"); value != "" {
		return value
	}

	lockFile := lockFilePath()
	if lockFile == "" {
		return ""
	}

	return lockFile + ".dir"
}

func isFlockUnsupported(err error) bool {
	return errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EOPNOTSUPP) || errors.Is(err, syscall.ENOTSUP)
}
