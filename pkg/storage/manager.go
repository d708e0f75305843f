package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	creatorsDirName = "Creators"
	stateDirName    = "Config"
	errorLogName    = "errors.txt"

	// MaxNameLength bounds sanitized folder and file names (in runes)
	MaxNameLength = 150
)

// Manager owns the on-disk layout under the storage root:
//
//	{root}/Creators/{Source}/{Creator}/{Service}/{post}/...
//	{root}/Config/{source}_favorites.json
//	{root}/Config/errors.txt
type Manager struct {
	root     string
	errorLog *ErrorLog
}

// NewManager creates a new storage manager
func NewManager(root string) (*Manager, error) {
	for _, dir := range []string{root, filepath.Join(root, creatorsDirName), filepath.Join(root, stateDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Manager{
		root:     root,
		errorLog: NewErrorLog(filepath.Join(root, stateDirName, errorLogName)),
	}, nil
}

// Root returns the storage root
func (m *Manager) Root() string { return m.root }

// StateDir holds snapshots and the error log
func (m *Manager) StateDir() string { return filepath.Join(m.root, stateDirName) }

// ErrorLog returns the shared failure log
func (m *Manager) ErrorLog() *ErrorLog { return m.errorLog }

// SnapshotPath is the favorites snapshot file for one source
func (m *Manager) SnapshotPath(source string) string {
	return filepath.Join(m.StateDir(), strings.ToLower(source)+"_favorites.json")
}

// CreatorDir returns (and creates) the platform-scoped folder of a creator
func (m *Manager) CreatorDir(source, creatorName, service string) (string, error) {
	dir := filepath.Join(
		m.root,
		creatorsDirName,
		capitalize(SanitizeName(source, MaxNameLength)),
		capitalize(SanitizeName(creatorName, MaxNameLength)),
		capitalize(SanitizeName(service, MaxNameLength)),
	)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create creator directory: %w", err)
	}
	return dir, nil
}

// EnsureDir creates dir if missing
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Exists reports whether a regular file is present at path
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// TempPath is where an in-progress download for final is written
func TempPath(final string) string {
	return final + ".tmp"
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0644)
}

// ReadJSON decodes path into v. A missing file reports found=false.
func ReadJSON(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// SanitizeName strips characters that are invalid in file names on common
// filesystems and truncates to max runes.
func SanitizeName(name string, max int) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case strings.ContainsRune(`<>:"/\|?*`, r):
			continue
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if max > 0 && utf8.RuneCountInString(out) > max {
		out = string([]rune(out)[:max])
	}
	out = strings.TrimRight(strings.TrimSpace(out), ".")
	if out == "" || out == "." || out == ".." {
		return ""
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return "_"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
