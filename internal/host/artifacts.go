package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Artifacts names and writes files under the log directory: archived
// messages and captured media.
type Artifacts struct {
	dir string
}

// NewArtifacts returns an Artifacts rooted at dir.
func NewArtifacts(dir string) *Artifacts {
	return &Artifacts{dir: dir}
}

// Dir returns the log directory.
func (a *Artifacts) Dir() string {
	return a.dir
}

// EnsureDir creates the log directory if it does not exist.
func (a *Artifacts) EnsureDir() error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory %s: %w", a.dir, err)
	}
	return nil
}

// Reserve returns a fresh path prefix<unique>suffix for a tool to create.
func (a *Artifacts) Reserve(prefix, suffix string) string {
	return filepath.Join(a.dir, prefix+uniqueName()+suffix)
}

// Write stores data in a new file named prefix<unique>suffix and returns
// its path. An existing file is never overwritten.
func (a *Artifacts) Write(prefix, suffix string, data []byte) (string, error) {
	path := a.Reserve(prefix, suffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact %s: %w", path, err)
	}
	return path, nil
}

func uniqueName() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
