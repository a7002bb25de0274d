package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ResponseArchive stores raw detector responses on disk, one
// zstd-compressed file per run. Fallback results keep only a summary in
// the audit log; the archive retains the full response for diagnosis.
type ResponseArchive struct {
	dir string
}

// NewResponseArchive creates an archive rooted at dir.
func NewResponseArchive(dir string) (*ResponseArchive, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".authwatch", "responses")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &ResponseArchive{dir: dir}, nil
}

// Store compresses and writes the raw response for the given run.
func (a *ResponseArchive) Store(runID, raw string) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	path := a.path(runID)
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := enc.Write([]byte(raw)); err != nil {
		enc.Close()
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close archive file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename archive file: %w", err)
	}
	return nil
}

// Load reads and decompresses the raw response for the given run.
func (a *ResponseArchive) Load(runID string) (string, error) {
	file, err := os.Open(a.path(runID))
	if err != nil {
		return "", fmt.Errorf("open archive file: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}
	return string(data), nil
}

func (a *ResponseArchive) path(runID string) string {
	return filepath.Join(a.dir, runID+".txt.zst")
}
