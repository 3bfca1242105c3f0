// Package statefile persists an exported session state to disk. The file
// wraps the exported JSON document alongside a small metadata map (base URL,
// save time) so the CLI can resume a session across invocations.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
)

// FilePerms restricts state files to owner-only read/write: they carry tokens
// and key material.
const FilePerms = 0o600

// DirPerms is used when creating the state directory.
const DirPerms = 0o700

// File is the on-disk format.
type File struct {
	Session json.RawMessage   `json:"session"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Load reads a saved state file. Returns (nil, nil, nil) if the file does not
// exist.
func Load(path string) (json.RawMessage, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("statefile: reading %s: %w", path, err)
	}

	var sf File
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("statefile: decoding %s: %w", path, err)
	}

	if len(sf.Session) == 0 || string(sf.Session) == "null" {
		return nil, nil, fmt.Errorf("statefile: %s missing session field (login required)", path)
	}

	return sf.Session, sf.Meta, nil
}

// Save writes a state file atomically (write-to-temp + rename) with 0600
// permissions. session must be a JSON document.
func Save(path string, session []byte, meta map[string]string) error {
	if len(session) == 0 {
		return errors.New("statefile: refusing to save empty session")
	}

	if !json.Valid(session) {
		return errors.New("statefile: session is not valid JSON")
	}

	data, err := json.MarshalIndent(File{Session: session, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("statefile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("statefile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("statefile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("statefile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("statefile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("statefile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statefile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("statefile: renaming: %w", err)
	}

	success = true

	return nil
}

// Update replaces the session document of an existing file and merges meta
// into the stored metadata. Used when a token refresh changes the exported
// state.
func Update(path string, session []byte, meta map[string]string) error {
	_, existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading state for update: %w", err)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(path, session, existing)
}

// Remove deletes the state file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("statefile: removing %s: %w", path, err)
	}

	return nil
}
