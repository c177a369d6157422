// Package file provides file-based persistence for processes, keeping all state in one JSON document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/portal-processes/pkg/persistence/memory"
)

const stateFile = "processes.json"

// Persistence serves reads from memory and rewrites the state file on every committed write.
type Persistence struct {
	*memory.Store

	root string
}

// NewPersistence loads the state stored under root, creating the directory if needed.
func NewPersistence(root string, opts ...memory.Option) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(cleanRoot, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence directory: %w", err)
	}

	fp := &Persistence{root: cleanRoot}

	snapshot, err := fp.load()
	if err != nil {
		return nil, err
	}

	opts = append(opts, memory.WithSnapshot(snapshot), memory.WithCommitHook(fp.write))
	fp.Store = memory.NewStore(opts...)

	return fp, nil
}

// Path returns the location of the state file.
func (fp *Persistence) Path() string {
	return filepath.Join(fp.root, stateFile)
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) load() (memory.Snapshot, error) {
	var snapshot memory.Snapshot

	data, err := os.ReadFile(fp.Path())
	if errors.Is(err, os.ErrNotExist) {
		return snapshot, nil
	}

	if err != nil {
		return snapshot, fmt.Errorf("failed to read state file: %w", err)
	}

	err = json.Unmarshal(data, &snapshot)
	if err != nil {
		return snapshot, fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	return snapshot, nil
}

// write replaces the state file through a rename so readers never see a partial document.
func (fp *Persistence) write(snapshot memory.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(fp.root, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	err = os.Rename(tmp.Name(), fp.Path())
	if err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}
