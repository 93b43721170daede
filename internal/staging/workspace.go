package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the scratch directory of one job.
type Workspace struct {
	Dir string
}

// Prepare creates <root>/<jobID>. An existing directory is an error: job IDs
// are unique, so a leftover means a previous run was not cleaned up.
func Prepare(root, jobID string) (Workspace, error) {
	root = strings.TrimSpace(root)
	jobID = strings.TrimSpace(jobID)
	if root == "" || jobID == "" {
		return Workspace{}, errors.New("staging: root and job id are required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return Workspace{}, fmt.Errorf("staging: invalid job id %q", jobID)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("staging: create root: %w", err)
	}
	dir := filepath.Join(root, jobID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("staging: create job dir: %w", err)
	}
	return Workspace{Dir: dir}, nil
}

// VideoPath is where the video stream is fetched to.
func (w Workspace) VideoPath(ext string) string { return filepath.Join(w.Dir, "video"+ext) }

// AudioPath is where the audio stream is fetched to.
func (w Workspace) AudioPath(ext string) string { return filepath.Join(w.Dir, "audio"+ext) }

// MuxedPath is the muxer's output inside the workspace.
func (w Workspace) MuxedPath(ext string) string { return filepath.Join(w.Dir, "muxed"+ext) }

// Remove deletes the workspace and everything in it.
func (w Workspace) Remove() error {
	if strings.TrimSpace(w.Dir) == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: remove %s: %w", w.Dir, err)
	}
	return nil
}

// RemoveFiles deletes individual scratch files, ignoring ones already gone.
func RemoveFiles(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
