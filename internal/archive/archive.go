// Package archive decides where downloaded attachments land on disk.
// The layout is <base>/<guild>/<channel>[/<thread>], every segment sanitized.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/discord_archiver/internal/sanitize"
)

const dirPerm = 0755

// DirectoryError represents a failure to create or access part of the
// archive tree (permissions, invalid path). It aborts the affected job.
type DirectoryError struct {
	Path string // The directory that could not be created
	Err  error  // Underlying error, if any
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("failed to create archive directory %q: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// Layout builds archive directories under a fixed base directory.
type Layout struct {
	baseDir string
}

func NewLayout(baseDir string) *Layout {
	return &Layout{baseDir: baseDir}
}

// BaseDir returns the configured archive root.
func (l *Layout) BaseDir() string {
	return l.baseDir
}

// Ensure builds the directory for a guild/channel (and optional thread) and
// creates it if absent. Creating an existing directory is not an error.
func (l *Layout) Ensure(guildName, channelName, threadName string) (string, error) {
	segments := []string{l.baseDir, sanitize.Filename(guildName), sanitize.Filename(channelName)}
	if threadName != "" {
		segments = append(segments, sanitize.Filename(threadName))
	}

	dir := filepath.Join(segments...)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", &DirectoryError{Path: dir, Err: err}
	}

	return dir, nil
}

// UniquePath returns a collision-free path for filename inside dir. When the
// name is taken it probes stem_1.ext, stem_2.ext, ... in order. The stat-then-
// use race with concurrent external writers is accepted; downloads for one
// user are serialized so the archiver never races with itself.
func UniquePath(dir, filename string) string {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		return path
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
