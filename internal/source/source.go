// Package source loads release text from the places changelogd can read:
// local files, stdin, git commit history, and GitHub releases.
//
// Sources produce untrusted text. Nothing here sanitizes or validates;
// loaded content goes through the threat scanner before any prompt sees
// it.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoContent is returned when a source loads successfully but finds
// nothing to distill.
var ErrNoContent = errors.New("no content found")

// Source loads raw release text for distillation.
type Source interface {
	Load(ctx context.Context) (string, error)
}

// FileSource reads release text from a file, or from stdin when the path
// is "-" or empty.
type FileSource struct {
	Path string

	// Stdin overrides os.Stdin in tests.
	Stdin io.Reader
}

// NewFile creates a FileSource for path; "-" selects stdin.
func NewFile(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load reads the whole file (or stdin) and returns it verbatim.
func (s *FileSource) Load(ctx context.Context) (string, error) {
	var content []byte
	var err error

	if s.Path == "" || s.Path == "-" {
		in := s.Stdin
		if in == nil {
			in = os.Stdin
		}
		content, err = io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(s.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", s.Path, err)
		}
	}

	text := string(content)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", s.describe(), ErrNoContent)
	}
	return text, nil
}

func (s *FileSource) describe() string {
	if s.Path == "" || s.Path == "-" {
		return "stdin"
	}
	return s.Path
}

var _ Source = (*FileSource)(nil)
