package render

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// Scratch owns every temporary file created during one render. Files are
// registered the moment they are created so that Release removes them no
// matter which stage ended the run.
type Scratch struct {
	dir string

	mu       sync.Mutex
	paths    []string
	released bool
}

// NewScratch creates a private temp directory under parent (os.TempDir when
// parent is empty).
func NewScratch(parent string) (*Scratch, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// Create opens a new file in the scratch directory and registers it before
// returning. pattern follows os.CreateTemp.
func (s *Scratch) Create(pattern string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errors.New("scratch already released")
	}

	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	s.paths = append(s.paths, f.Name())
	return f, nil
}

// Paths returns the files registered so far.
func (s *Scratch) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Release deletes every registered file and the scratch directory. Only the
// first call does any work.
func (s *Scratch) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		log.Printf("[Render] Warning: scratch cleanup incomplete for %s: %v", s.dir, errs)
		return errors.Join(errs...)
	}
	log.Printf("[Render] Removed %d temp files from %s", len(paths), s.dir)
	return nil
}
