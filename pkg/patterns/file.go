package patterns

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/binaudit/pkg/audit"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
)

// fileDocument is the on-disk layout of a patterns file.
type fileDocument struct {
	Patterns []filePattern `yaml:"patterns"`
}

type filePattern struct {
	ID             int64      `yaml:"id"`
	OrganizationID string     `yaml:"organization_id"`
	Priority       *int       `yaml:"priority"`
	Condition      string     `yaml:"condition"`
	Template       string     `yaml:"template"`
	IsActive       *bool      `yaml:"is_active"`
	ExpiresAt      *time.Time `yaml:"expires_at"`
	CreatedAt      time.Time  `yaml:"created_at"`
}

// ParseFile decodes a patterns document. Omitted priority defaults to
// DefaultPriority and omitted is_active to true. Entries without an ID are
// numbered by position.
func ParseFile(data []byte) ([]ResponsePattern, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}

	out := make([]ResponsePattern, 0, len(doc.Patterns))
	for i, fp := range doc.Patterns {
		p := ResponsePattern{
			ID:             fp.ID,
			OrganizationID: fp.OrganizationID,
			Priority:       DefaultPriority,
			Condition:      audit.Code(fp.Condition),
			Template:       fp.Template,
			IsActive:       true,
			ExpiresAt:      fp.ExpiresAt,
			CreatedAt:      fp.CreatedAt,
		}
		if code, err := audit.ParseCode(fp.Condition); err == nil {
			p.Condition = code
		}
		if fp.Priority != nil {
			p.Priority = *fp.Priority
		}
		if fp.IsActive != nil {
			p.IsActive = *fp.IsActive
		}
		if p.ID == 0 {
			p.ID = int64(i + 1)
		}
		out = append(out, p)
	}
	return out, nil
}

// FileRepository serves patterns from a YAML file, reloading it when it
// changes on disk.
type FileRepository struct {
	path   string
	logger logging.Logger

	mu       sync.RWMutex
	patterns StaticRepository
}

// NewFileRepository loads path.
func NewFileRepository(path string, log logging.Logger) (*FileRepository, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	r := &FileRepository{path: path, logger: log}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the watched file.
func (r *FileRepository) Path() string { return r.path }

// Reload rereads the file. On error the previous patterns are kept.
func (r *FileRepository) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read patterns file: %w", err)
	}
	ps, err := ParseFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}

	r.mu.Lock()
	r.patterns = ps
	r.mu.Unlock()
	return nil
}

// ListPatterns returns the organization's patterns in file order.
func (r *FileRepository) ListPatterns(ctx context.Context, organizationID string) ([]ResponsePattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.patterns.ListPatterns(ctx, organizationID)
}

// All returns every pattern in the file.
func (r *FileRepository) All() []ResponsePattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResponsePattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Watch reloads the file whenever it is written, created or renamed into
// place, and calls onReload after each successful reload. It blocks until
// ctx is cancelled.
func (r *FileRepository) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("Failed to reload response patterns",
					logging.F("path", r.path), logging.Err(err))
				continue
			}
			r.logger.Info("Reloaded response patterns", logging.F("path", r.path))
			if onReload != nil {
				onReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Pattern watcher error", logging.Err(err))
		}
	}
}
