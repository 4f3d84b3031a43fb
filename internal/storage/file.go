package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aizatto/ical-debugger/internal/fsutil"
	"github.com/aizatto/ical-debugger/internal/model"
)

// fileDocument is the on-disk YAML layout.
type fileDocument struct {
	Subscriptions []model.Subscription `yaml:"subscriptions"`
}

// File stores subscriptions in a YAML file, rewritten atomically on
// every Save.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a YAML-backed repository. The file is created lazily on
// the first Save.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("subscriptions path is empty")
	}
	return &File{path: path}, nil
}

// Load reads the subscription list. A missing file is an empty list.
func (f *File) Load(_ context.Context) ([]model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Subscription{}, nil
		}
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	if doc.Subscriptions == nil {
		doc.Subscriptions = []model.Subscription{}
	}
	return doc.Subscriptions, nil
}

// Save rewrites the file atomically with 0600 permissions.
func (f *File) Save(_ context.Context, subs []model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(fileDocument{Subscriptions: subs})
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	return fsutil.WriteFileAtomic(f.path, data, 0o600)
}

func (f *File) Close() error { return nil }
