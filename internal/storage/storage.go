// Package storage persists the subscription list.
package storage

import (
	"context"
	"fmt"

	"github.com/aizatto/ical-debugger/internal/model"
)

// Repository loads and saves the whole ordered subscription list. Save
// replaces whatever was stored before.
type Repository interface {
	Load(ctx context.Context) ([]model.Subscription, error)
	Save(ctx context.Context, subs []model.Subscription) error
	Close() error
}

const (
	DriverYAML   = "yaml"
	DriverSQLite = "sqlite"
)

// Open returns the repository for driver, rooted at path.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverYAML, "":
		return NewFile(path)
	case DriverSQLite:
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
